// Package control implements the two per-cycle decision makers of the rig:
// manual acquisition (jogging, template capture, calibration snapshots) and
// proportional tracking of a matched template.
package control

import (
	"fmt"
	"strings"
)

// Key is an operator command. Anything the input layer cannot map becomes
// KeyNone, which every controller treats as a no-op.
type Key int

const (
	KeyNone Key = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyCapture
	KeySnapshot
	KeyCancel
)

// escCode is the key code delivered for the escape key.
const escCode = 27

func (k Key) String() string {
	switch k {
	case KeyNone:
		return "none"
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyLeft:
		return "left"
	case KeyRight:
		return "right"
	case KeyCapture:
		return "capture"
	case KeySnapshot:
		return "snapshot"
	case KeyCancel:
		return "cancel"
	default:
		return fmt.Sprintf("Key(%d)", int(k))
	}
}

// IsJog reports whether k moves the rig.
func (k Key) IsJog() bool {
	return k >= KeyUp && k <= KeyRight
}

// KeyFromCode maps a single-character key code to a Key.
func KeyFromCode(code int) Key {
	switch code {
	case 'w', 'W':
		return KeyUp
	case 's', 'S':
		return KeyDown
	case 'a', 'A':
		return KeyLeft
	case 'd', 'D':
		return KeyRight
	case 'c', 'C':
		return KeyCapture
	case 'j', 'J':
		return KeySnapshot
	case escCode:
		return KeyCancel
	default:
		return KeyNone
	}
}

// ParseKey accepts either a single key character or a key name such as
// "up" or "esc".
func ParseKey(s string) (Key, error) {
	if len(s) == 1 {
		if k := KeyFromCode(int(s[0])); k != KeyNone {
			return k, nil
		}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return KeyUp, nil
	case "down":
		return KeyDown, nil
	case "left":
		return KeyLeft, nil
	case "right":
		return KeyRight, nil
	case "capture":
		return KeyCapture, nil
	case "snapshot":
		return KeySnapshot, nil
	case "esc", "escape", "cancel":
		return KeyCancel, nil
	}
	return KeyNone, fmt.Errorf("unknown key %q", s)
}
