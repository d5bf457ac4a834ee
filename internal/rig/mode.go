package rig

import (
	"fmt"
	"strings"
)

// Mode selects what a control cycle does with its frame.
type Mode int

const (
	// ModeAcquire is the initial mode: the operator jogs the rig and captures
	// a template.
	ModeAcquire Mode = iota
	// ModeTrack servos the left eye onto the captured template.
	ModeTrack
)

func (m Mode) String() string {
	switch m {
	case ModeAcquire:
		return "ACQUIRE"
	case ModeTrack:
		return "TRACK"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ACQUIRE":
		return ModeAcquire, nil
	case "TRACK":
		return ModeTrack, nil
	default:
		return ModeAcquire, fmt.Errorf("unknown mode %q", value)
	}
}

// MarshalText renders the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
