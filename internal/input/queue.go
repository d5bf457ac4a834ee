// Package input collects operator key presses from any number of producers
// (terminal, debug HTTP route) and hands them to the control loop one per
// cycle.
package input

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/owl-rig/owl/internal/control"
	"github.com/owl-rig/owl/internal/monitoring"
)

// DefaultDepth is the number of pending keys a Queue holds.
const DefaultDepth = 32

// Queue is a bounded FIFO of keys. Push never blocks: keys arriving while
// the queue is full are dropped.
type Queue struct {
	keys chan control.Key
}

// NewQueue returns a queue holding up to depth keys.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Queue{keys: make(chan control.Key, depth)}
}

// Push enqueues k and reports whether it was accepted.
func (q *Queue) Push(k control.Key) bool {
	if k == control.KeyNone {
		return false
	}
	select {
	case q.keys <- k:
		return true
	default:
		monitoring.Logf("input queue full, dropping key %s", k)
		return false
	}
}

// Poll returns the oldest pending key, or KeyNone without waiting.
func (q *Queue) Poll() control.Key {
	select {
	case k := <-q.keys:
		return k
	default:
		return control.KeyNone
	}
}

// Len returns the number of pending keys.
func (q *Queue) Len() int { return len(q.keys) }

// ReadLines feeds q from r until r is exhausted or ctx is done. Each line
// is either a key name ("up", "esc") or a run of key characters ("wwd"),
// each of which is pushed in order. Terminal arrow sequences map to the jog
// keys; a bare ESC byte cancels only when it is the whole line.
func ReadLines(ctx context.Context, r io.Reader, q *Queue) error {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, k := range lineKeys(scan.Text()) {
			q.Push(k)
		}
	}
	return scan.Err()
}

const esc = 0x1b

func lineKeys(raw string) []control.Key {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}
	if k, err := control.ParseKey(line); err == nil {
		return []control.Key{k}
	}
	var keys []control.Key
	for i := 0; i < len(line); {
		if line[i] == esc {
			k, n := escapeKey(line[i:])
			if k != control.KeyNone {
				keys = append(keys, k)
			} else {
				monitoring.Debugf("ignoring escape sequence %q", line[i:i+n])
			}
			i += n
			continue
		}
		if k := control.KeyFromCode(int(line[i])); k != control.KeyNone {
			keys = append(keys, k)
		} else {
			monitoring.Debugf("ignoring key %q", line[i])
		}
		i++
	}
	return keys
}

// escapeKey decodes the escape sequence at the start of s and returns the
// arrow key it encodes, if any, along with its length in bytes. It handles
// CSI ("\x1b[A", "\x1b[1;5A") and SS3 ("\x1bOA") forms.
func escapeKey(s string) (control.Key, int) {
	if len(s) < 2 {
		return control.KeyNone, len(s)
	}
	switch s[1] {
	case 'O':
		if len(s) < 3 {
			return control.KeyNone, len(s)
		}
		return arrowKey(s[2]), 3
	case '[':
		i := 2
		for i < len(s) && s[i] >= 0x20 && s[i] <= 0x3f {
			i++
		}
		if i == len(s) {
			return control.KeyNone, i
		}
		return arrowKey(s[i]), i + 1
	}
	return control.KeyNone, 1
}

func arrowKey(final byte) control.Key {
	switch final {
	case 'A':
		return control.KeyUp
	case 'B':
		return control.KeyDown
	case 'C':
		return control.KeyRight
	case 'D':
		return control.KeyLeft
	}
	return control.KeyNone
}
