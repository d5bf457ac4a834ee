// Package link exchanges actuator setpoints with the remote actuator host.
// Each exchange is a newline-terminated request followed by a blocking read
// of one newline-terminated acknowledgement; only one exchange is in flight
// at a time.
package link

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/owl-rig/owl/internal/monitoring"
	"github.com/owl-rig/owl/internal/rig"
)

// DefaultTimeout bounds one request/reply exchange.
const DefaultTimeout = 2 * time.Second

// ErrLinkFailure is matched by every *LinkError.
var ErrLinkFailure = errors.New("actuator link failure")

// ErrShortWrite is reported when the transport accepts only part of a packet.
var ErrShortWrite = errors.New("short write")

// LinkError describes a failed exchange. It unwraps to both ErrLinkFailure
// and the underlying cause.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("actuator link %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() []error { return []error{ErrLinkFailure, e.Err} }

// Conn is the transport capability a Link needs. Connection setup lives in
// DialTCP and OpenSerial; teardown is Close.
type Conn interface {
	io.ReadWriter
	io.Closer
}

// deadlineConn is implemented by network connections.
type deadlineConn interface {
	SetDeadline(t time.Time) error
}

// readTimeoutConn is implemented by serial ports.
type readTimeoutConn interface {
	SetReadTimeout(d time.Duration) error
}

// Link is the actuator command channel over a transport T.
type Link[T Conn] struct {
	conn    T
	reader  *bufio.Reader
	timeout time.Duration

	mu     sync.Mutex
	broken error

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
}

// Sender is the part of a Link the control loop depends on.
type Sender interface {
	Send(ctx context.Context, sp rig.Setpoint) (string, error)
}

// New wraps conn. A timeout of zero disables the per-exchange bound; the
// context still applies.
func New[T Conn](conn T, timeout time.Duration) *Link[T] {
	return &Link[T]{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		timeout:     timeout,
		subscribers: make(map[string]chan string),
	}
}

// Send transmits sp and waits for the host's acknowledgement, which is
// returned verbatim without its line terminator. Any failure breaks the
// link: later calls fail without touching the transport.
func (l *Link[T]) Send(ctx context.Context, sp rig.Setpoint) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.broken != nil {
		return "", &LinkError{Op: "send", Err: l.broken}
	}
	if err := ctx.Err(); err != nil {
		return "", l.fail(ctx, "send", err)
	}

	packet := Format(sp)
	disarm := l.arm(ctx)
	defer disarm()

	n, err := l.conn.Write([]byte(packet + "\n"))
	if err != nil {
		return "", l.fail(ctx, "write", err)
	}
	if n != len(packet)+1 {
		return "", l.fail(ctx, "write", ErrShortWrite)
	}
	l.publish("> " + packet)

	line, err := l.reader.ReadString('\n')
	if err != nil {
		return "", l.fail(ctx, "read", err)
	}
	reply := strings.TrimRight(line, "\r\n")
	l.publish("< " + reply)

	if _, err := Parse(reply); err != nil {
		monitoring.Debugf("actuator acknowledgement is not a setpoint: %v", err)
	}
	return reply, nil
}

// fail records the link as broken and builds the error returned to the
// caller. A cancelled context takes precedence over the transport error it
// caused.
func (l *Link[T]) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	l.broken = err
	return &LinkError{Op: op, Err: err}
}

// arm applies the exchange deadline to the transport and, where the
// transport supports deadlines, interrupts a blocked exchange when ctx is
// cancelled. The returned func must be called when the exchange ends.
func (l *Link[T]) arm(ctx context.Context) func() {
	var deadline time.Time
	if l.timeout > 0 {
		deadline = time.Now().Add(l.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	switch c := any(l.conn).(type) {
	case deadlineConn:
		if err := c.SetDeadline(deadline); err != nil {
			monitoring.Logf("failed to set link deadline: %v", err)
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				// a deadline in the past unblocks pending I/O immediately
				c.SetDeadline(time.Unix(1, 0))
			case <-done:
			}
		}()
		return func() { close(done) }
	case readTimeoutConn:
		if !deadline.IsZero() {
			if err := c.SetReadTimeout(time.Until(deadline)); err != nil {
				monitoring.Logf("failed to set link read timeout: %v", err)
			}
		}
	}
	return func() {}
}

// Broken returns the error that broke the link, or nil.
func (l *Link[T]) Broken() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.broken
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every exchanged line, prefixed with
// "> " for requests and "< " for replies. Slow subscribers miss lines.
func (l *Link[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (l *Link[T]) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

func (l *Link[T]) publish(line string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes all subscriber channels and the transport.
func (l *Link[T]) Close() error {
	l.subscriberMu.Lock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	l.subscriberMu.Unlock()
	return l.conn.Close()
}
