package link

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// MockConn is an in-memory Conn for tests. By default every written packet
// is echoed back as the reply, the way the bench host behaves.
type MockConn struct {
	mu sync.Mutex

	// Echo queues each write as the next reply.
	Echo bool
	// WriteError is returned by every Write once set.
	WriteError error
	// ReadError is returned by every Read once set.
	ReadError error
	// FailAfter makes writes fail with WriteError after this many
	// successful writes when positive.
	FailAfter int

	writes  []string
	replies bytes.Buffer
	closed  bool
}

// NewMockConn returns an echoing MockConn.
func NewMockConn() *MockConn {
	return &MockConn{Echo: true}
}

func (m *MockConn) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.WriteError != nil && (m.FailAfter <= 0 || len(m.writes) >= m.FailAfter) {
		return 0, m.WriteError
	}
	m.writes = append(m.writes, strings.TrimRight(string(p), "\n"))
	if m.Echo {
		m.replies.Write(p)
	}
	return len(p), nil
}

func (m *MockConn) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.ReadError != nil {
		return 0, m.ReadError
	}
	if m.replies.Len() == 0 {
		return 0, io.EOF
	}
	return m.replies.Read(p)
}

// QueueReply appends raw bytes to the reply stream.
func (m *MockConn) QueueReply(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies.WriteString(s)
}

// Writes returns the packets written so far without terminators.
func (m *MockConn) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mock conn already closed")
	}
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
