// Package testutil provides shared test helpers: debug-route requests and a
// loopback actuator host speaking the rig's line protocol.
package testutil

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// LocalHostRequest creates an httptest request that appears to come from
// localhost, which tsweb's debug access check requires.
func LocalHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// HostOptions selects how an ActuatorHost misbehaves.
type HostOptions struct {
	// Silent hosts read packets but never acknowledge them.
	Silent bool
	// CloseAfter drops the connection, unacknowledged, on receiving that
	// many packets when positive.
	CloseAfter int
}

// ActuatorHost is a loopback TCP host that records every packet and, by
// default, echoes it back.
type ActuatorHost struct {
	Addr string

	opts     HostOptions
	ln       net.Listener
	mu       sync.Mutex
	received []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

// StartActuatorHost listens on an ephemeral loopback port until the test
// ends.
func StartActuatorHost(t testing.TB, opts HostOptions) *ActuatorHost {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := &ActuatorHost{Addr: ln.Addr().String(), opts: opts, ln: ln}
	h.wg.Add(1)
	go h.accept()
	t.Cleanup(h.Close)
	return h
}

func (h *ActuatorHost) accept() {
	defer h.wg.Done()
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		h.wg.Add(1)
		go h.serve(conn)
	}
}

func (h *ActuatorHost) serve(conn net.Conn) {
	defer h.wg.Done()
	defer conn.Close()
	scan := bufio.NewScanner(conn)
	count := 0
	for scan.Scan() {
		line := scan.Text()
		count++
		h.mu.Lock()
		h.received = append(h.received, line)
		h.mu.Unlock()
		if h.opts.CloseAfter > 0 && count >= h.opts.CloseAfter {
			return
		}
		if h.opts.Silent {
			continue
		}
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			return
		}
	}
}

// Received returns the packets seen so far.
func (h *ActuatorHost) Received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.received))
	copy(out, h.received)
	return out
}

// Close stops the listener and drops every connection.
func (h *ActuatorHost) Close() {
	h.ln.Close()
	h.mu.Lock()
	for _, c := range h.conns {
		c.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
