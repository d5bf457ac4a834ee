package testutil

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestLocalHostRequest(t *testing.T) {
	req := LocalHostRequest(http.MethodGet, "/debug/", nil)
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q, want loopback", req.RemoteAddr)
	}
}

func TestActuatorHostEchoes(t *testing.T) {
	h := StartActuatorHost(t, HostOptions{})

	conn, err := net.DialTimeout("tcp", h.Addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("1 2 3 4 5\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "1 2 3 4 5\n" {
		t.Errorf("echo = %q", line)
	}
	if got := h.Received(); len(got) != 1 || got[0] != "1 2 3 4 5" {
		t.Errorf("Received() = %q", got)
	}
}
