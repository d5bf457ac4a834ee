package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultPort is the TCP port the actuator host listens on.
const DefaultPort = 12345

// ErrReadTimeout is returned by a SerialConn read that saw no data within
// the configured read timeout.
var ErrReadTimeout = errors.New("serial read timeout")

// DialTCP connects to the actuator host. addr may omit the port, in which
// case DefaultPort is used.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*Link[net.Conn], error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &LinkError{Op: "dial", Err: err}
	}
	return New[net.Conn](conn, timeout), nil
}

// SerialPort is the subset of go.bug.st/serial.Port used by SerialConn.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialConn adapts a serial port to the Conn contract. go.bug.st/serial
// signals a read timeout with (0, nil); SerialConn turns that into
// ErrReadTimeout so a silent host fails the exchange instead of spinning.
type SerialConn struct {
	port SerialPort
}

// NewSerialConn wraps an open port.
func NewSerialConn(port SerialPort) *SerialConn {
	return &SerialConn{port: port}
}

func (s *SerialConn) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ErrReadTimeout
	}
	return n, err
}

func (s *SerialConn) Write(p []byte) (int, error) { return s.port.Write(p) }

// SetReadTimeout forwards to the port.
func (s *SerialConn) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		// the port treats a non-positive timeout as "block forever"
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

func (s *SerialConn) Close() error { return s.port.Close() }

// OpenSerial opens a serial-attached actuator host.
func OpenSerial(path string, opts PortOptions, timeout time.Duration) (*Link[*SerialConn], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &LinkError{Op: "open", Err: err}
	}
	return New(NewSerialConn(port), timeout), nil
}

// PortOptions describes the serial connection parameters used when opening a
// serial-attached actuator host.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}
