// Command owl-host is a bench stand-in for the actuator host. It accepts
// setpoint packets over TCP or a serial line, prints them and echoes each
// one back as the acknowledgement.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/owl-rig/owl/internal/link"
	"github.com/owl-rig/owl/internal/rig"
)

var (
	listen     = flag.String("listen", ":"+strconv.Itoa(link.DefaultPort), "TCP listen address")
	serialPath = flag.String("serial", "", "Serve on this serial device instead of TCP")
	baud       = flag.Int("baud", 115200, "Serial baud rate")
	quiet      = flag.Bool("quiet", false, "Do not print every packet")
)

type counters struct {
	packets   atomic.Int64
	malformed atomic.Int64
	outside   atomic.Int64
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stats counters
	go reportStats(ctx, &stats)

	var out io.Writer = os.Stdout
	if *quiet {
		out = io.Discard
	}

	if *serialPath != "" {
		mode, err := link.PortOptions{BaudRate: *baud}.SerialMode()
		if err != nil {
			log.Fatal(err)
		}
		port, err := serial.Open(*serialPath, mode)
		if err != nil {
			log.Fatalf("failed to open %s: %v", *serialPath, err)
		}
		defer port.Close()
		go func() {
			<-ctx.Done()
			port.Close()
		}()
		fmt.Printf("Serving on %s at %d baud\n", *serialPath, *baud)
		if err := serve(port, out, rig.DefaultLimits(), &stats); err != nil && ctx.Err() == nil {
			log.Fatalf("serial host stopped: %v", err)
		}
		return
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	fmt.Printf("Actuator host listening on %s\n", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		log.Printf("client %s connected", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			if err := serve(conn, out, rig.DefaultLimits(), &stats); err != nil {
				log.Printf("client %s: %v", conn.RemoteAddr(), err)
			}
			log.Printf("client %s disconnected", conn.RemoteAddr())
		}()
	}
}

// serve echoes every line read from rw until EOF. Lines that are not
// setpoints are still echoed.
func serve(rw io.ReadWriter, out io.Writer, limits rig.Limits, stats *counters) error {
	scan := bufio.NewScanner(rw)
	for scan.Scan() {
		line := scan.Text()
		stats.packets.Add(1)

		if sp, err := link.Parse(line); err != nil {
			stats.malformed.Add(1)
			fmt.Fprintf(out, "malformed packet %q: %v\n", line, err)
		} else {
			note := ""
			if !limits.Within(sp) {
				stats.outside.Add(1)
				note = " (outside limits)"
			}
			fmt.Fprintf(out, "%s%s\n", sp, note)
		}

		if _, err := io.WriteString(rw, line+"\n"); err != nil {
			return fmt.Errorf("echo: %w", err)
		}
	}
	if err := scan.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func reportStats(ctx context.Context, stats *counters) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := stats.packets.Load()
			if rate := total - last; rate > 0 {
				fmt.Fprintf(os.Stderr, "Received: %d packets/sec (%d total, %d malformed, %d outside limits)\n",
					rate, total, stats.malformed.Load(), stats.outside.Load())
			}
			last = total
		}
	}
}
