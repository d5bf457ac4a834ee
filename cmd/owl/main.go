// Command owl runs the two-camera tracking rig: it reads stereo frames,
// takes operator keys from the terminal and the debug server, and drives
// the actuator host over TCP or a serial line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/owl-rig/owl/internal/calib"
	"github.com/owl-rig/owl/internal/config"
	"github.com/owl-rig/owl/internal/control"
	"github.com/owl-rig/owl/internal/db"
	"github.com/owl-rig/owl/internal/input"
	"github.com/owl-rig/owl/internal/link"
	"github.com/owl-rig/owl/internal/monitoring"
	"github.com/owl-rig/owl/internal/overlay"
	"github.com/owl-rig/owl/internal/security"
	"github.com/owl-rig/owl/internal/supervisor"
	"github.com/owl-rig/owl/internal/version"
	"github.com/owl-rig/owl/internal/vision"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (defaults are built in)")
	linkKind    = flag.String("link", "", "Actuator transport: tcp or serial (overrides config)")
	addr        = flag.String("addr", "", "Actuator host address for the tcp transport (overrides config)")
	serialPort  = flag.String("serial-port", "", "Serial device for the serial transport (overrides config)")
	framesDir   = flag.String("frames", "", "Directory of side-by-side stereo images to replay")
	camera      = flag.String("camera", "", "Capture device index or URL (requires the gocv build tag)")
	engineName  = flag.String("engine", "ncc", "Correlation engine: ncc or gocv")
	listen      = flag.String("listen", "localhost:8090", "Debug HTTP listen address, empty to disable")
	dbPath      = flag.String("db", "owl.db", "SQLite catalog path, empty to disable")
	calibDir    = flag.String("calib-dir", "calib", "Directory for calibration pairs")
	overlayDir  = flag.String("overlay-dir", "", "Directory for tracking overlays, empty to disable")
	heatmap     = flag.Bool("heatmap", false, "Also render the correlation surface with each overlay")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// actuatorLink is satisfied by every Link instantiation.
type actuatorLink interface {
	link.Sender
	Close() error
	AttachAdminRoutes(mux *http.ServeMux)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	if err := run(); err != nil {
		log.Fatalf("owl: %v", err)
	}
}

func run() error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(cfg, *linkKind, *addr, *serialPort); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openSource(*framesDir, *camera, cfg.GetFrameInterval())
	if err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	defer closeSource()

	engine, err := newEngine(*engineName)
	if err != nil {
		return err
	}

	lk, err := openLink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to actuator host: %w", err)
	}
	defer lk.Close()

	var catalog *db.DB
	if *dbPath != "" {
		catalog, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer catalog.Close()
	}

	tracking, err := control.NewTracking(
		control.Gains{Kpx: cfg.GetKpx(), Kpy: cfg.GetKpy()},
		cfg.GetActuatorRangeX(), cfg.GetActuatorRangeY())
	if err != nil {
		return err
	}
	sessionID := uuid.New()
	acquisition := control.NewAcquisition(cfg.GetTarget(), nil)
	if *calibDir != "" {
		var cat calib.Catalog
		if catalog != nil {
			cat = catalog
		}
		sink, err := calib.NewSink(*calibDir, sessionID.String(), cat)
		if err != nil {
			return err
		}
		acquisition.Sink = sink
	}
	keys := input.NewQueue(input.DefaultDepth)

	supCfg := supervisor.Config{
		SessionID:    sessionID,
		Source:       source,
		Keys:         keys,
		Link:         lk,
		Acquisition:  acquisition,
		Tracking:     tracking,
		Matcher:      vision.NewMatcher(engine),
		Home:         cfg.GetHome(),
		Limits:       cfg.GetLimits(),
		Clamp:        cfg.GetClamp(),
		FrameTimeout: cfg.GetFrameTimeout(),
		OverlayEvery: cfg.GetOverlayEvery(),
	}
	if *overlayDir != "" && cfg.GetOverlayEvery() > 0 {
		dir, err := security.SessionDir(*overlayDir, sessionID.String())
		if err != nil {
			return fmt.Errorf("overlay directory: %w", err)
		}
		w, err := overlay.NewWriter(dir, *heatmap)
		if err != nil {
			return err
		}
		supCfg.Overlay = w
	}
	sup, err := supervisor.New(supCfg)
	if err != nil {
		return err
	}

	if catalog != nil {
		if err := catalog.StartSession(ctx, sessionID.String(), time.Now()); err != nil {
			log.Printf("failed to record session start: %v", err)
		}
	}

	// not waited for: a read blocked on stdin does not return on cancellation
	go func() {
		if err := input.ReadLines(ctx, os.Stdin, keys); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("stdin reader stopped: %v", err)
		}
	}()

	if *listen != "" {
		mux := http.NewServeMux()
		sup.AttachAdminRoutes(mux)
		lk.AttachAdminRoutes(mux)
		if catalog != nil {
			catalog.AttachAdminRoutes(mux)
		}
		serverCtx, stopServer := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(serverCtx, *listen, mux)
		}()
		defer func() {
			stopServer()
			wg.Wait()
		}()
	}

	log.Printf("owl %s: session %s, link %s, keys w/a/s/d jog, c capture, j snapshot, esc cancel",
		version.Version, sessionID, describeLink(cfg))
	runErr := sup.Run(ctx)
	reason := exitReason(ctx, runErr)
	cycles := sup.Status().Cycle

	if catalog != nil {
		if err := catalog.EndSession(context.Background(), sessionID.String(), time.Now(), cycles, reason); err != nil {
			log.Printf("failed to record session end: %v", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("session %s failed after %d cycles: %w", sessionID, cycles, runErr)
	}
	log.Printf("Session %s ended (%s) after %d cycles", sessionID, reason, cycles)
	return nil
}

func loadConfig(path string) (*config.OwlConfig, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// applyOverrides folds the transport flags into cfg.
func applyOverrides(cfg *config.OwlConfig, kind, addr, port string) error {
	if kind != "" {
		k := strings.ToLower(kind)
		cfg.LinkTransport = &k
	}
	if addr != "" {
		cfg.ActuatorAddr = &addr
	}
	if port != "" {
		cfg.SerialPort = &port
	}
	return cfg.Validate()
}

func describeLink(cfg *config.OwlConfig) string {
	if cfg.GetLinkTransport() == config.TransportSerial {
		return "serial " + cfg.GetSerialPort()
	}
	return "tcp " + cfg.GetActuatorAddr()
}

func openLink(ctx context.Context, cfg *config.OwlConfig) (actuatorLink, error) {
	timeout := cfg.GetLinkTimeout()
	if cfg.GetLinkTransport() == config.TransportSerial {
		lk, err := link.OpenSerial(cfg.GetSerialPort(), cfg.GetSerial(), timeout)
		if err != nil {
			return nil, err
		}
		return lk, nil
	}
	lk, err := link.DialTCP(ctx, cfg.GetActuatorAddr(), timeout)
	if err != nil {
		return nil, err
	}
	return lk, nil
}

func openSource(dir, device string, interval time.Duration) (vision.FrameSource, func(), error) {
	switch {
	case dir != "" && device != "":
		return nil, nil, errors.New("-frames and -camera are mutually exclusive")
	case dir != "":
		src, err := vision.NewDirSource(dir)
		if err != nil {
			return nil, nil, err
		}
		src.Interval = interval
		log.Printf("replaying frames from %s", src)
		return src, func() {}, nil
	case device != "":
		return openCamera(device)
	}
	return nil, nil, fmt.Errorf("%w: one of -frames or -camera is required", vision.ErrSourceUnavailable)
}

// exitReason labels how a session ended for the catalog.
func exitReason(ctx context.Context, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case ctx.Err() != nil:
		return "signal"
	default:
		return "operator"
	}
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
