package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/owl-rig/owl/internal/control"
	"github.com/owl-rig/owl/internal/link"
	"github.com/owl-rig/owl/internal/monitoring"
	"github.com/owl-rig/owl/internal/rig"
	"github.com/owl-rig/owl/internal/timeutil"
	"github.com/owl-rig/owl/internal/vision"
)

// DefaultFrameTimeout bounds a single frame acquisition.
const DefaultFrameTimeout = 2 * time.Second

// KeySource yields the next pending operator key, or control.KeyNone,
// without blocking.
type KeySource interface {
	Poll() control.Key
}

// Overlay renders tracking diagnostics. Its failures are logged and never
// end the session.
type Overlay interface {
	Draw(frame vision.StereoFrame, tmpl vision.Image, m vision.MatchResult) error
}

type noKeys struct{}

func (noKeys) Poll() control.Key { return control.KeyNone }

// Config wires a Supervisor to its collaborators. Source, Link and
// Tracking are required.
type Config struct {
	// SessionID names the session; a random one is used when unset.
	SessionID uuid.UUID

	Source      vision.FrameSource
	Keys        KeySource
	Link        link.Sender
	Acquisition *control.Acquisition
	Tracking    *control.Tracking
	Matcher     *vision.Matcher

	Home   rig.Setpoint
	Limits rig.Limits
	// Clamp limits every setpoint to Limits before it is sent.
	Clamp bool

	FrameTimeout time.Duration
	Overlay      Overlay
	// OverlayEvery draws one overlay per this many tracking cycles.
	OverlayEvery int
	Clock        timeutil.Clock
}

// Supervisor is the ACQUIRE/TRACK state machine.
type Supervisor struct {
	source       vision.FrameSource
	keys         KeySource
	link         link.Sender
	acquisition  *control.Acquisition
	tracking     *control.Tracking
	matcher      *vision.Matcher
	limits       rig.Limits
	clamp        bool
	frameTimeout time.Duration
	overlay      Overlay
	overlayEvery int
	clock        timeutil.Clock

	state     SessionState
	trackings uint64

	statusMu sync.Mutex
	status   Status
}

// New validates cfg and returns a Supervisor positioned at cfg.Home.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Source == nil {
		return nil, errors.New("supervisor: frame source is required")
	}
	if cfg.Link == nil {
		return nil, errors.New("supervisor: actuator link is required")
	}
	if cfg.Tracking == nil {
		return nil, errors.New("supervisor: tracking controller is required")
	}
	if cfg.Clamp {
		if err := cfg.Limits.Validate(); err != nil {
			return nil, fmt.Errorf("supervisor: %w", err)
		}
	}
	s := &Supervisor{
		source:       cfg.Source,
		keys:         cfg.Keys,
		link:         cfg.Link,
		acquisition:  cfg.Acquisition,
		tracking:     cfg.Tracking,
		matcher:      cfg.Matcher,
		limits:       cfg.Limits,
		clamp:        cfg.Clamp,
		frameTimeout: cfg.FrameTimeout,
		overlay:      cfg.Overlay,
		overlayEvery: cfg.OverlayEvery,
		clock:        cfg.Clock,
		state:        NewSessionState(cfg.Home),
	}
	if cfg.SessionID != uuid.Nil {
		s.state.ID = cfg.SessionID
	}
	if s.keys == nil {
		s.keys = noKeys{}
	}
	if s.acquisition == nil {
		s.acquisition = control.NewAcquisition(control.DefaultTarget, nil)
	}
	if s.matcher == nil {
		s.matcher = vision.NewMatcher(nil)
	}
	if s.frameTimeout <= 0 {
		s.frameTimeout = DefaultFrameTimeout
	}
	if s.overlayEvery <= 0 {
		s.overlayEvery = 1
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	s.status = Status{
		SessionID: s.state.ID.String(),
		Mode:      s.state.Mode,
		Setpoint:  s.state.Setpoint,
		StartedAt: s.clock.Now(),
	}
	return s, nil
}

// State returns a copy of the session state. Only safe to call from the
// goroutine driving Run or Step.
func (s *Supervisor) State() SessionState { return s.state }

// Run homes the rig and cycles until the operator cancels from ACQUIRE,
// ctx is cancelled, or a cycle fails. Cancellation of ctx is a clean
// shutdown and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.source.IsOpened() {
		return fmt.Errorf("open frame source: %w", vision.ErrSourceUnavailable)
	}
	monitoring.Logf("session %s: homing to %s", s.state.ID, s.state.Setpoint)
	if err := s.home(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for {
		done, err := s.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				monitoring.Logf("session %s: interrupted after %d cycles", s.state.ID, s.state.Cycle)
				return nil
			}
			return err
		}
		if done {
			monitoring.Logf("session %s: shutdown after %d cycles", s.state.ID, s.state.Cycle)
			return nil
		}
	}
}

func (s *Supervisor) home(ctx context.Context) error {
	if s.clamp {
		s.state.Setpoint = s.limits.Clamp(s.state.Setpoint)
	}
	reply, err := s.link.Send(ctx, s.state.Setpoint)
	if err != nil {
		return fmt.Errorf("home: %w", err)
	}
	s.publish(func(st *Status) {
		st.Setpoint = s.state.Setpoint
		st.LastReply = reply
	})
	return nil
}

// Step runs one control cycle and reports whether the session has ended.
// Every cycle that gets past frame acquisition and mode handling sends
// exactly one setpoint.
func (s *Supervisor) Step(ctx context.Context) (done bool, err error) {
	start := s.clock.Now()

	frame, err := s.nextFrame(ctx)
	if err != nil {
		return false, err
	}
	key := s.keys.Poll()

	var tr *trackResult
	switch s.state.Mode {
	case rig.ModeAcquire:
		done, err = s.acquire(ctx, frame, key)
	case rig.ModeTrack:
		tr, err = s.track(frame, key)
	default:
		err = fmt.Errorf("unknown mode %s", s.state.Mode)
	}
	if err != nil {
		return false, err
	}

	if s.clamp {
		s.state.Setpoint = s.limits.Clamp(s.state.Setpoint)
	}
	s.state.Cycle++
	reply, err := s.link.Send(ctx, s.state.Setpoint)
	if err != nil {
		return false, fmt.Errorf("cycle %d: %w", s.state.Cycle, err)
	}

	if tr != nil {
		s.drawOverlay(frame, tr)
	}
	elapsed := s.clock.Since(start)
	s.publish(func(st *Status) {
		st.Mode = s.state.Mode
		st.Setpoint = s.state.Setpoint
		st.Cycle = s.state.Cycle
		st.HasTemplate = s.state.Template != nil
		st.CalibPairs = s.state.CalibIndex
		st.LastKey = key.String()
		st.LastReply = reply
		st.CycleTime = elapsed
		if tr != nil {
			pos := tr.match.Position
			off := tr.correction
			st.Match = &pos
			st.Score = finite(tr.match.Score())
			st.Offsets = &off
		} else {
			st.Match, st.Score, st.Offsets = nil, 0, nil
		}
	})
	return done, nil
}

func (s *Supervisor) nextFrame(ctx context.Context) (vision.StereoFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.frameTimeout)
	defer cancel()
	frame, err := s.source.NextFrame(ctx)
	if err != nil {
		return vision.StereoFrame{}, fmt.Errorf("acquire frame: %w", err)
	}
	return frame, nil
}

func (s *Supervisor) acquire(ctx context.Context, frame vision.StereoFrame, key control.Key) (bool, error) {
	switch {
	case key.IsJog():
		s.acquisition.HandleKey(&s.state.Setpoint, key)
	case key == control.KeyCapture:
		tmpl, err := s.acquisition.Capture(frame)
		if err != nil {
			return false, err
		}
		s.state.startTracking(tmpl)
		s.trackings = 0
		monitoring.Logf("session %s: captured %s template, tracking", s.state.ID, tmpl)
	case key == control.KeySnapshot:
		if err := s.acquisition.Snapshot(ctx, frame, s.state.CalibIndex); err != nil {
			monitoring.Logf("calibration snapshot failed: %v", err)
			break
		}
		monitoring.Logf("stored calibration pair %d", s.state.CalibIndex)
		s.state.CalibIndex++
	case key == control.KeyCancel:
		return true, nil
	}
	return false, nil
}

type trackResult struct {
	template   vision.Image
	match      vision.MatchResult
	correction control.Correction
}

func (s *Supervisor) track(frame vision.StereoFrame, key control.Key) (*trackResult, error) {
	if key == control.KeyCancel {
		s.state.stopTracking()
		monitoring.Logf("session %s: tracking cancelled", s.state.ID)
		return nil, nil
	}
	if s.state.Template == nil {
		return nil, errors.New("tracking without a template")
	}
	tmpl := *s.state.Template
	m, err := s.matcher.Match(frame.Left, tmpl)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	c := s.tracking.Step(&s.state.Setpoint, m, tmpl.Width, tmpl.Height)
	monitoring.Debugf("match %v score %.3f xoff %.2f yoff %.2f", m.Position, m.Score(), c.XOff, c.YOff)
	return &trackResult{template: tmpl, match: m, correction: c}, nil
}

func (s *Supervisor) drawOverlay(frame vision.StereoFrame, tr *trackResult) {
	if s.overlay == nil {
		return
	}
	s.trackings++
	if (s.trackings-1)%uint64(s.overlayEvery) != 0 {
		return
	}
	if err := s.overlay.Draw(frame, tr.template, tr.match); err != nil {
		monitoring.Logf("overlay: %v", err)
	}
}
