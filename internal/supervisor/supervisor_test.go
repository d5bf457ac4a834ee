package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/owl-rig/owl/internal/control"
	"github.com/owl-rig/owl/internal/input"
	"github.com/owl-rig/owl/internal/link"
	"github.com/owl-rig/owl/internal/rig"
	"github.com/owl-rig/owl/internal/testutil"
	"github.com/owl-rig/owl/internal/timeutil"
	"github.com/owl-rig/owl/internal/vision"
)

type fakeSource struct {
	closed bool
	block  bool
	frame  vision.StereoFrame
	served int
}

func (f *fakeSource) IsOpened() bool { return !f.closed }

func (f *fakeSource) NextFrame(ctx context.Context) (vision.StereoFrame, error) {
	if f.block {
		<-ctx.Done()
		return vision.StereoFrame{}, ctx.Err()
	}
	f.served++
	return f.frame, nil
}

// peakEngine reports a single peak at pos, or at the origin when pos does
// not fit the surface.
type peakEngine struct {
	pos image.Point
}

func (e peakEngine) Correlate(frame, template vision.Image) (*mat.Dense, error) {
	rows := frame.Height - template.Height + 1
	cols := frame.Width - template.Width + 1
	s := mat.NewDense(rows, cols, nil)
	if e.pos.Y < rows && e.pos.X < cols {
		s.Set(e.pos.Y, e.pos.X, 1)
	}
	return s, nil
}

type recordingOverlay struct {
	draws []image.Point
	err   error
}

func (o *recordingOverlay) Draw(frame vision.StereoFrame, tmpl vision.Image, m vision.MatchResult) error {
	o.draws = append(o.draws, m.Position)
	return o.err
}

func testFrame(w, h int) vision.StereoFrame {
	left := vision.NewImage(w, h, 1)
	right := vision.NewImage(w, h, 1)
	for i := range right.Pix {
		right.Pix[i] = uint8(i * 7)
		left.Pix[i] = uint8(i * 3)
	}
	return vision.StereoFrame{Left: left, Right: right}
}

type harness struct {
	sup    *Supervisor
	keys   *input.Queue
	conn   *link.MockConn
	source *fakeSource
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	tracking, err := control.NewTracking(control.DefaultGains(), 1000, 1000)
	require.NoError(t, err)
	h := &harness{
		keys:   input.NewQueue(0),
		conn:   link.NewMockConn(),
		source: &fakeSource{frame: testFrame(640, 480)},
	}
	cfg := Config{
		Source:      h.source,
		Keys:        h.keys,
		Link:        link.New(h.conn, 0),
		Acquisition: control.NewAcquisition(control.DefaultTarget, nil),
		Tracking:    tracking,
		Matcher:     vision.NewMatcher(peakEngine{pos: image.Pt(288, 208)}),
		Home:        rig.Home,
		Limits:      rig.DefaultLimits(),
		Clamp:       true,
		Clock:       timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.sup, err = New(cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) step(t *testing.T, k control.Key) bool {
	t.Helper()
	if k != control.KeyNone {
		require.True(t, h.keys.Push(k))
	}
	done, err := h.sup.Step(context.Background())
	require.NoError(t, err)
	return done
}

func TestNewRequiresCollaborators(t *testing.T) {
	tracking, err := control.NewTracking(control.DefaultGains(), 1000, 1000)
	require.NoError(t, err)
	src := &fakeSource{}
	lk := link.New(link.NewMockConn(), 0)

	_, err = New(Config{Link: lk, Tracking: tracking})
	assert.Error(t, err)
	_, err = New(Config{Source: src, Tracking: tracking})
	assert.Error(t, err)
	_, err = New(Config{Source: src, Link: lk})
	assert.Error(t, err)
	_, err = New(Config{Source: src, Link: lk, Tracking: tracking, Clamp: true,
		Limits: rig.Limits{Rx: rig.Range{Min: 10, Max: 1}}})
	assert.Error(t, err)

	s, err := New(Config{Source: src, Link: lk, Tracking: tracking, Home: rig.Home})
	require.NoError(t, err)
	assert.Equal(t, rig.ModeAcquire, s.State().Mode)
	assert.Nil(t, s.State().Template)
	assert.Equal(t, rig.Home, s.State().Setpoint)
}

func TestNewUsesConfiguredSessionID(t *testing.T) {
	id := uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-0123456789ab")
	h := newHarness(t, func(c *Config) { c.SessionID = id })
	assert.Equal(t, id, h.sup.State().ID)
	assert.Equal(t, id.String(), h.sup.Status().SessionID)

	other := newHarness(t, nil)
	assert.NotEqual(t, uuid.Nil, other.sup.State().ID)
}

func TestModeTransitionsOnlyOnCaptureAndCancel(t *testing.T) {
	h := newHarness(t, nil)

	steps := []struct {
		key  control.Key
		want rig.Mode
	}{
		{control.KeyNone, rig.ModeAcquire},
		{control.KeyUp, rig.ModeAcquire},
		{control.KeyLeft, rig.ModeAcquire},
		{control.KeySnapshot, rig.ModeAcquire},
		{control.KeyCapture, rig.ModeTrack},
		{control.KeyNone, rig.ModeTrack},
		{control.KeyDown, rig.ModeTrack},
		{control.KeySnapshot, rig.ModeTrack},
		{control.KeyCapture, rig.ModeTrack},
		{control.KeyCancel, rig.ModeAcquire},
		{control.KeyRight, rig.ModeAcquire},
		{control.KeyCapture, rig.ModeTrack},
		{control.KeyCancel, rig.ModeAcquire},
	}
	for i, st := range steps {
		done := h.step(t, st.key)
		assert.False(t, done, "step %d", i)
		state := h.sup.State()
		assert.Equal(t, st.want, state.Mode, "step %d after %s", i, st.key)
		assert.Equal(t, state.Mode == rig.ModeTrack, state.Template != nil, "step %d template presence", i)
	}
	assert.Len(t, h.conn.Writes(), len(steps), "one send per cycle")
	assert.Equal(t, uint64(len(steps)), h.sup.State().Cycle)
}

func TestJogKeysIgnoredWhileTracking(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, control.KeyCapture)
	h.step(t, control.KeyNone)
	tracked := h.sup.State().Setpoint

	fresh := newHarness(t, nil)
	fresh.step(t, control.KeyCapture)
	fresh.step(t, control.KeyUp)
	assert.Equal(t, tracked, fresh.sup.State().Setpoint)
}

func TestCaptureStoresTemplateFromRightCamera(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, control.KeyCapture)

	state := h.sup.State()
	require.Equal(t, rig.ModeTrack, state.Mode)
	require.NotNil(t, state.Template)
	assert.Equal(t, 64, state.Template.Width)
	assert.Equal(t, 64, state.Template.Height)

	want, err := h.source.frame.Right.Crop(image.Rect(288, 208, 352, 272))
	require.NoError(t, err)
	if diff := cmp.Diff(want, *state.Template); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, rig.Home, state.Setpoint)
	assert.Equal(t, []string{"1500 1500 1470 1660 1500"}, h.conn.Writes())
}

func TestTrackingCycleSendsCorrectedSetpoint(t *testing.T) {
	overlay := &recordingOverlay{}
	h := newHarness(t, func(c *Config) {
		c.Overlay = overlay
		c.OverlayEvery = 2
	})
	h.step(t, control.KeyCapture)
	h.step(t, control.KeyNone)

	writes := h.conn.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "1500 1500 1464 1642 1500", writes[1])

	st := h.sup.Status()
	assert.Equal(t, rig.ModeTrack, st.Mode)
	require.NotNil(t, st.Match)
	assert.Equal(t, image.Pt(288, 208), *st.Match)
	assert.InDelta(t, 1.0, st.Score, 1e-12)
	require.NotNil(t, st.Offsets)
	assert.InDelta(t, 115.2, st.Offsets.XOff, 1e-9)
	assert.Equal(t, "1500 1500 1464 1642 1500", st.LastReply)

	h.step(t, control.KeyNone)
	h.step(t, control.KeyNone)
	assert.Len(t, overlay.draws, 2, "overlay drawn on tracking cycles 1 and 3")
}

func TestOverlayFailureDoesNotStopSession(t *testing.T) {
	overlay := &recordingOverlay{err: errors.New("disk full")}
	h := newHarness(t, func(c *Config) { c.Overlay = overlay })
	h.step(t, control.KeyCapture)
	h.step(t, control.KeyNone)
	assert.Len(t, overlay.draws, 1)
	assert.Len(t, h.conn.Writes(), 2)
}

func TestClampBeforeSend(t *testing.T) {
	edge := rig.Setpoint{Rx: 1998, Ry: 1500, Lx: 1998, Ly: 1500, Neck: 1500}

	h := newHarness(t, func(c *Config) { c.Home = edge })
	h.step(t, control.KeyRight)
	assert.Equal(t, []string{"2000 1500 2000 1500 1500"}, h.conn.Writes())
	assert.Equal(t, 2000, h.sup.State().Setpoint.Lx)

	unclamped := newHarness(t, func(c *Config) {
		c.Home = edge
		c.Clamp = false
	})
	unclamped.step(t, control.KeyRight)
	assert.Equal(t, []string{"2003 1500 2003 1500 1500"}, unclamped.conn.Writes())
}

type fakeSink struct {
	indices []int
	err     error
}

func (s *fakeSink) Store(ctx context.Context, frame vision.StereoFrame, index int) error {
	if s.err != nil {
		return s.err
	}
	s.indices = append(s.indices, index)
	return nil
}

func TestSnapshotCounter(t *testing.T) {
	sink := &fakeSink{}
	h := newHarness(t, func(c *Config) {
		c.Acquisition = control.NewAcquisition(control.DefaultTarget, sink)
	})
	h.step(t, control.KeySnapshot)
	h.step(t, control.KeySnapshot)
	assert.Equal(t, []int{0, 1}, sink.indices)
	assert.Equal(t, 2, h.sup.State().CalibIndex)

	sink.err = errors.New("read-only")
	h.step(t, control.KeySnapshot)
	assert.Equal(t, 2, h.sup.State().CalibIndex, "failed store does not advance")
	assert.Equal(t, rig.ModeAcquire, h.sup.State().Mode)
	assert.Len(t, h.conn.Writes(), 3)
}

func TestRunHomesThenShutsDownOnCancelKey(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.Push(control.KeyRight)
	h.keys.Push(control.KeyCancel)

	require.NoError(t, h.sup.Run(context.Background()))
	assert.Equal(t, []string{
		"1500 1500 1470 1660 1500",
		"1505 1500 1475 1660 1500",
		"1505 1500 1475 1660 1500",
	}, h.conn.Writes())
	assert.Equal(t, uint64(2), h.sup.Status().Cycle)
}

func TestRunSourceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.source.closed = true
	err := h.sup.Run(context.Background())
	assert.ErrorIs(t, err, vision.ErrSourceUnavailable)
	assert.Empty(t, h.conn.Writes())
}

func TestRunCancelledContextIsCleanShutdown(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.sup.Run(ctx))
	assert.Empty(t, h.conn.Writes())
}

func TestLinkFailureMidTrackEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.WriteError = syscall.ECONNRESET
	h.conn.FailAfter = 3
	h.keys.Push(control.KeyCapture)

	err := h.sup.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, link.ErrLinkFailure)
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, rig.ModeTrack, h.sup.State().Mode)
	assert.Len(t, h.conn.Writes(), 3, "home, capture cycle, first tracking cycle")

	_, err = h.sup.Step(context.Background())
	assert.ErrorIs(t, err, link.ErrLinkFailure)
	assert.Len(t, h.conn.Writes(), 3, "nothing transmitted after the failure")
}

func TestMatchFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.step(t, control.KeyCapture)
	h.source.frame = testFrame(32, 32)

	_, err := h.sup.Step(context.Background())
	assert.ErrorIs(t, err, vision.ErrIncompatibleInput)
	assert.Len(t, h.conn.Writes(), 1)
}

func TestFrameTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.FrameTimeout = 20 * time.Millisecond })
	h.source.block = true

	_, err := h.sup.Step(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.conn.Writes())
}

func TestRunOverTCP(t *testing.T) {
	host := testutil.StartActuatorHost(t, testutil.HostOptions{})
	lk, err := link.DialTCP(context.Background(), host.Addr, time.Second)
	require.NoError(t, err)
	defer lk.Close()

	h := newHarness(t, func(c *Config) { c.Link = lk })
	h.keys.Push(control.KeyUp)
	h.keys.Push(control.KeyCancel)
	require.NoError(t, h.sup.Run(context.Background()))

	assert.Equal(t, []string{
		"1500 1500 1470 1660 1500",
		"1500 1505 1470 1655 1500",
		"1500 1505 1470 1655 1500",
	}, host.Received())
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, nil)
	mux := http.NewServeMux()
	h.sup.AttachAdminRoutes(mux)

	t.Run("status", func(t *testing.T) {
		h.step(t, control.KeyLeft)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalHostRequest(http.MethodGet, "/debug/owl-status", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)

		var got map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "ACQUIRE", got["mode"])
		assert.Equal(t, float64(1), got["cycle"])
		assert.Equal(t, "left", got["last_key"])
		assert.Equal(t, h.sup.State().ID.String(), got["session_id"])
	})

	t.Run("inject key", func(t *testing.T) {
		body := strings.NewReader("key=c")
		req := testutil.LocalHostRequest(http.MethodPost, "/debug/owl-key", body)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		assert.Equal(t, control.KeyCapture, h.keys.Poll())
	})

	t.Run("bad key", func(t *testing.T) {
		req := testutil.LocalHostRequest(http.MethodPost, "/debug/owl-key", strings.NewReader("key=zz"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.LocalHostRequest(http.MethodGet, "/debug/owl-key", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})
}
