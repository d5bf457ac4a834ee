package supervisor

import (
	"image"
	"math"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/owl-rig/owl/internal/control"
	"github.com/owl-rig/owl/internal/httputil"
	"github.com/owl-rig/owl/internal/rig"
)

// Status is a point-in-time view of the session for observers.
type Status struct {
	SessionID   string              `json:"session_id"`
	Mode        rig.Mode            `json:"mode"`
	Setpoint    rig.Setpoint        `json:"setpoint"`
	Cycle       uint64              `json:"cycle"`
	HasTemplate bool                `json:"has_template"`
	CalibPairs  int                 `json:"calib_pairs"`
	LastKey     string              `json:"last_key,omitempty"`
	LastReply   string              `json:"last_reply,omitempty"`
	Match       *image.Point        `json:"match,omitempty"`
	Score       float64             `json:"score"`
	Offsets     *control.Correction `json:"offsets,omitempty"`
	CycleTime   time.Duration       `json:"cycle_time_ns"`
	StartedAt   time.Time           `json:"started_at"`
}

// Status returns the state published at the end of the last cycle. Safe
// for concurrent use.
func (s *Supervisor) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status
	if st.Match != nil {
		p := *st.Match
		st.Match = &p
	}
	if st.Offsets != nil {
		o := *st.Offsets
		st.Offsets = &o
	}
	return st
}

func (s *Supervisor) publish(update func(*Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	update(&s.status)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// KeyPusher accepts injected keys.
type KeyPusher interface {
	Push(control.Key) bool
}

// AttachAdminRoutes mounts /debug/owl-status and, when the key source
// accepts injected keys, /debug/owl-key.
func (s *Supervisor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("owl-status", "current tracking session status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, s.Status())
	})

	pusher, ok := s.keys.(KeyPusher)
	if !ok {
		return
	}
	debug.HandleSilentFunc("owl-key", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		name := strings.TrimSpace(r.FormValue("key"))
		if name == "" {
			httputil.WriteError(w, http.StatusBadRequest, "missing key")
			return
		}
		k, err := control.ParseKey(name)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !pusher.Push(k) {
			httputil.WriteError(w, http.StatusServiceUnavailable, "key queue full")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"queued": k.String()})
	})
}
