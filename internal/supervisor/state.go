// Package supervisor runs the rig's control cycle: it owns the session
// state, switches between manual acquisition and tracking, and sends
// exactly one setpoint to the actuator host per cycle.
package supervisor

import (
	"github.com/google/uuid"

	"github.com/owl-rig/owl/internal/rig"
	"github.com/owl-rig/owl/internal/vision"
)

// SessionState is everything that persists between cycles. Only the cycle
// goroutine reads or writes it.
type SessionState struct {
	ID       uuid.UUID
	Mode     rig.Mode
	Setpoint rig.Setpoint
	// Template is non-nil exactly when Mode is ModeTrack.
	Template *vision.Image
	// CalibIndex numbers the next calibration pair.
	CalibIndex int
	Cycle      uint64
}

// NewSessionState starts a session in ACQUIRE at home.
func NewSessionState(home rig.Setpoint) SessionState {
	return SessionState{
		ID:       uuid.New(),
		Mode:     rig.ModeAcquire,
		Setpoint: home,
	}
}

func (s *SessionState) startTracking(tmpl vision.Image) {
	s.Template = &tmpl
	s.Mode = rig.ModeTrack
}

func (s *SessionState) stopTracking() {
	s.Template = nil
	s.Mode = rig.ModeAcquire
}
