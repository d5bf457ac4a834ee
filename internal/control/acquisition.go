package control

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/owl-rig/owl/internal/rig"
	"github.com/owl-rig/owl/internal/vision"
)

// JogStep is the PWM delta applied by one jog key press.
const JogStep = 5

// TemplateSize is the edge length of a captured template.
const TemplateSize = 64

// DefaultTarget is the capture rectangle: a TemplateSize square centred in a
// 640x480 frame.
var DefaultTarget = image.Rect(320-TemplateSize/2, 240-TemplateSize/2, 320+TemplateSize/2, 240+TemplateSize/2)

// ErrNoSink is returned by Snapshot when no calibration sink is configured.
var ErrNoSink = errors.New("no calibration sink configured")

// CalibrationSink persists a stereo pair for offline camera calibration.
type CalibrationSink interface {
	Store(ctx context.Context, frame vision.StereoFrame, index int) error
}

// Acquisition handles operator input while the rig is in ACQUIRE mode.
type Acquisition struct {
	Target image.Rectangle
	Step   int
	Sink   CalibrationSink
}

// NewAcquisition returns an Acquisition that captures target and stores
// calibration pairs in sink. sink may be nil.
func NewAcquisition(target image.Rectangle, sink CalibrationSink) *Acquisition {
	if target.Empty() {
		target = DefaultTarget
	}
	return &Acquisition{Target: target, Step: JogStep, Sink: sink}
}

// HandleKey applies the jog table to sp: both eyes pan together, tilt moves
// Ry and Ly in opposite directions. It returns false for non-jog keys.
func (a *Acquisition) HandleKey(sp *rig.Setpoint, k Key) bool {
	d := a.Step
	switch k {
	case KeyUp:
		sp.Ry += d
		sp.Ly -= d
	case KeyDown:
		sp.Ry -= d
		sp.Ly += d
	case KeyLeft:
		sp.Rx -= d
		sp.Lx -= d
	case KeyRight:
		sp.Rx += d
		sp.Lx += d
	default:
		return false
	}
	return true
}

// Capture cuts the target rectangle out of the right camera image.
func (a *Acquisition) Capture(frame vision.StereoFrame) (vision.Image, error) {
	tmpl, err := frame.Right.Crop(a.Target)
	if err != nil {
		return vision.Image{}, fmt.Errorf("capture template: %w", err)
	}
	return tmpl, nil
}

// Snapshot forwards the current pair to the calibration sink.
func (a *Acquisition) Snapshot(ctx context.Context, frame vision.StereoFrame, index int) error {
	if a.Sink == nil {
		return ErrNoSink
	}
	if err := a.Sink.Store(ctx, frame, index); err != nil {
		return fmt.Errorf("store calibration pair %d: %w", index, err)
	}
	return nil
}
