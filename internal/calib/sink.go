// Package calib stores stereo pairs for offline camera calibration.
package calib

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/owl-rig/owl/internal/db"
	"github.com/owl-rig/owl/internal/monitoring"
	"github.com/owl-rig/owl/internal/security"
	"github.com/owl-rig/owl/internal/timeutil"
	"github.com/owl-rig/owl/internal/vision"
)

// Catalog records stored pairs.
type Catalog interface {
	RecordCalibrationPair(ctx context.Context, p *db.CalibrationPair) error
}

// Sink writes each pair as left_NNN.png and right_NNN.png in Dir and,
// when a Catalog is set, records it there.
type Sink struct {
	Dir       string
	SessionID string
	Catalog   Catalog
	Clock     timeutil.Clock
}

// NewSink stores pairs under root, in a subdirectory named after the
// session when sessionID is set. catalog may be nil.
func NewSink(root, sessionID string, catalog Catalog) (*Sink, error) {
	if root == "" {
		return nil, errors.New("calibration directory is required")
	}
	dir := root
	if sessionID != "" {
		var err error
		if dir, err = security.SessionDir(root, sessionID); err != nil {
			return nil, fmt.Errorf("calibration directory: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create calibration directory: %w", err)
	}
	return &Sink{Dir: dir, SessionID: sessionID, Catalog: catalog, Clock: timeutil.RealClock{}}, nil
}

// PairPaths returns the file names used for pair index.
func (s *Sink) PairPaths(index int) (left, right string) {
	return filepath.Join(s.Dir, fmt.Sprintf("left_%03d.png", index)),
		filepath.Join(s.Dir, fmt.Sprintf("right_%03d.png", index))
}

// Store writes both images and catalogs the pair. Existing files for the
// same index are overwritten.
func (s *Sink) Store(ctx context.Context, frame vision.StereoFrame, index int) error {
	if frame.Left.Empty() || frame.Right.Empty() {
		return errors.New("empty stereo frame")
	}
	left, right := s.PairPaths(index)
	if err := writePNG(left, frame.Left); err != nil {
		return err
	}
	if err := writePNG(right, frame.Right); err != nil {
		return err
	}
	monitoring.Debugf("wrote calibration pair %s %s", left, right)

	if s.Catalog == nil {
		return nil
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return s.Catalog.RecordCalibrationPair(ctx, &db.CalibrationPair{
		SessionID: s.SessionID,
		Index:     index,
		LeftPath:  left,
		RightPath: right,
		Width:     frame.Left.Width,
		Height:    frame.Left.Height,
		TakenAt:   clock.Now(),
	})
}

func writePNG(path string, im vision.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, im.ToImage()); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
