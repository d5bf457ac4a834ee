//go:build gocv
// +build gocv

package vision

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// CaptureSource reads side-by-side stereo frames from an OpenCV capture
// device. Only available when building with the 'gocv' build tag.
type CaptureSource struct {
	cap *gocv.VideoCapture
	buf gocv.Mat
}

// OpenCapture opens a camera index or stream URL.
func OpenCapture(device string) (*CaptureSource, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return &CaptureSource{cap: vc, buf: gocv.NewMat()}, nil
}

// IsOpened reports whether the device is open.
func (s *CaptureSource) IsOpened() bool { return s.cap != nil && s.cap.IsOpened() }

// NextFrame grabs one frame and splits it.
func (s *CaptureSource) NextFrame(ctx context.Context) (StereoFrame, error) {
	if err := ctx.Err(); err != nil {
		return StereoFrame{}, err
	}
	if ok := s.cap.Read(&s.buf); !ok || s.buf.Empty() {
		return StereoFrame{}, fmt.Errorf("%w: capture read failed", ErrSourceUnavailable)
	}
	img, err := s.buf.ToImage()
	if err != nil {
		return StereoFrame{}, fmt.Errorf("convert frame: %w", err)
	}
	return SplitStereo(FromImage(img))
}

// Close releases the device.
func (s *CaptureSource) Close() error {
	s.buf.Close()
	return s.cap.Close()
}

// GocvEngine correlates with OpenCV's MatchTemplate using TM_CCOEFF_NORMED.
type GocvEngine struct{}

// Correlate implements CorrelationEngine.
func (GocvEngine) Correlate(frame, template Image) (*mat.Dense, error) {
	if err := CheckCompatible(frame, template); err != nil {
		return nil, err
	}
	fm, err := toMat(frame)
	if err != nil {
		return nil, err
	}
	defer fm.Close()
	tm, err := toMat(template)
	if err != nil {
		return nil, err
	}
	defer tm.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	if err := gocv.MatchTemplate(fm, tm, &result, gocv.TmCcoeffNormed, mask); err != nil {
		return nil, fmt.Errorf("match template: %w", err)
	}

	rows, cols := result.Rows(), result.Cols()
	out := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out.Set(y, x, float64(result.GetFloatAt(y, x)))
		}
	}
	return out, nil
}

func toMat(im Image) (gocv.Mat, error) {
	mt := gocv.MatTypeCV8UC3
	if im.Channels == 1 {
		mt = gocv.MatTypeCV8UC1
	}
	return gocv.NewMatFromBytes(im.Height, im.Width, mt, im.Pix)
}
