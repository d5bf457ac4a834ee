package vision

import (
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrIncompatibleInput is matched by every *IncompatibleInputError.
var ErrIncompatibleInput = errors.New("incompatible match input")

// IncompatibleInputError reports a frame/template pair that cannot be
// correlated.
type IncompatibleInputError struct {
	Frame    string
	Template string
	Reason   string
}

func (e *IncompatibleInputError) Error() string {
	return fmt.Sprintf("cannot match template %s in frame %s: %s", e.Template, e.Frame, e.Reason)
}

func (e *IncompatibleInputError) Unwrap() error { return ErrIncompatibleInput }

// MatchResult is the outcome of one template search. Surface holds one score
// per candidate window: (frameH-templH+1) rows by (frameW-templW+1) columns.
type MatchResult struct {
	Position image.Point
	Surface  *mat.Dense
}

// Score returns the correlation score at Position.
func (m MatchResult) Score() float64 {
	if m.Surface == nil {
		return 0
	}
	return m.Surface.At(m.Position.Y, m.Position.X)
}

// CorrelationEngine computes a correlation surface for a template over a
// frame. Implementations must be deterministic.
type CorrelationEngine interface {
	Correlate(frame, template Image) (*mat.Dense, error)
}

// Matcher locates a stored template in a frame using a CorrelationEngine.
type Matcher struct {
	engine CorrelationEngine
}

// NewMatcher returns a Matcher backed by engine, or by NCC when engine is nil.
func NewMatcher(engine CorrelationEngine) *Matcher {
	if engine == nil {
		engine = NCC{}
	}
	return &Matcher{engine: engine}
}

// Match finds the best scoring placement of template inside frame.
func (m *Matcher) Match(frame, template Image) (MatchResult, error) {
	if err := CheckCompatible(frame, template); err != nil {
		return MatchResult{}, err
	}
	surface, err := m.engine.Correlate(frame, template)
	if err != nil {
		return MatchResult{}, fmt.Errorf("correlate: %w", err)
	}
	rows, cols := surface.Dims()
	wantRows, wantCols := frame.Height-template.Height+1, frame.Width-template.Width+1
	if rows != wantRows || cols != wantCols {
		return MatchResult{}, fmt.Errorf("correlation surface is %dx%d, want %dx%d", rows, cols, wantRows, wantCols)
	}
	return MatchResult{Position: ArgMax(surface), Surface: surface}, nil
}

// CheckCompatible validates that template can be searched for in frame.
func CheckCompatible(frame, template Image) error {
	fail := func(reason string) error {
		return &IncompatibleInputError{Frame: frame.String(), Template: template.String(), Reason: reason}
	}
	switch {
	case frame.Empty():
		return fail("empty frame")
	case template.Empty():
		return fail("empty template")
	case frame.Channels != template.Channels:
		return fail("channel count differs")
	case template.Width > frame.Width || template.Height > frame.Height:
		return fail("template larger than frame")
	}
	return nil
}

// ArgMax returns the column/row of the highest value in s. Ties go to the
// first maximum in row-major order.
func ArgMax(s *mat.Dense) image.Point {
	rows, _ := s.Dims()
	best := image.Point{}
	bestScore := 0.0
	for y := 0; y < rows; y++ {
		row := s.RawRowView(y)
		x := floats.MaxIdx(row)
		if y == 0 || row[x] > bestScore {
			best = image.Pt(x, y)
			bestScore = row[x]
		}
	}
	return best
}
