// Package overlay writes tracking diagnostics to disk: the left frame
// annotated with the match and the tracking line, and a heat map of the
// correlation surface.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/owl-rig/owl/internal/vision"
)

var (
	matchColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	lineColor  = color.RGBA{G: 0xff, A: 0xff}
)

const (
	matchThickness = 2
	lineThickness  = 3
)

// Writer saves numbered overlay images into Dir.
type Writer struct {
	Dir string
	// Heatmap also renders the correlation surface.
	Heatmap bool

	mu  sync.Mutex
	seq int
}

// NewWriter creates dir if needed.
func NewWriter(dir string, heatmap bool) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("overlay directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create overlay directory: %w", err)
	}
	return &Writer{Dir: dir, Heatmap: heatmap}, nil
}

// Draw writes track_NNNNNN.png and, with Heatmap set, surface_NNNNNN.png.
func (w *Writer) Draw(frame vision.StereoFrame, tmpl vision.Image, m vision.MatchResult) error {
	w.mu.Lock()
	seq := w.seq
	w.seq++
	w.mu.Unlock()

	img := Annotate(frame.Left, image.Pt(tmpl.Width, tmpl.Height), m.Position)
	if err := savePNG(filepath.Join(w.Dir, fmt.Sprintf("track_%06d.png", seq)), img); err != nil {
		return err
	}
	if !w.Heatmap || m.Surface == nil {
		return nil
	}
	return SaveHeatmap(filepath.Join(w.Dir, fmt.Sprintf("surface_%06d.png", seq)), m.Surface, m.Position)
}

// Annotate returns a copy of frame with the matched window outlined and a
// line from the frame centre to the window centre.
func Annotate(frame vision.Image, templSize, pos image.Point) *image.RGBA {
	src := frame.ToImage()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, image.Point{}, draw.Src)

	outline(out, image.Rectangle{Min: pos, Max: pos.Add(templSize)}, matchThickness, matchColor)
	centre := image.Pt(frame.Width/2, frame.Height/2)
	target := pos.Add(image.Pt(templSize.X/2, templSize.Y/2))
	line(out, centre, target, lineThickness, lineColor)
	return out
}

func outline(img *image.RGBA, r image.Rectangle, thickness int, c color.Color) {
	u := image.NewUniform(c)
	for i := 0; i < thickness; i++ {
		inner := r.Inset(i)
		if inner.Empty() {
			return
		}
		for _, edge := range []image.Rectangle{
			image.Rect(inner.Min.X, inner.Min.Y, inner.Max.X, inner.Min.Y+1),
			image.Rect(inner.Min.X, inner.Max.Y-1, inner.Max.X, inner.Max.Y),
			image.Rect(inner.Min.X, inner.Min.Y, inner.Min.X+1, inner.Max.Y),
			image.Rect(inner.Max.X-1, inner.Min.Y, inner.Max.X, inner.Max.Y),
		} {
			draw.Draw(img, edge.Intersect(img.Bounds()), u, image.Point{}, draw.Src)
		}
	}
}

// line draws a Bresenham line stamped with a square brush.
func line(img *image.RGBA, from, to image.Point, thickness int, c color.Color) {
	u := image.NewUniform(c)
	half := thickness / 2
	stamp := func(p image.Point) {
		r := image.Rect(p.X-half, p.Y-half, p.X-half+thickness, p.Y-half+thickness)
		draw.Draw(img, r.Intersect(img.Bounds()), u, image.Point{}, draw.Src)
	}

	dx, dy := abs(to.X-from.X), -abs(to.Y-from.Y)
	sx, sy := sign(to.X-from.X), sign(to.Y-from.Y)
	e := dx + dy
	p := from
	for {
		stamp(p)
		if p == to {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			p.X += sx
		}
		if e2 <= dx {
			e += dx
			p.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// surfaceGrid presents a correlation surface to plotter.HeatMap. Plot y is
// the frame row, so the image appears flipped vertically.
type surfaceGrid struct {
	m *mat.Dense
}

func (g surfaceGrid) Dims() (c, r int) {
	rows, cols := g.m.Dims()
	return cols, rows
}

func (g surfaceGrid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g surfaceGrid) X(c int) float64    { return float64(c) }
func (g surfaceGrid) Y(r int) float64    { return float64(r) }

// SaveHeatmap renders surface with the best match marked. The format
// follows the file extension.
func SaveHeatmap(path string, surface *mat.Dense, best image.Point) error {
	rows, cols := surface.Dims()
	if rows == 0 || cols == 0 {
		return errors.New("empty correlation surface")
	}
	hm := plotter.NewHeatMap(surfaceGrid{surface}, palette.Heat(32, 1))
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("correlation, best %v", best)
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(hm)

	marker, err := plotter.NewScatter(plotter.XYs{{X: float64(best.X), Y: float64(best.Y)}})
	if err != nil {
		return err
	}
	marker.GlyphStyle.Color = color.RGBA{B: 0xff, A: 0xff}
	marker.GlyphStyle.Radius = vg.Points(4)
	p.Add(marker)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save heat map: %w", err)
	}
	return nil
}
