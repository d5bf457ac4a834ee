package overlay

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/owl-rig/owl/internal/vision"
)

func grayFrame(w, h int, v uint8) vision.Image {
	im := vision.NewImage(w, h, 1)
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

func TestAnnotateDrawsMatchAndLine(t *testing.T) {
	frame := grayFrame(100, 80, 10)
	out := Annotate(frame, image.Pt(20, 20), image.Pt(60, 10))

	assert.Equal(t, frame.Bounds(), out.Bounds())
	assert.Equal(t, matchColor, out.RGBAAt(60, 10), "rectangle corner")
	assert.Equal(t, matchColor, out.RGBAAt(79, 29), "opposite corner")
	assert.Equal(t, matchColor, out.RGBAAt(61, 20), "second ring of the outline")
	assert.Equal(t, lineColor, out.RGBAAt(50, 40), "line starts at the frame centre")
	assert.Equal(t, color.RGBA{R: 10, G: 10, B: 10, A: 0xff}, out.RGBAAt(5, 75), "background untouched")
	assert.Equal(t, color.RGBA{R: 10, G: 10, B: 10, A: 0xff}, out.RGBAAt(75, 15), "inside of window untouched")

	assert.Equal(t, uint8(10), frame.Pix[40*100+50], "source frame not modified")
}

func TestAnnotateClipsAtEdges(t *testing.T) {
	frame := grayFrame(32, 32, 0)
	assert.NotPanics(t, func() {
		Annotate(frame, image.Pt(16, 16), image.Pt(24, 24))
		Annotate(frame, image.Pt(16, 16), image.Pt(-4, -4))
	})
}

func TestLineEndpoints(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	line(img, image.Pt(2, 17), image.Pt(15, 3), 1, lineColor)
	assert.Equal(t, lineColor, img.RGBAAt(2, 17))
	assert.Equal(t, lineColor, img.RGBAAt(15, 3))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(2, 3))
}

func TestWriterDraw(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "overlays")
	w, err := NewWriter(dir, true)
	require.NoError(t, err)

	surface := mat.NewDense(9, 13, nil)
	for r := 0; r < 9; r++ {
		for c := 0; c < 13; c++ {
			surface.Set(r, c, float64(r*c)/96)
		}
	}
	frame := vision.StereoFrame{Left: grayFrame(20, 16, 100), Right: grayFrame(20, 16, 100)}
	m := vision.MatchResult{Position: image.Pt(12, 8), Surface: surface}

	require.NoError(t, w.Draw(frame, grayFrame(8, 8, 0), m))
	require.NoError(t, w.Draw(frame, grayFrame(8, 8, 0), m))

	for _, name := range []string{"track_000000.png", "surface_000000.png", "track_000001.png", "surface_000001.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestWriterWithoutHeatmap(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, false)
	require.NoError(t, err)
	frame := vision.StereoFrame{Left: grayFrame(20, 16, 0), Right: grayFrame(20, 16, 0)}
	require.NoError(t, w.Draw(frame, grayFrame(8, 8, 0), vision.MatchResult{Surface: mat.NewDense(9, 13, nil)}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "track_000000.png", entries[0].Name())
}

func TestSaveHeatmapFlatSurface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.png")
	require.NoError(t, SaveHeatmap(path, mat.NewDense(4, 4, nil), image.Pt(0, 0)))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestNewWriterRequiresDir(t *testing.T) {
	_, err := NewWriter("", false)
	assert.Error(t, err)
}
