package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCropCopies(t *testing.T) {
	src := noiseImage(20, 10, 3, 1)
	patch, err := src.Crop(image.Rect(4, 2, 12, 7))
	require.NoError(t, err)

	assert.Equal(t, 8, patch.Width)
	assert.Equal(t, 5, patch.Height)
	assert.Equal(t, 3, patch.Channels)
	for y := 0; y < patch.Height; y++ {
		for x := 0; x < patch.Width; x++ {
			for c := 0; c < 3; c++ {
				require.Equal(t, src.At(x+4, y+2, c), patch.At(x, y, c))
			}
		}
	}

	// Mutating the crop must not touch the source.
	before := src.At(4, 2, 0)
	patch.SetAt(0, 0, 0, before+1)
	assert.Equal(t, before, src.At(4, 2, 0))
}

func TestCropOutOfBounds(t *testing.T) {
	src := NewImage(10, 10, 1)
	_, err := src.Crop(image.Rect(5, 5, 11, 8))
	assert.Error(t, err)
	_, err = src.Crop(image.Rectangle{})
	assert.Error(t, err)
}

func TestFromImageRoundTrip(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range g.Pix {
		g.Pix[i] = uint8(i * 10)
	}
	im := FromImage(g)
	assert.Equal(t, 1, im.Channels)
	assert.Equal(t, g.Pix, im.Pix)
	assert.Equal(t, g.Pix, im.ToImage().(*image.Gray).Pix)

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	rgba.SetRGBA(1, 0, color.RGBA{R: 40, G: 50, B: 60, A: 255})
	im = FromImage(rgba)
	assert.Equal(t, 3, im.Channels)
	assert.Equal(t, []uint8{10, 20, 30, 40, 50, 60}, im.Pix)
	back := im.ToImage().(*image.RGBA)
	assert.Equal(t, color.RGBA{R: 40, G: 50, B: 60, A: 255}, back.RGBAAt(1, 0))
}

func TestSplitStereo(t *testing.T) {
	src := noiseImage(8, 2, 1, 2)
	sf, err := SplitStereo(src)
	require.NoError(t, err)
	assert.Equal(t, 4, sf.Left.Width)
	assert.Equal(t, 4, sf.Right.Width)
	assert.Equal(t, src.At(0, 1, 0), sf.Left.At(0, 1, 0))
	assert.Equal(t, src.At(4, 1, 0), sf.Right.At(0, 1, 0))

	_, err = SplitStereo(NewImage(7, 2, 1))
	assert.Error(t, err)
	_, err = SplitStereo(Image{})
	assert.Error(t, err)
}
