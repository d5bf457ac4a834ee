// Package vision holds the perception half of the rig: frames, templates,
// the template matcher contract and the frame sources feeding the control
// loop.
package vision

import (
	"fmt"
	"image"
	"image/color"
)

// Image is an 8-bit raster with interleaved channels. Pix holds
// Height*Width*Channels samples in row-major order.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) Image {
	return Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Empty reports whether the image has no samples.
func (im Image) Empty() bool {
	return im.Width <= 0 || im.Height <= 0 || im.Channels <= 0 || len(im.Pix) < im.Width*im.Height*im.Channels
}

// Stride is the number of samples in one row.
func (im Image) Stride() int { return im.Width * im.Channels }

// Bounds returns the image rectangle anchored at the origin.
func (im Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Width, im.Height) }

// At returns sample c of the pixel at (x, y).
func (im Image) At(x, y, c int) uint8 {
	return im.Pix[y*im.Stride()+x*im.Channels+c]
}

// SetAt writes sample c of the pixel at (x, y).
func (im Image) SetAt(x, y, c int, v uint8) {
	im.Pix[y*im.Stride()+x*im.Channels+c] = v
}

func (im Image) String() string {
	return fmt.Sprintf("%dx%dx%d", im.Width, im.Height, im.Channels)
}

// Crop copies r out of the image. The result shares no memory with im.
func (im Image) Crop(r image.Rectangle) (Image, error) {
	if r.Empty() || !r.In(im.Bounds()) {
		return Image{}, fmt.Errorf("crop %v outside image bounds %v", r, im.Bounds())
	}
	out := NewImage(r.Dx(), r.Dy(), im.Channels)
	rowLen := out.Stride()
	for y := 0; y < out.Height; y++ {
		src := (r.Min.Y+y)*im.Stride() + r.Min.X*im.Channels
		copy(out.Pix[y*rowLen:(y+1)*rowLen], im.Pix[src:src+rowLen])
	}
	return out, nil
}

// FromImage converts a decoded image. Grayscale sources keep a single
// channel, everything else becomes 3-channel RGB.
func FromImage(src image.Image) Image {
	b := src.Bounds()
	if g, ok := src.(*image.Gray); ok {
		out := NewImage(b.Dx(), b.Dy(), 1)
		for y := 0; y < out.Height; y++ {
			copy(out.Pix[y*out.Width:(y+1)*out.Width], g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):])
		}
		return out
	}
	out := NewImage(b.Dx(), b.Dy(), 3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(src.At(x, y)).(color.RGBA)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return out
}

// ToImage converts back to the standard library representation: *image.Gray
// for single-channel images and *image.RGBA otherwise.
func (im Image) ToImage() image.Image {
	if im.Channels == 1 {
		g := image.NewGray(im.Bounds())
		copy(g.Pix, im.Pix)
		return g
	}
	out := image.NewRGBA(im.Bounds())
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			var r, g, b uint8
			if im.Channels >= 3 {
				r, g, b = im.At(x, y, 0), im.At(x, y, 1), im.At(x, y, 2)
			} else {
				r = im.At(x, y, 0)
				g, b = r, r
			}
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return out
}

// StereoFrame is one synchronised capture from both cameras.
type StereoFrame struct {
	Left  Image
	Right Image
}

// SplitStereo cuts a side-by-side capture into its left and right halves.
func SplitStereo(src Image) (StereoFrame, error) {
	if src.Empty() {
		return StereoFrame{}, fmt.Errorf("empty stereo frame")
	}
	if src.Width%2 != 0 {
		return StereoFrame{}, fmt.Errorf("stereo frame width %d is not even", src.Width)
	}
	half := src.Width / 2
	left, err := src.Crop(image.Rect(0, 0, half, src.Height))
	if err != nil {
		return StereoFrame{}, err
	}
	right, err := src.Crop(image.Rect(half, 0, src.Width, src.Height))
	if err != nil {
		return StereoFrame{}, err
	}
	return StereoFrame{Left: left, Right: right}, nil
}
