package vision

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// flatVariance is the window energy below which a window is treated as flat
// and scores zero.
const flatVariance = 1e-9

// NCC is a pure Go zero-mean normalised cross-correlation engine, the
// equivalent of OpenCV's TM_CCOEFF_NORMED. Scores lie in [-1, 1].
//
// The cross term is computed in the frequency domain over the whole frame;
// window energies come from integral images.
type NCC struct{}

// Correlate implements CorrelationEngine.
func (NCC) Correlate(frame, template Image) (*mat.Dense, error) {
	if err := CheckCompatible(frame, template); err != nil {
		return nil, err
	}

	ch := frame.Channels
	tw, th := template.Width, template.Height
	n := float64(tw * th)

	// Each channel of tz sums to zero, so the frame window mean drops out of
	// the numerator and the frame can be shifted by any constant per channel.
	tz, tEnergy := zeroMeanChannels(template)

	fh, fw := frame.Height, frame.Width
	plane := newPlane(fh, fw)
	acc := make([]complex128, fh*fw)
	fbuf := make([]complex128, fh*fw)
	tbuf := make([]complex128, fh*fw)
	for c := 0; c < ch; c++ {
		var mean float64
		for i := c; i < len(frame.Pix); i += ch {
			mean += float64(frame.Pix[i])
		}
		mean /= float64(fh * fw)
		for i := range fbuf {
			fbuf[i] = complex(float64(frame.Pix[i*ch+c])-mean, 0)
			tbuf[i] = 0
		}
		for y := 0; y < th; y++ {
			for x := 0; x < tw; x++ {
				tbuf[y*fw+x] = complex(tz[c][y*tw+x], 0)
			}
		}
		plane.forward(fbuf)
		plane.forward(tbuf)
		for i, f := range fbuf {
			acc[i] += f * cmplx.Conj(tbuf[i])
		}
	}
	plane.inverse(acc)
	scale := 1 / float64(fh*fw)

	sums := newIntegrals(frame)
	rows, cols := fh-th+1, fw-tw+1
	out := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var wEnergy float64
			for c := 0; c < ch; c++ {
				s, sq := sums[c].window(x, y, tw, th)
				wEnergy += sq - s*s/n
			}
			den := math.Sqrt(tEnergy * wEnergy)
			if tEnergy < flatVariance || wEnergy < flatVariance || den == 0 {
				continue
			}
			score := real(acc[y*fw+x]) * scale / den
			out.Set(y, x, math.Max(-1, math.Min(1, score)))
		}
	}
	return out, nil
}

// zeroMeanChannels splits im into one row-major plane per channel with the
// channel mean removed, and returns the total energy of the result.
func zeroMeanChannels(im Image) ([][]float64, float64) {
	ch := im.Channels
	size := im.Width * im.Height
	planes := make([][]float64, ch)
	for c := range planes {
		p := make([]float64, size)
		for i := range p {
			p[i] = float64(im.Pix[i*ch+c])
		}
		mean := floats.Sum(p) / float64(size)
		floats.AddConst(-mean, p)
		planes[c] = p
	}
	var energy float64
	for _, p := range planes {
		energy += floats.Dot(p, p)
	}
	return planes, energy
}

// plane runs unnormalised 2D complex FFTs over a row-major rows×cols grid.
type plane struct {
	rows, cols int
	rowFFT     *fourier.CmplxFFT
	colFFT     *fourier.CmplxFFT
	col        []complex128
}

func newPlane(rows, cols int) *plane {
	return &plane{
		rows:   rows,
		cols:   cols,
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		col:    make([]complex128, rows),
	}
}

func (p *plane) forward(data []complex128) {
	p.apply(data, p.rowFFT.Coefficients, p.colFFT.Coefficients)
}

// inverse leaves the result scaled by rows*cols.
func (p *plane) inverse(data []complex128) {
	p.apply(data, p.rowFFT.Sequence, p.colFFT.Sequence)
}

func (p *plane) apply(data []complex128, rowOp, colOp func(dst, src []complex128) []complex128) {
	for y := 0; y < p.rows; y++ {
		row := data[y*p.cols : (y+1)*p.cols]
		rowOp(row, row)
	}
	for x := 0; x < p.cols; x++ {
		for y := 0; y < p.rows; y++ {
			p.col[y] = data[y*p.cols+x]
		}
		colOp(p.col, p.col)
		for y := 0; y < p.rows; y++ {
			data[y*p.cols+x] = p.col[y]
		}
	}
}

// integral is a summed-area table of one channel and of its squares.
type integral struct {
	w   int
	sum []float64
	sq  []float64
}

func newIntegrals(im Image) []integral {
	out := make([]integral, im.Channels)
	w, h := im.Width+1, im.Height+1
	for c := range out {
		it := integral{w: w, sum: make([]float64, w*h), sq: make([]float64, w*h)}
		for y := 1; y < h; y++ {
			var rowSum, rowSq float64
			for x := 1; x < w; x++ {
				v := float64(im.At(x-1, y-1, c))
				rowSum += v
				rowSq += v * v
				it.sum[y*w+x] = it.sum[(y-1)*w+x] + rowSum
				it.sq[y*w+x] = it.sq[(y-1)*w+x] + rowSq
			}
		}
		out[c] = it
	}
	return out
}

// window returns the sum and the sum of squares over the w×h window whose
// top-left corner is (x, y).
func (it integral) window(x, y, w, h int) (sum, sq float64) {
	a := y*it.w + x
	b := y*it.w + x + w
	c := (y+h)*it.w + x
	d := (y+h)*it.w + x + w
	return it.sum[d] - it.sum[b] - it.sum[c] + it.sum[a], it.sq[d] - it.sq[b] - it.sq[c] + it.sq[a]
}
