package vision

import (
	"math/rand/v2"
)

// noiseImage builds a deterministic textured image.
func noiseImage(w, h, ch int, seed uint64) Image {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	im := NewImage(w, h, ch)
	for i := range im.Pix {
		im.Pix[i] = uint8(r.IntN(256))
	}
	return im
}
