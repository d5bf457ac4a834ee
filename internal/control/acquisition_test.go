package control

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owl-rig/owl/internal/rig"
	"github.com/owl-rig/owl/internal/vision"
)

var start = rig.Setpoint{Rx: 1500, Ry: 1500, Lx: 1470, Ly: 1660, Neck: 1500}

// TestJogTable checks that every jog key moves exactly two channels by
// exactly one step and leaves the others alone.
func TestJogTable(t *testing.T) {
	tests := []struct {
		key  Key
		want rig.Setpoint
	}{
		{KeyUp, rig.Setpoint{Rx: 1500, Ry: 1505, Lx: 1470, Ly: 1655, Neck: 1500}},
		{KeyDown, rig.Setpoint{Rx: 1500, Ry: 1495, Lx: 1470, Ly: 1665, Neck: 1500}},
		{KeyLeft, rig.Setpoint{Rx: 1495, Ry: 1500, Lx: 1465, Ly: 1660, Neck: 1500}},
		{KeyRight, rig.Setpoint{Rx: 1505, Ry: 1500, Lx: 1475, Ly: 1660, Neck: 1500}},
	}
	a := NewAcquisition(image.Rectangle{}, nil)
	for _, tc := range tests {
		t.Run(tc.key.String(), func(t *testing.T) {
			sp := start
			require.True(t, a.HandleKey(&sp, tc.key))
			if diff := cmp.Diff(tc.want, sp); diff != "" {
				t.Errorf("setpoint mismatch (-want +got):\n%s", diff)
			}

			changed := 0
			for _, c := range rig.Channels {
				d := sp.Get(c) - start.Get(c)
				if d != 0 {
					changed++
					assert.Equal(t, JogStep, abs(d), c.String())
				}
			}
			assert.Equal(t, 2, changed)
		})
	}
}

func TestNonJogKeysAreNoOps(t *testing.T) {
	a := NewAcquisition(image.Rectangle{}, nil)
	for _, k := range []Key{KeyNone, KeyCapture, KeySnapshot, KeyCancel, Key(99)} {
		sp := start
		assert.False(t, a.HandleKey(&sp, k), k.String())
		assert.Equal(t, start, sp)
	}
}

func TestJogDoesNotClamp(t *testing.T) {
	a := NewAcquisition(image.Rectangle{}, nil)
	sp := rig.Setpoint{Rx: 2000, Lx: 2000}
	a.HandleKey(&sp, KeyRight)
	assert.Equal(t, 2005, sp.Rx)
	assert.Equal(t, 2005, sp.Lx)
}

func TestCaptureTakesTargetFromRightCamera(t *testing.T) {
	left := vision.NewImage(640, 480, 1)
	right := vision.NewImage(640, 480, 1)
	for i := range right.Pix {
		right.Pix[i] = uint8(i % 251)
	}
	a := NewAcquisition(image.Rectangle{}, nil)
	require.Equal(t, image.Rect(288, 208, 352, 272), a.Target)

	tmpl, err := a.Capture(vision.StereoFrame{Left: left, Right: right})
	require.NoError(t, err)
	assert.Equal(t, TemplateSize, tmpl.Width)
	assert.Equal(t, TemplateSize, tmpl.Height)
	assert.Equal(t, right.At(288, 208, 0), tmpl.At(0, 0, 0))
	assert.Equal(t, right.At(351, 271, 0), tmpl.At(63, 63, 0))

	_, err = a.Capture(vision.StereoFrame{Left: left, Right: vision.NewImage(100, 100, 1)})
	assert.Error(t, err)
}

type recordingSink struct {
	indexes []int
	err     error
}

func (r *recordingSink) Store(_ context.Context, _ vision.StereoFrame, index int) error {
	r.indexes = append(r.indexes, index)
	return r.err
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	frame := vision.StereoFrame{Left: vision.NewImage(4, 4, 1), Right: vision.NewImage(4, 4, 1)}

	err := NewAcquisition(image.Rectangle{}, nil).Snapshot(ctx, frame, 0)
	assert.ErrorIs(t, err, ErrNoSink)

	sink := &recordingSink{}
	a := NewAcquisition(image.Rectangle{}, sink)
	require.NoError(t, a.Snapshot(ctx, frame, 0))
	require.NoError(t, a.Snapshot(ctx, frame, 1))
	assert.Equal(t, []int{0, 1}, sink.indexes)

	sink.err = errors.New("disk full")
	err = a.Snapshot(ctx, frame, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
