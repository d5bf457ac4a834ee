package rig

import "fmt"

// Range is an inclusive PWM interval for one channel.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Span returns Max-Min, the usable travel of the channel.
func (r Range) Span() int { return r.Max - r.Min }

// Clamp keeps v inside [Min, Max].
func (r Range) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// Limits holds the hardware-safe range of every channel.
type Limits struct {
	Rx   Range `json:"rx"`
	Ry   Range `json:"ry"`
	Lx   Range `json:"lx"`
	Ly   Range `json:"ly"`
	Neck Range `json:"neck"`
}

// DefaultLimits spans 1000-2000 on every channel, the usual hobby servo band.
func DefaultLimits() Limits {
	r := Range{Min: 1000, Max: 2000}
	return Limits{Rx: r, Ry: r, Lx: r, Ly: r, Neck: r}
}

// For returns the range configured for channel c.
func (l Limits) For(c Channel) Range {
	switch c {
	case ChannelRx:
		return l.Rx
	case ChannelRy:
		return l.Ry
	case ChannelLx:
		return l.Lx
	case ChannelLy:
		return l.Ly
	case ChannelNeck:
		return l.Neck
	}
	return Range{}
}

// Validate checks that every range is non-empty.
func (l Limits) Validate() error {
	for _, c := range Channels {
		r := l.For(c)
		if r.Min > r.Max {
			return fmt.Errorf("%s limits inverted: min %d > max %d", c, r.Min, r.Max)
		}
	}
	return nil
}

// Clamp returns sp with every channel forced into its range.
func (l Limits) Clamp(sp Setpoint) Setpoint {
	out := sp
	for _, c := range Channels {
		out.Set(c, l.For(c).Clamp(sp.Get(c)))
	}
	return out
}

// Within reports whether every channel of sp is inside its range.
func (l Limits) Within(sp Setpoint) bool {
	for _, c := range Channels {
		if !l.For(c).Contains(sp.Get(c)) {
			return false
		}
	}
	return true
}
