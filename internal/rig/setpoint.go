// Package rig describes the actuator side of the owl rig: the five PWM
// channels, their hardware limits and the operating mode of a session.
package rig

import "fmt"

// Setpoint is the target position vector for the rig's actuators, one PWM
// unit per channel. The supervisor mutates it once per control cycle.
type Setpoint struct {
	Rx   int `json:"rx"`
	Ry   int `json:"ry"`
	Lx   int `json:"lx"`
	Ly   int `json:"ly"`
	Neck int `json:"neck"`
}

// Home is the rest position the rig is driven to when a session starts.
var Home = Setpoint{Rx: 1500, Ry: 1500, Lx: 1470, Ly: 1660, Neck: 1500}

// Channel identifies one actuator channel. Channels are ordered as they
// appear on the wire.
type Channel int

const (
	ChannelRx Channel = iota
	ChannelRy
	ChannelLx
	ChannelLy
	ChannelNeck
)

// Channels lists every channel in wire order.
var Channels = [...]Channel{ChannelRx, ChannelRy, ChannelLx, ChannelLy, ChannelNeck}

func (c Channel) String() string {
	switch c {
	case ChannelRx:
		return "rx"
	case ChannelRy:
		return "ry"
	case ChannelLx:
		return "lx"
	case ChannelLy:
		return "ly"
	case ChannelNeck:
		return "neck"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// Get returns the value of channel c.
func (s Setpoint) Get(c Channel) int {
	switch c {
	case ChannelRx:
		return s.Rx
	case ChannelRy:
		return s.Ry
	case ChannelLx:
		return s.Lx
	case ChannelLy:
		return s.Ly
	case ChannelNeck:
		return s.Neck
	}
	return 0
}

// Set assigns v to channel c. Unknown channels are ignored.
func (s *Setpoint) Set(c Channel, v int) {
	switch c {
	case ChannelRx:
		s.Rx = v
	case ChannelRy:
		s.Ry = v
	case ChannelLx:
		s.Lx = v
	case ChannelLy:
		s.Ly = v
	case ChannelNeck:
		s.Neck = v
	}
}

// Values returns the channel values in wire order.
func (s Setpoint) Values() [5]int {
	return [5]int{s.Rx, s.Ry, s.Lx, s.Ly, s.Neck}
}

func (s Setpoint) String() string {
	return fmt.Sprintf("rx=%d ry=%d lx=%d ly=%d neck=%d", s.Rx, s.Ry, s.Lx, s.Ly, s.Neck)
}
