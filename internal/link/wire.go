package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/owl-rig/owl/internal/rig"
)

// fieldCount is the number of integers in every packet.
const fieldCount = 5

// Format renders sp as "<Rx> <Ry> <Lx> <Ly> <Neck>".
func Format(sp rig.Setpoint) string {
	return fmt.Sprintf("%d %d %d %d %d", sp.Rx, sp.Ry, sp.Lx, sp.Ly, sp.Neck)
}

// Parse reads a packet produced by Format. Surrounding whitespace and runs of
// spaces are tolerated.
func Parse(s string) (rig.Setpoint, error) {
	fields := strings.Fields(s)
	if len(fields) != fieldCount {
		return rig.Setpoint{}, fmt.Errorf("invalid packet %q: expected %d fields, got %d", s, fieldCount, len(fields))
	}
	var v [fieldCount]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return rig.Setpoint{}, fmt.Errorf("invalid packet %q: field %d: %w", s, i, err)
		}
		v[i] = n
	}
	return rig.Setpoint{Rx: v[0], Ry: v[1], Lx: v[2], Ly: v[3], Neck: v[4]}, nil
}
