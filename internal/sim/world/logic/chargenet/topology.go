package chargenet

import (
	"strings"

	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
)

// ConnectionState is the per-direction link classification of one tile,
// indexed by modelpkg.Direction.
type ConnectionState [4]modelpkg.Link

func (c ConnectionState) Side(d modelpkg.Direction) modelpkg.Link { return c[d] }

// Pack stores the state in one byte, two bits per direction starting at north.
func (c ConnectionState) Pack() uint8 {
	var b uint8
	for _, d := range modelpkg.Directions {
		b |= uint8(c[d]&0x3) << (2 * d)
	}
	return b
}

func UnpackConnections(b uint8) ConnectionState {
	var c ConnectionState
	for _, d := range modelpkg.Directions {
		c[d] = modelpkg.Link((b >> (2 * d)) & 0x3)
	}
	return c
}

func (c ConnectionState) String() string {
	var sb strings.Builder
	for i, d := range modelpkg.Directions {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(d.String())
		sb.WriteByte('=')
		sb.WriteString(c[d].String())
	}
	return sb.String()
}

// ConnectionsAt classifies the four neighbors of pos.
func ConnectionsAt(w World, pos Pos) ConnectionState {
	var c ConnectionState
	for _, d := range modelpkg.Directions {
		switch w.TileKind(modelpkg.Neighbor(pos, d)) {
		case modelpkg.KindNetwork:
			c[d] = modelpkg.LinkSide
		case modelpkg.KindEmitter:
			c[d] = modelpkg.LinkExternal
		default:
			c[d] = modelpkg.LinkNone
		}
	}
	return c
}
