package model

// MaxCharge is the strength of a fully charged tile and the highest emitter output.
const MaxCharge = 15

// TileKind classifies what occupies a coordinate as far as the charge network cares.
type TileKind uint8

const (
	KindOther TileKind = iota
	KindNetwork
	KindEmitter
)

func (k TileKind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK"
	case KindEmitter:
		return "EMITTER"
	default:
		return "OTHER"
	}
}

// Direction is one of the four planar neighbors.
type Direction uint8

const (
	North Direction = iota // -Z
	East                   // +X
	South                  // +Z
	West                   // -X
)

// Directions lists the four neighbors in a fixed order.
var Directions = [4]Direction{North, East, South, West}

func (d Direction) Offset() Vec3i {
	switch d {
	case North:
		return Vec3i{Z: -1}
	case East:
		return Vec3i{X: 1}
	case South:
		return Vec3i{Z: 1}
	default:
		return Vec3i{X: -1}
	}
}

func (d Direction) Opposite() Direction { return (d + 2) % 4 }

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	default:
		return "west"
	}
}

// Neighbor returns the coordinate next to p in direction d.
func Neighbor(p Vec3i, d Direction) Vec3i { return p.Add(d.Offset()) }

// Link describes how a tile connects to one neighbor.
type Link uint8

const (
	LinkNone     Link = iota
	LinkSide          // another network tile
	LinkExternal      // an emitter
)

func (l Link) String() string {
	switch l {
	case LinkSide:
		return "side"
	case LinkExternal:
		return "external"
	default:
		return "none"
	}
}

// ClampCharge bounds v to [0, MaxCharge].
func ClampCharge(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > MaxCharge {
		return MaxCharge
	}
	return uint8(v)
}
