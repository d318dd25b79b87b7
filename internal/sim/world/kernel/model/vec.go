package model

// Vec3i is a grid coordinate. The world is planar, so Y is always 0 for
// anything stored in the chunk store.
type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func Vec3iFromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Less orders positions by X, then Y, then Z.
func (v Vec3i) Less(o Vec3i) bool {
	if v.X != o.X {
		return v.X < o.X
	}
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.Z < o.Z
}

func Manhattan(a, b Vec3i) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	dz := a.Z - b.Z
	if dz < 0 {
		dz = -dz
	}
	return dx + dy + dz
}
