package runtime

import (
	"sort"

	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
)

// mapGrid is a minimal host: a map of wires and a map of emitters.
type mapGrid struct {
	wires    map[modelpkg.Vec3i]uint8
	emitters map[modelpkg.Vec3i]uint8
}

func newMapGrid() *mapGrid {
	return &mapGrid{
		wires:    map[modelpkg.Vec3i]uint8{},
		emitters: map[modelpkg.Vec3i]uint8{},
	}
}

func (g *mapGrid) TileKind(p modelpkg.Vec3i) modelpkg.TileKind {
	if _, ok := g.wires[p]; ok {
		return modelpkg.KindNetwork
	}
	if _, ok := g.emitters[p]; ok {
		return modelpkg.KindEmitter
	}
	return modelpkg.KindOther
}

func (g *mapGrid) Charge(p modelpkg.Vec3i) uint8        { return g.wires[p] }
func (g *mapGrid) SetCharge(p modelpkg.Vec3i, v uint8)  { g.wires[p] = v }
func (g *mapGrid) EmitterOutput(p modelpkg.Vec3i) uint8 { return g.emitters[p] }

func (g *mapGrid) wirePositions() []modelpkg.Vec3i {
	out := make([]modelpkg.Vec3i, 0, len(g.wires))
	for p := range g.wires {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// expected computes max(output - hops) over every emitter by plain relaxation.
func (g *mapGrid) expected() map[modelpkg.Vec3i]int {
	best := map[modelpkg.Vec3i]int{}
	for p := range g.wires {
		v := 0
		for _, d := range modelpkg.Directions {
			if out, ok := g.emitters[modelpkg.Neighbor(p, d)]; ok && int(out) > v {
				v = int(out)
			}
		}
		best[p] = v
	}
	for changed := true; changed; {
		changed = false
		for p := range g.wires {
			for _, d := range modelpkg.Directions {
				n := modelpkg.Neighbor(p, d)
				if _, ok := g.wires[n]; !ok {
					continue
				}
				if best[n]-1 > best[p] {
					best[p] = best[n] - 1
					changed = true
				}
			}
		}
	}
	return best
}

func at(x, z int) modelpkg.Vec3i { return modelpkg.Vec3i{X: x, Z: z} }
