package chargenet

import modelpkg "chargegrid.ai/internal/sim/world/kernel/model"

// ResolveCharge computes the charge pos should hold, using its own current
// charge as the floor.
func ResolveCharge(w World, pos Pos, conns ConnectionState) uint8 {
	return ResolveChargeFrom(w, pos, pos, conns)
}

// ResolveChargeFrom computes the charge of pos when the evaluation was caused
// by source. The source's charge is the floor and the source is not counted
// again among the neighbors, so a tile never hands a value straight back to the
// tile that just gave it.
//
// A tile with no neighbor stronger than the floor decays by one. Repeated
// evaluation therefore drains segments that lost their emitter.
func ResolveChargeFrom(w World, pos, source Pos, conns ConnectionState) uint8 {
	floor := 0
	if source == pos || w.TileKind(source) == modelpkg.KindNetwork {
		floor = int(w.Charge(source))
	}

	emitter := 0
	neighborMax := 0
	for _, d := range modelpkg.Directions {
		n := modelpkg.Neighbor(pos, d)
		switch conns[d] {
		case modelpkg.LinkExternal:
			if v := int(w.EmitterOutput(n)); v > emitter {
				emitter = v
			}
		case modelpkg.LinkSide:
			if n == source {
				continue
			}
			if v := int(w.Charge(n)); v > neighborMax {
				neighborMax = v
			}
		}
	}

	next := 0
	if neighborMax > floor {
		next = neighborMax - 1
	} else if floor > 0 {
		next = floor - 1
	}
	// Emitters are not decayed at the tile they touch.
	if emitter > next-1 {
		next = emitter
	}
	return modelpkg.ClampCharge(next)
}
