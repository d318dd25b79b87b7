package chargenet

import (
	"sort"

	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
)

// Propagate re-evaluates origin against its own charge. It returns the
// positions that must be evaluated next, or nil when origin was already at its
// fixed point.
func Propagate(w World, origin Pos) []Pos {
	return PropagateFrom(w, origin, origin)
}

// PropagateFrom is Propagate for an evaluation caused by a change at source.
func PropagateFrom(w World, origin, source Pos) []Pos {
	if w.TileKind(origin) != modelpkg.KindNetwork {
		return nil
	}
	conns := ConnectionsAt(w, origin)
	if cs, ok := w.(ConnectionStore); ok && cs.Connections(origin) != conns {
		cs.SetConnections(origin, conns)
	}

	next := ResolveChargeFrom(w, origin, source, conns)
	if next == w.Charge(origin) {
		return nil
	}
	w.SetCharge(origin, next)
	return Affected(origin, false)
}

// Affected lists origin and its four neighbors. For topology changes the
// second ring (diagonals and the tiles two steps away) is added as well, since
// their connection state may have changed.
func Affected(origin Pos, topology bool) []Pos {
	out := make([]Pos, 0, 13)
	out = append(out, origin)
	for _, d := range modelpkg.Directions {
		out = append(out, modelpkg.Neighbor(origin, d))
	}
	if !topology {
		return out
	}
	for _, d := range modelpkg.Directions {
		n := modelpkg.Neighbor(origin, d)
		out = append(out, modelpkg.Neighbor(n, d))
		out = append(out, modelpkg.Neighbor(n, (d+1)%4))
	}
	return out
}

// Unstable returns the network tiles among positions whose stored charge is
// not what a fresh evaluation would produce. A settled network returns nil.
func Unstable(w World, positions []Pos) []Pos {
	var out []Pos
	for _, p := range positions {
		if w.TileKind(p) != modelpkg.KindNetwork {
			continue
		}
		if ResolveCharge(w, p, ConnectionsAt(w, p)) != w.Charge(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
