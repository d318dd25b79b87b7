// Package chargenet computes charge levels for a network of conductive tiles fed
// by emitters. Charge falls by one per hop and is recomputed locally, one tile at
// a time, until no tile changes.
//
// The package never stores tiles. Everything is read through World on every
// evaluation, so callers must not mutate the world from another goroutine while
// a cascade is running: doing so does not crash, it converges to wrong values.
package chargenet

import modelpkg "chargegrid.ai/internal/sim/world/kernel/model"

type Pos = modelpkg.Vec3i

// World is the host grid as seen by the network.
type World interface {
	TileKind(Pos) modelpkg.TileKind
	// Charge is only meaningful for network tiles.
	Charge(Pos) uint8
	// SetCharge stores a new charge. It must not trigger any further evaluation.
	SetCharge(Pos, uint8)
	// EmitterOutput is only meaningful for emitters.
	EmitterOutput(Pos) uint8
}

// ConnectionStore is implemented by hosts that keep the last computed
// ConnectionState next to each tile (for clients, snapshots).
type ConnectionStore interface {
	Connections(Pos) ConnectionState
	SetConnections(Pos, ConnectionState)
}

// Reevaluator is the hand-off from the engine to whatever owns the pending set.
type Reevaluator interface {
	RequestReevaluation(ps ...Pos)
}
