package world

import (
	"sort"

	chargeruntime "chargegrid.ai/internal/sim/world/feature/charge/runtime"
	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/chargenet"
	"chargegrid.ai/internal/sim/world/terrain/store"
)

// netView exposes the chunk store to the charge network. It is unexported so
// that charges can only be written by cascades started on the world loop.
type netView struct{ w *World }

func (n netView) TileKind(p Vec3i) modelpkg.TileKind {
	return n.w.kindOf(n.w.chunks.GetBlock(p.X, p.Y, p.Z))
}

func (n netView) Charge(p Vec3i) uint8 { return n.w.chunks.GetCharge(p.X, p.Y, p.Z) }

func (n netView) SetCharge(p Vec3i, v uint8) {
	n.w.chunks.SetCharge(p.X, p.Y, p.Z, v)
	n.w.touched[p] = struct{}{}
}

func (n netView) EmitterOutput(p Vec3i) uint8 { return n.w.chunks.GetOutput(p.X, p.Y, p.Z) }

func (n netView) Connections(p Vec3i) chargenet.ConnectionState {
	return chargenet.UnpackConnections(n.w.chunks.GetConn(p.X, p.Y, p.Z))
}

func (n netView) SetConnections(p Vec3i, c chargenet.ConnectionState) {
	n.w.chunks.SetConn(p.X, p.Y, p.Z, c.Pack())
}

func (w *World) kindOf(b uint16) modelpkg.TileKind {
	if int(b) >= len(w.kinds) {
		return modelpkg.KindOther
	}
	return w.kinds[b]
}

func (w *World) budget() int {
	return chargeruntime.Budget(w.wires, w.cfg.CascadeVisitFactor, w.cfg.CascadeMinBudget)
}

func (w *World) onCascade(stats chargeruntime.CascadeStats, err error) {
	w.cascadesTotal++
	if err != nil {
		w.divergedTotal++
	}
	reason := stats.Trigger
	if err != nil {
		reason += ": " + err.Error()
	}
	w.audit(AuditEntry{
		Tick:        w.curTick,
		Actor:       w.curActor,
		Action:      "CASCADE",
		Pos:         stats.Origin.ToArray(),
		Reason:      reason,
		Evaluations: stats.Evaluations,
		Writes:      stats.Writes,
	})
	if w.observer != nil {
		w.observer.ObserveCascade(stats, err)
	}
}

// tilesOfKind lists every loaded tile of kind k in X,Y,Z order.
func (w *World) tilesOfKind(k modelpkg.TileKind) []Vec3i {
	var out []Vec3i
	for _, key := range w.chunks.LoadedChunkKeys() {
		ch := w.chunks.Chunks[key]
		for i, b := range ch.Blocks {
			if w.kindOf(b) != k {
				continue
			}
			out = append(out, Vec3i{
				X: key.CX*store.ChunkSize + i%store.ChunkSize,
				Z: key.CZ*store.ChunkSize + i/store.ChunkSize,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (w *World) recount() {
	w.wires = len(w.tilesOfKind(modelpkg.KindNetwork))
	w.emitters = len(w.tilesOfKind(modelpkg.KindEmitter))
}

// Unstable lists the wires whose stored charge differs from what a fresh
// evaluation would compute. A settled network returns nil.
func (w *World) Unstable() []Vec3i {
	return chargenet.Unstable(w.net, w.tilesOfKind(modelpkg.KindNetwork))
}

// ChargeAt returns the charge of a wire or the output of an emitter.
func (w *World) ChargeAt(p Vec3i) uint8 {
	switch w.net.TileKind(p) {
	case modelpkg.KindNetwork:
		return w.net.Charge(p)
	case modelpkg.KindEmitter:
		return w.net.EmitterOutput(p)
	}
	return 0
}

func (w *World) BlockAt(p Vec3i) string {
	b := w.chunks.GetBlock(p.X, p.Y, p.Z)
	if int(b) >= len(w.catalogs.Blocks.Palette) {
		return ""
	}
	return w.catalogs.Blocks.Palette[b]
}

func (w *World) TileKindAt(p Vec3i) modelpkg.TileKind { return w.net.TileKind(p) }

func (w *World) ConnectionsAt(p Vec3i) chargenet.ConnectionState { return w.net.Connections(p) }
