package world

import (
	"fmt"
	"sort"

	"chargegrid.ai/internal/persistence/snapshot"
	chargeruntime "chargegrid.ai/internal/sim/world/feature/charge/runtime"
	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/chargenet"
	"chargegrid.ai/internal/sim/world/logic/ids"
	"chargegrid.ai/internal/sim/world/logic/rates"
	"chargegrid.ai/internal/sim/world/terrain/store"
)

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		TickRate:           w.cfg.TickRateHz,
		Height:             1,
		BoundaryR:          w.cfg.BoundaryR,
		WatchRadiusMax:     w.cfg.WatchRadiusMax,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		CascadeVisitFactor: w.cfg.CascadeVisitFactor,
		CascadeMinBudget:   w.cfg.CascadeMinBudget,
		EditWindowTicks:    w.cfg.EditWindowTicks,
		EditMax:            w.cfg.EditMax,
		Palette:            append([]string(nil), w.catalogs.Blocks.Palette...),
		PaletteDigest:      w.catalogs.Blocks.PaletteDigest,
		Chunks:             store.ExportLoadedChunks(w.chunks.Chunks, w.chunks.LoadedChunkKeys()),
		RateWindows:        w.exportRateWindows(),
		Counters: snapshot.CountersV1{
			NextClientNum: w.nextClientNum.Load(),
			Cascades:      w.cascadesTotal,
			Diverged:      w.divergedTotal,
		},
	}
}

// ImportSnapshot replaces the world state. Connection state is recomputed and
// the network is checked; if any wire is off its fixed point the unstable
// wires are re-settled and a RESETTLE audit is written. Must be called before
// Run or from the world loop.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.Height != 1 {
		return fmt.Errorf("snapshot height mismatch: got %d want 1", s.Height)
	}
	if s.PaletteDigest != w.catalogs.Blocks.PaletteDigest {
		return fmt.Errorf("snapshot palette digest mismatch: snapshot=%s catalogs=%s", s.PaletteDigest, w.catalogs.Blocks.PaletteDigest)
	}
	chunks, err := store.ImportChunks(w.air, s.BoundaryR, s.Chunks)
	if err != nil {
		return err
	}
	for _, ch := range chunks.Chunks {
		for i, b := range ch.Blocks {
			if int(b) >= len(w.kinds) {
				return fmt.Errorf("snapshot chunk %d,%d: unknown block id %d", ch.CX, ch.CZ, b)
			}
			k := w.kinds[b]
			if (ch.Charge[i] != 0 && k != modelpkg.KindNetwork) || (ch.Output[i] != 0 && k != modelpkg.KindEmitter) {
				return fmt.Errorf("snapshot chunk %d,%d: level on %s tile at %d", ch.CX, ch.CZ, k, i)
			}
		}
	}

	w.cfg.BoundaryR = s.BoundaryR
	if s.TickRate > 0 {
		w.cfg.TickRateHz = s.TickRate
	}
	if s.WatchRadiusMax > 0 {
		w.cfg.WatchRadiusMax = s.WatchRadiusMax
	}
	if s.SnapshotEveryTicks > 0 {
		w.cfg.SnapshotEveryTicks = s.SnapshotEveryTicks
	}
	if s.CascadeVisitFactor > 0 {
		w.cfg.CascadeVisitFactor = s.CascadeVisitFactor
	}
	if s.CascadeMinBudget > 0 {
		w.cfg.CascadeMinBudget = s.CascadeMinBudget
	}

	w.cfg.EditWindowTicks = s.EditWindowTicks
	w.cfg.EditMax = s.EditMax

	w.chunks = chunks
	w.clients = map[string]*clientState{}
	next := s.Counters.NextClientNum
	w.limits = make(map[string]*rates.Window, len(s.RateWindows))
	for _, rw := range s.RateWindows {
		w.limits[rw.ClientID] = &rates.Window{Start: rw.StartTick, Count: rw.Count}
		// A window outliving the counter would otherwise be inherited by a new client.
		if n, ok := ids.ParseClientID(rw.ClientID); ok && n > next {
			next = n
		}
	}
	w.nextClientNum.Store(next)
	w.cascadesTotal = s.Counters.Cascades
	w.divergedTotal = s.Counters.Diverged
	w.recount()
	w.tick.Store(s.Header.Tick + 1)

	wires := w.tilesOfKind(modelpkg.KindNetwork)
	for _, p := range wires {
		w.net.SetConnections(p, chargenet.ConnectionsAt(w.net, p))
	}
	_, err = w.resettle(s.Header.Tick, wires)
	return err
}

func (w *World) resettle(tick uint64, wires []Vec3i) (chargeruntime.CascadeStats, error) {
	unstable := chargenet.Unstable(w.net, wires)
	if len(unstable) == 0 {
		return chargeruntime.CascadeStats{}, nil
	}
	w.curTick = tick
	w.curActor = "WORLD"
	defer func() { w.curActor = "" }()

	w.sched.MaxEvaluations = w.budget()
	w.sched.RequestReevaluation(unstable...)
	stats, err := w.sched.Drain(chargeruntime.TriggerResettle, unstable[0])
	w.audit(AuditEntry{
		Tick:        tick,
		Actor:       "WORLD",
		Action:      "RESETTLE",
		Pos:         unstable[0].ToArray(),
		Reason:      fmt.Sprintf("unstable_wires=%d", len(unstable)),
		Evaluations: stats.Evaluations,
		Writes:      stats.Writes,
	})
	if err != nil {
		return stats, fmt.Errorf("resettle after import: %w", err)
	}
	return stats, nil
}

func (w *World) exportRateWindows() []snapshot.RateWindowV1 {
	if len(w.limits) == 0 {
		return nil
	}
	out := make([]snapshot.RateWindowV1, 0, len(w.limits))
	for id, win := range w.limits {
		out = append(out, snapshot.RateWindowV1{ClientID: id, StartTick: win.Start, Count: win.Count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
