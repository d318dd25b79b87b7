package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingEdits []EditEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingEdits = append(pendingEdits, env)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingEdits)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEdits = pendingEdits[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server. It is intended for deterministic replays and tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, edits []EditEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, edits)
	return tick, w.stateDigest(tick)
}

func (w *World) step(joins []JoinRequest, leaves []string, edits []EditEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	w.curTick = nowTick
	clear(w.touched)

	// Leaves and joins apply at the tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		delete(w.limits, id)
		if _, ok := w.clients[id]; ok {
			delete(w.clients, id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinClient(req)
		if req.Resp != nil {
			req.Resp <- resp
		}
		recordedJoins = append(recordedJoins, RecordedJoin{ClientID: resp.Welcome.ClientID, Name: req.Name})
	}

	// Edits apply in inbox order; each cascade settles before the next edit.
	recorded := make([]RecordedEdit, 0, len(edits))
	for _, env := range edits {
		if len(env.Edit.Edits) == 0 {
			continue
		}
		recorded = append(recorded, RecordedEdit{ClientID: env.ClientID, Edits: env.Edit.Edits})
		for _, e := range env.Edit.Edits {
			ev := w.applyEdit(env.ClientID, e)
			if cl := w.clients[env.ClientID]; cl != nil {
				cl.Events = append(cl.Events, ev)
			}
		}
	}
	w.curActor = ""

	w.broadcastState(nowTick)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Edits: recorded, Digest: digest})
	}

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	m := WorldMetrics{
		Tick:         nextTick,
		Wires:        w.wires,
		Emitters:     w.emitters,
		Clients:      len(w.clients),
		LoadedChunks: len(w.chunks.Chunks),
		Cascades:     w.cascadesTotal,
		Diverged:     w.divergedTotal,
		Backlog: Backlog{
			Edits:  len(w.inbox),
			Joins:  len(w.join),
			Leaves: len(w.leave),
		},
		StepMS: stepMS,
	}
	w.metrics.Store(&m)
	if w.observer != nil {
		w.observer.ObserveStep(m)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
