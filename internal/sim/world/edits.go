package world

import (
	"errors"
	"fmt"

	"chargegrid.ai/internal/protocol"
	"chargegrid.ai/internal/sim/catalogs"
	chargeruntime "chargegrid.ai/internal/sim/world/feature/charge/runtime"
	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/rates"
)

type editError struct {
	code string
	msg  string
}

func (e *editError) Error() string { return e.code + ": " + e.msg }

func rejectEdit(code, format string, args ...any) *editError {
	return &editError{code: code, msg: fmt.Sprintf(format, args...)}
}

// applyEdit applies one edit and runs its cascade to completion. The edit
// stays applied even when the cascade fails; the result then carries
// E_INTERNAL.
func (w *World) applyEdit(actor string, e protocol.EditReq) protocol.Event {
	ev := protocol.Event{
		"t":    w.curTick,
		"type": "EDIT_RESULT",
		"ref":  e.ID,
		"op":   e.Op,
		"pos":  e.Pos,
	}
	w.curActor = actor

	stats, err := w.dispatchEdit(actor, e)
	var rej *editError
	switch {
	case errors.As(err, &rej):
		ev["ok"] = false
		ev["code"] = rej.code
		ev["message"] = rej.msg
	case errors.Is(err, chargeruntime.ErrCascadeDiverged):
		ev["ok"] = false
		ev["code"] = protocol.ErrInternal
		ev["message"] = err.Error()
	case err != nil:
		ev["ok"] = false
		ev["code"] = protocol.ErrInternal
		ev["message"] = err.Error()
	default:
		ev["ok"] = true
	}
	ev["changed"] = stats.Writes
	ev["evaluations"] = stats.Evaluations
	return ev
}

func (w *World) dispatchEdit(actor string, e protocol.EditReq) (chargeruntime.CascadeStats, error) {
	if ok, cooldown := w.allowEdit(actor); !ok {
		return chargeruntime.CascadeStats{}, rejectEdit(protocol.ErrRateLimit, "edit rate limit; retry in %d ticks", cooldown)
	}
	pos := Vec3i{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
	if !w.chunks.InBounds(pos.X, pos.Y, pos.Z) {
		return chargeruntime.CascadeStats{}, rejectEdit(protocol.ErrInvalidTarget, "out of bounds: %v", e.Pos)
	}
	w.sched.MaxEvaluations = w.budget()

	switch e.Op {
	case protocol.EditPlace:
		return w.editPlace(actor, pos, e)
	case protocol.EditRemove:
		return w.editRemove(actor, pos)
	case protocol.EditSetOutput:
		if e.Output == nil {
			return chargeruntime.CascadeStats{}, rejectEdit(protocol.ErrBadRequest, "missing output")
		}
		return w.editSetOutput(actor, pos, *e.Output)
	case protocol.EditToggle:
		return w.editToggle(actor, pos)
	default:
		return chargeruntime.CascadeStats{}, rejectEdit(protocol.ErrBadRequest, "unknown op %q", e.Op)
	}
}

func (w *World) editPlace(actor string, pos Vec3i, e protocol.EditReq) (chargeruntime.CascadeStats, error) {
	var none chargeruntime.CascadeStats
	def, ok := w.catalogs.Blocks.Defs[e.Block]
	if !ok {
		return none, rejectEdit(protocol.ErrBadRequest, "unknown block %q", e.Block)
	}
	bid := w.catalogs.Blocks.Index[e.Block]
	if bid == w.air {
		return none, rejectEdit(protocol.ErrBadRequest, "cannot place AIR; use REMOVE")
	}
	if def.Kind != catalogs.KindEmitter && e.Output != nil {
		return none, rejectEdit(protocol.ErrBadRequest, "output only applies to emitters")
	}
	out := 0
	if def.Kind == catalogs.KindEmitter && !def.Toggle {
		out = def.Output
	}
	if e.Output != nil {
		out = *e.Output
	}
	if out < 0 || out > modelpkg.MaxCharge {
		return none, rejectEdit(protocol.ErrBadRequest, "output out of range: %d", out)
	}
	if cur := w.chunks.GetBlock(pos.X, pos.Y, pos.Z); cur != w.air {
		return none, rejectEdit(protocol.ErrBlocked, "tile occupied by %s", w.catalogs.Blocks.Palette[cur])
	}

	w.setBlock(actor, pos, bid, "PLACE")
	switch w.kindOf(bid) {
	case modelpkg.KindNetwork:
		w.wires++
		w.sched.MaxEvaluations = w.budget()
		return w.sched.TilePlaced(pos)
	case modelpkg.KindEmitter:
		w.emitters++
		w.setOutput(actor, pos, uint8(out))
		return w.sched.EmitterPlaced(pos)
	}
	return none, nil
}

func (w *World) editRemove(actor string, pos Vec3i) (chargeruntime.CascadeStats, error) {
	var none chargeruntime.CascadeStats
	cur := w.chunks.GetBlock(pos.X, pos.Y, pos.Z)
	if cur == w.air {
		return none, rejectEdit(protocol.ErrInvalidTarget, "nothing to remove")
	}
	kind := w.kindOf(cur)
	switch kind {
	case modelpkg.KindNetwork:
		w.net.SetCharge(pos, 0)
		w.chunks.SetConn(pos.X, pos.Y, pos.Z, 0)
		w.wires--
	case modelpkg.KindEmitter:
		w.setOutput(actor, pos, 0)
		w.emitters--
	}
	w.setBlock(actor, pos, w.air, "REMOVE")

	switch kind {
	case modelpkg.KindNetwork:
		return w.sched.TileRemoved(pos)
	case modelpkg.KindEmitter:
		return w.sched.EmitterRemoved(pos)
	}
	return none, nil
}

func (w *World) editSetOutput(actor string, pos Vec3i, out int) (chargeruntime.CascadeStats, error) {
	var none chargeruntime.CascadeStats
	if w.net.TileKind(pos) != modelpkg.KindEmitter {
		return none, rejectEdit(protocol.ErrInvalidTarget, "not an emitter")
	}
	if out < 0 || out > modelpkg.MaxCharge {
		return none, rejectEdit(protocol.ErrBadRequest, "output out of range: %d", out)
	}
	if w.net.EmitterOutput(pos) == uint8(out) {
		return none, nil
	}
	w.setOutput(actor, pos, uint8(out))
	return w.sched.EmitterChanged(pos)
}

func (w *World) editToggle(actor string, pos Vec3i) (chargeruntime.CascadeStats, error) {
	var none chargeruntime.CascadeStats
	def, ok := w.catalogs.Blocks.Defs[w.BlockAt(pos)]
	if !ok || def.Kind != catalogs.KindEmitter || !def.Toggle {
		return none, rejectEdit(protocol.ErrInvalidTarget, "not a toggle emitter")
	}
	next := uint8(def.Output)
	if w.net.EmitterOutput(pos) > 0 {
		next = 0
	}
	w.setOutput(actor, pos, next)
	return w.sched.EmitterChanged(pos)
}

func (w *World) setBlock(actor string, pos Vec3i, b uint16, reason string) {
	from := w.chunks.GetBlock(pos.X, pos.Y, pos.Z)
	if from == b {
		return
	}
	w.chunks.SetBlock(pos.X, pos.Y, pos.Z, b)
	w.touched[pos] = struct{}{}
	w.audit(AuditEntry{Tick: w.curTick, Actor: actor, Action: "SET_BLOCK", Pos: pos.ToArray(), From: from, To: b, Reason: reason})
}

func (w *World) setOutput(actor string, pos Vec3i, v uint8) {
	from := w.chunks.GetOutput(pos.X, pos.Y, pos.Z)
	if from == v {
		return
	}
	w.chunks.SetOutput(pos.X, pos.Y, pos.Z, v)
	w.touched[pos] = struct{}{}
	w.audit(AuditEntry{Tick: w.curTick, Actor: actor, Action: "SET_OUTPUT", Pos: pos.ToArray(), From: uint16(from), To: uint16(v)})
}

// allowEdit charges one op against the actor's edit window. Windows are keyed
// by client id whether or not the client is connected, so replays match.
func (w *World) allowEdit(actor string) (bool, uint64) {
	if w.cfg.EditWindowTicks <= 0 || w.cfg.EditMax <= 0 {
		return true, 0
	}
	win := w.limits[actor]
	if win == nil {
		win = &rates.Window{}
		w.limits[actor] = win
	}
	return win.Allow(w.curTick, uint64(w.cfg.EditWindowTicks), w.cfg.EditMax)
}
