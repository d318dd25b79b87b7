package world

import (
	"testing"

	"chargegrid.ai/internal/protocol"
	"chargegrid.ai/internal/sim/catalogs"
	"chargegrid.ai/internal/sim/tuning"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tu := tuning.Defaults()
	w, err := New(WorldConfig{
		ID:                 "test",
		TickRateHz:         tu.TickRateHz,
		BoundaryR:          64,
		WatchRadiusMax:     tu.WatchRadiusMax,
		CascadeVisitFactor: tu.Cascade.VisitFactor,
		CascadeMinBudget:   tu.Cascade.MinBudget,
	}, cats)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func at(x, z int) Vec3i { return Vec3i{X: x, Z: z} }

func placeReq(p Vec3i, block string) protocol.EditReq {
	return protocol.EditReq{Op: protocol.EditPlace, Pos: p.ToArray(), Block: block}
}

func removeReq(p Vec3i) protocol.EditReq {
	return protocol.EditReq{Op: protocol.EditRemove, Pos: p.ToArray()}
}

func outputReq(p Vec3i, v int) protocol.EditReq {
	return protocol.EditReq{Op: protocol.EditSetOutput, Pos: p.ToArray(), Output: &v}
}

func toggleReq(p Vec3i) protocol.EditReq {
	return protocol.EditReq{Op: protocol.EditToggle, Pos: p.ToArray()}
}

// step applies edits as one EDIT message from client C1 and returns the digest.
func step(w *World, edits ...protocol.EditReq) string {
	var env []EditEnvelope
	if len(edits) > 0 {
		env = append(env, EditEnvelope{ClientID: "C1", Edit: protocol.EditMsg{Type: protocol.TypeEdit, Edits: edits}})
	}
	_, d := w.StepOnce(nil, nil, env)
	return d
}

// mustEdit applies a single edit outside the tick loop and fails on rejection.
func mustEdit(t *testing.T, w *World, e protocol.EditReq) protocol.Event {
	t.Helper()
	ev := w.applyEdit("T", e)
	if ok, _ := ev["ok"].(bool); !ok {
		t.Fatalf("edit %+v rejected: %v", e, ev)
	}
	return ev
}

func wireLine(t *testing.T, w *World, from, to int) {
	t.Helper()
	for x := from; x <= to; x++ {
		mustEdit(t, w, placeReq(at(x, 0), "WIRE"))
	}
}

func assertLevels(t *testing.T, w *World, z, fromX int, want ...uint8) {
	t.Helper()
	for i, v := range want {
		p := at(fromX+i, z)
		if got := w.ChargeAt(p); got != v {
			t.Fatalf("level at %v = %d want %d (row %v)", p, got, v, row(w, z, fromX, len(want)))
		}
	}
}

func row(w *World, z, fromX, n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = w.ChargeAt(at(fromX+i, z))
	}
	return out
}

func assertSettled(t *testing.T, w *World) {
	t.Helper()
	if u := w.Unstable(); len(u) != 0 {
		t.Fatalf("network not settled, unstable wires: %v", u)
	}
}

type recordingAudit struct{ entries []AuditEntry }

func (r *recordingAudit) WriteAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) actions(action string) []AuditEntry {
	var out []AuditEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type recordingTicks struct{ entries []TickLogEntry }

func (r *recordingTicks) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}
