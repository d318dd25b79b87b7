package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"chargegrid.ai/internal/persistence/indexdb"
	persistlog "chargegrid.ai/internal/persistence/log"
	"chargegrid.ai/internal/protocol"
	"chargegrid.ai/internal/sim/catalogs"
	"chargegrid.ai/internal/sim/world"
)

func newWorld(t *testing.T) *world.World {
	t.Helper()
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	w, err := world.New(world.WorldConfig{ID: "admin", TickRateHz: 5, BoundaryR: 32, CascadeVisitFactor: 192, CascadeMinBudget: 1024}, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func place(x, z int, block string) protocol.EditReq {
	return protocol.EditReq{Op: protocol.EditPlace, Pos: [3]int{x, 0, z}, Block: block}
}

func edit(reqs ...protocol.EditReq) []world.EditEnvelope {
	return []world.EditEnvelope{{ClientID: "C1", Edit: protocol.EditMsg{Type: protocol.TypeEdit, Edits: reqs}}}
}

func TestRollback_RewindsTilesAndResettles(t *testing.T) {
	dir := t.TempDir()
	src := newWorld(t)
	audits := persistlog.NewAuditLogger(dir)
	src.SetAuditLogger(audits)

	src.StepOnce(nil, nil, edit(place(0, 0, "BATTERY"), place(1, 0, "WIRE")))
	src.StepOnce(nil, nil, edit(place(2, 0, "WIRE"), place(3, 0, "WIRE")))
	snap := src.ExportSnapshot(1)
	_ = audits.Close()

	recs, err := readAudit(filepath.Join(dir, "audit"), 1, 1, mustBox(t, "5,0,5:-5,0,-5"))
	if err != nil {
		t.Fatalf("readAudit: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records=%d want 2", len(recs))
	}
	applied, skipped := applyRollback(&snap, recs)
	if applied != 2 || skipped != 0 {
		t.Fatalf("applied=%d skipped=%d", applied, skipped)
	}

	w := newWorld(t)
	if err := w.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if b := w.BlockAt(world.Vec3i{X: 2}); b != "AIR" {
		t.Fatalf("block at 2=%s want AIR", b)
	}
	if c := w.ChargeAt(world.Vec3i{X: 1}); c != 14 {
		t.Fatalf("charge at 1=%d want 14", c)
	}
	if bad := w.Unstable(); len(bad) != 0 {
		t.Fatalf("unstable after rollback: %v", bad)
	}
}

func TestRollback_RemovesEmitterWithOutput(t *testing.T) {
	dir := t.TempDir()
	src := newWorld(t)
	audits := persistlog.NewAuditLogger(dir)
	src.SetAuditLogger(audits)

	src.StepOnce(nil, nil, edit(place(0, 0, "WIRE")))
	src.StepOnce(nil, nil, edit(place(-1, 0, "BATTERY")))
	snap := src.ExportSnapshot(1)
	_ = audits.Close()

	recs, err := readAudit(filepath.Join(dir, "audit"), 1, 1, mustBox(t, "-1,0,0:-1,0,0"))
	if err != nil {
		t.Fatalf("readAudit: %v", err)
	}
	applyRollback(&snap, recs)

	w := newWorld(t)
	if err := w.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if c := w.ChargeAt(world.Vec3i{}); c != 0 {
		t.Fatalf("wire charge=%d want 0 once the battery is rolled back", c)
	}
}

func TestRunQuery_CascadesFromIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	_ = idx.WriteAudit(world.AuditEntry{Tick: 4, Actor: "C1", Action: "CASCADE", Reason: "TILE_PLACED", Evaluations: 3, Writes: 1})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 5, Actor: "C2", Action: "CASCADE", Reason: "EMITTER_CHANGED: charge cascade did not settle"})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 5, Actor: "C2", Action: "SET_OUTPUT", To: 9})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	defer idx.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var rows []any
	collect := func(v any) { rows = append(rows, v) }
	if err := runQuery(db, "diverged", 0, 10, "", collect); err != nil {
		t.Fatalf("diverged: %v", err)
	}
	if len(rows) != 1 || rows[0].(cascadeRow).Cause != "EMITTER_CHANGED" {
		t.Fatalf("diverged rows: %+v", rows)
	}

	rows = nil
	if err := runQuery(db, "audits", 0, 10, "C2", collect); err != nil {
		t.Fatalf("audits: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("audit rows for C2=%d want 2", len(rows))
	}
	if err := runQuery(db, "nope", 0, 10, "", collect); err == nil {
		t.Fatalf("expected unknown query error")
	}
}

func mustBox(t *testing.T, s string) box {
	t.Helper()
	var b box
	if err := b.Set(s); err != nil {
		t.Fatalf("box %q: %v", s, err)
	}
	return b
}

func TestBox_ParsesAndContains(t *testing.T) {
	b := mustBox(t, "3, 0, -2 : -1,0,4")
	if b.String() != "-1,0,-2:3,0,4" {
		t.Fatalf("normalized=%q", b.String())
	}
	if !b.contains([3]int{3, 0, 4}) || b.contains([3]int{4, 0, 0}) || b.contains([3]int{0, 1, 0}) {
		t.Fatalf("contains mismatch for %s", b.String())
	}
	for _, bad := range []string{"", "1,2,3", "1,2:3,4,5", "a,0,0:1,1,1"} {
		var x box
		if err := x.Set(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestGridSeries_FiltersExposition(t *testing.T) {
	in := "# HELP chargegrid_tick Next world tick.\n# TYPE chargegrid_tick gauge\nchargegrid_tick 7\ngo_goroutines 12\nchargegrid_wires 3\n"
	got := gridSeries([]byte(in))
	if len(got) != 2 || got[0] != "chargegrid_tick 7" || got[1] != "chargegrid_wires 3" {
		t.Fatalf("series=%q", got)
	}
}
