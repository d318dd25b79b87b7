package world

import (
	"testing"

	"chargegrid.ai/internal/protocol"
	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
)

func TestWorld_BatteryFeedsLine(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(-1, 0), "BATTERY"))
	wireLine(t, w, 0, 4)

	assertLevels(t, w, 0, -1, 15, 15, 14, 13, 12, 11)
	assertSettled(t, w)
	if got := w.TileKindAt(at(0, 0)); got != modelpkg.KindNetwork {
		t.Fatalf("kind=%v want network", got)
	}
	if got := w.BlockAt(at(-1, 0)); got != "BATTERY" {
		t.Fatalf("block=%q want BATTERY", got)
	}
	conns := w.ConnectionsAt(at(0, 0))
	if conns.Side(modelpkg.West) != modelpkg.LinkExternal || conns.Side(modelpkg.East) != modelpkg.LinkSide {
		t.Fatalf("unexpected connections %v", conns)
	}
}

func TestWorld_WiresFirstThenBattery(t *testing.T) {
	w := newTestWorld(t)
	wireLine(t, w, 0, 4)
	assertLevels(t, w, 0, 0, 0, 0, 0, 0, 0)

	ev := mustEdit(t, w, placeReq(at(-1, 0), "BATTERY"))
	assertLevels(t, w, 0, 0, 15, 14, 13, 12, 11)
	if ev["changed"].(int) != 5 {
		t.Fatalf("changed=%v want 5", ev["changed"])
	}
}

func TestWorld_RemoveMiddleWireCutsTail(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(-1, 0), "BATTERY"))
	wireLine(t, w, 0, 3)
	mustEdit(t, w, removeReq(at(2, 0)))

	assertLevels(t, w, 0, 0, 15, 14, 0, 0)
	if w.BlockAt(at(2, 0)) != "AIR" {
		t.Fatalf("wire not removed")
	}
	assertSettled(t, w)

	mustEdit(t, w, placeReq(at(2, 0), "WIRE"))
	assertLevels(t, w, 0, 0, 15, 14, 13, 12)
}

func TestWorld_SetOutputRaisesAndLowers(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(-1, 0), "BATTERY"))
	wireLine(t, w, 0, 4)

	mustEdit(t, w, outputReq(at(-1, 0), 5))
	assertLevels(t, w, 0, -1, 5, 5, 4, 3, 2, 1)
	mustEdit(t, w, outputReq(at(-1, 0), 15))
	assertLevels(t, w, 0, -1, 15, 15, 14, 13, 12, 11)

	ev := mustEdit(t, w, outputReq(at(-1, 0), 15))
	if ev["evaluations"].(int) != 0 {
		t.Fatalf("unchanged output should not cascade: %v", ev)
	}
}

func TestWorld_ToggleSwitch(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(-1, 0), "SWITCH"))
	wireLine(t, w, 0, 2)
	assertLevels(t, w, 0, -1, 0, 0, 0, 0)

	mustEdit(t, w, toggleReq(at(-1, 0)))
	assertLevels(t, w, 0, -1, 15, 15, 14, 13)
	mustEdit(t, w, toggleReq(at(-1, 0)))
	assertLevels(t, w, 0, -1, 0, 0, 0, 0)
}

func TestWorld_RemoveEmitterDrainsLoop(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(-1, 0), "BATTERY"))
	for _, p := range []Vec3i{at(0, 0), at(1, 0), at(1, 1), at(0, 1)} {
		mustEdit(t, w, placeReq(p, "WIRE"))
	}
	if w.ChargeAt(at(0, 1)) != 14 {
		t.Fatalf("loop not charged: %d", w.ChargeAt(at(0, 1)))
	}
	mustEdit(t, w, removeReq(at(-1, 0)))
	for _, p := range []Vec3i{at(0, 0), at(1, 0), at(1, 1), at(0, 1)} {
		if got := w.ChargeAt(p); got != 0 {
			t.Fatalf("charge at %v = %d want 0", p, got)
		}
	}
	assertSettled(t, w)
	if w.wires != 4 || w.emitters != 0 {
		t.Fatalf("counters wires=%d emitters=%d", w.wires, w.emitters)
	}
}

func TestWorld_OtherBlocksDoNotConduct(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(-1, 0), "BATTERY"))
	mustEdit(t, w, placeReq(at(0, 0), "STONE"))
	mustEdit(t, w, placeReq(at(1, 0), "WIRE"))
	if got := w.ChargeAt(at(1, 0)); got != 0 {
		t.Fatalf("charge through stone: %d", got)
	}
	mustEdit(t, w, removeReq(at(0, 0)))
	mustEdit(t, w, placeReq(at(0, 0), "WIRE"))
	assertLevels(t, w, 0, 0, 15, 14)
}

func TestWorld_EditRejections(t *testing.T) {
	w := newTestWorld(t)
	mustEdit(t, w, placeReq(at(0, 0), "WIRE"))
	mustEdit(t, w, placeReq(at(1, 0), "BATTERY"))

	five := 5
	cases := []struct {
		name string
		req  protocol.EditReq
		code string
	}{
		{"occupied", placeReq(at(0, 0), "WIRE"), protocol.ErrBlocked},
		{"unknown block", placeReq(at(2, 0), "LAVA"), protocol.ErrBadRequest},
		{"place air", placeReq(at(2, 0), "AIR"), protocol.ErrBadRequest},
		{"wire with output", protocol.EditReq{Op: protocol.EditPlace, Pos: [3]int{2, 0, 0}, Block: "WIRE", Output: &five}, protocol.ErrBadRequest},
		{"out of bounds", placeReq(at(65, 0), "WIRE"), protocol.ErrInvalidTarget},
		{"off plane", protocol.EditReq{Op: protocol.EditPlace, Pos: [3]int{2, 1, 0}, Block: "WIRE"}, protocol.ErrInvalidTarget},
		{"remove air", removeReq(at(5, 5)), protocol.ErrInvalidTarget},
		{"output on wire", outputReq(at(0, 0), 3), protocol.ErrInvalidTarget},
		{"output range", outputReq(at(1, 0), 16), protocol.ErrBadRequest},
		{"missing output", protocol.EditReq{Op: protocol.EditSetOutput, Pos: [3]int{1, 0, 0}}, protocol.ErrBadRequest},
		{"toggle battery", toggleReq(at(1, 0)), protocol.ErrInvalidTarget},
		{"unknown op", protocol.EditReq{Op: "EXPLODE", Pos: [3]int{0, 0, 0}}, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		ev := w.applyEdit("T", tc.req)
		if ok, _ := ev["ok"].(bool); ok {
			t.Fatalf("%s: expected rejection, got %v", tc.name, ev)
		}
		if ev["code"] != tc.code {
			t.Fatalf("%s: code=%v want %s", tc.name, ev["code"], tc.code)
		}
		if !protocol.IsKnownCode(tc.code) {
			t.Fatalf("%s: unknown code %s", tc.name, tc.code)
		}
	}
	assertLevels(t, w, 0, 0, 15, 15)
}

func TestWorld_DivergedCascadeReportsInternal(t *testing.T) {
	w := newTestWorld(t)
	w.cfg.CascadeVisitFactor = 1
	w.cfg.CascadeMinBudget = 1
	wireLine(t, w, 0, 3)

	ev := w.applyEdit("T", placeReq(at(-1, 0), "BATTERY"))
	if ev["code"] != protocol.ErrInternal {
		t.Fatalf("expected E_INTERNAL, got %v", ev)
	}
	if w.divergedTotal != 1 {
		t.Fatalf("divergedTotal=%d", w.divergedTotal)
	}
	if w.BlockAt(at(-1, 0)) != "BATTERY" {
		t.Fatalf("edit must stay applied")
	}
}

func TestWorld_EditRateLimitPerClient(t *testing.T) {
	w := newTestWorld(t)
	w.cfg.EditWindowTicks = 10
	w.cfg.EditMax = 2

	for x := 0; x < 2; x++ {
		if ev := w.applyEdit("C1", placeReq(at(x, 0), "WIRE")); ev["ok"] != true {
			t.Fatalf("edit %d rejected: %v", x, ev)
		}
	}
	ev := w.applyEdit("C1", placeReq(at(2, 0), "WIRE"))
	if ev["code"] != protocol.ErrRateLimit {
		t.Fatalf("expected E_RATE_LIMIT, got %v", ev)
	}
	if w.BlockAt(at(2, 0)) != "AIR" {
		t.Fatalf("rate-limited edit must not apply")
	}
	if ev := w.applyEdit("C2", placeReq(at(2, 0), "WIRE")); ev["ok"] != true {
		t.Fatalf("other client limited: %v", ev)
	}

	// Open windows survive a snapshot and close on leave.
	w2 := newTestWorld(t)
	if err := w2.ImportSnapshot(w.ExportSnapshot(0)); err != nil {
		t.Fatalf("import: %v", err)
	}
	if ev := w2.applyEdit("C1", placeReq(at(3, 0), "WIRE")); ev["code"] != protocol.ErrRateLimit {
		t.Fatalf("window lost across snapshot: %v", ev)
	}
	w2.StepOnce(nil, []string{"C1"}, nil)
	if _, ok := w2.limits["C1"]; ok {
		t.Fatalf("leave must drop the rate window")
	}
}
