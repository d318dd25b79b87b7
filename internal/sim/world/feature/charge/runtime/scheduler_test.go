package runtime

import (
	"errors"
	"math/rand"
	"testing"

	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/chargenet"
)

func placeWire(t *testing.T, s *Scheduler, g *mapGrid, p modelpkg.Vec3i) CascadeStats {
	t.Helper()
	g.wires[p] = 0
	st, err := s.TilePlaced(p)
	if err != nil {
		t.Fatalf("place wire %v: %v", p, err)
	}
	return st
}

func placeEmitter(t *testing.T, s *Scheduler, g *mapGrid, p modelpkg.Vec3i, out uint8) {
	t.Helper()
	g.emitters[p] = out
	if _, err := s.EmitterPlaced(p); err != nil {
		t.Fatalf("place emitter %v: %v", p, err)
	}
}

func assertCharges(t *testing.T, g *mapGrid, ps []modelpkg.Vec3i, want []uint8) {
	t.Helper()
	for i, p := range ps {
		if got := g.wires[p]; got != want[i] {
			got := make([]uint8, len(ps))
			for j, q := range ps {
				got[j] = g.wires[q]
			}
			t.Fatalf("charges=%v want %v", got, want)
		}
	}
}

func assertSettled(t *testing.T, g *mapGrid) {
	t.Helper()
	if bad := chargenet.Unstable(g, g.wirePositions()); len(bad) != 0 {
		t.Fatalf("network not settled at %v", bad)
	}
	exp := g.expected()
	for p, v := range g.wires {
		if int(v) != exp[p] {
			t.Fatalf("charge at %v=%d want %d", p, v, exp[p])
		}
	}
}

func line(x0, n int) []modelpkg.Vec3i {
	out := make([]modelpkg.Vec3i, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, at(x0+i, 0))
	}
	return out
}

func TestScheduler_LineDecaysFromEmitter(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	wires := line(0, 5)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}
	assertCharges(t, g, wires, []uint8{15, 14, 13, 12, 11})
	assertSettled(t, g)
}

func TestScheduler_WiresFirstThenEmitter(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	wires := line(0, 5)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}
	assertCharges(t, g, wires, []uint8{0, 0, 0, 0, 0})
	placeEmitter(t, s, g, at(-1, 0), 15)
	assertCharges(t, g, wires, []uint8{15, 14, 13, 12, 11})
}

func TestScheduler_EmitterOutputDrops(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	wires := line(0, 5)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}

	g.emitters[at(-1, 0)] = 5
	if _, err := s.EmitterChanged(at(-1, 0)); err != nil {
		t.Fatalf("emitter changed: %v", err)
	}
	assertCharges(t, g, wires, []uint8{5, 4, 3, 2, 1})
	assertSettled(t, g)

	g.emitters[at(-1, 0)] = 15
	if _, err := s.EmitterChanged(at(-1, 0)); err != nil {
		t.Fatalf("emitter changed: %v", err)
	}
	assertCharges(t, g, wires, []uint8{15, 14, 13, 12, 11})
}

func TestScheduler_TwoEmittersTakeTheMax(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	wires := line(0, 6)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}
	placeEmitter(t, s, g, at(-1, 0), 10)
	placeEmitter(t, s, g, at(6, 0), 15)
	assertCharges(t, g, wires, []uint8{10, 11, 12, 13, 14, 15})
	assertSettled(t, g)
}

func TestScheduler_TJunctionArmsDecayIndependently(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	stem := line(0, 3)
	east := []modelpkg.Vec3i{at(3, 0), at(4, 0)}
	south := []modelpkg.Vec3i{at(2, 1), at(2, 2)}
	north := []modelpkg.Vec3i{at(2, -1), at(2, -2)}
	for _, group := range [][]modelpkg.Vec3i{stem, east, south, north} {
		for _, p := range group {
			placeWire(t, s, g, p)
		}
	}
	assertCharges(t, g, stem, []uint8{15, 14, 13})
	for _, arm := range [][]modelpkg.Vec3i{east, south, north} {
		assertCharges(t, g, arm, []uint8{12, 11})
	}
	assertSettled(t, g)
}

func TestScheduler_RemovingMiddleTileOrphansFarSegment(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	wires := line(0, 5)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}

	delete(g.wires, at(2, 0))
	if _, err := s.TileRemoved(at(2, 0)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertCharges(t, g, []modelpkg.Vec3i{at(0, 0), at(1, 0), at(3, 0), at(4, 0)}, []uint8{15, 14, 0, 0})
	assertSettled(t, g)
}

func TestScheduler_RemovingSoleEmitterDrainsSegment(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	// A loop plus a tail, so charge could circulate if decay were wrong.
	loop := []modelpkg.Vec3i{at(0, 0), at(1, 0), at(1, 1), at(0, 1), at(2, 1), at(3, 1)}
	for _, p := range loop {
		placeWire(t, s, g, p)
	}

	delete(g.emitters, at(-1, 0))
	st, err := s.EmitterRemoved(at(-1, 0))
	if err != nil {
		t.Fatalf("remove emitter: %v", err)
	}
	for _, p := range loop {
		if g.wires[p] != 0 {
			t.Fatalf("residual charge %d at %v", g.wires[p], p)
		}
	}
	if st.Writes > modelpkg.MaxCharge*len(loop) {
		t.Fatalf("writes=%d exceeds %d", st.Writes, modelpkg.MaxCharge*len(loop))
	}
}

func TestScheduler_IdempotentOnSettledNetwork(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	for _, p := range line(0, 8) {
		placeWire(t, s, g, p)
	}
	for _, p := range g.wirePositions() {
		if next := chargenet.Propagate(g, p); next != nil {
			t.Fatalf("evaluation of settled tile %v produced %v", p, next)
		}
	}

	s.RequestReevaluation(g.wirePositions()...)
	st, err := s.Drain(TriggerResettle, at(0, 0))
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if st.Writes != 0 || st.Waves != 1 {
		t.Fatalf("settled drain wrote %d tiles over %d waves", st.Writes, st.Waves)
	}
}

func TestScheduler_EvaluationsLinearInTiles(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	wires := line(0, 40)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}
	placeEmitter(t, s, g, at(-1, 0), 15)

	delete(g.emitters, at(-1, 0))
	st, err := s.EmitterRemoved(at(-1, 0))
	if err != nil {
		t.Fatalf("remove emitter: %v", err)
	}
	if st.Writes > modelpkg.MaxCharge*len(wires) {
		t.Fatalf("writes=%d for %d tiles", st.Writes, len(wires))
	}
	if st.Evaluations > st.Seeds+5*st.Writes {
		t.Fatalf("evaluations=%d seeds=%d writes=%d", st.Evaluations, st.Seeds, st.Writes)
	}
}

func TestScheduler_NeighborChangedFansOutOnlyOnChange(t *testing.T) {
	g := newMapGrid()
	s := &Scheduler{Net: g}
	placeEmitter(t, s, g, at(-1, 0), 15)
	wires := line(0, 5)
	for _, p := range wires {
		placeWire(t, s, g, p)
	}

	st, err := s.NeighborChanged(at(2, 0), at(1, 0))
	if err != nil {
		t.Fatalf("neighbor changed: %v", err)
	}
	if st.Writes != 0 || st.Evaluations != 1 {
		t.Fatalf("stable neighbor event: writes=%d evaluations=%d", st.Writes, st.Evaluations)
	}

	// The emitter weakens behind the scheduler's back; the host reports it as a
	// neighbor change of the first tile.
	g.emitters[at(-1, 0)] = 5
	if _, err := s.NeighborChanged(at(0, 0), at(-1, 0)); err != nil {
		t.Fatalf("neighbor changed: %v", err)
	}
	assertCharges(t, g, wires, []uint8{5, 4, 3, 2, 1})
}

func TestScheduler_BudgetExhaustionIsReported(t *testing.T) {
	g := newMapGrid()
	var gotErr error
	s := &Scheduler{Net: g, Ops: Ops{OnCascade: func(_ CascadeStats, err error) { gotErr = err }}}
	for _, p := range line(0, 10) {
		placeWire(t, s, g, p)
	}
	s.MaxEvaluations = 3
	g.emitters[at(-1, 0)] = 15
	_, err := s.EmitterPlaced(at(-1, 0))
	if !errors.Is(err, ErrCascadeDiverged) {
		t.Fatalf("err=%v want ErrCascadeDiverged", err)
	}
	if !errors.Is(gotErr, ErrCascadeDiverged) {
		t.Fatalf("OnCascade err=%v", gotErr)
	}
	if s.pending.Len() != 0 {
		t.Fatalf("pending set not cleared after abort: %d", s.pending.Len())
	}
}

func TestScheduler_ReportsEveryCascade(t *testing.T) {
	g := newMapGrid()
	var triggers []string
	s := &Scheduler{Net: g, Ops: Ops{OnCascade: func(st CascadeStats, err error) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		triggers = append(triggers, st.Trigger)
	}}}
	placeEmitter(t, s, g, at(-1, 0), 15)
	placeWire(t, s, g, at(0, 0))
	delete(g.wires, at(0, 0))
	if _, err := s.TileRemoved(at(0, 0)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	want := []string{TriggerEmitterPlaced, TriggerTilePlaced, TriggerTileRemoved}
	if len(triggers) != len(want) {
		t.Fatalf("triggers=%v want %v", triggers, want)
	}
	for i := range want {
		if triggers[i] != want[i] {
			t.Fatalf("triggers=%v want %v", triggers, want)
		}
	}
}

func TestScheduler_RandomEditsMatchShortestPathDecay(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	g := newMapGrid()
	s := &Scheduler{Net: g}
	const size = 10

	for step := 0; step < 600; step++ {
		p := at(r.Intn(size), r.Intn(size))
		switch g.TileKind(p) {
		case modelpkg.KindNetwork:
			delete(g.wires, p)
			if _, err := s.TileRemoved(p); err != nil {
				t.Fatalf("step %d remove wire: %v", step, err)
			}
		case modelpkg.KindEmitter:
			if r.Intn(2) == 0 {
				delete(g.emitters, p)
				if _, err := s.EmitterRemoved(p); err != nil {
					t.Fatalf("step %d remove emitter: %v", step, err)
				}
			} else {
				g.emitters[p] = uint8(r.Intn(modelpkg.MaxCharge + 1))
				if _, err := s.EmitterChanged(p); err != nil {
					t.Fatalf("step %d change emitter: %v", step, err)
				}
			}
		default:
			if r.Intn(10) == 0 {
				placeEmitter(t, s, g, p, uint8(r.Intn(modelpkg.MaxCharge+1)))
			} else {
				placeWire(t, s, g, p)
			}
		}
		assertSettled(t, g)
	}
}

func TestPendingSet_Dedupes(t *testing.T) {
	var s PendingSet
	if n := s.Add(at(1, 0), at(0, 0), at(1, 0)); n != 2 {
		t.Fatalf("added=%d want 2", n)
	}
	if !s.Contains(at(0, 0)) || s.Len() != 2 {
		t.Fatalf("unexpected set state len=%d", s.Len())
	}
	wave := s.Take()
	if len(wave) != 2 || wave[0] != at(0, 0) || wave[1] != at(1, 0) {
		t.Fatalf("wave=%v", wave)
	}
	if s.Len() != 0 || s.Contains(at(0, 0)) {
		t.Fatalf("Take did not reset the set")
	}
	if n := s.Add(at(0, 0)); n != 1 {
		t.Fatalf("position could not be queued again after Take")
	}
}
