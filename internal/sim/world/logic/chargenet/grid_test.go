package chargenet

import modelpkg "chargegrid.ai/internal/sim/world/kernel/model"

type testGrid struct {
	wires    map[Pos]uint8
	emitters map[Pos]uint8
	conns    map[Pos]ConnectionState
	writes   int
}

func newTestGrid() *testGrid {
	return &testGrid{
		wires:    map[Pos]uint8{},
		emitters: map[Pos]uint8{},
		conns:    map[Pos]ConnectionState{},
	}
}

func (g *testGrid) TileKind(p Pos) modelpkg.TileKind {
	if _, ok := g.wires[p]; ok {
		return modelpkg.KindNetwork
	}
	if _, ok := g.emitters[p]; ok {
		return modelpkg.KindEmitter
	}
	return modelpkg.KindOther
}

func (g *testGrid) Charge(p Pos) uint8        { return g.wires[p] }
func (g *testGrid) EmitterOutput(p Pos) uint8 { return g.emitters[p] }
func (g *testGrid) SetCharge(p Pos, v uint8) {
	g.writes++
	g.wires[p] = v
}

func (g *testGrid) Connections(p Pos) ConnectionState     { return g.conns[p] }
func (g *testGrid) SetConnections(p Pos, c ConnectionState) { g.conns[p] = c }

func at(x, z int) Pos { return Pos{X: x, Z: z} }
