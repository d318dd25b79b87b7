package world

import (
	"encoding/json"

	"chargegrid.ai/internal/protocol"
	simenc "chargegrid.ai/internal/sim/encoding"
	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/ids"
	"chargegrid.ai/internal/sim/world/logic/mathx"
	"chargegrid.ai/internal/sim/world/terrain/store"
)

func (w *World) joinClient(req JoinRequest) JoinResponse {
	id := ids.ClientID(w.nextClientNum.Add(1))
	cl := &clientState{
		ID:     id,
		Name:   req.Name,
		Out:    req.Out,
		Radius: w.cfg.WatchRadiusMax / 2,
		Fresh:  true,
	}
	if req.Watch != nil {
		cl.Center = Vec3i{X: req.Watch.Center[0], Z: req.Watch.Center[2]}
		cl.Radius = req.Watch.Radius
	}
	if cl.Radius > w.cfg.WatchRadiusMax {
		cl.Radius = w.cfg.WatchRadiusMax
	}
	if cl.Radius < 0 {
		cl.Radius = 0
	}
	if cl.Out != nil {
		w.clients[id] = cl
	}

	b := w.catalogs.Blocks
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ClientID:        id,
		WorldID:         w.cfg.ID,
		Tick:            w.curTick,
		WorldParams: protocol.WorldParams{
			TickRateHz:     w.cfg.TickRateHz,
			ChunkSize:      [3]int{store.ChunkSize, store.ChunkSize, 1},
			BoundaryR:      w.cfg.BoundaryR,
			WatchRadiusMax: w.cfg.WatchRadiusMax,
			MaxCharge:      modelpkg.MaxCharge,
		},
		Catalogs: protocol.CatalogDigests{
			BlockPalette:    protocol.DigestRef{Digest: b.PaletteDigest, Count: len(b.Palette)},
			BlockDefsDigest: b.DefsDigest,
		},
	}}
}

func (cl *clientState) sees(p Vec3i) bool {
	return mathx.AbsInt(p.X-cl.Center.X) <= cl.Radius && mathx.AbsInt(p.Z-cl.Center.Z) <= cl.Radius
}

func (w *World) windowChanged(cl *clientState) bool {
	for p := range w.touched {
		if cl.sees(p) {
			return true
		}
	}
	return false
}

// broadcastState sends STATE to clients that just joined, have pending edit
// results, or whose window contains a tile touched this tick.
func (w *World) broadcastState(nowTick uint64) {
	var digest string
	for _, cl := range w.clients {
		if !cl.Fresh && len(cl.Events) == 0 && !w.windowChanged(cl) {
			continue
		}
		if digest == "" {
			digest = w.stateDigest(nowTick)
		}
		msg := w.buildState(cl, nowTick, digest)
		b, err := json.Marshal(msg)
		cl.Fresh = false
		cl.Events = nil
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}
}

func (w *World) buildState(cl *clientState, nowTick uint64, digest string) protocol.StateMsg {
	blocks, charges := w.window(cl.Center, cl.Radius)
	events := cl.Events
	if events == nil {
		events = []protocol.Event{}
	}
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		WorldID:         w.cfg.ID,
		Digest:          digest,
		Window: protocol.WindowObs{
			Center:   cl.Center.ToArray(),
			Radius:   cl.Radius,
			Encoding: "RLE",
			Blocks:   simenc.EncodeRLE(blocks),
			Charges:  simenc.EncodeRLE(charges),
		},
		Events: events,
	}
}

// window returns blocks and levels for the square of radius r around c,
// x fastest then z.
func (w *World) window(c Vec3i, r int) ([]uint16, []uint8) {
	side := 2*r + 1
	blocks := make([]uint16, 0, side*side)
	charges := make([]uint8, 0, side*side)
	for z := c.Z - r; z <= c.Z+r; z++ {
		for x := c.X - r; x <= c.X+r; x++ {
			p := Vec3i{X: x, Z: z}
			blocks = append(blocks, w.chunks.GetBlock(x, 0, z))
			charges = append(charges, w.ChargeAt(p))
		}
	}
	return blocks, charges
}
