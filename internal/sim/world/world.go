package world

import (
	"fmt"
	"sync/atomic"

	"chargegrid.ai/internal/persistence/snapshot"
	"chargegrid.ai/internal/protocol"
	"chargegrid.ai/internal/sim/catalogs"
	chargeruntime "chargegrid.ai/internal/sim/world/feature/charge/runtime"
	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/rates"
	"chargegrid.ai/internal/sim/world/terrain/store"
)

type Vec3i = modelpkg.Vec3i

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	BoundaryR          int
	WatchRadiusMax     int
	SnapshotEveryTicks int

	// Cascade budget: max(CascadeVisitFactor*(wires+1), CascadeMinBudget).
	CascadeVisitFactor int
	CascadeMinBudget   int

	// Per-client edit ops allowed within EditWindowTicks; zero disables.
	EditWindowTicks int
	EditMax         int
}

type JoinRequest struct {
	Name  string
	Watch *protocol.WatchReq
	Out   chan []byte
	Resp  chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type EditEnvelope struct {
	ClientID string
	Edit     protocol.EditMsg
}

type RecordedJoin struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

type RecordedEdit struct {
	ClientID string             `json:"client_id"`
	Edits    []protocol.EditReq `json:"edits"`
}

// World is a single-threaded authoritative host for the charge network.
// All state must be accessed only from the world loop goroutine; the network
// reads tiles lazily during a cascade, so a concurrent writer yields wrong
// charges rather than a crash.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs

	tick atomic.Uint64

	chunks *store.ChunkStore
	kinds  []modelpkg.TileKind // by palette id
	air    uint16

	net   netView
	sched *chargeruntime.Scheduler

	wires    int
	emitters int

	clients map[string]*clientState
	limits  map[string]*rates.Window

	inbox chan EditEnvelope
	join  chan JoinRequest
	leave chan string
	stop  chan struct{}

	nextClientNum atomic.Uint64

	// Per-step bookkeeping.
	curTick  uint64
	curActor string
	touched  map[Vec3i]struct{}

	cascadesTotal uint64
	divergedTotal uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger
	observer    Observer

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Pointer[WorldMetrics]
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// Observer receives cascade and step signals from the world loop goroutine.
type Observer interface {
	ObserveCascade(stats chargeruntime.CascadeStats, err error)
	ObserveStep(m WorldMetrics)
}

type TickLogEntry struct {
	Tick   uint64         `json:"tick"`
	Joins  []RecordedJoin `json:"joins,omitempty"`
	Leaves []string       `json:"leaves,omitempty"`
	Edits  []RecordedEdit `json:"edits,omitempty"`
	Digest string         `json:"digest"`
}

type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Actor  string `json:"actor"`
	Action string `json:"action"` // SET_BLOCK, SET_OUTPUT, CASCADE, RESETTLE
	Pos    [3]int `json:"pos"`
	From   uint16 `json:"from"`
	To     uint16 `json:"to"`
	Reason string `json:"reason,omitempty"`

	Evaluations int `json:"evaluations,omitempty"`
	Writes      int `json:"writes,omitempty"`
}

type clientState struct {
	ID     string
	Name   string
	Out    chan []byte
	Center Vec3i
	Radius int
	Events []protocol.Event
	Fresh  bool
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	if cats == nil {
		return nil, fmt.Errorf("world: nil catalogs")
	}
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("world: tick rate must be > 0")
	}
	if cfg.WatchRadiusMax <= 0 {
		cfg.WatchRadiusMax = 32
	}
	air, ok := cats.Blocks.Index["AIR"]
	if !ok {
		return nil, fmt.Errorf("missing block id in palette: AIR")
	}

	kinds := make([]modelpkg.TileKind, len(cats.Blocks.Palette))
	for i, id := range cats.Blocks.Palette {
		switch cats.Blocks.Defs[id].Kind {
		case catalogs.KindWire:
			kinds[i] = modelpkg.KindNetwork
		case catalogs.KindEmitter:
			kinds[i] = modelpkg.KindEmitter
		default:
			kinds[i] = modelpkg.KindOther
		}
	}

	w := &World{
		cfg:      cfg,
		catalogs: cats,
		chunks:   store.NewChunkStore(air, cfg.BoundaryR),
		kinds:    kinds,
		air:      air,
		clients:  map[string]*clientState{},
		limits:   map[string]*rates.Window{},
		inbox:    make(chan EditEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		stop:     make(chan struct{}),
		touched:  map[Vec3i]struct{}{},
	}
	w.net = netView{w: w}
	w.sched = &chargeruntime.Scheduler{
		Net: w.net,
		Ops: chargeruntime.Ops{OnCascade: w.onCascade},
	}
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }
func (w *World) SetObserver(o Observer)       { w.observer = o }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) {
	w.snapshotSink = ch
}

func (w *World) Inbox() chan<- EditEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest   { return w.join }
func (w *World) Leave() chan<- string       { return w.leave }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }

func (w *World) audit(e AuditEntry) {
	if w.auditLogger == nil {
		return
	}
	_ = w.auditLogger.WriteAudit(e)
}
