package runtime

import (
	"errors"
	"fmt"

	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
	"chargegrid.ai/internal/sim/world/logic/chargenet"
)

// ErrCascadeDiverged means a cascade used up its evaluation budget. The
// update rule always settles, so this is a bug, not a runtime condition.
var ErrCascadeDiverged = errors.New("charge cascade did not settle")

// DefaultMaxEvaluations applies when Scheduler.MaxEvaluations is not set.
const DefaultMaxEvaluations = 1 << 20

const (
	TriggerTilePlaced      = "TILE_PLACED"
	TriggerTileRemoved     = "TILE_REMOVED"
	TriggerEmitterPlaced   = "EMITTER_PLACED"
	TriggerEmitterRemoved  = "EMITTER_REMOVED"
	TriggerEmitterChanged  = "EMITTER_CHANGED"
	TriggerNeighborChanged = "NEIGHBOR_CHANGED"
	TriggerResettle        = "RESETTLE"
)

// CascadeStats describes one finished cascade.
type CascadeStats struct {
	Trigger     string
	Origin      modelpkg.Vec3i
	Seeds       int
	Waves       int
	Evaluations int
	Writes      int
}

// Ops is the host-facing callback set used by the scheduler.
type Ops struct {
	// OnCascade runs after every cascade, including aborted ones (err != nil).
	OnCascade func(stats CascadeStats, err error)
}

// Scheduler runs charge cascades to completion. It is not safe for concurrent
// use: every trigger must come from the goroutine that owns Net.
type Scheduler struct {
	Net            chargenet.World
	MaxEvaluations int
	Ops            Ops

	pending PendingSet
}

// Budget is the evaluation cap for a network of the given size.
func Budget(tiles, perTile, minimum int) int {
	b := (tiles + 1) * perTile
	if b < minimum {
		b = minimum
	}
	return b
}

// RequestReevaluation queues positions for the next Drain.
func (s *Scheduler) RequestReevaluation(ps ...modelpkg.Vec3i) {
	s.pending.Add(ps...)
}

// TilePlaced settles the network after a network tile appeared at pos. The
// host must already report pos as a network tile.
func (s *Scheduler) TilePlaced(pos modelpkg.Vec3i) (CascadeStats, error) {
	s.Net.SetCharge(pos, 0)
	s.RequestReevaluation(chargenet.Affected(pos, true)...)
	return s.Drain(TriggerTilePlaced, pos)
}

// TileRemoved settles the network after the tile at pos went away.
func (s *Scheduler) TileRemoved(pos modelpkg.Vec3i) (CascadeStats, error) {
	s.RequestReevaluation(neighbors(pos)...)
	return s.Drain(TriggerTileRemoved, pos)
}

func (s *Scheduler) EmitterPlaced(pos modelpkg.Vec3i) (CascadeStats, error) {
	s.RequestReevaluation(chargenet.Affected(pos, true)[1:]...)
	return s.Drain(TriggerEmitterPlaced, pos)
}

func (s *Scheduler) EmitterRemoved(pos modelpkg.Vec3i) (CascadeStats, error) {
	s.RequestReevaluation(neighbors(pos)...)
	return s.Drain(TriggerEmitterRemoved, pos)
}

// EmitterChanged settles the network after the output of the emitter at pos changed.
func (s *Scheduler) EmitterChanged(pos modelpkg.Vec3i) (CascadeStats, error) {
	s.RequestReevaluation(neighbors(pos)...)
	return s.Drain(TriggerEmitterChanged, pos)
}

// NeighborChanged evaluates pos against the neighbor at from and fans out
// only if pos changed.
func (s *Scheduler) NeighborChanged(pos, from modelpkg.Vec3i) (CascadeStats, error) {
	stats := CascadeStats{Trigger: TriggerNeighborChanged, Origin: pos, Seeds: 1, Evaluations: 1}
	if s.Net.TileKind(pos) != modelpkg.KindNetwork {
		stats.Evaluations = 0
		s.report(stats, nil)
		return stats, nil
	}
	next := chargenet.PropagateFrom(s.Net, pos, from)
	if next == nil {
		s.report(stats, nil)
		return stats, nil
	}
	s.RequestReevaluation(next...)
	rest, err := s.drain(TriggerNeighborChanged, pos)
	stats.Waves = rest.Waves + 1
	stats.Evaluations += rest.Evaluations
	stats.Writes = rest.Writes + 1
	s.report(stats, err)
	return stats, err
}

// Drain evaluates pending positions wave by wave until none change.
func (s *Scheduler) Drain(trigger string, origin modelpkg.Vec3i) (CascadeStats, error) {
	stats, err := s.drain(trigger, origin)
	s.report(stats, err)
	return stats, err
}

func (s *Scheduler) drain(trigger string, origin modelpkg.Vec3i) (CascadeStats, error) {
	stats := CascadeStats{Trigger: trigger, Origin: origin, Seeds: s.pending.Len()}
	budget := s.MaxEvaluations
	if budget <= 0 {
		budget = DefaultMaxEvaluations
	}

	for s.pending.Len() > 0 {
		wave := s.pending.Take()
		stats.Waves++
		for _, p := range wave {
			if s.Net.TileKind(p) != modelpkg.KindNetwork {
				continue
			}
			if stats.Evaluations >= budget {
				s.pending.Reset()
				return stats, fmt.Errorf("%w: trigger=%s origin=%v evaluations=%d", ErrCascadeDiverged, trigger, origin, stats.Evaluations)
			}
			stats.Evaluations++
			if next := chargenet.Propagate(s.Net, p); next != nil {
				stats.Writes++
				s.RequestReevaluation(next...)
			}
		}
	}
	return stats, nil
}

func (s *Scheduler) report(stats CascadeStats, err error) {
	if s.Ops.OnCascade != nil {
		s.Ops.OnCascade(stats, err)
	}
}

func neighbors(pos modelpkg.Vec3i) []modelpkg.Vec3i {
	out := make([]modelpkg.Vec3i, 0, 4)
	for _, d := range modelpkg.Directions {
		out = append(out, modelpkg.Neighbor(pos, d))
	}
	return out
}
