package runtime

import (
	"sort"

	modelpkg "chargegrid.ai/internal/sim/world/kernel/model"
)

// PendingSet holds the positions waiting for evaluation in the next wave.
// A position is held at most once.
type PendingSet struct {
	order []modelpkg.Vec3i
	seen  map[modelpkg.Vec3i]struct{}
}

// Add queues positions and returns how many were not already pending.
func (s *PendingSet) Add(ps ...modelpkg.Vec3i) int {
	if s.seen == nil {
		s.seen = map[modelpkg.Vec3i]struct{}{}
	}
	added := 0
	for _, p := range ps {
		if _, ok := s.seen[p]; ok {
			continue
		}
		s.seen[p] = struct{}{}
		s.order = append(s.order, p)
		added++
	}
	return added
}

func (s *PendingSet) Len() int { return len(s.order) }

func (s *PendingSet) Contains(p modelpkg.Vec3i) bool {
	_, ok := s.seen[p]
	return ok
}

// Take empties the set and returns its positions sorted by X, Y, Z.
func (s *PendingSet) Take() []modelpkg.Vec3i {
	out := s.order
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	s.order = nil
	s.seen = nil
	return out
}

func (s *PendingSet) Reset() {
	s.order = nil
	s.seen = nil
}
