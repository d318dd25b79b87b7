package store

import (
	"sort"

	"chargegrid.ai/internal/sim/world/logic/mathx"
)

func (s *ChunkStore) InBounds(x, y, z int) bool {
	if y != 0 {
		return false
	}
	if s.BoundaryR > 0 {
		if x < -s.BoundaryR || x > s.BoundaryR || z < -s.BoundaryR || z > s.BoundaryR {
			return false
		}
	}
	return true
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.Chunks))
	for k := range s.Chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// locate returns the loaded chunk holding (x, z) and the local coordinates.
// Reads never create chunks; a missing chunk is all AIR.
func (s *ChunkStore) locate(x, z int) (*Chunk, int, int) {
	k, lx, lz := Cell(x, z)
	return s.Chunks[k], lx, lz
}

// locateOrCreate is locate for writers.
func (s *ChunkStore) locateOrCreate(x, z int) (*Chunk, int, int) {
	k, lx, lz := Cell(x, z)
	return s.GetOrCreateChunk(k.CX, k.CZ), lx, lz
}

// Cell maps world (x, z) to its chunk key and in-chunk coordinates.
func Cell(x, z int) (ChunkKey, int, int) {
	cx, lx := mathx.Split(x, ChunkSize)
	cz, lz := mathx.Split(z, ChunkSize)
	return ChunkKey{CX: cx, CZ: cz}, lx, lz
}

func (s *ChunkStore) GetBlock(x, y, z int) uint16 {
	if !s.InBounds(x, y, z) {
		return s.Air
	}
	ch, lx, lz := s.locate(x, z)
	if ch == nil {
		return s.Air
	}
	return ch.Get(lx, lz)
}

func (s *ChunkStore) SetBlock(x, y, z int, b uint16) {
	if !s.InBounds(x, y, z) {
		return
	}
	ch, lx, lz := s.locateOrCreate(x, z)
	ch.Set(lx, lz, b)
}

func (s *ChunkStore) GetCharge(x, y, z int) uint8 {
	if !s.InBounds(x, y, z) {
		return 0
	}
	ch, lx, lz := s.locate(x, z)
	if ch == nil {
		return 0
	}
	return ch.Charge[ch.index(lx, lz)]
}

func (s *ChunkStore) SetCharge(x, y, z int, v uint8) {
	if !s.InBounds(x, y, z) {
		return
	}
	ch, lx, lz := s.locateOrCreate(x, z)
	ch.set8(ch.Charge, lx, lz, v)
}

func (s *ChunkStore) GetOutput(x, y, z int) uint8 {
	if !s.InBounds(x, y, z) {
		return 0
	}
	ch, lx, lz := s.locate(x, z)
	if ch == nil {
		return 0
	}
	return ch.Output[ch.index(lx, lz)]
}

func (s *ChunkStore) SetOutput(x, y, z int, v uint8) {
	if !s.InBounds(x, y, z) {
		return
	}
	ch, lx, lz := s.locateOrCreate(x, z)
	ch.set8(ch.Output, lx, lz, v)
}

func (s *ChunkStore) GetConn(x, y, z int) uint8 {
	if !s.InBounds(x, y, z) {
		return 0
	}
	ch, lx, lz := s.locate(x, z)
	if ch == nil {
		return 0
	}
	return ch.Conn[ch.index(lx, lz)]
}

func (s *ChunkStore) SetConn(x, y, z int, v uint8) {
	if !s.InBounds(x, y, z) {
		return
	}
	ch, lx, lz := s.locateOrCreate(x, z)
	ch.Conn[ch.index(lx, lz)] = v
}

func (s *ChunkStore) GetOrCreateChunk(cx, cz int) *Chunk {
	k := ChunkKey{CX: cx, CZ: cz}
	if ch, ok := s.Chunks[k]; ok {
		return ch
	}
	ch := newChunk(cx, cz, s.Air)
	_ = ch.Digest()
	s.Chunks[k] = ch
	return ch
}
