package store

import (
	"crypto/sha256"
	"encoding/binary"
)

const ChunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

type Chunk struct {
	CX, CZ int
	Blocks []uint16 // palette ids, len = 16*16 (pure 2D world)
	Charge []uint8  // network tiles only
	Output []uint8  // emitters only
	Conn   []uint8  // packed connection state, network tiles only

	dirty bool
	hash  [32]byte
}

func newChunk(cx, cz int, air uint16) *Chunk {
	ch := &Chunk{
		CX:     cx,
		CZ:     cz,
		Blocks: make([]uint16, ChunkSize*ChunkSize),
		Charge: make([]uint8, ChunkSize*ChunkSize),
		Output: make([]uint8, ChunkSize*ChunkSize),
		Conn:   make([]uint8, ChunkSize*ChunkSize),
		dirty:  true,
	}
	if air != 0 {
		for i := range ch.Blocks {
			ch.Blocks[i] = air
		}
	}
	return ch
}

func (c *Chunk) index(x, z int) int {
	return x + z*ChunkSize
}

func (c *Chunk) Get(x, z int) uint16 {
	return c.Blocks[c.index(x, z)]
}

func (c *Chunk) Set(x, z int, b uint16) {
	i := c.index(x, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *Chunk) set8(arr []uint8, x, z int, v uint8) {
	i := c.index(x, z)
	if arr[i] == v {
		return
	}
	arr[i] = v
	c.dirty = true
}

// Digest covers blocks, charges and outputs. Connection state is derived data
// and is left out.
func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		h.Write(c.Charge)
		h.Write(c.Output)
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

type ChunkStore struct {
	Air       uint16
	BoundaryR int // blocks; 0 means unbounded
	Chunks    map[ChunkKey]*Chunk
}

func NewChunkStore(air uint16, boundaryR int) *ChunkStore {
	return &ChunkStore{
		Air:       air,
		BoundaryR: boundaryR,
		Chunks:    map[ChunkKey]*Chunk{},
	}
}
