package store

import (
	"fmt"

	snapv1 "chargegrid.ai/internal/persistence/snapshot"
)

// ExportLoadedChunks converts loaded chunk data into snapshot chunks.
func ExportLoadedChunks(chunks map[ChunkKey]*Chunk, keys []ChunkKey) []snapv1.ChunkV1 {
	out := make([]snapv1.ChunkV1, 0, len(keys))
	for _, k := range keys {
		ch := chunks[k]
		if ch == nil {
			continue
		}
		out = append(out, snapv1.ChunkV1{
			CX:     k.CX,
			CZ:     k.CZ,
			Height: 1,
			Blocks: append([]uint16(nil), ch.Blocks...),
			Charge: append([]uint8(nil), ch.Charge...),
			Output: append([]uint8(nil), ch.Output...),
		})
	}
	return out
}

// ImportChunks rebuilds a chunk store from snapshot chunks. Connection state
// is not stored in snapshots; it is refreshed by the next evaluation.
func ImportChunks(air uint16, boundaryR int, chunks []snapv1.ChunkV1) (*ChunkStore, error) {
	const n = ChunkSize * ChunkSize
	store := NewChunkStore(air, boundaryR)
	for _, ch := range chunks {
		if ch.Height != 1 {
			return nil, fmt.Errorf("snapshot chunk height mismatch: got %d want 1", ch.Height)
		}
		if len(ch.Blocks) != n {
			return nil, fmt.Errorf("snapshot chunk blocks length mismatch: got %d want %d", len(ch.Blocks), n)
		}
		if len(ch.Charge) != n || len(ch.Output) != n {
			return nil, fmt.Errorf("snapshot chunk %d,%d level arrays length mismatch: charge=%d output=%d want %d", ch.CX, ch.CZ, len(ch.Charge), len(ch.Output), n)
		}
		for i, v := range ch.Charge {
			if v > 15 || ch.Output[i] > 15 {
				return nil, fmt.Errorf("snapshot chunk %d,%d level out of range at %d", ch.CX, ch.CZ, i)
			}
		}
		k := ChunkKey{CX: ch.CX, CZ: ch.CZ}
		if _, dup := store.Chunks[k]; dup {
			return nil, fmt.Errorf("snapshot chunk %d,%d appears twice", ch.CX, ch.CZ)
		}
		c := &Chunk{
			CX:     ch.CX,
			CZ:     ch.CZ,
			Blocks: append([]uint16(nil), ch.Blocks...),
			Charge: append([]uint8(nil), ch.Charge...),
			Output: append([]uint8(nil), ch.Output...),
			Conn:   make([]uint8, n),
			dirty:  true,
		}
		_ = c.Digest()
		store.Chunks[k] = c
	}
	return store, nil
}
