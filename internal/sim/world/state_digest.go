package world

import (
	"crypto/sha256"
	"encoding/hex"

	"chargegrid.ai/internal/sim/world/io/digestcodec"
)

// stateDigest hashes everything a replay must reproduce: bounds, palette,
// blocks, charges and outputs. Clients and connection state are excluded.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestcodec.WriteU64(h, &tmp, nowTick)
	digestcodec.WriteI64(h, &tmp, int64(w.cfg.BoundaryR))
	digestcodec.WriteString(h, &tmp, w.catalogs.Blocks.PaletteDigest)
	for _, k := range w.chunks.LoadedChunkKeys() {
		ch := w.chunks.Chunks[k]
		digestcodec.WriteI64(h, &tmp, int64(k.CX))
		digestcodec.WriteI64(h, &tmp, int64(k.CZ))
		d := ch.Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest is the digest of the current world state at tick.
func (w *World) StateDigest(tick uint64) string { return w.stateDigest(tick) }
