package digestcodec

import "encoding/binary"

// Writer is the subset of hash.Hash used for digests.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// WriteU64 appends v little-endian using tmp as scratch.
func WriteU64(w Writer, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.Write(tmp[:])
}

func WriteI64(w Writer, tmp *[8]byte, v int64) {
	WriteU64(w, tmp, uint64(v))
}

// WriteString is length-prefixed so adjacent strings cannot alias.
func WriteString(w Writer, tmp *[8]byte, s string) {
	WriteU64(w, tmp, uint64(len(s)))
	w.Write([]byte(s))
}
