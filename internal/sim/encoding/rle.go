package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Cell is any per-tile value carried in a STATE window: palette ids or levels.
type Cell interface {
	~uint8 | ~uint16
}

// MaxDecoded bounds the number of cells DecodeRLE will expand.
const MaxDecoded = 1 << 20

// EncodeRLE encodes a sequence of cells into base64(varint pairs).
// The pairs are (value, run_len) repeated.
func EncodeRLE[T Cell](cells []T) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		v := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == v && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE[T Cell](b64 string) ([]T, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var zero T
	limit := uint64(1)<<(8*unsafe.Sizeof(zero)) - 1

	var out []T
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > limit {
			return nil, fmt.Errorf("value too large: %d", v)
		}
		if run == 0 || uint64(len(out))+run > MaxDecoded {
			return nil, fmt.Errorf("bad run length %d", run)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, T(v))
		}
	}
	return out, nil
}
