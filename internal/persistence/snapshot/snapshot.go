package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate       int `json:"tick_rate_hz"`
	Height         int `json:"height"`
	BoundaryR      int `json:"boundary_r"`
	WatchRadiusMax int `json:"watch_radius_max,omitempty"`

	// Operational parameters (captured for deterministic replay/resume).
	SnapshotEveryTicks int `json:"snapshot_every_ticks,omitempty"`
	CascadeVisitFactor int `json:"cascade_visit_factor,omitempty"`
	CascadeMinBudget   int `json:"cascade_min_budget,omitempty"`
	EditWindowTicks    int `json:"edit_window_ticks,omitempty"`
	EditMax            int `json:"edit_max,omitempty"`

	// Palette pins block ids in Chunks to names.
	Palette       []string `json:"palette"`
	PaletteDigest string   `json:"palette_digest"`

	Chunks      []ChunkV1      `json:"chunks"`
	RateWindows []RateWindowV1 `json:"rate_windows,omitempty"`
	Counters    CountersV1     `json:"counters"`
}

// RateWindowV1 is one client's open edit rate window.
type RateWindowV1 struct {
	ClientID  string `json:"client_id"`
	StartTick uint64 `json:"start_tick"`
	Count     int    `json:"count"`
}

type CountersV1 struct {
	NextClientNum uint64 `json:"next_client_num"`
	Cascades      uint64 `json:"cascades"`
	Diverged      uint64 `json:"diverged"`
}

type ChunkV1 struct {
	CX     int      `json:"cx"`
	CZ     int      `json:"cz"`
	Height int      `json:"height"`
	Blocks []uint16 `json:"blocks"`
	Charge []uint8  `json:"charge"`
	Output []uint8  `json:"output"`
}

// WriteSnapshot writes a header JSON line followed by the gob body, zstd
// compressed. The file is written to a temp path and renamed into place.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header != h {
		return snap, fmt.Errorf("snapshot header mismatch: line=%+v body=%+v", h, snap.Header)
	}
	return snap, nil
}

// ReadHeader returns only the header line, for listing snapshots.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
