package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const fileSuffix = ".snap.zst"

// Path is where the server writes the snapshot for tick under worldDir.
func Path(worldDir string, tick uint64) string {
	return filepath.Join(worldDir, "snapshots", strconv.FormatUint(tick, 10)+fileSuffix)
}

// Entry is a snapshot file found on disk.
type Entry struct {
	Path string
	Tick uint64
}

// List returns the "<tick>.snap.zst" files in dir, oldest first. Other files
// (rollback outputs, temp files) are ignored. A missing dir is not an error.
func List(dir string) ([]Entry, error) {
	ents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		stem, ok := strings.CutSuffix(e.Name(), fileSuffix)
		if !ok {
			continue
		}
		tick, err := strconv.ParseUint(stem, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Path: filepath.Join(dir, e.Name()), Tick: tick})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

// Latest returns the highest-tick snapshot of a world directory.
func Latest(worldDir string) (Entry, bool) {
	ents, err := List(filepath.Join(worldDir, "snapshots"))
	if err != nil || len(ents) == 0 {
		return Entry{}, false
	}
	return ents[len(ents)-1], true
}
