package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "chargegrid.ai/internal/persistence/log"
	"chargegrid.ai/internal/persistence/snapshot"
	"chargegrid.ai/internal/sim/world"
	"chargegrid.ai/internal/sim/world/terrain/store"
)

var commands = map[string]func([]string){
	"list":     listCmd,
	"inspect":  inspectCmd,
	"rollback": rollbackCmd,
	"db":       dbCmd,
	"state":    stateCmd,
}

func main() {
	if len(os.Args) >= 2 {
		if cmd, ok := commands[os.Args[1]]; ok {
			cmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func fatalf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

// listCmd prints one line per world with its newest snapshot, or every
// snapshot of a single world when -world is set.
func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		ents, err := snapshot.List(filepath.Join(base, *worldID, "snapshots"))
		if err != nil {
			fatalf(1, "read: %v", err)
		}
		for _, e := range ents {
			fmt.Printf("%d\t%s\n", e.Tick, e.Path)
		}
		return
	}

	worlds, err := os.ReadDir(base)
	if err != nil {
		fatalf(1, "read: %v", err)
	}
	for _, w := range worlds {
		if !w.IsDir() {
			continue
		}
		latest, ok := snapshot.Latest(filepath.Join(base, w.Name()))
		if !ok {
			fmt.Printf("%s\tno snapshots\n", w.Name())
			continue
		}
		fmt.Printf("%s\tlatest_tick=%d\n", w.Name(), latest.Tick)
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "snapshot path")
	_ = fs.Parse(args)

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fatalf(1, "read snapshot: %v", err)
	}
	printJSON(summarize(snap))
}

type snapshotSummary struct {
	WorldID   string `json:"world_id"`
	Tick      uint64 `json:"tick"`
	BoundaryR int    `json:"boundary_r"`
	Chunks    int    `json:"chunks"`
	Charged   int    `json:"charged_tiles"`
	Emitting  int    `json:"emitting_tiles"`
	Cascades  uint64 `json:"cascades"`
	Diverged  uint64 `json:"diverged"`
}

func summarize(snap snapshot.SnapshotV1) snapshotSummary {
	s := snapshotSummary{
		WorldID:   snap.Header.WorldID,
		Tick:      snap.Header.Tick,
		BoundaryR: snap.BoundaryR,
		Chunks:    len(snap.Chunks),
		Cascades:  snap.Counters.Cascades,
		Diverged:  snap.Counters.Diverged,
	}
	for _, ch := range snap.Chunks {
		for i := range ch.Charge {
			if ch.Charge[i] > 0 {
				s.Charged++
			}
			if ch.Output[i] > 0 {
				s.Emitting++
			}
		}
	}
	return s
}

// rollbackCmd rewinds SET_BLOCK and SET_OUTPUT audits inside an AABB into a
// new snapshot. Charges of rewound tiles are cleared; the server re-settles
// the network when it loads the result.
func rollbackCmd(args []string) {
	var area box
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot to rewind (default: latest)")
	fs.Var(&area, "aabb", "region x1,y1,z1:x2,y2,z2 (required)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick to undo (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick to undo (inclusive; default: snapshot tick)")
	outPath := fs.String("out", "", "output snapshot path (default: <tick>.rollback.snap.zst next to the others)")
	_ = fs.Parse(args)

	switch {
	case strings.TrimSpace(*worldID) == "":
		fatalf(2, "missing -world")
	case !area.set:
		fatalf(2, "missing -aabb")
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	src := strings.TrimSpace(*snapPath)
	if src == "" {
		latest, ok := snapshot.Latest(worldDir)
		if !ok {
			fatalf(2, "no snapshot found; provide -snapshot or run the server until it writes one")
		}
		src = latest.Path
	}
	snap, err := snapshot.ReadSnapshot(src)
	if err != nil {
		fatalf(1, "read snapshot: %v", err)
	}

	endTick := *toTick
	if endTick == 0 || endTick > snap.Header.Tick {
		endTick = snap.Header.Tick
	}
	recs, err := readAudit(filepath.Join(worldDir, "audit"), *sinceTick, endTick, area)
	if err != nil {
		fatalf(1, "read audit: %v", err)
	}
	if len(recs) == 0 {
		fmt.Println("no matching audit entries; nothing to rollback")
		return
	}

	applied, skipped := applyRollback(&snap, recs)
	out := strings.TrimSpace(*outPath)
	if out == "" {
		out = filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Tick))
	}
	if err := snapshot.WriteSnapshot(out, snap); err != nil {
		fatalf(1, "write snapshot: %v", err)
	}
	fmt.Printf("rollback ok: from=%s ticks=%d..%d aabb=%s entries=%d applied=%d skipped=%d out=%s\n",
		filepath.Base(src), *sinceTick, endTick, area.String(), len(recs), applied, skipped, out)
}

type auditRec struct {
	Seq   uint64
	Entry world.AuditEntry
}

// readAudit returns matching tile writes, newest first.
func readAudit(dir string, sinceTick, toTick uint64, area box) ([]auditRec, error) {
	files, err := persistlog.ListFiles(dir, "audit")
	if err != nil {
		return nil, err
	}

	out := make([]auditRec, 0, 1024)
	var seq uint64
	for _, path := range files {
		err := persistlog.ScanFile(path, func(line []byte) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			seq++
			if e.Action != "SET_BLOCK" && e.Action != "SET_OUTPUT" {
				return nil
			}
			if e.Tick < sinceTick || e.Tick > toTick || !area.contains(e.Pos) {
				return nil
			}
			out = append(out, auditRec{Seq: seq, Entry: e})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.Tick != out[j].Entry.Tick {
			return out[i].Entry.Tick > out[j].Entry.Tick
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func applyRollback(snap *snapshot.SnapshotV1, recs []auditRec) (applied, skipped int) {
	if snap == nil || len(recs) == 0 {
		return 0, 0
	}
	chunks := map[store.ChunkKey]*snapshot.ChunkV1{}
	for i := range snap.Chunks {
		ch := &snap.Chunks[i]
		chunks[store.ChunkKey{CX: ch.CX, CZ: ch.CZ}] = ch
	}

	for _, r := range recs {
		p := r.Entry.Pos
		k, lx, lz := store.Cell(p[0], p[2])
		ch := chunks[k]
		if ch == nil || p[1] != 0 {
			skipped++
			continue
		}
		i := lx + lz*store.ChunkSize
		if i >= len(ch.Blocks) {
			skipped++
			continue
		}
		switch r.Entry.Action {
		case "SET_BLOCK":
			ch.Blocks[i] = r.Entry.From
			ch.Charge[i] = 0
		case "SET_OUTPUT":
			ch.Output[i] = uint8(r.Entry.From)
		}
		applied++
	}
	return applied, skipped
}

// box is an inclusive axis-aligned region usable as a flag value.
type box struct {
	min, max [3]int
	set      bool
}

func (b *box) String() string {
	if b == nil || !b.set {
		return ""
	}
	return fmt.Sprintf("%d,%d,%d:%d,%d,%d", b.min[0], b.min[1], b.min[2], b.max[0], b.max[1], b.max[2])
}

// Set parses "x1,y1,z1:x2,y2,z2". Corners may be given in any order.
func (b *box) Set(s string) error {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	var corners [2][3]int
	for c, part := range []string{lo, hi} {
		fields := strings.Split(strings.TrimSpace(part), ",")
		if len(fields) != 3 {
			return fmt.Errorf("corner %q: expected x,y,z", part)
		}
		for i, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return fmt.Errorf("corner %q: %w", part, err)
			}
			corners[c][i] = n
		}
	}
	for i := 0; i < 3; i++ {
		b.min[i] = min(corners[0][i], corners[1][i])
		b.max[i] = max(corners[0][i], corners[1][i])
	}
	b.set = true
	return nil
}

func (b box) contains(p [3]int) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.min[i] || p[i] > b.max[i] {
			return false
		}
	}
	return true
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
