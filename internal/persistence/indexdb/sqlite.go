// Package indexdb keeps a SQLite read-model of a world's event, audit and
// snapshot streams for the admin tooling. The JSONL logs stay authoritative:
// writes are queued without blocking the world loop and dropped when the
// queue is full.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"chargegrid.ai/internal/persistence/snapshot"
	"chargegrid.ai/internal/sim/catalogs"
	"chargegrid.ai/internal/sim/tuning"
	"chargegrid.ai/internal/sim/world"
)

const defaultQueue = 1 << 18

type reqKind int

const (
	reqTick reqKind = iota
	reqAudit
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	audit    world.AuditEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick          uint64
	Path          string
	Height        int
	BoundaryR     int
	Chunks        int
	PaletteDigest string
}

type Stats struct {
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
}

type SQLiteIndex struct {
	db *sql.DB
	ch chan req

	done      sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool

	drops [reqFlush]atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("indexdb: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: the writer goroutine and readers share it serially.
	db.SetMaxOpenConns(1)

	st, err := setup(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("indexdb %s: %w", path, err)
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	w := &writer{st: st, b: batch{db: db}}
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		w.run(s.ch)
	}()
	return s, nil
}

func setup(db *sql.DB) (*statements, error) {
	if err := configure(db); err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return prepareStatements(db)
}

// Close drains the queue, commits and closes the database. Later writes are
// ignored.
func (s *SQLiteIndex) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.done.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTickTotal:     s.drops[reqTick].Load(),
		DropAuditTotal:    s.drops[reqAudit].Load(),
		DropSnapshotTotal: s.drops[reqSnapshot].Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.drops[r.kind].Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:          snap.Header.Tick,
		Path:          path,
		Height:        snap.Height,
		BoundaryR:     snap.BoundaryR,
		Chunks:        len(snap.Chunks),
		PaletteDigest: snap.PaletteDigest,
	}})
}

// Flush waits until every request queued before it has been committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatestSnapshot returns the highest recorded snapshot tick and its path.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (uint64, string, error) {
	var (
		tick int64
		path string
	)
	err := s.db.QueryRowContext(ctx, `SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&tick, &path)
	if err != nil {
		return 0, "", err
	}
	return uint64(tick), path, nil
}

// UpsertCatalogs records the block definitions, palette and effective tuning
// the server started with, keyed by digest.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	type row struct {
		name, digest string
		body         []byte
	}
	var rows []row
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil {
			rows = append(rows, row{"blocks_defs", cats.Blocks.DefsDigest, b})
		}
	}
	if b, err := json.Marshal(cats.Blocks.Palette); err == nil {
		rows = append(rows, row{"blocks_palette", cats.Blocks.PaletteDigest, b})
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, row{"tuning", hex.EncodeToString(sum[:]), b})
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		if r.digest == "" || len(r.body) == 0 {
			continue
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
			r.name, r.digest, string(r.body), now)
		if err != nil {
			return fmt.Errorf("catalog %s: %w", r.name, err)
		}
	}
	return tx.Commit()
}
