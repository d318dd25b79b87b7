package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chargegrid.ai/internal/persistence/indexdb"
	"chargegrid.ai/internal/persistence/snapshot"
	"chargegrid.ai/internal/sim/catalogs"
	"chargegrid.ai/internal/sim/tuning"
	"chargegrid.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.AuditLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	LatestSnapshot(ctx context.Context) (tick uint64, path string, err error)
	Stats() indexdb.Stats
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CG_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported CG_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
