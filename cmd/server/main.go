package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chargegrid.ai/internal/observability"
	persistlog "chargegrid.ai/internal/persistence/log"
	"chargegrid.ai/internal/persistence/snapshot"
	"chargegrid.ai/internal/sim/catalogs"
	"chargegrid.ai/internal/sim/tuning"
	"chargegrid.ai/internal/sim/world"
	"chargegrid.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "grid_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + catalogs + snapshot metadata)")
		logRotate  = flag.Duration("log_rotate", time.Hour, "event/audit log segment length (min 1h)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	// Optional read-model index (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir, idx)
	}

	// Tuning is required for a fresh world; a snapshot carries its own.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	if idx != nil {
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	w, err := world.New(world.WorldConfig{
		ID:                 *worldID,
		TickRateHz:         tune.TickRateHz,
		BoundaryR:          tune.WorldBoundaryR,
		WatchRadiusMax:     tune.WatchRadiusMax,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		CascadeVisitFactor: tune.Cascade.VisitFactor,
		CascadeMinBudget:   tune.Cascade.MinBudget,
		EditWindowTicks:    tune.RateLimits.EditWindowTicks,
		EditMax:            tune.RateLimits.EditMax,
	}, cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	collector, err := observability.NewGridCollector(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	tracing := observability.TracingConfigFromEnv()
	shutdownTracing, err := observability.InitTracing(context.Background(), tracing, logger)
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown: %v", err)
		}
	}()
	if tracing.Enabled {
		w.SetObserver(observability.Observers{collector, observability.NewStepTracer(nil)})
	} else {
		w.SetObserver(collector)
	}

	logOpts := persistlog.Options{Rotate: *logRotate}
	tickLog := persistlog.NewTickLoggerWithOptions(worldDir, logOpts)
	auditLog := persistlog.NewAuditLoggerWithOptions(worldDir, logOpts)
	defer tickLog.Close()
	defer auditLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: indexTick(idx)})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: indexAudit(idx)})

	if snapshotToLoad != "" {
		if err := resume(w, snapshotToLoad, *worldID); err != nil {
			logger.Fatalf("%v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	sw := &snapshotWriter{worldDir: worldDir, idx: idx, logs: []syncer{tickLog, auditLog}, log: logger}
	go sw.run(ctx, snapCh)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", collector.Handler())
	if envBool("CG_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", adminStateHandler(*worldID, w, idx))
	} else {
		logger.Printf("admin endpoints disabled (CG_ENABLE_ADMIN_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s tick_rate_hz=%d", *addr, *worldID, w.TickRateHz())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// adminStateHandler serves loop metrics to loopback callers only.
func adminStateHandler(worldID string, w *world.World, idx runtimeIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := struct {
			WorldID string             `json:"world_id"`
			Tick    uint64             `json:"tick"`
			Metrics world.WorldMetrics `json:"metrics"`
			Index   any                `json:"index,omitempty"`
		}{
			WorldID: worldID,
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
		}
		if idx != nil {
			resp.Index = idx.Stats()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func indexTick(idx runtimeIndex) world.TickLogger {
	if idx == nil {
		return nil
	}
	return idx
}

func indexAudit(idx runtimeIndex) world.AuditLogger {
	if idx == nil {
		return nil
	}
	return idx
}

func resume(w *world.World, path, worldID string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != worldID {
		return fmt.Errorf("snapshot %s belongs to world %q, not %q", filepath.Base(path), snap.Header.WorldID, worldID)
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	return nil
}

type syncer interface{ Sync() error }

// snapshotWriter persists snapshots handed off by the world loop, records
// them in the index and syncs the event streams so replay can start from
// the new snapshot.
type snapshotWriter struct {
	worldDir string
	idx      runtimeIndex
	logs     []syncer
	log      *log.Logger
}

func (sw *snapshotWriter) run(ctx context.Context, in <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-in:
			sw.write(snap)
		}
	}
}

func (sw *snapshotWriter) write(snap snapshot.SnapshotV1) {
	path := snapshot.Path(sw.worldDir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		sw.log.Printf("snapshot tick=%d: %v", snap.Header.Tick, err)
		return
	}
	if sw.idx != nil {
		sw.idx.RecordSnapshot(path, snap)
	}
	for _, l := range sw.logs {
		if err := l.Sync(); err != nil {
			sw.log.Printf("log sync: %v", err)
		}
	}
}

// latestSnapshot prefers the index record and falls back to scanning the
// snapshots directory.
func latestSnapshot(worldDir string, idx runtimeIndex) string {
	if idx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, path, err := idx.LatestSnapshot(ctx)
		cancel()
		if err == nil && path != "" {
			if _, statErr := os.Stat(path); statErr == nil {
				return path
			}
		}
	}

	if e, ok := snapshot.Latest(worldDir); ok {
		return e.Path
	}
	return ""
}

func isLoopbackRemote(remoteAddr string) bool {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().IsLoopback()
	}
	addr, err := netip.ParseAddr(strings.Trim(remoteAddr, "[]"))
	return err == nil && addr.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
