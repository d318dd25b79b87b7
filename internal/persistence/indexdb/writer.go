package indexdb

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"chargegrid.ai/internal/sim/world"
)

const (
	batchMaxOps  = 2000
	batchMaxWait = 2 * time.Second
)

type statements struct {
	tick, edit, audit, cascade, snapshot *sql.Stmt
}

func prepareStatements(db *sql.DB) (*statements, error) {
	st := &statements{}
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&st.tick, `INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,edits,raw_json) VALUES(?,?,?,?,?,?)`},
		{&st.edit, `INSERT OR REPLACE INTO edits(tick,seq,client_id,edit_id,op,x,y,z,block,output) VALUES(?,?,?,?,?,?,?,?,?,?)`},
		{&st.audit, `INSERT OR REPLACE INTO audits(tick,seq,actor,action,x,y,z,from_value,to_value,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`},
		{&st.cascade, `INSERT OR REPLACE INTO cascades(tick,seq,actor,cause,x,y,z,evaluations,writes,diverged) VALUES(?,?,?,?,?,?,?,?,?,?)`},
		{&st.snapshot, `INSERT OR REPLACE INTO snapshots(tick,path,height,boundary_r,chunks,palette_digest) VALUES(?,?,?,?,?,?)`},
	} {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			st.close()
			return nil, err
		}
		*p.dst = stmt
	}
	return st, nil
}

func (st *statements) close() {
	for _, s := range []*sql.Stmt{st.tick, st.edit, st.audit, st.cascade, st.snapshot} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// batch groups index writes into one transaction until it is large or old
// enough to commit. A failed statement discards the whole batch.
type batch struct {
	db     *sql.DB
	tx     *sql.Tx
	ops    int
	opened time.Time
}

func (b *batch) exec(stmt *sql.Stmt, args ...any) bool {
	if b.tx == nil {
		tx, err := b.db.Begin()
		if err != nil {
			return false
		}
		b.tx, b.ops, b.opened = tx, 0, time.Now()
	}
	if _, err := b.tx.Stmt(stmt).Exec(args...); err != nil {
		_ = b.tx.Rollback()
		b.tx = nil
		return false
	}
	b.ops++
	return true
}

func (b *batch) due() bool {
	return b.tx != nil && (b.ops >= batchMaxOps || time.Since(b.opened) >= batchMaxWait)
}

func (b *batch) commit() {
	if b.tx != nil {
		_ = b.tx.Commit()
		b.tx = nil
	}
}

// writer owns the prepared statements and per-tick sequence counters.
// Only the index goroutine touches it.
type writer struct {
	st *statements
	b  batch

	auditTick  uint64
	auditSeq   int
	cascadeSeq int
}

func (w *writer) run(ch <-chan req) {
	defer w.st.close()
	idle := time.NewTicker(batchMaxWait / 4)
	defer idle.Stop()
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				w.b.commit()
				return
			}
			w.handle(r)
		case <-idle.C:
		}
		if w.b.due() {
			w.b.commit()
		}
	}
}

func (w *writer) handle(r req) {
	switch r.kind {
	case reqFlush:
		w.b.commit()
		close(r.done)
	case reqTick:
		w.tick(r.tick)
	case reqAudit:
		w.audit(r.audit)
	case reqSnapshot:
		sn := r.snapshot
		w.b.exec(w.st.snapshot, int64(sn.Tick), sn.Path, sn.Height, sn.BoundaryR, sn.Chunks, sn.PaletteDigest)
	}
}

func (w *writer) tick(t world.TickLogEntry) {
	edits := 0
	for _, e := range t.Edits {
		edits += len(e.Edits)
	}
	raw, _ := json.Marshal(t)
	if !w.b.exec(w.st.tick, int64(t.Tick), t.Digest, len(t.Joins), len(t.Leaves), edits, string(raw)) {
		return
	}
	seq := 0
	for _, env := range t.Edits {
		for _, e := range env.Edits {
			var output any
			if e.Output != nil {
				output = *e.Output
			}
			if !w.b.exec(w.st.edit, int64(t.Tick), seq, env.ClientID, e.ID, e.Op, e.Pos[0], e.Pos[1], e.Pos[2], e.Block, output) {
				return
			}
			seq++
		}
	}
}

func (w *writer) audit(a world.AuditEntry) {
	if a.Tick != w.auditTick {
		w.auditTick, w.auditSeq, w.cascadeSeq = a.Tick, 0, 0
	}
	seq := w.auditSeq
	w.auditSeq++
	raw, _ := json.Marshal(a)
	if !w.b.exec(w.st.audit, int64(a.Tick), seq, a.Actor, a.Action, a.Pos[0], a.Pos[1], a.Pos[2], int64(a.From), int64(a.To), a.Reason, string(raw)) {
		return
	}
	if a.Action != "CASCADE" {
		return
	}
	cause, diverged := splitCascadeReason(a.Reason)
	w.b.exec(w.st.cascade, int64(a.Tick), w.cascadeSeq, a.Actor, cause, a.Pos[0], a.Pos[1], a.Pos[2], a.Evaluations, a.Writes, diverged)
	w.cascadeSeq++
}

// splitCascadeReason separates "TRIGGER: error" CASCADE reasons.
func splitCascadeReason(reason string) (cause string, diverged bool) {
	cause, _, diverged = strings.Cut(reason, ": ")
	return cause, diverged
}
