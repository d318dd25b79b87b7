package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "only rows at or after tick")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor/client filter (audits, edits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, *sinceTick, *limit, strings.TrimSpace(*actor), printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-since_tick T] [-actor ID] snapshots|ticks|edits|audits|cascades|diverged")
		os.Exit(2)
	}
}

type snapshotRow struct {
	Tick          int64  `json:"tick"`
	Path          string `json:"path"`
	Height        int    `json:"height"`
	BoundaryR     int    `json:"boundary_r"`
	Chunks        int    `json:"chunks"`
	PaletteDigest string `json:"palette_digest"`
}

type tickRow struct {
	Tick   int64  `json:"tick"`
	Digest string `json:"digest"`
	Joins  int    `json:"joins"`
	Leaves int    `json:"leaves"`
	Edits  int    `json:"edits"`
}

type editRow struct {
	Tick     int64          `json:"tick"`
	Seq      int64          `json:"seq"`
	ClientID string         `json:"client_id"`
	EditID   string         `json:"edit_id"`
	Op       string         `json:"op"`
	Pos      [3]int         `json:"pos"`
	Block    sql.NullString `json:"block"`
	Output   sql.NullInt64  `json:"output"`
}

type auditRow struct {
	Tick   int64          `json:"tick"`
	Seq    int64          `json:"seq"`
	Actor  string         `json:"actor"`
	Action string         `json:"action"`
	Pos    [3]int         `json:"pos"`
	From   int            `json:"from"`
	To     int            `json:"to"`
	Reason sql.NullString `json:"reason"`
}

type cascadeRow struct {
	Tick        int64  `json:"tick"`
	Seq         int64  `json:"seq"`
	Actor       string `json:"actor"`
	Cause       string `json:"cause"`
	Pos         [3]int `json:"pos"`
	Evaluations int    `json:"evaluations"`
	Writes      int    `json:"writes"`
	Diverged    bool   `json:"diverged"`
}

// runQuery emits one JSON row per result, newest first.
func runQuery(db *sql.DB, q string, sinceTick uint64, limit int, actor string, emit func(any)) error {
	switch q {
	case "snapshots":
		return scanRows(db, `SELECT tick,path,height,boundary_r,chunks,palette_digest FROM snapshots WHERE tick>=? ORDER BY tick DESC LIMIT ?`,
			[]any{sinceTick, limit}, func(rows *sql.Rows) error {
				var r snapshotRow
				if err := rows.Scan(&r.Tick, &r.Path, &r.Height, &r.BoundaryR, &r.Chunks, &r.PaletteDigest); err != nil {
					return err
				}
				emit(r)
				return nil
			})

	case "ticks":
		return scanRows(db, `SELECT tick,digest,joins,leaves,edits FROM ticks WHERE tick>=? ORDER BY tick DESC LIMIT ?`,
			[]any{sinceTick, limit}, func(rows *sql.Rows) error {
				var r tickRow
				if err := rows.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Edits); err != nil {
					return err
				}
				emit(r)
				return nil
			})

	case "edits":
		query, args := withActor(`SELECT tick,seq,client_id,edit_id,op,x,y,z,block,output FROM edits WHERE tick>=?`, "client_id", actor, sinceTick, limit)
		return scanRows(db, query, args, func(rows *sql.Rows) error {
			var r editRow
			if err := rows.Scan(&r.Tick, &r.Seq, &r.ClientID, &r.EditID, &r.Op, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Block, &r.Output); err != nil {
				return err
			}
			emit(r)
			return nil
		})

	case "audits":
		query, args := withActor(`SELECT tick,seq,actor,action,x,y,z,from_value,to_value,reason FROM audits WHERE tick>=?`, "actor", actor, sinceTick, limit)
		return scanRows(db, query, args, func(rows *sql.Rows) error {
			var r auditRow
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Actor, &r.Action, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.From, &r.To, &r.Reason); err != nil {
				return err
			}
			emit(r)
			return nil
		})

	case "cascades", "diverged":
		query := `SELECT tick,seq,actor,cause,x,y,z,evaluations,writes,diverged FROM cascades WHERE tick>=?`
		if q == "diverged" {
			query += ` AND diverged=1`
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		return scanRows(db, query, []any{sinceTick, limit}, func(rows *sql.Rows) error {
			var r cascadeRow
			var diverged int
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Actor, &r.Cause, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Evaluations, &r.Writes, &diverged); err != nil {
				return err
			}
			r.Diverged = diverged != 0
			emit(r)
			return nil
		})

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

func withActor(base, col, actor string, sinceTick uint64, limit int) (string, []any) {
	args := []any{sinceTick}
	if actor != "" {
		base += ` AND ` + col + `=?`
		args = append(args, actor)
	}
	return base + ` ORDER BY tick DESC, seq DESC LIMIT ?`, append(args, limit)
}

func scanRows(db *sql.DB, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}
	return rows.Err()
}
