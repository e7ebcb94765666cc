package journal

import (
	"fmt"
	"time"

	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/hydrate"
	"github.com/matheus3301/deskcache/internal/refresh"
)

// Run kinds.
const (
	KindRefresh   = "refresh"
	KindHydration = "hydration"
)

// Run is one journal row: a collection refresh or a hydration pass.
type Run struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	Collection string    `json:"collection"`
	OK         bool      `json:"ok"`
	Count      int       `json:"count"`
	Pages      int       `json:"pages,omitempty"`
	Dropped    int       `json:"dropped,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Failure is one conversation that failed to hydrate.
type Failure struct {
	RunID          string    `json:"run_id"`
	ConversationID string    `json:"conversation_id"`
	Kind           string    `json:"kind,omitempty"`
	Error          string    `json:"error"`
	CreatedAt      time.Time `json:"created_at"`
}

const insertRun = `
	INSERT INTO runs (run_id, kind, collection, ok, count, pages, dropped, failed, skipped, error, error_kind, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordRefresh stores one row per collection of res in a transaction.
func (db *DB) RecordRefresh(res refresh.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range res.Collections {
		started := res.FinishedAt.Add(-c.Duration)
		if started.Before(res.StartedAt) {
			started = res.StartedAt
		}
		if _, err := tx.Exec(insertRun,
			res.RunID, KindRefresh, c.Collection, c.Committed, c.Count, c.Pages, c.Dropped, 0, 0,
			c.Error, c.ErrorKind, started.UnixMilli(), res.FinishedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert %s run: %w", c.Collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh run: %w", err)
	}
	return nil
}

// RecordHydration stores the hydration summary and every per-conversation
// failure.
func (db *DB) RecordHydration(res hydrate.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	errMsg := ""
	if res.Cancelled {
		errMsg = "cancelled"
	}
	if _, err := tx.Exec(insertRun,
		res.RunID, KindHydration, cache.Threads, len(res.Failed) == 0 && !res.Cancelled,
		res.Hydrated, 0, 0, len(res.Failed), res.Skipped, errMsg, "",
		res.StartedAt.UnixMilli(), res.FinishedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert hydration run: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, f := range res.Failed {
		if _, err := tx.Exec(`
			INSERT INTO hydration_failures (run_id, conversation_id, kind, error, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			res.RunID, f.ConversationID, f.Kind, f.Message, now); err != nil {
			return fmt.Errorf("insert hydration failure: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hydration run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty collection
// matches every collection.
func (db *DB) ListRuns(collection string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, run_id, kind, collection, ok, count, pages, dropped, failed, skipped, error, error_kind, started_at, finished_at
		FROM runs
		WHERE (? = '' OR collection = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, collection, collection, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                   Run
			started, finishedMs int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Kind, &r.Collection, &r.OK, &r.Count, &r.Pages, &r.Dropped,
			&r.Failed, &r.Skipped, &r.Error, &r.ErrorKind, &started, &finishedMs); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finishedMs).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// HydrationFailures returns the failures recorded for runID.
func (db *DB) HydrationFailures(runID string) ([]Failure, error) {
	rows, err := db.Query(`
		SELECT run_id, conversation_id, kind, error, created_at
		FROM hydration_failures WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Failure
	for rows.Next() {
		var (
			f  Failure
			at int64
		)
		if err := rows.Scan(&f.RunID, &f.ConversationID, &f.Kind, &f.Error, &at); err != nil {
			return nil, err
		}
		f.CreatedAt = time.UnixMilli(at).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}
