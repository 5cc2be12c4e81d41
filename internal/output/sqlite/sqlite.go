// Package sqlite journals runs and step results into a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crimson-sun/tre/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	last_status TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS step_results (
	run_id TEXT NOT NULL REFERENCES runs(id),
	idx INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	evidence TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);`

// Output writes run progress to a SQLite journal. Status, steps_init and
// step_update events are stored; other kinds are ignored.
type Output struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Output, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite output: create directory: %w", err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite output: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite output: initialize schema: %w", err)
	}
	return &Output{db: db}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

func (o *Output) Write(ctx context.Context, event model.Event) error {
	if event.RunID == "" {
		return nil
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	at := ts.UTC().Format(time.RFC3339Nano)

	o.mu.Lock()
	defer o.mu.Unlock()
	switch event.Kind {
	case model.EventStatus:
		return o.status(ctx, event.RunID, event.Message, at)
	case model.EventStepsInit:
		return o.stepsInit(ctx, event.RunID, event.Steps, at)
	case model.EventStepUpdate:
		if event.Update == nil {
			return nil
		}
		return o.stepUpdate(ctx, event.RunID, *event.Update, at)
	}
	return nil
}

func (o *Output) ensureRun(ctx context.Context, tx *sql.Tx, runID, at string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO runs (id, started_at) VALUES (?, ?)`, runID, at)
	return err
}

func (o *Output) status(ctx context.Context, runID, msg, at string) error {
	return o.tx(ctx, func(tx *sql.Tx) error {
		if err := o.ensureRun(ctx, tx, runID, at); err != nil {
			return err
		}
		ended := sql.NullString{}
		if msg == "Stopped." {
			ended = sql.NullString{String: at, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE runs SET last_status = ?, ended_at = COALESCE(?, ended_at) WHERE id = ?`,
			msg, ended, runID)
		return err
	})
}

func (o *Output) stepsInit(ctx context.Context, runID string, steps []model.StepInfo, at string) error {
	return o.tx(ctx, func(tx *sql.Tx) error {
		if err := o.ensureRun(ctx, tx, runID, at); err != nil {
			return err
		}
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO step_results (run_id, idx, name, description, updated_at)
				 VALUES (?, ?, ?, ?, ?)`,
				runID, s.Index, s.Name, s.Description, at); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Output) stepUpdate(ctx context.Context, runID string, u model.StepUpdate, at string) error {
	return o.tx(ctx, func(tx *sql.Tx) error {
		if err := o.ensureRun(ctx, tx, runID, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO step_results (run_id, idx, name, description, result, evidence, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, idx) DO UPDATE SET
			 result = excluded.result,
			 evidence = excluded.evidence,
			 updated_at = excluded.updated_at`,
			runID, u.Index, u.Name, u.Description, string(u.Result), u.Evidence, at)
		return err
	})
}

func (o *Output) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite output: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite output: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite output: commit: %w", err)
	}
	return nil
}

// Run is a journaled run.
type Run struct {
	ID         string
	StartedAt  string
	EndedAt    string
	LastStatus string
}

// GetRun returns the journal row of a run.
func (o *Output) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	var ended sql.NullString
	err := o.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, last_status FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.StartedAt, &ended, &r.LastStatus)
	if err != nil {
		return Run{}, fmt.Errorf("sqlite output: get run %s: %w", runID, err)
	}
	r.EndedAt = ended.String
	return r, nil
}

// Results returns the recorded steps of a run in order. Steps without an
// outcome have an empty Result.
func (o *Output) Results(ctx context.Context, runID string) ([]model.StepUpdate, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT idx, name, description, result, evidence FROM step_results WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite output: query results: %w", err)
	}
	defer rows.Close()

	var out []model.StepUpdate
	for rows.Next() {
		var u model.StepUpdate
		var result string
		if err := rows.Scan(&u.Index, &u.Name, &u.Description, &result, &u.Evidence); err != nil {
			return nil, fmt.Errorf("sqlite output: scan result: %w", err)
		}
		u.Result = model.Result(result)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (o *Output) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}
