// Package journal persists which processes the harness has spawned so that a
// later run can find and kill children left behind by a run that died hard
// (SIGKILL, OOM, panic without sweep). Signal handlers cover orderly
// interrupts; the journal covers everything they cannot.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one spawned process as recorded at launch time. StartUnix is the
// kernel-reported process start time, used to tell a stale pid apart from an
// unrelated process that happens to reuse it. RunnerPID is the pid of the
// harness run that spawned it.
type Entry struct {
	RunID     string
	Name      string
	PID       int
	StartUnix int64
	RunnerPID int
}

// Journal is a sqlite-backed spawn log. Every operation is best-effort from
// the caller's point of view; a nil *Journal is valid and does nothing.
type Journal struct {
	db    *sql.DB
	runID string
}

// Open opens (creating if needed) the journal at path and ensures the schema.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// Single connection keeps sqlite happy under concurrent test goroutines.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, runID: uuid.NewString()}
	if err := j.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS spawns (
    run_id     TEXT    NOT NULL,
    runner_pid INTEGER NOT NULL,
    name       TEXT    NOT NULL,
    pid        INTEGER NOT NULL,
    start_unix INTEGER NOT NULL,
    spawned_at TIMESTAMP NOT NULL,
    exited_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_spawns_open ON spawns(exited_at) WHERE exited_at IS NULL;`)
	if err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	return nil
}

// RunID identifies this harness run in the journal.
func (j *Journal) RunID() string {
	if j == nil {
		return ""
	}
	return j.runID
}

// RecordSpawn logs a freshly started process.
func (j *Journal) RecordSpawn(ctx context.Context, name string, pid int, startUnix int64) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO spawns(run_id, runner_pid, name, pid, start_unix, spawned_at) VALUES(?,?,?,?,?,?)`,
		j.runID, os.Getpid(), name, pid, startUnix, time.Now().UTC())
	return err
}

// RecordExit marks the pid's open record for this run as exited.
func (j *Journal) RecordExit(ctx context.Context, pid int) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE spawns SET exited_at = ? WHERE run_id = ? AND pid = ? AND exited_at IS NULL`,
		time.Now().UTC(), j.runID, pid)
	return err
}

// Orphans returns entries written by other runs that never recorded an exit.
// Whether the spawning run (and the child itself) is actually gone is for the
// caller to verify against the pids in the entries.
func (j *Journal) Orphans(ctx context.Context) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, runner_pid, name, pid, start_unix FROM spawns WHERE exited_at IS NULL AND run_id != ?`,
		j.runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.RunnerPID, &e.Name, &e.PID, &e.StartUnix); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Resolve deletes an entry once it has been dealt with (killed or found to be
// a reused pid).
func (j *Journal) Resolve(ctx context.Context, e Entry) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM spawns WHERE run_id = ? AND pid = ? AND start_unix = ?`,
		e.RunID, e.PID, e.StartUnix)
	return err
}

// Prune removes closed records older than age to keep the file small.
func (j *Journal) Prune(ctx context.Context, age time.Duration) error {
	if j == nil {
		return nil
	}
	cutoff := time.Now().UTC().Add(-age)
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM spawns WHERE exited_at IS NOT NULL AND exited_at < ?`, cutoff)
	return err
}

// DB exposes the underlying handle for maintenance queries and tests.
func (j *Journal) DB() *sql.DB {
	if j == nil {
		return nil
	}
	return j.db
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
