// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

// Package auditsink is the optional, additive terminal-transition log
// described in spec.md §6: a fire-and-forget append of every Completed,
// Failed, or Cancelled job to a job_events table. The JSON state file
// written by statestore remains the sole authoritative record — a sink
// failure is only ever logged, never surfaced to the scheduler.
package auditsink

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq"

	"batchrunner/src/logging"
	"batchrunner/src/model"
)

// Sink records a terminal job transition. Implementations must never
// block the scheduler's serialization context for long, and must never
// return an error the caller is expected to act on — Record has no
// return value by design.
type Sink interface {
	Record(job *model.Job, label string)
}

// NoOp is the default Sink when AUDIT_DATABASE_URL is unset.
type NoOp struct{}

// Record does nothing.
func (NoOp) Record(*model.Job, string) {}

// Postgres is a Sink backed by a job_events table, opened with
// database/sql and github.com/lib/pq the same way the teacher opens its
// primary store in main.go.
type Postgres struct {
	db *sql.DB
}

// NewFromEnv opens a Postgres sink from AUDIT_DATABASE_URL, creating the
// job_events table if it doesn't already exist. If the env var is unset,
// it returns a NoOp sink and no error. A connection or schema failure is
// logged and also yields a NoOp sink — the scheduler always gets a
// usable Sink back.
func NewFromEnv() Sink {
	dsn := os.Getenv("AUDIT_DATABASE_URL")
	if dsn == "" {
		return NoOp{}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logging.Log(fmt.Sprintf("auditsink: failed to open AUDIT_DATABASE_URL: %v", err), slog.LevelError)
		return NoOp{}
	}

	if err := db.Ping(); err != nil {
		logging.Log(fmt.Sprintf("auditsink: database unreachable, disabling audit sink: %v", err), slog.LevelError)
		db.Close()
		return NoOp{}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS job_events (
	id          SERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL,
	job_name    TEXT NOT NULL,
	bat_path    TEXT NOT NULL,
	status      TEXT NOT NULL,
	exit_code   INTEGER,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.Exec(schema); err != nil {
		logging.Log(fmt.Sprintf("auditsink: failed to ensure job_events table, disabling audit sink: %v", err), slog.LevelError)
		db.Close()
		return NoOp{}
	}

	logging.Log("auditsink: recording terminal job transitions to job_events", slog.LevelInfo)
	return &Postgres{db: db}
}

// Record appends one row for job's terminal transition to label. Any
// failure is swallowed and logged — per spec.md §6 an audit write never
// alters job state.
func (p *Postgres) Record(job *model.Job, label string) {
	if job == nil {
		return
	}
	_, err := p.db.Exec(
		`INSERT INTO job_events (job_id, job_name, bat_path, status, exit_code) VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Name, job.BatPath, label, job.ExitCode,
	)
	if err != nil {
		logging.Log(fmt.Sprintf("auditsink: failed to record job %s: %v", job.ID, err), slog.LevelError)
	}
}
