// Package sqlite implements repository.Repository on a single SQLite file
// using the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hearth/internal/domain"
	"hearth/internal/repository"
)

var _ repository.Repository = (*Repository)(nil)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New opens or creates the database at dbPath and applies the schema.
// ":memory:" gives a private in-memory database.
func New(dbPath string) (*Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: in-memory databases are per connection and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS replication_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		command TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		stats TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS transcode_jobs (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		encoder TEXT NOT NULL,
		subtitles INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS alerts (
		key TEXT NOT NULL,
		kind TEXT NOT NULL,
		subject TEXT NOT NULL,
		message TEXT NOT NULL,
		fired_at TEXT NOT NULL,
		notified_at TEXT,
		resolved_at TEXT,
		count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (key, fired_at)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON replication_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_started ON transcode_jobs(started_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(resolved_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// ============================================================================
// Replication runs
// ============================================================================

const runColumns = `id, source, command, dry_run, status, exit_code, stats, error, started_at, finished_at`

// SaveRun inserts a run or replaces the row with the same ID.
func (r *Repository) SaveRun(ctx context.Context, run *domain.ReplicationRun) error {
	command, err := marshalJSON(run.Command)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	stats, err := marshalJSON(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO replication_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			command = excluded.command,
			dry_run = excluded.dry_run,
			status = excluded.status,
			exit_code = excluded.exit_code,
			stats = excluded.stats,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, run.ID, run.Source, command, boolToInt(run.DryRun), string(run.Status), run.ExitCode,
		stats, run.Error, formatTime(run.StartedAt), timePtrToNull(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.ReplicationRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM replication_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.ReplicationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the most recently started run.
func (r *Repository) LastRun(ctx context.Context) (*domain.ReplicationRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM replication_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return run, err
}

func scanRun(s scanner) (*domain.ReplicationRun, error) {
	var (
		run                    domain.ReplicationRun
		command, stats, status string
		startedAt              string
		dryRun                 int
		finishedAt             sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Source, &command, &dryRun, &status, &run.ExitCode,
		&stats, &run.Error, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.DryRun = dryRun != 0
	run.Status = domain.RunStatus(status)
	if err := unmarshalJSONField(command, &run.Command); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command of run %s: %w", run.ID, err)
	}
	if err := unmarshalJSONField(stats, &run.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats of run %s: %w", run.ID, err)
	}
	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = nullToTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

// ============================================================================
// Transcode jobs
// ============================================================================

const jobColumns = `id, batch_id, source, destination, encoder, subtitles, status, error, started_at, finished_at`

// SaveTranscodeJob inserts a job or replaces the row with the same ID.
func (r *Repository) SaveTranscodeJob(ctx context.Context, job *domain.TranscodeJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transcode_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			batch_id = excluded.batch_id,
			source = excluded.source,
			destination = excluded.destination,
			encoder = excluded.encoder,
			subtitles = excluded.subtitles,
			status = excluded.status,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, job.ID, job.BatchID, job.Source, job.Destination, job.Encoder, boolToInt(job.Subtitles),
		string(job.Status), job.Error, formatTime(job.StartedAt), timePtrToNull(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save transcode job %s: %w", job.ID, err)
	}
	return nil
}

// ListTranscodeJobs returns the most recent jobs first. A limit <= 0 returns all.
func (r *Repository) ListTranscodeJobs(ctx context.Context, limit int) ([]domain.TranscodeJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM transcode_jobs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query transcode jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.TranscodeJob{}
	for rows.Next() {
		var (
			job               domain.TranscodeJob
			subtitles         int
			status, startedAt string
			finishedAt        sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.BatchID, &job.Source, &job.Destination, &job.Encoder,
			&subtitles, &status, &job.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcode job: %w", err)
		}
		job.Subtitles = subtitles != 0
		job.Status = domain.JobStatus(status)
		if job.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if job.FinishedAt, err = nullToTimePtr(finishedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcode jobs: %w", err)
	}
	return jobs, nil
}

// ============================================================================
// Alerts
// ============================================================================

// UpsertAlert stores an alert. An alert is identified by its key and the
// time it fired, so a key that fires again after resolving gets a new row.
func (r *Repository) UpsertAlert(ctx context.Context, a *domain.Alert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (key, kind, subject, message, fired_at, notified_at, resolved_at, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, fired_at) DO UPDATE SET
			message = excluded.message,
			notified_at = excluded.notified_at,
			resolved_at = excluded.resolved_at,
			count = excluded.count
	`, a.Key, string(a.Kind), a.Subject, a.Message, formatTime(a.FiredAt),
		timePtrToNull(a.NotifiedAt), timePtrToNull(a.ResolvedAt), a.Count)
	if err != nil {
		return fmt.Errorf("failed to upsert alert %s: %w", a.Key, err)
	}
	return nil
}

// ListAlerts returns alerts oldest first, optionally only unresolved ones.
func (r *Repository) ListAlerts(ctx context.Context, activeOnly bool) ([]domain.Alert, error) {
	query := `SELECT key, kind, subject, message, fired_at, notified_at, resolved_at, count FROM alerts`
	if activeOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY fired_at, key`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []domain.Alert{}
	for rows.Next() {
		var (
			a                      domain.Alert
			kind, firedAt          string
			notifiedAt, resolvedAt sql.NullString
		)
		if err := rows.Scan(&a.Key, &kind, &a.Subject, &a.Message, &firedAt,
			&notifiedAt, &resolvedAt, &a.Count); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Kind = domain.ObservationKind(kind)
		if a.FiredAt, err = parseTime(firedAt); err != nil {
			return nil, err
		}
		if a.NotifiedAt, err = nullToTimePtr(notifiedAt); err != nil {
			return nil, err
		}
		if a.ResolvedAt, err = nullToTimePtr(resolvedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
