package repository

import (
	"context"
	"errors"

	"hearth/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository is the full persistence surface.
type Repository interface {
	// Replication history
	SaveRun(ctx context.Context, run *domain.ReplicationRun) error
	ListRuns(ctx context.Context, limit int) ([]domain.ReplicationRun, error)
	LastRun(ctx context.Context) (*domain.ReplicationRun, error)

	// Transcode history
	SaveTranscodeJob(ctx context.Context, job *domain.TranscodeJob) error
	ListTranscodeJobs(ctx context.Context, limit int) ([]domain.TranscodeJob, error)

	// Alerts
	UpsertAlert(ctx context.Context, a *domain.Alert) error
	ListAlerts(ctx context.Context, activeOnly bool) ([]domain.Alert, error)

	// Close releases resources
	Close() error
}
