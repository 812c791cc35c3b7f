package domain

import "time"

// RunStatus is the outcome of a replication run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	// RunPartial means rsync finished but some source files vanished mid-transfer.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// TransferStats is the summary block printed by rsync --info=stats1.
type TransferStats struct {
	Files            int64 `json:"files"`
	FilesTransferred int64 `json:"files_transferred"`
	FilesDeleted     int64 `json:"files_deleted"`
	TotalSize        int64 `json:"total_size"`
	TransferredSize  int64 `json:"transferred_size"`
}

// ReplicationRun records one pull replication.
type ReplicationRun struct {
	ID         string        `json:"id"`
	Source     string        `json:"source"`
	Command    []string      `json:"command"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Status     RunStatus     `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Stats      TransferStats `json:"stats"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while running.
func (r ReplicationRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// JobStatus is the outcome of a transcode job.
type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// TranscodeJob records one file through transcode and transfer.
type TranscodeJob struct {
	ID          string     `json:"id"`
	BatchID     string     `json:"batch_id"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Encoder     string     `json:"encoder"`
	Subtitles   bool       `json:"subtitles"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
