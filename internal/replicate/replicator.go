package replicate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hearth/internal/command"
	"hearth/internal/domain"
	"hearth/internal/logging"
	"hearth/internal/metrics"
	"hearth/internal/service"
)

// ErrRunInProgress is returned when a replication is already running.
var ErrRunInProgress = errors.New("replication already in progress")

// statsTail is enough to hold the stats1 block at the end of the output.
const statsTail = 16 * 1024

// RunStore persists replication runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.ReplicationRun) error
}

// AlertSink receives rsync failures and recoveries.
type AlertSink interface {
	Fire(ctx context.Context, kind domain.ObservationKind, subject, message string) error
	Resolve(ctx context.Context, kind domain.ObservationKind, subject string) error
}

// Replicator runs rsync once at a time.
type Replicator struct {
	opts    Options
	timeout time.Duration
	runner  command.Runner
	store   RunStore
	alerts  AlertSink
	events  service.Publisher
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
}

// Deps are the optional collaborators of a Replicator.
type Deps struct {
	Store  RunStore
	Alerts AlertSink
	Events service.Publisher
}

// New creates a Replicator. A zero timeout means no limit.
func New(opts Options, timeout time.Duration, runner command.Runner, deps Deps) *Replicator {
	if deps.Events == nil {
		deps.Events = service.NopPublisher{}
	}
	return &Replicator{
		opts:    opts,
		timeout: timeout,
		runner:  runner,
		store:   deps.Store,
		alerts:  deps.Alerts,
		events:  deps.Events,
		log:     logging.Component("replicate"),
	}
}

// Options returns the replication options.
func (r *Replicator) Options() Options {
	return r.opts
}

// Running reports whether a run is in progress.
func (r *Replicator) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Replicator) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Replicator) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Run performs one replication and blocks until rsync exits. The returned
// run is recorded even when err is non-nil.
func (r *Replicator) Run(ctx context.Context) (*domain.ReplicationRun, error) {
	if !r.acquire() {
		return nil, ErrRunInProgress
	}
	defer r.release()
	return r.run(ctx)
}

// Trigger starts a run in the background and returns its ID, or
// ErrRunInProgress. The run outlives ctx's cancellation but not the
// replicator timeout.
func (r *Replicator) Trigger(ctx context.Context) (string, error) {
	if err := r.opts.Validate(); err != nil {
		return "", err
	}
	if !r.acquire() {
		return "", ErrRunInProgress
	}
	id := uuid.NewString()
	go func() {
		defer r.release()
		if _, err := r.runWithID(context.WithoutCancel(ctx), id); err != nil {
			r.log.Error().Err(err).Str("run", id).Msg("triggered replication failed")
		}
	}()
	return id, nil
}

func (r *Replicator) run(ctx context.Context) (*domain.ReplicationRun, error) {
	return r.runWithID(ctx, uuid.NewString())
}

func (r *Replicator) runWithID(ctx context.Context, id string) (*domain.ReplicationRun, error) {
	if err := r.opts.Validate(); err != nil {
		return nil, err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	argv := BuildCommand(r.opts)
	run := &domain.ReplicationRun{
		ID:        id,
		Source:    r.opts.Source,
		Command:   argv,
		DryRun:    r.opts.DryRun,
		Status:    domain.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	r.save(ctx, run)
	r.events.Publish(service.Event{Type: service.EventReplicationStarted, Payload: *run})
	r.log.Info().Str("run", id).Str("cmd", strings.Join(argv, " ")).Msg("replication started")

	tail := command.NewTail(statsTail)
	out := io.MultiWriter(logging.Writer(r.log, zerolog.DebugLevel), tail)
	err := r.runner.Run(ctx, argv[0], argv[1:], out)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.ExitCode = command.ExitCode(err)
	run.Status = ClassifyExit(run.ExitCode)
	run.Stats = ParseStats(tail.String())
	if err != nil {
		run.Error = fmt.Sprintf("%s: %v", ExitMeaning(run.ExitCode), err)
	}

	metrics.RecordReplication(string(run.Status), run.Duration(),
		run.Stats.FilesTransferred, run.Stats.FilesDeleted, run.Stats.TransferredSize, finished)
	r.save(context.WithoutCancel(ctx), run)
	r.events.Publish(service.Event{Type: service.EventReplicationFinished, Payload: *run})
	r.notify(context.WithoutCancel(ctx), run)

	logEvent := r.log.Info()
	if run.Status == domain.RunFailed {
		logEvent = r.log.Error()
	} else if run.Status == domain.RunPartial {
		logEvent = r.log.Warn()
	}
	logEvent.
		Str("run", id).
		Str("status", string(run.Status)).
		Int("exit_code", run.ExitCode).
		Int64("files", run.Stats.Files).
		Int64("transferred", run.Stats.FilesTransferred).
		Int64("deleted", run.Stats.FilesDeleted).
		Int64("bytes", run.Stats.TransferredSize).
		Dur("duration", run.Duration()).
		Msg("replication finished")

	if run.Status == domain.RunFailed {
		return run, fmt.Errorf("rsync failed: %s", run.Error)
	}
	return run, nil
}

func (r *Replicator) save(ctx context.Context, run *domain.ReplicationRun) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		r.log.Warn().Err(err).Str("run", run.ID).Msg("failed to record replication run")
	}
}

func (r *Replicator) notify(ctx context.Context, run *domain.ReplicationRun) {
	if r.alerts == nil || run.DryRun {
		return
	}
	var err error
	if run.Status == domain.RunFailed {
		msg := fmt.Sprintf("rsync from %s:%s to %s failed with exit code %d (%s)",
			r.opts.Source, r.opts.SourcePath, r.opts.DestPath, run.ExitCode, ExitMeaning(run.ExitCode))
		err = r.alerts.Fire(ctx, domain.KindRsync, r.opts.Source, msg)
	} else {
		err = r.alerts.Resolve(ctx, domain.KindRsync, r.opts.Source)
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to update rsync alert")
	}
}
