package replicate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hearth/internal/logging"
)

// Scheduler runs a job once a day at a fixed local wall-clock time.
type Scheduler struct {
	hour, minute int
	job          func(ctx context.Context) error
	now          func() time.Time
	after        func(time.Duration) <-chan time.Time
	log          zerolog.Logger
}

// NewScheduler parses at as HH:MM.
func NewScheduler(at string, job func(ctx context.Context) error) (*Scheduler, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q, want HH:MM: %w", at, err)
	}
	return &Scheduler{
		hour:   t.Hour(),
		minute: t.Minute(),
		job:    job,
		now:    time.Now,
		after:  time.After,
		log:    logging.Component("scheduler"),
	}, nil
}

// Next returns the first scheduled time strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Serve blocks until ctx is done, running the job at each scheduled time.
// It satisfies suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	for {
		next := s.Next(s.now())
		s.log.Info().Time("next_run", next).Msg("replication scheduled")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
		}

		if err := s.job(ctx); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				s.log.Warn().Msg("skipping scheduled replication, previous run still in progress")
				continue
			}
			s.log.Error().Err(err).Msg("scheduled replication failed")
		}
	}
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("replication-scheduler(%02d:%02d)", s.hour, s.minute)
}
