// Package notify delivers alert messages to the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"hearth/internal/logging"
	"hearth/internal/metrics"
)

// ErrBreakerOpen is returned while the circuit breaker rejects deliveries.
var ErrBreakerOpen = errors.New("notifier circuit breaker open")

// Message is one notification.
type Message struct {
	Title    string
	Body     string
	Resolved bool
}

// Notifier delivers messages.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log. Used when no bot is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Component("notify")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	ev := n.log.Warn()
	if msg.Resolved {
		ev = n.log.Info()
	}
	ev.Str("title", msg.Title).Bool("resolved", msg.Resolved).Msg(msg.Body)
	metrics.NotifyDeliveries.WithLabelValues(n.Name(), "sent").Inc()
	return nil
}

// Resilient wraps a Notifier with a token-bucket limiter and a circuit
// breaker. Only transient failures count against the breaker.
type Resilient struct {
	next    Notifier
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[struct{}]
	log     zerolog.Logger
}

// NewResilient wraps next. perMinute bounds the delivery rate.
func NewResilient(next Notifier, perMinute int) *Resilient {
	if perMinute <= 0 {
		perMinute = 20
	}
	log := logging.Component("notify")
	name := next.Name()

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Resilient{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 3),
		cb:      cb,
		log:     log,
	}
}

func (r *Resilient) Name() string { return r.next.Name() }

func (r *Resilient) Notify(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := r.cb.Execute(func() (struct{}, error) {
		return struct{}{}, r.next.Notify(ctx, msg)
	})
	switch {
	case err == nil:
		metrics.NotifyDeliveries.WithLabelValues(r.Name(), "sent").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotifyDeliveries.WithLabelValues(r.Name(), "rejected").Inc()
		r.log.Warn().Str("title", msg.Title).Msg("notification dropped, circuit breaker open")
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	default:
		metrics.NotifyDeliveries.WithLabelValues(r.Name(), "failed").Inc()
		return err
	}
}

// State returns the breaker state name.
func (r *Resilient) State() string {
	return r.cb.State().String()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
