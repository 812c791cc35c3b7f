// Package alert turns probe observations into deduplicated alerts and
// forwards them to a notifier.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hearth/internal/domain"
	"hearth/internal/logging"
	"hearth/internal/metrics"
	"hearth/internal/notify"
	"hearth/internal/service"
)

// DefaultCooldown is how long a firing alert stays quiet before it is sent again.
const DefaultCooldown = 6 * time.Hour

// Store persists alerts.
type Store interface {
	UpsertAlert(ctx context.Context, a *domain.Alert) error
	ListAlerts(ctx context.Context, activeOnly bool) ([]domain.Alert, error)
}

var titles = map[domain.ObservationKind]string{
	domain.KindWAN:       "WAN down",
	domain.KindSMART:     "SMART warning",
	domain.KindRsync:     "Replication failed",
	domain.KindContainer: "Container crashed",
	domain.KindService:   "Service unreachable",
}

// Title renders the headline of an alert.
func Title(kind domain.ObservationKind, subject string) string {
	t, ok := titles[kind]
	if !ok {
		t = string(kind)
	}
	return t + ": " + subject
}

// Engine tracks firing alerts keyed by kind/subject.
type Engine struct {
	notifier notify.Notifier
	store    Store
	events   service.Publisher
	cooldown time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]*domain.Alert

	// saveMu orders writes to the store so a resolution is never
	// overwritten by a firing snapshot taken before it.
	saveMu sync.Mutex
}

// NewEngine creates an engine. store and events may be nil.
func NewEngine(n notify.Notifier, store Store, events service.Publisher, cooldown time.Duration) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if events == nil {
		events = service.NopPublisher{}
	}
	return &Engine{
		notifier: n,
		store:    store,
		events:   events,
		cooldown: cooldown,
		now:      time.Now,
		log:      logging.Component("alert"),
		active:   make(map[string]*domain.Alert),
	}
}

// Restore loads firing alerts from the store so a restart does not
// re-notify them before the cooldown.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	alerts, err := e.store.ListAlerts(ctx, true)
	if err != nil {
		return fmt.Errorf("load active alerts: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range alerts {
		a := alerts[i]
		e.active[a.Key] = &a
	}
	metrics.AlertsActive.Set(float64(len(e.active)))
	e.log.Info().Int("active", len(alerts)).Msg("restored alerts")
	return nil
}

// Observe applies a batch of probe readings.
func (e *Engine) Observe(ctx context.Context, obs []domain.Observation) error {
	var errs []error
	for _, o := range obs {
		var err error
		if o.Healthy {
			err = e.Resolve(ctx, o.Kind, o.Subject)
		} else {
			err = e.Fire(ctx, o.Kind, o.Subject, o.Detail)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// Fire raises the alert for kind/subject. A repeat inside the cooldown only
// bumps the count.
func (e *Engine) Fire(ctx context.Context, kind domain.ObservationKind, subject, message string) error {
	key := domain.AlertKey(kind, subject)
	now := e.now()

	e.mu.Lock()
	a, exists := e.active[key]
	if !exists {
		a = &domain.Alert{Key: key, Kind: kind, Subject: subject, FiredAt: now}
		e.active[key] = a
		metrics.AlertsFired.WithLabelValues(string(kind)).Inc()
		metrics.AlertsActive.Set(float64(len(e.active)))
	}
	a.Count++
	a.Message = message
	send := a.NotifiedAt == nil || now.Sub(*a.NotifiedAt) >= e.cooldown
	snapshot := *a
	e.mu.Unlock()

	if !exists {
		e.log.Warn().Str("key", key).Str("message", message).Msg("alert fired")
		e.events.Publish(service.Event{Type: service.EventAlertFired, Payload: snapshot})
	}

	var notifyErr error
	if send {
		body := message
		if snapshot.Count > 1 {
			body = fmt.Sprintf("%s\n(still failing, seen %d times since %s)", message, snapshot.Count, snapshot.FiredAt.Format(time.RFC3339))
		}
		notifyErr = e.notifier.Notify(ctx, notify.Message{Title: Title(kind, subject), Body: body})
		if notifyErr == nil {
			e.mu.Lock()
			if cur, ok := e.active[key]; ok {
				cur.NotifiedAt = &now
			}
			e.mu.Unlock()
		} else {
			e.log.Error().Err(notifyErr).Str("key", key).Msg("alert notification failed")
		}
	}

	if err := e.saveFiring(ctx, a); err != nil {
		return errors.Join(notifyErr, err)
	}
	return notifyErr
}

// saveFiring persists the current state of a unless it has been resolved
// or replaced since Fire looked it up.
func (e *Engine) saveFiring(ctx context.Context, a *domain.Alert) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if e.active[a.Key] != a {
		e.mu.Unlock()
		return nil
	}
	snapshot := *a
	e.mu.Unlock()
	return e.save(ctx, &snapshot)
}

// Resolve clears the alert for kind/subject, if firing, and announces the
// recovery.
func (e *Engine) Resolve(ctx context.Context, kind domain.ObservationKind, subject string) error {
	key := domain.AlertKey(kind, subject)

	e.mu.Lock()
	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.active, key)
	now := e.now()
	a.ResolvedAt = &now
	snapshot := *a
	metrics.AlertsResolved.WithLabelValues(string(kind)).Inc()
	metrics.AlertsActive.Set(float64(len(e.active)))
	e.mu.Unlock()

	e.log.Info().Str("key", key).Dur("after", now.Sub(snapshot.FiredAt)).Msg("alert resolved")
	e.events.Publish(service.Event{Type: service.EventAlertResolved, Payload: snapshot})

	var notifyErr error
	// Never announce a recovery for something the operator was never told about.
	if snapshot.NotifiedAt != nil {
		body := fmt.Sprintf("Recovered after %s.", now.Sub(snapshot.FiredAt).Round(time.Second))
		notifyErr = e.notifier.Notify(ctx, notify.Message{Title: Title(kind, subject), Body: body, Resolved: true})
		if notifyErr != nil {
			e.log.Error().Err(notifyErr).Str("key", key).Msg("resolution notification failed")
		}
	}

	e.saveMu.Lock()
	err := e.save(ctx, &snapshot)
	e.saveMu.Unlock()
	if err != nil {
		return errors.Join(notifyErr, err)
	}
	return notifyErr
}

// Active returns the firing alerts, oldest first.
func (e *Engine) Active() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.Before(out[j].FiredAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (e *Engine) save(ctx context.Context, a *domain.Alert) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.UpsertAlert(ctx, a); err != nil {
		return fmt.Errorf("save alert %s: %w", a.Key, err)
	}
	return nil
}
