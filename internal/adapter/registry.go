package adapter

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
)

// ObserveFunc is called with every batch of observations an adapter produces
type ObserveFunc func(ctx context.Context, source string, obs []domain.Observation) error

// Registry manages registered adapters and their polling loops
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	configs  map[string]AdapterConfig
	observe  ObserveFunc
	log      zerolog.Logger
}

// NewRegistry creates a new adapter registry
func NewRegistry(observe ObserveFunc) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		configs:  make(map[string]AdapterConfig),
		observe:  observe,
		log:      logging.Component("adapter"),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(adapter Adapter, config AdapterConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}

	r.adapters[name] = adapter
	r.configs[name] = config
	r.log.Info().
		Str("adapter", name).
		Str("type", string(adapter.Type())).
		Dur("interval", config.PollInterval).
		Bool("enabled", config.Enabled).
		Msg("registered adapter")
	return nil
}

// Serve runs a polling loop per enabled polling adapter until ctx is done.
// It satisfies suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	r.mu.RLock()
	var wg sync.WaitGroup
	for name, adapter := range r.adapters {
		config := r.configs[name]
		if !config.Enabled || adapter.Type() != AdapterTypePolling {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pollLoop(ctx, name, adapter, config.PollInterval)
		}()
	}
	r.mu.RUnlock()

	wg.Wait()
	return ctx.Err()
}

func (r *Registry) String() string { return "probe-registry" }

// SyncAll runs every enabled adapter once, forwards the observations and
// returns them sorted by source, kind and subject.
func (r *Registry) SyncAll(ctx context.Context) ([]domain.Observation, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		if r.configs[name].Enabled {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var all []domain.Observation
	var errs []error
	for _, name := range names {
		obs, err := r.TriggerSync(ctx, name)
		all = append(all, obs...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Source != all[j].Source {
			return all[i].Source < all[j].Source
		}
		if all[i].Kind != all[j].Kind {
			return all[i].Kind < all[j].Kind
		}
		return all[i].Subject < all[j].Subject
	})
	return all, errors.Join(errs...)
}

// TriggerSync runs one adapter now
func (r *Registry) TriggerSync(ctx context.Context, name string) ([]domain.Observation, error) {
	r.mu.RLock()
	adapter, exists := r.adapters[name]
	config := r.configs[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("adapter %s not found", name)
	}
	if !config.Enabled {
		return nil, fmt.Errorf("adapter %s is disabled", name)
	}
	return r.runSync(ctx, name, adapter)
}

// ListAdapters returns information about registered adapters, sorted by name
func (r *Registry) ListAdapters() []AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AdapterInfo, 0, len(r.adapters))
	for name, adapter := range r.adapters {
		config := r.configs[name]
		infos = append(infos, AdapterInfo{
			Name:         name,
			Type:         adapter.Type(),
			Enabled:      config.Enabled,
			PollInterval: config.PollInterval,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Registry) pollLoop(ctx context.Context, name string, adapter Adapter, interval time.Duration) {
	if interval <= 0 {
		r.log.Warn().Str("adapter", name).Msg("no poll interval set, using 1m")
		interval = time.Minute
	}
	r.log.Info().Str("adapter", name).Dur("interval", interval).Msg("started polling loop")

	if _, err := r.runSync(ctx, name, adapter); err != nil {
		r.log.Warn().Err(err).Str("adapter", name).Msg("initial sync failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Debug().Str("adapter", name).Msg("stopping polling loop")
			return
		case <-ticker.C:
			if _, err := r.runSync(ctx, name, adapter); err != nil {
				r.log.Warn().Err(err).Str("adapter", name).Msg("sync failed")
			}
		}
	}
}

// runSync executes one sync and forwards whatever it observed, even on a
// partial failure
func (r *Registry) runSync(ctx context.Context, name string, adapter Adapter) ([]domain.Observation, error) {
	start := time.Now()
	obs, syncErr := adapter.Sync(ctx)

	healthy := 0
	for _, o := range obs {
		if o.Healthy {
			healthy++
		}
	}
	metrics.RecordProbe(name, healthy, len(obs)-healthy, time.Since(start))
	r.log.Debug().Str("adapter", name).Int("observations", len(obs)).Int("unhealthy", len(obs)-healthy).Msg("sync complete")

	if len(obs) > 0 && r.observe != nil {
		if err := r.observe(ctx, name, obs); err != nil {
			syncErr = errors.Join(syncErr, fmt.Errorf("observe: %w", err))
		}
	}
	if syncErr != nil {
		return obs, fmt.Errorf("sync failed: %w", syncErr)
	}
	return obs, nil
}
