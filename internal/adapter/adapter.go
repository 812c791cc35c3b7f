package adapter

import (
	"context"
	"time"

	"hearth/internal/domain"
)

// AdapterType defines how an adapter is driven
type AdapterType string

const (
	// AdapterTypePolling - registry runs the adapter on an interval
	AdapterTypePolling AdapterType = "polling"
	// AdapterTypeOneShot - manual trigger only
	AdapterTypeOneShot AdapterType = "oneshot"
)

// AdapterConfig holds configuration for an adapter instance
type AdapterConfig struct {
	// Enabled determines if the adapter should run
	Enabled bool `json:"enabled"`
	// PollInterval for polling adapters
	PollInterval time.Duration `json:"poll_interval,omitempty"`
}

// Adapter defines the interface for health probes
type Adapter interface {
	// Name returns the unique identifier for this adapter
	Name() string

	// Type returns how this adapter is driven
	Type() AdapterType

	// Sync probes its targets once. Observations gathered before an error
	// are still returned.
	Sync(ctx context.Context) ([]domain.Observation, error)
}

// AdapterInfo provides read-only information about an adapter
type AdapterInfo struct {
	Name         string        `json:"name"`
	Type         AdapterType   `json:"type"`
	Enabled      bool          `json:"enabled"`
	PollInterval time.Duration `json:"poll_interval,omitempty"`
}
