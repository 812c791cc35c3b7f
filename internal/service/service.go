package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"hearth/internal/audit"
	"hearth/internal/codec"
	"hearth/internal/domain"
	"hearth/internal/loader"
)

// ErrUnknownFormat is returned by Export for a format no codec handles.
var ErrUnknownFormat = errors.New("unknown format")

// InventoryService owns the loaded inventory and the operations over it:
// reload, audit and export.
type InventoryService struct {
	path     string
	eventBus Publisher

	mu       sync.RWMutex
	inv      *domain.Inventory
	loadedAt time.Time
	live     audit.LiveOptions
}

// NewInventoryService loads the inventory at path (empty means the
// built-in default).
func NewInventoryService(path string, eventBus Publisher) (*InventoryService, error) {
	if eventBus == nil {
		eventBus = NopPublisher{}
	}
	s := &InventoryService{path: path, eventBus: eventBus}
	inv, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.inv, s.loadedAt = inv, time.Now().UTC()
	return s, nil
}

// NewInventoryServiceFrom wraps an inventory that is already loaded.
// Reload is a no-op unless path is set.
func NewInventoryServiceFrom(inv *domain.Inventory, path string, eventBus Publisher) *InventoryService {
	if eventBus == nil {
		eventBus = NopPublisher{}
	}
	return &InventoryService{path: path, eventBus: eventBus, inv: inv, loadedAt: time.Now().UTC()}
}

// SetLiveOptions configures the network and directory checks used by
// Audit when live is requested.
func (s *InventoryService) SetLiveOptions(opts audit.LiveOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = opts
}

// Inventory returns the current inventory. Callers must not modify it.
func (s *InventoryService) Inventory() *domain.Inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inv
}

// LoadedAt returns when the current inventory was read.
func (s *InventoryService) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Reload re-reads the inventory file. On error the previous inventory
// stays in place.
func (s *InventoryService) Reload() error {
	if s.path == "" {
		return nil
	}
	inv, err := loader.LoadFile(s.path)
	if err != nil {
		return fmt.Errorf("reload inventory: %w", err)
	}

	s.mu.Lock()
	s.inv, s.loadedAt = inv, time.Now().UTC()
	s.mu.Unlock()

	s.eventBus.Publish(Event{
		Type:    EventInventoryReloaded,
		Payload: map[string]any{"hosts": len(inv.Hosts), "services": len(inv.Services)},
	})
	return nil
}

// Audit checks the current inventory and publishes the summary.
func (s *InventoryService) Audit(ctx context.Context, live bool) audit.Report {
	s.mu.RLock()
	inv, opts := s.inv, s.live
	s.mu.RUnlock()

	report := audit.Run(ctx, inv, live, opts)
	s.eventBus.Publish(Event{
		Type: EventAuditCompleted,
		Payload: map[string]any{
			"errors":   report.Counts[domain.SeverityError],
			"warnings": report.Counts[domain.SeverityWarn],
			"live":     live,
		},
	})
	return report
}

// Export writes the current inventory in format and returns the content
// type of the output.
func (s *InventoryService) Export(format string, w io.Writer) (string, error) {
	exp, err := codec.ExporterFor(format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if err := exp.Export(s.Inventory(), w); err != nil {
		return "", err
	}
	return codec.ContentType(exp), nil
}
