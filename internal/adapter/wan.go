package adapter

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"hearth/internal/domain"
)

// DefaultWANTargets are public resolvers that answer on 53/tcp.
var DefaultWANTargets = []string{"1.1.1.1:53", "9.9.9.9:53"}

// WANSubject is the observation subject for the uplink.
const WANSubject = "uplink"

// dialFunc matches net.Dialer.DialContext.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// WANAdapter checks internet reachability with TCP connects
type WANAdapter struct {
	targets []string
	timeout time.Duration
	dial    dialFunc
}

// NewWANAdapter creates a WAN probe. Empty targets use DefaultWANTargets.
func NewWANAdapter(targets []string, timeout time.Duration) *WANAdapter {
	if len(targets) == 0 {
		targets = DefaultWANTargets
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	return &WANAdapter{targets: targets, timeout: timeout, dial: d.DialContext}
}

func (w *WANAdapter) Name() string { return "wan" }

func (w *WANAdapter) Type() AdapterType { return AdapterTypePolling }

// Sync reports the uplink down only when every target fails.
func (w *WANAdapter) Sync(ctx context.Context) ([]domain.Observation, error) {
	var failures []string
	for _, target := range w.targets {
		dctx, cancel := context.WithTimeout(ctx, w.timeout)
		conn, err := w.dial(dctx, "tcp", target)
		cancel()
		if err == nil {
			_ = conn.Close()
			return []domain.Observation{{
				Source:     w.Name(),
				Kind:       domain.KindWAN,
				Subject:    WANSubject,
				Healthy:    true,
				Detail:     target + " reachable",
				ObservedAt: time.Now().UTC(),
			}}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		failures = append(failures, fmt.Sprintf("%s: %v", target, err))
	}
	return []domain.Observation{{
		Source:     w.Name(),
		Kind:       domain.KindWAN,
		Subject:    WANSubject,
		Healthy:    false,
		Detail:     "no WAN target reachable: " + strings.Join(failures, "; "),
		ObservedAt: time.Now().UTC(),
	}}, nil
}
