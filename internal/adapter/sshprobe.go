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
)

// RemoteExec runs a shell command on a host over SSH and returns its
// combined output. A non-zero exit status is not an error.
type RemoteExec interface {
	Exec(ctx context.Context, host, cmd string) (string, error)
}

// HostCheck is a command run on each target host and the parser that turns
// its output into observations.
type HostCheck struct {
	Name    string
	Command func(h domain.Host) string
	Parse   func(h domain.Host, output string) []domain.Observation
}

// SSHProbeAdapter runs one HostCheck over SSH on a set of hosts
type SSHProbeAdapter struct {
	check         HostCheck
	hosts         []domain.Host
	exec          RemoteExec
	maxConcurrent int
	log           zerolog.Logger
}

// NewSSHProbeAdapter creates an adapter for check. Hosts with an empty
// command are skipped at sync time.
func NewSSHProbeAdapter(check HostCheck, hosts []domain.Host, exec RemoteExec, maxConcurrent int) *SSHProbeAdapter {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &SSHProbeAdapter{
		check:         check,
		hosts:         hosts,
		exec:          exec,
		maxConcurrent: maxConcurrent,
		log:           logging.Component("sshprobe").With().Str("check", check.Name).Logger(),
	}
}

func (s *SSHProbeAdapter) Name() string { return s.check.Name }

func (s *SSHProbeAdapter) Type() AdapterType { return AdapterTypePolling }

// Sync runs the check on every host. Unreachable hosts are reported as
// errors, not as unhealthy observations, since nothing was observed.
func (s *SSHProbeAdapter) Sync(ctx context.Context) ([]domain.Observation, error) {
	type result struct {
		obs []domain.Observation
		err error
	}

	sem := make(chan struct{}, s.maxConcurrent)
	results := make([]result, len(s.hosts))
	var wg sync.WaitGroup

	for i, h := range s.hosts {
		cmd := s.check.Command(h)
		if cmd == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i].err = ctx.Err()
				return
			}

			out, err := s.exec.Exec(ctx, sshTarget(h), cmd)
			if err != nil {
				s.log.Warn().Err(err).Str("host", h.ID).Msg("probe command failed")
				results[i].err = fmt.Errorf("%s: %w", h.ID, err)
				return
			}
			results[i].obs = s.check.Parse(h, out)
		}()
	}
	wg.Wait()

	var obs []domain.Observation
	var errs []error
	now := time.Now().UTC()
	for _, r := range results {
		for _, o := range r.obs {
			o.Source = s.Name()
			if o.ObservedAt.IsZero() {
				o.ObservedAt = now
			}
			obs = append(obs, o)
		}
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Subject < obs[j].Subject })
	return obs, errors.Join(errs...)
}

// sshTarget prefers the address, then the hostname.
func sshTarget(h domain.Host) string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name()
}

// HostsByID resolves host IDs against the inventory. Unknown IDs are
// returned separately.
func HostsByID(inv *domain.Inventory, ids []string) (hosts []domain.Host, unknown []string) {
	for _, id := range ids {
		if h, ok := inv.Host(id); ok {
			hosts = append(hosts, h)
		} else {
			unknown = append(unknown, id)
		}
	}
	return hosts, unknown
}
