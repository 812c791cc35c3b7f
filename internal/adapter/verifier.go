package adapter

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"hearth/internal/domain"
)

// PortCheck is the result of one TCP connect to a declared service port
type PortCheck struct {
	Service string        `json:"service"`
	Host    string        `json:"host"`
	Address string        `json:"address"`
	Port    int           `json:"port"`
	Open    bool          `json:"open"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// VerifierConfig holds configuration for the verifier adapter
type VerifierConfig struct {
	// PortTimeout for individual port probes
	PortTimeout time.Duration
	// MaxConcurrent limits parallel probes
	MaxConcurrent int
}

// DefaultVerifierConfig returns sensible defaults
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		PortTimeout:   2 * time.Second,
		MaxConcurrent: 10,
	}
}

// VerifierAdapter connects to every TCP port the inventory declares
type VerifierAdapter struct {
	inv    *domain.Inventory
	config VerifierConfig
	dial   dialFunc
}

// NewVerifierAdapter creates a new verifier adapter
func NewVerifierAdapter(inv *domain.Inventory, config VerifierConfig) *VerifierAdapter {
	if config.PortTimeout <= 0 {
		config.PortTimeout = 2 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	d := &net.Dialer{Timeout: config.PortTimeout}
	return &VerifierAdapter{inv: inv, config: config, dial: d.DialContext}
}

func (v *VerifierAdapter) Name() string { return "verifier" }

func (v *VerifierAdapter) Type() AdapterType { return AdapterTypePolling }

// Sync reports one observation per service with TCP ports. A service is
// healthy when all of its TCP ports accept a connection.
func (v *VerifierAdapter) Sync(ctx context.Context) ([]domain.Observation, error) {
	checks := v.CheckPorts(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byService := make(map[string][]PortCheck)
	var order []string
	for _, c := range checks {
		if _, seen := byService[c.Service]; !seen {
			order = append(order, c.Service)
		}
		byService[c.Service] = append(byService[c.Service], c)
	}

	now := time.Now().UTC()
	obs := make([]domain.Observation, 0, len(order))
	for _, name := range order {
		var closed []string
		for _, c := range byService[name] {
			if !c.Open {
				closed = append(closed, fmt.Sprintf("%d/tcp (%s)", c.Port, c.Error))
			}
		}
		o := domain.Observation{
			Source:     v.Name(),
			Kind:       domain.KindService,
			Subject:    name,
			Healthy:    len(closed) == 0,
			ObservedAt: now,
		}
		if !o.Healthy {
			o.Detail = fmt.Sprintf("%s on %s not answering: %s", name, byService[name][0].Host, strings.Join(closed, ", "))
		}
		obs = append(obs, o)
	}
	return obs, nil
}

// CheckPorts probes every declared TCP port with a worker pool. Results are
// ordered by service then port.
func (v *VerifierAdapter) CheckPorts(ctx context.Context) []PortCheck {
	var work []PortCheck
	for _, svc := range v.inv.Services {
		host, ok := v.inv.Host(svc.Host)
		if !ok || host.Address == "" {
			continue
		}
		for _, port := range svc.TCPPorts() {
			work = append(work, PortCheck{Service: svc.Name, Host: host.ID, Address: host.Address, Port: port})
		}
	}
	if len(work) == 0 {
		return nil
	}

	workCh := make(chan PortCheck, len(work))
	resultCh := make(chan PortCheck, len(work))

	var wg sync.WaitGroup
	for i := 0; i < min(v.config.MaxConcurrent, len(work)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range workCh {
				if ctx.Err() != nil {
					c.Error = ctx.Err().Error()
					resultCh <- c
					continue
				}
				resultCh <- v.probe(ctx, c)
			}
		}()
	}
	for _, c := range work {
		workCh <- c
	}
	close(workCh)
	wg.Wait()
	close(resultCh)

	results := make([]PortCheck, 0, len(work))
	for c := range resultCh {
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Service != results[j].Service {
			return results[i].Service < results[j].Service
		}
		return results[i].Port < results[j].Port
	})
	return results
}

func (v *VerifierAdapter) probe(ctx context.Context, c PortCheck) PortCheck {
	dctx, cancel := context.WithTimeout(ctx, v.config.PortTimeout)
	defer cancel()

	start := time.Now()
	conn, err := v.dial(dctx, "tcp", net.JoinHostPort(c.Address, strconv.Itoa(c.Port)))
	if err != nil {
		c.Error = shortDialError(err)
		return c
	}
	_ = conn.Close()
	c.Open = true
	c.Latency = time.Since(start)
	return c
}

// shortDialError strips the "dial tcp 1.2.3.4:80: " prefix net adds.
func shortDialError(err error) string {
	if opErr, ok := err.(*net.OpError); ok && opErr.Err != nil {
		msg := opErr.Err.Error()
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			return msg[i+2:]
		}
		return msg
	}
	return err.Error()
}
