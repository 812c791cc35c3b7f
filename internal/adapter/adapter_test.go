package adapter

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"hearth/internal/domain"
)

type staticAdapter struct {
	name string
	obs  []domain.Observation
	err  error

	mu    sync.Mutex
	calls int
}

func (s *staticAdapter) Name() string { return s.name }

func (s *staticAdapter) Type() AdapterType { return AdapterTypePolling }

func (s *staticAdapter) Sync(context.Context) ([]domain.Observation, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.obs, s.err
}

func (s *staticAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRegistrySyncAll(t *testing.T) {
	var forwarded []string
	reg := NewRegistry(func(_ context.Context, source string, obs []domain.Observation) error {
		forwarded = append(forwarded, source)
		return nil
	})

	wan := &staticAdapter{name: "wan", obs: []domain.Observation{{Source: "wan", Kind: domain.KindWAN, Subject: "uplink", Healthy: true}}}
	smart := &staticAdapter{
		name: "smart",
		obs:  []domain.Observation{{Source: "smart", Kind: domain.KindSMART, Subject: "3rdgen:/dev/sda"}},
		err:  errors.New("4thgen: connection refused"),
	}
	off := &staticAdapter{name: "containers"}

	for _, r := range []struct {
		a  Adapter
		on bool
	}{{wan, true}, {smart, true}, {off, false}} {
		if err := reg.Register(r.a, AdapterConfig{Enabled: r.on, PollInterval: time.Minute}); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Register(wan, AdapterConfig{}); err == nil {
		t.Error("duplicate registration should fail")
	}

	obs, err := reg.SyncAll(context.Background())
	if err == nil {
		t.Error("expected the smart error to surface")
	}
	if len(obs) != 2 || obs[0].Source != "smart" || obs[1].Source != "wan" {
		t.Errorf("unexpected observations %+v", obs)
	}
	if len(forwarded) != 2 {
		t.Errorf("partial results should still be forwarded, got %v", forwarded)
	}
	if off.callCount() != 0 {
		t.Error("disabled adapter ran")
	}

	if _, err := reg.TriggerSync(context.Background(), "containers"); err == nil {
		t.Error("expected disabled error")
	}
	if _, err := reg.TriggerSync(context.Background(), "nope"); err == nil {
		t.Error("expected not found error")
	}

	infos := reg.ListAdapters()
	if len(infos) != 3 || infos[0].Name != "containers" || infos[0].Enabled {
		t.Errorf("unexpected adapter list %+v", infos)
	}
}

func TestRegistryServe(t *testing.T) {
	synced := make(chan struct{}, 1)
	reg := NewRegistry(func(context.Context, string, []domain.Observation) error {
		select {
		case synced <- struct{}{}:
		default:
		}
		return nil
	})
	a := &staticAdapter{name: "wan", obs: []domain.Observation{{Healthy: true}}}
	if err := reg.Register(a, AdapterConfig{Enabled: true, PollInterval: time.Hour}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Serve(ctx) }()

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("initial sync did not run")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func listen(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	return ln.Addr().String(), ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestWANAdapter(t *testing.T) {
	up, _ := listen(t)
	down := "127.0.0.1:" + strconv.Itoa(closedPort(t))

	tests := []struct {
		name    string
		targets []string
		healthy bool
	}{
		{"one target answers", []string{down, up}, true},
		{"all targets fail", []string{down}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := NewWANAdapter(tt.targets, time.Second).Sync(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(obs) != 1 || obs[0].Healthy != tt.healthy || obs[0].Subject != WANSubject || obs[0].Kind != domain.KindWAN {
				t.Errorf("unexpected observation %+v", obs)
			}
		})
	}
}

func TestVerifierAdapter(t *testing.T) {
	_, openPort := listen(t)
	shut := closedPort(t)

	inv := &domain.Inventory{
		Hosts: []domain.Host{{ID: "local", Address: "127.0.0.1"}},
		Services: []domain.Service{
			{Name: "Jellyfin", Host: "local", Ports: []domain.PortSpec{{Port: openPort, Proto: domain.ProtoTCP}}},
			{Name: "Samba", Host: "local", Ports: []domain.PortSpec{{Port: openPort, Proto: domain.ProtoTCP}, {Port: shut, Proto: domain.ProtoTCP}}},
			{Name: "WireGuard", Host: "local", Ports: []domain.PortSpec{{Port: 51820, Proto: domain.ProtoUDP}}},
			{Name: "Ghost", Host: "missing", Ports: []domain.PortSpec{{Port: 80, Proto: domain.ProtoTCP}}},
		},
	}

	v := NewVerifierAdapter(inv, VerifierConfig{PortTimeout: time.Second, MaxConcurrent: 2})
	checks := v.CheckPorts(context.Background())
	if len(checks) != 3 {
		t.Fatalf("expected 3 tcp checks, got %+v", checks)
	}

	obs, err := v.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected observations for Jellyfin and Samba, got %+v", obs)
	}
	if obs[0].Subject != "Jellyfin" || !obs[0].Healthy {
		t.Errorf("Jellyfin should be healthy: %+v", obs[0])
	}
	if obs[1].Subject != "Samba" || obs[1].Healthy || obs[1].Kind != domain.KindService {
		t.Errorf("Samba should be unreachable: %+v", obs[1])
	}
}
