package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"hearth/internal/domain"
	"hearth/internal/loader"
)

type fakeExec struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	cmds    map[string]string
}

func (f *fakeExec) Exec(_ context.Context, host, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmds == nil {
		f.cmds = map[string]string{}
	}
	f.cmds[host] = cmd
	if err := f.errs[host]; err != nil {
		return "", err
	}
	return f.outputs[host], nil
}

var ingest = domain.Host{
	ID:      "3rdgen",
	Tier:    domain.TierIngest,
	Address: "192.168.1.20",
	Drives: []domain.Drive{
		{Device: "/dev/nvme0n1", Role: domain.DriveStaging},
		{Device: "/dev/sda", Role: domain.DriveBulk},
	},
}

func TestSMARTCommand(t *testing.T) {
	cmd := smartCommand(ingest)
	for _, want := range []string{"smartctl -H '/dev/nvme0n1'", "smartctl -H '/dev/sda'", "echo '=== hearth drive /dev/sda'"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command %q missing %q", cmd, want)
		}
	}
	if smartCommand(domain.Host{ID: "router"}) != "" {
		t.Error("hosts without drives should have no command")
	}
}

func TestParseSMART(t *testing.T) {
	output := `=== hearth drive /dev/nvme0n1
smartctl 7.4 2023-08-01 r5530 [x86_64-linux-6.8.0] (local build)
=== START OF SMART DATA SECTION ===
SMART overall-health self-assessment test result: PASSED
=== hearth drive /dev/sda
=== START OF READ SMART DATA SECTION ===
SMART overall-health self-assessment test result: FAILED!
Drive failure expected in less than 24 hours. SAVE ALL DATA.
`
	obs := parseSMART(ingest, output)
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if !obs[0].Healthy || obs[0].Subject != "3rdgen:/dev/nvme0n1" {
		t.Errorf("nvme should be healthy: %+v", obs[0])
	}
	if obs[1].Healthy || !strings.Contains(obs[1].Detail, "FAILED!") || !strings.Contains(obs[1].Detail, "bulk") {
		t.Errorf("sda should fail: %+v", obs[1])
	}

	scsi := "=== hearth drive /dev/nvme0n1\nSMART Health Status: OK\n=== hearth drive /dev/sda\nsmartctl: command not found\n"
	obs = parseSMART(ingest, scsi)
	if !obs[0].Healthy {
		t.Errorf("OK status should be healthy: %+v", obs[0])
	}
	if obs[1].Healthy || obs[1].Detail != "/dev/sda on 3rdgen: smartctl: command not found" {
		t.Errorf("missing verdict should be unhealthy with the first line: %+v", obs[1])
	}

	obs = parseSMART(ingest, "")
	if obs[0].Healthy || !strings.Contains(obs[0].Detail, "no smartctl output") {
		t.Errorf("missing section should be unhealthy: %+v", obs[0])
	}
}

func TestContainerHealthy(t *testing.T) {
	tests := []struct {
		c    ContainerState
		want bool
	}{
		{ContainerState{"radarr", "running", "Up 3 days"}, true},
		{ContainerState{"init", "exited", "Exited (0) 2 hours ago"}, true},
		{ContainerState{"readarr", "exited", "Exited (137) 5 minutes ago"}, false},
		{ContainerState{"prowlarr", "restarting", "Restarting (1) 4 seconds ago"}, false},
		{ContainerState{"old", "dead", "Dead"}, false},
		{ContainerState{"new", "created", "Created"}, true},
		{ContainerState{"odd", "exited", "garbled"}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Healthy(); got != tt.want {
			t.Errorf("%s Healthy() = %v, want %v", tt.c.Name, got, tt.want)
		}
	}
}

func TestContainersCheck(t *testing.T) {
	inv, err := loader.Default()
	if err != nil {
		t.Fatal(err)
	}
	host, _ := inv.Host("3rdgen")
	check := ContainersCheck(inv)

	if !strings.Contains(check.Command(host), "docker ps -a --format '{{.Names}}\t{{.State}}\t{{.Status}}'") {
		t.Errorf("unexpected command %q", check.Command(host))
	}

	output := "qbittorrent\trunning\tUp 2 days\nradarr\texited\tExited (1) 3 minutes ago\nprowlarr\trunning\tUp 2 days\n"
	obs := check.Parse(host, output)

	bySubject := map[string]domain.Observation{}
	for _, o := range obs {
		bySubject[o.Subject] = o
	}
	if o := bySubject["3rdgen/radarr"]; o.Healthy || o.Kind != domain.KindContainer {
		t.Errorf("radarr should be crashed: %+v", o)
	}
	if o := bySubject["3rdgen/qbittorrent"]; !o.Healthy {
		t.Errorf("qbittorrent should be healthy: %+v", o)
	}
	if o, ok := bySubject["3rdgen/readarr"]; !ok || o.Healthy || !strings.Contains(o.Detail, "not present") {
		t.Errorf("readarr is declared but missing, got %+v", o)
	}
}

func TestSSHProbeAdapterSync(t *testing.T) {
	router := domain.Host{ID: "router", Address: "192.168.1.1"}
	serving := domain.Host{ID: "4thgen", Address: "192.168.1.30", Drives: []domain.Drive{{Device: "/dev/sda"}}}
	exec := &fakeExec{
		outputs: map[string]string{
			"192.168.1.20": "=== hearth drive /dev/nvme0n1\nSMART Health Status: OK\n=== hearth drive /dev/sda\nSMART Health Status: OK\n",
		},
		errs: map[string]error{"192.168.1.30": errors.New("connection refused")},
	}

	a := NewSSHProbeAdapter(SMARTCheck(), []domain.Host{ingest, router, serving}, exec, 2)
	obs, err := a.Sync(context.Background())
	if err == nil || !strings.Contains(err.Error(), "4thgen") {
		t.Errorf("expected error naming 4thgen, got %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations from 3rdgen, got %+v", obs)
	}
	for _, o := range obs {
		if o.Source != "smart" || !o.Healthy || o.ObservedAt.IsZero() {
			t.Errorf("unexpected observation %+v", o)
		}
	}
	if _, ran := exec.cmds["192.168.1.1"]; ran {
		t.Error("router has no drives and should not be contacted")
	}
}

func TestHostsByID(t *testing.T) {
	inv, err := loader.Default()
	if err != nil {
		t.Fatal(err)
	}
	hosts, unknown := HostsByID(inv, []string{"3rdgen", "nas"})
	if len(hosts) != 1 || hosts[0].ID != "3rdgen" {
		t.Errorf("hosts = %+v", hosts)
	}
	if len(unknown) != 1 || unknown[0] != "nas" {
		t.Errorf("unknown = %v", unknown)
	}

	smart := DefaultSMARTHosts(inv)
	if len(smart) != 2 {
		t.Errorf("expected 3rdgen and 4thgen to have drives, got %d hosts", len(smart))
	}
	containers := DefaultContainerHosts(inv)
	if len(containers) == 0 || containers[0].ID != "3rdgen" {
		t.Errorf("expected 3rdgen to run containers, got %+v", containers)
	}
}
