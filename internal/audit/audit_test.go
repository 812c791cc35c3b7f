package audit

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hearth/internal/adapter"
	"hearth/internal/domain"
	"hearth/internal/loader"
)

func defaultInventory(t *testing.T) *domain.Inventory {
	t.Helper()
	inv, err := loader.Default()
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestDefaultInventoryHasNoErrors(t *testing.T) {
	findings := Static(defaultInventory(t))
	for _, f := range findings {
		if f.Severity == domain.SeverityError {
			t.Errorf("unexpected error finding: %+v", f)
		}
	}
}

func hasFinding(findings []domain.Finding, check string, sev domain.Severity, substr string) bool {
	for _, f := range findings {
		if f.Check == check && f.Severity == sev && strings.Contains(f.Subject+" "+f.Message, substr) {
			return true
		}
	}
	return false
}

func TestStaticChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *domain.Inventory)
		check  string
		sev    domain.Severity
		substr string
	}{
		{
			name: "two services on one port",
			mutate: func(inv *domain.Inventory) {
				inv.Services = append(inv.Services, domain.Service{Name: "Sonarr", Host: "3rdgen", Ports: []domain.PortSpec{{Port: 8080, Proto: domain.ProtoTCP}}})
			},
			check: CheckPortConflict, sev: domain.SeverityError, substr: "Sonarr, qBittorrent",
		},
		{
			name: "service on unknown host",
			mutate: func(inv *domain.Inventory) {
				inv.Services = append(inv.Services, domain.Service{Name: "Plex", Host: "5thgen"})
			},
			check: CheckUnknownHost, sev: domain.SeverityError, substr: `"5thgen"`,
		},
		{
			name:   "replication from unknown host",
			mutate: func(inv *domain.Inventory) { inv.Replication.Source = "nas" },
			check:  CheckUnknownHost, sev: domain.SeverityError, substr: `source "nas"`,
		},
		{
			name:   "bad tier",
			mutate: func(inv *domain.Inventory) { inv.Hosts[0].Tier = "cloud" },
			check:  CheckHostTier, sev: domain.SeverityError, substr: "cloud",
		},
		{
			name:   "config dir off convention",
			mutate: func(inv *domain.Inventory) { setService(inv, "Radarr", func(s *domain.Service) { s.ConfigDir = "/opt/radarr" }) },
			check:  CheckDirConvention, sev: domain.SeverityWarn, substr: "/srv/radarr-config",
		},
		{
			name:   "media dir outside root",
			mutate: func(inv *domain.Inventory) { setService(inv, "Jellyfin", func(s *domain.Service) { s.MediaDirs = []string{"/mnt/movies"} }) },
			check:  CheckDirConvention, sev: domain.SeverityError, substr: "/mnt/movies",
		},
		{
			name:   "missing category",
			mutate: func(inv *domain.Inventory) { inv.Media.Categories = []string{"movies", "tv", "music"} },
			check:  CheckMediaLayout, sev: domain.SeverityError, substr: "books",
		},
		{
			name:   "nested category",
			mutate: func(inv *domain.Inventory) { inv.Media.Categories = append(inv.Media.Categories, "tv/anime") },
			check:  CheckMediaLayout, sev: domain.SeverityError, substr: "tv/anime",
		},
		{
			name:   "name outside domain",
			mutate: func(inv *domain.Inventory) { setService(inv, "Navidrome", func(s *domain.Service) { s.DNSName = "music.example.com" }) },
			check:  CheckDNSName, sev: domain.SeverityError, substr: "not under home.lan",
		},
		{
			name:   "invalid label",
			mutate: func(inv *domain.Inventory) { setService(inv, "Navidrome", func(s *domain.Service) { s.DNSName = "music_box.home.lan" }) },
			check:  CheckDNSName, sev: domain.SeverityError, substr: "not a valid DNS name",
		},
		{
			name:   "duplicate name",
			mutate: func(inv *domain.Inventory) { setService(inv, "Navidrome", func(s *domain.Service) { s.DNSName = "jellyfin.home.lan" }) },
			check:  CheckDNSName, sev: domain.SeverityError, substr: "claimed by Jellyfin, Navidrome",
		},
		{
			name: "push replication",
			mutate: func(inv *domain.Inventory) {
				inv.Replication.Source, inv.Replication.Destination = "4thgen", "3rdgen"
			},
			check: CheckReplication, sev: domain.SeverityError, substr: "serving host must initiate",
		},
		{
			name:   "missing trailing slash",
			mutate: func(inv *domain.Inventory) { inv.Replication.SourcePath = "/srv/media" },
			check:  CheckReplication, sev: domain.SeverityWarn, substr: "source_path",
		},
		{
			name:   "no replication",
			mutate: func(inv *domain.Inventory) { inv.Replication = nil },
			check:  CheckReplication, sev: domain.SeverityWarn, substr: "no replication",
		},
		{
			name:   "root ownership",
			mutate: func(inv *domain.Inventory) { inv.Ownership = domain.Ownership{UID: 0, GID: 1000} },
			check:  CheckOwnership, sev: domain.SeverityError, substr: "0:1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := defaultInventory(t)
			tt.mutate(inv)
			findings := Static(inv)
			if !hasFinding(findings, tt.check, tt.sev, tt.substr) {
				t.Errorf("expected %s/%s finding containing %q, got %+v", tt.check, tt.sev, tt.substr, findings)
			}
		})
	}
}

func TestStaticOrdering(t *testing.T) {
	inv := defaultInventory(t)
	inv.Replication.DestPath = "/srv/media"
	inv.Services = append(inv.Services, domain.Service{Name: "Plex", Host: "5thgen"})
	findings := Static(inv)
	if len(findings) < 2 || findings[0].Severity != domain.SeverityError {
		t.Fatalf("errors must sort first: %+v", findings)
	}
	if findings[len(findings)-1].Severity == domain.SeverityError {
		t.Error("warnings must sort after errors")
	}
}

func setService(inv *domain.Inventory, name string, fn func(*domain.Service)) {
	for i := range inv.Services {
		if inv.Services[i].Name == name {
			fn(&inv.Services[i])
		}
	}
}

type stubPorts []adapter.PortCheck

func (s stubPorts) CheckPorts(context.Context) []adapter.PortCheck { return s }

type stubScanner struct {
	scans []adapter.HostScan
	err   error
}

func (s stubScanner) Scan(context.Context, ...string) ([]adapter.HostScan, error) {
	return s.scans, s.err
}

func TestLiveDirectories(t *testing.T) {
	root := t.TempDir()
	present := filepath.Join(root, "jellyfin-config")
	if err := os.Mkdir(present, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(root, "navidrome-data")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	inv := &domain.Inventory{
		Ownership: domain.Ownership{UID: 1000, GID: 1000},
		Hosts:     []domain.Host{{ID: "4thgen", Tier: domain.TierServing}},
		Services: []domain.Service{
			{Name: "Jellyfin", Host: "4thgen", ConfigDir: present},
			{Name: "Navidrome", Host: "4thgen", DataDir: file},
			{Name: "CVAT", Host: "4thgen", DataDir: filepath.Join(root, "cvat-data")},
			{Name: "Radarr", Host: "3rdgen", ConfigDir: filepath.Join(root, "radarr-config")},
		},
	}
	opts := LiveOptions{
		LocalHost: "4thgen",
		owner:     func(fs.FileInfo) (int, int, bool) { return 0, 0, true },
	}

	findings := Live(context.Background(), inv, opts)
	if !hasFinding(findings, CheckDirPresent, domain.SeverityError, "cvat-data does not exist") {
		t.Errorf("missing dir not reported: %+v", findings)
	}
	if !hasFinding(findings, CheckDirPresent, domain.SeverityError, "is not a directory") {
		t.Errorf("file reported as dir: %+v", findings)
	}
	if !hasFinding(findings, CheckDirOwner, domain.SeverityWarn, "owned by 0:0, want 1000:1000") {
		t.Errorf("wrong owner not reported: %+v", findings)
	}
	if hasFinding(findings, CheckDirPresent, domain.SeverityError, "radarr") {
		t.Error("directories of other hosts must not be checked")
	}

	opts.owner = func(fs.FileInfo) (int, int, bool) { return 1000, 1000, true }
	if hasFinding(Live(context.Background(), inv, opts), CheckDirOwner, domain.SeverityWarn, "") {
		t.Error("correct owner reported")
	}
}

func TestLiveNetwork(t *testing.T) {
	inv := defaultInventory(t)
	opts := LiveOptions{
		LocalHost: "vps",
		Ports: stubPorts{
			{Service: "Jellyfin", Host: "4thgen", Address: "192.168.1.30", Port: 8096, Open: true},
			{Service: "Radarr", Host: "3rdgen", Address: "192.168.1.20", Port: 7878, Error: "connection refused"},
		},
		Scanner: stubScanner{scans: []adapter.HostScan{
			{Address: "192.168.1.20", Open: []adapter.OpenPort{{Port: 22}, {Port: 7878}, {Port: 5432, Service: "postgresql"}}},
			{Address: "10.9.9.9", Open: []adapter.OpenPort{{Port: 80}}},
		}},
		stat: func(string) (fs.FileInfo, error) { return nil, fs.ErrNotExist },
	}

	findings := Live(context.Background(), inv, opts)
	if !hasFinding(findings, CheckPortOpen, domain.SeverityError, "192.168.1.20:7878/tcp on 3rdgen is not answering") {
		t.Errorf("closed port not reported: %+v", findings)
	}
	if hasFinding(findings, CheckPortOpen, domain.SeverityError, "Jellyfin") {
		t.Error("open port reported")
	}
	if !hasFinding(findings, CheckUnexpectedPort, domain.SeverityWarn, "3rdgen:5432") {
		t.Errorf("undeclared port not reported: %+v", findings)
	}
	for _, f := range findings {
		if f.Check == CheckUnexpectedPort && (strings.Contains(f.Subject, ":22") || strings.Contains(f.Subject, ":7878")) {
			t.Errorf("declared or allowed port reported: %+v", f)
		}
	}

	opts.Scanner = stubScanner{err: errors.New("nmap not installed")}
	if !hasFinding(Live(context.Background(), inv, opts), CheckUnexpectedPort, domain.SeverityInfo, "nmap not installed") {
		t.Error("scan failure should be an info finding")
	}
}

func TestRunReport(t *testing.T) {
	inv := defaultInventory(t)
	inv.Ownership.UID = 0
	r := Run(context.Background(), inv, false, LiveOptions{})
	if !r.HasErrors() || r.Counts[domain.SeverityError] == 0 || r.Live {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestOwnershipFromParsedInventory(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantFound bool
	}{
		{name: "explicit root", data: "ownership: {uid: 0, gid: 0}\nhosts: {}\n", wantFound: true},
		{name: "root gid", data: "ownership: {uid: 1000, gid: 0}\nhosts: {}\n", wantFound: true},
		{name: "omitted", data: "hosts: {}\n", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := loader.ParseYAML([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseYAML() error: %v", err)
			}
			got := hasFinding(Static(inv), CheckOwnership, domain.SeverityError, "")
			if got != tt.wantFound {
				t.Errorf("ownership %d:%d: finding = %v, want %v", inv.Ownership.UID, inv.Ownership.GID, got, tt.wantFound)
			}
		})
	}
}
