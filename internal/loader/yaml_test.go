package loader

import (
	"strings"
	"testing"

	"hearth/internal/domain"
)

func TestDefaultInventory(t *testing.T) {
	inv, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}

	if inv.Domain != "home.lan" {
		t.Errorf("expected home.lan, got %s", inv.Domain)
	}
	if inv.Ownership != (domain.Ownership{UID: 1000, GID: 1000}) {
		t.Errorf("unexpected ownership %+v", inv.Ownership)
	}

	wantPorts := map[string]string{
		"dnsmasq":     "53/udp",
		"uhttpd":      "80/tcp",
		"WireGuard":   "51820/udp",
		"Jellyfin":    "8096/tcp",
		"Navidrome":   "4533/tcp",
		"Calibre-Web": "8083/tcp",
		"CVAT":        "8081/tcp",
		"qBittorrent": "8080/tcp",
		"Radarr":      "7878/tcp",
		"Prowlarr":    "9696/tcp",
		"Samba":       "445/tcp",
	}
	for name, port := range wantPorts {
		svc, ok := inv.Service(name)
		if !ok {
			t.Errorf("service %s missing", name)
			continue
		}
		if len(svc.Ports) == 0 || svc.Ports[0].String() != port {
			t.Errorf("service %s: expected first port %s, got %v", name, port, svc.Ports)
		}
	}

	samba, _ := inv.Service("samba")
	if len(samba.Ports) != 2 || samba.Ports[1].Port != 139 {
		t.Errorf("samba should expose 445 and 139, got %v", samba.Ports)
	}

	rep := inv.Replication
	if rep == nil {
		t.Fatal("expected replication section")
	}
	if rep.Source != "3rdgen" || rep.SourcePath != "/srv/media/" || rep.DestPath != "/srv/media/" {
		t.Errorf("unexpected replication %+v", rep)
	}

	ingest, ok := inv.Host("3rdgen")
	if !ok || ingest.Tier != domain.TierIngest {
		t.Fatalf("3rdgen should be the ingest host: %+v", ingest)
	}
	if len(ingest.Drives) != 2 || ingest.Drives[0].Role != domain.DriveStaging {
		t.Errorf("expected staging and bulk drives, got %+v", ingest.Drives)
	}
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "invalid yaml",
			data: "hosts: [",
			want: "parse inventory",
		},
		{
			name: "bad port",
			data: "hosts: {}\nservices:\n  - name: x\n    ports: [abc]\n",
			want: "invalid port",
		},
		{
			name: "unnamed service",
			data: "hosts: {}\nservices:\n  - host: a\n",
			want: "has no name",
		},
		{
			name: "duplicate service",
			data: "hosts: {}\nservices:\n  - name: Radarr\n  - name: radarr\n",
			want: "duplicate service",
		},
		{
			name: "empty host",
			data: "hosts:\n  a:\n",
			want: "no definition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	inv, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	data, err := Marshal(inv)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(data), "51820/udp") {
		t.Errorf("ports should be written as port/proto:\n%s", data)
	}

	back, err := ParseYAML(data)
	if err != nil {
		t.Fatalf("re-parse error: %v", err)
	}
	if len(back.Hosts) != len(inv.Hosts) || len(back.Services) != len(inv.Services) {
		t.Errorf("round trip lost entries: %d/%d hosts, %d/%d services",
			len(back.Hosts), len(inv.Hosts), len(back.Services), len(inv.Services))
	}
}
