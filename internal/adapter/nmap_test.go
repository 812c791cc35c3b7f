package adapter

import (
	"reflect"
	"testing"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
)

// TestNmapScanner_Options tests option functions
func TestNmapScanner_Options(t *testing.T) {
	tests := []struct {
		name        string
		opts        []NmapOption
		wantPorts   string
		wantTimeout time.Duration
		wantSV      bool
	}{
		{"defaults", nil, "1-10000,32400,51413", 10 * time.Minute, true},
		{"custom range", []NmapOption{WithPortRange("22,80-443")}, "22,80-443", 10 * time.Minute, true},
		{"invalid range ignored", []NmapOption{WithPortRange("80-22")}, "1-10000,32400,51413", 10 * time.Minute, true},
		{"fast scan", []NmapOption{WithFastScan()}, "22,53,80,139,443,445,4533,7878,8080-8096,8787,9696", 5 * time.Minute, false},
		{"all ports", []NmapOption{WithAllPorts(), WithTimeout(time.Hour)}, "1-65535", time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewNmapScanner(tt.opts...)
			if s.portRange != tt.wantPorts {
				t.Errorf("portRange = %q, want %q", s.portRange, tt.wantPorts)
			}
			if s.timeout != tt.wantTimeout {
				t.Errorf("timeout = %s, want %s", s.timeout, tt.wantTimeout)
			}
			if s.serviceDetection != tt.wantSV {
				t.Errorf("serviceDetection = %v, want %v", s.serviceDetection, tt.wantSV)
			}
		})
	}

	if s := NewNmapScanner(WithSkipHostDiscovery(false)); s.skipHostDiscovery {
		t.Error("expected host discovery enabled")
	}
}

func TestProcessResults(t *testing.T) {
	run := &nmap.Run{
		Hosts: []nmap.Host{
			{
				Addresses: []nmap.Address{
					{Addr: "AA:BB:CC:DD:EE:FF", AddrType: "mac"},
					{Addr: "192.168.1.20", AddrType: "ipv4"},
				},
				Hostnames: []nmap.Hostname{{Name: "3rdgen.home.lan"}},
				Status:    nmap.Status{State: "up"},
				Ports: []nmap.Port{
					{ID: 8080, Protocol: "tcp", State: nmap.State{State: "open"}, Service: nmap.Service{Name: "http-proxy"}},
					{ID: 22, Protocol: "tcp", State: nmap.State{State: "open"}, Service: nmap.Service{Name: "ssh", Product: "OpenSSH", Version: "9.6p1"}},
					{ID: 443, Protocol: "tcp", State: nmap.State{State: "closed"}},
					{ID: 53, Protocol: "udp", State: nmap.State{State: "open"}},
				},
			},
			{
				Addresses: []nmap.Address{{Addr: "192.168.1.99", AddrType: "ipv4"}},
				Status:    nmap.Status{State: "down"},
			},
		},
	}

	scans, err := processResults(run)
	if err != nil {
		t.Fatalf("processResults failed: %v", err)
	}
	if len(scans) != 1 {
		t.Fatalf("expected 1 host up, got %d", len(scans))
	}
	got := scans[0]
	if got.Address != "192.168.1.20" || got.Hostname != "3rdgen.home.lan" {
		t.Errorf("unexpected host %+v", got)
	}
	if !reflect.DeepEqual(got.OpenPorts(), []int{22, 8080}) {
		t.Errorf("open ports = %v, want [22 8080]", got.OpenPorts())
	}
	if got.Open[0].Banner != "OpenSSH 9.6p1" {
		t.Errorf("banner = %q", got.Open[0].Banner)
	}

	if _, err := processResults(nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"80", false},
		{"80,443,8080", false},
		{"1-1000", false},
		{"22,80-443,8080", false},
		{"", true},
		{"0", true},
		{"65536", true},
		{"443-80", true},
		{"abc", true},
		{"1-2-3", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := parsePorts(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parsePorts(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
