package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"

	"hearth/internal/logging"
)

// OpenPort is one open TCP port found by a scan
type OpenPort struct {
	Port    int    `json:"port"`
	Service string `json:"service,omitempty"`
	Banner  string `json:"banner,omitempty"`
}

// HostScan is the scan result for one address
type HostScan struct {
	Address  string     `json:"address"`
	Hostname string     `json:"hostname,omitempty"`
	Open     []OpenPort `json:"open"`
}

// OpenPorts returns the open port numbers.
func (h HostScan) OpenPorts() []int {
	ports := make([]int, 0, len(h.Open))
	for _, p := range h.Open {
		ports = append(ports, p.Port)
	}
	return ports
}

// NmapScanner scans hosts for open TCP ports with nmap
type NmapScanner struct {
	timeout           time.Duration
	portRange         string
	serviceDetection  bool
	skipHostDiscovery bool
	log               zerolog.Logger
}

// NewNmapScanner creates a scanner. By default it covers 1-10000 plus the
// well-known ports above it, skips host discovery and detects services.
func NewNmapScanner(opts ...NmapOption) *NmapScanner {
	s := &NmapScanner{
		timeout:           10 * time.Minute,
		portRange:         "1-10000,32400,51413",
		serviceDetection:  true,
		skipHostDiscovery: true,
		log:               logging.Component("nmap"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the nmap binary can run.
func (s *NmapScanner) Available(ctx context.Context) bool {
	scanner, err := nmap.NewScanner(ctx, nmap.WithTargets("localhost"), nmap.WithListScan())
	if err != nil {
		return false
	}
	_, _, err = scanner.Run()
	return err == nil
}

// Scan runs one nmap scan over targets. Hosts that are down are omitted.
func (s *NmapScanner) Scan(ctx context.Context, targets ...string) ([]HostScan, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(targets...),
		nmap.WithPorts(s.portRange),
	}
	if s.serviceDetection {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if s.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	s.log.Info().Strs("targets", targets).Str("ports", s.portRange).Msg("starting scan")
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.log.Warn().Strs("warnings", *warnings).Msg("nmap reported warnings")
	}
	return processResults(result)
}

// processResults converts an nmap run into per-host open ports
func processResults(result *nmap.Run) ([]HostScan, error) {
	if result == nil {
		return nil, fmt.Errorf("nil scan result")
	}

	var scans []HostScan
	for _, host := range result.Hosts {
		if len(host.Addresses) == 0 || host.Status.State != "up" {
			continue
		}

		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			ip = host.Addresses[0].Addr
		}

		scan := HostScan{Address: ip}
		if len(host.Hostnames) > 0 {
			scan.Hostname = host.Hostnames[0].Name
		}
		for _, port := range host.Ports {
			if port.State.State != "open" || port.Protocol != "tcp" {
				continue
			}
			op := OpenPort{Port: int(port.ID), Service: port.Service.Name}
			if port.Service.Product != "" {
				op.Banner = strings.TrimSpace(port.Service.Product + " " + port.Service.Version)
			}
			scan.Open = append(scan.Open, op)
		}
		sort.Slice(scan.Open, func(i, j int) bool { return scan.Open[i].Port < scan.Open[j].Port })
		scans = append(scans, scan)
	}
	return scans, nil
}

// parsePorts validates an nmap port list
// Supported: "80,443,8080" or "1-1000" or "22,80-443,8080"
func parsePorts(portRange string) (string, error) {
	if strings.TrimSpace(portRange) == "" {
		return "", fmt.Errorf("empty port range")
	}
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, isRange := strings.Cut(part, "-"); isRange {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil || start < 1 || start > 65535 {
				return "", fmt.Errorf("invalid port number: %s", lo)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < 1 || end > 65535 || end < start {
				return "", fmt.Errorf("invalid port number: %s", hi)
			}
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return "", fmt.Errorf("invalid port number: %s", part)
		}
	}
	return portRange, nil
}
