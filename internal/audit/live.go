package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"hearth/internal/adapter"
	"hearth/internal/domain"
	"hearth/internal/logging"
	"hearth/internal/metrics"
)

// PortChecker probes declared service ports.
type PortChecker interface {
	CheckPorts(ctx context.Context) []adapter.PortCheck
}

// PortScanner finds open TCP ports on a set of addresses.
type PortScanner interface {
	Scan(ctx context.Context, targets ...string) ([]adapter.HostScan, error)
}

// DefaultAllowedPorts are open ports no inventory declares but every host
// is expected to have.
var DefaultAllowedPorts = []int{22}

// LiveOptions configure the checks that touch the machine or the network.
type LiveOptions struct {
	// LocalHost is the inventory ID of the machine hearth runs on. Empty
	// means detect from os.Hostname.
	LocalHost string
	// Ports probes declared ports. Nil skips port-open.
	Ports PortChecker
	// Scanner finds undeclared ports. Nil skips unexpected-port.
	Scanner PortScanner
	// AllowedPorts are never reported as unexpected.
	AllowedPorts []int

	stat  func(string) (fs.FileInfo, error)
	owner func(fs.FileInfo) (uid, gid int, ok bool)
}

// Report is the result of one audit.
type Report struct {
	Findings []domain.Finding        `json:"findings"`
	Counts   map[domain.Severity]int `json:"counts"`
	Live     bool                    `json:"live"`
	RanAt    time.Time               `json:"ran_at"`
}

// HasErrors reports whether any finding is an error.
func (r Report) HasErrors() bool {
	return domain.HasErrors(r.Findings)
}

// Run audits inv. With live set, it also runs the local directory checks
// and the network checks configured in opts.
func Run(ctx context.Context, inv *domain.Inventory, live bool, opts LiveOptions) Report {
	findings := Static(inv)
	if live {
		findings = append(findings, Live(ctx, inv, opts)...)
		domain.SortFindings(findings)
	}
	if findings == nil {
		findings = []domain.Finding{}
	}

	r := Report{Findings: findings, Counts: make(map[domain.Severity]int), Live: live, RanAt: time.Now().UTC()}
	labels := make(map[string]int)
	for _, f := range findings {
		r.Counts[f.Severity]++
	}
	for _, sev := range []domain.Severity{domain.SeverityInfo, domain.SeverityWarn, domain.SeverityError} {
		labels[string(sev)] = r.Counts[sev]
	}
	metrics.RecordAudit(labels)

	logging.Info().
		Int("errors", r.Counts[domain.SeverityError]).
		Int("warnings", r.Counts[domain.SeverityWarn]).
		Bool("live", live).
		Msg("audit completed")
	return r
}

// Live runs the checks that look at the real deployment.
func Live(ctx context.Context, inv *domain.Inventory, opts LiveOptions) []domain.Finding {
	if opts.stat == nil {
		opts.stat = os.Stat
	}
	if opts.owner == nil {
		opts.owner = fileOwner
	}
	if opts.AllowedPorts == nil {
		opts.AllowedPorts = DefaultAllowedPorts
	}

	var out []domain.Finding
	out = append(out, checkDirectories(inv, opts)...)
	if opts.Ports != nil {
		out = append(out, checkPortsOpen(ctx, opts.Ports)...)
	}
	if opts.Scanner != nil {
		out = append(out, checkUnexpectedPorts(ctx, inv, opts)...)
	}
	return out
}

// LocalHostID finds the inventory host matching this machine's hostname.
func LocalHostID(inv *domain.Inventory) (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	short, _, _ := strings.Cut(strings.ToLower(name), ".")
	for _, h := range inv.Hosts {
		if strings.EqualFold(h.ID, short) || strings.EqualFold(h.Hostname, name) || strings.EqualFold(h.Hostname, short) {
			return h.ID, nil
		}
	}
	return "", fmt.Errorf("hostname %q is not in the inventory", name)
}

func checkDirectories(inv *domain.Inventory, opts LiveOptions) []domain.Finding {
	hostID := opts.LocalHost
	if hostID == "" {
		id, err := LocalHostID(inv)
		if err != nil {
			return []domain.Finding{finding(CheckDirPresent, domain.SeverityInfo, "local",
				"skipped directory checks: %v", err)}
		}
		hostID = id
	}

	var out []domain.Finding
	seen := make(map[string]bool)
	want := inv.Ownership
	for _, s := range inv.ServicesOn(hostID) {
		for _, dir := range s.Dirs() {
			if seen[dir] {
				continue
			}
			seen[dir] = true

			fi, err := opts.stat(dir)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				out = append(out, finding(CheckDirPresent, domain.SeverityError, s.Name, "%s does not exist on %s", dir, hostID))
				continue
			case err != nil:
				out = append(out, finding(CheckDirPresent, domain.SeverityError, s.Name, "cannot stat %s: %v", dir, err))
				continue
			case !fi.IsDir():
				out = append(out, finding(CheckDirPresent, domain.SeverityError, s.Name, "%s is not a directory", dir))
				continue
			}

			uid, gid, ok := opts.owner(fi)
			if ok && (uid != want.UID || gid != want.GID) {
				out = append(out, finding(CheckDirOwner, domain.SeverityWarn, s.Name,
					"%s is owned by %d:%d, want %d:%d", dir, uid, gid, want.UID, want.GID))
			}
		}
	}
	return out
}

func checkPortsOpen(ctx context.Context, pc PortChecker) []domain.Finding {
	var out []domain.Finding
	for _, c := range pc.CheckPorts(ctx) {
		if !c.Open {
			out = append(out, finding(CheckPortOpen, domain.SeverityError, c.Service,
				"%s:%d/tcp on %s is not answering: %s", c.Address, c.Port, c.Host, c.Error))
		}
	}
	return out
}

func checkUnexpectedPorts(ctx context.Context, inv *domain.Inventory, opts LiveOptions) []domain.Finding {
	byAddr := make(map[string]domain.Host)
	var targets []string
	for _, h := range inv.Hosts {
		if h.Address == "" {
			continue
		}
		byAddr[h.Address] = h
		targets = append(targets, h.Address)
	}

	scans, err := opts.Scanner.Scan(ctx, targets...)
	if err != nil {
		return []domain.Finding{finding(CheckUnexpectedPort, domain.SeverityInfo, "nmap", "port scan skipped: %v", err)}
	}

	var out []domain.Finding
	for _, scan := range scans {
		h, ok := byAddr[scan.Address]
		if !ok {
			continue
		}
		declared := make(map[int]bool)
		for _, s := range inv.ServicesOn(h.ID) {
			for _, p := range s.TCPPorts() {
				declared[p] = true
			}
		}
		for _, op := range scan.Open {
			if declared[op.Port] || slices.Contains(opts.AllowedPorts, op.Port) {
				continue
			}
			label := op.Service
			if op.Banner != "" {
				label = op.Banner
			}
			if label == "" {
				label = "unknown"
			}
			out = append(out, finding(CheckUnexpectedPort, domain.SeverityWarn, fmt.Sprintf("%s:%d", h.ID, op.Port),
				"%s has %d/tcp open (%s) but no service declares it", h.ID, op.Port, label))
		}
	}
	return out
}
