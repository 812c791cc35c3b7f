// Package audit checks an inventory against the deployment conventions:
// one port per service per host, /srv/<app>-config and /srv/<app>-data
// directories, a shared media tree, home.lan names, pull replication from
// the ingest host and a single non-root owner.
package audit

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"hearth/internal/domain"
)

// Check names.
const (
	CheckPortConflict   = "port-conflict"
	CheckUnknownHost    = "unknown-host"
	CheckHostTier       = "host-tier"
	CheckDirConvention  = "dir-convention"
	CheckMediaLayout    = "media-layout"
	CheckDNSName        = "dns-name"
	CheckReplication    = "replication-direction"
	CheckOwnership      = "ownership"
	CheckDirPresent     = "dir-present"
	CheckDirOwner       = "dir-owner"
	CheckPortOpen       = "port-open"
	CheckUnexpectedPort = "unexpected-port"
)

// Check is one static rule.
type Check struct {
	Name string
	Run  func(inv *domain.Inventory) []domain.Finding
}

// StaticChecks are the rules that need nothing but the inventory.
var StaticChecks = []Check{
	{CheckPortConflict, checkPortConflicts},
	{CheckUnknownHost, checkUnknownHosts},
	{CheckHostTier, checkHostTiers},
	{CheckDirConvention, checkDirConventions},
	{CheckMediaLayout, checkMediaLayout},
	{CheckDNSName, checkDNSNames},
	{CheckReplication, checkReplication},
	{CheckOwnership, checkOwnership},
}

// Static runs every static check and returns the findings sorted worst first.
func Static(inv *domain.Inventory) []domain.Finding {
	var findings []domain.Finding
	for _, c := range StaticChecks {
		findings = append(findings, c.Run(inv)...)
	}
	domain.SortFindings(findings)
	return findings
}

func finding(check string, sev domain.Severity, subject, format string, args ...any) domain.Finding {
	return domain.Finding{Check: check, Severity: sev, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func checkPortConflicts(inv *domain.Inventory) []domain.Finding {
	type key struct {
		host string
		port domain.PortSpec
	}
	owners := make(map[key][]string)
	for _, s := range inv.Services {
		seen := make(map[domain.PortSpec]bool)
		for _, p := range s.Ports {
			if p.Proto == "" {
				p.Proto = domain.ProtoTCP
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			k := key{s.Host, p}
			owners[k] = append(owners[k], s.Name)
		}
	}

	var out []domain.Finding
	for k, names := range owners {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		out = append(out, finding(CheckPortConflict, domain.SeverityError, k.host+":"+k.port.String(),
			"%s all bind %s on %s", strings.Join(names, ", "), k.port, k.host))
	}
	return out
}

func checkUnknownHosts(inv *domain.Inventory) []domain.Finding {
	var out []domain.Finding
	for _, s := range inv.Services {
		if _, ok := inv.Host(s.Host); !ok {
			out = append(out, finding(CheckUnknownHost, domain.SeverityError, s.Name,
				"service %s is pinned to unknown host %q", s.Name, s.Host))
		}
	}
	if r := inv.Replication; r != nil {
		for _, ref := range [][2]string{{"source", r.Source}, {"destination", r.Destination}} {
			if _, ok := inv.Host(ref[1]); !ok {
				out = append(out, finding(CheckUnknownHost, domain.SeverityError, "replication",
					"replication %s %q is not in the inventory", ref[0], ref[1]))
			}
		}
	}
	return out
}

func checkHostTiers(inv *domain.Inventory) []domain.Finding {
	var out []domain.Finding
	for _, h := range inv.Hosts {
		if !h.Tier.Valid() {
			out = append(out, finding(CheckHostTier, domain.SeverityError, h.ID,
				"host %s has unknown tier %q (want router, ingest, serving or edge)", h.ID, h.Tier))
		}
	}
	return out
}

func checkDirConventions(inv *domain.Inventory) []domain.Finding {
	var out []domain.Finding
	for _, s := range inv.Services {
		if s.ConfigDir != "" && path.Clean(s.ConfigDir) != s.ExpectedConfigDir() {
			out = append(out, finding(CheckDirConvention, domain.SeverityWarn, s.Name,
				"config dir %s should be %s", s.ConfigDir, s.ExpectedConfigDir()))
		}
		// Media consumers may keep their data inside the library.
		if s.DataDir != "" && path.Clean(s.DataDir) != s.ExpectedDataDir() && !inv.Media.Contains(s.DataDir) {
			out = append(out, finding(CheckDirConvention, domain.SeverityWarn, s.Name,
				"data dir %s should be %s", s.DataDir, s.ExpectedDataDir()))
		}
		for _, d := range s.MediaDirs {
			if !inv.Media.Contains(d) {
				out = append(out, finding(CheckDirConvention, domain.SeverityError, s.Name,
					"media dir %s is outside the media root %s", d, inv.Media.Root))
			}
		}
	}
	return out
}

func checkMediaLayout(inv *domain.Inventory) []domain.Finding {
	var out []domain.Finding
	have := make(map[string]bool)
	for _, c := range inv.Media.Categories {
		if have[c] {
			out = append(out, finding(CheckMediaLayout, domain.SeverityWarn, c, "category %s is listed twice", c))
		}
		have[c] = true
		if strings.Contains(strings.Trim(c, "/"), "/") {
			out = append(out, finding(CheckMediaLayout, domain.SeverityError, c,
				"category %s must live directly under %s", c, inv.Media.Root))
		}
	}
	for _, want := range domain.DefaultCategories {
		if !have[want] {
			out = append(out, finding(CheckMediaLayout, domain.SeverityError, want,
				"media root %s is missing the %s category", inv.Media.Root, want))
		}
	}
	if !path.IsAbs(inv.Media.Root) {
		out = append(out, finding(CheckMediaLayout, domain.SeverityError, inv.Media.Root, "media root must be an absolute path"))
	}
	return out
}

var nameValidator = validator.New()

func checkDNSNames(inv *domain.Inventory) []domain.Finding {
	var out []domain.Finding
	suffix := "." + inv.Domain
	owners := make(map[string][]string)

	check := func(subject, name string, claim bool) {
		if claim {
			owners[name] = append(owners[name], subject)
		}
		if !strings.HasSuffix(name, suffix) {
			out = append(out, finding(CheckDNSName, domain.SeverityError, subject,
				"%s is not under %s", name, inv.Domain))
		}
		if err := nameValidator.Var(name, "hostname_rfc1123"); err != nil {
			out = append(out, finding(CheckDNSName, domain.SeverityError, subject,
				"%s is not a valid DNS name", name))
		}
	}
	for _, h := range inv.Hosts {
		check(h.ID, inv.HostFQDN(h), true)
	}
	for _, s := range inv.Services {
		if s.DNSName == "" {
			continue
		}
		name := strings.ToLower(s.DNSName)
		// A service may answer on its own host's name, e.g. the router web UI.
		h, ok := inv.Host(s.Host)
		check(s.Name, name, !ok || inv.HostFQDN(h) != name)
	}

	for name, subjects := range owners {
		if len(subjects) > 1 {
			sort.Strings(subjects)
			out = append(out, finding(CheckDNSName, domain.SeverityError, name,
				"%s is claimed by %s", name, strings.Join(subjects, ", ")))
		}
	}
	return out
}

func checkReplication(inv *domain.Inventory) []domain.Finding {
	r := inv.Replication
	if r == nil {
		return []domain.Finding{finding(CheckReplication, domain.SeverityWarn, "replication",
			"no replication configured, the serving host has no copy of the library")}
	}

	var out []domain.Finding
	if src, ok := inv.Host(r.Source); ok && src.Tier != domain.TierIngest {
		out = append(out, finding(CheckReplication, domain.SeverityError, "replication",
			"source %s is a %s host, pull replication reads from the ingest host", src.ID, src.Tier))
	}
	if dst, ok := inv.Host(r.Destination); ok && dst.Tier != domain.TierServing {
		out = append(out, finding(CheckReplication, domain.SeverityError, "replication",
			"destination %s is a %s host, the serving host must initiate the pull", dst.ID, dst.Tier))
	}
	if r.Source == r.Destination && r.Source != "" {
		out = append(out, finding(CheckReplication, domain.SeverityError, "replication",
			"source and destination are both %s", r.Source))
	}
	for _, ref := range [][2]string{{"source_path", r.SourcePath}, {"dest_path", r.DestPath}} {
		if !strings.HasSuffix(ref[1], "/") {
			out = append(out, finding(CheckReplication, domain.SeverityWarn, "replication",
				"%s %q has no trailing slash, rsync would nest the directory instead of mirroring its contents", ref[0], ref[1]))
		}
	}
	return out
}

func checkOwnership(inv *domain.Inventory) []domain.Finding {
	o := inv.Ownership
	if o.UID == 0 || o.GID == 0 {
		return []domain.Finding{finding(CheckOwnership, domain.SeverityError, fmt.Sprintf("%d:%d", o.UID, o.GID),
			"services must not write as root, use an unprivileged UID/GID such as 1000:1000")}
	}
	return nil
}
