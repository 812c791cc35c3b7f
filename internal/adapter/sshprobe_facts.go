package adapter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"hearth/internal/domain"
)

// driveMarker separates per-drive sections in the SMART command output.
const driveMarker = "=== hearth drive "

// SMARTCheck runs smartctl -H against every drive the inventory lists for
// a host, in one SSH session.
func SMARTCheck() HostCheck {
	return HostCheck{
		Name:    "smart",
		Command: smartCommand,
		Parse:   parseSMART,
	}
}

func smartCommand(h domain.Host) string {
	if len(h.Drives) == 0 {
		return ""
	}
	var parts []string
	for _, d := range h.Drives {
		parts = append(parts, fmt.Sprintf("echo '%s%s'; smartctl -H %s 2>&1", driveMarker, d.Device, shellQuote(d.Device)))
	}
	return strings.Join(parts, "; ")
}

// parseSMART reads smartctl health verdicts. ATA drives print
// "overall-health self-assessment test result: PASSED", SCSI and NVMe
// drives print "SMART Health Status: OK".
func parseSMART(h domain.Host, output string) []domain.Observation {
	sections := make(map[string]string)
	var current string
	for _, line := range strings.Split(output, "\n") {
		if dev, ok := strings.CutPrefix(strings.TrimSpace(line), driveMarker); ok {
			current = dev
			sections[current] = ""
			continue
		}
		if current != "" {
			sections[current] += line + "\n"
		}
	}

	var obs []domain.Observation
	for _, d := range h.Drives {
		o := domain.Observation{
			Kind:    domain.KindSMART,
			Subject: h.ID + ":" + d.Device,
		}
		section, ok := sections[d.Device]
		verdict := smartVerdict(section)
		switch {
		case !ok:
			o.Detail = "no smartctl output for " + d.Device
		case verdict == "PASSED" || verdict == "OK":
			o.Healthy = true
			o.Detail = verdict
		case verdict != "":
			o.Detail = fmt.Sprintf("%s (%s) on %s reports %s", d.Device, d.Role, h.ID, verdict)
		default:
			o.Detail = fmt.Sprintf("%s on %s: %s", d.Device, h.ID, firstLine(section))
		}
		obs = append(obs, o)
	}
	return obs
}

func smartVerdict(section string) string {
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{
			"SMART overall-health self-assessment test result:",
			"SMART Health Status:",
		} {
			if v, ok := strings.CutPrefix(line, prefix); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// ContainersFormat is the docker ps template the containers check parses.
const ContainersFormat = "{{.Names}}\t{{.State}}\t{{.Status}}"

// ContainersCheck lists containers on each host. Containers that exited
// with a non-zero code, are dead or are restarting are unhealthy. Services
// the inventory marks as containers but docker does not list are reported
// missing.
func ContainersCheck(inv *domain.Inventory) HostCheck {
	return HostCheck{
		Name: "containers",
		Command: func(domain.Host) string {
			return "docker ps -a --format '" + ContainersFormat + "'"
		},
		Parse: func(h domain.Host, output string) []domain.Observation {
			return parseContainers(h, output, declaredContainers(inv, h.ID))
		},
	}
}

var exitedRe = regexp.MustCompile(`^Exited \((-?\d+)\)`)

// ContainerState is one row of docker ps output.
type ContainerState struct {
	Name   string
	State  string
	Status string
}

// ParseContainerList parses docker ps output in ContainersFormat.
func ParseContainerList(output string) []ContainerState {
	var out []ContainerState
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 2 {
			continue
		}
		c := ContainerState{Name: fields[0], State: strings.ToLower(fields[1])}
		if len(fields) == 3 {
			c.Status = fields[2]
		}
		out = append(out, c)
	}
	return out
}

// Healthy applies the crash rules to one container.
func (c ContainerState) Healthy() bool {
	switch c.State {
	case "dead", "restarting":
		return false
	case "exited":
		m := exitedRe.FindStringSubmatch(c.Status)
		if m == nil {
			return false
		}
		code, err := strconv.Atoi(m[1])
		return err == nil && code == 0
	default:
		return true
	}
}

func parseContainers(h domain.Host, output string, declared []string) []domain.Observation {
	var obs []domain.Observation
	seen := make(map[string]bool)
	for _, c := range ParseContainerList(output) {
		seen[strings.ToLower(c.Name)] = true
		o := domain.Observation{
			Kind:    domain.KindContainer,
			Subject: h.ID + "/" + c.Name,
			Healthy: c.Healthy(),
			Detail:  fmt.Sprintf("%s: %s", c.State, c.Status),
		}
		obs = append(obs, o)
	}
	for _, name := range declared {
		if seen[name] {
			continue
		}
		obs = append(obs, domain.Observation{
			Kind:    domain.KindContainer,
			Subject: h.ID + "/" + name,
			Detail:  "declared in the inventory but not present in docker ps -a",
		})
	}
	return obs
}

// declaredContainers returns the slugs of containerized services on host.
func declaredContainers(inv *domain.Inventory, hostID string) []string {
	if inv == nil {
		return nil
	}
	var names []string
	for _, s := range inv.ServicesOn(hostID) {
		if s.Container {
			names = append(names, s.Slug())
		}
	}
	return names
}

// DefaultSMARTHosts are the hosts with drives in the inventory.
func DefaultSMARTHosts(inv *domain.Inventory) []domain.Host {
	var hosts []domain.Host
	for _, h := range inv.Hosts {
		if len(h.Drives) > 0 {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// DefaultContainerHosts are the hosts running containerized services.
func DefaultContainerHosts(inv *domain.Inventory) []domain.Host {
	var hosts []domain.Host
	for _, h := range inv.Hosts {
		if len(declaredContainers(inv, h.ID)) > 0 {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "no verdict in smartctl output"
	}
	return s
}
