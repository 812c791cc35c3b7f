package domain

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Proto is a transport protocol.
type Proto string

const (
	ProtoTCP Proto = "tcp"
	ProtoUDP Proto = "udp"
)

// PortSpec is a port and protocol pair, written as "445/tcp" or "51820/udp".
// A bare number means tcp.
type PortSpec struct {
	Port  int
	Proto Proto
}

// ParsePortSpec parses "8096", "8096/tcp" or "53/udp".
func ParsePortSpec(s string) (PortSpec, error) {
	s = strings.TrimSpace(s)
	num, proto, found := strings.Cut(s, "/")
	p := PortSpec{Proto: ProtoTCP}
	if found {
		switch Proto(strings.ToLower(proto)) {
		case ProtoTCP:
		case ProtoUDP:
			p.Proto = ProtoUDP
		default:
			return PortSpec{}, fmt.Errorf("invalid protocol %q in port %q", proto, s)
		}
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return PortSpec{}, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if n < 1 || n > 65535 {
		return PortSpec{}, fmt.Errorf("port %d out of range", n)
	}
	p.Port = n
	return p, nil
}

func (p PortSpec) String() string {
	proto := p.Proto
	if proto == "" {
		proto = ProtoTCP
	}
	return fmt.Sprintf("%d/%s", p.Port, proto)
}

// MarshalText implements encoding.TextMarshaler.
func (p PortSpec) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PortSpec) UnmarshalText(text []byte) error {
	parsed, err := ParsePortSpec(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Service is a third-party daemon pinned to one host.
type Service struct {
	Name      string     `json:"name" yaml:"name"`
	Host      string     `json:"host" yaml:"host"`
	Daemon    string     `json:"daemon,omitempty" yaml:"daemon,omitempty"`
	Container bool       `json:"container,omitempty" yaml:"container,omitempty"`
	Ports     []PortSpec `json:"ports,omitempty" yaml:"ports,omitempty"`
	ConfigDir string     `json:"config_dir,omitempty" yaml:"config_dir,omitempty"`
	DataDir   string     `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	// MediaDirs are the library folders under the media root the service
	// reads or writes, e.g. /srv/media/movies for Radarr.
	MediaDirs []string `json:"media_dirs,omitempty" yaml:"media_dirs,omitempty"`
	DNSName   string   `json:"dns_name,omitempty" yaml:"dns_name,omitempty"`
	Notes     string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Slug is the lowercase, hyphenated service name used in directory names.
func (s Service) Slug() string {
	return Slugify(s.Name)
}

// Dirs returns every directory the service owns, in declaration order.
func (s Service) Dirs() []string {
	var dirs []string
	if s.ConfigDir != "" {
		dirs = append(dirs, s.ConfigDir)
	}
	if s.DataDir != "" {
		dirs = append(dirs, s.DataDir)
	}
	return append(dirs, s.MediaDirs...)
}

// ExpectedConfigDir is the conventional config directory: /srv/<app>-config.
func (s Service) ExpectedConfigDir() string {
	return path.Join("/srv", s.Slug()+"-config")
}

// ExpectedDataDir is the conventional data directory: /srv/<app>-data.
func (s Service) ExpectedDataDir() string {
	return path.Join("/srv", s.Slug()+"-data")
}

// TCPPorts returns the tcp ports of the service.
func (s Service) TCPPorts() []int {
	var ports []int
	for _, p := range s.Ports {
		if p.Proto == ProtoTCP || p.Proto == "" {
			ports = append(ports, p.Port)
		}
	}
	return ports
}

// Slugify lowercases name and replaces anything outside [a-z0-9] with '-'.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
