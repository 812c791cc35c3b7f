package domain

import (
	"path"
	"sort"
	"strings"
)

// DefaultDomain is the internal DNS suffix for LAN names.
const DefaultDomain = "home.lan"

// DefaultMediaRoot is where every host keeps its media library.
const DefaultMediaRoot = "/srv/media"

// DefaultCategories are the library folders under the media root.
var DefaultCategories = []string{"movies", "tv", "music", "books"}

// DefaultOwnership is used when an inventory does not name one.
var DefaultOwnership = Ownership{UID: 1000, GID: 1000}

// Ownership is the UID/GID every service writes files as.
type Ownership struct {
	UID int `json:"uid" yaml:"uid"`
	GID int `json:"gid" yaml:"gid"`
}

// MediaLayout is the shared media folder convention.
type MediaLayout struct {
	Root       string   `json:"root" yaml:"root"`
	Categories []string `json:"categories" yaml:"categories"`
}

// Dirs returns the category directories, e.g. /srv/media/movies.
func (m MediaLayout) Dirs() []string {
	dirs := make([]string, 0, len(m.Categories))
	for _, c := range m.Categories {
		dirs = append(dirs, path.Join(m.Root, c))
	}
	return dirs
}

// Contains reports whether p lies under the media root.
func (m MediaLayout) Contains(p string) bool {
	root := path.Clean(m.Root)
	p = path.Clean(p)
	return p == root || strings.HasPrefix(p, root+"/")
}

// Replication describes pull replication: Destination runs rsync and pulls
// SourcePath from Source.
type Replication struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	SourcePath  string `json:"source_path" yaml:"source_path"`
	DestPath    string `json:"dest_path" yaml:"dest_path"`
	Schedule    string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Inventory is the full deployment arrangement.
type Inventory struct {
	Domain      string       `json:"domain" yaml:"domain"`
	Ownership   Ownership    `json:"ownership" yaml:"ownership"`
	Media       MediaLayout  `json:"media" yaml:"media"`
	Hosts       []Host       `json:"hosts" yaml:"hosts"`
	Services    []Service    `json:"services" yaml:"services"`
	Replication *Replication `json:"replication,omitempty" yaml:"replication,omitempty"`
}

// ApplyDefaults fills unset conventions. Ownership is left alone since 0:0
// is a value the audit must see; parsers default it when the field is absent.
func (inv *Inventory) ApplyDefaults() {
	if inv.Domain == "" {
		inv.Domain = DefaultDomain
	}
	if inv.Media.Root == "" {
		inv.Media.Root = DefaultMediaRoot
	}
	if len(inv.Media.Categories) == 0 {
		inv.Media.Categories = append([]string(nil), DefaultCategories...)
	}
	for i := range inv.Services {
		if inv.Services[i].DNSName == "" {
			inv.Services[i].DNSName = inv.FQDN(inv.Services[i].Slug())
		}
	}
}

// Host returns the host with the given ID.
func (inv *Inventory) Host(id string) (Host, bool) {
	for _, h := range inv.Hosts {
		if h.ID == id {
			return h, true
		}
	}
	return Host{}, false
}

// Service returns the service with the given name (case-insensitive).
func (inv *Inventory) Service(name string) (Service, bool) {
	for _, s := range inv.Services {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Service{}, false
}

// ServicesOn returns the services pinned to a host, sorted by name.
func (inv *Inventory) ServicesOn(hostID string) []Service {
	var out []Service
	for _, s := range inv.Services {
		if s.Host == hostID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HostsByTier returns hosts in the given tier.
func (inv *Inventory) HostsByTier(t Tier) []Host {
	var out []Host
	for _, h := range inv.Hosts {
		if h.Tier == t {
			out = append(out, h)
		}
	}
	return out
}

// FQDN qualifies a short name with the inventory domain. Names already
// ending in the domain are returned unchanged.
func (inv *Inventory) FQDN(name string) string {
	domain := inv.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if name == domain || strings.HasSuffix(name, "."+domain) {
		return name
	}
	return name + "." + domain
}

// HostFQDN returns the DNS name of a host.
func (inv *Inventory) HostFQDN(h Host) string {
	return inv.FQDN(h.Name())
}
