package codec

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"hearth/internal/domain"
)

// FormatAnsible is an Ansible YAML inventory with one group per tier.
const FormatAnsible = "ansible-inventory"

// AnsibleCodec maps the inventory onto Ansible's YAML inventory layout:
//
//	all:
//	  vars: {hearth_domain: ..., hearth_uid: ..., ...}
//	  children:
//	    serving:
//	      hosts:
//	        4thgen: {ansible_host: 192.168.1.30, hearth_services: [...]}
type AnsibleCodec struct{}

// NewAnsibleCodec creates a new Ansible codec
func NewAnsibleCodec() *AnsibleCodec {
	return &AnsibleCodec{}
}

// Format returns the codec format identifier
func (c *AnsibleCodec) Format() string {
	return FormatAnsible
}

// ContentType implements ContentTyper.
func (c *AnsibleCodec) ContentType() string {
	return "application/yaml"
}

type ansibleInventory struct {
	All ansibleGroup `yaml:"all"`
}

type ansibleGroup struct {
	Vars     *ansibleVars             `yaml:"vars,omitempty"`
	Children map[string]*ansibleGroup `yaml:"children,omitempty"`
	Hosts    map[string]*ansibleHost  `yaml:"hosts,omitempty"`
}

type ansibleVars struct {
	Domain          string              `yaml:"hearth_domain"`
	UID             int                 `yaml:"hearth_uid"`
	GID             int                 `yaml:"hearth_gid"`
	MediaRoot       string              `yaml:"hearth_media_root"`
	MediaCategories []string            `yaml:"hearth_media_categories,flow"`
	Replication     *domain.Replication `yaml:"hearth_replication,omitempty"`
}

type ansibleHost struct {
	AnsibleHost string           `yaml:"ansible_host,omitempty"`
	AnsibleUser string           `yaml:"ansible_user,omitempty"`
	Hostname    string           `yaml:"hearth_hostname,omitempty"`
	Tier        domain.Tier      `yaml:"hearth_tier,omitempty"`
	Description string           `yaml:"hearth_description,omitempty"`
	Drives      []domain.Drive   `yaml:"hearth_drives,omitempty"`
	Services    []ansibleService `yaml:"hearth_services,omitempty"`
}

type ansibleService struct {
	Name      string            `yaml:"name"`
	Daemon    string            `yaml:"daemon,omitempty"`
	Container bool              `yaml:"container,omitempty"`
	Ports     []domain.PortSpec `yaml:"ports,omitempty,flow"`
	ConfigDir string            `yaml:"config_dir,omitempty"`
	DataDir   string            `yaml:"data_dir,omitempty"`
	MediaDirs []string          `yaml:"media_dirs,omitempty"`
	DNSName   string            `yaml:"dns_name,omitempty"`
}

// Export writes inv as an Ansible inventory. Hosts with an unknown tier
// land in the "ungrouped" group and keep their tier as a host var.
func (c *AnsibleCodec) Export(inv *domain.Inventory, w io.Writer) error {
	out := ansibleInventory{All: ansibleGroup{
		Vars: &ansibleVars{
			Domain:          inv.Domain,
			UID:             inv.Ownership.UID,
			GID:             inv.Ownership.GID,
			MediaRoot:       inv.Media.Root,
			MediaCategories: inv.Media.Categories,
			Replication:     inv.Replication,
		},
		Children: make(map[string]*ansibleGroup),
	}}

	for _, h := range inv.Hosts {
		group := string(h.Tier)
		ah := &ansibleHost{
			AnsibleHost: h.Address,
			AnsibleUser: h.SSHUser,
			Hostname:    h.Hostname,
			Description: h.Description,
			Drives:      h.Drives,
		}
		if !h.Tier.Valid() {
			group = "ungrouped"
			ah.Tier = h.Tier
		}
		for _, s := range inv.ServicesOn(h.ID) {
			ah.Services = append(ah.Services, ansibleService{
				Name:      s.Name,
				Daemon:    s.Daemon,
				Container: s.Container,
				Ports:     s.Ports,
				ConfigDir: s.ConfigDir,
				DataDir:   s.DataDir,
				MediaDirs: s.MediaDirs,
				DNSName:   s.DNSName,
			})
		}

		g, ok := out.All.Children[group]
		if !ok {
			g = &ansibleGroup{Hosts: make(map[string]*ansibleHost)}
			out.All.Children[group] = g
		}
		g.Hosts[h.ID] = ah
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encode ansible inventory: %w", err)
	}
	return enc.Close()
}

// Parse reads an Ansible inventory written by Export. A host's tier is
// the name of the group it sits in unless hearth_tier overrides it.
func (c *AnsibleCodec) Parse(r io.Reader) (*domain.Inventory, error) {
	var in ansibleInventory
	if err := yaml.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode ansible inventory: %w", err)
	}

	inv := &domain.Inventory{Ownership: domain.DefaultOwnership}
	if v := in.All.Vars; v != nil {
		inv.Domain = v.Domain
		inv.Ownership = domain.Ownership{UID: v.UID, GID: v.GID}
		inv.Media = domain.MediaLayout{Root: v.MediaRoot, Categories: v.MediaCategories}
		inv.Replication = v.Replication
	}

	seen := make(map[string]string)
	add := func(group, id string, ah *ansibleHost) error {
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("host %q appears in groups %s and %s", id, prev, group)
		}
		seen[id] = group
		if ah == nil {
			ah = &ansibleHost{}
		}
		tier := ah.Tier
		if tier == "" && group != "all" {
			tier = domain.Tier(group)
		}
		inv.Hosts = append(inv.Hosts, domain.Host{
			ID:          id,
			Hostname:    ah.Hostname,
			Tier:        tier,
			Address:     ah.AnsibleHost,
			Description: ah.Description,
			SSHUser:     ah.AnsibleUser,
			Drives:      ah.Drives,
		})
		for _, s := range ah.Services {
			inv.Services = append(inv.Services, domain.Service{
				Name:      s.Name,
				Host:      id,
				Daemon:    s.Daemon,
				Container: s.Container,
				Ports:     s.Ports,
				ConfigDir: s.ConfigDir,
				DataDir:   s.DataDir,
				MediaDirs: s.MediaDirs,
				DNSName:   s.DNSName,
			})
		}
		return nil
	}

	for _, group := range sortedKeys(in.All.Children) {
		g := in.All.Children[group]
		if g == nil {
			continue
		}
		for _, id := range sortedKeys(g.Hosts) {
			if err := add(group, id, g.Hosts[id]); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range sortedKeys(in.All.Hosts) {
		if err := add("all", id, in.All.Hosts[id]); err != nil {
			return nil, err
		}
	}

	sort.Slice(inv.Hosts, func(i, j int) bool { return inv.Hosts[i].ID < inv.Hosts[j].ID })
	inv.ApplyDefaults()
	return inv, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
