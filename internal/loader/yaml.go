// Package loader reads the deployment inventory from YAML.
package loader

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"hearth/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed default_inventory.yaml
var defaultInventory []byte

// InventoryYAML is the on-disk inventory format. Hosts are keyed by ID.
type InventoryYAML struct {
	Version     int                  `yaml:"version"`
	Domain      string               `yaml:"domain,omitempty"`
	Ownership   *domain.Ownership    `yaml:"ownership,omitempty"`
	Media       *domain.MediaLayout  `yaml:"media,omitempty"`
	Hosts       map[string]*HostYAML `yaml:"hosts"`
	Services    []domain.Service     `yaml:"services"`
	Replication *domain.Replication  `yaml:"replication,omitempty"`
}

// HostYAML is a host entry without its ID (the map key).
type HostYAML struct {
	Hostname    string         `yaml:"hostname,omitempty"`
	Tier        domain.Tier    `yaml:"tier"`
	Address     string         `yaml:"address"`
	Description string         `yaml:"description,omitempty"`
	SSHUser     string         `yaml:"ssh_user,omitempty"`
	Drives      []domain.Drive `yaml:"drives,omitempty"`
}

// LoadFile loads an inventory from path. An empty path returns the
// built-in default inventory.
func LoadFile(path string) (*domain.Inventory, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseYAML(data)
}

// Default returns the built-in inventory describing the reference layout.
func Default() (*domain.Inventory, error) {
	inv, err := ParseYAML(defaultInventory)
	if err != nil {
		return nil, fmt.Errorf("built-in inventory: %w", err)
	}
	return inv, nil
}

// DefaultYAML returns the raw built-in inventory, for `inventory init`.
func DefaultYAML() []byte {
	return bytes.Clone(defaultInventory)
}

// Parse reads an inventory from r.
func Parse(r io.Reader) (*domain.Inventory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses inventory YAML bytes.
func ParseYAML(data []byte) (*domain.Inventory, error) {
	var y InventoryYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	return convert(&y)
}

func convert(y *InventoryYAML) (*domain.Inventory, error) {
	inv := &domain.Inventory{
		Domain:      y.Domain,
		Services:    y.Services,
		Replication: y.Replication,
	}
	inv.Ownership = domain.DefaultOwnership
	if y.Ownership != nil {
		inv.Ownership = *y.Ownership
	}
	if y.Media != nil {
		inv.Media = *y.Media
	}

	ids := make([]string, 0, len(y.Hosts))
	for id := range y.Hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		h := y.Hosts[id]
		if h == nil {
			return nil, fmt.Errorf("host %q has no definition", id)
		}
		inv.Hosts = append(inv.Hosts, domain.Host{
			ID:          id,
			Hostname:    h.Hostname,
			Tier:        h.Tier,
			Address:     h.Address,
			Description: h.Description,
			SSHUser:     h.SSHUser,
			Drives:      h.Drives,
		})
	}

	seen := make(map[string]bool, len(inv.Services))
	for i, s := range inv.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("service #%d has no name", i+1)
		}
		slug := s.Slug()
		if seen[slug] {
			return nil, fmt.Errorf("duplicate service %q", s.Name)
		}
		seen[slug] = true
	}

	inv.ApplyDefaults()
	return inv, nil
}

// Marshal renders an inventory in the loader's YAML format.
func Marshal(inv *domain.Inventory) ([]byte, error) {
	y := InventoryYAML{
		Version:     1,
		Domain:      inv.Domain,
		Ownership:   &inv.Ownership,
		Media:       &inv.Media,
		Hosts:       make(map[string]*HostYAML, len(inv.Hosts)),
		Services:    inv.Services,
		Replication: inv.Replication,
	}
	for _, h := range inv.Hosts {
		y.Hosts[h.ID] = &HostYAML{
			Hostname:    h.Hostname,
			Tier:        h.Tier,
			Address:     h.Address,
			Description: h.Description,
			SSHUser:     h.SSHUser,
			Drives:      h.Drives,
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&y); err != nil {
		return nil, fmt.Errorf("encode inventory: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode inventory: %w", err)
	}
	return buf.Bytes(), nil
}
