package domain

import "fmt"

// Tier places a host in the deployment.
type Tier string

const (
	// TierRouter runs DNS, the router web UI and the VPN endpoint.
	TierRouter Tier = "router"
	// TierIngest downloads and organizes media onto its staging and bulk drives.
	TierIngest Tier = "ingest"
	// TierServing serves media to clients and pulls replicas from the ingest host.
	TierServing Tier = "serving"
	// TierEdge is the remote VPS terminating TLS.
	TierEdge Tier = "edge"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierRouter, TierIngest, TierServing, TierEdge:
		return true
	}
	return false
}

// DriveRole distinguishes fast staging disks from slow bulk disks.
type DriveRole string

const (
	DriveStaging DriveRole = "staging"
	DriveBulk    DriveRole = "bulk"
)

// Drive is a disk attached to a host. Drives are what the SMART probe checks.
type Drive struct {
	Device string    `json:"device" yaml:"device"`
	Role   DriveRole `json:"role,omitempty" yaml:"role,omitempty"`
	Mount  string    `json:"mount,omitempty" yaml:"mount,omitempty"`
}

// Host is one machine in the deployment.
type Host struct {
	ID          string  `json:"id" yaml:"id"`
	Hostname    string  `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Tier        Tier    `json:"tier" yaml:"tier"`
	Address     string  `json:"address" yaml:"address"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	SSHUser     string  `json:"ssh_user,omitempty" yaml:"ssh_user,omitempty"`
	Drives      []Drive `json:"drives,omitempty" yaml:"drives,omitempty"`
}

// Name returns the hostname, falling back to the ID.
func (h Host) Name() string {
	if h.Hostname != "" {
		return h.Hostname
	}
	return h.ID
}

func (h Host) String() string {
	return fmt.Sprintf("%s (%s, %s)", h.ID, h.Tier, h.Address)
}
