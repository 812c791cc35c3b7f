package config

import "time"

// Posture sets how eagerly the alert probes poll.
type Posture string

const (
	PostureCautious   Posture = "cautious"   // Few SSH sessions, long intervals
	PostureBalanced   Posture = "balanced"   // Default homelab behavior
	PostureAggressive Posture = "aggressive" // Tight intervals, quick detection
)

// ParsePosture converts a string to Posture, defaulting to PostureBalanced.
func ParsePosture(s string) Posture {
	switch Posture(s) {
	case PostureCautious, PostureBalanced, PostureAggressive:
		return Posture(s)
	default:
		return PostureBalanced
	}
}

// ProbeProfile holds probe timing and concurrency.
type ProbeProfile struct {
	WANInterval       time.Duration `yaml:"wan_interval"`
	ServiceInterval   time.Duration `yaml:"service_interval"`
	ContainerInterval time.Duration `yaml:"container_interval"`
	SMARTInterval     time.Duration `yaml:"smart_interval"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
}

// PostureProfiles maps postures to their default probe profiles.
var PostureProfiles = map[Posture]ProbeProfile{
	PostureCautious: {
		WANInterval:       5 * time.Minute,
		ServiceInterval:   15 * time.Minute,
		ContainerInterval: 30 * time.Minute,
		SMARTInterval:     24 * time.Hour,
		ProbeTimeout:      5 * time.Second,
		MaxConcurrent:     2,
	},
	PostureBalanced: {
		WANInterval:       time.Minute,
		ServiceInterval:   5 * time.Minute,
		ContainerInterval: 5 * time.Minute,
		SMARTInterval:     6 * time.Hour,
		ProbeTimeout:      3 * time.Second,
		MaxConcurrent:     5,
	},
	PostureAggressive: {
		WANInterval:       15 * time.Second,
		ServiceInterval:   time.Minute,
		ContainerInterval: time.Minute,
		SMARTInterval:     time.Hour,
		ProbeTimeout:      2 * time.Second,
		MaxConcurrent:     10,
	},
}

// Profile returns the probe profile for a posture.
func (p Posture) Profile() ProbeProfile {
	if profile, ok := PostureProfiles[p]; ok {
		return profile
	}
	return PostureProfiles[PostureBalanced]
}
