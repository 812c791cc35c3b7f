package domain

import "time"

// ObservationKind names the condition a probe watches.
type ObservationKind string

const (
	KindWAN       ObservationKind = "wan-down"
	KindSMART     ObservationKind = "smart-warning"
	KindRsync     ObservationKind = "rsync-failed"
	KindContainer ObservationKind = "container-crash"
	KindService   ObservationKind = "service-unreachable"
)

// Observation is a single health reading from a probe.
type Observation struct {
	Source     string          `json:"source"`
	Kind       ObservationKind `json:"kind"`
	Subject    string          `json:"subject"`
	Healthy    bool            `json:"healthy"`
	Detail     string          `json:"detail,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Key identifies the condition an observation speaks about.
func (o Observation) Key() string {
	return AlertKey(o.Kind, o.Subject)
}

// AlertKey builds the dedupe key for a kind and subject.
func AlertKey(kind ObservationKind, subject string) string {
	return string(kind) + "/" + subject
}

// Alert is a firing or resolved condition.
type Alert struct {
	Key        string          `json:"key"`
	Kind       ObservationKind `json:"kind"`
	Subject    string          `json:"subject"`
	Message    string          `json:"message"`
	FiredAt    time.Time       `json:"fired_at"`
	NotifiedAt *time.Time      `json:"notified_at,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	Count      int             `json:"count"`
}

// Active reports whether the alert is still firing.
func (a Alert) Active() bool {
	return a.ResolvedAt == nil
}
