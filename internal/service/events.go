package service

import (
	"sync"
	"time"
)

// EventType defines the type of event
type EventType string

const (
	EventReplicationStarted  EventType = "replication_started"
	EventReplicationFinished EventType = "replication_finished"
	EventTranscodeProgress   EventType = "transcode_progress"
	EventTranscodeFinished   EventType = "transcode_finished"
	EventAlertFired          EventType = "alert_fired"
	EventAlertResolved       EventType = "alert_resolved"
	EventAuditCompleted      EventType = "audit_completed"
	EventInventoryReloaded   EventType = "inventory_reloaded"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher is implemented by EventBus. Components take a Publisher so
// they can run without a bus.
type Publisher interface {
	Publish(Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// EventBus fans events out to subscribers
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes ch.
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
