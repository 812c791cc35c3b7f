package hub

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hearth/internal/service"
)

func TestHubStreamsBusEvents(t *testing.T) {
	bus := service.NewEventBus()
	h := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- h.Serve(ctx) }()

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("first line %q, err %v", line, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// The bus drops events for subscribers that are not listening yet,
	// so publish until the hub has picked one up.
	got := make(chan string, 1)
	go func() {
		for {
			l, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(l, "event: ") {
				got <- strings.TrimSpace(l)
				return
			}
		}
	}()

	for {
		bus.Publish(service.Event{Type: service.EventAlertFired, Payload: map[string]string{"key": "wan-down/uplink"}})
		select {
		case l := <-got:
			if l != "event: alert_fired" {
				t.Errorf("got %q", l)
			}
			cancel()
			if err := <-served; err != context.Canceled {
				t.Errorf("Serve returned %v", err)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("no event received")
		}
	}
}

func TestBroadcastSkipsSlowClients(t *testing.T) {
	h := New(service.NewEventBus())
	c := &client{id: "slow", events: make(chan []byte, 1)}
	h.register(c)
	defer h.unregister(c)

	h.Broadcast(service.Event{Type: service.EventAuditCompleted})
	h.Broadcast(service.Event{Type: service.EventAuditCompleted})

	if len(c.events) != 1 {
		t.Errorf("buffered %d events, want 1", len(c.events))
	}
	msg := string(<-c.events)
	if !strings.HasPrefix(msg, "event: audit_completed\ndata: {") || !strings.HasSuffix(msg, "}\n\n") {
		t.Errorf("malformed message %q", msg)
	}
}
