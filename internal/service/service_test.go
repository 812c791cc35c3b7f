package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hearth/internal/loader"
)

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(e Event) { p.events = append(p.events, e) }

func TestInventoryServiceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, loader.DefaultYAML(), 0o644); err != nil {
		t.Fatal(err)
	}

	pub := &recordingPublisher{}
	svc, err := NewInventoryService(path, pub)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(svc.Inventory().Hosts); got != 4 {
		t.Fatalf("loaded %d hosts, want 4", got)
	}

	t.Run("broken file keeps the old inventory", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("hosts: [nope"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := svc.Reload(); err == nil {
			t.Fatal("expected reload error")
		}
		if len(svc.Inventory().Hosts) != 4 {
			t.Error("inventory replaced by a failed reload")
		}
		if len(pub.events) != 0 {
			t.Errorf("unexpected events %+v", pub.events)
		}
	})

	t.Run("good file replaces it", func(t *testing.T) {
		small := "version: 1\nhosts:\n  box:\n    tier: serving\n    address: 10.0.0.2\nservices: []\n"
		if err := os.WriteFile(path, []byte(small), 0o644); err != nil {
			t.Fatal(err)
		}
		before := svc.LoadedAt()
		time.Sleep(time.Millisecond)
		if err := svc.Reload(); err != nil {
			t.Fatal(err)
		}
		if len(svc.Inventory().Hosts) != 1 || !svc.LoadedAt().After(before) {
			t.Errorf("inventory not reloaded: %+v", svc.Inventory())
		}
		if len(pub.events) != 1 || pub.events[0].Type != EventInventoryReloaded {
			t.Errorf("events = %+v", pub.events)
		}
	})
}

func TestInventoryServiceAudit(t *testing.T) {
	inv, err := loader.Default()
	if err != nil {
		t.Fatal(err)
	}
	inv.Ownership.UID = 0

	pub := &recordingPublisher{}
	svc := NewInventoryServiceFrom(inv, "", pub)
	report := svc.Audit(context.Background(), false)
	if !report.HasErrors() {
		t.Error("root ownership should be an error")
	}
	if len(pub.events) != 1 || pub.events[0].Type != EventAuditCompleted {
		t.Errorf("events = %+v", pub.events)
	}
	if err := svc.Reload(); err != nil {
		t.Errorf("reload without a path should be a no-op, got %v", err)
	}
}

func TestInventoryServiceExport(t *testing.T) {
	inv, err := loader.Default()
	if err != nil {
		t.Fatal(err)
	}
	svc := NewInventoryServiceFrom(inv, "", nil)

	var buf bytes.Buffer
	ct, err := svc.Export("dnsmasq", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ct, "text/plain") || !strings.Contains(buf.String(), "local=/home.lan/") {
		t.Errorf("content type %q, body:\n%s", ct, buf.String())
	}

	if _, err := svc.Export("xml", &buf); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Export(xml) error = %v, want ErrUnknownFormat", err)
	}
}
