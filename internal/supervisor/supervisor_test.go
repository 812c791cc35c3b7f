package supervisor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"hearth/internal/logging"
)

type flakyService struct {
	starts atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.starts.Add(1) == 1 {
		return errors.New("first start fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyService) String() string { return "flaky" }

func TestTreeRestartsAndServes(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})}

	tree := NewTree(logging.NewSlogLogger(), TreeConfig{FailureBackoff: 10 * time.Millisecond})
	flaky := &flakyService{}
	tree.AddJob(flaky)
	tree.AddAPI(NewHTTPService(srv, time.Second).WithListener(l))

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for flaky.starts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("flaky service was not restarted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestHTTPServiceEndsStreamingRequests(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	entered := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(entered)
		<-r.Context().Done()
	})}
	svc := NewHTTPService(srv, 2*time.Second).WithListener(l)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- svc.Serve(ctx) }()

	go func() {
		resp, err := http.Get("http://" + l.Addr().String())
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()
	<-entered

	start := time.Now()
	cancel()
	if err := <-served; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("shutdown waited for the streaming request")
	}
}
