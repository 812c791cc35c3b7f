package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/sftp"

	"hearth/internal/command"
	"hearth/internal/remote"
)

func TestSCPCommands(t *testing.T) {
	tests := []struct {
		name      string
		target    Target
		missing   []string
		wantMkdir []string
		wantCopy  []string
	}{
		{
			name:      "key auth",
			target:    Target{Host: "4thgen", User: "media"},
			wantMkdir: []string{"ssh", "media@4thgen", "mkdir -p '/srv/media/movies/Film'"},
			wantCopy:  []string{"scp", "/tmp/transcode/Film/film.mkv", "media@4thgen:/srv/media/movies/Film/film.mkv"},
		},
		{
			name:      "password with sshpass",
			target:    Target{Host: "4thgen", User: "media", Password: "pw"},
			wantMkdir: []string{"sshpass", "-p", "pw", "ssh", "media@4thgen", "mkdir -p '/srv/media/movies/Film'"},
			wantCopy:  []string{"sshpass", "-p", "pw", "scp", "/tmp/transcode/Film/film.mkv", "media@4thgen:/srv/media/movies/Film/film.mkv"},
		},
		{
			name:      "password without sshpass",
			target:    Target{Host: "4thgen", User: "media", Password: "pw"},
			missing:   []string{"sshpass"},
			wantMkdir: []string{"ssh", "media@4thgen", "mkdir -p '/srv/media/movies/Film'"},
			wantCopy:  []string{"scp", "/tmp/transcode/Film/film.mkv", "media@4thgen:/srv/media/movies/Film/film.mkv"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSCP(tt.target, &command.Fake{Missing: tt.missing})
			mkdir, cp := s.Commands("/tmp/transcode/Film/film.mkv", "/srv/media/movies/Film/film.mkv")
			if !reflect.DeepEqual(mkdir, tt.wantMkdir) {
				t.Errorf("mkdir = %v, want %v", mkdir, tt.wantMkdir)
			}
			if !reflect.DeepEqual(cp, tt.wantCopy) {
				t.Errorf("copy = %v, want %v", cp, tt.wantCopy)
			}
		})
	}
}

func TestSCPPutStopsOnMkdirFailure(t *testing.T) {
	fake := &command.Fake{Handler: func(c command.Call) (string, error) {
		if c.Name == "ssh" {
			return "", &command.ExitError{Name: "ssh", Code: 255}
		}
		return "", nil
	}}
	s := NewSCP(Target{Host: "4thgen"}, fake)
	if err := s.Put(context.Background(), "a.mkv", "/srv/a.mkv"); err == nil {
		t.Fatal("expected error")
	}
	if calls := fake.Calls(); len(calls) != 1 {
		t.Errorf("scp should not run after mkdir failure, got %v", calls)
	}
}

type stubTransferer struct {
	name  string
	err   error
	calls int
}

func (s *stubTransferer) Name() string { return s.name }

func (s *stubTransferer) Put(context.Context, string, string) error {
	s.calls++
	return s.err
}

func TestFallback(t *testing.T) {
	first := &stubTransferer{name: "sftp", err: errors.New("auth failed")}
	second := &stubTransferer{name: "scp"}

	f := NewFallback(first, second)
	if f.Name() != "sftp+scp" {
		t.Errorf("unexpected name %s", f.Name())
	}
	if err := f.Put(context.Background(), "a", "b"); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("expected both tried once, got %d/%d", first.calls, second.calls)
	}

	second.err = errors.New("scp failed")
	err := f.Put(context.Background(), "a", "b")
	if err == nil || !strings.Contains(err.Error(), "auth failed") || !strings.Contains(err.Error(), "scp failed") {
		t.Errorf("expected joined error, got %v", err)
	}
}

func TestNewMethod(t *testing.T) {
	dialer := remote.NewDialer(remote.Credentials{User: "media", Password: "x"}, remote.Options{})
	target := Target{Host: "4thgen", User: "media"}

	tr, err := New("sftp", target, dialer, &command.Fake{})
	if err != nil || tr.Name() != "sftp+scp" {
		t.Errorf("sftp should fall back to scp: %v %v", tr, err)
	}
	tr, err = New("SCP", target, dialer, &command.Fake{})
	if err != nil || tr.Name() != "scp" {
		t.Errorf("scp should be used alone: %v %v", tr, err)
	}
	if _, err := New("rsync", target, dialer, &command.Fake{}); err == nil {
		t.Error("expected unknown method error")
	}
}

func TestUploadCreatesRemoteDirs(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()
	t.Cleanup(func() { server.Close() })

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := upload(client, strings.NewReader("mkv bytes"), "/media/movies/Film/film.mkv"); err != nil {
		t.Fatalf("upload error: %v", err)
	}

	f, err := client.Open("/media/movies/Film/film.mkv")
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if string(got) != "mkv bytes" {
		t.Errorf("unexpected content %q", got)
	}
}
