package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T, dir, name string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewDialerDefaults(t *testing.T) {
	d := NewDialer(Credentials{}, Options{})
	creds := d.Credentials()
	if creds.User == "" {
		t.Error("expected current user as default")
	}
	if len(creds.KeyFiles) != 2 {
		t.Fatalf("expected two default key files, got %v", creds.KeyFiles)
	}
	if filepath.Base(creds.KeyFiles[0]) != "id_rsa" || filepath.Base(creds.KeyFiles[1]) != "id_ed25519" {
		t.Errorf("unexpected key order %v", creds.KeyFiles)
	}
}

func TestAuthMethods(t *testing.T) {
	dir := t.TempDir()
	key := writeKey(t, dir, "id_ed25519")

	tests := []struct {
		name    string
		creds   Credentials
		wantErr error
	}{
		{"password", Credentials{User: "media", Password: "pw"}, nil},
		{"key file", Credentials{User: "media", KeyFiles: []string{filepath.Join(dir, "missing"), key}}, nil},
		{"nothing usable", Credentials{User: "media", KeyFiles: []string{filepath.Join(dir, "missing")}}, ErrNoAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDialer(tt.creds, Options{})
			methods, err := d.authMethods()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && len(methods) != 1 {
				t.Errorf("expected one auth method, got %d", len(methods))
			}
		})
	}
}

func TestHostKeyCallbackKnownHosts(t *testing.T) {
	dir := t.TempDir()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	other, _, _ := ed25519.GenerateKey(rand.Reader)
	otherPub, _ := ssh.NewPublicKey(other)

	known := filepath.Join(dir, "known_hosts")
	line := "4thgen.home.lan " + string(ssh.MarshalAuthorizedKey(sshPub))
	if err := os.WriteFile(known, []byte(line), 0600); err != nil {
		t.Fatal(err)
	}

	d := NewDialer(Credentials{User: "media", Password: "x", KnownHosts: known}, Options{})
	cb, err := d.hostKeyCallback()
	if err != nil {
		t.Fatal(err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("192.168.1.20"), Port: 22}
	if err := cb("4thgen.home.lan:22", addr, sshPub); err != nil {
		t.Errorf("known key rejected: %v", err)
	}
	if err := cb("4thgen.home.lan:22", addr, otherPub); err == nil {
		t.Error("mismatched key should be rejected")
	}

	// Without a known_hosts file any key is accepted.
	d = NewDialer(Credentials{User: "media", Password: "x", KnownHosts: filepath.Join(dir, "absent")}, Options{})
	cb, err = d.hostKeyCallback()
	if err != nil {
		t.Fatal(err)
	}
	if err := cb("anything:22", addr, otherPub); err != nil {
		t.Errorf("expected key to be accepted, got %v", err)
	}
}

// startServer runs a single-connection SSH server that answers every exec
// request with output and exit status.
func startServer(t *testing.T, password, output string, status uint32) int {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}
	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == password {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, chans, reqs, err := ssh.NewServerConn(conn, config)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		for nc := range chans {
			ch, requests, err := nc.Accept()
			if err != nil {
				continue
			}
			go func() {
				for req := range requests {
					if req.Type != "exec" {
						req.Reply(false, nil)
						continue
					}
					req.Reply(true, nil)
					ch.Write([]byte(output))
					payload := make([]byte, 4)
					binary.BigEndian.PutUint32(payload, status)
					ch.SendRequest("exit-status", false, payload)
					ch.Close()
				}
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestExecReturnsOutputOnNonZeroExit(t *testing.T) {
	port := startServer(t, "secret", "sda: FAILED\n", 1)

	d := NewDialer(
		Credentials{User: "media", Password: "secret", InsecureIgnoreHostKey: true},
		Options{Port: port, ConnectTimeout: 2 * time.Second, CommandTimeout: 2 * time.Second},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := d.Exec(ctx, "127.0.0.1", "smartctl -H /dev/sda")
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if out != "sda: FAILED\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestDialWrongPassword(t *testing.T) {
	port := startServer(t, "secret", "", 0)
	d := NewDialer(
		Credentials{User: "media", Password: "wrong", InsecureIgnoreHostKey: true},
		Options{Port: port, ConnectTimeout: 2 * time.Second},
	)
	if _, err := d.Dial(context.Background(), "127.0.0.1"); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := NewDialer(Credentials{User: "media", Password: "x"}, Options{Port: port, ConnectTimeout: time.Second})
	if _, err := d.Dial(context.Background(), "127.0.0.1"); err == nil {
		t.Fatal("expected dial failure on closed port")
	}
}

// silentListener accepts connections and never writes to them.
func silentListener(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func TestDialHandshakeTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		ctxWait time.Duration
	}{
		{name: "connect timeout", timeout: 300 * time.Millisecond, ctxWait: time.Minute},
		{name: "context deadline", timeout: time.Minute, ctxWait: 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := silentListener(t)
			d := NewDialer(
				Credentials{User: "media", Password: "x", InsecureIgnoreHostKey: true},
				Options{Port: port, ConnectTimeout: tt.timeout},
			)
			ctx, cancel := context.WithTimeout(context.Background(), tt.ctxWait)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				_, err := d.Dial(ctx, "127.0.0.1")
				done <- err
			}()

			select {
			case err := <-done:
				if err == nil {
					t.Fatal("expected handshake error against a silent server")
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Dial did not return after the handshake stalled")
			}
		})
	}
}
