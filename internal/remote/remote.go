// Package remote holds the SSH client plumbing shared by file transfer and
// the SSH-based health probes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"hearth/internal/logging"
)

// ErrNoAuth is returned when neither a password nor a usable key file exists.
var ErrNoAuth = errors.New("no ssh authentication method available")

// Credentials describe how to authenticate to a host.
type Credentials struct {
	User     string
	Password string
	// KeyFiles are tried in order; missing files are skipped.
	KeyFiles []string
	// KnownHosts is checked when the file exists.
	KnownHosts            string
	InsecureIgnoreHostKey bool
}

// Options configure a Dialer.
type Options struct {
	Port           int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Dialer opens SSH connections with a fixed set of credentials.
type Dialer struct {
	creds Credentials
	opts  Options
	log   zerolog.Logger
}

// NewDialer fills in defaults: current user, ~/.ssh/id_rsa and
// ~/.ssh/id_ed25519, ~/.ssh/known_hosts, port 22.
func NewDialer(creds Credentials, opts Options) *Dialer {
	if creds.User == "" {
		creds.User = CurrentUser()
	}
	home, _ := os.UserHomeDir()
	if len(creds.KeyFiles) == 0 && home != "" {
		creds.KeyFiles = []string{
			filepath.Join(home, ".ssh", "id_rsa"),
			filepath.Join(home, ".ssh", "id_ed25519"),
		}
	}
	if creds.KnownHosts == "" && home != "" {
		creds.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	return &Dialer{
		creds: creds,
		opts:  opts,
		log:   logging.Component("remote"),
	}
}

// Credentials returns the effective credentials after defaults.
func (d *Dialer) Credentials() Credentials {
	return d.creds
}

// CurrentUser returns the login name of the running user.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// ClientConfig builds the ssh.ClientConfig for these credentials.
func (d *Dialer) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            d.creds.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         d.opts.ConnectTimeout,
	}, nil
}

func (d *Dialer) authMethods() ([]ssh.AuthMethod, error) {
	if d.creds.Password != "" {
		return []ssh.AuthMethod{ssh.Password(d.creds.Password)}, nil
	}

	var signers []ssh.Signer
	for _, path := range d.creds.KeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			d.log.Debug().Str("key", path).Msg("key file not readable")
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			d.log.Warn().Err(err).Str("key", path).Msg("failed to parse key")
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return nil, ErrNoAuth
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.creds.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if d.creds.KnownHosts != "" {
		if _, err := os.Stat(d.creds.KnownHosts); err == nil {
			cb, err := knownhosts.New(d.creds.KnownHosts)
			if err != nil {
				return nil, fmt.Errorf("load known_hosts: %w", err)
			}
			return cb, nil
		}
	}
	// No known_hosts on this machine: accept and log the key fingerprint.
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		d.log.Warn().
			Str("host", hostname).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Msg("no known_hosts file, accepting host key")
		return nil
	}, nil
}

// Dial connects to host on the configured port.
func (d *Dialer) Dial(ctx context.Context, host string) (*ssh.Client, error) {
	config, err := d.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build ssh config: %w", err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(d.opts.Port))
	dialer := &net.Dialer{Timeout: d.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The handshake is bounded by the connect timeout and by ctx.
	if d.opts.ConnectTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(d.opts.ConnectTimeout)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set deadline on %s: %w", addr, err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("clear deadline on %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes cmd and returns combined output. A non-zero exit status is
// not an error: callers parse the output.
func (d *Dialer) Run(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(r.err, &exitErr) {
				return string(r.out), nil
			}
			return "", fmt.Errorf("command failed: %w", r.err)
		}
		return string(r.out), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command %q: %w", cmd, ctx.Err())
	}
}

// Exec dials host, runs cmd and closes the connection.
func (d *Dialer) Exec(ctx context.Context, host, cmd string) (string, error) {
	client, err := d.Dial(ctx, host)
	if err != nil {
		return "", err
	}
	defer client.Close()
	return d.Run(ctx, client, cmd)
}
