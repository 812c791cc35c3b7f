// Package transfer copies finished files to a remote host over SFTP or scp.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"

	"hearth/internal/command"
	"hearth/internal/logging"
	"hearth/internal/remote"
)

// Method names accepted by New.
const (
	MethodSFTP = "sftp"
	MethodSCP  = "scp"
)

// Transferer puts a local file at a remote path, creating parent directories.
type Transferer interface {
	Name() string
	Put(ctx context.Context, local, remotePath string) error
}

// Target identifies the destination host and the login used for it.
type Target struct {
	Host     string
	User     string
	Password string
}

func (t Target) login() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// New returns the transferer for method. sftp falls back to scp on failure;
// scp is used alone.
func New(method string, target Target, dialer *remote.Dialer, runner command.Runner) (Transferer, error) {
	scp := NewSCP(target, runner)
	switch strings.ToLower(method) {
	case "", MethodSFTP:
		return NewFallback(NewSFTP(target.Host, dialer), scp), nil
	case MethodSCP:
		return scp, nil
	default:
		return nil, fmt.Errorf("unknown transfer method %q", method)
	}
}

// SFTP uploads with the SFTP subsystem of an SSH connection.
type SFTP struct {
	host   string
	dialer *remote.Dialer
}

// NewSFTP returns an SFTP transferer for host.
func NewSFTP(host string, dialer *remote.Dialer) *SFTP {
	return &SFTP{host: host, dialer: dialer}
}

func (s *SFTP) Name() string { return MethodSFTP }

func (s *SFTP) Put(ctx context.Context, local, remotePath string) error {
	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer src.Close()

	conn, err := s.dialer.Dial(ctx, s.host)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("start sftp: %w", err)
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	return upload(client, src, remotePath)
}

// sftpClient is the part of *sftp.Client used for uploads.
type sftpClient interface {
	MkdirAll(path string) error
	Create(path string) (*sftp.File, error)
}

func upload(client sftpClient, src io.Reader, remotePath string) error {
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote dir %s: %w", dir, err)
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	return dst.Close()
}

// SCP shells out to ssh and scp, wrapping both in sshpass when a password
// is set and sshpass is installed.
type SCP struct {
	target Target
	runner command.Runner
	log    zerolog.Logger
}

// NewSCP returns an scp transferer.
func NewSCP(target Target, runner command.Runner) *SCP {
	return &SCP{target: target, runner: runner, log: logging.Component("transfer")}
}

func (s *SCP) Name() string { return MethodSCP }

func (s *SCP) Put(ctx context.Context, local, remotePath string) error {
	mkdir, cp := s.Commands(local, remotePath)
	if err := s.runner.Run(ctx, mkdir[0], mkdir[1:], nil); err != nil {
		return fmt.Errorf("remote mkdir: %w", err)
	}
	if err := s.runner.Run(ctx, cp[0], cp[1:], nil); err != nil {
		return fmt.Errorf("scp %s: %w", local, err)
	}
	return nil
}

// Commands returns the mkdir and copy argv for one upload.
func (s *SCP) Commands(local, remotePath string) (mkdir, cp []string) {
	dir := path.Dir(remotePath)
	mkdir = []string{"ssh", s.target.login(), fmt.Sprintf("mkdir -p '%s'", dir)}
	cp = []string{"scp", local, s.target.login() + ":" + remotePath}

	if s.target.Password == "" {
		return mkdir, cp
	}
	if _, err := s.runner.LookPath("sshpass"); err != nil {
		s.log.Warn().Msg("sshpass not found, password auth may not work with scp; install sshpass or use key auth")
		return mkdir, cp
	}
	prefix := []string{"sshpass", "-p", s.target.Password}
	return append(append([]string(nil), prefix...), mkdir...), append(append([]string(nil), prefix...), cp...)
}

// Fallback tries each transferer in order until one succeeds.
type Fallback struct {
	chain []Transferer
	log   zerolog.Logger
}

// NewFallback builds a fallback chain.
func NewFallback(chain ...Transferer) *Fallback {
	return &Fallback{chain: chain, log: logging.Component("transfer")}
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.chain))
	for i, t := range f.chain {
		names[i] = t.Name()
	}
	return strings.Join(names, "+")
}

func (f *Fallback) Put(ctx context.Context, local, remotePath string) error {
	var errs []error
	for _, t := range f.chain {
		err := t.Put(ctx, local, remotePath)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		if ctx.Err() != nil {
			break
		}
		f.log.Warn().Err(err).Str("method", t.Name()).Str("file", local).Msg("transfer failed, trying next method")
	}
	return errors.Join(errs...)
}
