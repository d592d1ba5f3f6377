// Package ssh implements the remote execution port over an SSH connection.
// One Transport holds one connection to one host; each Execute opens a
// session on it, streams stdout and stderr into capped buffers, and waits
// for the exit status or the time limit, whichever comes first. A timed
// out or broken connection is torn down and redialed on the next call.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Strob0t/opsloop/internal/domain/run"
	"github.com/Strob0t/opsloop/internal/port/transport"
)

// Config tunes connection and output handling.
type Config struct {
	ConnectTimeout time.Duration
	KnownHostsFile string // empty disables host key verification
	MaxStdout      int
	MaxStderr      int
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxStdout <= 0 {
		c.MaxStdout = 12000
	}
	if c.MaxStderr <= 0 {
		c.MaxStderr = 6000
	}
}

// Transport executes commands on a single host.
type Transport struct {
	addr      string
	clientCfg *ssh.ClientConfig
	cfg       Config

	mu     sync.Mutex
	client *ssh.Client
	closed bool
}

// New validates the descriptor, prepares authentication and host key
// checking, and returns a Transport. No connection is made until the first
// Execute.
func New(d transport.Descriptor, cfg Config) (*Transport, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	auth, err := authMethods(d)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	return &Transport{
		addr: d.Target().Address(),
		clientCfg: &ssh.ClientConfig{
			User:            d.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         cfg.ConnectTimeout,
		},
		cfg: cfg,
	}, nil
}

// Opener returns a transport.Opener producing Transports with cfg.
func Opener(cfg Config) transport.Opener {
	return func(d transport.Descriptor) (transport.Executor, error) {
		return New(d, cfg)
	}
}

// Execute runs command and returns its outcome. On timeout the remote
// process is signalled, the connection is dropped and ErrTimeout returned.
func (t *Transport) Execute(ctx context.Context, command string, timeout time.Duration) (run.Outcome, error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := t.connect(ctx)
	if err != nil {
		err = t.classify(ctx, err, timeout)
		return run.Failed(err, time.Since(start)), err
	}

	session, err := client.NewSession()
	if err != nil {
		t.drop(client)
		err = fmt.Errorf("%w: open session: %v", transport.ErrTransport, err)
		return run.Failed(err, time.Since(start)), err
	}
	defer func() { _ = session.Close() }()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		err = fmt.Errorf("%w: stdout pipe: %v", transport.ErrTransport, err)
		return run.Failed(err, time.Since(start)), err
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		err = fmt.Errorf("%w: stderr pipe: %v", transport.ErrTransport, err)
		return run.Failed(err, time.Since(start)), err
	}

	if err := session.Start(command); err != nil {
		t.drop(client)
		err = fmt.Errorf("%w: start command: %v", transport.ErrTransport, err)
		return run.Failed(err, time.Since(start)), err
	}

	stdout := newCappedBuffer(t.cfg.MaxStdout)
	stderr := newCappedBuffer(t.cfg.MaxStderr)
	var readers sync.WaitGroup
	readers.Add(2)
	go drainInto(&readers, stdout, stdoutPipe)
	go drainInto(&readers, stderr, stderrPipe)

	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- session.Wait()
	}()

	select {
	case waitErr := <-done:
		out := t.outcome(stdout, stderr, start)
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case waitErr == nil:
			status := 0
			out.ExitStatus = &status
			out.Success = true
			return out, nil
		case errors.As(waitErr, &exitErr):
			status := exitErr.ExitStatus()
			out.ExitStatus = &status
			return out, nil
		case errors.As(waitErr, &missing):
			err := fmt.Errorf("%w: command exited without reporting a status", transport.ErrTransport)
			out.Error = err.Error()
			return out, err
		default:
			t.drop(client)
			err := fmt.Errorf("%w: %v", transport.ErrTransport, waitErr)
			out.Error = err.Error()
			return out, err
		}

	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		t.drop(client)
		out := t.outcome(stdout, stderr, start)
		err := t.classify(ctx, ctx.Err(), timeout)
		out.TimedOut = errors.Is(err, transport.ErrTimeout)
		out.Error = err.Error()
		return out, err
	}
}

// Close drops the connection. Further Execute calls fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (t *Transport) outcome(stdout, stderr *cappedBuffer, start time.Time) run.Outcome {
	o := run.Outcome{Duration: time.Since(start)}
	o.Stdout, o.StdoutTruncated = stdout.Result()
	o.Stderr, o.StderrTruncated = stderr.Result()
	return o
}

// classify maps a failure to the port's error vocabulary.
func (t *Transport) classify(ctx context.Context, err error, timeout time.Duration) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", transport.ErrTimeout, timeout)
	case ctx.Err() != nil:
		return fmt.Errorf("command interrupted: %w", ctx.Err())
	default:
		return fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}
}

// connect returns the live client, dialing if there is none.
func (t *Transport) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("transport closed")
	}
	if t.client != nil {
		return t.client, nil
	}

	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}

	deadline := time.Now().Add(t.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	c, chans, reqs, err := ssh.NewClientConn(conn, t.addr, t.clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", t.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	t.client = ssh.NewClient(c, chans, reqs)
	slog.Debug("ssh connected", "addr", t.addr, "user", t.clientCfg.User)
	return t.client, nil
}

// drop closes client if it is still the current one.
func (t *Transport) drop(client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == client {
		t.client = nil
	}
	_ = client.Close()
}

func drainInto(wg *sync.WaitGroup, dst *cappedBuffer, src io.Reader) {
	defer wg.Done()
	_, _ = io.Copy(dst, src)
}

var _ transport.Executor = (*Transport)(nil)
