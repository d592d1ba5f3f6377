package ssh_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh/knownhosts"

	cfssh "github.com/Strob0t/opsloop/internal/adapter/ssh"
	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/port/transport"
)

// scripted answers a few fixed commands the way a small Linux host would.
func scripted(cmd string, stdout, stderr io.Writer, kill <-chan struct{}) uint32 {
	switch {
	case cmd == "uname -a":
		_, _ = io.WriteString(stdout, "Linux web1 6.1.0-18-amd64 x86_64 GNU/Linux\n")
		return 0
	case strings.HasPrefix(cmd, "apt-get install"):
		_, _ = io.WriteString(stderr, "E: Could not open lock file /var/lib/dpkg/lock-frontend - open (13: Permission denied)\n")
		return 100
	case cmd == "flood":
		_, _ = io.WriteString(stdout, strings.Repeat("x", 50000))
		_, _ = io.WriteString(stderr, strings.Repeat("e", 50000))
		return 0
	case cmd == "sleep":
		select {
		case <-kill:
		case <-time.After(5 * time.Second):
		}
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "%s: command not found\n", cmd)
		return 127
	}
}

func newTransport(t *testing.T, d transport.Descriptor, cfg cfssh.Config) *cfssh.Transport {
	t.Helper()
	tr, err := cfssh.New(d, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestExecuteSuccess(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{})

	out, err := tr.Execute(context.Background(), "uname -a", 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	code, ok := out.ExitCode()
	if !ok || code != 0 || !out.Success {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.HasPrefix(out.Stdout, "Linux web1") {
		t.Errorf("unexpected stdout %q", out.Stdout)
	}
	if out.Stderr != "" || out.StdoutTruncated {
		t.Errorf("unexpected stderr/truncation: %+v", out)
	}
	if out.Duration <= 0 {
		t.Error("duration must be recorded")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{})

	out, err := tr.Execute(context.Background(), "apt-get install -y nginx", 5*time.Second)
	if err != nil {
		t.Fatalf("non-zero exit is not a transport error: %v", err)
	}
	if code, ok := out.ExitCode(); !ok || code != 100 {
		t.Fatalf("expected exit status 100, got %v/%v", code, ok)
	}
	if out.Success {
		t.Error("non-zero exit must not be success")
	}
	if !strings.Contains(out.Stderr, "Permission denied") {
		t.Errorf("stderr not captured: %q", out.Stderr)
	}
}

func TestExecuteReusesConnection(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{})

	for range 3 {
		if _, err := tr.Execute(context.Background(), "uname -a", 5*time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if n := srv.handshakes.Load(); n != 1 {
		t.Fatalf("expected a single connection, got %d", n)
	}
}

func TestExecuteTruncatesOutput(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{MaxStdout: 1000, MaxStderr: 10})

	out, err := tr.Execute(context.Background(), "flood", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Stdout) != 1000 || !out.StdoutTruncated {
		t.Errorf("stdout: len %d truncated %v", len(out.Stdout), out.StdoutTruncated)
	}
	if len(out.Stderr) != 10 || !out.StderrTruncated {
		t.Errorf("stderr: len %d truncated %v", len(out.Stderr), out.StderrTruncated)
	}
	if !out.Success {
		t.Error("exit status must survive truncation")
	}
}

func TestExecuteTimeoutThenRedial(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{})

	start := time.Now()
	out, err := tr.Execute(context.Background(), "sleep", 200*time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
	if _, ok := out.ExitCode(); ok || out.Success || !out.TimedOut {
		t.Fatalf("timed out outcome must have no exit status: %+v", out)
	}

	out, err = tr.Execute(context.Background(), "uname -a", 5*time.Second)
	if err != nil {
		t.Fatalf("execute after timeout: %v", err)
	}
	if !out.Success {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if n := srv.handshakes.Load(); n != 2 {
		t.Fatalf("expected a fresh connection after timeout, got %d handshakes", n)
	}
}

func TestExecuteParentCancel(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := tr.Execute(ctx, "sleep", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, transport.ErrTimeout) {
		t.Fatal("cancellation must not be reported as a timeout")
	}
}

func TestPasswordAuth(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.passwordDescriptor(testPassword), cfssh.Config{})

	if _, err := tr.Execute(context.Background(), "uname -a", 5*time.Second); err != nil {
		t.Fatalf("password auth: %v", err)
	}
}

func TestAuthFailureIsTransportError(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.passwordDescriptor("wrong"), cfssh.Config{ConnectTimeout: 2 * time.Second})

	out, err := tr.Execute(context.Background(), "uname -a", 5*time.Second)
	if !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if _, ok := out.ExitCode(); ok || out.Error == "" {
		t.Fatalf("failed outcome expected, got %+v", out)
	}
}

func TestUnreachableHost(t *testing.T) {
	d := transport.Descriptor{Host: "127.0.0.1", Port: 1, User: testUser, Password: "x"}
	tr := newTransport(t, d, cfssh.Config{ConnectTimeout: time.Second})

	if _, err := tr.Execute(context.Background(), "uname -a", 2*time.Second); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name string
		d    transport.Descriptor
		want error
	}{
		{"no credential", transport.Descriptor{Host: "h", User: "u"}, transport.ErrNoCredential},
		{"both credentials", transport.Descriptor{Host: "h", User: "u", Password: "p", KeyPath: "/k"}, transport.ErrConflictingCredential},
		{"no host", transport.Descriptor{User: "u", Password: "p"}, domain.ErrValidation},
		{"bad key", transport.Descriptor{Host: "h", User: "u", Key: []byte("not a key")}, domain.ErrValidation},
		{"missing key file", transport.Descriptor{Host: "h", User: "u", KeyPath: "/nonexistent/id_ed25519"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cfssh.New(tt.d, cfssh.Config{}); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestKeyFromFile(t *testing.T) {
	srv := startServer(t, scripted)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, srv.clientKey, 0o600); err != nil {
		t.Fatal(err)
	}
	d := transport.Descriptor{Host: srv.host, Port: srv.port, User: testUser, KeyPath: path}
	tr := newTransport(t, d, cfssh.Config{})

	if _, err := tr.Execute(context.Background(), "uname -a", 5*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestKnownHosts(t *testing.T) {
	srv := startServer(t, scripted)
	addr := fmt.Sprintf("%s:%d", srv.host, srv.port)

	good := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{addr}, srv.hostSigner.PublicKey())
	if err := os.WriteFile(good, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{KnownHostsFile: good})
	if _, err := tr.Execute(context.Background(), "uname -a", 5*time.Second); err != nil {
		t.Fatalf("known host rejected: %v", err)
	}

	other := startServer(t, scripted)
	bad := filepath.Join(t.TempDir(), "known_hosts")
	line = knownhosts.Line([]string{addr}, other.hostSigner.PublicKey())
	if err := os.WriteFile(bad, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tr = newTransport(t, srv.keyDescriptor(), cfssh.Config{KnownHostsFile: bad})
	if _, err := tr.Execute(context.Background(), "uname -a", 5*time.Second); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("mismatched host key must fail, got %v", err)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	srv := startServer(t, scripted)
	tr := newTransport(t, srv.keyDescriptor(), cfssh.Config{})
	if _, err := tr.Execute(context.Background(), "uname -a", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := tr.Execute(context.Background(), "uname -a", time.Second); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("expected ErrTransport after Close, got %v", err)
	}
}

func TestOpener(t *testing.T) {
	srv := startServer(t, scripted)
	open := cfssh.Opener(cfssh.Config{})
	exec, err := open(srv.keyDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = exec.Close() }()
	if _, err := exec.Execute(context.Background(), "uname -a", 5*time.Second); err != nil {
		t.Fatal(err)
	}
}
