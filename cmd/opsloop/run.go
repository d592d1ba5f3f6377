package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/opsloop/internal/config"
	"github.com/Strob0t/opsloop/internal/port/transport"
	"github.com/Strob0t/opsloop/internal/report"
	"github.com/Strob0t/opsloop/internal/secrets"
	"github.com/Strob0t/opsloop/internal/service"
)

type runOptions struct {
	goal        string
	hosts       []string
	port        int
	user        string
	keyPath     string
	password    string
	askPassword bool
	maxSteps    int
	profile     string
	format      string
	reportDir   string
	maxParallel int
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a goal against one or more hosts",
	Long: `Run asks the planning model for commands toward --goal and executes the
allowed ones on each --host until the goal is reached or the run is stopped.
The report is printed to stdout and, with a report directory, written to a
file per host.

A run that stops early (budget, loop guard, unreachable oracle) still exits 0.
Only configuration errors exit non-zero.

Examples:
  opsloop run --goal "check disk usage" --host web1 --user ops --key ~/.ssh/id_ed25519
  opsloop run --goal "install nginx" --host web1:2222 --host web2 --user ops --ask-password`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.goal, "goal", "", "what the run should achieve (required)")
	f.StringArrayVar(&runOpts.hosts, "host", nil, "target host, optionally host:port (repeatable)")
	f.IntVar(&runOpts.port, "port", 0, "SSH port when the host has none (default ssh.port)")
	f.StringVar(&runOpts.user, "user", "", "SSH user (required)")
	f.StringVar(&runOpts.keyPath, "key", "", "private key file")
	f.StringVar(&runOpts.password, "password", "", "SSH password (prefer --ask-password or "+secrets.KeySSHPassword+")")
	f.BoolVar(&runOpts.askPassword, "ask-password", false, "prompt for the SSH password")
	f.IntVar(&runOpts.maxSteps, "max-steps", 0, "step budget (default run.max_steps)")
	f.StringVar(&runOpts.profile, "profile", "", "policy profile (default policy.default_profile)")
	f.StringVar(&runOpts.format, "format", "", "report format: markdown or json (default report.format)")
	f.StringVar(&runOpts.reportDir, "report-dir", "", "directory for report files (default report.dir)")
	f.IntVar(&runOpts.maxParallel, "parallel", 0, "hosts to run at once (default run.max_parallel)")
	_ = runCmd.MarkFlagRequired("goal")
	_ = runCmd.MarkFlagRequired("host")
	_ = runCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	format, err := report.ParseFormat(firstNonEmpty(runOpts.format, a.cfg.Report.Format))
	if err != nil {
		return err
	}
	if runOpts.askPassword {
		pw, err := promptPassword("SSH password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		runOpts.password = pw
	}
	reqs, err := buildRequests(runOpts, a.cfg, a.vault)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop, err := a.newLoop(ctx)
	if err != nil {
		return err
	}
	results, err := service.NewRunner(loop, firstPositive(runOpts.maxParallel, a.cfg.Run.MaxParallel)).RunAll(ctx, reqs)
	if err != nil {
		return err
	}
	return emitReports(cmd.OutOrStdout(), results, format, firstNonEmpty(runOpts.reportDir, a.cfg.Report.Dir))
}

// buildRequests turns the flags into one request per host. Secrets given on
// the command line or at the prompt are added to the vault for redaction.
func buildRequests(o runOptions, cfg *config.Config, vault *secrets.Vault) ([]service.RunRequest, error) {
	if strings.TrimSpace(o.goal) == "" {
		return nil, errors.New("--goal is required")
	}
	if len(o.hosts) == 0 {
		return nil, errors.New("at least one --host is required")
	}
	if o.maxSteps < 0 {
		return nil, fmt.Errorf("--max-steps must be >= 0, got %d", o.maxSteps)
	}

	password := o.password
	if password == "" && o.keyPath == "" {
		password = vault.Get(secrets.KeySSHPassword)
	}
	vault.Set(secrets.KeySSHPassword, password)

	defaultPort := firstPositive(o.port, cfg.SSH.Port)
	reqs := make([]service.RunRequest, 0, len(o.hosts))
	for _, h := range o.hosts {
		host, port, err := parseHost(h, defaultPort)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, service.RunRequest{
			Goal: o.goal,
			Descriptor: transport.Descriptor{
				Host:       host,
				Port:       port,
				User:       o.user,
				KeyPath:    o.keyPath,
				Passphrase: vault.Get(secrets.KeySSHPassphrase),
				Password:   password,
			},
			Profile:  o.profile,
			MaxSteps: o.maxSteps,
		})
	}
	return reqs, nil
}

// parseHost accepts "host", "host:port" and "[v6]:port".
func parseHost(s string, defaultPort int) (string, int, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		if strings.Count(s, ":") > 1 || !strings.Contains(s, ":") {
			return strings.Trim(s, "[]"), defaultPort, nil
		}
		return "", 0, fmt.Errorf("invalid host %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in host %q", s)
	}
	return host, port, nil
}

// emitReports prints every finished run and writes report files. A run that
// could not start is a configuration error and is returned after the
// others have been reported.
func emitReports(w io.Writer, results []service.RunResult, format report.Format, dir string) error {
	var errs []error
	for i, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", res.Request.Descriptor.Target(), res.Err))
			continue
		}
		if i > 0 && format == report.FormatMarkdown {
			_, _ = fmt.Fprintln(w, "\n---")
		}
		if err := report.Render(w, res.Run, format); err != nil {
			return err
		}
		if dir == "" {
			continue
		}
		path, err := report.WriteFile(dir, res.Run, format)
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		slog.Info("report written", "run_id", res.Run.ID, "path", path)
	}
	return errors.Join(errs...)
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) { //nolint:unconvert // int conversion needed on some platforms
		return "", errors.New("--ask-password needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
