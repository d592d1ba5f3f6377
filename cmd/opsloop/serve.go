package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/opsloop/internal/adapter/http"
	"github.com/Strob0t/opsloop/internal/middleware"
	"github.com/Strob0t/opsloop/internal/secrets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve exposes policy classification and synchronous runs over HTTP:

  GET  /health
  GET  /v1/policies
  GET  /v1/policies/{name}
  POST /v1/classify
  POST /v1/runs

The server binds to server.host (127.0.0.1 by default). Binding any other
address requires OPSLOOP_API_KEY; when it is set every /v1 route expects it
as X-API-Key or a bearer token. Runs stay disabled until
ssh.known_hosts_file is configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := func() string { return a.vault.Get(secrets.KeyAPIKey) }
	if err := checkExposure(a.cfg.Server.Host, apiKey()); err != nil {
		return err
	}

	handlers := &cfhttp.Handlers{
		Policy:       a.policy,
		BodyLimit:    a.cfg.Server.BodyLimit,
		RunsDisabled: runsDisabledReason(a.cfg.SSH.KnownHostsFile),
	}
	if handlers.RunsDisabled == "" {
		if handlers.Loop, err = a.newLoop(ctx); err != nil {
			return err
		}
	} else {
		slog.Warn("POST /v1/runs disabled", "reason", handlers.RunsDisabled)
	}
	if a.queue != nil {
		handlers.Checks = map[string]func() bool{"nats": a.queue.IsConnected}
	}

	var limiter *middleware.RateLimiter
	if a.cfg.Server.RunRate > 0 {
		limiter = middleware.NewRateLimiter(a.cfg.Server.RunRate, a.cfg.Server.RunBurst)
		defer limiter.StartCleanup(time.Minute, 10*time.Minute)()
	}

	opts := cfhttp.RouterOptions{
		ServiceName: a.cfg.OTEL.ServiceName,
		RunLimiter:  limiter,
	}
	if apiKey() != "" {
		opts.APIKey = apiKey
	}

	addr := net.JoinHostPort(a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           cfhttp.NewRouter(handlers, opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: POST /v1/runs answers when the run finishes.
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "auth", opts.APIKey != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// checkExposure refuses to listen beyond loopback without an API key.
func checkExposure(host, apiKey string) error {
	if apiKey != "" || isLoopback(host) {
		return nil
	}
	return fmt.Errorf("server.host %q is reachable from other machines: set %s or bind to 127.0.0.1", host, secrets.KeyAPIKey)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// runsDisabledReason is non-empty when remote host keys cannot be verified.
func runsDisabledReason(knownHostsFile string) string {
	if knownHostsFile == "" {
		return "ssh.known_hosts_file is not set, host keys cannot be verified"
	}
	return ""
}
