package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/opsloop/internal/adapter/litellm"
	cfnats "github.com/Strob0t/opsloop/internal/adapter/nats"
	"github.com/Strob0t/opsloop/internal/adapter/otel"
	"github.com/Strob0t/opsloop/internal/adapter/ristretto"
	"github.com/Strob0t/opsloop/internal/adapter/ssh"
	"github.com/Strob0t/opsloop/internal/config"
	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/logger"
	"github.com/Strob0t/opsloop/internal/port/cache"
	"github.com/Strob0t/opsloop/internal/resilience"
	"github.com/Strob0t/opsloop/internal/secrets"
	"github.com/Strob0t/opsloop/internal/service"
)

var secretKeys = []string{
	secrets.KeyOracleAPIKey,
	secrets.KeySSHPassword,
	secrets.KeySSHPassphrase,
	secrets.KeyAPIKey,
}

// app holds what every subcommand needs. Errors from its constructors are
// configuration errors and end the process with a non-zero status.
type app struct {
	cfg     *config.Config
	vault   *secrets.Vault
	policy  *service.PolicyService
	queue   *cfnats.Queue
	cleanup []func()
}

func newApp() (*app, error) {
	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	a := &app{cfg: cfg}
	a.onClose(closer.Close)

	a.vault, err = secrets.NewVault(secrets.Chain(
		secrets.DotenvLoader(envFile, secretKeys...),
		secrets.EnvLoader(secretKeys...),
	))
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.policy, err = a.newPolicyService(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) newPolicyService() (*service.PolicyService, error) {
	var custom []policy.Profile
	if dir := a.cfg.Policy.CustomDir; dir != "" {
		profiles, err := policy.LoadFromDirectory(dir)
		if err != nil {
			return nil, fmt.Errorf("policy profiles: %w", err)
		}
		custom = profiles
	}

	var vc cache.VerdictCache
	if n := a.cfg.Cache.VerdictEntries; n > 0 {
		c, err := ristretto.New(n, a.cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("verdict cache: %w", err)
		}
		a.onClose(c.Close)
		vc = c
	}

	return service.NewPolicyService(a.cfg.Policy.DefaultProfile, custom, vc)
}

// newLoop wires the oracle, the SSH transport, telemetry and event
// publishing into a LoopService.
func (a *app) newLoop(ctx context.Context) (*service.LoopService, error) {
	cfg := a.cfg

	apiKey := a.vault.Get(secrets.KeyOracleAPIKey)
	if apiKey == "" {
		apiKey = cfg.Oracle.APIKey
		a.vault.Set(secrets.KeyOracleAPIKey, apiKey)
	}
	if apiKey == "" && strings.TrimRight(cfg.Oracle.BaseURL, "/") == litellm.DefaultBaseURL {
		return nil, fmt.Errorf("%s is required for %s", secrets.KeyOracleAPIKey, litellm.DefaultBaseURL)
	}

	client := litellm.NewClient(litellm.Options{
		BaseURL:           cfg.Oracle.BaseURL,
		APIKey:            apiKey,
		Timeout:           cfg.Oracle.Timeout,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
	})
	client.SetBreaker(resilience.NewBreaker("oracle", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	planner := litellm.NewPlanner(client, litellm.PlannerConfig{
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		MaxTokens:   cfg.Oracle.MaxTokens,
		StdoutChars: cfg.Oracle.HistoryStdoutChars,
		StderrChars: cfg.Oracle.HistoryStderrChars,
		JSONMode:    cfg.Oracle.JSONMode,
	})
	planner.SetRedactor(a.vault.RedactString)

	shutdown, err := otel.Setup(ctx, otel.Config{
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Insecure:    cfg.OTEL.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	})
	metrics, err := otel.NewMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	loop := service.NewLoopService(service.LoopConfigFrom(cfg), a.policy, planner, ssh.Opener(ssh.Config{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		MaxStdout:      cfg.SSH.MaxStdoutBytes,
		MaxStderr:      cfg.SSH.MaxStderrBytes,
	}))
	loop.SetModel(planner.Model())
	loop.SetMetrics(metrics)

	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.JetStream)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.onClose(func() { _ = q.Close() })
		a.queue = q
		loop.SetQueue(q)
	}

	slog.Info("oracle configured",
		"base_url", cfg.Oracle.BaseURL,
		"model", planner.Model(),
		"api_key", a.vault.Redacted(secrets.KeyOracleAPIKey),
	)
	return loop, nil
}

func (a *app) onClose(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
