package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "opsloop.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Logging.Level, "OPSLOOP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OPSLOOP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OPSLOOP_LOG_ASYNC")
	setString(&cfg.Logging.File, "OPSLOOP_LOG_FILE")

	setString(&cfg.Oracle.BaseURL, "OPSLOOP_ORACLE_URL")
	setString(&cfg.Oracle.Model, "OPENROUTER_MODEL")
	setString(&cfg.Oracle.Model, "OPSLOOP_ORACLE_MODEL")
	setFloat64(&cfg.Oracle.Temperature, "OPSLOOP_ORACLE_TEMPERATURE")
	setDuration(&cfg.Oracle.Timeout, "OPSLOOP_ORACLE_TIMEOUT")
	setFloat64(&cfg.Oracle.RequestsPerSecond, "OPSLOOP_ORACLE_RPS")
	setInt(&cfg.Oracle.Burst, "OPSLOOP_ORACLE_BURST")
	setBool(&cfg.Oracle.JSONMode, "OPSLOOP_ORACLE_JSON_MODE")

	setInt(&cfg.Breaker.MaxFailures, "OPSLOOP_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "OPSLOOP_BREAKER_TIMEOUT")

	setInt(&cfg.SSH.Port, "OPSLOOP_SSH_PORT")
	setDuration(&cfg.SSH.ConnectTimeout, "OPSLOOP_SSH_CONNECT_TIMEOUT")
	setDuration(&cfg.SSH.CommandTimeout, "OPSLOOP_SSH_COMMAND_TIMEOUT")
	setString(&cfg.SSH.KnownHostsFile, "OPSLOOP_SSH_KNOWN_HOSTS")

	setInt(&cfg.Run.MaxSteps, "OPSLOOP_MAX_STEPS")
	setInt(&cfg.Run.MaxParallel, "OPSLOOP_MAX_PARALLEL")

	setString(&cfg.Policy.DefaultProfile, "OPSLOOP_POLICY_PROFILE")
	setString(&cfg.Policy.CustomDir, "OPSLOOP_POLICY_DIR")

	setString(&cfg.Report.Dir, "OPSLOOP_REPORT_DIR")
	setString(&cfg.Report.Format, "OPSLOOP_REPORT_FORMAT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setInt64(&cfg.Cache.VerdictEntries, "OPSLOOP_CACHE_ENTRIES")
	setString(&cfg.Server.Host, "OPSLOOP_HOST")
	setString(&cfg.Server.Port, "OPSLOOP_PORT")
	setFloat64(&cfg.Server.RunRate, "OPSLOOP_RUN_RATE")
}

// Validate checks that values are usable. Flag overrides applied after
// loading should be re-validated with it.
func Validate(cfg *Config) error {
	switch {
	case cfg.Oracle.BaseURL == "":
		return errors.New("oracle.base_url is required")
	case cfg.Oracle.Model == "":
		return errors.New("oracle.model is required")
	case cfg.Oracle.Timeout <= 0:
		return errors.New("oracle.timeout must be > 0")
	case cfg.Oracle.RequestsPerSecond < 0:
		return errors.New("oracle.requests_per_second must be >= 0")
	case cfg.Oracle.Burst < 1:
		return errors.New("oracle.burst must be >= 1")
	case cfg.Breaker.MaxFailures < 1:
		return errors.New("breaker.max_failures must be >= 1")
	case cfg.SSH.Port < 1 || cfg.SSH.Port > 65535:
		return fmt.Errorf("ssh.port %d out of range", cfg.SSH.Port)
	case cfg.SSH.ConnectTimeout <= 0:
		return errors.New("ssh.connect_timeout must be > 0")
	case cfg.SSH.CommandTimeout <= 0:
		return errors.New("ssh.command_timeout must be > 0")
	case cfg.SSH.MaxStdoutBytes < 1 || cfg.SSH.MaxStderrBytes < 1:
		return errors.New("ssh.max_stdout_bytes and ssh.max_stderr_bytes must be >= 1")
	case cfg.Run.MaxSteps < 0:
		return errors.New("run.max_steps must be >= 0")
	case cfg.Run.HistoryWindow < 1:
		return errors.New("run.history_window must be >= 1")
	case cfg.Run.MaxParallel < 1:
		return errors.New("run.max_parallel must be >= 1")
	case cfg.Guard.FailureStreak < 1 || cfg.Guard.SignatureWindow < 1 || cfg.Guard.SignatureThreshold < 1:
		return errors.New("guard thresholds must be >= 1")
	case cfg.Guard.RepeatThreshold < 0:
		return errors.New("guard.repeat_threshold must be >= 0")
	case cfg.Policy.DefaultProfile == "":
		return errors.New("policy.default_profile is required")
	case cfg.Report.Format != "markdown" && cfg.Report.Format != "json":
		return fmt.Errorf("report.format must be markdown or json, got %q", cfg.Report.Format)
	case cfg.Cache.VerdictEntries < 0:
		return errors.New("cache.verdict_entries must be >= 0")
	case cfg.Server.Port == "":
		return errors.New("server.port is required")
	case cfg.Server.BodyLimit < 1:
		return errors.New("server.body_limit must be >= 1")
	case cfg.Server.RunRate < 0 || cfg.Server.RunBurst < 1:
		return errors.New("server.run_rate must be >= 0 and server.run_burst >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
