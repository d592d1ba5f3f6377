// Package config provides hierarchical configuration loading for opsloop.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration.
type Config struct {
	Logging Logging `yaml:"logging"`
	Oracle  Oracle  `yaml:"oracle"`
	Breaker Breaker `yaml:"breaker"`
	SSH     SSH     `yaml:"ssh"`
	Run     Run     `yaml:"run"`
	Guard   Guard   `yaml:"guard"`
	Policy  Policy  `yaml:"policy"`
	Report  Report  `yaml:"report"`
	NATS    NATS    `yaml:"nats"`
	OTEL    OTEL    `yaml:"otel"`
	Cache   Cache   `yaml:"cache"`
	Server  Server  `yaml:"server"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
	File         string `yaml:"file"` // also write JSON lines here when set
}

// Oracle holds the planning oracle (OpenAI-compatible chat completions) configuration.
type Oracle struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Model              string        `yaml:"model"`
	Temperature        float64       `yaml:"temperature"`
	MaxTokens          int           `yaml:"max_tokens"`
	Timeout            time.Duration `yaml:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"` // 0 disables client-side limiting
	Burst              int           `yaml:"burst"`
	HistoryStdoutChars int           `yaml:"history_stdout_chars"`
	HistoryStderrChars int           `yaml:"history_stderr_chars"`
	JSONMode           bool          `yaml:"json_mode"` // request response_format json_object
}

// Breaker holds circuit breaker configuration for the oracle client.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SSH holds remote execution transport configuration.
type SSH struct {
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	KnownHostsFile string        `yaml:"known_hosts_file"` // empty disables host key verification
	MaxStdoutBytes int           `yaml:"max_stdout_bytes"`
	MaxStderrBytes int           `yaml:"max_stderr_bytes"`
}

// Run holds control loop configuration.
type Run struct {
	MaxSteps        int    `yaml:"max_steps"`
	HistoryWindow   int    `yaml:"history_window"`
	FallbackCommand string `yaml:"fallback_command"`
	MaxParallel     int    `yaml:"max_parallel"` // concurrent runs across hosts
}

// Guard holds loop guard thresholds.
type Guard struct {
	FailureStreak      int `yaml:"failure_streak"`
	SignatureWindow    int `yaml:"signature_window"`
	SignatureThreshold int `yaml:"signature_threshold"`
	RepeatThreshold    int `yaml:"repeat_threshold"` // 0 disables the no-progress rule
}

// Policy holds policy classifier configuration.
type Policy struct {
	DefaultProfile string `yaml:"default_profile"`
	CustomDir      string `yaml:"custom_dir"`
}

// Report holds run report configuration.
type Report struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // "markdown" | "json"
}

// NATS holds event publishing configuration. An empty URL disables publishing.
type NATS struct {
	URL       string `yaml:"url"`
	JetStream bool   `yaml:"jetstream"`
}

// OTEL holds OpenTelemetry export configuration. An empty endpoint disables export.
type OTEL struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Cache holds the in-process verdict cache configuration.
type Cache struct {
	VerdictEntries int64         `yaml:"verdict_entries"` // 0 disables caching
	TTL            time.Duration `yaml:"ttl"`
}

// Server holds HTTP server configuration for `opsloop serve`.
type Server struct {
	Host      string  `yaml:"host"` // a non-loopback host requires OPSLOOP_API_KEY
	Port      string  `yaml:"port"`
	BodyLimit int64   `yaml:"body_limit"`
	RunRate   float64 `yaml:"run_rate"` // POST /v1/runs per second per client; 0 disables
	RunBurst  int     `yaml:"run_burst"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Logging: Logging{
			Level:        "info",
			Service:      "opsloop",
			AsyncBuffer:  10000,
			AsyncWorkers: 2,
		},
		Oracle: Oracle{
			BaseURL:            "https://openrouter.ai/api/v1",
			Model:              "openai/gpt-4o-mini",
			Temperature:        0.1,
			MaxTokens:          800,
			Timeout:            60 * time.Second,
			Burst:              1,
			HistoryStdoutChars: 1200,
			HistoryStderrChars: 800,
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Timeout:     30 * time.Second,
		},
		SSH: SSH{
			Port:           22,
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 10 * time.Minute,
			MaxStdoutBytes: 12000,
			MaxStderrBytes: 6000,
		},
		Run: Run{
			MaxSteps:        25,
			HistoryWindow:   5,
			FallbackCommand: "uname -a",
			MaxParallel:     4,
		},
		Guard: Guard{
			FailureStreak:      3,
			SignatureWindow:    10,
			SignatureThreshold: 2,
			RepeatThreshold:    3,
		},
		Policy: Policy{
			DefaultProfile: "default",
			CustomDir:      "policies",
		},
		Report: Report{
			Dir:    "reports",
			Format: "markdown",
		},
		NATS: NATS{
			JetStream: true,
		},
		OTEL: OTEL{
			ServiceName: "opsloop",
			Insecure:    true,
		},
		Cache: Cache{
			VerdictEntries: 10000,
		},
		Server: Server{
			Host:      "127.0.0.1",
			Port:      "8080",
			BodyLimit: 1 << 20,
			RunRate:   0.2,
			RunBurst:  2,
		},
	}
}
