// Package config loads and validates the orchestration core's configuration.
package config

import "time"

// Config is the top-level configuration structure, grouped by component the
// way the teacher groups its own config by subsystem.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Worker    WorkerConfig    `yaml:"worker"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	ToolGate  ToolGateConfig  `yaml:"toolgate"`
	Deploy    DeployConfig    `yaml:"deploy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the process's own listening surface (metrics, health).
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StoreConfig configures the Postgres-backed Store (C1).
type StoreConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxOpenConns      int           `yaml:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime"`
	ArtifactRetention time.Duration `yaml:"artifact_retention"`
}

// IngestConfig configures the Ingest Normalizer (C2).
type IngestConfig struct {
	SigningSecret string `yaml:"signing_secret"`
}

// WorkerConfig configures the Reactive Worker Pool (C3).
type WorkerConfig struct {
	ReactiveWorkers            int           `yaml:"reactive_workers"`
	ContextWindow              int           `yaml:"context_window"`
	ClassifierDeadline         time.Duration `yaml:"classifier_deadline"`
	ExecutorDeadline           time.Duration `yaml:"executor_deadline"`
	PollInterval               time.Duration `yaml:"poll_interval"`
	ReaperGrace                time.Duration `yaml:"reaper_grace"`
	ReaperInterval             time.Duration `yaml:"reaper_interval"`
	MaxJobAttempts             int           `yaml:"max_job_attempts"`
	ReactiveTokenWarnThreshold int64         `yaml:"reactive_token_warn_threshold"`
}

// ApprovalConfig configures the Approval Coordinator (C4).
type ApprovalConfig struct {
	ApprovalTimeout     time.Duration `yaml:"approval_timeout"`
	ToolApprovalTimeout time.Duration `yaml:"tool_approval_timeout"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
	RedisAddr           string        `yaml:"redis_addr"`
	WakeChannel         string        `yaml:"wake_channel"`
}

// LedgerConfig configures the Token Ledger & Budget (C5).
type LedgerConfig struct {
	ProactiveDailyTokenLimit int64 `yaml:"proactive_daily_token_limit"`
}

// SchedulerConfig configures the Proactive Scheduler (C6).
type SchedulerConfig struct {
	MinIntervalSeconds int    `yaml:"min_interval_seconds"`
	MaxIntervalSeconds int    `yaml:"max_interval_seconds"`
	MaxToolIterations  int    `yaml:"max_tool_iterations"`
	RedisAddr          string `yaml:"redis_addr"`
	LockKey            string `yaml:"lock_key"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

// ToolGateConfig configures the Tool Registry & Gate (C7).
type ToolGateConfig struct {
	GatedPollInterval time.Duration `yaml:"gated_poll_interval"`
	ShellDenylist     []string      `yaml:"shell_denylist"`
}

// DeployConfig configures the Deployment Controller (C8).
type DeployConfig struct {
	HealthTimeout time.Duration `yaml:"health_timeout"`
	// HealthURL is the endpoint Verify issues a GET against to decide
	// healthy/unhealthy. Empty disables the built-in HTTP probe; callers
	// embedding this module may supply their own deploy.HealthProbe instead.
	HealthURL string `yaml:"health_url"`
}

// LoggingConfig configures the ambient slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// TracingConfig configures OpenTelemetry distributed tracing. An empty
// Endpoint disables export and leaves the tracer a no-op, so tracing is
// opt-in rather than a required collector dependency.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			MetricsPort: 9090,
		},
		Store: StoreConfig{
			MaxOpenConns:      10,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ArtifactRetention: 30 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			ReactiveWorkers:            2,
			ContextWindow:              30,
			ClassifierDeadline:         30 * time.Second,
			ExecutorDeadline:           120 * time.Second,
			PollInterval:               100 * time.Millisecond,
			ReaperGrace:                30 * time.Second,
			ReaperInterval:             15 * time.Second,
			MaxJobAttempts:             3,
			ReactiveTokenWarnThreshold: 100_000,
		},
		Approval: ApprovalConfig{
			ApprovalTimeout:     time.Hour,
			ToolApprovalTimeout: time.Hour,
			ExpirySweepInterval: 30 * time.Second,
			WakeChannel:         "conductor:approval:wake",
		},
		Ledger: LedgerConfig{
			ProactiveDailyTokenLimit: 7_000_000,
		},
		Scheduler: SchedulerConfig{
			MinIntervalSeconds: 60,
			MaxIntervalSeconds: 3600,
			MaxToolIterations:  5,
			LockKey:            "conductor:scheduler:lock",
			LockTTL:            45 * time.Second,
		},
		ToolGate: ToolGateConfig{
			GatedPollInterval: 2 * time.Second,
			ShellDenylist:     []string{"rm -rf /", "mkfs", ":(){ :|:& };:"},
		},
		Deploy: DeployConfig{
			HealthTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}
