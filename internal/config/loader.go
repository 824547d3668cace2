package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file, applying environment
// overrides and defaults on top, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_STORE_DSN")); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_INGEST_SIGNING_SECRET")); v != "" {
		cfg.Ingest.SigningSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_REDIS_ADDR")); v != "" {
		cfg.Scheduler.RedisAddr = v
		cfg.Approval.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_METRICS_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONDUCTOR_DAILY_TOKEN_LIMIT")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ledger.ProactiveDailyTokenLimit = parsed
		}
	}
}

// ValidationError collects every configuration problem found at once,
// matching the teacher's validate-everything-then-report-once convention.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if strings.TrimSpace(cfg.Store.DSN) == "" {
		issues = append(issues, "store.dsn is required")
	}
	if cfg.Store.MaxOpenConns <= 0 {
		issues = append(issues, "store.max_open_conns must be > 0")
	}
	if cfg.Worker.ReactiveWorkers <= 0 {
		issues = append(issues, "worker.reactive_workers must be > 0")
	}
	if cfg.Worker.MaxJobAttempts <= 0 {
		issues = append(issues, "worker.max_job_attempts must be > 0")
	}
	if cfg.Worker.ContextWindow <= 0 {
		issues = append(issues, "worker.context_window must be > 0")
	}
	if cfg.Approval.ApprovalTimeout <= 0 {
		issues = append(issues, "approval.approval_timeout must be > 0")
	}
	if cfg.Ledger.ProactiveDailyTokenLimit <= 0 {
		issues = append(issues, "ledger.proactive_daily_token_limit must be > 0")
	}
	if cfg.Scheduler.MinIntervalSeconds <= 0 || cfg.Scheduler.MaxIntervalSeconds <= 0 {
		issues = append(issues, "scheduler.min/max_interval_seconds must be > 0")
	}
	if cfg.Scheduler.MinIntervalSeconds > cfg.Scheduler.MaxIntervalSeconds {
		issues = append(issues, "scheduler.min_interval_seconds must be <= max_interval_seconds")
	}
	if cfg.Scheduler.MaxToolIterations <= 0 {
		issues = append(issues, "scheduler.max_tool_iterations must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be \"json\" or \"text\"")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, "logging.level must be debug, info, warn, or error")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ParseDuration is a small helper mirroring the teacher's leniency toward
// bare numeric duration fields fed in via environment variables.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
