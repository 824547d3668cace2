package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/core/internal/approval"
	"github.com/conductorhq/core/internal/config"
	"github.com/conductorhq/core/internal/deploy"
	"github.com/conductorhq/core/internal/ingest"
	"github.com/conductorhq/core/internal/ledger"
	obs "github.com/conductorhq/core/internal/obs"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/scheduler"
	"github.com/conductorhq/core/internal/store/postgres"
	"github.com/conductorhq/core/internal/toolgate"
	"github.com/conductorhq/core/internal/worker"
	"github.com/conductorhq/core/pkg/models"
)

// runServe implements the serve command: it wires every component against
// the Store and runs until SIGINT/SIGTERM, then shuts every goroutine down
// before returning.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := obs.NewLogger(obs.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	metrics := obs.NewMetrics()
	tracer, shutdownTracer := obs.NewTracer(obs.TraceConfig{
		ServiceName:    "conductor-core",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	slog.Info("starting conductor",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	st, err := postgres.Open(cfg.Store.DSN, postgres.Config{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnectTimeout:  10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	// The scheduler leader lock and the approval/tool-gate wake channel are
	// both Redis pub/sub consumers; a deployment running both points them at
	// the same instance, so one client covers either configured address.
	var redisClient *redis.Client
	if redisAddr := cfg.Scheduler.RedisAddr; redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer redisClient.Close()
	} else if cfg.Approval.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Approval.RedisAddr})
		defer redisClient.Close()
	}

	// The LLM classifier/executor and the chat-platform adapter are external
	// collaborators this module treats as ports, not providers it ships.
	// NullModelAdapter/NullChatAdapter are the documented plug-in point; a
	// deployment supplies real bindings by constructing worker.Pool and
	// scheduler.Scheduler with its own platform.ModelAdapter/ChatAdapter
	// instead of calling runServe's default wiring directly.
	model := &platform.NullModelAdapter{}
	chat := &platform.NullChatAdapter{}

	led := ledger.New(st, ledger.Config{
		Pricing:       ledger.DefaultPricing(),
		WarnThreshold: cfg.Worker.ReactiveTokenWarnThreshold,
	})

	registry := toolgate.NewRegistry()
	gate := toolgate.New(registry, st, toolgate.Config{
		PollInterval: cfg.ToolGate.GatedPollInterval,
		Timeout:      cfg.Approval.ToolApprovalTimeout,
		Redis:        redisClient,
		WakeChannel:  cfg.Approval.WakeChannel,
	})

	approvals := approval.New(st, st, chat, approval.Config{
		Timeout:     cfg.Approval.ApprovalTimeout,
		Redis:       redisClient,
		WakeChannel: cfg.Approval.WakeChannel,
	})

	normalizer := ingest.New(st, st, st, st, approvals, ingest.Config{SigningSecret: cfg.Ingest.SigningSecret})

	pool := worker.New(st, st, st, st, model, chat, gate, approvals, led, logger, worker.Config{
		Workers:            cfg.Worker.ReactiveWorkers,
		ContextWindow:      cfg.Worker.ContextWindow,
		ClassifierDeadline: cfg.Worker.ClassifierDeadline,
		ExecutorDeadline:   cfg.Worker.ExecutorDeadline,
		PollInterval:       cfg.Worker.PollInterval,
		ReaperGrace:        cfg.Worker.ReaperGrace,
		ReaperInterval:     cfg.Worker.ReaperInterval,
		MaxJobAttempts:     cfg.Worker.MaxJobAttempts,
		Provider:           "null",
		ClassifierModel:    "null",
		ExecutorModel:      "null",
	})

	var lock scheduler.Locker
	if redisClient != nil {
		lock = scheduler.NewRedisLocker(redisClient, cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL)
	}
	sched := scheduler.New(st, st, model, chat, gate, led, lock, logger, scheduler.Config{
		MinInterval:       time.Duration(cfg.Scheduler.MinIntervalSeconds) * time.Second,
		MaxInterval:       time.Duration(cfg.Scheduler.MaxIntervalSeconds) * time.Second,
		MaxToolIterations: cfg.Scheduler.MaxToolIterations,
		DailyTokenLimit:   cfg.Ledger.ProactiveDailyTokenLimit,
		Provider:          "null",
		ExecutorModel:     "null",
	})

	deployCtl := deploy.New(st, healthProbe(cfg.Deploy.HealthURL), logger, deploy.Config{HealthTimeout: cfg.Deploy.HealthTimeout})

	mux := buildMux(normalizer, deployCtl, metrics, tracer)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			logger.Error(ctx, "scheduler stopped with error", "error", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		approvals.RunExpirySweep(ctx, cfg.Approval.ExpirySweepInterval, func(err error) {
			logger.Error(ctx, "approval expiry sweep failed", "error", err)
		})
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	httpServer := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("conductor started", "http_addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	wg.Wait()
	slog.Info("conductor stopped gracefully")
	return nil
}

// runMigrate applies the Store's schema and exits.
func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := postgres.Open(cfg.Store.DSN, postgres.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	slog.Info("schema migrated")
	return nil
}

// buildMux assembles the HTTP surface: webhook ingest, deployment triggers,
// health, and metrics.
func buildMux(normalizer *ingest.Normalizer, deployCtl *deploy.Controller, metrics *obs.Metrics, tracer *obs.Tracer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhooks/events", func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()

		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		var event models.Event
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		if event.SignatureHeaders == nil {
			event.SignatureHeaders = map[string]string{}
		}
		event.SignatureHeaders[ingest.SignatureHeader] = r.Header.Get(ingest.SignatureHeader)

		res, err := normalizer.Ingest(ctx, event, body)
		if err != nil {
			tracer.RecordError(span, err)
			if err == ingest.ErrUnauthorized {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			metrics.RecordError("ingest", "dispatch_failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})

	mux.HandleFunc("/deployments", func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()

		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			CommitID string `json:"commit_id"`
			Branch   string `json:"branch"`
			Trigger  string `json:"trigger"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		d, err := deployCtl.Start(ctx, req.CommitID, req.Branch, req.Trigger)
		if err != nil {
			tracer.RecordError(span, err)
			if err == deploy.ErrDeploymentInProgress {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// healthProbe builds the Deployment Controller's HealthProbe from a
// configured URL: a GET against url is healthy on any 2xx status. An empty
// url means no real target is configured, so Verify always reports healthy
// (suitable for local/dev use; a production deployment always sets this).
func healthProbe(url string) deploy.HealthProbeFunc {
	if url == "" {
		return func(ctx context.Context) (bool, map[string]any, error) {
			return true, map[string]any{"probe": "disabled"}, nil
		}
	}
	client := &http.Client{}
	return func(ctx context.Context) (bool, map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, nil, err
		}
		defer resp.Body.Close()
		healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
		return healthy, map[string]any{"status_code": resp.StatusCode}, nil
	}
}
