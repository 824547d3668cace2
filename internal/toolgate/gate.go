package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// ErrToolRejected is returned when a gated tool call's approval resolves to
// rejected.
var ErrToolRejected = errors.New("toolgate: tool call rejected")

// ErrToolApprovalExpired is returned when a gated tool call's approval
// expires before resolution (spec §4.7 T_tool).
var ErrToolApprovalExpired = errors.New("toolgate: tool approval expired")

// Gate runs tool calls against their registered safety tier: safe tools
// execute immediately, gated tools either auto-approve or wait on a
// ToolApproval, forbidden tools never execute.
type Gate struct {
	registry     *Registry
	approvals    store.ToolApprovalStore
	pollInterval time.Duration
	timeout      time.Duration
	redis        *redis.Client
	wakeChannel  string
}

// Config configures a Gate.
type Config struct {
	PollInterval time.Duration // default 2s
	Timeout      time.Duration // default 1h, spec §6.4 tool_approval_timeout_seconds

	// Redis and WakeChannel are optional. When set, runGated subscribes to
	// WakeChannel and re-checks a pending ToolApproval as soon as a message
	// arrives instead of waiting for its next poll tick (spec §10.2: "a
	// pub/sub wake channel the Approval Coordinator publishes to on
	// resolution so a waiting gated-tool poll can wake early"). PollInterval
	// still bounds the wait when Redis is nil or a publish is missed.
	Redis       *redis.Client
	WakeChannel string
}

// New constructs a Gate.
func New(registry *Registry, approvals store.ToolApprovalStore, cfg Config) *Gate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	if cfg.Redis != nil && cfg.WakeChannel == "" {
		cfg.WakeChannel = "conductor:approval:wake"
	}
	return &Gate{
		registry:     registry,
		approvals:    approvals,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		redis:        cfg.Redis,
		wakeChannel:  cfg.WakeChannel,
	}
}

// Invoke dispatches a single tool call per spec §4.7. reasoning is the
// executor model's stated justification, persisted on the ToolApproval so a
// human reviewer sees why the call was proposed.
func (g *Gate) Invoke(ctx context.Context, call models.ToolCall, reasoning string) (models.ToolResult, error) {
	tool, ok := g.registry.Get(call.Name)
	if !ok {
		return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: fmt.Sprintf("unknown tool %q", call.Name)}, nil
	}

	switch tool.Tier {
	case models.TierForbidden:
		// Structured error the model can read, not a job failure (spec §7 ToolForbidden).
		return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: fmt.Sprintf("tool %q is forbidden", call.Name)}, nil

	case models.TierSafe:
		return g.run(ctx, tool, call)

	case models.TierGated:
		if tool.AutoApprove != nil && tool.AutoApprove(call.Input) {
			return g.run(ctx, tool, call)
		}
		return g.runGated(ctx, tool, call, reasoning)

	default:
		return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: fmt.Sprintf("tool %q has unknown safety tier", call.Name)}, nil
	}
}

func (g *Gate) run(ctx context.Context, tool *Tool, call models.ToolCall) (models.ToolResult, error) {
	content, err := tool.Exec(ctx, call.Input)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: err.Error()}, nil
	}
	return models.ToolResult{ToolCallID: call.ID, Content: content}, nil
}

// runGated opens a ToolApproval and waits on it via bounded polling rather
// than an in-process block, so the caller (the scheduler's tool-use loop)
// can still observe cancellation and so a worker is never pinned on a
// human's response (spec §5 "approvals... must not pin a worker").
func (g *Gate) runGated(ctx context.Context, tool *Tool, call models.ToolCall, reasoning string) (models.ToolResult, error) {
	now := time.Now()
	ta := &models.ToolApproval{
		ID:        uuid.NewString(),
		ToolName:  tool.Name,
		Input:     rawToMap(call.Input),
		Reasoning: reasoning,
		CreatedAt: now,
		ExpiresAt: now.Add(g.timeout),
		Status:    models.ToolApprovalPending,
	}
	if err := g.approvals.CreateToolApproval(ctx, ta); err != nil {
		return models.ToolResult{}, fmt.Errorf("toolgate: create tool approval: %w", err)
	}

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var wake <-chan *redis.Message
	if g.redis != nil {
		sub := g.redis.Subscribe(ctx, g.wakeChannel)
		defer sub.Close()
		wake = sub.Channel()
	}

	for {
		select {
		case <-ctx.Done():
			return models.ToolResult{}, ctx.Err()
		case <-wake:
			// A resolution was published somewhere; re-check now rather than
			// waiting for the next tick. The message itself carries no
			// payload this code relies on — GetToolApproval is still the
			// source of truth.
		case <-ticker.C:
		}

		current, err := g.approvals.GetToolApproval(ctx, ta.ID)
		if err != nil {
			return models.ToolResult{}, fmt.Errorf("toolgate: poll tool approval: %w", err)
		}
		switch current.Status {
		case models.ToolApprovalPending:
			if time.Now().After(current.ExpiresAt) {
				return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: "tool approval expired"}, ErrToolApprovalExpired
			}
			continue
		case models.ToolApprovalApproved:
			return g.run(ctx, tool, call)
		case models.ToolApprovalRejected:
			return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: "tool call rejected"}, ErrToolRejected
		case models.ToolApprovalExpired:
			return models.ToolResult{ToolCallID: call.ID, IsError: true, Content: "tool approval expired"}, ErrToolApprovalExpired
		}
	}
}

// Schemas returns every registered tool as a models.ToolCall carrying its
// name and input schema, for handing to the Model Adapter as its
// available-tools list (spec §6.2 ExecuteRequest.Tools: "schemas only").
func (g *Gate) Schemas() []models.ToolCall {
	tools := g.registry.List()
	out := make([]models.ToolCall, 0, len(tools))
	for _, t := range tools {
		out = append(out, models.ToolCall{Name: t.Name, Input: t.InputSchema})
	}
	return out
}

func rawToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return m
}
