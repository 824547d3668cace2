package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/ledger"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/pkg/models"
)

const lastCycleMemoryKey = "last_cycle"

// decomposition is the structured payload the executor returns instead of
// completing a task, per spec §4.6: "{decompose: true, subtasks: [...]}".
type decomposition struct {
	Decompose bool              `json:"decompose"`
	Subtasks  []subtaskProposal `json:"subtasks"`
}

type subtaskProposal struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// runCycle executes one scheduler cycle: pick the next task, run the
// executor's tool-use loop against it, and either complete it or decompose
// it into children (spec §4.6 steps 4-6).
func (s *Scheduler) runCycle(ctx context.Context) error {
	task, err := s.tasks.NextPendingTask(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: next pending task: %w", err)
	}
	if task == nil {
		return nil
	}

	if err := s.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskActive); err != nil {
		return fmt.Errorf("scheduler: mark task active: %w", err)
	}

	messages, err := s.buildContext(ctx, task)
	if err != nil {
		return fmt.Errorf("scheduler: build context: %w", err)
	}

	outcome, err := s.runExecutorLoop(ctx, task, messages)
	if err != nil {
		// Leave the task pending for a future cycle rather than failing it
		// outright; a transient model/tool error should not drop backlog work.
		if uerr := s.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskPending); uerr != nil {
			s.logger.Error(ctx, "scheduler: revert task to pending failed", "task_id", task.ID, "error", uerr)
		}
		return fmt.Errorf("scheduler: executor loop: %w", err)
	}

	s.recordLedger(ctx, outcome.usage, map[string]any{"task_id": task.ID})

	if decomp, ok := parseDecomposition(outcome.finalText); ok && len(decomp.Subtasks) > 0 {
		if err := s.decomposeTask(ctx, task, decomp); err != nil {
			return fmt.Errorf("scheduler: decompose task: %w", err)
		}
	} else {
		if err := s.completeTask(ctx, task); err != nil {
			return fmt.Errorf("scheduler: complete task: %w", err)
		}
	}

	return s.writeCycleMemory(ctx, task, outcome.finalText)
}

// buildContext assembles the compact context spec §4.6 describes: the prior
// cycle's memory note, the current focus task, its sibling backlog sorted
// master-first/priority/age, and remaining budget.
func (s *Scheduler) buildContext(ctx context.Context, task *models.Task) ([]*models.Message, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current focus: %s", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, " — %s", task.Description)
	}
	b.WriteString("\n")

	if last, err := s.memory.GetMemory(ctx, lastCycleMemoryKey); err == nil {
		fmt.Fprintf(&b, "Last cycle: %s\n", last.Value)
	}

	if task.ParentID != "" {
		siblings, err := s.tasks.ChildTasks(ctx, task.ParentID)
		if err == nil && len(siblings) > 1 {
			sort.Slice(siblings, func(i, j int) bool { return siblings[i].Less(siblings[j]) })
			b.WriteString("Sibling backlog:\n")
			for _, sib := range siblings {
				if sib.ID == task.ID {
					continue
				}
				fmt.Fprintf(&b, "- [%s] %s (%s)\n", sib.Status, sib.Title, sib.Source)
			}
		}
	}

	status, err := s.ledger.BudgetStatus(ctx, time.Now(), s.cfg.DailyTokenLimit)
	if err == nil {
		fmt.Fprintf(&b, "Remaining daily budget: %d tokens (%.0f%% used)\n", status.Remaining, status.UsageRatio*100)
	}

	return []*models.Message{{
		ID:        uuid.NewString(),
		ThreadID:  "scheduler",
		Role:      models.RoleSystem,
		Text:      b.String(),
		CreatedAt: time.Now(),
	}}, nil
}

type executorOutcome struct {
	finalText string
	usage     platform.ToolUsage
}

// runExecutorLoop mirrors the reactive worker's tool-use loop (internal/worker
// execute.go): safe tools run immediately through the Gate, gated tools open
// a ToolApproval and may time out, at which point the loop reports the
// failure back to the model as a tool error and keeps going.
func (s *Scheduler) runExecutorLoop(ctx context.Context, task *models.Task, messages []*models.Message) (executorOutcome, error) {
	msgs := append([]*models.Message(nil), messages...)
	var total platform.ToolUsage

	for i := 0; i < s.cfg.MaxToolIterations; i++ {
		chunks, result, err := s.model.Execute(ctx, platform.ExecuteRequest{Messages: msgs, Tools: s.gate.Schemas(), Deadline: time.Now().Add(time.Minute)})
		if err != nil {
			return executorOutcome{}, err
		}
		total.InputTokens += result.Usage.InputTokens
		total.OutputTokens += result.Usage.OutputTokens

		var calls []models.ToolCall
		for _, c := range chunks {
			if c.ToolCall != nil {
				calls = append(calls, *c.ToolCall)
			}
		}
		if len(calls) == 0 {
			return executorOutcome{finalText: result.FinalText, usage: total}, nil
		}

		for _, call := range calls {
			res, err := s.gate.Invoke(ctx, call, task.Description)
			if ctx.Err() != nil {
				return executorOutcome{}, ctx.Err()
			}
			if err != nil && res.Content == "" {
				// A rejected or expired gated tool call is reported to the
				// model as a tool error rather than aborting the cycle; the
				// model may recover or give up on its own next round.
				res = models.ToolResult{ToolCallID: call.ID, IsError: true, Content: err.Error()}
			}
			msgs = append(msgs, toolResultMessage(res))
		}
	}
	return executorOutcome{}, fmt.Errorf("scheduler: tool-use loop exceeded %d iterations", s.cfg.MaxToolIterations)
}

func toolResultMessage(res models.ToolResult) *models.Message {
	text := res.Content
	if res.IsError {
		text = "tool error: " + text
	}
	return &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  "scheduler",
		Role:      models.RoleSystem,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func parseDecomposition(finalText string) (decomposition, bool) {
	var d decomposition
	if err := json.Unmarshal([]byte(strings.TrimSpace(finalText)), &d); err != nil {
		return decomposition{}, false
	}
	return d, d.Decompose
}

// decomposeTask creates the proposed children in order and leaves the parent
// pending; it is completed automatically once its last child completes
// (spec §4.6).
func (s *Scheduler) decomposeTask(ctx context.Context, task *models.Task, decomp decomposition) error {
	for i, sub := range decomp.Subtasks {
		child := &models.Task{
			ID:          uuid.NewString(),
			Kind:        models.TaskKindTask,
			ParentID:    task.ID,
			GoalID:      task.GoalID,
			Source:      task.Source,
			Title:       sub.Title,
			Description: sub.Description,
			Status:      models.TaskPending,
			Priority:    sub.Priority,
			OrderIndex:  i,
		}
		if err := s.tasks.CreateTask(ctx, child); err != nil {
			return err
		}
	}
	if err := s.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskPending); err != nil {
		return err
	}
	if task.Source == models.TaskSourceMaster {
		s.notifyMaster(ctx, fmt.Sprintf("Task %q was split into %d subtasks.", task.Title, len(decomp.Subtasks)))
	}
	return nil
}

// completeTask marks task done and cascades completion up through any
// parent whose last pending child this was (spec §4.6 "Completion of the
// last pending child completes the parent automatically").
func (s *Scheduler) completeTask(ctx context.Context, task *models.Task) error {
	if err := s.tasks.UpdateTaskStatus(ctx, task.ID, models.TaskCompleted); err != nil {
		return err
	}
	return s.cascadeParentCompletion(ctx, task.ParentID)
}

func (s *Scheduler) cascadeParentCompletion(ctx context.Context, parentID string) error {
	if parentID == "" {
		return nil
	}
	siblings, err := s.tasks.ChildTasks(ctx, parentID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.Status == models.TaskPending || sib.Status == models.TaskActive {
			return nil
		}
	}
	parent, err := s.tasks.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Status == models.TaskCompleted {
		return nil
	}
	if err := s.tasks.UpdateTaskStatus(ctx, parentID, models.TaskCompleted); err != nil {
		return err
	}
	return s.cascadeParentCompletion(ctx, parent.ParentID)
}

func (s *Scheduler) notifyMaster(ctx context.Context, text string) {
	if s.chat == nil || s.cfg.MasterChatID == "" {
		return
	}
	if _, err := s.chat.SendMessage(ctx, s.cfg.MasterChatID, text, ""); err != nil {
		s.logger.Error(ctx, "scheduler: notify master failed", "error", err)
	}
}

func (s *Scheduler) recordLedger(ctx context.Context, usage platform.ToolUsage, meta map[string]any) {
	u := ledger.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	_, err := s.ledger.Record(ctx, models.ScopeProactive, s.cfg.Provider, s.cfg.ExecutorModel, u, meta)
	if err != nil {
		s.logger.Error(ctx, "scheduler: ledger record failed", "error", err)
	}
}

func (s *Scheduler) writeCycleMemory(ctx context.Context, task *models.Task, finalText string) error {
	summary := fmt.Sprintf("%s: %s", task.Title, strings.TrimSpace(finalText))
	if len(summary) > 2000 {
		summary = summary[:2000]
	}
	return s.memory.PutMemory(ctx, &models.AgentMemory{
		Key:      lastCycleMemoryKey,
		Value:    summary,
		Category: "cycle",
	})
}
