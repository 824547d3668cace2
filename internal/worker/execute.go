package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/chunk"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/pkg/models"
)

// maxReactiveToolIterations bounds the tool-use loop inside a single execute
// arm invocation. The spec only states an explicit bound (5) for the
// proactive scheduler's loop (§4.6); the reactive executor borrows the same
// ceiling as a defensive bound against a model that never stops calling tools.
const maxReactiveToolIterations = 5

// executeOutcome is the circuit-breaker-wrapped result of one execute arm
// run: the drained final text plus the summed usage across every tool-use
// round.
type executeOutcome struct {
	finalText string
	usage     platform.ToolUsage
}

// runExecute is the execute dispatch arm (spec §4.3). Context is re-loaded
// (it may have changed since classification). A classification still
// requiring confirmation and not yet Confirmed opens an approval and
// returns immediately — the worker never blocks on a human response.
func (p *Pool) runExecute(ctx context.Context, job *models.ReactiveJob) error {
	thread, err := p.threads.GetThread(ctx, job.ThreadID)
	if err != nil {
		return fmt.Errorf("worker: load thread: %w", err)
	}

	if job.Classification != nil && job.Classification.NeedsConfirmation && !job.Confirmed {
		_, err := p.approvals.RequestApproval(ctx, job, thread.ExternalChatID)
		if err != nil {
			return fmt.Errorf("worker: request approval: %w", err)
		}
		return nil
	}

	history, err := p.recentContext(ctx, job.ThreadID)
	if err != nil {
		return fmt.Errorf("worker: load context: %w", err)
	}

	cctx, cancel := withDeadline(ctx, p.cfg.ExecutorDeadline)
	defer cancel()

	outcome, err := p.executeBreaker.Execute(func() (executeOutcome, error) {
		return p.runExecutorLoop(cctx, job, history)
	})
	if err != nil {
		return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, nil, err.Error())
	}

	msgID, err := p.sendReply(ctx, thread, outcome.finalText, job.TriggerMessageID)
	if err != nil {
		return fmt.Errorf("worker: send final message: %w", err)
	}
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  job.ThreadID,
		Role:      models.RoleAssistant,
		Text:      outcome.finalText,
		CreatedAt: time.Now(),
	}
	if _, err := p.messages.InsertMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("worker: store assistant message: %w", err)
	}
	p.recordLedger(ctx, models.ScopeReactive, p.cfg.ExecutorModel, outcome.usage, map[string]any{"job_id": job.ID, "thread_id": job.ThreadID, "external_message_id": msgID})

	return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobDone, map[string]any{"external_message_id": msgID}, "")
}

// runAnswer is the answer dispatch arm: like execute but skips tools and
// approvals entirely, for trivial replies (spec §4.3).
func (p *Pool) runAnswer(ctx context.Context, job *models.ReactiveJob) error {
	thread, err := p.threads.GetThread(ctx, job.ThreadID)
	if err != nil {
		return fmt.Errorf("worker: load thread: %w", err)
	}
	history, err := p.recentContext(ctx, job.ThreadID)
	if err != nil {
		return fmt.Errorf("worker: load context: %w", err)
	}

	cctx, cancel := withDeadline(ctx, p.cfg.ExecutorDeadline)
	defer cancel()

	_, result, err := p.model.Execute(cctx, platform.ExecuteRequest{Messages: history, Deadline: deadlineOf(cctx)})
	if err != nil {
		return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobFailed, nil, err.Error())
	}

	msgID, err := p.sendReply(ctx, thread, result.FinalText, job.TriggerMessageID)
	if err != nil {
		return fmt.Errorf("worker: send answer message: %w", err)
	}
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  job.ThreadID,
		Role:      models.RoleAssistant,
		Text:      result.FinalText,
		CreatedAt: time.Now(),
	}
	if _, err := p.messages.InsertMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("worker: store answer message: %w", err)
	}
	p.recordLedger(ctx, models.ScopeReactive, p.cfg.ExecutorModel, result.Usage, map[string]any{"job_id": job.ID, "thread_id": job.ThreadID, "external_message_id": msgID})

	return p.jobs.UpdateJobStatus(ctx, job.ID, models.JobRunning, models.JobDone, map[string]any{"external_message_id": msgID}, "")
}

// runExecutorLoop drives the executor against the registered tool set,
// dispatching every tool call through the Gate (C7) and feeding results back
// as transient context until the model stops calling tools or the
// iteration bound is reached.
func (p *Pool) runExecutorLoop(ctx context.Context, job *models.ReactiveJob, history []*models.Message) (executeOutcome, error) {
	messages := append([]*models.Message(nil), history...)
	var total platform.ToolUsage
	reasoning := ""
	if job.Classification != nil {
		reasoning = job.Classification.Plan
	}

	for i := 0; i < maxReactiveToolIterations; i++ {
		chunks, result, err := p.model.Execute(ctx, platform.ExecuteRequest{Messages: messages, Tools: p.gate.Schemas(), Deadline: deadlineOf(ctx)})
		if err != nil {
			return executeOutcome{}, err
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
			return executeOutcome{finalText: result.FinalText, usage: total}, nil
		}

		for _, call := range calls {
			res, err := p.gate.Invoke(ctx, call, reasoning)
			if err != nil {
				return executeOutcome{}, fmt.Errorf("worker: tool call %s: %w", call.Name, err)
			}
			messages = append(messages, toolResultMessage(job.ThreadID, res))
		}
	}
	return executeOutcome{}, fmt.Errorf("worker: tool-use loop exceeded %d iterations", maxReactiveToolIterations)
}

func toolResultMessage(threadID string, res models.ToolResult) *models.Message {
	text := res.Content
	if res.IsError {
		text = "tool error: " + text
	}
	return &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      models.RoleSystem,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// sendReply splits text into platform-sized chunks before sending, so a long
// final answer never exceeds the chat platform's own message size limit.
// Only the first chunk is sent as a reply to the trigger message; the
// external id of the last chunk sent is what gets persisted on the job.
func (p *Pool) sendReply(ctx context.Context, thread *models.Thread, text, replyTo string) (string, error) {
	parts := chunk.Text(text, chunk.GetChannelLimit(thread.Platform))
	if len(parts) == 0 {
		parts = []string{text}
	}
	var lastID string
	for i, part := range parts {
		rt := ""
		if i == 0 {
			rt = replyTo
		}
		id, err := p.chat.SendMessage(ctx, thread.ExternalChatID, part, rt)
		if err != nil {
			return "", err
		}
		lastID = id
	}
	return lastID, nil
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(time.Minute)
}
