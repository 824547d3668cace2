// Package platform defines the ports to the two external collaborators the
// core depends on but does not implement: the chat-platform ingress adapter
// and the LLM classifier/executor clients (spec §6.1, §6.2). Real bindings
// (Telegram, Slack, Anthropic, OpenAI, ...) live outside this repository;
// this package only describes the shape every binding must satisfy, the way
// the teacher keeps LLMProvider as an interface in internal/agent with
// concrete providers living in a sibling package this repo deliberately does
// not carry (see DESIGN.md).
package platform

import (
	"context"
	"time"

	"github.com/conductorhq/core/pkg/models"
)

// Control describes the single actionable element a ChatAdapter attaches to
// an approval-request message (spec §6.1).
type Control struct {
	Label string
	Tag   string
}

// ChatAdapter is the outbound half of the chat-platform port (spec §6.1).
// Inbound events arrive as models.Event and are handled by internal/ingest;
// this interface covers only what the core sends back.
type ChatAdapter interface {
	// SendMessage delivers a plain text message, optionally threaded as a
	// reply, returning the platform's message id.
	SendMessage(ctx context.Context, chatID, text string, replyTo string) (externalMessageID string, err error)

	// SendMessageWithControl delivers a message carrying one actionable
	// control tagged with an opaque string the platform must echo back on
	// a subsequent callback event.
	SendMessageWithControl(ctx context.Context, chatID, text string, control Control) (externalMessageID string, err error)

	// EditOrAnnotate marks a previously sent message as resolved (e.g. an
	// approval control after it has been acted on). Optional: adapters may
	// no-op if the platform has no edit primitive.
	EditOrAnnotate(ctx context.Context, messageID, text string) error
}

// ClassifyRequest is the input to a classifier call (spec §6.2).
type ClassifyRequest struct {
	Messages []*models.Message
	Deadline time.Time
}

// ClassifyResult is the classifier's verdict, persisted on the ReactiveJob.
type ClassifyResult struct {
	Intent            string
	Summary           string
	Plan              string
	NeedsConfirmation bool
	Confidence        float64
	Usage             ToolUsage
}

// ToolUsage mirrors pkg/models.ToolUsage; kept local to avoid the adapter
// port depending on tool-call shapes it otherwise would not need.
type ToolUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// ExecuteRequest is the input to an executor call (spec §6.2).
type ExecuteRequest struct {
	Messages []*models.Message
	Tools    []models.ToolCall // schemas only; Input is unused on the request side
	Deadline time.Time
}

// ExecuteChunk is one element of the executor's streamed response: either
// assistant text or a tool call, never both (spec §6.2 "stream of
// {assistant_text | tool_call{...}}").
type ExecuteChunk struct {
	AssistantText string
	ToolCall      *models.ToolCall
}

// ExecuteResult is the final outcome of an executor call once its stream
// has been drained.
type ExecuteResult struct {
	FinalText string
	Usage     ToolUsage
}

// ModelAdapter is the LLM port (spec §6.2). Classify and Execute are
// independent calls so the worker pool can put each behind its own circuit
// breaker (spec §4.3's "classifier or executor failure" are distinct
// failure domains).
type ModelAdapter interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)

	// Execute returns every streamed chunk plus the final usage. A real
	// binding streams incrementally; this port's Non-goal (spec §1,
	// "streaming model output") means this repo only needs the drained
	// shape, so the slice is fully populated before Execute returns.
	Execute(ctx context.Context, req ExecuteRequest) ([]ExecuteChunk, ExecuteResult, error)
}
