package platform

import (
	"context"

	"github.com/google/uuid"
)

// NullChatAdapter is a ChatAdapter test double that records every call it
// receives instead of talking to a real platform, analogous to the
// teacher's pattern of keeping a no-op provider alongside real ones.
type NullChatAdapter struct {
	Sent     []SentMessage
	Annotate []AnnotateCall
}

// SentMessage records a SendMessage/SendMessageWithControl invocation.
type SentMessage struct {
	ChatID  string
	Text    string
	ReplyTo string
	Control *Control
}

// AnnotateCall records an EditOrAnnotate invocation.
type AnnotateCall struct {
	MessageID string
	Text      string
}

func (n *NullChatAdapter) SendMessage(ctx context.Context, chatID, text, replyTo string) (string, error) {
	n.Sent = append(n.Sent, SentMessage{ChatID: chatID, Text: text, ReplyTo: replyTo})
	return uuid.NewString(), nil
}

func (n *NullChatAdapter) SendMessageWithControl(ctx context.Context, chatID, text string, control Control) (string, error) {
	n.Sent = append(n.Sent, SentMessage{ChatID: chatID, Text: text, Control: &control})
	return uuid.NewString(), nil
}

func (n *NullChatAdapter) EditOrAnnotate(ctx context.Context, messageID, text string) error {
	n.Annotate = append(n.Annotate, AnnotateCall{MessageID: messageID, Text: text})
	return nil
}

// NullModelAdapter is a ModelAdapter test double returning canned results.
type NullModelAdapter struct {
	ClassifyResult ClassifyResult
	ClassifyErr    error
	ExecuteChunks  []ExecuteChunk
	ExecuteResult  ExecuteResult
	ExecuteErr     error

	// LastClassifyRequest records the most recent Classify call so tests can
	// assert on what context the caller built.
	LastClassifyRequest ClassifyRequest
}

func (n *NullModelAdapter) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	n.LastClassifyRequest = req
	return n.ClassifyResult, n.ClassifyErr
}

func (n *NullModelAdapter) Execute(ctx context.Context, req ExecuteRequest) ([]ExecuteChunk, ExecuteResult, error) {
	return n.ExecuteChunks, n.ExecuteResult, n.ExecuteErr
}
