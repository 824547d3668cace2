// Package ingest implements the Ingest Normalizer (spec §4.2): the single
// entry point that turns a platform-agnostic models.Event into Store rows
// and, for ordinary user messages, a queued classify job.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/core/internal/approval"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

// ErrUnauthorized is returned when an event's signature does not match the
// configured signing secret.
var ErrUnauthorized = errors.New("ingest: unauthorized")

// SignatureHeader is the key the adapter is expected to populate on
// Event.SignatureHeaders with the hex-encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature"

// Result summarizes what ingest(event) did, mainly for logging/metrics.
type Result struct {
	ThreadID    string
	MessageID   string
	JobID       string // empty for edits, callbacks, and system events
	Duplicate   bool
	Superseded  bool
}

// Coordinator is the subset of the Approval Coordinator's API the Ingest
// Normalizer calls into (steps 6 and 7 of spec §4.2).
type Coordinator interface {
	HandleCallback(ctx context.Context, event models.Event) error
	SupersedeForThread(ctx context.Context, threadID string) (*models.Approval, error)
}

// Normalizer is the C2 Ingest Normalizer.
type Normalizer struct {
	threads   store.ThreadStore
	messages  store.MessageStore
	artifacts store.ArtifactStore
	jobs      store.JobStore
	approvals Coordinator
	secret    string
}

// Config configures a Normalizer.
type Config struct {
	// SigningSecret is the shared secret every inbound event's signature
	// header must HMAC-SHA256 match, verified byte-exact before any other
	// processing (spec §6.1).
	SigningSecret string
}

// New constructs a Normalizer.
func New(threads store.ThreadStore, messages store.MessageStore, artifacts store.ArtifactStore, jobs store.JobStore, approvals Coordinator, cfg Config) *Normalizer {
	return &Normalizer{threads: threads, messages: messages, artifacts: artifacts, jobs: jobs, approvals: approvals, secret: cfg.SigningSecret}
}

// Ingest is the ingest(event) entry point (spec §4.2 steps 1-9). rawBody is
// the exact bytes the signature header was computed over.
func (n *Normalizer) Ingest(ctx context.Context, event models.Event, rawBody []byte) (Result, error) {
	if !n.verifySignature(event, rawBody) {
		return Result{}, ErrUnauthorized
	}

	thread, err := n.threads.UpsertThread(ctx, event.Platform, event.Chat.ID, event.Chat.Type, event.Chat.Title)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: upsert thread: %w", err)
	}

	if event.Kind == models.EventCallback {
		if err := n.approvals.HandleCallback(ctx, event); err != nil {
			return Result{}, fmt.Errorf("ingest: handle callback: %w", err)
		}
		return Result{ThreadID: thread.ID}, nil
	}

	if event.Kind == models.EventSystem {
		msg, err := n.insertSystemMessage(ctx, thread.ID, event)
		if err != nil {
			return Result{}, err
		}
		return Result{ThreadID: thread.ID, MessageID: msg.ID}, nil
	}

	if event.Message == nil {
		return Result{}, fmt.Errorf("ingest: %s event missing message body", event.Kind)
	}

	if event.Kind == models.EventEditedMessage {
		msg, err := n.messages.MarkEdited(ctx, thread.ID, event.Message.ExternalID, event.Message.Text, time.Now())
		if err != nil {
			return Result{}, fmt.Errorf("ingest: mark edited: %w", err)
		}
		return Result{ThreadID: thread.ID, MessageID: msg.ID}, nil
	}

	msg := &models.Message{
		ID:                uuid.NewString(),
		ThreadID:          thread.ID,
		ExternalMessageID: event.Message.ExternalID,
		Role:              models.RoleUser,
		AuthorID:          event.Author.ID,
		Text:              event.Message.Text,
		CreatedAt:         event.Message.Timestamp,
	}
	inserted, err := n.messages.InsertMessage(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: insert message: %w", err)
	}
	duplicate := inserted.ID != msg.ID

	if !duplicate {
		for _, att := range event.Message.Attachments {
			a := &models.Artifact{
				ID:        uuid.NewString(),
				MessageID: inserted.ID,
				Kind:      artifactKindFor(att.Kind),
				Content:   map[string]any{"mime": att.MimeType, "size": att.Size, "duration": att.DurationSec, "external_blob_id": att.ExternalBlobID},
				Status:    models.ArtifactPending,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			if err := n.artifacts.CreateArtifact(ctx, a); err != nil {
				return Result{}, fmt.Errorf("ingest: create artifact: %w", err)
			}
		}
	}

	res := Result{ThreadID: thread.ID, MessageID: inserted.ID, Duplicate: duplicate}
	if duplicate {
		return res, nil
	}

	superseded, err := n.approvals.SupersedeForThread(ctx, thread.ID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: supersede pending approval: %w", err)
	}
	res.Superseded = superseded != nil

	job := &models.ReactiveJob{
		ID:               uuid.NewString(),
		ThreadID:         thread.ID,
		TriggerMessageID: inserted.ID,
		Mode:             models.JobModeClassify,
		Status:           models.JobQueued,
	}
	if err := n.jobs.CreateJob(ctx, job); err != nil {
		return Result{}, fmt.Errorf("ingest: enqueue classify job: %w", err)
	}
	res.JobID = job.ID
	return res, nil
}

func (n *Normalizer) insertSystemMessage(ctx context.Context, threadID string, event models.Event) (*models.Message, error) {
	text := ""
	if event.Message != nil {
		text = event.Message.Text
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      models.RoleSystem,
		AuthorID:  event.Author.ID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	inserted, err := n.messages.InsertMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("ingest: insert system message: %w", err)
	}
	return inserted, nil
}

// verifySignature compares the HMAC-SHA256 of rawBody against the
// X-Signature header, byte-exact, before any other processing (spec §6.1).
// An empty configured secret disables verification for local/dev use.
func (n *Normalizer) verifySignature(event models.Event, rawBody []byte) bool {
	if n.secret == "" {
		return true
	}
	got := event.SignatureHeaders[SignatureHeader]
	if got == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(got), []byte(expected))
}

func artifactKindFor(attachmentKind string) models.ArtifactKind {
	switch attachmentKind {
	case "voice", "audio":
		return models.ArtifactVoiceTranscript
	case "image", "photo":
		return models.ArtifactImageStruct
	case "document", "file":
		return models.ArtifactFileMeta
	default:
		return models.ArtifactFileMeta
	}
}

var _ Coordinator = (*approval.Coordinator)(nil)
