package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/conductorhq/core/internal/approval"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/pkg/models"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newNormalizer(secret string) (*Normalizer, *memstore.Store) {
	st := memstore.New()
	coord := approval.New(st, st, &platform.NullChatAdapter{}, approval.Config{})
	return New(st, st, st, st, coord, Config{SigningSecret: secret}), st
}

func messageEvent(text, externalID string) models.Event {
	return models.Event{
		Kind:     models.EventMessage,
		Platform: "telegram",
		Chat:     models.EventChat{ID: "chat-1", Type: "private"},
		Author:   models.EventAuthor{ID: "user-1"},
		Message: &models.EventMessageBody{
			ExternalID: externalID,
			Text:       text,
			Timestamp:  time.Now(),
		},
	}
}

func TestIngest_RejectsBadSignature(t *testing.T) {
	n, _ := newNormalizer("s3cret")
	body := []byte(`{"x":1}`)
	event := messageEvent("hi", "m1")
	event.SignatureHeaders = map[string]string{SignatureHeader: "deadbeef"}

	_, err := n.Ingest(context.Background(), event, body)
	if err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestIngest_NewMessageEnqueuesClassifyJob(t *testing.T) {
	n, st := newNormalizer("s3cret")
	body := []byte(`{"x":1}`)
	event := messageEvent("hello there", "m1")
	event.SignatureHeaders = map[string]string{SignatureHeader: sign("s3cret", body)}

	res, err := n.Ingest(context.Background(), event, body)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("expected a fresh message, got duplicate")
	}
	if res.JobID == "" {
		t.Fatalf("expected a classify job to be enqueued")
	}

	job, err := st.GetJob(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Mode != models.JobModeClassify || job.Status != models.JobQueued {
		t.Fatalf("job = %+v, want queued classify job", job)
	}
}

func TestIngest_DuplicateMessageIsIdempotent(t *testing.T) {
	n, _ := newNormalizer("")
	body := []byte(`{}`)
	event := messageEvent("hello", "dup-1")

	first, err := n.Ingest(context.Background(), event, body)
	if err != nil {
		t.Fatalf("Ingest first: %v", err)
	}
	second, err := n.Ingest(context.Background(), event, body)
	if err != nil {
		t.Fatalf("Ingest second: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected second ingest of the same external id to be a duplicate")
	}
	if second.MessageID != first.MessageID {
		t.Fatalf("duplicate message id = %q, want %q", second.MessageID, first.MessageID)
	}
	if second.JobID != "" {
		t.Fatalf("duplicate message must not enqueue a new job")
	}
}

func TestIngest_EditedMessageDoesNotEnqueueJob(t *testing.T) {
	n, st := newNormalizer("")
	body := []byte(`{}`)
	event := messageEvent("original", "edit-1")

	if _, err := n.Ingest(context.Background(), event, body); err != nil {
		t.Fatalf("Ingest original: %v", err)
	}

	edit := event
	edit.Kind = models.EventEditedMessage
	edit.Message = &models.EventMessageBody{ExternalID: "edit-1", Text: "edited text", Timestamp: time.Now()}

	res, err := n.Ingest(context.Background(), edit, body)
	if err != nil {
		t.Fatalf("Ingest edit: %v", err)
	}
	if res.JobID != "" {
		t.Fatalf("edit must not enqueue a job")
	}

	msgs, err := st.RecentMessages(context.Background(), res.ThreadID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "edited text" || msgs[0].EditedAt == nil {
		t.Fatalf("messages = %+v, want one edited message", msgs)
	}
}

func TestIngest_CallbackRoutesToApprovalCoordinator(t *testing.T) {
	n, st := newNormalizer("")

	trigger := messageEvent("do the risky thing", "m-risky")
	res, err := n.Ingest(context.Background(), trigger, []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest trigger: %v", err)
	}

	job := &models.ReactiveJob{
		ID:       "job-1",
		ThreadID: res.ThreadID,
		Mode:     models.JobModeExecute,
		Status:   models.JobRunning,
		Classification: &models.Classification{
			Plan:              "delete things",
			NeedsConfirmation: true,
		},
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	coord := approval.New(st, st, &platform.NullChatAdapter{}, approval.Config{})
	a, err := coord.RequestApproval(context.Background(), job, "chat-1")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	callback := models.Event{
		Kind:     models.EventCallback,
		Platform: "telegram",
		Chat:     models.EventChat{ID: "chat-1", Type: "private"},
		Author:   models.EventAuthor{ID: "user-1"},
		Callback: &models.EventCallback{Tag: approval.Tag(a.ID), Data: "approve"},
	}
	if _, err := n.Ingest(context.Background(), callback, []byte("{}")); err != nil {
		t.Fatalf("Ingest callback: %v", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobDone {
		t.Fatalf("job status = %s, want done", got.Status)
	}
}

func TestIngest_SupersedesPendingApprovalBeforeEnqueueingNewJob(t *testing.T) {
	n, st := newNormalizer("")

	first, err := n.Ingest(context.Background(), messageEvent("start task", "m-1"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest first: %v", err)
	}

	job := &models.ReactiveJob{
		ID:       "job-1",
		ThreadID: first.ThreadID,
		Mode:     models.JobModeExecute,
		Status:   models.JobRunning,
		Classification: &models.Classification{
			Plan:              "do something",
			NeedsConfirmation: true,
		},
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	coord := approval.New(st, st, &platform.NullChatAdapter{}, approval.Config{})
	if _, err := coord.RequestApproval(context.Background(), job, "chat-1"); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	second, err := n.Ingest(context.Background(), messageEvent("never mind, new thing", "m-2"), []byte("{}"))
	if err != nil {
		t.Fatalf("Ingest second: %v", err)
	}
	if !second.Superseded {
		t.Fatalf("expected second message to supersede the pending approval")
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobSuperseded {
		t.Fatalf("original job status = %s, want superseded", got.Status)
	}
}
