package approval

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/pkg/models"
)

func newJob(st *memstore.Store, t *testing.T, threadID string) *models.ReactiveJob {
	t.Helper()
	job := &models.ReactiveJob{
		ID:       "job-" + threadID,
		ThreadID: threadID,
		Mode:     models.JobModeExecute,
		Status:   models.JobRunning,
		Classification: &models.Classification{
			Intent:            "command",
			Plan:              "delete the staging bucket",
			NeedsConfirmation: true,
		},
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestRequestApproval_CreatesPendingApprovalAndTransitionsJob(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-1")

	c := New(st, st, chat, Config{Timeout: time.Hour})
	a, err := c.RequestApproval(context.Background(), job, "chat-ext-1")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if a.Status != models.ApprovalPending {
		t.Fatalf("status = %s, want pending", a.Status)
	}
	if len(chat.Sent) != 1 || chat.Sent[0].Control == nil {
		t.Fatalf("expected one control message sent, got %+v", chat.Sent)
	}
	if chat.Sent[0].Control.Tag != Tag(a.ID) {
		t.Fatalf("control tag = %q, want %q", chat.Sent[0].Control.Tag, Tag(a.ID))
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobAwaitingApproval {
		t.Fatalf("job status = %s, want awaiting_approval", got.Status)
	}
	if got.ApprovalID != a.ID {
		t.Fatalf("job.ApprovalID = %q, want %q", got.ApprovalID, a.ID)
	}
}

func TestHandleCallback_ApprovedEnqueuesConfirmedExecuteJob(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-2")
	c := New(st, st, chat, Config{})

	a, err := c.RequestApproval(context.Background(), job, "chat-ext-2")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	event := models.Event{Kind: models.EventCallback, Callback: &models.EventCallback{Tag: Tag(a.ID), Data: "approve"}}
	if err := c.HandleCallback(context.Background(), event); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	original, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob original: %v", err)
	}
	if original.Status != models.JobDone {
		t.Fatalf("original job status = %s, want done", original.Status)
	}
	nextID, _ := original.Result["next_job_id"].(string)
	if nextID == "" {
		t.Fatalf("expected original job result to carry next_job_id")
	}

	next, err := st.GetJob(context.Background(), nextID)
	if err != nil {
		t.Fatalf("GetJob next: %v", err)
	}
	if !next.Confirmed || next.Status != models.JobQueued {
		t.Fatalf("next job = %+v, want confirmed+queued", next)
	}
	if len(chat.Annotate) != 1 {
		t.Fatalf("expected control message annotated once, got %d", len(chat.Annotate))
	}
}

func TestHandleCallback_DuplicateIsNoOp(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-3")
	c := New(st, st, chat, Config{})

	a, err := c.RequestApproval(context.Background(), job, "chat-ext-3")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	event := models.Event{Kind: models.EventCallback, Callback: &models.EventCallback{Tag: Tag(a.ID), Data: "approve"}}
	if err := c.HandleCallback(context.Background(), event); err != nil {
		t.Fatalf("HandleCallback first: %v", err)
	}
	if err := c.HandleCallback(context.Background(), event); err != nil {
		t.Fatalf("HandleCallback duplicate should be a no-op, got: %v", err)
	}
}

func TestHandleCallback_RejectedCancelsJob(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-4")
	c := New(st, st, chat, Config{})

	a, err := c.RequestApproval(context.Background(), job, "chat-ext-4")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	event := models.Event{Kind: models.EventCallback, Callback: &models.EventCallback{Tag: Tag(a.ID), Data: "no"}}
	if err := c.HandleCallback(context.Background(), event); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobCanceled {
		t.Fatalf("job status = %s, want canceled", got.Status)
	}
}

func TestSupersedeForThread_CancelsPendingApprovalAndJob(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-5")
	c := New(st, st, chat, Config{})

	a, err := c.RequestApproval(context.Background(), job, "chat-ext-5")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	superseded, err := c.SupersedeForThread(context.Background(), job.ThreadID)
	if err != nil {
		t.Fatalf("SupersedeForThread: %v", err)
	}
	if superseded == nil || superseded.ID != a.ID {
		t.Fatalf("superseded = %+v, want approval %s", superseded, a.ID)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobSuperseded {
		t.Fatalf("job status = %s, want superseded", got.Status)
	}

	// A second call finds nothing pending left to supersede.
	again, err := c.SupersedeForThread(context.Background(), job.ThreadID)
	if err != nil {
		t.Fatalf("SupersedeForThread second call: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no pending approval left, got %+v", again)
	}
}

func TestExpireDue_FailsJobsOfExpiredApprovals(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-6")
	c := New(st, st, chat, Config{Timeout: time.Millisecond})

	if _, err := c.RequestApproval(context.Background(), job, "chat-ext-6"); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := c.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireDue returned %d, want 1", n)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobFailed || got.Error != "approval_expired" {
		t.Fatalf("job = %+v, want failed/approval_expired", got)
	}
}

func TestRunExpirySweep_ExpiresOnTickerAndStopsOnCancel(t *testing.T) {
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-7")
	c := New(st, st, chat, Config{Timeout: time.Millisecond})

	if _, err := c.RequestApproval(context.Background(), job, "chat-ext-7"); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunExpirySweep(ctx, time.Millisecond, nil)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := st.GetJob(context.Background(), job.ID)
		if err == nil && got.Status == models.JobFailed {
			break
		}
		time.Sleep(time.Millisecond)
	}
	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobFailed {
		t.Fatalf("job status = %s, want failed after sweep", got.Status)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunExpirySweep did not return after ctx cancellation")
	}
}

// TestHandleCallback_PublishesWakeOnResolution proves a resolved approval
// notifies a gated-tool poll (internal/toolgate.Gate) waiting on the same
// channel, rather than only updating the Store row.
func TestHandleCallback_PublishesWakeOnResolution(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	job := newJob(st, t, "thread-8")
	c := New(st, st, chat, Config{Redis: rdb, WakeChannel: "test:approval:wake"})

	a, err := c.RequestApproval(context.Background(), job, "chat-ext-8")
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	sub := rdb.Subscribe(context.Background(), "test:approval:wake")
	defer sub.Close()
	// Block until miniredis has registered the subscription, so the
	// publish below isn't sent before anyone is listening.
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	event := models.Event{Kind: models.EventCallback, Callback: &models.EventCallback{Tag: Tag(a.ID), Data: "approve"}}
	if err := c.HandleCallback(context.Background(), event); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != a.ID {
			t.Fatalf("wake payload = %q, want approval id %q", msg.Payload, a.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HandleCallback did not publish a wake message")
	}
}

func TestParseTag_RejectsNonApprovalTags(t *testing.T) {
	if _, err := ParseTag("tool:123"); err != ErrNotAnApprovalTag {
		t.Fatalf("err = %v, want ErrNotAnApprovalTag", err)
	}
	id, err := ParseTag(Tag("abc"))
	if err != nil || id != "abc" {
		t.Fatalf("ParseTag(Tag(abc)) = %q, %v", id, err)
	}
}
