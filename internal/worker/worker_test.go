package worker

import (
	"context"
	"testing"
	"time"

	"github.com/conductorhq/core/internal/approval"
	"github.com/conductorhq/core/internal/ledger"
	"github.com/conductorhq/core/internal/platform"
	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/internal/store/memstore"
	"github.com/conductorhq/core/internal/toolgate"
	"github.com/conductorhq/core/pkg/models"
)

func newTestPool(t *testing.T, model platform.ModelAdapter) (*Pool, *memstore.Store, *platform.NullChatAdapter) {
	t.Helper()
	st := memstore.New()
	chat := &platform.NullChatAdapter{}
	gate := toolgate.New(toolgate.NewRegistry(), st, toolgate.Config{})
	coord := approval.New(st, st, chat, approval.Config{Timeout: time.Hour})
	led := ledger.New(st, ledger.Config{Pricing: ledger.DefaultPricing()})
	p := New(st, st, st, st, model, chat, gate, coord, led, nil, Config{
		Workers:        1,
		PollInterval:   time.Millisecond,
		ReaperGrace:    time.Second,
		ReaperInterval: time.Hour,
		MaxJobAttempts: 3,
	})
	return p, st, chat
}

func seedThreadAndMessage(t *testing.T, st *memstore.Store, text string) (*models.Thread, *models.Message) {
	t.Helper()
	thread, err := st.UpsertThread(context.Background(), "telegram", "chat-1", "private", "")
	if err != nil {
		t.Fatalf("UpsertThread: %v", err)
	}
	msg, err := st.InsertMessage(context.Background(), &models.Message{ThreadID: thread.ID, Role: models.RoleUser, Text: text})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return thread, msg
}

func TestRunClassify_ChatIntentEnqueuesAnswerJob(t *testing.T) {
	model := &platform.NullModelAdapter{ClassifyResult: platform.ClassifyResult{Intent: "chat", Confidence: 0.9}}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "hi there")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeClassify, Status: models.JobRunning}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := p.runClassify(context.Background(), job); err != nil {
		t.Fatalf("runClassify: %v", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobDone {
		t.Fatalf("classify job status = %s, want done", got.Status)
	}
	nextID, _ := got.Result["next_job_id"].(string)
	next, err := st.GetJob(context.Background(), nextID)
	if err != nil {
		t.Fatalf("GetJob next: %v", err)
	}
	if next.Mode != models.JobModeAnswer {
		t.Fatalf("next job mode = %s, want answer", next.Mode)
	}
}

func TestRunClassify_CommandNeedingConfirmationEnqueuesExecuteJob(t *testing.T) {
	model := &platform.NullModelAdapter{ClassifyResult: platform.ClassifyResult{Intent: "command", NeedsConfirmation: true, Plan: "delete things"}}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "delete everything")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeClassify, Status: models.JobRunning}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := p.runClassify(context.Background(), job); err != nil {
		t.Fatalf("runClassify: %v", err)
	}

	got, _ := st.GetJob(context.Background(), job.ID)
	nextID, _ := got.Result["next_job_id"].(string)
	next, err := st.GetJob(context.Background(), nextID)
	if err != nil {
		t.Fatalf("GetJob next: %v", err)
	}
	if next.Mode != models.JobModeExecute {
		t.Fatalf("next job mode = %s, want execute", next.Mode)
	}
}

func TestRunExecute_NeedsConfirmationOpensApprovalAndReleasesJob(t *testing.T) {
	model := &platform.NullModelAdapter{}
	p, st, chat := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "delete everything")

	job := &models.ReactiveJob{
		ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeExecute, Status: models.JobRunning,
		Classification: &models.Classification{Intent: "command", NeedsConfirmation: true, Plan: "delete things"},
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := p.runExecute(context.Background(), job); err != nil {
		t.Fatalf("runExecute: %v", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobAwaitingApproval {
		t.Fatalf("job status = %s, want awaiting_approval", got.Status)
	}
	if len(chat.Sent) != 1 || chat.Sent[0].Control == nil {
		t.Fatalf("expected one control message sent, got %+v", chat.Sent)
	}
}

func TestRunExecute_ConfirmedRunsExecutorAndSendsFinalMessage(t *testing.T) {
	model := &platform.NullModelAdapter{ExecuteResult: platform.ExecuteResult{FinalText: "done!", Usage: platform.ToolUsage{InputTokens: 10, OutputTokens: 5}}}
	p, st, chat := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "delete the staging bucket")

	job := &models.ReactiveJob{
		ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeExecute, Status: models.JobRunning, Confirmed: true,
		Classification: &models.Classification{Intent: "command", NeedsConfirmation: true, Plan: "delete things"},
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := p.runExecute(context.Background(), job); err != nil {
		t.Fatalf("runExecute: %v", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobDone {
		t.Fatalf("job status = %s, want done", got.Status)
	}
	if len(chat.Sent) != 1 || chat.Sent[0].Text != "done!" {
		t.Fatalf("expected final message sent, got %+v", chat.Sent)
	}
}

func TestRunAnswer_SendsReplyWithoutApproval(t *testing.T) {
	model := &platform.NullModelAdapter{ExecuteResult: platform.ExecuteResult{FinalText: "hello back"}}
	p, st, chat := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "hi")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeAnswer, Status: models.JobRunning}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := p.runAnswer(context.Background(), job); err != nil {
		t.Fatalf("runAnswer: %v", err)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobDone {
		t.Fatalf("job status = %s, want done", got.Status)
	}
	if len(chat.Sent) != 1 || chat.Sent[0].Text != "hello back" {
		t.Fatalf("expected reply sent, got %+v", chat.Sent)
	}
}

func TestReapOnce_RequeuesStaleRunningJobBelowMaxAttempts(t *testing.T) {
	model := &platform.NullModelAdapter{}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "hi")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeExecute, Status: models.JobQueued}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	claimed, err := st.ClaimNextJob(context.Background(), "w1")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob: %v, %v", claimed, err)
	}

	p.reapOnce(context.Background(), -time.Second) // everything running looks stale

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobQueued {
		t.Fatalf("job status = %s, want queued after reap", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
}

func TestSafeDispatch_RecoversPanicAsError(t *testing.T) {
	model := &platform.NullModelAdapter{}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "hi")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: "bogus-mode-that-panics", Status: models.JobRunning}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// dispatch's unknown-mode branch is the only reachable path for a job
	// with a bogus Mode; panicking there proves safeDispatch's recover
	// catches a panic raised from inside dispatch rather than from dispatch
	// itself.
	p.jobs = &panicOnceUpdateJobStatus{JobStore: p.jobs}
	defer func() { p.jobs = st }()

	err := p.safeDispatch(context.Background(), job)
	if err == nil {
		t.Fatal("safeDispatch: expected recovered panic to surface as an error, got nil")
	}
}

func TestPollOnce_PanicInDispatchFailsJobAndSurvivesLoop(t *testing.T) {
	model := &platform.NullModelAdapter{}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "hi")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: "bogus-mode-that-panics", Status: models.JobQueued}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	p.jobs = &panicOnceUpdateJobStatus{JobStore: st}
	p.pollOnce(context.Background(), "w1") // must not panic the test goroutine
	p.jobs = st

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobFailed {
		t.Fatalf("job status = %s, want failed after recovered panic", got.Status)
	}
}

// panicOnceUpdateJobStatus wraps a JobStore and panics on its first
// UpdateJobStatus call (the one dispatch's unknown-mode branch reaches),
// then delegates normally, so a test can both exercise safeDispatch's
// recover and observe the real status update pollOnce makes afterward.
type panicOnceUpdateJobStatus struct {
	store.JobStore
	panicked bool
}

func (p *panicOnceUpdateJobStatus) UpdateJobStatus(ctx context.Context, id string, fromStatus, toStatus models.JobStatus, result map[string]any, errMsg string) error {
	if !p.panicked {
		p.panicked = true
		panic("boom")
	}
	return p.JobStore.UpdateJobStatus(ctx, id, fromStatus, toStatus, result, errMsg)
}

func TestRecentContext_InlinesDoneArtifactsOntoTheirMessage(t *testing.T) {
	model := &platform.NullModelAdapter{ClassifyResult: platform.ClassifyResult{Intent: "chat"}}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "look at this")

	done := &models.Artifact{ID: "art-done", MessageID: msg.ID, Kind: models.ArtifactImageStruct, Status: models.ArtifactDone}
	pending := &models.Artifact{ID: "art-pending", MessageID: msg.ID, Kind: models.ArtifactImageStruct, Status: models.ArtifactPending}
	if err := st.CreateArtifact(context.Background(), done); err != nil {
		t.Fatalf("CreateArtifact done: %v", err)
	}
	if err := st.CreateArtifact(context.Background(), pending); err != nil {
		t.Fatalf("CreateArtifact pending: %v", err)
	}

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeClassify, Status: models.JobRunning}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := p.runClassify(context.Background(), job); err != nil {
		t.Fatalf("runClassify: %v", err)
	}

	history := model.LastClassifyRequest.Messages
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if len(history[0].Artifacts) != 1 || history[0].Artifacts[0].ID != "art-done" {
		t.Fatalf("message artifacts = %+v, want only the done artifact", history[0].Artifacts)
	}
}

func TestReapOnce_FailsJobAfterMaxAttempts(t *testing.T) {
	model := &platform.NullModelAdapter{}
	p, st, _ := newTestPool(t, model)
	thread, msg := seedThreadAndMessage(t, st, "hi")

	job := &models.ReactiveJob{ID: "job-1", ThreadID: thread.ID, TriggerMessageID: msg.ID, Mode: models.JobModeExecute, Status: models.JobQueued, Attempts: 2}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.ClaimNextJob(context.Background(), "w1"); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	p.reapOnce(context.Background(), -time.Second)

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
}
