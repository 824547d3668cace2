package models

import "time"

// JobMode selects which dispatch arm of the Reactive Worker Pool runs a job.
type JobMode string

const (
	JobModeClassify JobMode = "classify"
	JobModeExecute  JobMode = "execute"
	JobModeAnswer   JobMode = "answer"
)

// JobStatus is the lifecycle state of a ReactiveJob.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobRunning          JobStatus = "running"
	JobAwaitingApproval JobStatus = "awaiting_approval"
	JobDone             JobStatus = "done"
	JobFailed           JobStatus = "failed"
	JobCanceled         JobStatus = "canceled"
	JobSuperseded       JobStatus = "superseded"
)

// IsTerminal reports whether the status never transitions further.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobDone, JobFailed, JobCanceled, JobSuperseded:
		return true
	default:
		return false
	}
}

// Classification is the classifier's verdict on a trigger message, persisted
// on the ReactiveJob that requested it.
type Classification struct {
	Intent           string  `json:"intent"` // question | command | chat | other
	Summary          string  `json:"summary,omitempty"`
	Plan             string  `json:"plan,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
	Confidence       float64 `json:"confidence"`
}

// ReactiveJob is a unit of scheduled work attached to a trigger message.
type ReactiveJob struct {
	ID              string          `json:"id"`
	ThreadID        string          `json:"thread_id"`
	TriggerMessageID string         `json:"trigger_message_id"`
	Mode            JobMode         `json:"mode"`
	Status          JobStatus       `json:"status"`
	Payload         map[string]any  `json:"payload,omitempty"`
	Classification  *Classification `json:"classification,omitempty"`
	ApprovalID      string          `json:"approval_id,omitempty"`
	Result          map[string]any  `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts"`
	Confirmed       bool            `json:"confirmed,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}
