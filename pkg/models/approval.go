package models

import "time"

// ApprovalStatus is the lifecycle state of an Approval handshake.
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
	ApprovalSuperseded ApprovalStatus = "superseded"
	ApprovalExpired    ApprovalStatus = "expired"
)

// IsTerminal reports whether the status is final.
func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending
}

// Approval is a confirmation handshake carrying a single actionable control.
// It has a 1:1 relationship to the ReactiveJob that requested it.
type Approval struct {
	ID               string         `json:"id"`
	ThreadID         string         `json:"thread_id"`
	JobID            string         `json:"job_id"`
	ProposalText     string         `json:"proposal_text"`
	ControlMessageID string         `json:"control_message_id,omitempty"`
	Status           ApprovalStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ResolverID       string         `json:"resolver_id,omitempty"`
}

// ToolApprovalStatus is the lifecycle state of a ToolApproval.
type ToolApprovalStatus string

const (
	ToolApprovalPending  ToolApprovalStatus = "pending"
	ToolApprovalApproved ToolApprovalStatus = "approved"
	ToolApprovalRejected ToolApprovalStatus = "rejected"
	ToolApprovalExpired  ToolApprovalStatus = "expired"
)

// ToolApproval gates a risky tool-use request raised by the Proactive
// Scheduler's tool-use loop. Structurally identical to Approval but keyed by
// request id rather than job id (spec §3).
type ToolApproval struct {
	ID        string             `json:"id"`
	ToolName  string             `json:"tool_name"`
	Input     map[string]any     `json:"input,omitempty"`
	Reasoning string             `json:"reasoning,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
	Status    ToolApprovalStatus `json:"status"`
	Response  string             `json:"response,omitempty"`
}
