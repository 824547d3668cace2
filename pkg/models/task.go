package models

import "time"

// TaskSource distinguishes operator-originated work from work the proactive
// loop invented for itself. Master-sourced tasks are strictly prioritized
// over self-sourced tasks regardless of priority level (spec §4.6).
type TaskSource string

const (
	TaskSourceMaster TaskSource = "master"
	TaskSourceSelf   TaskSource = "self"
)

// TaskKind distinguishes a top-level Goal from an ordinary Task. A Goal is
// stored in the same table as a Task with Kind == TaskKindGoal rather than
// as a parallel entity, matching the one-polymorphic-table convention this
// repo inherits from its teacher's tool_jobs table.
type TaskKind string

const (
	TaskKindTask TaskKind = "task"
	TaskKindGoal TaskKind = "goal"
)

// TaskStatus is the lifecycle state of a backlog item.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskCanceled  TaskStatus = "canceled"
)

// Task is a priority-ordered backlog item, optionally a child of another
// Task (ParentID) and optionally linked to a Goal (GoalID).
type Task struct {
	ID          string         `json:"id"`
	Kind        TaskKind       `json:"kind"`
	ParentID    string         `json:"parent_id,omitempty"`
	GoalID      string         `json:"goal_id,omitempty"`
	Source      TaskSource     `json:"source"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      TaskStatus     `json:"status"`
	Priority    int            `json:"priority"`
	OrderIndex  int            `json:"order_index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Less implements the strict backlog ordering of spec §4.6: master source
// first, then priority (higher first), then creation order (older first).
func (t *Task) Less(other *Task) bool {
	if (t.Source == TaskSourceMaster) != (other.Source == TaskSourceMaster) {
		return t.Source == TaskSourceMaster
	}
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.CreatedAt.Before(other.CreatedAt)
}
