package models

import "time"

// AgentMemory is a long-term key/value note the proactive loop writes.
// Keys are unique; writing an existing key updates it in place.
type AgentMemory struct {
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Category  string         `json:"category,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
