// Package models defines the shared entity types persisted by the Store and
// passed between components of the orchestration core.
package models

import "time"

// Thread identifies a conversation scope. The natural key is
// (Platform, ExternalChatID); the core never deletes a thread.
type Thread struct {
	ID              string         `json:"id"`
	Platform        string         `json:"platform"`
	ExternalChatID  string         `json:"external_chat_id"`
	ChatType        string         `json:"chat_type"`
	Title           string         `json:"title,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
