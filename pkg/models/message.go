package models

import "time"

// Role indicates the author type of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a Thread. Once inserted it is immutable except for
// the optional EditedAt marker (see Invariant in spec §3).
type Message struct {
	ID                string         `json:"id"`
	ThreadID          string         `json:"thread_id"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	Role              Role           `json:"role"`
	AuthorID          string         `json:"author_id,omitempty"`
	Text              string         `json:"text,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	EditedAt          *time.Time     `json:"edited_at,omitempty"`
	RawPayload        []byte         `json:"raw_payload,omitempty"`
	// Artifacts holds this message's done attachments when hydrated for a
	// model context window (spec §4.3); it is not itself a persisted column.
	Artifacts []*Artifact `json:"artifacts,omitempty"`
}

// IsSystemOrAssistant reports whether the message was authored by the core
// itself rather than a human participant.
func (m *Message) IsSystemOrAssistant() bool {
	return m.Role == RoleAssistant || m.Role == RoleSystem
}
