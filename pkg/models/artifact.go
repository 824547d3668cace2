package models

import "time"

// ArtifactKind enumerates the derived-data kinds a media message can produce.
type ArtifactKind string

const (
	ArtifactVoiceTranscript ArtifactKind = "voice_transcript"
	ArtifactImageStruct     ArtifactKind = "image_struct"
	ArtifactOCRText         ArtifactKind = "ocr_text"
	ArtifactFileMeta        ArtifactKind = "file_meta"
	ArtifactToolResult      ArtifactKind = "tool_result"
)

// ArtifactStatus tracks processing progress of an Artifact. Transitions are
// monotonic except failed->pending on retry (spec §3).
type ArtifactStatus string

const (
	ArtifactPending    ArtifactStatus = "pending"
	ArtifactProcessing ArtifactStatus = "processing"
	ArtifactDone       ArtifactStatus = "done"
	ArtifactFailed     ArtifactStatus = "failed"
)

// DefaultMaxArtifactAttempts is the default attempt ceiling before an
// artifact is left failed rather than retried.
const DefaultMaxArtifactAttempts = 3

// Artifact is derived data for a Message (transcript, structured image
// description, OCR text, file metadata, or a tool result).
type Artifact struct {
	ID           string         `json:"id"`
	MessageID    string         `json:"message_id"`
	Kind         ArtifactKind   `json:"kind"`
	Content      map[string]any `json:"content,omitempty"`
	URI          string         `json:"uri,omitempty"`
	Status       ArtifactStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CanRetry reports whether the artifact may be moved back to pending after a
// failure, per the attempt_count <= max_attempts invariant.
func (a *Artifact) CanRetry(maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxArtifactAttempts
	}
	return a.Status == ArtifactFailed && a.AttemptCount < maxAttempts
}
