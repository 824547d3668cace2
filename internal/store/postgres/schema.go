package postgres

import (
	"context"
	"fmt"
)

// schema is the orchestration core's full table set. The teacher repo
// embeds its own DDL as inline strings rather than pulling in a migration
// framework; this module does the same, since nothing else in the stack
// calls for one.
const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id              TEXT PRIMARY KEY,
	platform        TEXT NOT NULL,
	external_chat_id TEXT NOT NULL,
	chat_type       TEXT NOT NULL,
	title           TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	metadata        JSONB,
	UNIQUE (platform, external_chat_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	thread_id           TEXT NOT NULL REFERENCES threads(id),
	external_message_id TEXT,
	role                TEXT NOT NULL,
	author_id           TEXT,
	text                TEXT,
	edited_at           TIMESTAMPTZ,
	raw_payload         BYTEA,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS messages_thread_external_idx
	ON messages (thread_id, external_message_id) WHERE external_message_id <> '';
CREATE INDEX IF NOT EXISTS messages_thread_created_idx ON messages (thread_id, created_at);

CREATE TABLE IF NOT EXISTS artifacts (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL REFERENCES messages(id),
	kind          TEXT NOT NULL,
	content       JSONB,
	uri           TEXT,
	status        TEXT NOT NULL,
	attempt_count INT NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS artifacts_status_idx ON artifacts (status, created_at);

CREATE TABLE IF NOT EXISTS reactive_jobs (
	id                  TEXT PRIMARY KEY,
	thread_id           TEXT NOT NULL REFERENCES threads(id),
	trigger_message_id  TEXT NOT NULL,
	mode                TEXT NOT NULL,
	status              TEXT NOT NULL,
	payload             JSONB,
	classification      JSONB,
	approval_id         TEXT,
	result              JSONB,
	error_message       TEXT,
	attempts            INT NOT NULL DEFAULT 0,
	confirmed           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	finished_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS reactive_jobs_status_created_idx ON reactive_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS reactive_jobs_thread_idx ON reactive_jobs (thread_id);

CREATE TABLE IF NOT EXISTS approvals (
	id                  TEXT PRIMARY KEY,
	thread_id           TEXT NOT NULL REFERENCES threads(id),
	job_id              TEXT NOT NULL,
	proposal_text       TEXT NOT NULL,
	control_message_id  TEXT,
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	expires_at          TIMESTAMPTZ NOT NULL,
	resolved_at         TIMESTAMPTZ,
	resolver_id         TEXT
);
CREATE INDEX IF NOT EXISTS approvals_thread_status_idx ON approvals (thread_id, status);
CREATE INDEX IF NOT EXISTS approvals_status_expires_idx ON approvals (status, expires_at);

CREATE TABLE IF NOT EXISTS tool_approvals (
	id          TEXT PRIMARY KEY,
	tool_name   TEXT NOT NULL,
	input       JSONB,
	reasoning   TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	response    TEXT
);
CREATE INDEX IF NOT EXISTS tool_approvals_status_expires_idx ON tool_approvals (status, expires_at);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id            TEXT PRIMARY KEY,
	scope         TEXT NOT NULL,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	tokens_in     BIGINT NOT NULL,
	tokens_out    BIGINT NOT NULL,
	tokens_total  BIGINT NOT NULL,
	cost          DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	meta          JSONB
);
CREATE INDEX IF NOT EXISTS ledger_entries_scope_created_idx ON ledger_entries (scope, created_at);

CREATE TABLE IF NOT EXISTS deployments (
	id              TEXT PRIMARY KEY,
	commit_id       TEXT NOT NULL,
	branch          TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	report          JSONB,
	rollback_reason TEXT
);
CREATE INDEX IF NOT EXISTS deployments_branch_status_idx ON deployments (branch, status, finished_at);

CREATE TABLE IF NOT EXISTS agent_memory (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	category    TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	metadata    JSONB
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	parent_id    TEXT,
	goal_id      TEXT,
	source       TEXT NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT,
	status       TEXT NOT NULL,
	priority     INT NOT NULL DEFAULT 0,
	order_index  INT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	metadata     JSONB
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status, priority, created_at);
CREATE INDEX IF NOT EXISTS tasks_parent_idx ON tasks (parent_id);
CREATE INDEX IF NOT EXISTS tasks_goal_idx ON tasks (goal_id);
`

// Migrate applies the schema idempotently. It is safe to call on every
// process start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
