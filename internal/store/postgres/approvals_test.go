package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/conductorhq/core/internal/store"
	"github.com/conductorhq/core/pkg/models"
)

func approvalColumns() []string {
	return []string{
		"id", "thread_id", "job_id", "proposal_text", "control_message_id", "status",
		"created_at", "expires_at", "resolved_at", "resolver_id",
	}
}

func TestResolveApproval_AlreadyResolvedIsConflict(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery("UPDATE approvals SET status").
		WillReturnError(sql.ErrNoRows)

	_, err := s.ResolveApproval(context.Background(), "approval-1", models.ApprovalApproved)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestResolveApproval_Success(t *testing.T) {
	mock, s := setupMockStore(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE approvals SET status").
		WillReturnRows(sqlmock.NewRows(approvalColumns()).AddRow(
			"approval-1", "thread-1", "job-1", "deploy it?", nil, string(models.ApprovalApproved),
			now, now.Add(time.Hour), now, "user-1",
		))

	a, err := s.ResolveApproval(context.Background(), "approval-1", models.ApprovalApproved)
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if a.Status != models.ApprovalApproved {
		t.Errorf("status = %s, want approved", a.Status)
	}
}

func TestPendingApprovalForThread_None(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectQuery("SELECT id, thread_id, job_id").
		WillReturnError(sql.ErrNoRows)

	a, err := s.PendingApprovalForThread(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("PendingApprovalForThread: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil, got %+v", a)
	}
}
