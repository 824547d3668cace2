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

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return mock, NewFromDB(db)
}

func jobColumns() []string {
	return []string{
		"id", "thread_id", "trigger_message_id", "mode", "status", "payload", "classification",
		"approval_id", "result", "error_message", "attempts", "confirmed", "created_at", "started_at", "finished_at",
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM reactive_jobs").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	job, err := s.ClaimNextJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestClaimNextJob_ClaimsOldest(t *testing.T) {
	mock, s := setupMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM reactive_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectQuery("UPDATE reactive_jobs SET status").
		WillReturnRows(sqlmock.NewRows(jobColumns()).AddRow(
			"job-1", "thread-1", "msg-1", string(models.JobModeClassify), string(models.JobRunning),
			[]byte("{}"), nil, nil, nil, nil, 0, false, now, now, nil,
		))
	mock.ExpectCommit()

	job, err := s.ClaimNextJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("expected job-1, got %+v", job)
	}
	if job.Status != models.JobRunning {
		t.Errorf("status = %s, want running", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateJobStatus_ConflictWhenRowUnchanged(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectExec("UPDATE reactive_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateJobStatus(context.Background(), "job-1", models.JobRunning, models.JobDone, nil, "")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateJobStatus_Success(t *testing.T) {
	mock, s := setupMockStore(t)

	mock.ExpectExec("UPDATE reactive_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateJobStatus(context.Background(), "job-1", models.JobRunning, models.JobDone, map[string]any{"ok": true}, "")
	if err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
}
