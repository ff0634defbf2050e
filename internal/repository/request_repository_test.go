package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

func TestRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	sectionID := "sec-1"
	request := &models.StudentRequest{
		StudentID: "stu-1",
		SectionID: &sectionID,
		Type:      models.RequestTypeCapacity,
		Reason:    "graduating senior, last offering this year",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO student_requests").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO approval_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), request)
	require.NoError(t, err)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.False(t, request.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideApprovedWithOverride(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	sectionID := "sec-1"
	requestID := "req-1"
	override := &models.Override{
		StudentID:  "stu-1",
		SectionID:  &sectionID,
		Type:       models.OverrideTypeCapacity,
		RequestID:  &requestID,
		ApprovedBy: "registrar-1",
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE student_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO overrides").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Decide(context.Background(), "req-1", models.RequestStatusApproved, "registrar-1", "ok", override)
	require.NoError(t, err)
	assert.NotEmpty(t, override.ID)
	assert.False(t, override.ApprovedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideRejectedSkipsOverride(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE student_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Decide(context.Background(), "req-1", models.RequestStatusRejected, "registrar-1", "no", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDecideAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE student_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Decide(context.Background(), "req-1", models.RequestStatusApproved, "registrar-1", "", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery("SELECT .+ FROM student_requests WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRequestRepositoryLogs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "request_id", "action", "actor_id", "note", "created_at"}).
		AddRow("log-1", "req-1", models.ApprovalActionSubmitted, "stu-1", "please", now.Add(-time.Hour)).
		AddRow("log-2", "req-1", models.ApprovalActionApproved, "registrar-1", "ok", now)
	mock.ExpectQuery("SELECT id, request_id, action, actor_id, note, created_at").
		WithArgs("req-1").
		WillReturnRows(rows)

	logs, err := repo.Logs(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ApprovalActionSubmitted, logs[0].Action)
	assert.Equal(t, models.ApprovalActionApproved, logs[1].Action)
}
