package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWithSectionLockCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, 3*time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '3000ms'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT cs.id AS section_id").
		WithArgs("sec-1", models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"section_id", "capacity", "waitlist_capacity", "enrolled", "waitlisted"}).
			AddRow("sec-1", 2, 1, 1, 0))
	mock.ExpectCommit()

	err := repo.WithSectionLock(context.Background(), "sec-1", func(txn SectionTxn) error {
		load, err := txn.SectionLoad(context.Background(), "sec-1")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, load.SeatsLeft())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSectionLockRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM course_sections").
		WithArgs("sec-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	sentinel := errors.New("boom")
	err := repo.WithSectionLock(context.Background(), "sec-1", func(txn SectionTxn) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSectionLockTimeout(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM course_sections").
		WithArgs("sec-1").
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	err := repo.WithSectionLock(context.Background(), "sec-1", func(txn SectionTxn) error {
		t.Fatal("fn must not run when the lock is not acquired")
		return nil
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrLockTimeout.Code, appErr.Code)
	assert.True(t, appErrors.Retryable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSectionLockUnknownSection(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM course_sections").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err := repo.WithSectionLock(context.Background(), "missing", func(txn SectionTxn) error { return nil })
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db, time.Second)

	rows := sqlmock.NewRows([]string{"id", "student_id", "section_id", "status", "requested_at", "approved_at", "dropped_at"}).
		AddRow("enr-1", "stu-1", "sec-1", models.EnrollmentStatusEnrolled, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, section_id, status, requested_at, approved_at, dropped_at")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassifyPgError(t *testing.T) {
	dup := classifyPgError(&pq.Error{Code: "23505"})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(dup).Code)
	assert.True(t, IsDuplicate(dup))

	serialization := classifyPgError(&pq.Error{Code: "40001"})
	assert.True(t, appErrors.Retryable(serialization))

	integrity := classifyPgError(&pq.Error{Code: "23514"})
	assert.Equal(t, appErrors.ErrIntegrity.Code, appErrors.FromError(integrity).Code)

	plain := errors.New("plain")
	assert.Equal(t, plain, classifyPgError(plain))
}
