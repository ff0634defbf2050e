package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

// GradedSection is the section metadata the grading engine checks
// before recording a grade.
type GradedSection struct {
	ID           string               `db:"id"`
	TermID       string               `db:"term_id"`
	CourseID     string               `db:"course_id"`
	Credits      float64              `db:"credits"`
	Status       models.SectionStatus `db:"status"`
	GradesLocked bool                 `db:"grades_locked"`
}

// GradeTxn is the transactional view the grading engine works through
// while the enrollment row is locked.
type GradeTxn interface {
	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	FindSection(ctx context.Context, sectionID string) (*GradedSection, error)
	FindGrade(ctx context.Context, enrollmentID string) (*models.Grade, error)
	InsertGrade(ctx context.Context, grade *models.Grade) error
	UpdateGrade(ctx context.Context, grade *models.Grade) error
	CompleteEnrollment(ctx context.Context, enrollmentID string, status models.EnrollmentStatus) error
}

// GradeRepository handles grade persistence and the read models built
// on top of graded enrollments.
type GradeRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB, lockTimeout time.Duration) *GradeRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &GradeRepository{db: db, lockTimeout: lockTimeout}
}

// WithEnrollmentLock opens a transaction, locks the enrollment row and
// runs fn against the transactional view before committing.
func (r *GradeRepository) WithEnrollmentLock(ctx context.Context, enrollmentID string, fn func(GradeTxn) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grading scope: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	var locked int
	if err := tx.GetContext(ctx, &locked, "SELECT 1 FROM enrollments WHERE id = $1 FOR UPDATE", enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return classifyPgError(fmt.Errorf("lock enrollment: %w", err))
	}

	if err := fn(&gradeTxn{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyPgError(fmt.Errorf("commit grading scope: %w", err))
	}
	return nil
}

type gradeTxn struct {
	tx *sqlx.Tx
}

func (t *gradeTxn) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, requested_at, approved_at, dropped_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

func (t *gradeTxn) FindSection(ctx context.Context, sectionID string) (*GradedSection, error) {
	const query = `SELECT cs.id, cs.term_id, cs.course_id, c.credits, cs.status, cs.grades_locked
        FROM course_sections cs
        JOIN courses c ON c.id = cs.course_id
        WHERE cs.id = $1`
	var section GradedSection
	if err := t.tx.GetContext(ctx, &section, query, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, fmt.Errorf("find graded section: %w", err)
	}
	return &section, nil
}

func (t *gradeTxn) FindGrade(ctx context.Context, enrollmentID string) (*models.Grade, error) {
	const query = `SELECT id, enrollment_id, numeric_score, letter_grade, grade_points, final, recorded_by, recorded_at
        FROM grades WHERE enrollment_id = $1`
	var grade models.Grade
	if err := t.tx.GetContext(ctx, &grade, query, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// InsertGrade persists a new grade. The unique index on enrollment_id
// backstops concurrent double-recording.
func (t *gradeTxn) InsertGrade(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	if grade.RecordedAt.IsZero() {
		grade.RecordedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grades (id, enrollment_id, numeric_score, letter_grade, grade_points, final, recorded_by, recorded_at)
        VALUES (:id, :enrollment_id, :numeric_score, :letter_grade, :grade_points, :final, :recorded_by, :recorded_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, grade); err != nil {
		return classifyPgError(fmt.Errorf("create grade: %w", err))
	}
	return nil
}

func (t *gradeTxn) UpdateGrade(ctx context.Context, grade *models.Grade) error {
	grade.RecordedAt = time.Now().UTC()
	const query = `UPDATE grades
        SET numeric_score = :numeric_score, letter_grade = :letter_grade, grade_points = :grade_points,
            final = :final, recorded_by = :recorded_by, recorded_at = :recorded_at
        WHERE enrollment_id = :enrollment_id`
	if _, err := t.tx.NamedExecContext(ctx, query, grade); err != nil {
		return classifyPgError(fmt.Errorf("update grade: %w", err))
	}
	return nil
}

func (t *gradeTxn) CompleteEnrollment(ctx context.Context, enrollmentID string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, enrollmentID, status); err != nil {
		return classifyPgError(fmt.Errorf("complete enrollment: %w", err))
	}
	return nil
}

// GPARows returns the graded completed enrollments feeding a student's
// GPA computation.
func (r *GradeRepository) GPARows(ctx context.Context, studentID string) ([]models.GPARow, error) {
	const query = `SELECT c.credits, g.grade_points
        FROM enrollments e
        JOIN grades g ON g.enrollment_id = e.id
        JOIN course_sections cs ON cs.id = e.section_id
        JOIN courses c ON c.id = cs.course_id
        WHERE e.student_id = $1 AND e.status IN ($2, $3)`
	var rows []models.GPARow
	if err := r.db.SelectContext(ctx, &rows, query, studentID,
		models.EnrollmentStatusCompletedPassed, models.EnrollmentStatusCompletedFailed); err != nil {
		return nil, fmt.Errorf("load gpa rows: %w", err)
	}
	return rows, nil
}

// PassRate returns graded and passed counts for a section.
func (r *GradeRepository) PassRate(ctx context.Context, sectionID string) (*models.SectionPassRate, error) {
	const query = `SELECT
        COALESCE(SUM(CASE WHEN e.status = $2 THEN 1 ELSE 0 END), 0) AS passed,
        COUNT(g.id) AS graded
        FROM enrollments e
        JOIN grades g ON g.enrollment_id = e.id
        WHERE e.section_id = $1 AND e.status IN ($2, $3)`
	rate := models.SectionPassRate{SectionID: sectionID}
	if err := r.db.GetContext(ctx, &rate, query, sectionID,
		models.EnrollmentStatusCompletedPassed, models.EnrollmentStatusCompletedFailed); err != nil {
		return nil, fmt.Errorf("load pass rate: %w", err)
	}
	return &rate, nil
}

// Distribution returns the half-point grade-point histogram of a term.
func (r *GradeRepository) Distribution(ctx context.Context, termID string) ([]models.GradeBucket, error) {
	const query = `SELECT FLOOR(g.grade_points * 2) / 2 AS bucket_floor, COUNT(*) AS count
        FROM enrollments e
        JOIN grades g ON g.enrollment_id = e.id
        JOIN course_sections cs ON cs.id = e.section_id
        WHERE cs.term_id = $1 AND e.status IN ($2, $3)
        GROUP BY bucket_floor
        ORDER BY bucket_floor`
	var buckets []models.GradeBucket
	if err := r.db.SelectContext(ctx, &buckets, query, termID,
		models.EnrollmentStatusCompletedPassed, models.EnrollmentStatusCompletedFailed); err != nil {
		return nil, fmt.Errorf("load grade distribution: %w", err)
	}
	return buckets, nil
}

// TranscriptRows returns all non-dropped enrollments of a student with
// any recorded grade, ordered by term then course code.
func (r *GradeRepository) TranscriptRows(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	const query = `SELECT t.code AS term_code, c.code AS course_code, c.name AS course_name,
        c.credits, e.status, g.letter_grade, g.grade_points
        FROM enrollments e
        JOIN course_sections cs ON cs.id = e.section_id
        JOIN courses c ON c.id = cs.course_id
        JOIN terms t ON t.id = cs.term_id
        LEFT JOIN grades g ON g.enrollment_id = e.id
        WHERE e.student_id = $1 AND e.status <> $2
        ORDER BY t.code, c.code`
	var rows []models.TranscriptRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, models.EnrollmentStatusDropped); err != nil {
		return nil, fmt.Errorf("load transcript rows: %w", err)
	}
	return rows, nil
}
