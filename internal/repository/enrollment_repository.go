package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

// SectionTxn is the transactional view handed to the enrollment engine
// while the section row is locked. Every read reflects the same
// snapshot the commit will be based on.
type SectionTxn interface {
	Snapshot(ctx context.Context, studentID, sectionID string) (*models.EnrollmentSnapshot, error)
	SectionLoad(ctx context.Context, sectionID string) (*models.SectionLoad, error)
	FindLive(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, approvedAt, droppedAt *time.Time) error
	Waitlist(ctx context.Context, sectionID string) ([]models.Enrollment, error)
}

// EnrollmentRepository handles persistence of enrollments, including
// the row-locked transactional scope the engine commits through.
type EnrollmentRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB, lockTimeout time.Duration) *EnrollmentRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &EnrollmentRepository{db: db, lockTimeout: lockTimeout}
}

// WithSectionLock opens a transaction, acquires the section row lock
// with a bounded wait, runs fn against the transactional view, and
// commits. Any error rolls the whole scope back; a lock wait past the
// configured timeout surfaces as a retryable LOCK_TIMEOUT.
func (r *EnrollmentRepository) WithSectionLock(ctx context.Context, sectionID string, fn func(SectionTxn) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin section scope: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	var locked int
	if err := tx.GetContext(ctx, &locked, "SELECT 1 FROM course_sections WHERE id = $1 FOR UPDATE", sectionID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return classifyPgError(fmt.Errorf("lock section: %w", err))
	}

	if err := fn(&sectionTxn{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyPgError(fmt.Errorf("commit section scope: %w", err))
	}
	return nil
}

// sectionTxn implements SectionTxn on top of an open transaction.
type sectionTxn struct {
	tx *sqlx.Tx
}

// Snapshot loads everything the rule validators consume for one
// (student, section) request inside the current transaction.
func (t *sectionTxn) Snapshot(ctx context.Context, studentID, sectionID string) (*models.EnrollmentSnapshot, error) {
	snap := &models.EnrollmentSnapshot{}

	const studentQuery = `SELECT id, student_no, full_name, email, college_id, major_id, enrolled_year, active, created_at
        FROM students WHERE id = $1`
	if err := t.tx.GetContext(ctx, &snap.Student, studentQuery, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	const sectionQuery = `SELECT cs.id, cs.course_id, cs.term_id, cs.instructor_id, cs.section_code,
        cs.capacity, cs.waitlist_capacity, cs.status, cs.grades_locked, cs.location, cs.created_at,
        c.code AS course_code, c.name AS course_name, c.credits, t.code AS term_code
        FROM course_sections cs
        JOIN courses c ON c.id = cs.course_id
        JOIN terms t ON t.id = cs.term_id
        WHERE cs.id = $1`
	if err := t.tx.GetContext(ctx, &snap.Section, sectionQuery, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, fmt.Errorf("load section: %w", err)
	}

	const meetingsQuery = `SELECT id, section_id, day_of_week, start_min, end_min, room
        FROM meeting_times WHERE section_id = $1 ORDER BY day_of_week, start_min`
	if err := t.tx.SelectContext(ctx, &snap.Section.Meetings, meetingsQuery, sectionID); err != nil {
		return nil, fmt.Errorf("load section meetings: %w", err)
	}

	const prereqQuery = `SELECT cp.course_id, cp.prerequisite_id, cp.min_grade, cp.all_of, c.code AS prereq_code
        FROM course_prerequisites cp
        JOIN courses c ON c.id = cp.prerequisite_id
        WHERE cp.course_id = $1`
	if err := t.tx.SelectContext(ctx, &snap.Prereqs, prereqQuery, snap.Section.CourseID); err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}

	const historyQuery = `SELECT cs.course_id, c.code AS course_code, e.status, g.grade_points
        FROM enrollments e
        JOIN course_sections cs ON cs.id = e.section_id
        JOIN courses c ON c.id = cs.course_id
        LEFT JOIN grades g ON g.enrollment_id = e.id
        WHERE e.student_id = $1 AND e.status IN ($2, $3)`
	if err := t.tx.SelectContext(ctx, &snap.History, historyQuery,
		studentID, models.EnrollmentStatusCompletedPassed, models.EnrollmentStatusCompletedFailed); err != nil {
		return nil, fmt.Errorf("load course history: %w", err)
	}

	const plannedQuery = `SELECT e.section_id, cs.course_id, c.credits, e.status
        FROM enrollments e
        JOIN course_sections cs ON cs.id = e.section_id
        JOIN courses c ON c.id = cs.course_id
        WHERE e.student_id = $1 AND cs.term_id = $2 AND e.section_id <> $3
          AND e.status IN ($4, $5, $6, $7)`
	if err := t.tx.SelectContext(ctx, &snap.Planned, plannedQuery,
		studentID, snap.Section.TermID, sectionID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted,
		models.EnrollmentStatusCompletedPassed, models.EnrollmentStatusCompletedFailed); err != nil {
		return nil, fmt.Errorf("load planned sections: %w", err)
	}

	if len(snap.Planned) > 0 {
		ids := make([]string, len(snap.Planned))
		for i, p := range snap.Planned {
			ids[i] = p.SectionID
		}
		query, args, err := sqlx.In(`SELECT id, section_id, day_of_week, start_min, end_min, room
            FROM meeting_times WHERE section_id IN (?)`, ids)
		if err != nil {
			return nil, fmt.Errorf("build planned meetings query: %w", err)
		}
		var meetings []models.MeetingTime
		if err := t.tx.SelectContext(ctx, &meetings, t.tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("load planned meetings: %w", err)
		}
		bySection := make(map[string][]models.MeetingTime, len(ids))
		for _, m := range meetings {
			bySection[m.SectionID] = append(bySection[m.SectionID], m)
		}
		for i := range snap.Planned {
			snap.Planned[i].Meetings = bySection[snap.Planned[i].SectionID]
		}
	}

	const overridesQuery = `SELECT id, student_id, section_id, term_id, type, request_id, approved_by, approved_at, reason
        FROM overrides
        WHERE student_id = $1 AND (section_id = $2 OR term_id = $3)`
	if err := t.tx.SelectContext(ctx, &snap.Overrides, overridesQuery, studentID, sectionID, snap.Section.TermID); err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	return snap, nil
}

// SectionLoad returns the section's live counters.
func (t *sectionTxn) SectionLoad(ctx context.Context, sectionID string) (*models.SectionLoad, error) {
	const query = `SELECT cs.id AS section_id, cs.capacity, cs.waitlist_capacity,
        COALESCE(SUM(CASE WHEN e.status = $2 THEN 1 ELSE 0 END), 0) AS enrolled,
        COALESCE(SUM(CASE WHEN e.status = $3 THEN 1 ELSE 0 END), 0) AS waitlisted
        FROM course_sections cs
        LEFT JOIN enrollments e ON e.section_id = cs.id
        WHERE cs.id = $1
        GROUP BY cs.id`
	var load models.SectionLoad
	if err := t.tx.GetContext(ctx, &load, query, sectionID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("load section counters: %w", err)
	}
	return &load, nil
}

// FindLive returns the student's live enrollment in the section, if any.
func (t *sectionTxn) FindLive(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, requested_at, approved_at, dropped_at
        FROM enrollments
        WHERE student_id = $1 AND section_id = $2 AND status <> $3
        LIMIT 1`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, studentID, sectionID, models.EnrollmentStatusDropped); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find live enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindEnrollment returns an enrollment by ID within the transaction.
func (t *sectionTxn) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
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

// InsertEnrollment persists a new enrollment. The partial unique index
// on live (student_id, section_id) backstops concurrent duplicates.
func (t *sectionTxn) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.RequestedAt.IsZero() {
		enrollment.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, section_id, status, requested_at, approved_at, dropped_at)
        VALUES (:id, :student_id, :section_id, :status, :requested_at, :approved_at, :dropped_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return classifyPgError(fmt.Errorf("create enrollment: %w", err))
	}
	return nil
}

// UpdateEnrollmentStatus updates status and lifecycle timestamps.
func (t *sectionTxn) UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, approvedAt, droppedAt *time.Time) error {
	const query = `UPDATE enrollments
        SET status = $2,
            approved_at = COALESCE($3, approved_at),
            dropped_at = COALESCE($4, dropped_at)
        WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, id, status, approvedAt, droppedAt); err != nil {
		return classifyPgError(fmt.Errorf("update enrollment status: %w", err))
	}
	return nil
}

// Waitlist returns the section's waitlisted enrollments in FIFO order
// by requested_at.
func (t *sectionTxn) Waitlist(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, requested_at, approved_at, dropped_at
        FROM enrollments
        WHERE section_id = $1 AND status = $2
        ORDER BY requested_at ASC, id ASC`
	var enrollments []models.Enrollment
	if err := t.tx.SelectContext(ctx, &enrollments, query, sectionID, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return enrollments, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, status, requested_at, approved_at, dropped_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.status, e.requested_at, e.approved_at, e.dropped_at,
        s.full_name AS student_name, s.student_no, c.code AS course_code, c.name AS course_name,
        cs.section_code, t.code AS term_code
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN course_sections cs ON cs.id = e.section_id
        JOIN courses c ON c.id = cs.course_id
        JOIN terms t ON t.id = cs.term_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN students s ON s.id = e.student_id
JOIN course_sections cs ON cs.id = e.section_id
JOIN courses c ON c.id = cs.course_id
JOIN terms t ON t.id = cs.term_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"requested_at": "e.requested_at",
		"student_name": "s.full_name",
		"course_code":  "c.code",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.requested_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.section_id, e.status, e.requested_at, e.approved_at, e.dropped_at,
        s.full_name AS student_name, s.student_no, c.code AS course_code, c.name AS course_name,
        cs.section_code, t.code AS term_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
