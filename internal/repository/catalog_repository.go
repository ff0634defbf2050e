package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// CatalogRepository reads the course catalog and owns the section
// write path. Catalog entities are immutable from the enrollment
// engine's perspective.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const sectionDetailColumns = `cs.id, cs.course_id, cs.term_id, cs.instructor_id, cs.section_code,
        cs.capacity, cs.waitlist_capacity, cs.status, cs.grades_locked, cs.location, cs.created_at,
        c.code AS course_code, c.name AS course_name, c.credits, t.code AS term_code`

// FindSectionDetail returns a section with course/term context and its
// ordered meeting times.
func (r *CatalogRepository) FindSectionDetail(ctx context.Context, id string) (*models.SectionDetail, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM course_sections cs
        JOIN courses c ON c.id = cs.course_id
        JOIN terms t ON t.id = cs.term_id
        WHERE cs.id = $1`, sectionDetailColumns)
	var detail models.SectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	meetings, err := r.MeetingsBySection(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Meetings = meetings
	return &detail, nil
}

// MeetingsBySection returns a section's meetings ordered by weekday and start.
func (r *CatalogRepository) MeetingsBySection(ctx context.Context, sectionID string) ([]models.MeetingTime, error) {
	const query = `SELECT id, section_id, day_of_week, start_min, end_min, room
        FROM meeting_times WHERE section_id = $1 ORDER BY day_of_week, start_min`
	var meetings []models.MeetingTime
	if err := r.db.SelectContext(ctx, &meetings, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section meetings: %w", err)
	}
	return meetings, nil
}

// ListSections returns sections filtered by the provided criteria.
func (r *CatalogRepository) ListSections(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	base := `FROM course_sections cs
JOIN courses c ON c.id = cs.course_id
JOIN terms t ON t.id = cs.term_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("cs.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"course_code":  "c.code",
		"section_code": "cs.section_code",
		"created_at":   "cs.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s, cs.section_code ASC LIMIT %d OFFSET %d`,
		sectionDetailColumns, base+clause, orderBy, order, size, offset)

	var sections []models.SectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// Prerequisites returns the prerequisite rows of a course with the
// prerequisite course codes resolved.
func (r *CatalogRepository) Prerequisites(ctx context.Context, courseID string) ([]models.CoursePrerequisite, error) {
	const query = `SELECT cp.course_id, cp.prerequisite_id, cp.min_grade, cp.all_of, c.code AS prereq_code
        FROM course_prerequisites cp
        JOIN courses c ON c.id = cp.prerequisite_id
        WHERE cp.course_id = $1
        ORDER BY c.code`
	var prereqs []models.CoursePrerequisite
	if err := r.db.SelectContext(ctx, &prereqs, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return prereqs, nil
}

// InstructorMeetings returns all meetings of an instructor's sections
// in a term, excluding one section if excludeSectionID is set.
func (r *CatalogRepository) InstructorMeetings(ctx context.Context, instructorID, termID, excludeSectionID string) ([]models.MeetingTime, error) {
	query := `SELECT m.id, m.section_id, m.day_of_week, m.start_min, m.end_min, m.room
        FROM meeting_times m
        JOIN course_sections cs ON cs.id = m.section_id
        WHERE cs.instructor_id = $1 AND cs.term_id = $2 AND cs.status <> $3`
	args := []interface{}{instructorID, termID, models.SectionStatusCancelled}
	if excludeSectionID != "" {
		query += fmt.Sprintf(" AND cs.id <> $%d", len(args)+1)
		args = append(args, excludeSectionID)
	}
	var meetings []models.MeetingTime
	if err := r.db.SelectContext(ctx, &meetings, query, args...); err != nil {
		return nil, fmt.Errorf("list instructor meetings: %w", err)
	}
	return meetings, nil
}

// CreateSection persists a section and its meetings atomically.
func (r *CatalogRepository) CreateSection(ctx context.Context, section *models.CourseSection, meetings []models.MeetingTime) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	if section.Status == "" {
		section.Status = models.SectionStatusOpen
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create section: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const sectionQuery = `INSERT INTO course_sections
        (id, course_id, term_id, instructor_id, section_code, capacity, waitlist_capacity, status, grades_locked, location, created_at)
        VALUES (:id, :course_id, :term_id, :instructor_id, :section_code, :capacity, :waitlist_capacity, :status, :grades_locked, :location, :created_at)`
	if _, err := tx.NamedExecContext(ctx, sectionQuery, section); err != nil {
		return classifyPgError(fmt.Errorf("create section: %w", err))
	}

	const meetingQuery = `INSERT INTO meeting_times (id, section_id, day_of_week, start_min, end_min, room)
        VALUES (:id, :section_id, :day_of_week, :start_min, :end_min, :room)`
	for i := range meetings {
		meetings[i].SectionID = section.ID
		if meetings[i].ID == "" {
			meetings[i].ID = uuid.NewString()
		}
		if _, err := tx.NamedExecContext(ctx, meetingQuery, meetings[i]); err != nil {
			return classifyPgError(fmt.Errorf("create meeting: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyPgError(fmt.Errorf("commit create section: %w", err))
	}
	return nil
}

// SetGradesLock toggles the grading lock on a section.
func (r *CatalogRepository) SetGradesLock(ctx context.Context, sectionID string, locked bool) error {
	const query = `UPDATE course_sections SET grades_locked = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, sectionID, locked)
	if err != nil {
		return fmt.Errorf("set grades lock: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set grades lock: section %s not found", sectionID)
	}
	return nil
}

// FindCourse returns a catalog course by ID.
func (r *CatalogRepository) FindCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, department_id, code, name, credits, type, active FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindTerm returns a term by ID.
func (r *CatalogRepository) FindTerm(ctx context.Context, id string) (*models.Term, error) {
	const query = `SELECT id, code, name, start_date, end_date FROM terms WHERE id = $1`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}
