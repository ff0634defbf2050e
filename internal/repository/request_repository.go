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

// RequestRepository handles student exception requests, their audit
// trail, and the overrides approvals produce.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, student_id, section_id, term_id, type, status, reason, decided_by, decided_at, created_at`

// Create persists a new pending request together with its SUBMITTED
// audit row in one transaction.
func (r *RequestRepository) Create(ctx context.Context, request *models.StudentRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.Status = models.RequestStatusPending

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertRequest = `INSERT INTO student_requests (id, student_id, section_id, term_id, type, status, reason, created_at)
        VALUES (:id, :student_id, :section_id, :term_id, :type, :status, :reason, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertRequest, request); err != nil {
		return classifyPgError(fmt.Errorf("create request: %w", err))
	}

	log := models.ApprovalLog{
		ID:        uuid.NewString(),
		RequestID: request.ID,
		Action:    models.ApprovalActionSubmitted,
		ActorID:   request.StudentID,
		Note:      request.Reason,
		CreatedAt: request.CreatedAt,
	}
	const insertLog = `INSERT INTO approval_logs (id, request_id, action, actor_id, note, created_at)
        VALUES (:id, :request_id, :action, :actor_id, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertLog, &log); err != nil {
		return classifyPgError(fmt.Errorf("log request submission: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit request create: %w", err)
	}
	return nil
}

// FindByID returns a request by ID.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.StudentRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM student_requests WHERE id = $1", requestColumns)
	var request models.StudentRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, fmt.Errorf("find request: %w", err)
	}
	return &request, nil
}

// List returns requests matching the filter with a total count.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.StudentRequest, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s FROM student_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		requestColumns, clause, size, offset)
	var requests []models.StudentRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM student_requests" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return requests, total, nil
}

// Decide finalises a pending request, writes the audit row, and for
// approvals inserts the produced override, all in one transaction. A
// request that is no longer pending fails the precondition.
func (r *RequestRepository) Decide(ctx context.Context, requestID string, status models.RequestStatus, actorID, note string, override *models.Override) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request decide: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	const updateRequest = `UPDATE student_requests
        SET status = $2, decided_by = $3, decided_at = $4
        WHERE id = $1 AND status = $5`
	result, err := tx.ExecContext(ctx, updateRequest, requestID, status, actorID, now, models.RequestStatusPending)
	if err != nil {
		return classifyPgError(fmt.Errorf("decide request: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide request rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "request already decided")
	}

	action := models.ApprovalActionApproved
	if status == models.RequestStatusRejected {
		action = models.ApprovalActionRejected
	}
	log := models.ApprovalLog{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Action:    action,
		ActorID:   actorID,
		Note:      note,
		CreatedAt: now,
	}
	const insertLog = `INSERT INTO approval_logs (id, request_id, action, actor_id, note, created_at)
        VALUES (:id, :request_id, :action, :actor_id, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertLog, &log); err != nil {
		return classifyPgError(fmt.Errorf("log request decision: %w", err))
	}

	if override != nil {
		if override.ID == "" {
			override.ID = uuid.NewString()
		}
		override.ApprovedAt = now
		const insertOverride = `INSERT INTO overrides (id, student_id, section_id, term_id, type, request_id, approved_by, approved_at, reason)
            VALUES (:id, :student_id, :section_id, :term_id, :type, :request_id, :approved_by, :approved_at, :reason)`
		if _, err := tx.NamedExecContext(ctx, insertOverride, override); err != nil {
			return classifyPgError(fmt.Errorf("create override: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit request decide: %w", err)
	}
	return nil
}

// Logs returns a request's audit trail, oldest first.
func (r *RequestRepository) Logs(ctx context.Context, requestID string) ([]models.ApprovalLog, error) {
	const query = `SELECT id, request_id, action, actor_id, note, created_at
        FROM approval_logs WHERE request_id = $1 ORDER BY created_at ASC`
	var logs []models.ApprovalLog
	if err := r.db.SelectContext(ctx, &logs, query, requestID); err != nil {
		return nil, fmt.Errorf("list approval logs: %w", err)
	}
	return logs, nil
}

// ActiveOverrides returns the student's overrides scoped to the given
// section or term.
func (r *RequestRepository) ActiveOverrides(ctx context.Context, studentID, sectionID, termID string) ([]models.Override, error) {
	const query = `SELECT id, student_id, section_id, term_id, type, request_id, approved_by, approved_at, reason
        FROM overrides
        WHERE student_id = $1 AND (section_id = $2 OR term_id = $3)`
	var overrides []models.Override
	if err := r.db.SelectContext(ctx, &overrides, query, studentID, sectionID, termID); err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	return overrides, nil
}
