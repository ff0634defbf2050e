package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/events"
)

type enrollmentStore interface {
	WithSectionLock(ctx context.Context, sectionID string, fn func(repository.SectionTxn) error) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

type eventPublisher interface {
	Publish(event events.Event)
}

// EnrollRequest describes an enrollment request payload.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

// EngineConfig tunes the enrollment engine's retry behaviour and the
// credit bounds the validators apply.
type EngineConfig struct {
	MaxRetries int
	MinCredits float64
	MaxCredits float64
}

// EnrollmentService is the enrollment engine: the only writer of
// enrollment records on the request path.
type EnrollmentService struct {
	store     enrollmentStore
	bus       eventPublisher
	metrics   *MetricsService
	cfg       EngineConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. metrics may be nil.
func NewEnrollmentService(store enrollmentStore, bus eventPublisher, metrics *MetricsService, cfg EngineConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{store: store, bus: bus, metrics: metrics, cfg: cfg, validator: validate, logger: logger}
}

// RequestEnrollment runs the full decision pipeline for one request
// inside a section-scoped transaction. Lock timeouts and serialization
// conflicts are retried a bounded number of times; every other failure
// surfaces immediately. Rejections are returned as outcomes, never
// persisted.
func (s *EnrollmentService) RequestEnrollment(ctx context.Context, req EnrollRequest) (*models.EnrollmentOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	var outcome *models.EnrollmentOutcome
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		started := time.Now()
		lastErr = s.store.WithSectionLock(ctx, req.SectionID, func(txn repository.SectionTxn) error {
			s.metrics.ObserveLockWait(time.Since(started))
			decided, err := s.decide(ctx, txn, req)
			if err != nil {
				return err
			}
			outcome = decided
			return nil
		})
		if lastErr == nil {
			break
		}
		if !appErrors.Retryable(lastErr) {
			return nil, lastErr
		}
		s.metrics.ObserveRetry()
		s.logger.Warn("enrollment attempt failed, retrying",
			zap.String("student_id", req.StudentID),
			zap.String("section_id", req.SectionID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	if lastErr != nil {
		return nil, lastErr
	}

	s.publishOutcome(req, outcome)
	return outcome, nil
}

// decide runs validators and the capacity decision against the locked
// transactional snapshot, persisting the enrollment when admitted.
func (s *EnrollmentService) decide(ctx context.Context, txn repository.SectionTxn, req EnrollRequest) (*models.EnrollmentOutcome, error) {
	live, err := txn.FindLive(ctx, req.StudentID, req.SectionID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return &models.EnrollmentOutcome{
			Decision: models.DecisionRejected,
			Rule:     models.RuleDuplicate,
			Reason:   "student already holds a live enrollment in this section",
		}, nil
	}

	snap, err := txn.Snapshot(ctx, req.StudentID, req.SectionID)
	if err != nil {
		return nil, err
	}

	checks := []RuleResult{
		CheckSectionState(snap),
		CheckPrerequisites(snap),
		CheckTimeConflict(snap),
		CheckCreditLoad(snap, RuleConfig{MinCredits: s.cfg.MinCredits, MaxCredits: s.cfg.MaxCredits}),
	}
	for _, check := range checks {
		if !check.Satisfied {
			return &models.EnrollmentOutcome{
				Decision: models.DecisionRejected,
				Rule:     check.Rule,
				Reason:   check.Reason,
			}, nil
		}
	}

	load, err := txn.SectionLoad(ctx, req.SectionID)
	if err != nil {
		return nil, err
	}
	outcome := DecideCapacity(snap, load)
	if outcome.Rejected() {
		return &outcome, nil
	}

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		StudentID:   req.StudentID,
		SectionID:   req.SectionID,
		RequestedAt: now,
	}
	switch outcome.Decision {
	case models.DecisionEnrolled:
		enrollment.Status = models.EnrollmentStatusEnrolled
		enrollment.ApprovedAt = &now
	case models.DecisionWaitlisted:
		enrollment.Status = models.EnrollmentStatusWaitlisted
	}
	if err := txn.InsertEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}
	outcome.Enrollment = enrollment
	return &outcome, nil
}

func (s *EnrollmentService) publishOutcome(req EnrollRequest, outcome *models.EnrollmentOutcome) {
	if s.bus == nil || outcome == nil {
		return
	}
	event := events.Event{
		StudentID: req.StudentID,
		SectionID: req.SectionID,
		Rule:      string(outcome.Rule),
		Reason:    outcome.Reason,
	}
	switch outcome.Decision {
	case models.DecisionEnrolled:
		event.Type = events.TypeEnrolled
	case models.DecisionWaitlisted:
		event.Type = events.TypeWaitlisted
	default:
		event.Type = events.TypeRejected
	}
	if outcome.Enrollment != nil {
		event.EnrollmentID = outcome.Enrollment.ID
	}
	s.bus.Publish(event)
}

// DropEnrollment drops a live enrollment and, when the section was at
// capacity, promotes the earliest-requested waitlisted student that
// still passes the time and credit checks. A promotion candidate that
// fails the re-check stays waitlisted and the next in line is tried.
func (s *EnrollmentService) DropEnrollment(ctx context.Context, enrollmentID string) error {
	current, err := s.store.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	var dropped models.Enrollment
	var promoted *models.Enrollment
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		promoted = nil
		lastErr = s.store.WithSectionLock(ctx, current.SectionID, func(txn repository.SectionTxn) error {
			enrollment, err := txn.FindEnrollment(ctx, enrollmentID)
			if err != nil {
				return err
			}
			if enrollment.Status != models.EnrollmentStatusEnrolled && enrollment.Status != models.EnrollmentStatusWaitlisted {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not droppable in status "+string(enrollment.Status))
			}

			load, err := txn.SectionLoad(ctx, enrollment.SectionID)
			if err != nil {
				return err
			}
			wasEnrolled := enrollment.Status == models.EnrollmentStatusEnrolled
			wasFull := load.SeatsLeft() <= 0

			now := time.Now().UTC()
			if err := txn.UpdateEnrollmentStatus(ctx, enrollment.ID, models.EnrollmentStatusDropped, nil, &now); err != nil {
				return err
			}
			dropped = *enrollment
			dropped.Status = models.EnrollmentStatusDropped
			dropped.DroppedAt = &now

			if wasEnrolled && wasFull {
				candidate, err := s.promote(ctx, txn, enrollment.SectionID, now)
				if err != nil {
					return err
				}
				promoted = candidate
			}
			return nil
		})
		if lastErr == nil {
			break
		}
		if !appErrors.Retryable(lastErr) {
			return lastErr
		}
		s.metrics.ObserveRetry()
		s.logger.Warn("drop attempt failed, retrying",
			zap.String("enrollment_id", enrollmentID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	if lastErr != nil {
		return lastErr
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:         events.TypeDropped,
			StudentID:    dropped.StudentID,
			SectionID:    dropped.SectionID,
			EnrollmentID: dropped.ID,
		})
		if promoted != nil {
			s.bus.Publish(events.Event{
				Type:         events.TypePromoted,
				StudentID:    promoted.StudentID,
				SectionID:    promoted.SectionID,
				EnrollmentID: promoted.ID,
			})
		}
	}
	return nil
}

// promote walks the waitlist in FIFO order and enrolls the first
// student whose time and credit checks still pass.
func (s *EnrollmentService) promote(ctx context.Context, txn repository.SectionTxn, sectionID string, now time.Time) (*models.Enrollment, error) {
	waitlist, err := txn.Waitlist(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	for i := range waitlist {
		candidate := waitlist[i]
		snap, err := txn.Snapshot(ctx, candidate.StudentID, sectionID)
		if err != nil {
			return nil, err
		}
		timeCheck := CheckTimeConflict(snap)
		creditCheck := CheckCreditLoad(snap, RuleConfig{MinCredits: s.cfg.MinCredits, MaxCredits: s.cfg.MaxCredits})
		if !timeCheck.Satisfied || !creditCheck.Satisfied {
			continue
		}
		if err := txn.UpdateEnrollmentStatus(ctx, candidate.ID, models.EnrollmentStatusEnrolled, &now, nil); err != nil {
			return nil, err
		}
		candidate.Status = models.EnrollmentStatusEnrolled
		candidate.ApprovedAt = &now
		return &candidate, nil
	}
	return nil, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one enrollment with contextual detail.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.store.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}
