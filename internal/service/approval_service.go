package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/events"
)

type requestStore interface {
	Create(ctx context.Context, request *models.StudentRequest) error
	FindByID(ctx context.Context, id string) (*models.StudentRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.StudentRequest, int, error)
	Decide(ctx context.Context, requestID string, status models.RequestStatus, actorID, note string, override *models.Override) error
	Logs(ctx context.Context, requestID string) ([]models.ApprovalLog, error)
}

type enroller interface {
	RequestEnrollment(ctx context.Context, req EnrollRequest) (*models.EnrollmentOutcome, error)
}

// SubmitRequestInput describes a student exception petition.
type SubmitRequestInput struct {
	StudentID string             `json:"student_id" validate:"required"`
	SectionID string             `json:"section_id" validate:"required_unless=Type CREDIT_OVERLOAD"`
	TermID    string             `json:"term_id" validate:"required"`
	Type      models.RequestType `json:"type" validate:"required,oneof=RETAKE CROSS_COLLEGE CREDIT_OVERLOAD CAPACITY TIME_CONFLICT"`
	Reason    string             `json:"reason" validate:"required"`
}

// DecideRequestInput describes an administrator's decision.
type DecideRequestInput struct {
	RequestID string `json:"request_id" validate:"required"`
	Approve   bool   `json:"approve"`
	ActorID   string `json:"actor_id" validate:"required"`
	Note      string `json:"note"`
}

// DecisionResult reports what a decision produced: the final request,
// and for approvals tied to a section, the outcome of the automatic
// enrollment re-run.
type DecisionResult struct {
	Request *models.StudentRequest    `json:"request"`
	Outcome *models.EnrollmentOutcome `json:"outcome,omitempty"`
}

// ApprovalService runs the exception workflow: student submission,
// administrator decision, override production, and the enrollment
// re-run an approval triggers.
type ApprovalService struct {
	requests   requestStore
	enrollment enroller
	bus        eventPublisher
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewApprovalService constructs ApprovalService.
func NewApprovalService(requests requestStore, enrollment enroller, bus eventPublisher, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{requests: requests, enrollment: enrollment, bus: bus, validator: validate, logger: logger}
}

// Submit files a pending request and its SUBMITTED audit row.
func (s *ApprovalService) Submit(ctx context.Context, input SubmitRequestInput) (*models.StudentRequest, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	request := &models.StudentRequest{
		StudentID: input.StudentID,
		TermID:    input.TermID,
		Type:      input.Type,
		Reason:    input.Reason,
	}
	if input.SectionID != "" {
		request.SectionID = &input.SectionID
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Decide finalises a pending request exactly once. An approval produces
// the override mapped from the request type and, when the request names
// a section, re-runs the enrollment request in a fresh transaction so
// the override takes effect immediately. A rejection produces nothing.
func (s *ApprovalService) Decide(ctx context.Context, input DecideRequestInput) (*DecisionResult, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	request, err := s.requests.FindByID(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}

	status := models.RequestStatusRejected
	var override *models.Override
	if input.Approve {
		status = models.RequestStatusApproved
		if overrideType, ok := models.OverrideForRequest(request.Type); ok {
			override = &models.Override{
				StudentID:  request.StudentID,
				Type:       overrideType,
				RequestID:  &request.ID,
				ApprovedBy: input.ActorID,
				Reason:     request.Reason,
			}
			if overrideType == models.OverrideTypeCreditOverload {
				override.TermID = &request.TermID
			} else {
				override.SectionID = request.SectionID
			}
		}
	}

	if err := s.requests.Decide(ctx, request.ID, status, input.ActorID, input.Note, override); err != nil {
		return nil, err
	}
	request.Status = status
	request.DecidedBy = &input.ActorID

	eventType := events.TypeRequestRejected
	if input.Approve {
		eventType = events.TypeRequestApproved
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      eventType,
			StudentID: request.StudentID,
			RequestID: request.ID,
		})
	}

	result := &DecisionResult{Request: request}
	if input.Approve && request.SectionID != nil && s.enrollment != nil {
		outcome, err := s.enrollment.RequestEnrollment(ctx, EnrollRequest{
			StudentID: request.StudentID,
			SectionID: *request.SectionID,
		})
		if err != nil {
			// The override stands; the student can retry the enrollment.
			s.logger.Warn("post-approval enrollment failed",
				zap.String("request_id", request.ID),
				zap.Error(err))
			return result, nil
		}
		result.Outcome = outcome
	}
	return result, nil
}

// Get returns one request with its audit trail.
func (s *ApprovalService) Get(ctx context.Context, id string) (*models.StudentRequest, []models.ApprovalLog, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.requests.Logs(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return request, logs, nil
}

// List returns requests with pagination metadata.
func (s *ApprovalService) List(ctx context.Context, filter models.RequestFilter) ([]models.StudentRequest, *models.Pagination, error) {
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
