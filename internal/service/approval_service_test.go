package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type fakeRequestStore struct {
	requests  map[string]models.StudentRequest
	logs      map[string][]models.ApprovalLog
	overrides []models.Override
	nextID    int
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{
		requests: make(map[string]models.StudentRequest),
		logs:     make(map[string][]models.ApprovalLog),
	}
}

func (f *fakeRequestStore) Create(ctx context.Context, request *models.StudentRequest) error {
	f.nextID++
	request.ID = "req-1"
	if f.nextID > 1 {
		request.ID = "req-" + string(rune('0'+f.nextID))
	}
	request.Status = models.RequestStatusPending
	request.CreatedAt = time.Now().UTC()
	f.requests[request.ID] = *request
	f.logs[request.ID] = append(f.logs[request.ID], models.ApprovalLog{
		RequestID: request.ID,
		Action:    models.ApprovalActionSubmitted,
		ActorID:   request.StudentID,
	})
	return nil
}

func (f *fakeRequestStore) FindByID(ctx context.Context, id string) (*models.StudentRequest, error) {
	if r, ok := f.requests[id]; ok {
		copied := r
		return &copied, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
}

func (f *fakeRequestStore) List(ctx context.Context, filter models.RequestFilter) ([]models.StudentRequest, int, error) {
	var out []models.StudentRequest
	for _, r := range f.requests {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (f *fakeRequestStore) Decide(ctx context.Context, requestID string, status models.RequestStatus, actorID, note string, override *models.Override) error {
	request, ok := f.requests[requestID]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	if request.Status != models.RequestStatusPending {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "request already decided")
	}
	request.Status = status
	request.DecidedBy = &actorID
	f.requests[requestID] = request

	action := models.ApprovalActionApproved
	if status == models.RequestStatusRejected {
		action = models.ApprovalActionRejected
	}
	f.logs[requestID] = append(f.logs[requestID], models.ApprovalLog{RequestID: requestID, Action: action, ActorID: actorID, Note: note})

	if override != nil {
		f.overrides = append(f.overrides, *override)
	}
	return nil
}

func (f *fakeRequestStore) Logs(ctx context.Context, requestID string) ([]models.ApprovalLog, error) {
	return f.logs[requestID], nil
}

type stubEnroller struct {
	outcome *models.EnrollmentOutcome
	calls   []EnrollRequest
}

func (s *stubEnroller) RequestEnrollment(ctx context.Context, req EnrollRequest) (*models.EnrollmentOutcome, error) {
	s.calls = append(s.calls, req)
	if s.outcome != nil {
		return s.outcome, nil
	}
	return &models.EnrollmentOutcome{Decision: models.DecisionEnrolled}, nil
}

func submitCapacityRequest(t *testing.T, svc *ApprovalService) *models.StudentRequest {
	t.Helper()
	request, err := svc.Submit(context.Background(), SubmitRequestInput{
		StudentID: "stu-1",
		SectionID: "sec-1",
		TermID:    "term-1",
		Type:      models.RequestTypeCapacity,
		Reason:    "graduating senior needs the seat",
	})
	require.NoError(t, err)
	return request
}

func TestSubmitLogsSubmission(t *testing.T) {
	store := newFakeRequestStore()
	svc := NewApprovalService(store, nil, nil, nil, nil)

	request := submitCapacityRequest(t, svc)
	assert.Equal(t, models.RequestStatusPending, request.Status)

	logs, err := store.Logs(context.Background(), request.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ApprovalActionSubmitted, logs[0].Action)
}

func TestSubmitValidatesPayload(t *testing.T) {
	svc := NewApprovalService(newFakeRequestStore(), nil, nil, nil, nil)

	_, err := svc.Submit(context.Background(), SubmitRequestInput{StudentID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDecideApprovalProducesOverrideAndReruns(t *testing.T) {
	store := newFakeRequestStore()
	enroller := &stubEnroller{}
	svc := NewApprovalService(store, enroller, nil, nil, nil)
	request := submitCapacityRequest(t, svc)

	result, err := svc.Decide(context.Background(), DecideRequestInput{
		RequestID: request.ID,
		Approve:   true,
		ActorID:   "admin-1",
		Note:      "approved for graduation",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, result.Request.Status)

	require.Len(t, store.overrides, 1)
	override := store.overrides[0]
	assert.Equal(t, models.OverrideTypeCapacity, override.Type)
	require.NotNil(t, override.SectionID)
	assert.Equal(t, "sec-1", *override.SectionID)

	require.Len(t, enroller.calls, 1)
	assert.Equal(t, "stu-1", enroller.calls[0].StudentID)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, models.DecisionEnrolled, result.Outcome.Decision)
}

func TestDecideCreditOverloadScopesOverrideToTerm(t *testing.T) {
	store := newFakeRequestStore()
	svc := NewApprovalService(store, &stubEnroller{}, nil, nil, nil)

	request, err := svc.Submit(context.Background(), SubmitRequestInput{
		StudentID: "stu-1",
		TermID:    "term-1",
		Type:      models.RequestTypeCreditOverload,
		Reason:    "double major",
	})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), DecideRequestInput{RequestID: request.ID, Approve: true, ActorID: "admin-1"})
	require.NoError(t, err)

	require.Len(t, store.overrides, 1)
	override := store.overrides[0]
	assert.Equal(t, models.OverrideTypeCreditOverload, override.Type)
	assert.Nil(t, override.SectionID)
	require.NotNil(t, override.TermID)
	assert.Equal(t, "term-1", *override.TermID)
}

func TestDecideRejectionProducesNothing(t *testing.T) {
	store := newFakeRequestStore()
	enroller := &stubEnroller{}
	svc := NewApprovalService(store, enroller, nil, nil, nil)
	request := submitCapacityRequest(t, svc)

	result, err := svc.Decide(context.Background(), DecideRequestInput{RequestID: request.ID, Approve: false, ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, result.Request.Status)
	assert.Empty(t, store.overrides)
	assert.Empty(t, enroller.calls)
	assert.Nil(t, result.Outcome)
}

func TestDecideTwiceFailsPrecondition(t *testing.T) {
	store := newFakeRequestStore()
	svc := NewApprovalService(store, &stubEnroller{}, nil, nil, nil)
	request := submitCapacityRequest(t, svc)

	_, err := svc.Decide(context.Background(), DecideRequestInput{RequestID: request.ID, Approve: true, ActorID: "admin-1"})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), DecideRequestInput{RequestID: request.ID, Approve: false, ActorID: "admin-2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestDecideCrossCollegeApprovalHasNoOverride(t *testing.T) {
	store := newFakeRequestStore()
	svc := NewApprovalService(store, &stubEnroller{}, nil, nil, nil)

	request, err := svc.Submit(context.Background(), SubmitRequestInput{
		StudentID: "stu-1",
		SectionID: "sec-1",
		TermID:    "term-1",
		Type:      models.RequestTypeCrossCollege,
		Reason:    "elective outside college",
	})
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), DecideRequestInput{RequestID: request.ID, Approve: true, ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Empty(t, store.overrides)
}
