package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/events"
)

// fakeSectionStore is an in-memory enrollmentStore. WithSectionLock
// serializes access per section with a mutex, mirroring the row lock.
type fakeSectionStore struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sections map[string]models.SectionDetail
	students map[string]models.Student

	stateMu     sync.Mutex
	enrollments map[string]models.Enrollment
	history     map[string][]models.CourseRecord
	planned     map[string][]models.PlannedSection
	prereqs     map[string][]models.CoursePrerequisite
	overrides   map[string][]models.Override
	nextID      int
}

func newFakeSectionStore() *fakeSectionStore {
	return &fakeSectionStore{
		locks:       make(map[string]*sync.Mutex),
		sections:    make(map[string]models.SectionDetail),
		students:    make(map[string]models.Student),
		enrollments: make(map[string]models.Enrollment),
		history:     make(map[string][]models.CourseRecord),
		planned:     make(map[string][]models.PlannedSection),
		prereqs:     make(map[string][]models.CoursePrerequisite),
		overrides:   make(map[string][]models.Override),
	}
}

func (f *fakeSectionStore) sectionLock(sectionID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.locks[sectionID]; !ok {
		f.locks[sectionID] = &sync.Mutex{}
	}
	return f.locks[sectionID]
}

func (f *fakeSectionStore) WithSectionLock(ctx context.Context, sectionID string, fn func(repository.SectionTxn) error) error {
	if _, ok := f.sections[sectionID]; !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "section not found")
	}
	lock := f.sectionLock(sectionID)
	lock.Lock()
	defer lock.Unlock()
	return fn(&fakeSectionTxn{store: f})
}

func (f *fakeSectionStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (f *fakeSectionStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if e, ok := f.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSectionStore) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if e, ok := f.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSectionStore) countByStatus(sectionID string, status models.EnrollmentStatus) int {
	count := 0
	for _, e := range f.enrollments {
		if e.SectionID == sectionID && e.Status == status {
			count++
		}
	}
	return count
}

type fakeSectionTxn struct {
	store *fakeSectionStore
}

func (t *fakeSectionTxn) Snapshot(ctx context.Context, studentID, sectionID string) (*models.EnrollmentSnapshot, error) {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	section := s.sections[sectionID]
	return &models.EnrollmentSnapshot{
		Student:   s.students[studentID],
		Section:   section,
		Prereqs:   s.prereqs[section.CourseID],
		History:   s.history[studentID],
		Planned:   s.planned[studentID],
		Overrides: s.overrides[studentID],
	}, nil
}

func (t *fakeSectionTxn) SectionLoad(ctx context.Context, sectionID string) (*models.SectionLoad, error) {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	section := s.sections[sectionID]
	return &models.SectionLoad{
		SectionID:        sectionID,
		Capacity:         section.Capacity,
		WaitlistCapacity: section.WaitlistCapacity,
		Enrolled:         s.countByStatus(sectionID, models.EnrollmentStatusEnrolled),
		Waitlisted:       s.countByStatus(sectionID, models.EnrollmentStatusWaitlisted),
	}, nil
}

func (t *fakeSectionTxn) FindLive(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, e := range s.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.Status.Live() {
			copied := e
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *fakeSectionTxn) FindEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if e, ok := s.enrollments[id]; ok {
		copied := e
		return &copied, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
}

func (t *fakeSectionTxn) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.nextID++
	enrollment.ID = fmt.Sprintf("enr-%d", s.nextID)
	if enrollment.RequestedAt.IsZero() {
		enrollment.RequestedAt = time.Now().UTC()
	}
	s.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (t *fakeSectionTxn) UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, approvedAt, droppedAt *time.Time) error {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	e := s.enrollments[id]
	e.Status = status
	if approvedAt != nil {
		e.ApprovedAt = approvedAt
	}
	if droppedAt != nil {
		e.DroppedAt = droppedAt
	}
	s.enrollments[id] = e
	return nil
}

func (t *fakeSectionTxn) Waitlist(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	s := t.store
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	var waiting []models.Enrollment
	for _, e := range s.enrollments {
		if e.SectionID == sectionID && e.Status == models.EnrollmentStatusWaitlisted {
			waiting = append(waiting, e)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].RequestedAt.Equal(waiting[j].RequestedAt) {
			return waiting[i].ID < waiting[j].ID
		}
		return waiting[i].RequestedAt.Before(waiting[j].RequestedAt)
	})
	return waiting, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) byType(t events.Type) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func openSection(store *fakeSectionStore, id string, capacity, waitlist int) {
	store.sections[id] = models.SectionDetail{
		CourseSection: models.CourseSection{
			ID:               id,
			CourseID:         "course-" + id,
			TermID:           "term-1",
			Capacity:         capacity,
			WaitlistCapacity: waitlist,
			Status:           models.SectionStatusOpen,
		},
		Credits: 3,
	}
}

func newTestEnrollmentService(store *fakeSectionStore, bus eventPublisher) *EnrollmentService {
	return NewEnrollmentService(store, bus, nil, EngineConfig{MaxRetries: 3, MaxCredits: 40}, nil, nil)
}

func TestRequestEnrollmentAdmits(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 2, 1)
	bus := &recordingBus{}
	svc := newTestEnrollmentService(store, bus)

	outcome, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	require.Equal(t, models.DecisionEnrolled, outcome.Decision)
	require.NotNil(t, outcome.Enrollment)
	assert.Equal(t, models.EnrollmentStatusEnrolled, outcome.Enrollment.Status)
	assert.NotNil(t, outcome.Enrollment.ApprovedAt)
	assert.Len(t, bus.byType(events.TypeEnrolled), 1)
}

func TestRequestEnrollmentDuplicateRejected(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 2, 1)
	svc := newTestEnrollmentService(store, nil)

	_, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)

	outcome, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, models.RuleDuplicate, outcome.Rule)
}

func TestRequestEnrollmentClosedSectionRejected(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 2, 1)
	section := store.sections["sec-1"]
	section.Status = models.SectionStatusClosed
	store.sections["sec-1"] = section
	svc := newTestEnrollmentService(store, nil)

	outcome, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, models.RuleSectionState, outcome.Rule)
}

func TestRequestEnrollmentUnknownSection(t *testing.T) {
	store := newFakeSectionStore()
	svc := newTestEnrollmentService(store, nil)

	_, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRequestEnrollmentConcurrentSeatAllocation(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 2, 1)
	svc := newTestEnrollmentService(store, nil)

	const requests = 50
	outcomes := make([]*models.EnrollmentOutcome, requests)
	errs := make([]error, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.RequestEnrollment(context.Background(), EnrollRequest{
				StudentID: fmt.Sprintf("stu-%d", i),
				SectionID: "sec-1",
			})
		}(i)
	}
	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
	}

	var enrolled, waitlisted, rejected int
	for _, outcome := range outcomes {
		switch outcome.Decision {
		case models.DecisionEnrolled:
			enrolled++
		case models.DecisionWaitlisted:
			waitlisted++
		case models.DecisionRejected:
			rejected++
			assert.Equal(t, models.RuleCapacity, outcome.Rule)
		}
	}
	assert.Equal(t, 2, enrolled)
	assert.Equal(t, 1, waitlisted)
	assert.Equal(t, 47, rejected)

	// No lost or duplicate updates in the store either.
	assert.Equal(t, 2, store.countByStatus("sec-1", models.EnrollmentStatusEnrolled))
	assert.Equal(t, 1, store.countByStatus("sec-1", models.EnrollmentStatusWaitlisted))
	assert.Len(t, store.enrollments, 3)
}

func TestDropEnrollmentPromotesFIFO(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 1, 2)
	bus := &recordingBus{}
	svc := newTestEnrollmentService(store, bus)

	first, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	require.Equal(t, models.DecisionEnrolled, first.Decision)

	second, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-2", SectionID: "sec-1"})
	require.NoError(t, err)
	require.Equal(t, models.DecisionWaitlisted, second.Decision)

	third, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-3", SectionID: "sec-1"})
	require.NoError(t, err)
	require.Equal(t, models.DecisionWaitlisted, third.Decision)

	// Force deterministic FIFO order.
	e2 := store.enrollments[second.Enrollment.ID]
	e2.RequestedAt = time.Now().Add(-2 * time.Minute)
	store.enrollments[e2.ID] = e2
	e3 := store.enrollments[third.Enrollment.ID]
	e3.RequestedAt = time.Now().Add(-1 * time.Minute)
	store.enrollments[e3.ID] = e3

	require.NoError(t, svc.DropEnrollment(context.Background(), first.Enrollment.ID))

	assert.Equal(t, models.EnrollmentStatusDropped, store.enrollments[first.Enrollment.ID].Status)
	assert.Equal(t, models.EnrollmentStatusEnrolled, store.enrollments[second.Enrollment.ID].Status)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, store.enrollments[third.Enrollment.ID].Status)

	promotions := bus.byType(events.TypePromoted)
	require.Len(t, promotions, 1)
	assert.Equal(t, "stu-2", promotions[0].StudentID)
}

func TestDropEnrollmentSkipsFailedRecheck(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 1, 2)
	svc := newTestEnrollmentService(store, nil)

	first, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	second, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-2", SectionID: "sec-1"})
	require.NoError(t, err)
	require.Equal(t, models.DecisionWaitlisted, second.Decision)
	third, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-3", SectionID: "sec-1"})
	require.NoError(t, err)

	e2 := store.enrollments[second.Enrollment.ID]
	e2.RequestedAt = time.Now().Add(-2 * time.Minute)
	store.enrollments[e2.ID] = e2
	e3 := store.enrollments[third.Enrollment.ID]
	e3.RequestedAt = time.Now().Add(-1 * time.Minute)
	store.enrollments[e3.ID] = e3

	// stu-2 picked up a clashing section since joining the waitlist.
	store.planned["stu-2"] = []models.PlannedSection{
		{
			SectionID: "sec-other",
			Credits:   3,
			Status:    models.EnrollmentStatusEnrolled,
			Meetings:  []models.MeetingTime{{DayOfWeek: 1, StartMin: 540, EndMin: 630}},
		},
	}
	section := store.sections["sec-1"]
	section.Meetings = []models.MeetingTime{{DayOfWeek: 1, StartMin: 570, EndMin: 660}}
	store.sections["sec-1"] = section

	require.NoError(t, svc.DropEnrollment(context.Background(), first.Enrollment.ID))

	assert.Equal(t, models.EnrollmentStatusWaitlisted, store.enrollments[second.Enrollment.ID].Status)
	assert.Equal(t, models.EnrollmentStatusEnrolled, store.enrollments[third.Enrollment.ID].Status)
}

func TestDropEnrollmentRequiresLiveStatus(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 1, 1)
	svc := newTestEnrollmentService(store, nil)

	outcome, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	require.NoError(t, svc.DropEnrollment(context.Background(), outcome.Enrollment.ID))

	err = svc.DropEnrollment(context.Background(), outcome.Enrollment.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRequestEnrollmentRetriesLockTimeout(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 1, 1)
	flaky := &flakyStore{fakeSectionStore: store, failures: 2}
	svc := NewEnrollmentService(flaky, nil, nil, EngineConfig{MaxRetries: 3, MaxCredits: 40}, nil, nil)

	outcome, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionEnrolled, outcome.Decision)
	assert.Equal(t, 2, flaky.attemptsFailed)
}

func TestRequestEnrollmentGivesUpAfterMaxRetries(t *testing.T) {
	store := newFakeSectionStore()
	openSection(store, "sec-1", 1, 1)
	flaky := &flakyStore{fakeSectionStore: store, failures: 5}
	svc := NewEnrollmentService(flaky, nil, nil, EngineConfig{MaxRetries: 3, MaxCredits: 40}, nil, nil)

	_, err := svc.RequestEnrollment(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLockTimeout.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 3, flaky.attemptsFailed)
}

// flakyStore simulates lock timeouts for the first N attempts.
type flakyStore struct {
	*fakeSectionStore
	failures       int
	attemptsFailed int
}

func (f *flakyStore) WithSectionLock(ctx context.Context, sectionID string, fn func(repository.SectionTxn) error) error {
	if f.attemptsFailed < f.failures {
		f.attemptsFailed++
		return appErrors.Clone(appErrors.ErrLockTimeout, "")
	}
	return f.fakeSectionStore.WithSectionLock(ctx, sectionID, fn)
}
