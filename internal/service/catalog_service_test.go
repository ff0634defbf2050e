package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type fakeCatalogRepo struct {
	courses            map[string]models.Course
	terms              map[string]models.Term
	sections           map[string]models.SectionDetail
	instructorMeetings []models.MeetingTime
	created            *models.CourseSection
	createdMeetings    []models.MeetingTime
	gradesLock         map[string]bool
}

func newFakeCatalogRepo() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		courses:    map[string]models.Course{"course-1": {ID: "course-1", Code: "CS101", Credits: 3, Active: true}},
		terms:      map[string]models.Term{"term-1": {ID: "term-1", Code: "2026A"}},
		sections:   make(map[string]models.SectionDetail),
		gradesLock: make(map[string]bool),
	}
}

func (f *fakeCatalogRepo) FindSectionDetail(ctx context.Context, id string) (*models.SectionDetail, error) {
	if s, ok := f.sections[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCatalogRepo) ListSections(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	var out []models.SectionDetail
	for _, s := range f.sections {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *fakeCatalogRepo) Prerequisites(ctx context.Context, courseID string) ([]models.CoursePrerequisite, error) {
	return nil, nil
}

func (f *fakeCatalogRepo) InstructorMeetings(ctx context.Context, instructorID, termID, excludeSectionID string) ([]models.MeetingTime, error) {
	return f.instructorMeetings, nil
}

func (f *fakeCatalogRepo) CreateSection(ctx context.Context, section *models.CourseSection, meetings []models.MeetingTime) error {
	section.ID = "sec-new"
	f.created = section
	f.createdMeetings = meetings
	f.sections[section.ID] = models.SectionDetail{CourseSection: *section, Meetings: meetings}
	return nil
}

func (f *fakeCatalogRepo) SetGradesLock(ctx context.Context, sectionID string, locked bool) error {
	f.gradesLock[sectionID] = locked
	return nil
}

func (f *fakeCatalogRepo) FindCourse(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCatalogRepo) FindTerm(ctx context.Context, id string) (*models.Term, error) {
	if t, ok := f.terms[id]; ok {
		return &t, nil
	}
	return nil, sql.ErrNoRows
}

func validSectionRequest() CreateSectionRequest {
	return CreateSectionRequest{
		CourseID:         "course-1",
		TermID:           "term-1",
		InstructorID:     "inst-1",
		SectionCode:      "A",
		Capacity:         30,
		WaitlistCapacity: 5,
		Meetings: []MeetingInput{
			{DayOfWeek: 1, StartMin: 540, EndMin: 630},
			{DayOfWeek: 3, StartMin: 540, EndMin: 630},
		},
	}
}

func TestCreateSection(t *testing.T) {
	repo := newFakeCatalogRepo()
	svc := NewCatalogService(repo, nil, nil)

	section, err := svc.CreateSection(context.Background(), validSectionRequest())
	require.NoError(t, err)
	assert.Equal(t, "sec-new", section.ID)
	assert.Len(t, repo.createdMeetings, 2)
}

func TestCreateSectionRejectsInvertedMeeting(t *testing.T) {
	repo := newFakeCatalogRepo()
	svc := NewCatalogService(repo, nil, nil)

	req := validSectionRequest()
	req.Meetings = []MeetingInput{{DayOfWeek: 1, StartMin: 630, EndMin: 600}}

	_, err := svc.CreateSection(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateSectionRejectsSelfOverlap(t *testing.T) {
	repo := newFakeCatalogRepo()
	svc := NewCatalogService(repo, nil, nil)

	req := validSectionRequest()
	req.Meetings = []MeetingInput{
		{DayOfWeek: 1, StartMin: 540, EndMin: 660},
		{DayOfWeek: 1, StartMin: 600, EndMin: 720},
	}

	_, err := svc.CreateSection(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateSectionRejectsInstructorOverlap(t *testing.T) {
	repo := newFakeCatalogRepo()
	repo.instructorMeetings = []models.MeetingTime{{DayOfWeek: 1, StartMin: 600, EndMin: 690}}
	svc := NewCatalogService(repo, nil, nil)

	_, err := svc.CreateSection(context.Background(), validSectionRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateSectionAllowsBackToBackInstructorMeetings(t *testing.T) {
	repo := newFakeCatalogRepo()
	repo.instructorMeetings = []models.MeetingTime{{DayOfWeek: 1, StartMin: 630, EndMin: 720}}
	svc := NewCatalogService(repo, nil, nil)

	_, err := svc.CreateSection(context.Background(), validSectionRequest())
	assert.NoError(t, err)
}

func TestCreateSectionRejectsInactiveCourse(t *testing.T) {
	repo := newFakeCatalogRepo()
	course := repo.courses["course-1"]
	course.Active = false
	repo.courses["course-1"] = course
	svc := NewCatalogService(repo, nil, nil)

	_, err := svc.CreateSection(context.Background(), validSectionRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestCreateSectionUnknownCourse(t *testing.T) {
	repo := newFakeCatalogRepo()
	svc := NewCatalogService(repo, nil, nil)

	req := validSectionRequest()
	req.CourseID = "missing"

	_, err := svc.CreateSection(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSetGradesLock(t *testing.T) {
	repo := newFakeCatalogRepo()
	svc := NewCatalogService(repo, nil, nil)

	require.NoError(t, svc.SetGradesLock(context.Background(), "sec-1", true))
	assert.True(t, repo.gradesLock["sec-1"])
}
