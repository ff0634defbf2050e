package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type catalogRepository interface {
	FindSectionDetail(ctx context.Context, id string) (*models.SectionDetail, error)
	ListSections(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error)
	Prerequisites(ctx context.Context, courseID string) ([]models.CoursePrerequisite, error)
	InstructorMeetings(ctx context.Context, instructorID, termID, excludeSectionID string) ([]models.MeetingTime, error)
	CreateSection(ctx context.Context, section *models.CourseSection, meetings []models.MeetingTime) error
	SetGradesLock(ctx context.Context, sectionID string, locked bool) error
	FindCourse(ctx context.Context, id string) (*models.Course, error)
	FindTerm(ctx context.Context, id string) (*models.Term, error)
}

// MeetingInput is one weekly meeting of a new section.
type MeetingInput struct {
	DayOfWeek int    `json:"day_of_week" validate:"gte=0,lte=6"`
	StartMin  int    `json:"start_min" validate:"gte=0,lt=1440"`
	EndMin    int    `json:"end_min" validate:"gt=0,lte=1440"`
	Room      string `json:"room"`
}

// CreateSectionRequest describes section creation payload.
type CreateSectionRequest struct {
	CourseID         string         `json:"course_id" validate:"required"`
	TermID           string         `json:"term_id" validate:"required"`
	InstructorID     string         `json:"instructor_id" validate:"required"`
	SectionCode      string         `json:"section_code" validate:"required"`
	Capacity         int            `json:"capacity" validate:"gte=0"`
	WaitlistCapacity int            `json:"waitlist_capacity" validate:"gte=0"`
	Location         string         `json:"location"`
	Meetings         []MeetingInput `json:"meetings" validate:"required,min=1,dive"`
}

// CatalogService exposes catalog reads and section scheduling.
type CatalogService struct {
	repo      catalogRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(repo catalogRepository, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, validator: validate, logger: logger}
}

// GetSection returns a section with its meetings.
func (s *CatalogService) GetSection(ctx context.Context, id string) (*models.SectionDetail, error) {
	detail, err := s.repo.FindSectionDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return detail, nil
}

// ListSections returns sections with pagination metadata.
func (s *CatalogService) ListSections(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, *models.Pagination, error) {
	sections, total, err := s.repo.ListSections(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sections, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetPrerequisites returns a course's prerequisite rows.
func (s *CatalogService) GetPrerequisites(ctx context.Context, courseID string) ([]models.CoursePrerequisite, error) {
	if _, err := s.repo.FindCourse(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	prereqs, err := s.repo.Prerequisites(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	return prereqs, nil
}

// CreateSection schedules a new section. Every meeting must start
// before it ends, the section's own meetings must not overlap each
// other, and the instructor's meetings across the term must stay
// pairwise non-overlapping.
func (s *CatalogService) CreateSection(ctx context.Context, req CreateSectionRequest) (*models.SectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}

	course, err := s.repo.FindCourse(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is deactivated")
	}
	if _, err := s.repo.FindTerm(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	meetings := make([]models.MeetingTime, len(req.Meetings))
	for i, m := range req.Meetings {
		if m.StartMin >= m.EndMin {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("meeting %d: start must precede end", i+1))
		}
		meetings[i] = models.MeetingTime{
			DayOfWeek: m.DayOfWeek,
			StartMin:  m.StartMin,
			EndMin:    m.EndMin,
			Room:      m.Room,
		}
	}
	for i := range meetings {
		for j := i + 1; j < len(meetings); j++ {
			if meetings[i].Overlaps(meetings[j]) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "section meetings overlap each other")
			}
		}
	}

	existing, err := s.repo.InstructorMeetings(ctx, req.InstructorID, req.TermID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor schedule")
	}
	for _, m := range meetings {
		for _, other := range existing {
			if m.Overlaps(other) {
				return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf(
					"instructor already teaches day %d, %d-%d", other.DayOfWeek, other.StartMin, other.EndMin))
			}
		}
	}

	section := &models.CourseSection{
		CourseID:         req.CourseID,
		TermID:           req.TermID,
		InstructorID:     req.InstructorID,
		SectionCode:      req.SectionCode,
		Capacity:         req.Capacity,
		WaitlistCapacity: req.WaitlistCapacity,
		Location:         req.Location,
	}
	if err := s.repo.CreateSection(ctx, section, meetings); err != nil {
		return nil, err
	}
	return s.GetSection(ctx, section.ID)
}

// SetGradesLock toggles a section's grading lock.
func (s *CatalogService) SetGradesLock(ctx context.Context, sectionID string, locked bool) error {
	if err := s.repo.SetGradesLock(ctx, sectionID, locked); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set grades lock")
	}
	return nil
}
