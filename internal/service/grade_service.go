package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/events"
)

type gradeStore interface {
	WithEnrollmentLock(ctx context.Context, enrollmentID string, fn func(repository.GradeTxn) error) error
	GPARows(ctx context.Context, studentID string) ([]models.GPARow, error)
	PassRate(ctx context.Context, sectionID string) (*models.SectionPassRate, error)
	Distribution(ctx context.Context, termID string) ([]models.GradeBucket, error)
	TranscriptRows(ctx context.Context, studentID string) ([]models.TranscriptRow, error)
}

type studentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type cacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RecordGradeRequest describes a grade entry payload.
type RecordGradeRequest struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required"`
	NumericScore float64 `json:"numeric_score" validate:"gte=0,lte=100"`
	RecordedBy   string  `json:"recorded_by" validate:"required"`
}

// GradingOptions controls grade classification and the pass threshold.
type GradingOptions struct {
	Scale      models.GradeScale
	PassPoints float64
}

// GradeService is the grading engine: it records final grades, drives
// the completed-* transition, and computes GPA and section aggregates.
// GPA is always recomputed from source records, never read back from a
// stored column.
type GradeService struct {
	store     gradeStore
	students  studentStore
	cache     cacheInvalidator
	bus       eventPublisher
	opts      GradingOptions
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(store gradeStore, students studentStore, cache cacheInvalidator, bus eventPublisher, opts GradingOptions, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if len(opts.Scale.Bands) == 0 {
		opts.Scale = models.DefaultGradeScale()
	}
	if opts.PassPoints <= 0 {
		opts.PassPoints = 2.0
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{store: store, students: students, cache: cache, bus: bus, opts: opts, validator: validate, logger: logger}
}

// RecordGrade records the final grade for an enrolled student and
// atomically transitions the enrollment to its completed state. It is
// rejected while the section's grading lock is engaged, for enrollments
// not in enrolled status, and when a grade already exists.
func (s *GradeService) RecordGrade(ctx context.Context, req RecordGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	var recorded *models.Grade
	var studentID, sectionID string
	err := s.store.WithEnrollmentLock(ctx, req.EnrollmentID, func(txn repository.GradeTxn) error {
		enrollment, err := txn.FindEnrollment(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}
		if enrollment.Status != models.EnrollmentStatusEnrolled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed,
				"grade requires enrolled status, enrollment is "+string(enrollment.Status))
		}

		section, err := txn.FindSection(ctx, enrollment.SectionID)
		if err != nil {
			return err
		}
		if section.GradesLocked {
			return appErrors.Clone(appErrors.ErrGradesLocked, "")
		}

		existing, err := txn.FindGrade(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "grade already recorded, amend it instead")
		}

		letter, points := s.opts.Scale.Classify(req.NumericScore)
		grade := &models.Grade{
			EnrollmentID: req.EnrollmentID,
			NumericScore: req.NumericScore,
			LetterGrade:  letter,
			GradePoints:  points,
			Final:        true,
			RecordedBy:   req.RecordedBy,
			RecordedAt:   time.Now().UTC(),
		}
		if err := txn.InsertGrade(ctx, grade); err != nil {
			return err
		}

		status := models.EnrollmentStatusCompletedFailed
		if points >= s.opts.PassPoints {
			status = models.EnrollmentStatusCompletedPassed
		}
		if err := txn.CompleteEnrollment(ctx, req.EnrollmentID, status); err != nil {
			return err
		}

		recorded = grade
		studentID = enrollment.StudentID
		sectionID = enrollment.SectionID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, studentID, sectionID)
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:         events.TypeGraded,
			StudentID:    studentID,
			SectionID:    sectionID,
			EnrollmentID: req.EnrollmentID,
		})
	}
	return recorded, nil
}

// AmendGrade replaces an existing grade while the section's grading
// lock is released, re-deriving the completed state from the new score.
func (s *GradeService) AmendGrade(ctx context.Context, req RecordGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	var amended *models.Grade
	var studentID, sectionID string
	err := s.store.WithEnrollmentLock(ctx, req.EnrollmentID, func(txn repository.GradeTxn) error {
		enrollment, err := txn.FindEnrollment(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}
		if !enrollment.Status.Completed() {
			return appErrors.Clone(appErrors.ErrPreconditionFailed,
				"amendment requires a completed enrollment, got "+string(enrollment.Status))
		}

		section, err := txn.FindSection(ctx, enrollment.SectionID)
		if err != nil {
			return err
		}
		if section.GradesLocked {
			return appErrors.Clone(appErrors.ErrGradesLocked, "")
		}

		existing, err := txn.FindGrade(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}
		if existing == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "no grade recorded for enrollment")
		}

		letter, points := s.opts.Scale.Classify(req.NumericScore)
		existing.NumericScore = req.NumericScore
		existing.LetterGrade = letter
		existing.GradePoints = points
		existing.RecordedBy = req.RecordedBy
		if err := txn.UpdateGrade(ctx, existing); err != nil {
			return err
		}

		status := models.EnrollmentStatusCompletedFailed
		if points >= s.opts.PassPoints {
			status = models.EnrollmentStatusCompletedPassed
		}
		if status != enrollment.Status {
			if err := txn.CompleteEnrollment(ctx, req.EnrollmentID, status); err != nil {
				return err
			}
		}

		amended = existing
		studentID = enrollment.StudentID
		sectionID = enrollment.SectionID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, studentID, sectionID)
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:         events.TypeGraded,
			StudentID:    studentID,
			SectionID:    sectionID,
			EnrollmentID: req.EnrollmentID,
		})
	}
	return amended, nil
}

// ComputeGPA recomputes the student's GPA from all graded completed
// enrollments. GPA is nil when the student has no graded credits.
func (s *GradeService) ComputeGPA(ctx context.Context, studentID string) (*models.GPASummary, error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.computeGPA(ctx, studentID)
}

func (s *GradeService) computeGPA(ctx context.Context, studentID string) (*models.GPASummary, error) {
	rows, err := s.store.GPARows(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade records")
	}

	summary := &models.GPASummary{StudentID: studentID, CoursesCounted: len(rows)}
	for _, row := range rows {
		summary.GradedCredits += row.Credits
		summary.QualityPoints += row.Credits * row.GradePoints
	}
	if summary.GradedCredits > 0 {
		gpa := math.Round(summary.QualityPoints/summary.GradedCredits*100) / 100
		summary.GPA = &gpa
	}
	return summary, nil
}

// PassRate returns the section's share of passed among graded
// enrollments. Rate is nil when nothing has been graded yet.
func (s *GradeService) PassRate(ctx context.Context, sectionID string) (*models.SectionPassRate, error) {
	rate, err := s.store.PassRate(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pass rate")
	}
	if rate.Graded > 0 {
		value := math.Round(float64(rate.Passed)/float64(rate.Graded)*100) / 100
		rate.Rate = &value
	}
	return rate, nil
}

// GradeDistribution returns the half-point grade-point histogram of a term.
func (s *GradeService) GradeDistribution(ctx context.Context, termID string) ([]models.GradeBucket, error) {
	buckets, err := s.store.Distribution(ctx, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade distribution")
	}
	return buckets, nil
}

// Transcript returns the student's full transcript with cumulative GPA.
func (s *GradeService) Transcript(ctx context.Context, studentID string) (*models.Transcript, error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	rows, err := s.store.TranscriptRows(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load transcript")
	}
	summary, err := s.computeGPA(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return &models.Transcript{StudentID: studentID, Rows: rows, GPA: summary.GPA}, nil
}

// ensureStudent confirms the student exists before computing an
// aggregate, so unknown students surface as not-found instead of an
// empty summary.
func (s *GradeService) ensureStudent(ctx context.Context, studentID string) error {
	if s.students == nil {
		return nil
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return nil
}

// invalidate drops cached aggregates touched by a grade change.
func (s *GradeService) invalidate(ctx context.Context, studentID, sectionID string) {
	if s.cache == nil {
		return
	}
	for _, pattern := range repository.StudentAggregatePatterns(studentID, sectionID) {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}
