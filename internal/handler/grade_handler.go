package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// CacheTTL holds expirations for cached aggregate reads.
type CacheTTL struct {
	GPA      time.Duration
	PassRate time.Duration
}

// GradeHandler exposes the grading engine and its aggregates over HTTP.
// GPA, pass-rate, and transcript reads are cached with short TTLs; the
// engine itself always recomputes from source records.
type GradeHandler struct {
	grades  *service.GradeService
	cache   *repository.CacheRepository
	metrics *service.MetricsService
	ttl     CacheTTL
}

// NewGradeHandler constructs GradeHandler.
func NewGradeHandler(grades *service.GradeService, cache *repository.CacheRepository, metrics *service.MetricsService, ttl CacheTTL) *GradeHandler {
	return &GradeHandler{grades: grades, cache: cache, metrics: metrics, ttl: ttl}
}

type gradePayload struct {
	NumericScore float64 `json:"numeric_score"`
}

func (h *GradeHandler) recordedBy(c *gin.Context) string {
	if claims := middleware.ActorFromContext(c); claims != nil {
		return claims.Subject
	}
	return ""
}

// Record godoc
// @Summary Record a final grade for an enrollment
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body gradePayload true "Grade payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/grade [post]
func (h *GradeHandler) Record(c *gin.Context) {
	var payload gradePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	grade, err := h.grades.RecordGrade(c.Request.Context(), service.RecordGradeRequest{
		EnrollmentID: c.Param("id"),
		NumericScore: payload.NumericScore,
		RecordedBy:   h.recordedBy(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// Amend godoc
// @Summary Amend a recorded grade while the grading lock is released
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body gradePayload true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/grade [put]
func (h *GradeHandler) Amend(c *gin.Context) {
	var payload gradePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	grade, err := h.grades.AmendGrade(c.Request.Context(), service.RecordGradeRequest{
		EnrollmentID: c.Param("id"),
		NumericScore: payload.NumericScore,
		RecordedBy:   h.recordedBy(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// GPA godoc
// @Summary Compute a student's GPA
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/gpa [get]
func (h *GradeHandler) GPA(c *gin.Context) {
	studentID := c.Param("id")
	key := repository.GPAKey(studentID)

	var cached models.GPASummary
	if err := h.cache.Get(c.Request.Context(), key, &cached); err == nil {
		h.metrics.RecordCacheOperation(true)
		response.JSON(c, http.StatusOK, cached, nil)
		return
	}
	h.metrics.RecordCacheOperation(false)

	summary, err := h.grades.ComputeGPA(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	_ = h.cache.Set(c.Request.Context(), key, summary, h.ttl.GPA)
	response.JSON(c, http.StatusOK, summary, nil)
}

// Transcript godoc
// @Summary Get a student's transcript
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/transcript [get]
func (h *GradeHandler) Transcript(c *gin.Context) {
	studentID := c.Param("id")
	key := repository.TranscriptKey(studentID)

	var cached models.Transcript
	if err := h.cache.Get(c.Request.Context(), key, &cached); err == nil {
		h.metrics.RecordCacheOperation(true)
		response.JSON(c, http.StatusOK, cached, nil)
		return
	}
	h.metrics.RecordCacheOperation(false)

	transcript, err := h.grades.Transcript(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	_ = h.cache.Set(c.Request.Context(), key, transcript, h.ttl.GPA)
	response.JSON(c, http.StatusOK, transcript, nil)
}

// PassRate godoc
// @Summary Get a section's pass rate
// @Tags Grades
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/pass-rate [get]
func (h *GradeHandler) PassRate(c *gin.Context) {
	sectionID := c.Param("id")
	key := repository.PassRateKey(sectionID)

	var cached models.SectionPassRate
	if err := h.cache.Get(c.Request.Context(), key, &cached); err == nil {
		h.metrics.RecordCacheOperation(true)
		response.JSON(c, http.StatusOK, cached, nil)
		return
	}
	h.metrics.RecordCacheOperation(false)

	rate, err := h.grades.PassRate(c.Request.Context(), sectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	_ = h.cache.Set(c.Request.Context(), key, rate, h.ttl.PassRate)
	response.JSON(c, http.StatusOK, rate, nil)
}

// Distribution godoc
// @Summary Get a term's grade-point distribution
// @Tags Grades
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{id}/grade-distribution [get]
func (h *GradeHandler) Distribution(c *gin.Context) {
	buckets, err := h.grades.GradeDistribution(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, buckets, nil)
}
