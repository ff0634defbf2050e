package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// CatalogHandler exposes catalog reads and section scheduling.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListSections godoc
// @Summary List course sections
// @Tags Catalog
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param termId query string false "Filter by term"
// @Param instructorId query string false "Filter by instructor"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *CatalogHandler) ListSections(c *gin.Context) {
	var filter models.SectionFilter
	filter.CourseID = c.Query("courseId")
	filter.TermID = c.Query("termId")
	filter.InstructorID = c.Query("instructorId")
	filter.Status = models.SectionStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	sections, pagination, err := h.catalog.ListSections(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// GetSection godoc
// @Summary Get a section with its meetings
// @Tags Catalog
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *CatalogHandler) GetSection(c *gin.Context) {
	section, err := h.catalog.GetSection(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// CreateSection godoc
// @Summary Schedule a new section
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /sections [post]
func (h *CatalogHandler) CreateSection(c *gin.Context) {
	var req service.CreateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.catalog.CreateSection(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

type gradesLockPayload struct {
	Locked bool `json:"locked"`
}

// SetGradesLock godoc
// @Summary Engage or release a section's grading lock
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body gradesLockPayload true "Lock payload"
// @Success 204
// @Router /sections/{id}/grades-lock [put]
func (h *CatalogHandler) SetGradesLock(c *gin.Context) {
	var payload gradesLockPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.catalog.SetGradesLock(c.Request.Context(), c.Param("id"), payload.Locked); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GetPrerequisites godoc
// @Summary Get a course's prerequisites
// @Tags Catalog
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/prerequisites [get]
func (h *CatalogHandler) GetPrerequisites(c *gin.Context) {
	prereqs, err := h.catalog.GetPrerequisites(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prereqs, nil)
}
