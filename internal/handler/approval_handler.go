package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// ApprovalHandler exposes the exception request workflow over HTTP.
type ApprovalHandler struct {
	approvals *service.ApprovalService
}

// NewApprovalHandler constructs ApprovalHandler.
func NewApprovalHandler(approvals *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// Submit godoc
// @Summary Submit an exception request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.SubmitRequestInput true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	var input service.SubmitRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.approvals.Submit(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

type decidePayload struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// Decide godoc
// @Summary Approve or reject a pending request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body decidePayload true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var payload decidePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID := ""
	if claims := middleware.ActorFromContext(c); claims != nil {
		actorID = claims.Subject
	}
	result, err := h.approvals.Decide(c.Request.Context(), service.DecideRequestInput{
		RequestID: c.Param("id"),
		Approve:   payload.Approve,
		ActorID:   actorID,
		Note:      payload.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Get godoc
// @Summary Get a request with its audit trail
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	request, logs, err := h.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"request": request, "logs": logs}, nil)
}

// List godoc
// @Summary List exception requests
// @Tags Requests
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param sectionId query string false "Filter by section"
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	var filter models.RequestFilter
	filter.StudentID = c.Query("studentId")
	filter.SectionID = c.Query("sectionId")
	filter.Status = models.RequestStatus(strings.ToUpper(c.Query("status")))
	filter.Type = models.RequestType(strings.ToUpper(c.Query("type")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	requests, pagination, err := h.approvals.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}
