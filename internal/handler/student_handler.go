package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type studentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByStudentNo(ctx context.Context, studentNo string) (*models.Student, error)
}

// StudentHandler exposes read-only student lookups. Student records are
// provisioned elsewhere; this surface only resolves them.
type StudentHandler struct {
	students studentFinder
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentFinder) *StudentHandler {
	return &StudentHandler{students: students}
}

// Get godoc
// @Summary Get a student by ID or student number
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param byNumber query bool false "Treat the path value as a student number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	var student *models.Student
	var err error
	if c.Query("byNumber") == "true" {
		student, err = h.students.FindByStudentNo(c.Request.Context(), c.Param("id"))
	} else {
		student, err = h.students.FindByID(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "student not found"))
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
