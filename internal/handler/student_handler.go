package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
	"github.com/noah-isme/campus-dwa-api/pkg/response"
)

type studentService interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Student, error)
}

// StudentHandler exposes read endpoints for the authoritative student record.
type StudentHandler struct {
	service studentService
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(service studentService) *StudentHandler {
	return &StudentHandler{service: service}
}

// Get godoc
// @Summary Get a student record
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	student, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
