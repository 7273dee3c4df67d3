package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-dwa-api/internal/dto"
	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
	"github.com/noah-isme/campus-dwa-api/pkg/response"
)

type workflowService interface {
	Submit(ctx context.Context, req dto.SubmitUpdateRequest, actor *models.JWTClaims) (*models.UpdateRequest, error)
	Decide(ctx context.Context, id string, req dto.DecideUpdateRequest, actor *models.JWTClaims) (*models.UpdateRequest, error)
	Apply(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error)
	ListBySubject(ctx context.Context, subjectID string, statuses []models.RequestStatus, actor *models.JWTClaims) ([]models.UpdateRequest, error)
	AuditTrail(ctx context.Context, requestID string, actor *models.JWTClaims) ([]models.AuditEntry, error)
}

// RequestHandler exposes REST endpoints for the update request workflow.
type RequestHandler struct {
	service workflowService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(service workflowService) *RequestHandler {
	return &RequestHandler{service: service}
}

// Submit godoc
// @Summary Submit an update request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitUpdateRequest true "Proposed field change"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid submit payload"))
		return
	}
	request, err := h.service.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Decide godoc
// @Summary Approve or reject a pending request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideUpdateRequest true "Reviewer decision"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecideUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	req.Outcome = dto.DecideOutcome(strings.ToUpper(string(req.Outcome)))
	request, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Apply godoc
// @Summary Apply an approved request to the authoritative record
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/apply [post]
func (h *RequestHandler) Apply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Apply(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Get godoc
// @Summary Get update request detail
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List update requests for a subject
// @Tags Requests
// @Produce json
// @Param subject_id query string false "Subject ID (defaults to the caller)"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	subjectID := strings.TrimSpace(c.Query("subject_id"))
	if subjectID == "" {
		subjectID = claims.UserID
	}
	var statuses []models.RequestStatus
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses = make([]models.RequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.RequestStatus(part))
		}
	}
	requests, err := h.service.ListBySubject(c.Request.Context(), subjectID, statuses, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// AuditTrail godoc
// @Summary List the audit trail for a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/audit [get]
func (h *RequestHandler) AuditTrail(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entries, err := h.service.AuditTrail(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
