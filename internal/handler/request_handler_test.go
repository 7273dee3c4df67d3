package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-dwa-api/internal/dto"
	"github.com/noah-isme/campus-dwa-api/internal/middleware"
	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
)

type workflowServiceMock struct {
	submitResp *models.UpdateRequest
	submitErr  error
	decideReq  dto.DecideUpdateRequest
	decideResp *models.UpdateRequest
	decideErr  error
	applyErr   error
	listSubj   string
	listResp   []models.UpdateRequest
	auditResp  []models.AuditEntry
}

func (m *workflowServiceMock) Submit(ctx context.Context, req dto.SubmitUpdateRequest, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitResp, nil
}

func (m *workflowServiceMock) Decide(ctx context.Context, id string, req dto.DecideUpdateRequest, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	m.decideReq = req
	if m.decideErr != nil {
		return nil, m.decideErr
	}
	return m.decideResp, nil
}

func (m *workflowServiceMock) Apply(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return m.decideResp, nil
}

func (m *workflowServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	return m.submitResp, nil
}

func (m *workflowServiceMock) ListBySubject(ctx context.Context, subjectID string, statuses []models.RequestStatus, actor *models.JWTClaims) ([]models.UpdateRequest, error) {
	m.listSubj = subjectID
	return m.listResp, nil
}

func (m *workflowServiceMock) AuditTrail(ctx context.Context, requestID string, actor *models.JWTClaims) ([]models.AuditEntry, error) {
	return m.auditResp, nil
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent}
}

func TestRequestHandlerSubmitCreated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &workflowServiceMock{submitResp: &models.UpdateRequest{ID: "req-1", Status: models.RequestStatusPending, Version: 1}}
	handler := NewRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.SubmitUpdateRequest{TargetEntity: "student", TargetID: "student-1", FieldName: "phone", NewValue: "222"})
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, studentClaims())

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestRequestHandlerSubmitWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRequestHandler(&workflowServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestHandlerSubmitInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRequestHandler(&workflowServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, studentClaims())

	handler.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandlerDecideNormalisesOutcome(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &workflowServiceMock{decideResp: &models.UpdateRequest{ID: "req-1", Status: models.RequestStatusApproved, Version: 2}}
	handler := NewRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(map[string]string{"outcome": "approve"})
	req, _ := http.NewRequest(http.MethodPost, "/requests/req-1/decision", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	handler.Decide(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, dto.DecideOutcomeApprove, mock.decideReq.Outcome)
}

func TestRequestHandlerDecideConflictStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &workflowServiceMock{decideErr: appErrors.ErrConflict}
	handler := NewRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.DecideUpdateRequest{Outcome: dto.DecideOutcomeApprove})
	req, _ := http.NewRequest(http.MethodPost, "/requests/req-1/decision", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	handler.Decide(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestHandlerApplyForbiddenStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &workflowServiceMock{applyErr: appErrors.ErrForbidden}
	handler := NewRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests/req-1/apply", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff})

	handler.Apply(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestHandlerListDefaultsSubjectToCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &workflowServiceMock{listResp: []models.UpdateRequest{}}
	handler := NewRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/requests?status=pending,approved", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, studentClaims())

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", mock.listSubj)
}
