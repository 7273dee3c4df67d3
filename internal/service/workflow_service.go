package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-dwa-api/internal/dto"
	"github.com/noah-isme/campus-dwa-api/internal/models"
	"github.com/noah-isme/campus-dwa-api/internal/repository"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, request *models.UpdateRequest, entry *models.AuditEntry) error
	GetByID(ctx context.Context, id string) (*models.UpdateRequest, error)
	FindPendingBy(ctx context.Context, subjectID, targetEntity, targetID, fieldName string) (*models.UpdateRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.UpdateRequest, error)
	Transition(ctx context.Context, params repository.TransitionParams, entry *models.AuditEntry) error
}

type auditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]models.AuditEntry, error)
}

// recordStore is the authoritative record collaborator. SetField is reached
// only from the apply transition.
type recordStore interface {
	Owner(ctx context.Context, id string) (string, error)
	GetField(ctx context.Context, id, fieldName string) (string, error)
	SetField(ctx context.Context, id, fieldName, value string) error
}

type workflowCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// TransitionObserver receives transition outcome metrics.
type TransitionObserver interface {
	ObserveTransition(action models.Transition, outcome models.AuditOutcome)
}

// ApplyScheduler hands an approved request to an asynchronous applier.
type ApplyScheduler interface {
	ScheduleApply(requestID string) error
}

// WorkflowService is the update request engine: it validates transitions,
// enforces the role gate, and writes every state change together with its
// audit entry.
type WorkflowService struct {
	requests  requestStore
	audit     auditStore
	records   recordStore
	schema    FieldSchema
	cache     workflowCache
	cacheTTL  time.Duration
	metrics   TransitionObserver
	scheduler ApplyScheduler
	logger    *zap.Logger
	validator *validator.Validate
}

// WorkflowServiceOption configures the service.
type WorkflowServiceOption func(*WorkflowService)

// WithWorkflowCache enables read-side caching of lists and audit trails.
func WithWorkflowCache(cache workflowCache, ttl time.Duration) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithTransitionObserver wires transition metrics.
func WithTransitionObserver(observer TransitionObserver) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.metrics = observer
	}
}

// WithApplyScheduler enables automatic apply after approval.
func WithApplyScheduler(scheduler ApplyScheduler) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.scheduler = scheduler
	}
}

// NewWorkflowService constructs the engine.
func NewWorkflowService(requests requestStore, audit auditStore, records recordStore, schema FieldSchema, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		requests:  requests,
		audit:     audit,
		records:   records,
		schema:    schema,
		cacheTTL:  5 * time.Minute,
		logger:    logger,
		validator: validator.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a new pending update request owned by the acting student.
// Old and new values are snapshotted here and never recomputed.
func (s *WorkflowService) Submit(ctx context.Context, req dto.SubmitUpdateRequest, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submit payload")
	}
	entity := strings.ToLower(strings.TrimSpace(req.TargetEntity))
	field := strings.ToLower(strings.TrimSpace(req.FieldName))

	if !Allowed(actor.Role, models.TransitionSubmit) {
		return nil, s.deny(ctx, "", actor, models.TransitionSubmit, nil, 0, "role may not submit update requests")
	}

	owner, err := s.records.Owner(ctx, req.TargetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve record owner")
	}
	if owner != actor.UserID {
		return nil, s.deny(ctx, "", actor, models.TransitionSubmit, nil, 0, "subject does not own the target record")
	}

	if !s.schema.IsEditable(entity, field) {
		if err := s.fail(ctx, "", actor, models.TransitionSubmit, nil, 0, "field is not in the editable set"); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidField, "field "+field+" of "+entity+" is not editable")
	}

	if _, err := s.requests.FindPendingBy(ctx, actor.UserID, entity, req.TargetID, field); err == nil {
		if err := s.fail(ctx, "", actor, models.TransitionSubmit, nil, 0, "pending request already exists for this field"); err != nil {
			return nil, err
		}
		return nil, appErrors.ErrDuplicatePending
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}

	oldValue, err := s.records.GetField(ctx, req.TargetID, field)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read current field value")
	}

	request := &models.UpdateRequest{
		SubjectID:    actor.UserID,
		TargetEntity: entity,
		TargetID:     req.TargetID,
		FieldName:    field,
		OldValue:     oldValue,
		NewValue:     req.NewValue,
		Status:       models.RequestStatusPending,
		Version:      1,
	}
	entry := newAuditEntry(actor, models.TransitionSubmit, models.AuditOutcomeSucceeded, nil, statusPtr(models.RequestStatusPending), "")

	if err := s.requests.Create(ctx, request, entry); err != nil {
		if errors.Is(err, appErrors.ErrDuplicatePending) {
			// Lost the race on the partial unique index.
			if auditErr := s.fail(ctx, "", actor, models.TransitionSubmit, nil, 0, "pending request already exists for this field"); auditErr != nil {
				return nil, auditErr
			}
			return nil, appErrors.ErrDuplicatePending
		}
		if errors.Is(err, appErrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create update request")
	}

	s.observe(models.TransitionSubmit, models.AuditOutcomeSucceeded)
	s.invalidate(ctx, request)
	return request, nil
}

// Decide moves a pending request to approved or rejected. The conditional
// write on the request version guarantees exactly one winner when reviewers
// race; the loser observes Conflict and must re-read before doing anything
// else.
func (s *WorkflowService) Decide(ctx context.Context, id string, req dto.DecideUpdateRequest, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	var transition models.Transition
	var target models.RequestStatus
	switch req.Outcome {
	case dto.DecideOutcomeApprove:
		transition, target = models.TransitionApprove, models.RequestStatusApproved
	case dto.DecideOutcomeReject:
		transition, target = models.TransitionReject, models.RequestStatusRejected
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "outcome must be APPROVE or REJECT")
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if !Allowed(actor.Role, transition) {
		return nil, s.deny(ctx, request.ID, actor, transition, statusPtr(request.Status), request.Version, "role may not decide update requests")
	}

	if request.Status != models.RequestStatusPending {
		if err := s.fail(ctx, request.ID, actor, transition, statusPtr(request.Status), request.Version, "request is not pending"); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request is not pending")
	}

	feedback := strings.TrimSpace(req.Feedback)
	if transition == models.TransitionReject && feedback == "" {
		if err := s.fail(ctx, request.ID, actor, transition, statusPtr(request.Status), request.Version, "rejection requires feedback"); err != nil {
			return nil, err
		}
		return nil, appErrors.ErrMissingFeedback
	}

	params := repository.TransitionParams{
		ID:              request.ID,
		ExpectedVersion: request.Version,
		Status:          target,
		ReviewerID:      &actor.UserID,
	}
	if transition == models.TransitionReject {
		params.Feedback = &feedback
	}
	entry := newAuditEntry(actor, transition, models.AuditOutcomeSucceeded, statusPtr(models.RequestStatusPending), statusPtr(target), "")

	if err := s.requests.Transition(ctx, params, entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.conflict(ctx, request, actor, transition)
		}
		if errors.Is(err, appErrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}

	now := time.Now().UTC()
	request.Status = target
	request.ReviewerID = &actor.UserID
	if transition == models.TransitionReject {
		request.Feedback = &feedback
	}
	request.Version++
	request.UpdatedAt = now

	s.observe(transition, models.AuditOutcomeSucceeded)
	s.invalidate(ctx, request)

	if target == models.RequestStatusApproved && s.scheduler != nil {
		if err := s.scheduler.ScheduleApply(request.ID); err != nil {
			s.logger.Warn("failed to schedule apply", zap.String("request_id", request.ID), zap.Error(err))
		}
	}
	return request, nil
}

// Apply copies the frozen new value into the authoritative record, then
// marks the request applied. A failed external write leaves the request
// approved so the caller may retry; the request is never marked applied
// without a confirmed record write.
func (s *WorkflowService) Apply(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if !Allowed(actor.Role, models.TransitionApply) {
		return nil, s.deny(ctx, request.ID, actor, models.TransitionApply, statusPtr(request.Status), request.Version, "role may not apply update requests")
	}

	if request.Status != models.RequestStatusApproved {
		if err := s.fail(ctx, request.ID, actor, models.TransitionApply, statusPtr(request.Status), request.Version, "request is not approved"); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request is not approved")
	}

	if err := s.records.SetField(ctx, request.TargetID, request.FieldName, request.NewValue); err != nil {
		if auditErr := s.fail(ctx, request.ID, actor, models.TransitionApply, statusPtr(request.Status), request.Version, "authoritative record write failed: "+err.Error()); auditErr != nil {
			return nil, auditErr
		}
		s.observe(models.TransitionApply, models.AuditOutcomeFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write authoritative record")
	}

	params := repository.TransitionParams{
		ID:              request.ID,
		ExpectedVersion: request.Version,
		Status:          models.RequestStatusApplied,
	}
	entry := newAuditEntry(actor, models.TransitionApply, models.AuditOutcomeSucceeded, statusPtr(models.RequestStatusApproved), statusPtr(models.RequestStatusApplied), "")

	if err := s.requests.Transition(ctx, params, entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another applier committed first. The record already holds
			// new_value either way, since apply copies the frozen snapshot.
			return nil, s.conflict(ctx, request, actor, models.TransitionApply)
		}
		if errors.Is(err, appErrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}

	request.Status = models.RequestStatusApplied
	request.Version++
	request.UpdatedAt = time.Now().UTC()

	s.observe(models.TransitionApply, models.AuditOutcomeSucceeded)
	s.invalidate(ctx, request)
	return request, nil
}

// Get returns a request, restricting students to their own submissions.
func (s *WorkflowService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && request.SubjectID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// ListBySubject returns a subject's requests, optionally filtered by status.
func (s *WorkflowService) ListBySubject(ctx context.Context, subjectID string, statuses []models.RequestStatus, actor *models.JWTClaims) ([]models.UpdateRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent && subjectID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}

	key := requestsCacheKey(subjectID, statuses)
	if s.cache != nil {
		var cached []models.UpdateRequest
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	requests, err := s.requests.List(ctx, models.RequestFilter{SubjectID: subjectID, Statuses: statuses})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list update requests")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, requests, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache request list", zap.Error(err))
		}
	}
	return requests, nil
}

// AuditTrail returns the ordered ledger for one request.
func (s *WorkflowService) AuditTrail(ctx context.Context, requestID string, actor *models.JWTClaims) ([]models.AuditEntry, error) {
	if _, err := s.Get(ctx, requestID, actor); err != nil {
		return nil, err
	}

	key := auditCacheKey(requestID)
	if s.cache != nil {
		var cached []models.AuditEntry
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	entries, err := s.audit.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, entries, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache audit trail", zap.Error(err))
		}
	}
	return entries, nil
}

func (s *WorkflowService) loadRequest(ctx context.Context, id string) (*models.UpdateRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

// deny records a policy denial and returns Forbidden. Denials must be as
// visible in the ledger as successes, so a failed append surfaces as
// AuditWriteFailed instead of the denial itself.
func (s *WorkflowService) deny(ctx context.Context, requestID string, actor *models.JWTClaims, action models.Transition, from *string, version int, detail string) error {
	entry := newAuditEntry(actor, action, models.AuditOutcomeDenied, from, nil, detail)
	entry.RequestID = requestID
	entry.RequestVersion = version
	if err := s.audit.Append(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "audit entry for denial could not be recorded")
	}
	s.observe(action, models.AuditOutcomeDenied)
	return appErrors.Clone(appErrors.ErrForbidden, detail)
}

// fail records a precondition failure without a state change.
func (s *WorkflowService) fail(ctx context.Context, requestID string, actor *models.JWTClaims, action models.Transition, from *string, version int, detail string) error {
	entry := newAuditEntry(actor, action, models.AuditOutcomeFailed, from, nil, detail)
	entry.RequestID = requestID
	entry.RequestVersion = version
	if err := s.audit.Append(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "audit entry for failed attempt could not be recorded")
	}
	return nil
}

// conflict records a lost optimistic-concurrency race and returns Conflict.
func (s *WorkflowService) conflict(ctx context.Context, request *models.UpdateRequest, actor *models.JWTClaims, action models.Transition) error {
	if err := s.fail(ctx, request.ID, actor, action, statusPtr(request.Status), request.Version, "lost optimistic concurrency race"); err != nil {
		return err
	}
	s.observe(action, models.AuditOutcomeFailed)
	return appErrors.Clone(appErrors.ErrConflict, "request was decided concurrently, re-read before retrying")
}

func (s *WorkflowService) observe(action models.Transition, outcome models.AuditOutcome) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(action, outcome)
	}
}

func (s *WorkflowService) invalidate(ctx context.Context, request *models.UpdateRequest) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "requests:subject:"+request.SubjectID+":*"); err != nil {
		s.logger.Warn("failed to invalidate request list cache", zap.Error(err))
	}
	if err := s.cache.DeleteByPattern(ctx, auditCacheKey(request.ID)); err != nil {
		s.logger.Warn("failed to invalidate audit trail cache", zap.Error(err))
	}
}

func newAuditEntry(actor *models.JWTClaims, action models.Transition, outcome models.AuditOutcome, from, to *string, detail string) *models.AuditEntry {
	return &models.AuditEntry{
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		Outcome:    outcome,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
	}
}

func statusPtr(status models.RequestStatus) *string {
	s := string(status)
	return &s
}

func requestsCacheKey(subjectID string, statuses []models.RequestStatus) string {
	if len(statuses) == 0 {
		return "requests:subject:" + subjectID + ":all"
	}
	parts := make([]string, len(statuses))
	for i, status := range statuses {
		parts[i] = string(status)
	}
	return "requests:subject:" + subjectID + ":" + strings.Join(parts, ",")
}

func auditCacheKey(requestID string) string {
	return "audit:request:" + requestID
}
