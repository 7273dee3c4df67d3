package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
)

// pendingUniqueConstraint guards the at-most-one-pending-request-per-field
// invariant at the database level (partial unique index, see migrations).
const pendingUniqueConstraint = "uq_update_requests_pending"

const requestColumns = `id, subject_id, target_entity, target_id, field_name, old_value, new_value,
       status, reviewer_id, feedback, version, created_at, updated_at`

// RequestRepository persists update request workflow data. State writes and
// their audit entries share one transaction so neither is ever observable
// without the other.
type RequestRepository struct {
	db    *sqlx.DB
	audit *AuditRepository
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB, audit *AuditRepository) *RequestRepository {
	return &RequestRepository{db: db, audit: audit}
}

// Create inserts a new request together with its submit audit entry.
// A concurrent duplicate for the same pending triple loses on the partial
// unique index and surfaces as ErrDuplicatePending.
func (r *RequestRepository) Create(ctx context.Context, request *models.UpdateRequest, entry *models.AuditEntry) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	if request.Version == 0 {
		request.Version = 1
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = request.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create request: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO update_requests
	(id, subject_id, target_entity, target_id, field_name, old_value, new_value, status, reviewer_id, feedback, version, created_at, updated_at)
	VALUES (:id, :subject_id, :target_entity, :target_id, :field_name, :old_value, :new_value, :status, :reviewer_id, :feedback, :version, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, request); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == pendingUniqueConstraint {
			return appErrors.ErrDuplicatePending
		}
		return fmt.Errorf("create update request: %w", err)
	}

	entry.RequestID = request.ID
	entry.RequestVersion = request.Version
	if err := r.audit.AppendTx(ctx, tx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "audit entry for submit could not be recorded")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.UpdateRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM update_requests WHERE id = $1`
	var request models.UpdateRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindPendingBy returns the pending request for a subject/target/field
// triple, or sql.ErrNoRows when none exists.
func (r *RequestRepository) FindPendingBy(ctx context.Context, subjectID, targetEntity, targetID, fieldName string) (*models.UpdateRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM update_requests
	WHERE subject_id = $1 AND target_entity = $2 AND target_id = $3 AND field_name = $4 AND status = $5`
	var request models.UpdateRequest
	if err := r.db.GetContext(ctx, &request, query, subjectID, targetEntity, targetID, fieldName, models.RequestStatusPending); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter (newest first).
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.UpdateRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM update_requests`)

	conditions := make([]string, 0, 2)
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.UpdateRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list update requests: %w", err)
	}
	return requests, nil
}

// TransitionParams groups the mutable columns for a state transition.
// ExpectedVersion is the optimistic concurrency guard: the update commits
// only if the stored version still matches.
type TransitionParams struct {
	ID              string
	ExpectedVersion int
	Status          models.RequestStatus
	ReviewerID      *string
	Feedback        *string
	UpdatedAt       time.Time
}

// Transition performs the compare-and-swap state write and appends the audit
// entry in the same transaction. Zero rows affected means the version moved
// underneath the caller (or the id is unknown) and yields sql.ErrNoRows.
func (r *RequestRepository) Transition(ctx context.Context, params TransitionParams, entry *models.AuditEntry) error {
	if params.UpdatedAt.IsZero() {
		params.UpdatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	setParts := []string{
		"status = :status",
		"version = version + 1",
		"updated_at = :updated_at",
	}
	if params.ReviewerID != nil {
		setParts = append(setParts, "reviewer_id = :reviewer_id")
	}
	if params.Feedback != nil {
		setParts = append(setParts, "feedback = :feedback")
	}
	query := fmt.Sprintf("UPDATE update_requests SET %s WHERE id = :id AND version = :expected_version",
		strings.Join(setParts, ", "))

	result, err := tx.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"expected_version": params.ExpectedVersion,
		"status":           params.Status,
		"reviewer_id":      params.ReviewerID,
		"feedback":         params.Feedback,
		"updated_at":       params.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("transition update request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	entry.RequestID = params.ID
	entry.RequestVersion = params.ExpectedVersion + 1
	if err := r.audit.AppendTx(ctx, tx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrAuditWriteFailed.Code, appErrors.ErrAuditWriteFailed.Status, "audit entry for transition could not be recorded")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}
