package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-dwa-api/internal/models"
)

// AuditRepository persists the append-only transition ledger.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditInsertQuery = `INSERT INTO audit_entries
	(id, request_id, actor_id, actor_role, action, outcome, from_status, to_status, request_version, detail, created_at)
	VALUES (:id, :request_id, :actor_id, :actor_role, :action, :outcome, :from_status, :to_status, :request_version, :detail, :created_at)`

// Append inserts a ledger entry outside any transaction. Used for denied
// attempts and failed external writes, where no state change accompanies
// the entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return appendAuditEntry(ctx, r.db, entry)
}

// AppendTx inserts a ledger entry inside the caller's transaction so a state
// write and its audit entry commit or roll back together.
func (r *AuditRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *models.AuditEntry) error {
	return appendAuditEntry(ctx, tx, entry)
}

// ListByRequest returns the full trail for one request, ordered by the
// version sequence at transition time rather than arrival order.
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID string) ([]models.AuditEntry, error) {
	const query = `SELECT id, request_id, actor_id, actor_role, action, outcome, from_status, to_status, request_version, detail, created_at
	FROM audit_entries WHERE request_id = $1
	ORDER BY request_version ASC, created_at ASC, id ASC`
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func appendAuditEntry(ctx context.Context, ext sqlx.ExtContext, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := sqlx.NamedExecContext(ctx, ext, auditInsertQuery, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
