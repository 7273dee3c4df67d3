package models

import "time"

// AuditOutcome classifies the result of an attempted transition.
type AuditOutcome string

const (
	AuditOutcomeSucceeded AuditOutcome = "SUCCEEDED"
	AuditOutcomeDenied    AuditOutcome = "DENIED"
	AuditOutcomeFailed    AuditOutcome = "FAILED"
)

// AuditEntry is one row of the append-only accountability ledger. Entries
// for a single request are ordered by RequestVersion (the version the
// request held after the attempted transition), not by wall-clock arrival.
// Rows are never mutated or deleted.
type AuditEntry struct {
	ID             string       `db:"id" json:"id"`
	RequestID      string       `db:"request_id" json:"request_id"`
	ActorID        string       `db:"actor_id" json:"actor_id"`
	ActorRole      UserRole     `db:"actor_role" json:"actor_role"`
	Action         Transition   `db:"action" json:"action"`
	Outcome        AuditOutcome `db:"outcome" json:"outcome"`
	FromStatus     *string      `db:"from_status" json:"from_status,omitempty"`
	ToStatus       *string      `db:"to_status" json:"to_status,omitempty"`
	RequestVersion int          `db:"request_version" json:"request_version"`
	Detail         string       `db:"detail" json:"detail,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}
