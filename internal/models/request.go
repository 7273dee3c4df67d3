package models

import "time"

// RequestStatus captures workflow states for update requests.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
	RequestStatusApplied  RequestStatus = "APPLIED"
)

// Transition names the role-gated state changes of an update request.
type Transition string

const (
	TransitionSubmit  Transition = "SUBMIT"
	TransitionApprove Transition = "APPROVE"
	TransitionReject  Transition = "REJECT"
	TransitionApply   Transition = "APPLY"
)

// UpdateRequest stores a single field-change proposal moving through the
// review workflow. OldValue and NewValue are frozen at creation and never
// recomputed; Version increments on every successful transition and backs
// the optimistic concurrency guard.
type UpdateRequest struct {
	ID           string        `db:"id" json:"id"`
	SubjectID    string        `db:"subject_id" json:"subject_id"`
	TargetEntity string        `db:"target_entity" json:"target_entity"`
	TargetID     string        `db:"target_id" json:"target_id"`
	FieldName    string        `db:"field_name" json:"field_name"`
	OldValue     string        `db:"old_value" json:"old_value"`
	NewValue     string        `db:"new_value" json:"new_value"`
	Status       RequestStatus `db:"status" json:"status"`
	ReviewerID   *string       `db:"reviewer_id" json:"reviewer_id,omitempty"`
	Feedback     *string       `db:"feedback" json:"feedback,omitempty"`
	Version      int           `db:"version" json:"version"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	SubjectID string
	Statuses  []RequestStatus
	Limit     int
	Offset    int
}
