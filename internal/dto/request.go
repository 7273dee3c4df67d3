package dto

// SubmitUpdateRequest payload for proposing a single field change.
type SubmitUpdateRequest struct {
	TargetEntity string `json:"target_entity" validate:"required"`
	TargetID     string `json:"target_id" validate:"required"`
	FieldName    string `json:"field_name" validate:"required"`
	NewValue     string `json:"new_value" validate:"required"`
}

// DecideOutcome enumerates reviewer decisions.
type DecideOutcome string

const (
	DecideOutcomeApprove DecideOutcome = "APPROVE"
	DecideOutcomeReject  DecideOutcome = "REJECT"
)

// DecideUpdateRequest captures a reviewer decision and optional feedback.
// Feedback is mandatory when the outcome is REJECT.
type DecideUpdateRequest struct {
	Outcome  DecideOutcome `json:"outcome" validate:"required"`
	Feedback string        `json:"feedback"`
}
