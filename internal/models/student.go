package models

import "time"

// Student is the authoritative record governed by the update workflow.
// Fields proposed for change are only ever written by the apply transition.
type Student struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	NIS           string    `db:"nis" json:"nis"`
	FullName      string    `db:"full_name" json:"full_name"`
	Phone         string    `db:"phone" json:"phone"`
	Address       string    `db:"address" json:"address"`
	GuardianPhone string    `db:"guardian_phone" json:"guardian_phone"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
