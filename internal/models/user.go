package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleStaff   UserRole = "STAFF"
	RoleAdmin   UserRole = "ADMIN"
	// RoleSystem is a reserved tag for internal actors (apply workers,
	// scheduled processes). It is never issued to an authenticated user.
	RoleSystem UserRole = "SYSTEM"
)

// KnownRole reports whether the role is one the system recognises.
// Unrecognised roles are always denied by the authorization policy.
func KnownRole(role UserRole) bool {
	switch role {
	case RoleStudent, RoleStaff, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
