package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-dwa-api/internal/models"
)

// editableColumns whitelists the student columns reachable through the
// workflow. Field names arrive from request payloads and must never be
// interpolated into SQL without this check.
var editableColumns = map[string]string{
	"phone":          "phone",
	"address":        "address",
	"guardian_phone": "guardian_phone",
}

// StudentRepository reads and writes the authoritative student record.
// SetField is only ever called by the apply transition; no other code path
// writes governed fields.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a student row.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, user_id, nis, full_name, phone, address, guardian_phone, active, created_at, updated_at
	FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// Owner returns the principal id owning the record.
func (r *StudentRepository) Owner(ctx context.Context, id string) (string, error) {
	const query = `SELECT user_id FROM students WHERE id = $1`
	var owner string
	if err := r.db.GetContext(ctx, &owner, query, id); err != nil {
		return "", err
	}
	return owner, nil
}

// GetField reads the current value of a governed column.
func (r *StudentRepository) GetField(ctx context.Context, id, fieldName string) (string, error) {
	column, ok := editableColumns[fieldName]
	if !ok {
		return "", fmt.Errorf("unknown student field %q", fieldName)
	}
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, column)
	var value string
	if err := r.db.GetContext(ctx, &value, query, id); err != nil {
		return "", err
	}
	return value, nil
}

// SetField writes a governed column. Callers copy the frozen new_value of an
// approved request, so retries are idempotent.
func (r *StudentRepository) SetField(ctx context.Context, id, fieldName, value string) error {
	column, ok := editableColumns[fieldName]
	if !ok {
		return fmt.Errorf("unknown student field %q", fieldName)
	}
	query := fmt.Sprintf(`UPDATE students SET %s = $1, updated_at = NOW() WHERE id = $2`, column)
	result, err := r.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("set student field %s: %w", fieldName, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check student field update rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("student %s not found", id)
	}
	return nil
}
