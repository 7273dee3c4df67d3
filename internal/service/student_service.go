package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
)

type studentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// StudentService exposes read access to the authoritative student record.
// Writes to governed fields never go through here; they flow exclusively
// through the update request workflow.
type StudentService struct {
	repo   studentRepository
	logger *zap.Logger
}

// NewStudentService constructs the service.
func NewStudentService(repo studentRepository, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, logger: logger}
}

// Get returns a student record. Students may only read their own record;
// staff and admin may read any.
func (s *StudentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Student, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch student")
	}
	if actor.Role == models.RoleStudent && student.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return student, nil
}
