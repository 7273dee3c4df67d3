package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
)

type studentRepoStub struct {
	students map[string]*models.Student
}

func (s *studentRepoStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if student, ok := s.students[id]; ok {
		copied := *student
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func TestStudentServiceGet(t *testing.T) {
	repo := &studentRepoStub{students: map[string]*models.Student{
		"student-1": {ID: "student-1", UserID: "user-1", NIS: "12345", FullName: "Andi Pratama"},
	}}
	svc := NewStudentService(repo, nil)

	student, err := svc.Get(context.Background(), "student-1", studentActor("user-1"))
	require.NoError(t, err)
	require.Equal(t, "12345", student.NIS)

	student, err = svc.Get(context.Background(), "student-1", staffActor("staff-1"))
	require.NoError(t, err)
	require.Equal(t, "student-1", student.ID)

	_, err = svc.Get(context.Background(), "student-1", studentActor("user-2"))
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Get(context.Background(), "missing", staffActor("staff-1"))
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
