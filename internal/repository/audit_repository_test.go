package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-dwa-api/internal/models"
)

func newAuditRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAuditRepositoryAppendAssignsIdentity(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AuditEntry{
		RequestID: "req-1",
		ActorID:   "staff-1",
		ActorRole: models.RoleStaff,
		Action:    models.TransitionApprove,
		Outcome:   models.AuditOutcomeDenied,
	}
	require.NoError(t, repo.Append(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListByRequest(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "request_id", "actor_id", "actor_role", "action", "outcome", "from_status", "to_status", "request_version", "detail", "created_at"}).
		AddRow("aud-1", "req-1", "user-1", "STUDENT", "SUBMIT", "SUCCEEDED", nil, "PENDING", 1, "", now).
		AddRow("aud-2", "req-1", "staff-1", "STAFF", "APPROVE", "SUCCEEDED", "PENDING", "APPROVED", 2, "", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_id, actor_id")).
		WithArgs("req-1").
		WillReturnRows(rows)

	entries, err := repo.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, models.TransitionSubmit, entries[0].Action)
	require.Equal(t, 2, entries[1].RequestVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}
