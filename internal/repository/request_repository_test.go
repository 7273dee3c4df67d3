package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-dwa-api/internal/models"
	appErrors "github.com/noah-isme/campus-dwa-api/pkg/errors"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func pendingRequest() *models.UpdateRequest {
	return &models.UpdateRequest{
		SubjectID:    "user-1",
		TargetEntity: "student",
		TargetID:     "student-1",
		FieldName:    "phone",
		OldValue:     "111",
		NewValue:     "222",
	}
}

func submitEntry() *models.AuditEntry {
	return &models.AuditEntry{
		ActorID:   "user-1",
		ActorRole: models.RoleStudent,
		Action:    models.TransitionSubmit,
		Outcome:   models.AuditOutcomeSucceeded,
	}
}

func TestRequestRepositoryCreateCommitsRequestAndAudit(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO update_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	request := pendingRequest()
	entry := submitEntry()
	require.NoError(t, repo.Create(context.Background(), request, entry))

	require.NotEmpty(t, request.ID)
	require.Equal(t, models.RequestStatusPending, request.Status)
	require.Equal(t, 1, request.Version)
	require.Equal(t, request.ID, entry.RequestID)
	require.Equal(t, 1, entry.RequestVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateDuplicatePending(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO update_requests")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: pendingUniqueConstraint})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), pendingRequest(), submitEntry())
	require.ErrorIs(t, err, appErrors.ErrDuplicatePending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateRollsBackOnAuditFailure(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO update_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), pendingRequest(), submitEntry())
	require.ErrorIs(t, err, appErrors.ErrAuditWriteFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryTransitionCommitsStateAndAudit(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE update_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reviewer := "staff-1"
	entry := &models.AuditEntry{
		ActorID:   reviewer,
		ActorRole: models.RoleStaff,
		Action:    models.TransitionApprove,
		Outcome:   models.AuditOutcomeSucceeded,
	}
	err := repo.Transition(context.Background(), TransitionParams{
		ID:              "req-1",
		ExpectedVersion: 1,
		Status:          models.RequestStatusApproved,
		ReviewerID:      &reviewer,
	}, entry)
	require.NoError(t, err)
	require.Equal(t, "req-1", entry.RequestID)
	require.Equal(t, 2, entry.RequestVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryTransitionStaleVersion(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE update_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), TransitionParams{
		ID:              "req-1",
		ExpectedVersion: 1,
		Status:          models.RequestStatusRejected,
	}, &models.AuditEntry{Action: models.TransitionReject})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "subject_id", "target_entity", "target_id", "field_name", "old_value", "new_value", "status", "reviewer_id", "feedback", "version", "created_at", "updated_at"}).
		AddRow("req-1", "user-1", "student", "student-1", "phone", "111", "222", "PENDING", nil, nil, 1, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subject_id, target_entity")).
		WithArgs("req-1").
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, "req-1", found.ID)
	require.Equal(t, models.RequestStatusPending, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db, NewAuditRepository(db))

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "subject_id", "target_entity", "target_id", "field_name", "old_value", "new_value", "status", "reviewer_id", "feedback", "version", "created_at", "updated_at"}).
		AddRow("req-1", "user-1", "student", "student-1", "phone", "111", "222", "PENDING", nil, nil, 1, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, subject_id, target_entity")).
		WithArgs("user-1", "PENDING").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.RequestFilter{
		SubjectID: "user-1",
		Statuses:  []models.RequestStatus{models.RequestStatusPending},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
