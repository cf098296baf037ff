package repository

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/athsys-api/internal/models"
)

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	userID := int64(5)
	entry := &models.AuditLog{UserID: &userID, Action: models.AuditActionLogin, Resource: "auth", Status: models.AuditStatusSuccess}
	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.JSONEq(t, `{}`, string(entry.Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLogError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("relation does not exist"))

	err := repo.Create(context.Background(), &models.AuditLog{Action: models.AuditActionLogout, Resource: "auth"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create audit log")
}
