package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/pkg/jobs"
)

type auditStoreStub struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
}

func (s *auditStoreStub) Create(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *auditStoreStub) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func TestAuditServiceRecordsAsynchronously(t *testing.T) {
	store := &auditStoreStub{}
	audit := NewAuditService(store, jobs.QueueConfig{Workers: 1, BufferSize: 4}, nil)
	audit.Start(context.Background())

	audit.Record(&models.AuditLog{Action: models.AuditActionLogin, Resource: "auth"})
	audit.Record(&models.AuditLog{Action: models.AuditActionLogout, Resource: "auth"})

	require.Eventually(t, func() bool { return len(store.actions()) == 2 }, 2*time.Second, 10*time.Millisecond)
	audit.Stop()

	assert.ElementsMatch(t, []string{models.AuditActionLogin, models.AuditActionLogout}, store.actions())
	for _, e := range store.entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, models.AuditStatusSuccess, e.Status)
	}
}

func TestAuditServiceDropsWhenStopped(t *testing.T) {
	store := &auditStoreStub{err: errors.New("unused")}
	audit := NewAuditService(store, jobs.QueueConfig{}, nil)

	assert.NotPanics(t, func() {
		audit.Record(&models.AuditLog{Action: models.AuditActionCreate})
	})

	var nilAudit *AuditService
	assert.NotPanics(t, func() { nilAudit.Record(&models.AuditLog{}) })
}

func TestAuditDetails(t *testing.T) {
	assert.Nil(t, AuditDetails(nil))
	assert.JSONEq(t, `{"reason":"bad password"}`, string(AuditDetails(map[string]interface{}{"reason": "bad password"})))
}
