package audit

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantwatch/internal/alarms/infrastructure/sqlstore"
	"plantwatch/internal/auth"
)

func TestRepositoryLogsToSQLite(t *testing.T) {
	db, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, sqlstore.Migrate(ctx, db, sqlstore.DialectSQLite))

	req := httptest.NewRequest("POST", "/api/v1/scenarios/S001/disable", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{Site: "plant-a", Role: auth.RoleOperator, Subject: "alice"}))
	entry := FromRequest(req, ActionScenarioDisable, "scenario", "S001", map[string]bool{"enabled": false})
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, "operator", entry.Role)
	assert.Equal(t, "plant-a", entry.Site)
	assert.Equal(t, "10.0.0.7", entry.IP)

	repo := NewRepository(db, sqlstore.DialectSQLite)
	require.NoError(t, repo.Log(ctx, entry))
	n, err := repo.Count(ctx, ActionScenarioDisable)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", ClientIP(req))

	req.Header.Set("X-Real-IP", " 10.1.1.1 ")
	assert.Equal(t, "10.1.1.1", ClientIP(req))
}
