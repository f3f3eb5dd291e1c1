package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "plantwatch/internal/alarms/domain"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "alarms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db, DialectSQLite))
	return db
}

func sampleEvent(id string, at time.Time) alarms.Event {
	value := 2.6
	return alarms.Event{
		ID:           id,
		ScenarioID:   "S001",
		ScenarioName: "Membrane pressure high",
		Level:        alarms.LevelWarning,
		TriggeredAt:  at,
		ConditionsMet: []alarms.ConditionResult{
			{Index: 0, Tag: "TMP", Operator: alarms.OperatorGreater, Threshold: 2.5, Value: &value, Met: true},
		},
		ActionsTaken: []string{"notify", "adjust (delayed 30s)"},
		SensorValues: map[string]float64{"TMP": 2.6, "DP": 1.1},
		Message:      "[WARNING] Membrane pressure high: TMP above warning level",
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $10`
	assert.Equal(t, q, DialectPostgres.Rebind(q))
	assert.Equal(t, `SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?`, DialectSQLite.Rebind(q))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)
	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestEventRepositoryRoundTripSQLite(t *testing.T) {
	db := openSQLite(t)
	repo := NewEventRepository(db, DialectSQLite)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleEvent("evt-1", t0)))
	require.NoError(t, repo.Save(ctx, sampleEvent("evt-1", t0)), "duplicate ids are ignored")
	require.NoError(t, repo.Save(ctx, sampleEvent("evt-2", t0.Add(2*time.Hour))))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := repo.ListSince(ctx, t0.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, "evt-2", got.ID)
	assert.Equal(t, t0.Add(2*time.Hour), got.TriggeredAt)
	assert.Equal(t, alarms.LevelWarning, got.Level)
	assert.Equal(t, []string{"notify", "adjust (delayed 30s)"}, got.ActionsTaken)
	assert.Equal(t, map[string]float64{"TMP": 2.6, "DP": 1.1}, got.SensorValues)
	require.Len(t, got.ConditionsMet, 1)
	require.NotNil(t, got.ConditionsMet[0].Value)
	assert.Equal(t, 2.6, *got.ConditionsMet[0].Value)

	all, err := repo.ListSince(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "evt-2", all[0].ID, "newest first")
}

func TestStateRepositoryUpsertSQLite(t *testing.T) {
	db := openSQLite(t)
	repo := NewStateRepository(db, DialectSQLite)
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, alarms.ScenarioState{ScenarioID: "S001", Enabled: true, UpdatedAt: t0}))
	last := t0.Add(time.Minute)
	require.NoError(t, repo.SaveState(ctx, alarms.ScenarioState{ScenarioID: "S001", Enabled: false, LastTriggered: &last, UpdatedAt: last}))
	require.NoError(t, repo.SaveState(ctx, alarms.ScenarioState{ScenarioID: "S002", Enabled: true, UpdatedAt: t0}))

	states, err := repo.ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "S001", states[0].ScenarioID)
	assert.False(t, states[0].Enabled)
	require.NotNil(t, states[0].LastTriggered)
	assert.Equal(t, last, *states[0].LastTriggered)
	assert.True(t, states[1].Enabled)
	assert.Nil(t, states[1].LastTriggered)
}

func TestRepositoriesPostgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db, DialectPostgres))

	id := "evt-it-" + time.Now().UTC().Format("20060102150405.000000000")
	events := NewEventRepository(db, DialectPostgres)
	require.NoError(t, events.Save(ctx, sampleEvent(id, t0)))
	require.NoError(t, events.Save(ctx, sampleEvent(id, t0)))
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM alarm_history WHERE event_id = $1`, id) })

	list, err := events.ListSince(ctx, t0, 1000)
	require.NoError(t, err)
	found := false
	for _, e := range list {
		if e.ID == id {
			found = true
			assert.Equal(t, t0, e.TriggeredAt)
		}
	}
	assert.True(t, found)

	states := NewStateRepository(db, DialectPostgres)
	require.NoError(t, states.SaveState(ctx, alarms.ScenarioState{ScenarioID: "S-it", Enabled: false, UpdatedAt: t0}))
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM scenario_states WHERE scenario_id = 'S-it'`) })
	all, err := states.ListStates(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, all)
}
