package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/alarms/infrastructure/sqlstore"
	"plantwatch/internal/config"
	"plantwatch/internal/evaluation"
	monitoringapp "plantwatch/internal/monitoring/application"
	monitoring "plantwatch/internal/monitoring/domain"
	monitoringpg "plantwatch/internal/monitoring/infrastructure/postgres"
	telemetrypg "plantwatch/internal/telemetry/infrastructure/postgres"
)

const (
	latestTable    = "it_influx_latest"
	aggregateTable = "it_influx_agg_1m"
)

type noopHandler struct{}

func (noopHandler) Handle(context.Context, alarms.Scenario, alarms.Action) error { return nil }

func TestClosedLoop_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	ctx := context.Background()
	db, err := sqlstore.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := sqlstore.Migrate(ctx, db, sqlstore.DialectPostgres); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	seedTelemetry(t, db)
	_, _ = db.ExecContext(ctx, "DELETE FROM alarm_history WHERE scenario_id IN ('S001', 'S002')")
	_, _ = db.ExecContext(ctx, "DELETE FROM scenario_states")

	monitor, err := monitoringapp.NewMonitor(
		monitoring.NewThresholdTable(config.DefaultThresholds()),
		monitoringapp.WithHistoryReader(monitoringpg.NewHistoryQuery(db, monitoringpg.WithAggregateTable(aggregateTable))),
		monitoringapp.WithLookback(2*time.Hour),
	)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}

	events := sqlstore.NewEventRepository(db, sqlstore.DialectPostgres)
	states := sqlstore.NewStateRepository(db, sqlstore.DialectPostgres)
	recorder := alarmapp.NewRecorder(alarmapp.WithEventRepository(events), alarmapp.WithStateRepository(states))
	store, err := alarmapp.NewScenarioStore(config.DefaultScenarios())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	handlers := map[alarms.ActionType]alarmapp.ActionHandler{}
	for _, actionType := range []alarms.ActionType{alarms.ActionLog, alarms.ActionNotify, alarms.ActionAdjust, alarms.ActionStop, alarms.ActionEmergency, alarms.ActionMaintenance} {
		handlers[actionType] = noopHandler{}
	}
	engine, err := alarmapp.NewEngine(store, alarmapp.NewDispatcher(handlers), recorder)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	loop, err := evaluation.NewLoop(telemetrypg.NewLatestReader(db, telemetrypg.WithLatestTable(latestTable)), monitor, engine)
	if err != nil {
		t.Fatalf("loop: %v", err)
	}

	t0 := time.Now().UTC()
	first, err := loop.Tick(ctx, t0)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(first.Violations) != 2 {
		t.Fatalf("expected TMP and COND violations, got %+v", first.Violations)
	}
	if first.Violations[0].PredictedMinutesToCritical == nil && first.Violations[1].PredictedMinutesToCritical == nil {
		t.Fatalf("expected a trend prediction from the aggregate table")
	}
	if len(first.Events) != 1 || first.Events[0].ScenarioID != "S002" {
		t.Fatalf("expected only S002 on first tick, got %+v", first.Events)
	}

	second, err := loop.Tick(ctx, t0.Add(61*time.Second))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(second.Events) != 1 || second.Events[0].ScenarioID != "S001" {
		t.Fatalf("expected S001 after its duration, got %+v", second.Events)
	}
	recorder.Close()

	stored, err := events.ListSince(ctx, t0.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(stored))
	}
	if stored[0].ScenarioID != "S001" {
		t.Fatalf("expected newest first, got %s", stored[0].ScenarioID)
	}

	persisted, err := states.ListStates(ctx)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("expected 2 scenario states, got %d", len(persisted))
	}
}

func seedTelemetry(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	statements := []string{
		"DROP TABLE IF EXISTS " + latestTable,
		"DROP TABLE IF EXISTS " + aggregateTable,
		"CREATE TABLE " + latestTable + " (tag_name TEXT PRIMARY KEY, value DOUBLE PRECISION, ts TIMESTAMPTZ)",
		"CREATE TABLE " + aggregateTable + " (tag_name TEXT, bucket TIMESTAMPTZ, avg DOUBLE PRECISION)",
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed schema: %v", err)
		}
	}
	now := time.Now().UTC()
	for tag, value := range map[string]float64{"TMP": 2.6, "COND": 460, "PH": 7.2, "DP": 0.5, "FLOW": 95} {
		if _, err := db.ExecContext(ctx, "INSERT INTO "+latestTable+" (tag_name, value, ts) VALUES ($1, $2, $3)", tag, value, now); err != nil {
			t.Fatalf("seed latest: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		bucket := now.Add(time.Duration(i-20) * time.Minute)
		if _, err := db.ExecContext(ctx, "INSERT INTO "+aggregateTable+" (tag_name, bucket, avg) VALUES ($1, $2, $3)", "TMP", bucket, 2.2+float64(i)*0.02); err != nil {
			t.Fatalf("seed aggregates: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+latestTable)
		_, _ = db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+aggregateTable)
	})
}
