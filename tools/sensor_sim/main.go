package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"plantwatch/internal/alarms/infrastructure/sqlstore"
	"plantwatch/internal/auth"
	"plantwatch/internal/logging"
	plantmqtt "plantwatch/internal/telemetry/interfaces/mqtt"
)

type config struct {
	mode         string
	profile      string
	steps        int
	interval     time.Duration
	noise        float64
	seed         int64
	dsn          string
	backfill     int
	broker       string
	sensorPrefix string
	baseURL      string
	ingestSecret string
}

func main() {
	cfg := parseConfig()
	logger := logging.MustNew("info", "console")
	defer func() { _ = logger.Sync() }()

	p, err := lookupProfile(cfg.profile)
	if err != nil {
		logger.Fatal("invalid profile", zap.Error(err))
	}
	if cfg.steps <= 0 {
		logger.Fatal("steps must be > 0")
	}
	rng := rand.New(rand.NewSource(cfg.seed))
	ctx := context.Background()

	var emit func(ctx context.Context, at time.Time, values map[string]float64) error
	switch cfg.mode {
	case "seed":
		db, err := sqlstore.OpenPostgres(ctx, cfg.dsn)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		defer db.Close()
		if err := ensureTelemetryTables(ctx, db); err != nil {
			logger.Fatal("create telemetry tables", zap.Error(err))
		}
		if cfg.backfill > 0 {
			if err := backfill(ctx, db, p, cfg, rng); err != nil {
				logger.Fatal("backfill", zap.Error(err))
			}
			logger.Info("aggregates backfilled", zap.Int("minutes", cfg.backfill))
		}
		emit = func(ctx context.Context, at time.Time, values map[string]float64) error {
			return upsertLatest(ctx, db, at, values)
		}
	case "mqtt":
		client, err := plantmqtt.NewClient(plantmqtt.ClientConfig{Broker: cfg.broker, ClientID: "plantwatch-sensor-sim"}, logger)
		if err != nil {
			logger.Fatal("mqtt connect", zap.Error(err))
		}
		defer client.Close()
		emit = func(_ context.Context, at time.Time, values map[string]float64) error {
			return publishMQTT(client, cfg.sensorPrefix, at, values)
		}
	case "push":
		httpClient := &http.Client{Timeout: 10 * time.Second}
		emit = func(ctx context.Context, at time.Time, values map[string]float64) error {
			return pushHTTP(ctx, httpClient, cfg.baseURL, []byte(cfg.ingestSecret), at, values)
		}
	default:
		logger.Fatal("unknown mode", zap.String("mode", cfg.mode))
	}

	for step := 0; step < cfg.steps; step++ {
		at := time.Now().UTC()
		values := p.values(step, cfg.steps, cfg.noise, rng)
		if err := emit(ctx, at, values); err != nil {
			logger.Fatal("emit readings", zap.Int("step", step), zap.Error(err))
		}
		logger.Info("readings sent", zap.Int("step", step+1), zap.Any("values", values))
		if step < cfg.steps-1 {
			time.Sleep(cfg.interval)
		}
	}
	logger.Info("sensor simulation completed", zap.String("profile", p.name), zap.String("mode", cfg.mode))
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.mode, "mode", envOrDefault("SIM_MODE", "push"), "seed | mqtt | push")
	flag.StringVar(&cfg.profile, "profile", envOrDefault("SIM_PROFILE", "normal"), "normal | tmp-rise | cond-spike | pump | overpressure")
	flag.IntVar(&cfg.steps, "steps", envOrInt("SIM_STEPS", 60), "number of readings per tag")
	flag.DurationVar(&cfg.interval, "interval", time.Second, "delay between steps")
	flag.Float64Var(&cfg.noise, "noise", 0.01, "relative noise on undriven tags")
	flag.Int64Var(&cfg.seed, "seed", 1, "random seed")
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN for seed mode")
	flag.IntVar(&cfg.backfill, "backfill-minutes", envOrInt("SIM_BACKFILL_MINUTES", 30), "minutes of one-minute aggregates to write in seed mode")
	flag.StringVar(&cfg.broker, "broker", envOrDefault("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker for mqtt mode")
	flag.StringVar(&cfg.sensorPrefix, "sensor-prefix", envOrDefault("SIM_SENSOR_PREFIX", "plant/sensors/"), "MQTT topic prefix")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080"), "API base URL for push mode")
	flag.StringVar(&cfg.ingestSecret, "ingest-secret", envOrDefault("INGEST_HMAC_SECRET", ""), "HMAC secret for push mode")
	flag.Parse()
	return cfg
}

func ensureTelemetryTables(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS influx_latest (
	tag_name TEXT PRIMARY KEY,
	value DOUBLE PRECISION,
	ts TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS influx_agg_1m (
	tag_name TEXT NOT NULL,
	bucket TIMESTAMPTZ NOT NULL,
	avg DOUBLE PRECISION,
	PRIMARY KEY (tag_name, bucket)
)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func upsertLatest(ctx context.Context, db *sql.DB, at time.Time, values map[string]float64) error {
	const upsertSQL = `
INSERT INTO influx_latest (tag_name, value, ts)
VALUES ($1, $2, $3)
ON CONFLICT (tag_name) DO UPDATE SET value = EXCLUDED.value, ts = EXCLUDED.ts`
	for tag, value := range values {
		if _, err := db.ExecContext(ctx, upsertSQL, tag, value, at); err != nil {
			return fmt.Errorf("upsert %s: %w", tag, err)
		}
	}
	return nil
}

func backfill(ctx context.Context, db *sql.DB, p profile, cfg config, rng *rand.Rand) error {
	const insertSQL = `
INSERT INTO influx_agg_1m (tag_name, bucket, avg)
VALUES ($1, $2, $3)
ON CONFLICT (tag_name, bucket) DO UPDATE SET avg = EXCLUDED.avg`
	end := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < cfg.backfill; i++ {
		bucket := end.Add(time.Duration(i-cfg.backfill) * time.Minute)
		for tag, value := range p.values(i, cfg.backfill, cfg.noise, rng) {
			if _, err := db.ExecContext(ctx, insertSQL, tag, bucket, value); err != nil {
				return fmt.Errorf("insert %s@%s: %w", tag, bucket.Format(time.RFC3339), err)
			}
		}
	}
	return nil
}

func publishMQTT(client *plantmqtt.Client, prefix string, at time.Time, values map[string]float64) error {
	for tag, value := range values {
		payload, err := json.Marshal(map[string]any{"value": value, "ts": at.Format(time.RFC3339Nano)})
		if err != nil {
			return err
		}
		token := client.Native().Publish(prefix+tag, 1, false, payload)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("publish %s: %w", tag, token.Error())
		}
	}
	return nil
}

func pushHTTP(ctx context.Context, client *http.Client, baseURL string, secret []byte, at time.Time, values map[string]float64) error {
	body, err := json.Marshal(map[string]any{"ts": at.UnixMilli(), "values": values})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(secret) > 0 {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(auth.HeaderIngestTimestamp, ts)
		req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest(secret, ts, body))
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingest failed: http %d", resp.StatusCode)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
