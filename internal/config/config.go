package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	alarms "plantwatch/internal/alarms/domain"
	monitoring "plantwatch/internal/monitoring/domain"
)

// Config holds the process settings.
type Config struct {
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
	TickInterval time.Duration
	HistoryLimit int

	EventStore  string
	SQLitePath  string
	DatabaseURL string

	SnapshotSource     string
	SnapshotMaxAge     time.Duration
	HistorySource      string
	PredictionLookback time.Duration

	MQTTBroker       string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTSensorTopic  string
	MQTTCommandTopic string

	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseTable    string

	KafkaBrokers []string
	KafkaTopic   string

	AlarmWebhookURL         string
	AlarmWebhookSecret      string
	AlarmWebhookRetries     int
	AlarmNotifyTemplate     string
	AlarmNotifyCooldown     time.Duration
	AlarmNotifyDedupeWindow time.Duration
	AlarmWebhookEvents      bool
	ActionTimeout           time.Duration

	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int

	PlantFile string
	Plant     Plant
}

// Plant is the threshold table and scenario set of one plant.
type Plant struct {
	Thresholds []monitoring.ThresholdConfig `yaml:"thresholds"`
	Scenarios  []alarms.Scenario            `yaml:"scenarios"`
}

// UnmarshalYAML decodes a plant file. Scenarios that omit enabled or
// cooldown_seconds start enabled with the default cooldown.
func (p *Plant) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Thresholds []monitoring.ThresholdConfig `yaml:"thresholds"`
		Scenarios  []yaml.Node                  `yaml:"scenarios"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.Thresholds = raw.Thresholds
	p.Scenarios = make([]alarms.Scenario, 0, len(raw.Scenarios))
	for i := range raw.Scenarios {
		s := alarms.Scenario{Enabled: true, CooldownSeconds: alarms.DefaultCooldownSeconds}
		if err := raw.Scenarios[i].Decode(&s); err != nil {
			return fmt.Errorf("config: scenario %d: %w", i, err)
		}
		p.Scenarios = append(p.Scenarios, s)
	}
	return nil
}

// Load reads .env, environment variables and the optional plant file.
// Missing sections of the plant file fall back to the reference plant.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:     getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:     getenvDefault("LOG_LEVEL", "info"),
		LogFormat:    getenvDefault("LOG_FORMAT", "json"),
		TickInterval: getenvDuration("TICK_INTERVAL", time.Second),
		HistoryLimit: getenvIntDefault("HISTORY_LIMIT", 10000),

		EventStore:  strings.ToLower(getenvDefault("EVENT_STORE", "sqlite")),
		SQLitePath:  getenvDefault("SQLITE_PATH", "plantwatch.db"),
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),

		SnapshotSource:     strings.ToLower(getenvDefault("SNAPSHOT_SOURCE", "postgres")),
		SnapshotMaxAge:     getenvDuration("SNAPSHOT_MAX_AGE", 0),
		HistorySource:      strings.ToLower(getenvDefault("HISTORY_SOURCE", "postgres")),
		PredictionLookback: getenvDuration("PREDICTION_LOOKBACK", time.Hour),

		MQTTBroker:       getenvDefault("MQTT_BROKER", ""),
		MQTTClientID:     getenvDefault("MQTT_CLIENT_ID", ""),
		MQTTUsername:     getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:     getenvDefault("MQTT_PASSWORD", ""),
		MQTTSensorTopic:  getenvDefault("MQTT_SENSOR_TOPIC", "plant/sensors/+"),
		MQTTCommandTopic: getenvDefault("MQTT_COMMAND_TOPIC", "plant/commands/{action}"),

		ClickHouseAddr:     getenvDefault("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getenvDefault("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUsername: getenvDefault("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getenvDefault("CLICKHOUSE_PASSWORD", ""),
		ClickHouseTable:    getenvDefault("CLICKHOUSE_TABLE", ""),

		KafkaBrokers: splitCSV(getenvDefault("KAFKA_BROKERS", "")),
		KafkaTopic:   getenvDefault("KAFKA_TOPIC", "plantwatch.alarms"),

		AlarmWebhookURL:         getenvDefault("ALARM_WEBHOOK_URL", ""),
		AlarmWebhookSecret:      getenvDefault("ALARM_WEBHOOK_SECRET", ""),
		AlarmWebhookRetries:     getenvIntDefault("ALARM_WEBHOOK_RETRIES", 2),
		AlarmNotifyTemplate:     getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
		AlarmNotifyCooldown:     getenvDuration("ALARM_NOTIFY_COOLDOWN", 0),
		AlarmNotifyDedupeWindow: getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0),
		AlarmWebhookEvents:      getenvBool("ALARM_WEBHOOK_EVENTS", false),
		ActionTimeout:           getenvDuration("ACTION_TIMEOUT", 30*time.Second),

		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),

		PlantFile: os.Getenv("PLANTWATCH_CONFIG"),
	}

	plant, err := LoadPlant(cfg.PlantFile)
	if err != nil {
		return cfg, err
	}
	cfg.Plant = plant

	if cfg.TickInterval <= 0 {
		return cfg, errors.New("config: TICK_INTERVAL must be positive")
	}
	return cfg, nil
}

// LoadPlant parses a YAML plant file. An empty path yields the reference plant.
func LoadPlant(path string) (Plant, error) {
	plant := Plant{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return plant, err
		}
		if err := yaml.Unmarshal(data, &plant); err != nil {
			return plant, err
		}
	}
	if len(plant.Thresholds) == 0 {
		plant.Thresholds = DefaultThresholds()
	}
	if len(plant.Scenarios) == 0 {
		plant.Scenarios = DefaultScenarios()
	}
	return plant, nil
}

// Validate reports configuration problems as warnings. Invalid thresholds are
// removed from the plant; invalid scenarios are kept and degrade at runtime.
func (p *Plant) Validate() []error {
	var warnings []error
	valid := p.Thresholds[:0]
	for _, cfg := range p.Thresholds {
		if err := cfg.Validate(); err != nil {
			warnings = append(warnings, err)
			continue
		}
		valid = append(valid, cfg)
	}
	p.Thresholds = valid
	for _, s := range p.Scenarios {
		if err := s.Validate(); err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
