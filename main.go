package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"plantwatch/internal/alarms/actions"
	alarmapp "plantwatch/internal/alarms/application"
	"plantwatch/internal/alarms/infrastructure/sqlstore"
	alarmhttp "plantwatch/internal/alarms/interfaces/http"
	alarmnotify "plantwatch/internal/alarms/notify"
	"plantwatch/internal/audit"
	"plantwatch/internal/auth"
	"plantwatch/internal/config"
	"plantwatch/internal/evaluation"
	"plantwatch/internal/logging"
	monitoringapp "plantwatch/internal/monitoring/application"
	monitoring "plantwatch/internal/monitoring/domain"
	monitoringch "plantwatch/internal/monitoring/infrastructure/clickhouse"
	monitoringpg "plantwatch/internal/monitoring/infrastructure/postgres"
	monitoringhttp "plantwatch/internal/monitoring/interfaces/http"
	"plantwatch/internal/observability/metrics"
	telemetrypg "plantwatch/internal/telemetry/infrastructure/postgres"
	telemetryhttp "plantwatch/internal/telemetry/interfaces/http"
	plantmqtt "plantwatch/internal/telemetry/interfaces/mqtt"
)

func main() {
	cfg, cfgErr := config.Load()
	logger := logging.MustNew(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()
	if cfgErr != nil {
		logger.Fatal("config error", zap.Error(cfgErr))
	}
	for _, warning := range cfg.Plant.Validate() {
		logger.Warn("plant config", zap.Error(warning))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pgDB *sql.DB
	if needsPostgres(cfg) {
		db, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres open error", zap.Error(err))
		}
		defer db.Close()
		pgDB = db
	}

	storeDB, dialect, err := openEventStore(ctx, cfg, pgDB)
	if err != nil {
		logger.Fatal("event store error", zap.String("store", cfg.EventStore), zap.Error(err))
	}
	if storeDB != nil && storeDB != pgDB {
		defer storeDB.Close()
	}
	metrics.Init(storeDB, logger)

	var mqttClient *plantmqtt.Client
	if cfg.MQTTBroker != "" {
		mqttClient, err = plantmqtt.NewClient(plantmqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("mqtt connect error", zap.Error(err))
		}
		defer mqttClient.Close()
	}

	source, pushCache, err := buildSnapshotSource(cfg, pgDB, mqttClient, logger)
	if err != nil {
		logger.Fatal("snapshot source error", zap.String("source", cfg.SnapshotSource), zap.Error(err))
	}

	monitorOpts := []monitoringapp.MonitorOption{
		monitoringapp.WithLookback(cfg.PredictionLookback),
		monitoringapp.WithLogger(logger.Named("monitoring")),
	}
	switch cfg.HistorySource {
	case "postgres":
		if pgDB == nil {
			logger.Fatal("HISTORY_SOURCE=postgres requires DATABASE_URL")
		}
		monitorOpts = append(monitorOpts, monitoringapp.WithHistoryReader(monitoringpg.NewHistoryQuery(pgDB)))
	case "clickhouse":
		history, err := monitoringch.Open(ctx, monitoringch.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Table:    cfg.ClickHouseTable,
		})
		if err != nil {
			logger.Fatal("clickhouse open error", zap.Error(err))
		}
		defer history.Close()
		monitorOpts = append(monitorOpts, monitoringapp.WithHistoryReader(history))
	case "none", "":
	default:
		logger.Fatal("unknown HISTORY_SOURCE", zap.String("source", cfg.HistorySource))
	}
	monitor, err := monitoringapp.NewMonitor(monitoring.NewThresholdTable(cfg.Plant.Thresholds), monitorOpts...)
	if err != nil {
		logger.Fatal("monitor init error", zap.Error(err))
	}

	var webhookNotifier *alarmnotify.Notifier
	if cfg.AlarmWebhookURL != "" {
		webhookNotifier, err = buildWebhookNotifier(cfg, logger.Named("webhook"))
		if err != nil {
			logger.Fatal("alarm notifier init error", zap.Error(err))
		}
	}

	var actionNotifier actions.ActionNotifier
	if webhookNotifier != nil {
		actionNotifier = webhookNotifier
	}
	var commandPublisher actions.CommandPublisher
	if mqttClient != nil {
		publisher, err := actions.NewMQTTCommandPublisher(mqttClient.Native(), cfg.MQTTCommandTopic)
		if err != nil {
			logger.Fatal("command publisher init error", zap.Error(err))
		}
		commandPublisher = publisher
	}
	handlers, err := actions.Registry(actionNotifier, commandPublisher, logger.Named("actions"))
	if err != nil {
		logger.Fatal("action registry error", zap.Error(err))
	}
	dispatcher := alarmapp.NewDispatcher(handlers,
		alarmapp.WithDispatcherLogger(logger.Named("dispatcher")),
		alarmapp.WithActionTimeout(cfg.ActionTimeout),
	)

	broker := alarmhttp.NewEventBroker()
	sinks := []alarmapp.AlarmNotifier{broker}
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := alarmnotify.NewKafkaWriter(alarmnotify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			logger.Fatal("kafka writer init error", zap.Error(err))
		}
		publisher, err := alarmnotify.NewKafkaPublisher(writer, logger.Named("kafka"))
		if err != nil {
			logger.Fatal("kafka publisher init error", zap.Error(err))
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}
	if webhookNotifier != nil && cfg.AlarmWebhookEvents {
		sinks = append(sinks, webhookNotifier)
	}

	recorderOpts := []alarmapp.RecorderOption{
		alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(logger.Named("sinks"), sinks...)),
		alarmapp.WithRecorderLogger(logger.Named("recorder")),
		alarmapp.WithHistoryLimit(cfg.HistoryLimit),
	}
	var (
		eventRepo *sqlstore.EventRepository
		stateRepo *sqlstore.StateRepository
		auditRepo audit.Logger
	)
	if storeDB != nil {
		eventRepo = sqlstore.NewEventRepository(storeDB, dialect)
		stateRepo = sqlstore.NewStateRepository(storeDB, dialect)
		auditRepo = audit.NewRepository(storeDB, dialect)
		recorderOpts = append(recorderOpts,
			alarmapp.WithEventRepository(eventRepo),
			alarmapp.WithStateRepository(stateRepo),
		)
	}
	recorder := alarmapp.NewRecorder(recorderOpts...)
	defer recorder.Close()

	store, err := alarmapp.NewScenarioStore(cfg.Plant.Scenarios)
	if err != nil {
		logger.Fatal("scenario store error", zap.Error(err))
	}
	engine, err := alarmapp.NewEngine(store, dispatcher, recorder, alarmapp.WithLogger(logger.Named("engine")))
	if err != nil {
		logger.Fatal("engine init error", zap.Error(err))
	}
	if stateRepo != nil {
		if err := engine.RestoreState(ctx, stateRepo); err != nil {
			logger.Warn("scenario state restore failed", zap.Error(err))
		}
	}

	loop, err := evaluation.NewLoop(source, monitor, engine,
		evaluation.WithInterval(cfg.TickInterval),
		evaluation.WithLogger(logger.Named("loop")),
	)
	if err != nil {
		logger.Fatal("evaluation loop init error", zap.Error(err))
	}
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	alarmOpts := []alarmhttp.HandlerOption{
		alarmhttp.WithHandlerLogger(logger.Named("http")),
		alarmhttp.WithHistoryLimit(cfg.HistoryLimit),
		alarmhttp.WithAuditLogger(auditRepo),
	}
	if eventRepo != nil {
		alarmOpts = append(alarmOpts, alarmhttp.WithHistoryStore(eventRepo))
	}
	alarmHandler, err := alarmhttp.NewHandler(engine, alarmOpts...)
	if err != nil {
		logger.Fatal("alarm handler init error", zap.Error(err))
	}
	alarmHandler.Register(mux)
	mux.Handle("/api/v1/alarms/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alarms/ws", alarmhttp.NewWebSocketHandler(broker, nil, logger.Named("ws")))

	monitorHandler, err := monitoringhttp.NewHandler(monitor, source, auditRepo, logger.Named("http"))
	if err != nil {
		logger.Fatal("monitoring handler init error", zap.Error(err))
	}
	monitorHandler.Register(mux)

	if pushCache != nil {
		ingestHandler, err := telemetryhttp.NewIngestHandler(pushCache, logger.Named("ingest"))
		if err != nil {
			logger.Fatal("ingest handler init error", zap.Error(err))
		}
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)
		mux.Handle("/api/v1/ingest", ingestAuth.Wrap(ingestHandler))
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if last, ok := loop.Last(); ok {
			resp["last_tick"] = last.At
		}
		if mqttClient != nil {
			resp["mqtt_connected"] = mqttClient.IsConnected()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("http listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("snapshot_source", cfg.SnapshotSource),
		zap.String("event_store", cfg.EventStore),
		zap.Int("scenarios", len(cfg.Plant.Scenarios)),
		zap.Int("thresholds", len(cfg.Plant.Thresholds)),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", zap.Error(err))
		stop()
	}
	<-loopDone
}

func needsPostgres(cfg config.Config) bool {
	dialect, err := sqlstore.ParseDialect(cfg.EventStore)
	return (err == nil && dialect == sqlstore.DialectPostgres) || cfg.SnapshotSource == "postgres" || cfg.HistorySource == "postgres"
}

func openEventStore(ctx context.Context, cfg config.Config, pgDB *sql.DB) (*sql.DB, sqlstore.Dialect, error) {
	if cfg.EventStore == "none" || cfg.EventStore == "" {
		return nil, "", nil
	}
	dialect, err := sqlstore.ParseDialect(cfg.EventStore)
	if err != nil {
		return nil, "", err
	}
	db := pgDB
	if dialect == sqlstore.DialectSQLite {
		db, err = sqlstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, "", err
		}
	}
	if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
		if db != pgDB {
			_ = db.Close()
		}
		return nil, "", err
	}
	return db, dialect, nil
}

// buildSnapshotSource returns the configured source and, for the mqtt and push
// sources, the cache that accepts HTTP pushes.
func buildSnapshotSource(cfg config.Config, pgDB *sql.DB, mqttClient *plantmqtt.Client, logger *zap.Logger) (evaluation.SnapshotSource, *plantmqtt.SensorCache, error) {
	switch cfg.SnapshotSource {
	case "postgres":
		return telemetrypg.NewLatestReader(pgDB, telemetrypg.WithMaxAge(cfg.SnapshotMaxAge)), nil, nil
	case "mqtt":
		if mqttClient == nil {
			return nil, nil, errors.New("SNAPSHOT_SOURCE=mqtt requires MQTT_BROKER")
		}
		cache := plantmqtt.NewSensorCache(mqttClient.Native(),
			plantmqtt.WithTopic(cfg.MQTTSensorTopic),
			plantmqtt.WithStaleAfter(cfg.SnapshotMaxAge),
			plantmqtt.WithCacheLogger(logger.Named("sensors")),
		)
		if err := cache.Subscribe(); err != nil {
			return nil, nil, err
		}
		return cache, cache, nil
	case "push":
		cache := plantmqtt.NewSensorCache(nil,
			plantmqtt.WithStaleAfter(cfg.SnapshotMaxAge),
			plantmqtt.WithCacheLogger(logger.Named("sensors")),
		)
		return cache, cache, nil
	default:
		return nil, nil, errors.New("unknown SNAPSHOT_SOURCE " + cfg.SnapshotSource)
	}
}

func buildWebhookNotifier(cfg config.Config, logger *zap.Logger) (*alarmnotify.Notifier, error) {
	channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL,
		alarmnotify.WithSigningSecret(cfg.AlarmWebhookSecret),
		alarmnotify.WithRetries(cfg.AlarmWebhookRetries, time.Second),
	)
	if err != nil {
		return nil, err
	}
	template, err := alarmnotify.NewTemplate(cfg.AlarmNotifyTemplate)
	if err != nil {
		return nil, err
	}
	return alarmnotify.NewNotifier(channel, template,
		alarmnotify.WithCooldown(cfg.AlarmNotifyCooldown),
		alarmnotify.WithDedupeWindow(cfg.AlarmNotifyDedupeWindow),
		alarmnotify.WithLogger(logger),
	)
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the alarm stream working through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
