package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	alertsapp "terrarium-cloud/internal/alerts/application"
	alerts "terrarium-cloud/internal/alerts/domain"
	alertsmemory "terrarium-cloud/internal/alerts/infrastructure/memory"
	alertspg "terrarium-cloud/internal/alerts/infrastructure/postgres"
	alertshttp "terrarium-cloud/internal/alerts/interfaces/http"
	"terrarium-cloud/internal/alerts/notify"
	analyticsapp "terrarium-cloud/internal/analytics/application"
	"terrarium-cloud/internal/analytics/domain/rollup"
	analyticsmemory "terrarium-cloud/internal/analytics/infrastructure/memory"
	analyticspg "terrarium-cloud/internal/analytics/infrastructure/postgres"
	analyticshttp "terrarium-cloud/internal/analytics/interfaces/http"
	apihttp "terrarium-cloud/internal/api/http"
	"terrarium-cloud/internal/audit"
	"terrarium-cloud/internal/auth"
	automationapp "terrarium-cloud/internal/automation/application"
	automationmemory "terrarium-cloud/internal/automation/infrastructure/memory"
	automationmqtt "terrarium-cloud/internal/automation/infrastructure/mqtt"
	automationpg "terrarium-cloud/internal/automation/infrastructure/postgres"
	automationhttp "terrarium-cloud/internal/automation/interfaces/http"
	"terrarium-cloud/internal/config"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	"terrarium-cloud/internal/eventing"
	"terrarium-cloud/internal/ingest"
	"terrarium-cloud/internal/observability/metrics"
	profilesapp "terrarium-cloud/internal/profiles/application"
	profiles "terrarium-cloud/internal/profiles/domain"
	profilesmemory "terrarium-cloud/internal/profiles/infrastructure/memory"
	profilespg "terrarium-cloud/internal/profiles/infrastructure/postgres"
	profileshttp "terrarium-cloud/internal/profiles/interfaces/http"
	"terrarium-cloud/internal/retention"
	telemetryapp "terrarium-cloud/internal/telemetry/application"
	telemetrymqtt "terrarium-cloud/internal/telemetry/infrastructure/mqtt"
	telemetryhttp "terrarium-cloud/internal/telemetry/interfaces/http"
)

// stores groups the persistence backends chosen at startup.
type stores struct {
	db       *sql.DB
	buckets  analyticsapp.BucketStore
	bucketGC retention.BucketDeleter
	alerts   alertsStore
	commands commandStore
	profiles profiles.Repository
	audit    audit.Logger
}

type alertsStore interface {
	alertsapp.Store
	retention.RecordDeleter
}

type commandStore interface {
	automationapp.CommandLog
	retention.RecordDeleter
}

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("timezone error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store error: %v", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}
	metrics.Init(st.db, logger)

	overrides, err := cfg.BiomeOverrides()
	if err != nil {
		logger.Fatalf("biome override error: %v", err)
	}
	registry, err := ecosystem.NewRegistry(overrides)
	if err != nil {
		logger.Fatalf("ecosystem registry error: %v", err)
	}
	profileService, err := profilesapp.NewService(st.profiles, registry, profilesapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("profile service error: %v", err)
	}
	seeds, err := cfg.SeedProfiles()
	if err != nil {
		logger.Fatalf("source seed error: %v", err)
	}
	if err := profileService.Seed(ctx, seeds); err != nil {
		logger.Fatalf("source seed error: %v", err)
	}

	presence := telemetryapp.NewPresence(telemetryapp.WithPresenceTimeout(cfg.Ingest.PresenceTimeout))
	latest := telemetryapp.NewLatestStore()

	aggOpts := []analyticsapp.AggregatorOption{
		analyticsapp.WithLocation(loc),
		analyticsapp.WithMaxAttempts(cfg.Aggregation.MaxAttempts),
		analyticsapp.WithLogger(logger),
	}
	if cfg.Aggregation.RejectOutOfOrder {
		aggOpts = append(aggOpts, analyticsapp.WithRejectOutOfOrder())
	}
	aggregator, err := analyticsapp.NewAggregator(st.buckets, aggOpts...)
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}

	mqttClient, err := connectMQTT(cfg, logger)
	if err != nil {
		logger.Fatalf("mqtt error: %v", err)
	}
	if mqttClient != nil {
		defer mqttClient.Disconnect(250)
	}
	var sink automationapp.ActuatorSink = automationmemory.NewRecorder(logger)
	if mqttClient != nil {
		mqttSink, err := automationmqtt.NewSink(mqttClient,
			automationmqtt.WithTopicPrefix(cfg.MQTT.TopicPrefix),
			automationmqtt.WithQoS(byte(cfg.MQTT.QoS)),
		)
		if err != nil {
			logger.Fatalf("actuator sink error: %v", err)
		}
		sink = mqttSink
	}

	schedule, err := cfg.Automation.Schedule()
	if err != nil {
		logger.Fatalf("light schedule error: %v", err)
	}
	controller, err := automationapp.NewController(sink, profileService, presence,
		automationapp.WithMistConfig(cfg.Automation.MistConfig()),
		automationapp.WithSchedule(schedule),
		automationapp.WithLocation(loc),
		automationapp.WithLightInterval(cfg.Automation.LightInterval),
		automationapp.WithCommandLog(st.commands),
		automationapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("automation controller error: %v", err)
	}

	broker := alertshttp.NewSSEBroker()
	notifiers := []alertsapp.Notifier{broker}
	if cfg.Alerts.WebhookURL != "" {
		webhook, err := buildWebhookNotifier(cfg, logger)
		if err != nil {
			logger.Fatalf("webhook notifier error: %v", err)
		}
		notifiers = append(notifiers, webhook)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic), logger)
		if err != nil {
			logger.Fatalf("kafka publisher error: %v", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}
	dispatcher, err := alertsapp.NewDispatcher(st.alerts,
		alertsapp.WithPolicy(alerts.Policy{Window: cfg.Alerts.Window, DailyCap: cfg.Alerts.DailyCap, Location: loc}),
		alertsapp.WithNotifier(notify.NewMultiNotifier(notifiers...)),
		alertsapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("alert dispatcher error: %v", err)
	}

	pipeline, err := ingest.NewPipeline(profileService, aggregator,
		ingest.WithAutomation(controller),
		ingest.WithAlerts(dispatcher),
		ingest.WithPresence(presence),
		ingest.WithLatest(latest),
		ingest.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("ingest pipeline error: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	pipeline.Subscribe(bus)

	intake, err := telemetryapp.NewIntake(bus,
		telemetryapp.WithLimiter(telemetryapp.NewSourceLimiter(cfg.Ingest.RatePerSecond, cfg.Ingest.Burst)),
		telemetryapp.WithIntakeLogger(logger),
	)
	if err != nil {
		logger.Fatalf("intake error: %v", err)
	}

	mux := http.NewServeMux()
	ingestHandler, err := telemetryhttp.NewIngestHandler(intake, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	var ingestRoute http.Handler = ingestHandler
	if cfg.Auth.IngestSecret != "" {
		ingestRoute = auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestSkew).Wrap(ingestHandler)
	}
	mux.Handle("/ingest/readings", ingestRoute)

	profileHandler, err := profileshttp.NewHandler(profileService, st.audit, logger)
	if err != nil {
		logger.Fatalf("profile handler error: %v", err)
	}
	mux.Handle("/api/v1/biomes", profileHandler)
	mux.Handle("/api/v1/profiles", profileHandler)
	mux.Handle("/api/v1/profiles/", profileHandler)

	automationHandler, err := automationhttp.NewHandler(controller, profileService, st.audit, logger)
	if err != nil {
		logger.Fatalf("automation handler error: %v", err)
	}
	mux.Handle("/api/v1/automation/", automationHandler)

	alertHandler, err := alertshttp.NewHandler(dispatcher, profileService, st.audit, logger)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/test", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alertshttp.NewStreamHandler(broker, profileService))

	rollupHandler, err := analyticshttp.NewHandler(aggregator, profileService)
	if err != nil {
		logger.Fatalf("rollup handler error: %v", err)
	}
	mux.Handle("/api/v1/rollups", rollupHandler)
	mux.Handle("/api/v1/reports/", rollupHandler)

	statusHandler, err := apihttp.NewStatusHandler(profileService, latest, presence, controller)
	if err != nil {
		logger.Fatalf("status handler error: %v", err)
	}
	mux.Handle("/api/v1/status/", statusHandler)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.Auth.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
		handler = auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy).Wrap(mux)
	} else {
		logger.Printf("auth: AUTH_JWT_SECRET unset, api is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper, err := retention.NewSweeper(cfg.Retention.SweepAt, retentionTargets(cfg, st),
		retention.WithLocation(loc),
		retention.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("retention sweeper error: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("terrarium engine listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if mqttClient != nil {
		subscriber, err := telemetrymqtt.NewSubscriber(mqttClient, intake,
			telemetrymqtt.WithTopic(cfg.MQTT.ReadingsTopic()),
			telemetrymqtt.WithQoS(byte(cfg.MQTT.QoS)),
			telemetrymqtt.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("mqtt subscriber error: %v", err)
		}
		g.Go(func() error { return subscriber.Run(gctx) })
	}
	g.Go(func() error { return controller.Run(gctx, cfg.Automation.TickInterval) })
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Printf("terrarium engine stopped: %v", err)
		os.Exit(1)
	}
	logger.Printf("terrarium engine stopped")
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Printf("store: DATABASE_URL unset, using in-memory stores")
		buckets := analyticsmemory.NewBucketStore()
		return stores{
			buckets:  buckets,
			bucketGC: buckets,
			alerts:   alertsmemory.NewStore(),
			commands: automationmemory.NewCommandLog(),
			profiles: profilesmemory.NewProfileRepository(),
			audit:    audit.NewMemoryLog(),
		}, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return stores{}, err
	}
	buckets, err := analyticspg.NewBucketStore(db)
	if err != nil {
		db.Close()
		return stores{}, err
	}
	return stores{
		db:       db,
		buckets:  buckets,
		bucketGC: buckets,
		alerts:   alertspg.NewStore(db),
		commands: automationpg.NewCommandLog(db),
		profiles: profilespg.NewProfileRepository(db),
		audit:    audit.NewRepository(db),
	}, nil
}

func connectMQTT(cfg config.Config, logger *log.Logger) (paho.Client, error) {
	if cfg.MQTT.Broker == "" {
		logger.Printf("mqtt: broker unset, device transport disabled")
		return nil, nil
	}
	return telemetrymqtt.Connect(telemetrymqtt.ClientConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, logger)
}

func buildWebhookNotifier(cfg config.Config, logger *log.Logger) (*notify.Notifier, error) {
	channel, err := notify.NewWebhookChannel(cfg.Alerts.WebhookURL)
	if err != nil {
		return nil, err
	}
	channel.SetTimeout(cfg.Alerts.NotifyTimeout)
	tmpl, err := notify.NewTemplate("", "")
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(channel, tmpl,
		notify.WithDedupeWindow(cfg.Alerts.DedupeWindow),
		notify.WithLogger(logger),
	)
}

func retentionTargets(cfg config.Config, st stores) []retention.Target {
	targets := retention.BucketTargets(st.bucketGC, rollup.Retention{
		Hourly: cfg.Retention.HourBuckets,
		Daily:  cfg.Retention.DayBuckets,
	})
	return append(targets,
		retention.Records("alerts", st.alerts, cfg.Retention.Alerts),
		retention.Records("commands", st.commands, cfg.Retention.Commands),
	)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
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

// Flush keeps the alert stream working through the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
