package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/hashferry/internal/app/scanning"
	"github.com/ahrav/hashferry/internal/config"
	"github.com/ahrav/hashferry/internal/config/envloader"
	"github.com/ahrav/hashferry/internal/config/fileloader"
	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/infra/cluster/kubernetes"
	"github.com/ahrav/hashferry/internal/infra/eventbus/kafka"
	checkpointStore "github.com/ahrav/hashferry/internal/infra/storage/checkpoint/postgres"
	"github.com/ahrav/hashferry/pkg/common"
	"github.com/ahrav/hashferry/pkg/common/logger"
	"github.com/ahrav/hashferry/pkg/common/otel"
)

const (
	serviceType = "controller"
)

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("CONTROLLER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	// TODO: Adjust the min log level via env var.
	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize telemetry.
	prob, err := strconv.ParseFloat(os.Getenv("OTEL_SAMPLING_RATIO"), 64)
	if err != nil {
		log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
		os.Exit(1)
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      os.Getenv("OTEL_SERVICE_NAME"),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(os.Getenv("OTEL_SERVICE_NAME"))

	conf, err := loadConfig(ctx)
	if err != nil {
		log.Error(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(fmt.Sprintf(":%d", conf.Health.Port), ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(conf.Database.DSN)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting application...")

	podName := os.Getenv("POD_NAME")
	if podName == "" {
		log.Error(ctx, "POD_NAME environment variable must be set")
		os.Exit(1)
	}

	k8sClient, err := kubernetes.NewClient()
	if err != nil {
		log.Error(ctx, "failed to create kubernetes client", "error", err)
		os.Exit(1)
	}

	coord, err := kubernetes.NewCoordinator(
		hostname,
		k8sClient,
		&kubernetes.K8sConfig{
			Namespace:    conf.Leader.Namespace,
			LeaderLockID: conf.Leader.LockID,
			Identity:     podName,
		},
		log,
		tracer,
	)
	if err != nil {
		log.Error(ctx, "failed to create coordinator", "error", err)
		os.Exit(1)
	}
	defer coord.Stop()

	mp := otel.GetMeterProvider()
	metricCollector, err := scanning.NewScanningMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:  conf.Queue.Brokers,
		GroupID:  "hashferry-controller",
		ClientID: svcName,
	})
	if err != nil {
		log.Error(ctx, "failed to create kafka client", "error", err)
		os.Exit(1)
	}
	defer kafkaClient.Close()

	kafkaCfg := &kafka.Config{
		Brokers:                conf.Queue.Brokers,
		ScanRequestTopic:       conf.Queue.ScanRequestTopic,
		RecordBatchTopic:       conf.Queue.RecordBatchTopic,
		UnprocessedWritesTopic: conf.Queue.UnprocessedWritesTopic,
		GroupID:                "hashferry-controller",
		ClientID:               svcName,
		ServiceType:            serviceType,
	}

	eventBus, err := kafka.ConnectEventBus(kafkaCfg, kafkaClient, log, metricCollector, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect event bus", "error", err)
		os.Exit(1)
	}

	eventPublisher := kafka.NewDomainEventPublisher(eventBus, events.NewDomainEventTranslator())

	checkpointStorage := checkpointStore.NewCheckpointStore(pool, tracer)
	seeder := scanning.NewSeeder(
		conf.Stage,
		conf.TotalPartitions,
		eventPublisher,
		checkpointStorage,
		log,
		tracer,
	)

	errCh := make(chan error, 1)
	coord.OnLeadershipChange(func(isLeader bool) {
		log.Info(ctx, "Leadership change", "is_leader", isLeader)
		if !isLeader {
			return
		}
		go func() {
			if err := seeder.Seed(ctx); err != nil {
				select {
				case errCh <- fmt.Errorf("seeding failed: %w", err):
				default:
				}
			}
		}()
	})

	log.Info(ctx, "Controller initialized", "stage", conf.Stage, "total_partitions", conf.TotalPartitions)
	ready.Store(true)

	go func() {
		if err := coord.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	// Wait for either a signal or a controller error.
	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Close components in order.
		if err := eventBus.Close(); err != nil {
			log.Error(shutdownCtx, "Failed to close event bus", "error", err)
		}
		if err := coord.Stop(); err != nil {
			log.Error(shutdownCtx, "Failed to stop coordinator", "error", err)
		}

	case err := <-errCh:
		log.Error(ctx, "Controller error", "error", err)
		os.Exit(1)
	}
}

// loadConfig builds the service configuration from the environment, or from
// the YAML file named by HASHFERRY_CONFIG_FILE when one is set. A missing
// database DSN falls back to the POSTGRES_* conventions.
func loadConfig(ctx context.Context) (config.Config, error) {
	var loader config.Loader = envloader.NewEnvLoader()
	if path := os.Getenv("HASHFERRY_CONFIG_FILE"); path != "" {
		loader = fileloader.NewFileLoader(path)
	}

	cfg, err := loader.Load(ctx)
	if err != nil {
		return config.Config{}, err
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = databaseDSN()
	}

	conf := cfg.Normalized()
	if err := conf.Validate(); err != nil {
		return config.Config{}, err
	}
	return conf, nil
}

func databaseDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	host := os.Getenv("POSTGRES_HOST")
	dbname := os.Getenv("POSTGRES_DB")

	if user == "" {
		user = "postgres"
	}
	if password == "" {
		password = "postgres"
	}
	if host == "" {
		host = "postgres"
	}
	if dbname == "" {
		dbname = "hashferry"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
		user, password, host, dbname)
}

// TODO: consider moving this to an init container.
// runMigrations uses golang-migrate to apply all up migrations from "db/migrations".
// runMigrations acquires a single pgx connection from the pool, runs migrations,
// and then releases the connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Acquire a connection from the pool
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release() // Ensure the connection is released

	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file:///app/db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	// Run the migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
