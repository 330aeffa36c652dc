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
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/hashferry/internal/app/scanning"
	"github.com/ahrav/hashferry/internal/config"
	"github.com/ahrav/hashferry/internal/config/envloader"
	"github.com/ahrav/hashferry/internal/config/fileloader"
	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/infra/continuation"
	eventdispatcher "github.com/ahrav/hashferry/internal/infra/event_dispatcher"
	"github.com/ahrav/hashferry/internal/infra/eventbus/kafka"
	"github.com/ahrav/hashferry/internal/infra/queue"
	checkpointStore "github.com/ahrav/hashferry/internal/infra/storage/checkpoint/postgres"
	sourceStore "github.com/ahrav/hashferry/internal/infra/storage/source/postgres"
	"github.com/ahrav/hashferry/pkg/common"
	"github.com/ahrav/hashferry/pkg/common/logger"
	"github.com/ahrav/hashferry/pkg/common/otel"
	"github.com/ahrav/hashferry/pkg/common/timeutil"
)

const (
	serviceType = "scanner"
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

	svcName := fmt.Sprintf("SCANNER-%s", hostname)
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

	mp := otel.GetMeterProvider()
	metricCollector, err := scanning.NewScanningMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	clientID := fmt.Sprintf("%s-%s", serviceType, uuid.New().String())
	kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:  conf.Queue.Brokers,
		GroupID:  "hashferry-scanners",
		ClientID: clientID,
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
		GroupID:                "hashferry-scanners",
		ClientID:               clientID,
		ServiceType:            serviceType,
	}

	eventBus, err := kafka.ConnectEventBus(kafkaCfg, kafkaClient, log, metricCollector, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect event bus", "error", err)
		os.Exit(1)
	}

	eventPublisher := kafka.NewDomainEventPublisher(eventBus, events.NewDomainEventTranslator())

	checkpointStorage := checkpointStore.NewCheckpointStore(pool, tracer)
	limiter := common.NewRateLimiter(conf.Scanner.SourceRate, conf.Scanner.SourceBurst)
	pager := sourceStore.NewBlobIndexPager(pool, limiter, tracer)

	batchDispatcher := queue.NewDomainEventBatchDispatcher(
		queue.DispatcherConfig{
			MaxRecordsPerMessage: conf.Queue.MaxRecordsPerMessage,
			MaxBytesPerMessage:   conf.Queue.MaxBytesPerMessage,
			RetryBudget:          conf.Queue.PublishRetryBudget.Std(),
		},
		eventPublisher,
		log,
		tracer,
	)
	scheduler := continuation.New(eventPublisher, tracer)

	partitionScanner := scanning.NewPartitionScanner(
		scanning.ScannerConfig{
			Stage:             conf.Stage,
			PageSize:          conf.Scanner.PageSize,
			InvocationBudget:  conf.Scanner.InvocationBudget.Std(),
			ContinueThreshold: conf.Scanner.ContinueThreshold.Std(),
			RetryBudget:       conf.Scanner.RetryBudget.Std(),
		},
		checkpointStorage,
		pager,
		batchDispatcher,
		scheduler,
		timeutil.Default(),
		log,
		tracer,
		metricCollector,
	)
	handler := scanning.NewScanRequestHandler(partitionScanner, log, tracer)

	dispatcher := eventdispatcher.New(svcName, tracer, log)
	if err := dispatcher.RegisterHandler(ctx, handler); err != nil {
		log.Error(ctx, "failed to register scan request handler", "error", err)
		os.Exit(1)
	}

	if err := eventBus.Subscribe(ctx, handler.SupportedEvents(), dispatcher.Dispatch); err != nil {
		log.Error(ctx, "failed to subscribe to scan requests", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Scanner initialized", "stage", conf.Stage, "client_id", clientID)
	ready.Store(true)

	sig := <-sigCh
	log.Info(ctx, "Received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eventBus.Close(); err != nil {
		log.Error(shutdownCtx, "Failed to close event bus", "error", err)
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
