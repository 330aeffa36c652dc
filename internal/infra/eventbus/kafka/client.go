package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// ClientConfig carries the connection-level settings shared by the producer
// and consumer sides of the bus.
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// NewClient builds a Kafka client tuned for the migration workload: large
// JSON batch messages, hash-keyed publishing, and offsets that move only
// after a batch is acked.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Version = sarama.V3_6_0_0

	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	// Commits happen manually after the handler acks, so a crash replays the
	// in-flight batch instead of dropping it.
	config.Consumer.Offsets.AutoCommit.Enable = false
	// Record batch messages run close to 1 MiB; fetch a few per round trip.
	config.Consumer.Fetch.Default = 5 << 20

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.MaxMessageBytes = 1 << 20
	// Batch bodies are JSON with heavily repeated field names.
	config.Producer.Compression = sarama.CompressionSnappy

	return sarama.NewClient(cfg.Brokers, config)
}

// ConnectEventBus builds the event bus on top of an established client,
// retrying with bounded exponential backoff so brokers still coming up do
// not fail the service at boot.
func ConnectEventBus(
	cfg *Config,
	client sarama.Client,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (events.EventBus, error) {
	var eventBus events.EventBus

	connect := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			producer.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}

		eventBus, err = NewEventBus(producer, consumerGroup, cfg, logger, metrics, tracer)
		if err != nil {
			producer.Close()
			consumerGroup.Close()
			return fmt.Errorf("creating event bus: %w", err)
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 5 * time.Second
	expBackoff.MaxElapsedTime = 5 * time.Minute

	notify := func(err error, next time.Duration) {
		logger.Warn(context.Background(), "Event bus connect failed; retrying",
			"error", err,
			"next_attempt_in", next.String(),
		)
	}
	if err := backoff.RetryNotify(connect, expBackoff, notify); err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	return eventBus, nil
}
