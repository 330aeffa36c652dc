// Package kafka provides a Kafka-based implementation of the event bus for asynchronous messaging.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/hashferry/internal/infra/eventbus/serialization"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
// It enables tracking of publishing, consumption, and the redelivery policy.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
	IncMessageRedelivered(ctx context.Context, topic string)
	IncMessageDeadLettered(ctx context.Context, topic string)
}

// Redelivery policy: a message whose handler fails is republished to its own
// topic with an incremented receive count; once the count reaches
// maxReceiveCount the message goes untouched to the topic's dead-letter twin.
// Messages that cannot be decoded at all skip redelivery and dead-letter
// immediately, since reparsing the same bytes cannot succeed.
const (
	receiveCountHeader = "x-receive-count"
	deadLetterSuffix   = ".dlq"
	maxReceiveCount    = 3
)

// Config contains settings for connecting to and interacting with Kafka brokers.
// It defines the topics, consumer group, and client identifiers needed for message routing.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// ScanRequestTopic carries per-partition scan invocations, including the
	// continuations scan workers schedule for themselves.
	ScanRequestTopic string
	// RecordBatchTopic carries batches of legacy records from scanners to loaders.
	RecordBatchTopic string
	// UnprocessedWritesTopic is the side channel for destination writes the
	// store reported back as not committed.
	UnprocessedWritesTopic string

	// GroupID identifies the consumer group for this bus instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string

	// ServiceType identifies the type of service (e.g. "scanner", "loader").
	ServiceType string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the EventBus interface using Kafka as the underlying message broker.
// It handles publishing and subscribing to domain events across distributed services.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus assembles an event bus from already-connected producer and
// consumer group instances.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka event bus")
	}

	logger = logger.With(
		"component", "kafka_event_bus",
		"client_id", cfg.ClientID,
		"group_id", cfg.GroupID,
		"service_type", cfg.ServiceType,
	)

	topicMap := map[events.EventType]string{
		migration.EventTypeScanRequested:     cfg.ScanRequestTopic,       // controller -> scanner (and scanner -> scanner)
		migration.EventTypeBatchQueued:       cfg.RecordBatchTopic,       // scanner -> loader
		migration.EventTypeWritesUnprocessed: cfg.UnprocessedWritesTopic, // loader -> redrive
	}
	for evtType, topic := range topicMap {
		if topic == "" {
			return nil, fmt.Errorf("missing topic for event type %s", evtType)
		}
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topicMap:      topicMap,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
	}, nil
}

// Publish sends a domain event to the Kafka topic configured for its type.
// It handles serialization, routing based on event type, and includes
// observability instrumentation for tracing and metrics.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, b.tracer)
	defer span.End()

	var pParams events.PublishParams
	for _, opt := range opts {
		opt(&pParams)
	}

	if pParams.Key != "" {
		event.Key = pParams.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}

	msgBytes, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	return b.publishToTopic(ctx, topic, event.Key, msgBytes, pParams.Headers)
}

// publishToTopic handles the actual publishing of a message to a single Kafka topic.
func (b *EventBus) publishToTopic(ctx context.Context, topic, key string, msgBytes []byte, headers map[string]string) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	for hKey, hValue := range headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{
			Key:   []byte(hKey),
			Value: []byte(hValue),
		})
	}

	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	b.metrics.IncMessagePublished(ctx, topic)
	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", key,
	)

	return nil
}

// Subscribe registers a handler function to process domain events of the
// specified types. It manages consumer group membership and message
// processing in a separate goroutine.
func (b *EventBus) Subscribe(
	ctx context.Context,
	eventTypes []events.EventType,
	handler events.HandlerFunc,
) error {
	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(
			attribute.String("component", "kafka_event_bus"),
		))
	defer span.End()

	// Collect unique topics for the requested event types.
	var topics []string
	topicSet := make(map[string]struct{})
	for _, et := range eventTypes {
		topic, ok := b.topicMap[et]
		if !ok {
			span.RecordError(fmt.Errorf("subscribe: unknown event type %s", et))
			span.SetStatus(codes.Error, "unknown event type")
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		if _, seen := topicSet[topic]; seen {
			continue
		}
		topicSet[topic] = struct{}{}
		topics = append(topics, topic)
	}

	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	go b.consumeLoop(ctx, topics, handler)
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)

	return nil
}

// consumeLoop maintains a continuous consumer group session for processing messages.
func (b *EventBus) consumeLoop(
	ctx context.Context,
	topics []string,
	handler events.HandlerFunc,
) {
	cgHandler := &domainEventHandler{
		eventBus:    b,
		userHandler: handler,
		logger:      b.logger,
		tracer:      b.tracer,
		metrics:     b.metrics,
	}

	for {
		if err := b.consumerGroup.Consume(ctx, topics, cgHandler); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// domainEventHandler implements sarama.ConsumerGroupHandler to process Kafka
// messages and convert them into domain events for the application.
type domainEventHandler struct {
	eventBus    *EventBus
	userHandler events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(context.Background(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition, deserializing
// them into domain events and invoking the user-provided handler. A handler
// failure routes the message through the redelivery policy instead of
// blocking the partition.
func (h *domainEventHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	h.logger.Info(sess.Context(), "Starting to consume from partition",
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())

	// Track the time of the last offset commit for periodic commits.
	lastCommit := time.Now()
	commitInterval := 1 * time.Second

	for msg := range claim.Messages() {
		func() {
			msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
			msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
			defer span.End()

			receiveCount := receiveCountFromHeaders(msg.Headers)
			span.SetAttributes(attribute.Int("receive_count", receiveCount))

			evtType, domainBytes, err := serialization.UnmarshalUniversalEnvelope(msg.Value)
			if err != nil {
				span.RecordError(err)
				h.deadLetter(msgCtx, sess, msg, "malformed_envelope")
				return
			}

			payloadObj, err := serialization.DeserializePayload(evtType, domainBytes)
			if err != nil {
				span.RecordError(err)
				h.deadLetter(msgCtx, sess, msg, "malformed_payload")
				return
			}

			dEvent := events.EventEnvelope{
				Type:      evtType,
				Key:       string(msg.Key),
				Timestamp: time.Now(),
				Payload:   payloadObj,
				Metadata: events.EventMetadata{
					Partition: claim.Partition(),
					Offset:    msg.Offset,
				},
			}

			consumeLogger.Debug(msgCtx, "Received Kafka message",
				"topic", msg.Topic,
				"partition", claim.Partition(),
				"offset", msg.Offset,
				"event_type", evtType,
				"key", dEvent.Key,
				"receive_count", receiveCount,
			)

			ack := func(err error) {
				// Acknowledgment may run on a different goroutine than the
				// message processing, so it gets its own linked span.
				ackCtx, ackSpan := h.tracer.Start(msgCtx, "kafka_consumer.acknowledge",
					trace.WithLinks(trace.LinkFromContext(msgCtx)),
				)
				defer ackSpan.End()

				if err != nil {
					consumeLogger.Error(ackCtx, "Failed to acknowledge message", "error", err)
					h.metrics.IncConsumeError(ackCtx, msg.Topic)
					ackSpan.RecordError(err)
					ackSpan.SetStatus(codes.Error, "failed to acknowledge message")
					return
				}
				h.metrics.IncMessageConsumed(ackCtx, msg.Topic)

				sess.MarkMessage(msg, "")

				// Commit offsets periodically rather than per message.
				if time.Since(lastCommit) > commitInterval {
					sess.Commit()
					lastCommit = time.Now()
					consumeLogger.Debug(ackCtx, "Committed offsets",
						"topic", msg.Topic,
						"partition", msg.Partition,
						"offset", msg.Offset,
					)
				}
			}

			if err := h.userHandler(msgCtx, dEvent, ack); err != nil {
				consumeLogger.Error(msgCtx, "Failed to handle message",
					"error", err,
					"topic", msg.Topic,
					"receive_count", receiveCount,
				)
				span.RecordError(err)
				h.redeliver(msgCtx, sess, msg, receiveCount)
				return
			}

			consumeLogger.Debug(msgCtx, "Successfully processed message", "topic", msg.Topic)
		}()
	}

	// Final commit before exiting.
	sess.Commit()

	return nil
}

// redeliver reissues a failed message to its own topic with an incremented
// receive count, or dead-letters it once the count is exhausted. The original
// message is marked consumed only after the reissue lands; if the broker
// rejects it, the uncommitted offset leaves consumer-group redelivery as the
// fallback.
func (h *domainEventHandler) redeliver(
	ctx context.Context,
	sess sarama.ConsumerGroupSession,
	msg *sarama.ConsumerMessage,
	receiveCount int,
) {
	if receiveCount >= maxReceiveCount {
		h.deadLetter(ctx, sess, msg, "max_receives_exhausted")
		return
	}

	out := &sarama.ProducerMessage{
		Topic:   msg.Topic,
		Key:     sarama.ByteEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headersWithReceiveCount(msg.Headers, receiveCount+1),
	}
	tracing.InjectTraceContext(ctx, out)

	if _, _, err := h.eventBus.producer.SendMessage(out); err != nil {
		h.logger.Error(ctx, "Failed to republish message for redelivery",
			"topic", msg.Topic,
			"error", err,
		)
		h.metrics.IncPublishError(ctx, msg.Topic)
		return
	}

	h.metrics.IncMessageRedelivered(ctx, msg.Topic)
	sess.MarkMessage(msg, "")
}

// deadLetter forwards a message untouched to its topic's dead-letter twin and
// consumes the original. Headers ride along for triage.
func (h *domainEventHandler) deadLetter(
	ctx context.Context,
	sess sarama.ConsumerGroupSession,
	msg *sarama.ConsumerMessage,
	reason string,
) {
	dlqTopic := msg.Topic + deadLetterSuffix

	out := &sarama.ProducerMessage{
		Topic:   dlqTopic,
		Key:     sarama.ByteEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: copyHeaders(msg.Headers),
	}
	tracing.InjectTraceContext(ctx, out)

	if _, _, err := h.eventBus.producer.SendMessage(out); err != nil {
		h.logger.Error(ctx, "Failed to publish message to dead-letter topic",
			"topic", msg.Topic,
			"dlq_topic", dlqTopic,
			"error", err,
		)
		h.metrics.IncPublishError(ctx, dlqTopic)
		return
	}

	h.logger.Warn(ctx, "Message dead-lettered",
		"topic", msg.Topic,
		"dlq_topic", dlqTopic,
		"reason", reason,
	)
	h.metrics.IncMessageDeadLettered(ctx, msg.Topic)
	sess.MarkMessage(msg, "")
}

// receiveCountFromHeaders reads the redelivery count carried on the message,
// treating a missing or mangled header as the first receive.
func receiveCountFromHeaders(headers []*sarama.RecordHeader) int {
	for _, hdr := range headers {
		if hdr == nil || string(hdr.Key) != receiveCountHeader {
			continue
		}
		if n, err := strconv.Atoi(string(hdr.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func copyHeaders(headers []*sarama.RecordHeader) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(headers))
	for _, hdr := range headers {
		if hdr == nil {
			continue
		}
		out = append(out, *hdr)
	}
	return out
}

func headersWithReceiveCount(headers []*sarama.RecordHeader, count int) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(headers)+1)
	for _, hdr := range headers {
		if hdr == nil || string(hdr.Key) == receiveCountHeader {
			continue
		}
		out = append(out, *hdr)
	}
	return append(out, sarama.RecordHeader{
		Key:   []byte(receiveCountHeader),
		Value: []byte(strconv.Itoa(count)),
	})
}

// Close gracefully shuts down the event bus by closing both producer and
// consumer connections.
func (b *EventBus) Close() error {
	logger := b.logger.With("operation", "close")
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	if err := b.producer.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close producer")
		logger.Error(ctx, "Failed to close producer", "error", err)
		return err
	}
	if err := b.consumerGroup.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close consumer group")
		logger.Error(ctx, "Failed to close consumer group", "error", err)
		return err
	}

	span.AddEvent("closed_event_bus")
	span.SetStatus(codes.Ok, "closed event bus")
	logger.Info(ctx, "Closed event bus")
	return nil
}
