package eventdispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// Dispatcher manages event handlers and dispatches events to their registered
// handler. Following a simple event routing pattern, it ensures each event
// type has exactly one handler responsible for processing events of that type.
//
// Typical usage:
//
//	dispatcher := eventdispatcher.New("scanner-1", myTracer, myLogger)
//
//	// Register handlers; each claims every event type it supports.
//	if err := dispatcher.RegisterHandler(ctx, scanHandler); err != nil { ... }
//
//	// Dispatch events
//	err := dispatcher.Dispatch(ctx, someEnvelope, ack)
type Dispatcher struct {
	// id identifies the owning service in logs and spans.
	id string

	mu       sync.RWMutex
	handlers map[events.EventType]events.EventHandler

	tracer trace.Tracer
	logger *logger.Logger
}

// New constructs a Dispatcher that uses the provided tracer for
// instrumentation. The dispatcher starts with an empty registry; handlers must
// be registered before dispatching any events.
func New(id string, tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	logger = logger.With("component", "event_dispatcher", "dispatcher_id", id)
	return &Dispatcher{
		id:       id,
		handlers: make(map[events.EventType]events.EventHandler),
		tracer:   tracer,
		logger:   logger,
	}
}

// HandlerAlreadyRegisteredError indicates a second handler tried to claim an
// event type that already has one.
type HandlerAlreadyRegisteredError struct{ EventType events.EventType }

func (e *HandlerAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handler already registered for event type: %s", e.EventType)
}

// RegisterHandler claims every event type the handler supports. Registration
// is all-or-nothing: if any supported type already has a handler, nothing is
// registered and a HandlerAlreadyRegisteredError is returned.
//
// This method is safe to call concurrently.
func (d *Dispatcher) RegisterHandler(ctx context.Context, handler events.EventHandler) error {
	eventTypes := handler.SupportedEvents()
	logger := d.logger.With("operation", "register_handler", "handler_type", fmt.Sprintf("%T", handler))
	_, span := d.tracer.Start(ctx, "event_dispatcher.register_handler",
		trace.WithAttributes(
			attribute.Int("event_type_count", len(eventTypes)),
		),
	)
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventType := range eventTypes {
		if _, exists := d.handlers[eventType]; exists {
			err := &HandlerAlreadyRegisteredError{EventType: eventType}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, eventType := range eventTypes {
		d.handlers[eventType] = handler
		logger.Debug(ctx, "handler registered", "event_type", eventType)
	}

	span.AddEvent("handler_registered")
	span.SetStatus(codes.Ok, "handler registered")
	return nil
}

// HandlerNotFoundError is an error type that indicates a handler was not found
// for an event type.
type HandlerNotFoundError struct {
	EventType events.EventType
	Partition int32
	Offset    int64
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s (partition: %d, offset: %d)",
		e.EventType, e.Partition, e.Offset)
}

// Dispatch routes the provided event envelope to its registered handler. It
// creates a new trace span and executes the handler. If the handler returns an
// error, dispatch stops and returns that error; acknowledgement stays with the
// handler.
//
// If no handler is found for the event type, a HandlerNotFoundError is
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	logger := logger.NewLoggerContext(d.logger.With("operation", "dispatch",
		"event_type", evt.Type,
		"partition", evt.Metadata.Partition,
		"offset", evt.Metadata.Offset,
	))
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.Int("partition", int(evt.Metadata.Partition)),
			attribute.Int64("offset", evt.Metadata.Offset),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{
			EventType: evt.Type,
			Partition: evt.Metadata.Partition,
			Offset:    evt.Metadata.Offset,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.Add("handler_type", fmt.Sprintf("%T", handler))

	if err := handler.HandleEvent(ctx, evt, ack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dispatch event for handler %T with event type %s: %w",
			handler, evt.Type, err,
		)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	logger.Debug(ctx, "event dispatched successfully")
	return nil
}
