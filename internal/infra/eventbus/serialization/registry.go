// Package serialization provides a registry-based system for serializing and
// deserializing domain events in the event bus infrastructure. It acts as a
// translation layer between domain objects and their versioned JSON wire
// bodies.
//
// The package implements a registry pattern where serialization and
// deserialization functions are registered per event type. This keeps the
// domain layer clean of wire concerns, centralizes codec logic, and lets new
// event types or schema versions be added without touching existing codecs.
// Message bodies are validated on ingress; a body that fails validation
// surfaces an error to the bus, whose redelivery policy eventually
// dead-letters it rather than best-effort parsing it.
package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	serializationerrors "github.com/ahrav/hashferry/internal/infra/eventbus/serialization/errors"
	"github.com/ahrav/hashferry/internal/infra/eventbus/serialization/wire"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
// This allows for dynamic dispatch based on event type at runtime.
var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event
// type, enabling the system to encode that type's domain objects on publish.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given
// event type, enabling the system to decode consumed messages back into
// domain objects.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// SerializePayload converts a domain object into bytes using the registered
// serializer for its event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the
// registered deserializer for its event type.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

// TODO: Figure out if init function is the best way to do this.
func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers codecs for every supported event type.
// This must run during startup before any event processing can occur.
func RegisterEventSerializers() {
	RegisterSerializeFunc(migration.EventTypeScanRequested, serializeScanRequested)
	RegisterDeserializeFunc(migration.EventTypeScanRequested, deserializeScanRequested)

	RegisterSerializeFunc(migration.EventTypeBatchQueued, serializeBatchQueued)
	RegisterDeserializeFunc(migration.EventTypeBatchQueued, deserializeBatchQueued)

	RegisterSerializeFunc(migration.EventTypeWritesUnprocessed, serializeWritesUnprocessed)
	RegisterDeserializeFunc(migration.EventTypeWritesUnprocessed, deserializeWritesUnprocessed)
}

func serializeScanRequested(payload any) ([]byte, error) {
	evt, ok := payload.(migration.ScanRequestedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(migration.EventTypeScanRequested), Got: payload,
		}
	}
	return json.Marshal(wire.FromScanRequested(evt))
}

func deserializeScanRequested(data []byte) (any, error) {
	version, err := wire.PeekSchemaVersion(data)
	if err != nil {
		return nil, err
	}
	switch version {
	case wire.SchemaVersion1:
		var body wire.ScanRequestedV1
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("unmarshal ScanRequested: %w", err)
		}
		if err := wire.Validate(&body); err != nil {
			return nil, err
		}
		return wire.ToScanRequestedEvent(body)
	default:
		return nil, serializationerrors.ErrUnsupportedSchemaVersion{
			EventType: string(migration.EventTypeScanRequested), Version: version,
		}
	}
}

func serializeBatchQueued(payload any) ([]byte, error) {
	evt, ok := payload.(migration.BatchQueuedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(migration.EventTypeBatchQueued), Got: payload,
		}
	}
	return json.Marshal(wire.FromBatchQueued(evt))
}

func deserializeBatchQueued(data []byte) (any, error) {
	version, err := wire.PeekSchemaVersion(data)
	if err != nil {
		return nil, err
	}
	switch version {
	case wire.SchemaVersion1:
		var body wire.RecordBatchV1
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("unmarshal RecordBatch: %w", err)
		}
		if err := wire.Validate(&body); err != nil {
			return nil, err
		}
		return wire.ToBatchQueuedEvent(body), nil
	default:
		return nil, serializationerrors.ErrUnsupportedSchemaVersion{
			EventType: string(migration.EventTypeBatchQueued), Version: version,
		}
	}
}

func serializeWritesUnprocessed(payload any) ([]byte, error) {
	evt, ok := payload.(migration.WritesUnprocessedEvent)
	if !ok {
		return nil, serializationerrors.ErrInvalidPayload{
			EventType: string(migration.EventTypeWritesUnprocessed), Got: payload,
		}
	}
	return json.Marshal(wire.FromWritesUnprocessed(evt))
}

func deserializeWritesUnprocessed(data []byte) (any, error) {
	version, err := wire.PeekSchemaVersion(data)
	if err != nil {
		return nil, err
	}
	switch version {
	case wire.SchemaVersion1:
		var body wire.UnprocessedBatchV1
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("unmarshal UnprocessedBatch: %w", err)
		}
		if err := wire.Validate(&body); err != nil {
			return nil, err
		}
		return wire.ToWritesUnprocessedEvent(body), nil
	default:
		return nil, serializationerrors.ErrUnsupportedSchemaVersion{
			EventType: string(migration.EventTypeWritesUnprocessed), Version: version,
		}
	}
}
