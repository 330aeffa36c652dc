package serializationerrors

import "fmt"

// ErrInvalidPayload indicates a publish-side payload was not the domain type
// registered for its event type.
type ErrInvalidPayload struct {
	EventType string
	Got       any
}

func (e ErrInvalidPayload) Error() string {
	return fmt.Sprintf("invalid payload for %s event: %T", e.EventType, e.Got)
}

// ErrUnsupportedSchemaVersion indicates a message body declared a schema
// version this build has no decode path for.
type ErrUnsupportedSchemaVersion struct {
	EventType string
	Version   int
}

func (e ErrUnsupportedSchemaVersion) Error() string {
	return fmt.Sprintf("unsupported schema version %d for %s event", e.Version, e.EventType)
}
