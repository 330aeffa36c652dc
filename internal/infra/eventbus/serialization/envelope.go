package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/hashferry/internal/domain/events"
)

// UniversalEnvelope is the outer wire frame for every queue message: the
// event type tag consumers route on plus the already-encoded payload bytes.
type UniversalEnvelope struct {
	Type    events.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// SerializeEventEnvelope encodes the payload through its registered codec and
// wraps the result with the event type tag.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	payloadBytes, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload (%s): %w", eventType, err)
	}

	env := UniversalEnvelope{Type: eventType, Payload: payloadBytes}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope (%s): %w", eventType, err)
	}
	return data, nil
}

// UnmarshalUniversalEnvelope splits a wire message back into its event type
// and payload bytes without decoding the payload itself.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var env UniversalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("envelope missing event type")
	}
	return env.Type, env.Payload, nil
}
