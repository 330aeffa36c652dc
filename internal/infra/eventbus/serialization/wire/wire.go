// Package wire defines the versioned JSON bodies carried on the queue and
// validates them on ingress. Every body carries a schema_version field so
// codecs can dispatch by version instead of guessing at field presence.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	regexp "github.com/wasilibs/go-re2"
)

// SchemaVersion1 is the current version for all queue message bodies.
const SchemaVersion1 = 1

// ScanRequestedV1 asks a scan worker to run one invocation for a partition.
type ScanRequestedV1 struct {
	SchemaVersion   int       `json:"schema_version" validate:"required"`
	OccurredAt      time.Time `json:"occurred_at"`
	TotalPartitions int       `json:"total_partitions" validate:"gt=0"`
	PartitionID     int       `json:"partition_id" validate:"gte=0,ltfield=TotalPartitions"`
}

// PositionV1 is one pack-file location inside a legacy record body.
type PositionV1 struct {
	PackID string `json:"pack_id" validate:"required,pack_id"`
	Offset int64  `json:"offset" validate:"gte=0"`
	Length int64  `json:"length" validate:"gte=0"`
}

// SourceRecordV1 mirrors one legacy row as the scanner fetched it. The loader
// consumes key and positions; the remaining fields ride along untouched so a
// redrive tool can reconstruct the original row.
type SourceRecordV1 struct {
	HashKey   string          `json:"hash_key" validate:"required,hash_key"`
	Positions []PositionV1    `json:"positions" validate:"dive"`
	CreatedAt time.Time       `json:"created_at"`
	Kind      string          `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RecordBatchV1 carries one dispatched batch of legacy records. The element
// ceiling mirrors the scanner's largest page so one message stays safely
// under the transport's size limit.
type RecordBatchV1 struct {
	SchemaVersion int              `json:"schema_version" validate:"required"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Records       []SourceRecordV1 `json:"records" validate:"min=1,max=500,dive"`
}

// UnprocessedWriteV1 describes one destination write the store reported back
// as not committed.
type UnprocessedWriteV1 struct {
	HashKey string `json:"hash_key" validate:"required,hash_key"`
	PackID  string `json:"pack_id" validate:"required,pack_id"`
	Offset  int64  `json:"offset" validate:"gte=0"`
	Length  int64  `json:"length" validate:"gte=0"`
}

// UnprocessedBatchV1 carries failed write requests to the redrive side queue.
type UnprocessedBatchV1 struct {
	SchemaVersion int                  `json:"schema_version" validate:"required"`
	OccurredAt    time.Time            `json:"occurred_at"`
	Writes        []UnprocessedWriteV1 `json:"writes" validate:"min=1,dive"`
}

var validate = newValidator()

// newValidator builds the shared validator with the pattern checks for key
// fields. go-re2 keeps matching linear-time on fields that arrive from the
// wire. The patterns only pin down shape: printable ASCII without whitespace,
// bounded length. Legacy keys are opaque, so anything stricter risks
// dead-lettering real data.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	patterns := map[string]*regexp.Regexp{
		"hash_key": regexp.MustCompile(`^[\x21-\x7e]{1,512}$`),
		"pack_id":  regexp.MustCompile(`^[\x21-\x7e]{1,256}$`),
	}
	for tag, pattern := range patterns {
		err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return pattern.MatchString(fl.Field().String())
		})
		if err != nil {
			panic(fmt.Sprintf("register %q validation: %v", tag, err))
		}
	}
	return v
}

// Validate checks a wire body against its declared constraints.
func Validate(body any) error {
	if err := validate.Struct(body); err != nil {
		return fmt.Errorf("validate message body: %w", err)
	}
	return nil
}

// PeekSchemaVersion reads only the schema_version field so codecs can pick a
// decode path before committing to a full unmarshal.
func PeekSchemaVersion(data []byte) (int, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return probe.SchemaVersion, nil
}
