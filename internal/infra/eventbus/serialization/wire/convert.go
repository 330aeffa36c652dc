package wire

import (
	"github.com/ahrav/hashferry/internal/domain/migration"
)

// FromScanRequested converts a domain scan request to its wire body.
func FromScanRequested(e migration.ScanRequestedEvent) ScanRequestedV1 {
	return ScanRequestedV1{
		SchemaVersion:   SchemaVersion1,
		OccurredAt:      e.OccurredAt(),
		TotalPartitions: e.Shard.TotalPartitions,
		PartitionID:     e.Shard.PartitionID,
	}
}

// ToScanRequestedEvent converts a validated wire body back to the domain
// event. The shard is re-validated through the domain constructor so an
// out-of-range partition never enters the application layer.
func ToScanRequestedEvent(body ScanRequestedV1) (migration.ScanRequestedEvent, error) {
	shard, err := migration.NewShard(body.TotalPartitions, body.PartitionID)
	if err != nil {
		return migration.ScanRequestedEvent{}, err
	}
	return migration.NewScanRequestedEvent(shard), nil
}

// FromBatchQueued converts a domain batch event to its wire body.
func FromBatchQueued(e migration.BatchQueuedEvent) RecordBatchV1 {
	records := make([]SourceRecordV1, 0, len(e.Records))
	for _, rec := range e.Records {
		records = append(records, fromSourceRecord(rec))
	}
	return RecordBatchV1{
		SchemaVersion: SchemaVersion1,
		OccurredAt:    e.OccurredAt(),
		Records:       records,
	}
}

// ToBatchQueuedEvent converts a validated wire body back to the domain event.
func ToBatchQueuedEvent(body RecordBatchV1) migration.BatchQueuedEvent {
	records := make([]migration.SourceRecord, 0, len(body.Records))
	for _, rec := range body.Records {
		records = append(records, toSourceRecord(rec))
	}
	return migration.NewBatchQueuedEvent(records)
}

// FromWritesUnprocessed converts a domain unprocessed-writes event to its
// wire body.
func FromWritesUnprocessed(e migration.WritesUnprocessedEvent) UnprocessedBatchV1 {
	writes := make([]UnprocessedWriteV1, 0, len(e.Writes))
	for _, w := range e.Writes {
		writes = append(writes, UnprocessedWriteV1{
			HashKey: w.Record.Key,
			PackID:  w.Record.Locator,
			Offset:  w.Record.Offset,
			Length:  w.Record.Length,
		})
	}
	return UnprocessedBatchV1{
		SchemaVersion: SchemaVersion1,
		OccurredAt:    e.OccurredAt(),
		Writes:        writes,
	}
}

// ToWritesUnprocessedEvent converts a validated wire body back to the domain
// event.
func ToWritesUnprocessedEvent(body UnprocessedBatchV1) migration.WritesUnprocessedEvent {
	writes := make([]migration.UnprocessedWrite, 0, len(body.Writes))
	for _, w := range body.Writes {
		writes = append(writes, migration.UnprocessedWrite{
			Record: migration.DestinationRecord{
				Key:     w.HashKey,
				Locator: w.PackID,
				Offset:  w.Offset,
				Length:  w.Length,
			},
		})
	}
	return migration.NewWritesUnprocessedEvent(writes)
}

func fromSourceRecord(rec migration.SourceRecord) SourceRecordV1 {
	positions := make([]PositionV1, 0, len(rec.Positions))
	for _, pos := range rec.Positions {
		positions = append(positions, PositionV1{
			PackID: pos.Locator,
			Offset: pos.Offset,
			Length: pos.Length,
		})
	}
	return SourceRecordV1{
		HashKey:   rec.Key,
		Positions: positions,
		CreatedAt: rec.CreatedAt,
		Kind:      rec.Kind,
		Payload:   rec.Payload,
	}
}

func toSourceRecord(rec SourceRecordV1) migration.SourceRecord {
	positions := make([]migration.Position, 0, len(rec.Positions))
	for _, pos := range rec.Positions {
		positions = append(positions, migration.Position{
			Locator: pos.PackID,
			Offset:  pos.Offset,
			Length:  pos.Length,
		})
	}
	return migration.SourceRecord{
		Key:       rec.HashKey,
		Positions: positions,
		CreatedAt: rec.CreatedAt,
		Kind:      rec.Kind,
		Payload:   rec.Payload,
	}
}
