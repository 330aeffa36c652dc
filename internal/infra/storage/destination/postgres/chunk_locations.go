// Package postgres persists migrated chunk locations in the destination
// schema.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/db"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/internal/infra/storage"
)

// defaultDBAttributes defines standard OpenTelemetry attributes for PostgreSQL operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var (
	_ migration.ExistenceChecker = (*chunkLocationStore)(nil)
	_ migration.BatchStorer      = (*chunkLocationStore)(nil)
)

// chunkLocationStore reads and writes the chunk_locations table. Writes are
// idempotent: the insert carries ON CONFLICT DO NOTHING on the (hash_key,
// pack_id) primary key, so redelivered batches land without error and without
// clobbering earlier rows.
type chunkLocationStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewChunkLocationStore creates a PostgreSQL-backed store for migrated chunk
// locations.
func NewChunkLocationStore(pool *pgxpool.Pool, tracer trace.Tracer) *chunkLocationStore {
	return &chunkLocationStore{q: db.New(pool), tracer: tracer}
}

// Present reports which of the given keys already have a destination row.
// Keys absent from the returned set need to be written.
func (s *chunkLocationStore) Present(ctx context.Context, keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
	present := make(map[migration.RecordKey]struct{}, len(keys))
	if len(keys) == 0 {
		return present, nil
	}

	hashKeys := make([]string, 0, len(keys))
	packIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		hashKeys = append(hashKeys, key.Key)
		packIDs = append(packIDs, key.Locator)
	}

	dbAttrs := append(defaultDBAttributes, attribute.Int("key_count", len(keys)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_present_chunk_locations", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.GetPresentChunkLocations(ctx, db.GetPresentChunkLocationsParams{
			HashKeys: hashKeys,
			PackIds:  packIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to probe chunk locations: %w", err)
		}
		for _, row := range rows {
			present[migration.RecordKey{Key: row.HashKey, Locator: row.PackID}] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return present, nil
}

// Store writes the batch in one round trip and returns the rows that could
// not be written. A partial failure returns the failed subset with a nil
// error so the caller can redrive just those rows; when every row fails the
// batch itself is broken and the error is returned instead, leaving retry to
// the delivery layer.
func (s *chunkLocationStore) Store(ctx context.Context, records []migration.DestinationRecord) ([]migration.DestinationRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	params := make([]db.InsertChunkLocationParams, 0, len(records))
	for _, rec := range records {
		params = append(params, db.InsertChunkLocationParams{
			HashKey:    rec.Key,
			PackID:     rec.Locator,
			ByteOffset: rec.Offset,
			ByteLength: rec.Length,
		})
	}

	var unprocessed []migration.DestinationRecord
	var firstErr error
	dbAttrs := append(defaultDBAttributes, attribute.Int("record_count", len(records)))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.store_chunk_locations", dbAttrs, func(ctx context.Context) error {
		results := s.q.InsertChunkLocation(ctx, params)
		results.Exec(func(i int, err error) {
			if err == nil {
				return
			}
			if firstErr == nil {
				firstErr = err
			}
			unprocessed = append(unprocessed, records[i])
		})

		if len(unprocessed) == len(records) && firstErr != nil {
			unprocessed = nil
			return fmt.Errorf("failed to store chunk locations: %w", firstErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unprocessed, nil
}
