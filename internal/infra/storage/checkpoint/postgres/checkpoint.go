// Package postgres persists scan checkpoints in the migration_checkpoints
// key/value table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
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

var _ migration.CheckpointStore = (*checkpointStore)(nil)

// checkpointStore provides a PostgreSQL implementation of
// migration.CheckpointStore. It uses sqlc-generated queries to manage the
// small key/value entries scan progress is persisted through, enabling
// resumable scanning across process restarts.
type checkpointStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewCheckpointStore creates a new PostgreSQL-backed checkpoint store using
// the provided database connection.
func NewCheckpointStore(pool *pgxpool.Pool, tracer trace.Tracer) *checkpointStore {
	return &checkpointStore{q: db.New(pool), tracer: tracer}
}

// Get reads the value at key. Key absence is a normal outcome reported through
// found rather than an error; for a fresh partition it is the expected first
// read.
func (s *checkpointStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("checkpoint_key", key),
	)
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_checkpoint", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetMigrationCheckpoint(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get checkpoint: %w", err)
		}
		value, found = row.Value, true
		return nil
	})
	return value, found, err
}

// Put writes value at key with overwrite semantics.
func (s *checkpointStore) Put(ctx context.Context, key, value string) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("checkpoint_key", key),
		attribute.Int("value_size", len(value)),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.put_checkpoint", dbAttrs, func(ctx context.Context) error {
		if err := s.q.UpsertMigrationCheckpoint(ctx, db.UpsertMigrationCheckpointParams{
			CheckpointKey: key,
			Value:         value,
		}); err != nil {
			return fmt.Errorf("failed to put checkpoint: %w", err)
		}
		return nil
	})
}
