// Package postgres reads the legacy blob_index table as partitioned keyset
// pages.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/db"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/internal/infra/storage"
	"github.com/ahrav/hashferry/pkg/common"
)

// defaultDBAttributes defines standard OpenTelemetry attributes for PostgreSQL operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ migration.SourcePager = (*blobIndexPager)(nil)

// blobIndexPager reads the legacy blob_index table one keyset page at a time.
// Partition membership is computed inside the query (abs(hashtext(hash_key))
// mod total partitions), so workers never coordinate: each shard walks a
// disjoint slice of the keyspace in primary-key order. Every fetch passes the
// shared rate limiter first, keeping a full-table scan from overrunning the
// legacy store.
type blobIndexPager struct {
	q       *db.Queries
	limiter *common.RateLimiter
	tracer  trace.Tracer
}

// NewBlobIndexPager creates a PostgreSQL-backed pager over the legacy blob
// index.
func NewBlobIndexPager(pool *pgxpool.Pool, limiter *common.RateLimiter, tracer trace.Tracer) *blobIndexPager {
	return &blobIndexPager{q: db.New(pool), limiter: limiter, tracer: tracer}
}

// legacyPosition is one element of the legacy positions document: the old
// system stored a JSON array of these per hash.
type legacyPosition struct {
	Pack   string `json:"pack"`
	Offset int64  `json:"offset"`
	Len    int64  `json:"len"`
}

// FetchPage returns up to limit records of the shard's keyspace slice,
// starting after the continuation token. A nil token starts from the
// beginning; a nil NextKey in the returned page means the partition is
// exhausted.
func (p *blobIndexPager) FetchPage(ctx context.Context, shard migration.Shard, after *string, limit int) (migration.Page, error) {
	afterKey := ""
	if after != nil {
		afterKey = *after
	}

	var page migration.Page
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("partition_id", shard.PartitionID),
		attribute.Int("total_partitions", shard.TotalPartitions),
		attribute.Int("page_limit", limit),
	)
	err := storage.ExecuteAndTrace(ctx, p.tracer, "postgres.fetch_blob_index_page", dbAttrs, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit source fetch: %w", err)
		}

		rows, err := p.q.ListBlobIndexPartitionPage(ctx, db.ListBlobIndexPartitionPageParams{
			TotalPartitions: int64(shard.TotalPartitions),
			PartitionID:     int64(shard.PartitionID),
			AfterKey:        afterKey,
			PageLimit:       int32(limit),
		})
		if err != nil {
			return fmt.Errorf("failed to fetch blob index page: %w", err)
		}

		records := make([]migration.SourceRecord, 0, len(rows))
		for _, row := range rows {
			rec, err := sourceRecordFromRow(row)
			if err != nil {
				return fmt.Errorf("row %q: %w", row.HashKey, err)
			}
			records = append(records, rec)
		}
		page.Records = records

		// A full page may end exactly on the partition's last key; the
		// following fetch comes back empty and terminates the scan then.
		if len(rows) == limit {
			next := rows[len(rows)-1].HashKey
			page.NextKey = &next
		}
		return nil
	})
	if err != nil {
		return migration.Page{}, err
	}
	return page, nil
}

// sourceRecordFromRow maps one legacy row into the domain shape, decoding the
// positions document.
func sourceRecordFromRow(row db.BlobIndex) (migration.SourceRecord, error) {
	var legacy []legacyPosition
	if len(row.Positions) > 0 {
		if err := json.Unmarshal(row.Positions, &legacy); err != nil {
			return migration.SourceRecord{}, fmt.Errorf("decode positions: %w", err)
		}
	}

	positions := make([]migration.Position, 0, len(legacy))
	for _, lp := range legacy {
		positions = append(positions, migration.Position{
			Locator: lp.Pack,
			Offset:  lp.Offset,
			Length:  lp.Len,
		})
	}

	rec := migration.SourceRecord{
		Key:       row.HashKey,
		Positions: positions,
		CreatedAt: row.CreatedAt.Time,
		Payload:   row.Payload,
	}
	if row.Kind.Valid {
		rec.Kind = row.Kind.String
	}
	return rec, nil
}
