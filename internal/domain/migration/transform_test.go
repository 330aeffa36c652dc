package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  SourceRecord
		want []DestinationRecord
	}{
		{
			name: "one destination record per position",
			rec: SourceRecord{
				Key: "hash",
				Positions: []Position{
					{Offset: 0, Length: 10, Locator: "A"},
					{Offset: 20, Length: 20, Locator: "B"},
				},
			},
			want: []DestinationRecord{
				{Key: "hash", Locator: "A", Offset: 0, Length: 10},
				{Key: "hash", Locator: "B", Offset: 20, Length: 20},
			},
		},
		{
			name: "no positions expands to nothing",
			rec:  SourceRecord{Key: "hash"},
			want: nil,
		},
		{
			name: "single position",
			rec: SourceRecord{
				Key:       "abc123",
				Positions: []Position{{Offset: 512, Length: 128, Locator: "pack-7"}},
			},
			want: []DestinationRecord{
				{Key: "abc123", Locator: "pack-7", Offset: 512, Length: 128},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.rec)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestTransformPreservesOrder verifies the output keeps the legacy index's
// position ordering, one output per input position.
func TestTransformPreservesOrder(t *testing.T) {
	t.Parallel()

	rec := SourceRecord{Key: "k"}
	for i := 0; i < 25; i++ {
		rec.Positions = append(rec.Positions, Position{
			Offset:  int64(i * 100),
			Length:  int64(i),
			Locator: "pack",
		})
	}

	got := Transform(rec)
	require.Len(t, got, len(rec.Positions))
	for i, d := range got {
		assert.Equal(t, rec.Key, d.Key)
		assert.Equal(t, rec.Positions[i].Offset, d.Offset)
		assert.Equal(t, rec.Positions[i].Length, d.Length)
		assert.Equal(t, rec.Positions[i].Locator, d.Locator)
	}
}

func TestDestinationRecordKey(t *testing.T) {
	t.Parallel()

	rec := DestinationRecord{Key: "hash", Locator: "A", Offset: 1, Length: 2}
	assert.Equal(t, RecordKey{Key: "hash", Locator: "A"}, rec.RecordKey())

	// Records differing only in offset/length share a primary key.
	other := DestinationRecord{Key: "hash", Locator: "A", Offset: 9, Length: 9}
	assert.Equal(t, rec.RecordKey(), other.RecordKey())
}
