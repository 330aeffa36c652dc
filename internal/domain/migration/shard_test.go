package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		totalPartitions int
		partitionID     int
		wantErr         bool
	}{
		{name: "single partition", totalPartitions: 1, partitionID: 0},
		{name: "last partition", totalPartitions: 16, partitionID: 15},
		{name: "zero total", totalPartitions: 0, partitionID: 0, wantErr: true},
		{name: "negative total", totalPartitions: -1, partitionID: 0, wantErr: true},
		{name: "negative partition", totalPartitions: 4, partitionID: -1, wantErr: true},
		{name: "partition out of range", totalPartitions: 4, partitionID: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shard, err := NewShard(tt.totalPartitions, tt.partitionID)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.totalPartitions, shard.TotalPartitions)
			assert.Equal(t, tt.partitionID, shard.PartitionID)
		})
	}
}

func TestDefaultShard(t *testing.T) {
	t.Parallel()

	shard := DefaultShard()
	assert.Equal(t, 1, shard.TotalPartitions)
	assert.Equal(t, 0, shard.PartitionID)
	assert.Equal(t, "0/1", shard.String())
}
