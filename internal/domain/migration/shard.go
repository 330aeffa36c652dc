package migration

import "fmt"

// Shard identifies one partition of a parallel scan: which disjoint slice of
// the source keyspace a worker owns, out of how many slices the scan was
// split into.
type Shard struct {
	TotalPartitions int
	PartitionID     int
}

// DefaultShard returns the single-partition shard used when no parallelism is
// configured: one worker owning the full keyspace.
func DefaultShard() Shard { return Shard{TotalPartitions: 1, PartitionID: 0} }

// NewShard validates and constructs a Shard.
func NewShard(totalPartitions, partitionID int) (Shard, error) {
	if totalPartitions < 1 {
		return Shard{}, fmt.Errorf("total partitions must be >= 1, got %d", totalPartitions)
	}
	if partitionID < 0 || partitionID >= totalPartitions {
		return Shard{}, fmt.Errorf("partition id must be in [0, %d), got %d", totalPartitions, partitionID)
	}
	return Shard{TotalPartitions: totalPartitions, PartitionID: partitionID}, nil
}

func (s Shard) String() string {
	return fmt.Sprintf("%d/%d", s.PartitionID, s.TotalPartitions)
}
