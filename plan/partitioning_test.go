package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name string
		p    Partitioning
		d    Distribution
		want bool
	}{
		{"unknown meets unspecified", UnknownPartitioning{Partitions: 3}, UnspecifiedDistribution{}, true},
		{"unknown fails clustered", UnknownPartitioning{Partitions: 3}, ClusteredDistribution{Keys: []string{"k"}}, false},
		{"unknown fails all-tuples", UnknownPartitioning{Partitions: 3}, AllTuples{}, false},
		{"single meets all-tuples", SinglePartition{}, AllTuples{}, true},
		{"single meets clustered", SinglePartition{}, ClusteredDistribution{Keys: []string{"k"}}, true},
		{"single fails broadcast", SinglePartition{}, BroadcastDistribution{}, false},
		{"hash meets matching keys", HashPartitioning{Keys: []string{"k"}, Partitions: 4}, ClusteredDistribution{Keys: []string{"k"}}, true},
		{"hash fails different keys", HashPartitioning{Keys: []string{"k"}, Partitions: 4}, ClusteredDistribution{Keys: []string{"j"}}, false},
		{"hash fails key subset", HashPartitioning{Keys: []string{"a", "b"}, Partitions: 4}, ClusteredDistribution{Keys: []string{"a"}}, false},
		{"hash fails all-tuples", HashPartitioning{Keys: []string{"k"}, Partitions: 4}, AllTuples{}, false},
		{
			"collection meets if any member does",
			PartitioningCollection{
				HashPartitioning{Keys: []string{"a"}, Partitions: 4},
				HashPartitioning{Keys: []string{"b"}, Partitions: 4},
			},
			ClusteredDistribution{Keys: []string{"b"}},
			true,
		},
		{
			"collection fails if no member does",
			PartitioningCollection{
				HashPartitioning{Keys: []string{"a"}, Partitions: 4},
			},
			ClusteredDistribution{Keys: []string{"b"}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.p.Satisfies(tt.d))
		})
	}
}

func TestPartitioningEqual(t *testing.T) {
	a := HashPartitioning{Keys: []string{"k"}, Partitions: 4}
	require.True(t, PartitioningEqual(a, HashPartitioning{Keys: []string{"k"}, Partitions: 4}))
	require.False(t, PartitioningEqual(a, HashPartitioning{Keys: []string{"k"}, Partitions: 8}))
	require.False(t, PartitioningEqual(a, HashPartitioning{Keys: []string{"j"}, Partitions: 4}))
	require.False(t, PartitioningEqual(a, SinglePartition{}))
	require.True(t, PartitioningEqual(
		PartitioningCollection{a, SinglePartition{}},
		PartitioningCollection{a, SinglePartition{}},
	))
}
