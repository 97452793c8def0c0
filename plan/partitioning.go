package plan

import (
	"fmt"
	"strings"
)

// Distribution is the data-placement requirement an operator imposes on one
// of its children.
type Distribution interface {
	isDistribution()
	String() string
}

// UnspecifiedDistribution accepts any placement.
type UnspecifiedDistribution struct{}

// AllTuples requires every row in a single partition.
type AllTuples struct{}

// ClusteredDistribution requires rows with equal values of Keys to land in
// the same partition.
type ClusteredDistribution struct {
	Keys []string
}

// BroadcastDistribution requires the full relation to be visible to every
// partition of the sibling side. It is satisfied by materializing the whole
// input, not by shuffling, so it never forces an Exchange.
type BroadcastDistribution struct{}

func (UnspecifiedDistribution) isDistribution() {}
func (AllTuples) isDistribution()               {}
func (ClusteredDistribution) isDistribution()   {}
func (BroadcastDistribution) isDistribution()   {}

func (UnspecifiedDistribution) String() string { return "unspecified" }
func (AllTuples) String() string               { return "all-tuples" }
func (d ClusteredDistribution) String() string {
	return fmt.Sprintf("clustered(%s)", strings.Join(d.Keys, ", "))
}
func (BroadcastDistribution) String() string { return "broadcast" }

// Partitioning describes how an operator's output rows are laid out across
// partitions.
type Partitioning interface {
	NumPartitions() int
	// Satisfies reports whether output laid out this way already meets the
	// given requirement without any data movement.
	Satisfies(d Distribution) bool
	isPartitioning()
	String() string
}

// UnknownPartitioning is an arbitrary layout (e.g. raw scan batches).
type UnknownPartitioning struct {
	Partitions int
}

// SinglePartition holds all rows in one partition.
type SinglePartition struct{}

// HashPartitioning lays rows out by hash of the key columns.
type HashPartitioning struct {
	Keys       []string
	Partitions int
}

// PartitioningCollection describes output that simultaneously satisfies
// several partitionings, e.g. a sort-merge join's output is clustered on
// both sides' join keys.
type PartitioningCollection []Partitioning

func (UnknownPartitioning) isPartitioning()    {}
func (SinglePartition) isPartitioning()        {}
func (HashPartitioning) isPartitioning()       {}
func (PartitioningCollection) isPartitioning() {}

func (p UnknownPartitioning) NumPartitions() int { return p.Partitions }
func (SinglePartition) NumPartitions() int       { return 1 }
func (p HashPartitioning) NumPartitions() int    { return p.Partitions }
func (c PartitioningCollection) NumPartitions() int {
	if len(c) == 0 {
		return 0
	}
	return c[0].NumPartitions()
}

func (p UnknownPartitioning) Satisfies(d Distribution) bool {
	_, ok := d.(UnspecifiedDistribution)
	return ok
}

func (SinglePartition) Satisfies(d Distribution) bool {
	switch d.(type) {
	case UnspecifiedDistribution, AllTuples, ClusteredDistribution:
		// One partition trivially clusters every key.
		return true
	default:
		return false
	}
}

func (p HashPartitioning) Satisfies(d Distribution) bool {
	switch req := d.(type) {
	case UnspecifiedDistribution:
		return true
	case ClusteredDistribution:
		return keysEqual(p.Keys, req.Keys)
	default:
		return false
	}
}

func (c PartitioningCollection) Satisfies(d Distribution) bool {
	for _, p := range c {
		if p.Satisfies(d) {
			return true
		}
	}
	return false
}

func (p UnknownPartitioning) String() string { return fmt.Sprintf("unknown(%d)", p.Partitions) }
func (SinglePartition) String() string       { return "single" }
func (p HashPartitioning) String() string {
	return fmt.Sprintf("hash(%s, %d)", strings.Join(p.Keys, ", "), p.Partitions)
}
func (c PartitioningCollection) String() string {
	parts := make([]string, len(c))
	for i, p := range c {
		parts[i] = p.String()
	}
	return "collection(" + strings.Join(parts, "; ") + ")"
}

func keysEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PartitioningEqual compares two partitionings structurally.
func PartitioningEqual(a, b Partitioning) bool {
	switch av := a.(type) {
	case UnknownPartitioning:
		bv, ok := b.(UnknownPartitioning)
		return ok && av.Partitions == bv.Partitions
	case SinglePartition:
		_, ok := b.(SinglePartition)
		return ok
	case HashPartitioning:
		bv, ok := b.(HashPartitioning)
		return ok && av.Partitions == bv.Partitions && keysEqual(av.Keys, bv.Keys)
	case PartitioningCollection:
		bv, ok := b.(PartitioningCollection)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !PartitioningEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
