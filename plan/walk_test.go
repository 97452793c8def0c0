package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransformSharesUntouchedSubtrees(t *testing.T) {
	left := scanOf("a", "k")
	right := scanOf("b", "k")
	join := &SortMergeJoin{
		Left: left, Right: right,
		LeftKeys: []string{"k"}, RightKeys: []string{"k"},
	}

	replacement := scanOf("c", "k")
	out := Transform(join, func(n Node) Node {
		if n == right {
			return replacement
		}
		return n
	})

	rebuilt, ok := out.(*SortMergeJoin)
	require.True(t, ok)
	require.NotSame(t, join, rebuilt)
	require.Same(t, left, rebuilt.Left)
	require.Same(t, replacement, rebuilt.Right)

	// The input tree is untouched.
	require.Same(t, right, join.Right)

	// Identity transform returns the same tree.
	same := Transform(join, func(n Node) Node { return n })
	require.Same(t, Node(join), same)
}

func TestInputStagesDeduplicates(t *testing.T) {
	st1 := NewStage(1, scanOf("a", "k"), HashPartitioning{Keys: []string{"k"}, Partitions: 2})
	st2 := NewStage(2, scanOf("b", "k"), HashPartitioning{Keys: []string{"k"}, Partitions: 2})

	join := &SortMergeJoin{
		Left:      &QueryStageInput{Ref: st2},
		Right:     &ReusedQueryStage{Ref: st2},
		LeftKeys:  []string{"k"},
		RightKeys: []string{"k"},
	}
	outer := &SortMergeJoin{
		Left:      join,
		Right:     &QueryStageInput{Ref: st1},
		LeftKeys:  []string{"k"},
		RightKeys: []string{"k"},
	}

	inputs := InputStages(outer)
	require.Len(t, inputs, 2)
	require.Same(t, st2, inputs[0])
	require.Same(t, st1, inputs[1])
}

func TestCountDAGDescendsIntoStages(t *testing.T) {
	inner := &SortMergeJoin{
		Left:      scanOf("a", "k"),
		Right:     scanOf("b", "k"),
		LeftKeys:  []string{"k"},
		RightKeys: []string{"k"},
	}
	st := NewStage(1, inner, HashPartitioning{Keys: []string{"k"}, Partitions: 2})

	root := &SortMergeJoin{
		Left:      &QueryStageInput{Ref: st},
		Right:     &ReusedQueryStage{Ref: st},
		LeftKeys:  []string{"k"},
		RightKeys: []string{"k"},
	}

	// The shared stage's plan counts once.
	require.Equal(t, 2, CountDAG(root, KindSortMergeJoin))
	require.Equal(t, 2, CountDAG(root, KindScan))
	require.Equal(t, 1, CountDAG(root, KindQueryStageInput))
	require.Equal(t, 1, CountDAG(root, KindReusedQueryStage))
}
