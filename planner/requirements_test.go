package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"adaptdb/core"
	"adaptdb/plan"
)

func scanOf(table string, cols ...string) *plan.Scan {
	schema := make(core.Schema, len(cols))
	for i, c := range cols {
		schema[i] = core.Column{Name: c, Type: core.TypeInt64}
	}
	return plan.NewScan(table, schema)
}

func smjOf(left, right plan.Node, leftKey, rightKey string) *plan.SortMergeJoin {
	return &plan.SortMergeJoin{
		Left:      left,
		Right:     right,
		LeftKeys:  []string{leftKey},
		RightKeys: []string{rightKey},
		Type:      plan.InnerJoin,
	}
}

func completedStageOf(t *testing.T, id int, keys []string, cols ...string) *plan.Stage {
	t.Helper()
	schema := make(core.Schema, len(cols))
	for i, c := range cols {
		schema[i] = core.Column{Name: c, Type: core.TypeInt64}
	}
	st := plan.NewStage(id, plan.NewScan("t", schema), plan.HashPartitioning{Keys: keys, Partitions: 4})
	out, err := core.MaterializeOutput(schema, [][]core.Row{nil, nil, nil, nil})
	require.NoError(t, err)
	require.NoError(t, st.MarkRunning())
	require.NoError(t, st.Complete(out))
	return st
}

func TestEnsureRequirementsInsertsHashExchanges(t *testing.T) {
	join := smjOf(scanOf("a", "a_k"), scanOf("b", "b_k"), "a_k", "b_k")

	got, err := EnsureRequirements(join, 4)
	require.NoError(t, err)

	rebuilt, ok := got.(*plan.SortMergeJoin)
	require.True(t, ok)

	left, ok := rebuilt.Left.(*plan.Exchange)
	require.True(t, ok)
	require.Equal(t, plan.HashPartitioning{Keys: []string{"a_k"}, Partitions: 4}, left.Partitioning)

	right, ok := rebuilt.Right.(*plan.Exchange)
	require.True(t, ok)
	require.Equal(t, plan.HashPartitioning{Keys: []string{"b_k"}, Partitions: 4}, right.Partitioning)
}

func TestEnsureRequirementsSkipsSatisfiedChildren(t *testing.T) {
	// A stage input already hash-partitioned on the join key needs no
	// further movement.
	st := completedStageOf(t, 1, []string{"a_k"}, "a_k", "a_v")
	join := smjOf(&plan.QueryStageInput{Ref: st}, scanOf("b", "b_k"), "a_k", "b_k")

	got, err := EnsureRequirements(join, 4)
	require.NoError(t, err)

	rebuilt := got.(*plan.SortMergeJoin)
	require.IsType(t, &plan.QueryStageInput{}, rebuilt.Left)
	require.IsType(t, &plan.Exchange{}, rebuilt.Right)
}

func TestEnsureRequirementsBroadcastNeverShuffles(t *testing.T) {
	join := &plan.BroadcastHashJoin{
		Left:      scanOf("a", "a_k"),
		Right:     scanOf("b", "b_k"),
		LeftKeys:  []string{"a_k"},
		RightKeys: []string{"b_k"},
		Type:      plan.InnerJoin,
		BuildSide: plan.RightSide,
	}

	got, err := EnsureRequirements(join, 4)
	require.NoError(t, err)
	require.Equal(t, 0, plan.Count(got, plan.KindExchange))
}

func TestEnsureRequirementsRejectsBadPartitionCount(t *testing.T) {
	_, err := EnsureRequirements(scanOf("a", "a_k"), 0)
	require.Error(t, err)
	var perr *PlanningError
	require.ErrorAs(t, err, &perr)
}

func TestEnsureRequirementsIsIdempotent(t *testing.T) {
	join := smjOf(scanOf("a", "a_k"), scanOf("b", "b_k"), "a_k", "b_k")

	once, err := EnsureRequirements(join, 4)
	require.NoError(t, err)
	twice, err := EnsureRequirements(once, 4)
	require.NoError(t, err)

	require.Equal(t, plan.Count(once, plan.KindExchange), plan.Count(twice, plan.KindExchange))
	require.True(t, plan.Equal(once, twice))
}

func TestMissingShuffles(t *testing.T) {
	bare := smjOf(scanOf("a", "a_k"), scanOf("b", "b_k"), "a_k", "b_k")
	require.Equal(t, 2, missingShuffles(bare))

	ensured, err := EnsureRequirements(bare, 4)
	require.NoError(t, err)
	require.Equal(t, 0, missingShuffles(ensured))
}
