package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"adaptdb/core"
	"adaptdb/plan"
)

const rewriteThreshold = 2048

// sizedStage fabricates a completed stage whose measured output holds the
// given number of rows. Row payloads are distinct so compression cannot
// shrink a large output under the threshold.
func sizedStage(t *testing.T, id int, key string, rows int) *plan.Stage {
	t.Helper()
	schema := core.Schema{
		{Name: key, Type: core.TypeInt64},
		{Name: key + "_payload", Type: core.TypeString},
	}
	data := make([]core.Row, rows)
	for i := range data {
		data[i] = core.Row{int64(i), fmt.Sprintf("%s-%d-%x", key, i, uint32(i)*2654435761)}
	}
	st := plan.NewStage(id, plan.NewScan("t_"+key, schema),
		plan.HashPartitioning{Keys: []string{key}, Partitions: 4})
	out, err := core.MaterializeOutput(schema, [][]core.Row{data})
	require.NoError(t, err)
	require.NoError(t, st.MarkRunning())
	require.NoError(t, st.Complete(out))
	return st
}

func pendingStage(id int, key string) *plan.Stage {
	schema := core.Schema{
		{Name: key, Type: core.TypeInt64},
		{Name: key + "_payload", Type: core.TypeString},
	}
	return plan.NewStage(id, plan.NewScan("t_"+key, schema),
		plan.HashPartitioning{Keys: []string{key}, Partitions: 4})
}

func rewriterForTest() *JoinRewriter {
	p, _ := partitionerForTest()
	return NewJoinRewriter(rewriteThreshold, p, nil)
}

func requireUnder(t *testing.T, st *plan.Stage) {
	t.Helper()
	stats, ok := st.Statistics()
	require.True(t, ok)
	require.LessOrEqual(t, stats.SizeInBytes, int64(rewriteThreshold))
}

func requireOver(t *testing.T, st *plan.Stage) {
	t.Helper()
	stats, ok := st.Statistics()
	require.True(t, ok)
	require.Greater(t, stats.SizeInBytes, int64(rewriteThreshold))
}

func TestRewriteConvertsSmallSide(t *testing.T) {
	small := sizedStage(t, 0, "b_k", 3)
	large := sizedStage(t, 1, "a_k", 2000)
	requireUnder(t, small)
	requireOver(t, large)

	join := smjOf(&plan.QueryStageInput{Ref: large}, &plan.QueryStageInput{Ref: small}, "a_k", "b_k")

	got, created, changed, err := rewriterForTest().RewriteStagePlan(join)
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, created)

	bhj, ok := got.(*plan.BroadcastHashJoin)
	require.True(t, ok)
	require.Equal(t, plan.RightSide, bhj.BuildSide)

	// Both materialized stage inputs survive the conversion.
	require.Equal(t, 2, plan.Count(got, plan.KindQueryStageInput))
}

func TestRewritePrefersSmallerSide(t *testing.T) {
	left := sizedStage(t, 0, "a_k", 2)
	right := sizedStage(t, 1, "b_k", 20)
	requireUnder(t, left)
	requireUnder(t, right)

	join := smjOf(&plan.QueryStageInput{Ref: left}, &plan.QueryStageInput{Ref: right}, "a_k", "b_k")

	got, _, changed, err := rewriterForTest().RewriteStagePlan(join)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, plan.LeftSide, got.(*plan.BroadcastHashJoin).BuildSide)
}

func TestRewriteTieBreaksToRightSide(t *testing.T) {
	left := sizedStage(t, 0, "a_k", 5)
	right := sizedStage(t, 1, "b_k", 5)

	join := smjOf(&plan.QueryStageInput{Ref: left}, &plan.QueryStageInput{Ref: right}, "a_k", "b_k")

	got, _, changed, err := rewriterForTest().RewriteStagePlan(join)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, plan.RightSide, got.(*plan.BroadcastHashJoin).BuildSide)
}

func TestRewriteSkipsUnfinishedStages(t *testing.T) {
	join := smjOf(&plan.QueryStageInput{Ref: pendingStage(0, "a_k")},
		&plan.QueryStageInput{Ref: pendingStage(1, "b_k")}, "a_k", "b_k")

	got, created, changed, err := rewriterForTest().RewriteStagePlan(join)
	require.NoError(t, err)
	require.False(t, changed)
	require.Empty(t, created)
	require.Same(t, plan.Node(join), got)
}

func TestRewriteSkipsLargeSides(t *testing.T) {
	join := smjOf(&plan.QueryStageInput{Ref: sizedStage(t, 0, "a_k", 2000)},
		&plan.QueryStageInput{Ref: sizedStage(t, 1, "b_k", 2000)}, "a_k", "b_k")

	_, _, changed, err := rewriterForTest().RewriteStagePlan(join)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestRewriteLeftOuterOnlyBuildsRight(t *testing.T) {
	small := sizedStage(t, 0, "a_k", 3)
	large := sizedStage(t, 1, "b_k", 2000)

	// Only the left (preserved) side is small, so the join stays as is.
	join := smjOf(&plan.QueryStageInput{Ref: small}, &plan.QueryStageInput{Ref: large}, "a_k", "b_k")
	join.Type = plan.LeftOuterJoin

	_, _, changed, err := rewriterForTest().RewriteStagePlan(join)
	require.NoError(t, err)
	require.False(t, changed)

	// With the small side on the right the conversion goes through.
	flipped := smjOf(&plan.QueryStageInput{Ref: large}, &plan.QueryStageInput{Ref: small}, "b_k", "a_k")
	flipped.Type = plan.LeftOuterJoin

	got, _, changed, err := rewriterForTest().RewriteStagePlan(flipped)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, plan.RightSide, got.(*plan.BroadcastHashJoin).BuildSide)
}

func TestRewriteDisabledThreshold(t *testing.T) {
	join := smjOf(&plan.QueryStageInput{Ref: sizedStage(t, 0, "a_k", 3)},
		&plan.QueryStageInput{Ref: sizedStage(t, 1, "b_k", 3)}, "a_k", "b_k")

	p, _ := partitionerForTest()
	r := NewJoinRewriter(-1, p, nil)
	got, _, changed, err := r.RewriteStagePlan(join)
	require.NoError(t, err)
	require.False(t, changed)
	require.Same(t, plan.Node(join), got)
}

func TestRewriteRejectsShuffleIntroducingConversion(t *testing.T) {
	// Stage outputs: a and c large, b small.
	a := sizedStage(t, 0, "a_k", 2000)
	b := sizedStage(t, 1, "b_k", 3)
	c := sizedStage(t, 2, "b_k", 2000)

	// inner join output is clustered on both a_k and b_k, so the outer
	// join's requirement on b_k is met without a shuffle. Broadcasting b
	// would leave the inner output clustered only on a_k and force a new
	// Exchange under the outer join.
	inner := smjOf(&plan.QueryStageInput{Ref: a}, &plan.QueryStageInput{Ref: b}, "a_k", "b_k")
	outer := smjOf(inner, &plan.QueryStageInput{Ref: c}, "b_k", "b_k")

	require.Equal(t, 0, missingShuffles(outer))

	got, created, changed, err := rewriterForTest().RewriteStagePlan(outer)
	require.NoError(t, err)
	require.False(t, changed)
	require.Empty(t, created)
	require.Equal(t, 2, plan.Count(got, plan.KindSortMergeJoin))
	require.Equal(t, 0, plan.Count(got, plan.KindBroadcastHashJoin))
}

func TestRewriteCascadesAfterConversion(t *testing.T) {
	// Both dimension sides are small; the chain converts twice, keyed on
	// the fact side's key throughout so no conversion adds a shuffle.
	fact := sizedStage(t, 0, "a_k", 2000)
	dim1 := sizedStage(t, 1, "a_k", 3)
	dim2 := sizedStage(t, 2, "a_k", 5)

	inner := smjOf(&plan.QueryStageInput{Ref: fact}, &plan.QueryStageInput{Ref: dim1}, "a_k", "a_k")
	outer := smjOf(inner, &plan.QueryStageInput{Ref: dim2}, "a_k", "a_k")

	got, _, changed, err := rewriterForTest().RewriteStagePlan(outer)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 0, plan.Count(got, plan.KindSortMergeJoin))
	require.Equal(t, 2, plan.Count(got, plan.KindBroadcastHashJoin))
	require.Equal(t, 3, plan.Count(got, plan.KindQueryStageInput))
}
