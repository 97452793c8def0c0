package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"adaptdb/core"
	"adaptdb/plan"
)

var leafSchema = core.Schema{{Name: "k", Type: core.TypeInt64}}

func leafPlan() plan.Node { return plan.NewScan("t", leafSchema) }

func hashStage(id int, p plan.Node) *plan.Stage {
	return plan.NewStage(id, p, plan.HashPartitioning{Keys: []string{"k"}, Partitions: 2})
}

func joinOver(stages ...*plan.Stage) plan.Node {
	var n plan.Node = &plan.QueryStageInput{Ref: stages[0]}
	for _, st := range stages[1:] {
		n = &plan.SortMergeJoin{
			Left:      n,
			Right:     &plan.QueryStageInput{Ref: st},
			LeftKeys:  []string{"k"},
			RightKeys: []string{"k"},
			Type:      plan.InnerJoin,
		}
	}
	return n
}

// fakeExecutor materializes stages with canned rows and records every
// execution.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []int
	failOn   map[int]error
}

func (f *fakeExecutor) ExecuteStage(ctx context.Context, st *plan.Stage) (*core.StageOutput, error) {
	f.mu.Lock()
	f.executed = append(f.executed, st.ID())
	f.mu.Unlock()
	if err := f.failOn[st.ID()]; err != nil {
		return nil, err
	}
	return core.MaterializeOutput(leafSchema, [][]core.Row{{{int64(st.ID())}}})
}

func (f *fakeExecutor) executions() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.executed))
	copy(out, f.executed)
	return out
}

func TestRunExecutesInputsFirst(t *testing.T) {
	a := hashStage(0, leafPlan())
	b := hashStage(1, leafPlan())
	root := plan.NewStage(2, joinOver(a, b), plan.SinglePartition{})

	fake := &fakeExecutor{}
	out, err := New(fake, nil, nil).Run(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, plan.StageCompleted, root.State())
	require.Equal(t, int64(1), out.Statistics().RowCount)

	executed := fake.executions()
	require.Len(t, executed, 3)
	require.Equal(t, 2, executed[2], "root must run last")
	require.ElementsMatch(t, []int{0, 1}, executed[:2])
}

func TestRunExecutesSharedStageOnce(t *testing.T) {
	shared := hashStage(0, leafPlan())
	join := &plan.SortMergeJoin{
		Left:      &plan.QueryStageInput{Ref: shared},
		Right:     &plan.ReusedQueryStage{Ref: shared},
		LeftKeys:  []string{"k"},
		RightKeys: []string{"k"},
		Type:      plan.InnerJoin,
	}
	root := plan.NewStage(1, join, plan.SinglePartition{})

	fake := &fakeExecutor{}
	_, err := New(fake, nil, nil).Run(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, fake.executions())
}

func TestRunPropagatesStageFailure(t *testing.T) {
	a := hashStage(0, leafPlan())
	b := hashStage(1, leafPlan())
	root := plan.NewStage(2, joinOver(a, b), plan.SinglePartition{})

	cause := errors.New("disk full")
	fake := &fakeExecutor{failOn: map[int]error{0: cause}}
	_, err := New(fake, nil, nil).Run(context.Background(), root)
	require.Error(t, err)

	var merr *MaterializationError
	require.ErrorAs(t, err, &merr)
	require.ErrorIs(t, err, cause)

	require.Equal(t, plan.StageFailed, a.State())
	require.Equal(t, plan.StageFailed, root.State())
	// The root never executed.
	require.NotContains(t, fake.executions(), 2)
}

// fakeRewriter swaps in a prepared plan for the root stage once its inputs
// are done.
type fakeRewriter struct {
	match   plan.Node
	replace plan.Node
	created []*plan.Stage
}

func (f *fakeRewriter) RewriteStagePlan(p plan.Node) (plan.Node, []*plan.Stage, bool, error) {
	if p == f.match {
		return f.replace, f.created, true, nil
	}
	return p, nil, false, nil
}

func TestRunAppliesRewriteBeforeExecution(t *testing.T) {
	a := hashStage(0, leafPlan())
	original := joinOver(a)

	// The rewrite introduces a dependency on a stage the original plan
	// never referenced; the scheduler must materialize it too.
	extra := hashStage(1, leafPlan())
	replacement := joinOver(a, extra)
	root := plan.NewStage(2, original, plan.SinglePartition{})

	fake := &fakeExecutor{}
	rw := &fakeRewriter{match: original, replace: replacement, created: []*plan.Stage{extra}}
	_, err := New(fake, rw, nil).Run(context.Background(), root)
	require.NoError(t, err)

	require.Same(t, replacement, root.Plan())
	require.Equal(t, plan.StageCompleted, extra.State())
	executed := fake.executions()
	require.Equal(t, 2, executed[len(executed)-1], "root must still run last")
	require.ElementsMatch(t, []int{0, 1, 2}, executed)
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	a := hashStage(0, leafPlan())
	b := hashStage(1, joinOver(a))
	c := hashStage(2, joinOver(a))
	root := plan.NewStage(3, joinOver(b, c), plan.SinglePartition{})

	order, err := ExecutionOrder(root)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[int]int)
	for i, st := range order {
		pos[st.ID()] = i
	}
	require.Less(t, pos[0], pos[1])
	require.Less(t, pos[0], pos[2])
	require.Less(t, pos[1], pos[3])
	require.Less(t, pos[2], pos[3])
}

func TestExecutionOrderDetectsCycle(t *testing.T) {
	a := hashStage(0, leafPlan())
	b := hashStage(1, joinOver(a))
	// Close the loop behind the constructor's back.
	require.NoError(t, a.SetPlan(joinOver(b)))

	_, err := ExecutionOrder(b)
	require.Error(t, err)

	_, err = New(&fakeExecutor{}, nil, nil).Run(context.Background(), b)
	require.Error(t, err)
}

func TestCollectStages(t *testing.T) {
	a := hashStage(0, leafPlan())
	b := hashStage(1, joinOver(a))
	root := plan.NewStage(2, joinOver(b, a), plan.SinglePartition{})

	stages := CollectStages(root)
	require.Len(t, stages, 3)
	for i, st := range stages {
		require.Equal(t, i, st.ID())
	}
}
