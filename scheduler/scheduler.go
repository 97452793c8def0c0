// Package scheduler drives a stage DAG bottom-up: every stage runs only
// after the stages its plan references are materialized, independent
// subtrees run concurrently, and a shared stage is executed exactly once no
// matter how many parents reference it.
package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"adaptdb/core"
	"adaptdb/plan"
)

// StageExecutor materializes one stage's plan.
type StageExecutor interface {
	ExecuteStage(ctx context.Context, st *plan.Stage) (*core.StageOutput, error)
}

// Rewriter is consulted once per stage, after its inputs are materialized
// and before it starts running. A rewrite may create new stages; those are
// scheduled like any other input.
type Rewriter interface {
	RewriteStagePlan(p plan.Node) (plan.Node, []*plan.Stage, bool, error)
}

// MaterializationError wraps a stage failure with the stage it came from.
type MaterializationError struct {
	StageID int
	Err     error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("stage %d failed: %v", e.StageID, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// Scheduler runs stage DAGs.
type Scheduler struct {
	exec     StageExecutor
	rewriter Rewriter
	log      *zap.Logger
}

// New creates a scheduler. rewriter may be nil to run plans exactly as
// partitioned.
func New(exec StageExecutor, rewriter Rewriter, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{exec: exec, rewriter: rewriter, log: log}
}

// Run materializes every stage reachable from root, root last, and returns
// the root's output.
func (s *Scheduler) Run(ctx context.Context, root *plan.Stage) (*core.StageOutput, error) {
	if _, err := ExecutionOrder(root); err != nil {
		return nil, err
	}
	if err := s.runStage(ctx, root); err != nil {
		return nil, err
	}
	return root.Output()
}

func (s *Scheduler) runStage(ctx context.Context, st *plan.Stage) error {
	if !st.Claim() {
		// Another parent got here first; wait for its materialization.
		if err := st.Wait(ctx); err != nil {
			return err
		}
		return st.Err()
	}

	if err := s.runInputs(ctx, st.Plan()); err != nil {
		failErr := &MaterializationError{StageID: st.ID(), Err: err}
		if ferr := st.Fail(failErr); ferr != nil {
			return ferr
		}
		return failErr
	}

	if s.rewriter != nil {
		rewritten, created, changed, err := s.rewriter.RewriteStagePlan(st.Plan())
		if err != nil {
			return s.fail(st, err)
		}
		if changed {
			if err := st.SetPlan(rewritten); err != nil {
				return s.fail(st, err)
			}
			s.log.Debug("stage plan rewritten",
				zap.Int("stage", st.ID()),
				zap.Int("new_stages", len(created)))
			// The rewrite may reference stages that are not materialized
			// yet, reused or newly created. Run them before starting.
			if err := s.runInputs(ctx, st.Plan()); err != nil {
				return s.fail(st, err)
			}
		}
	}

	if err := st.MarkRunning(); err != nil {
		return err
	}
	out, err := s.exec.ExecuteStage(ctx, st)
	if err != nil {
		return s.fail(st, err)
	}
	if err := st.Complete(out); err != nil {
		return err
	}
	s.log.Debug("stage completed", zap.Int("stage", st.ID()))
	return nil
}

// runInputs materializes the stages a plan references, concurrently.
func (s *Scheduler) runInputs(ctx context.Context, p plan.Node) error {
	inputs := plan.InputStages(p)
	if len(inputs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			return s.runStage(gctx, in)
		})
	}
	return g.Wait()
}

func (s *Scheduler) fail(st *plan.Stage, err error) error {
	failErr := &MaterializationError{StageID: st.ID(), Err: err}
	if ferr := st.Fail(failErr); ferr != nil {
		return ferr
	}
	return failErr
}
