package plan

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"adaptdb/core"
)

// StageState tracks a stage through its lifecycle. A stage moves from
// Pending through Running to Completed; Failed can be entered from either
// non-terminal state. Each transition is taken exactly once.
type StageState int32

const (
	StagePending StageState = iota
	StageRunning
	StageCompleted
	StageFailed
)

func (s StageState) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRunning:
		return "running"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	}
	return "unknown"
}

// Stage is an independently executable unit of the plan, rooted at an
// Exchange (whose child plan it owns) or at the query root. A stage is
// materialized at most once; its statistics and output are immutable once
// it completes. Stages form a DAG through the QueryStageInput leaves held
// by their dependents.
type Stage struct {
	id           int
	partitioning Partitioning

	// claimed lets exactly one dependent drive execution of a shared
	// (reused) stage; the others wait on done.
	claimed atomic.Bool

	mu     sync.Mutex
	plan   Node
	state  StageState
	output *core.StageOutput
	stats  core.Statistics
	err    error
	done   chan struct{}
}

// NewStage creates a pending stage owning the given child plan. The
// partitioning is the output contract of the Exchange this stage replaced,
// or SinglePartition for the result stage.
func NewStage(id int, p Node, partitioning Partitioning) *Stage {
	return &Stage{
		id:           id,
		partitioning: partitioning,
		plan:         p,
		state:        StagePending,
		done:         make(chan struct{}),
	}
}

// ID returns the stage's stable identifier, unique within one query.
func (s *Stage) ID() int { return s.id }

// OutputPartitioning returns the layout contract of this stage's output.
func (s *Stage) OutputPartitioning() Partitioning { return s.partitioning }

// Plan returns the stage's current child plan.
func (s *Stage) Plan() Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// PlanSchema returns the schema of the stage's child plan.
func (s *Stage) PlanSchema() core.Schema { return s.Plan().Schema() }

// SetPlan replaces the stage's child plan. Only a pending stage may be
// rewritten; once running, the plan is fixed.
func (s *Stage) SetPlan(p Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StagePending {
		return errors.Errorf("stage %d: cannot replace plan in state %s", s.id, s.state)
	}
	s.plan = p
	return nil
}

// State returns the current lifecycle state.
func (s *Stage) State() StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Claim reserves the right to execute this stage. The first caller wins;
// later callers must wait for completion instead of executing.
func (s *Stage) Claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// MarkRunning transitions Pending -> Running.
func (s *Stage) MarkRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StagePending {
		return errors.Errorf("stage %d: cannot start in state %s", s.id, s.state)
	}
	s.state = StageRunning
	return nil
}

// Complete transitions Running -> Completed, recording the materialized
// output and its exact statistics.
func (s *Stage) Complete(out *core.StageOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StageRunning {
		return errors.Errorf("stage %d: cannot complete in state %s", s.id, s.state)
	}
	s.state = StageCompleted
	s.output = out
	s.stats = out.Statistics()
	close(s.done)
	return nil
}

// Fail moves the stage to Failed; the failure is terminal. A stage can
// fail before it starts running, e.g. when one of its input stages fails.
func (s *Stage) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StagePending && s.state != StageRunning {
		return errors.Errorf("stage %d: cannot fail in state %s", s.id, s.state)
	}
	s.state = StageFailed
	s.err = err
	close(s.done)
	return nil
}

// Err returns the terminal error of a failed stage, if any.
func (s *Stage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Statistics returns the exact output measurements of a completed stage.
// ok is false until the stage completes.
func (s *Stage) Statistics() (core.Statistics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StageCompleted {
		return core.Statistics{}, false
	}
	return s.stats, true
}

// Output returns the materialized output of a completed stage.
func (s *Stage) Output() (*core.StageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StageCompleted {
		return nil, errors.Errorf("stage %d: output requested in state %s", s.id, s.state)
	}
	return s.output, nil
}

// Wait blocks until the stage reaches a terminal state or ctx is done,
// returning the stage's failure error if it failed.
func (s *Stage) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StageFailed {
		return s.err
	}
	return nil
}
