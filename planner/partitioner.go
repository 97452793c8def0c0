// Package planner turns a physical plan into a DAG of executable stages and
// adapts still-unexecuted parts of the plan to the sizes earlier stages
// actually produced.
package planner

import (
	"go.uber.org/zap"

	"adaptdb/plan"
)

// Partitioner splits a plan tree into stages at Exchange boundaries. The
// transformation is pure and deterministic: the same input plan against the
// same reuse context always yields the same stage DAG, and a plan without
// Exchange nodes passes through untouched.
type Partitioner struct {
	reuse *ReuseContext
	log   *zap.Logger
}

// NewPartitioner creates a partitioner bound to one query's reuse context.
func NewPartitioner(reuse *ReuseContext, log *zap.Logger) *Partitioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Partitioner{reuse: reuse, log: log}
}

// Partition replaces every Exchange in the tree with a stage input leaf,
// bottom-up, and returns the rewritten tree plus the stages created by this
// pass. Exchanges resolved through reuse contribute no new stage.
func (p *Partitioner) Partition(n plan.Node) (plan.Node, []*plan.Stage, error) {
	var created []*plan.Stage
	rewritten, err := p.partition(n, &created)
	if err != nil {
		return nil, nil, err
	}
	return rewritten, created, nil
}

func (p *Partitioner) partition(n plan.Node, created *[]*plan.Stage) (plan.Node, error) {
	children := n.Children()
	if len(children) > 0 {
		rebuilt := make([]plan.Node, len(children))
		changed := false
		for i, c := range children {
			rc, err := p.partition(c, created)
			if err != nil {
				return nil, err
			}
			rebuilt[i] = rc
			if rc != c {
				changed = true
			}
		}
		if changed {
			n = n.WithChildren(rebuilt)
		}
	}

	ex, ok := n.(*plan.Exchange)
	if !ok {
		return n, nil
	}
	if err := validateExchange(ex); err != nil {
		return nil, err
	}

	input, stage, reused := p.reuse.StageFor(ex)
	if !reused {
		*created = append(*created, stage)
		p.log.Debug("created stage",
			zap.Int("stage", stage.ID()),
			zap.String("partitioning", ex.Partitioning.String()))
	}
	return input, nil
}

func validateExchange(ex *plan.Exchange) error {
	switch pt := ex.Partitioning.(type) {
	case plan.HashPartitioning:
		if len(pt.Keys) == 0 {
			return planningErrorf("hash exchange with no partitioning keys")
		}
		if pt.Partitions < 1 {
			return planningErrorf("hash exchange with %d partitions", pt.Partitions)
		}
		schema := ex.Input.Schema()
		for _, key := range pt.Keys {
			if schema.ColumnIndex(key) < 0 {
				return planningErrorf("exchange partitioning key %q not produced by child", key)
			}
		}
		return nil
	case plan.SinglePartition:
		return nil
	default:
		return planningErrorf("unsupported exchange partitioning %T", ex.Partitioning)
	}
}
