package planner

import (
	"go.uber.org/zap"

	"adaptdb/core"
	"adaptdb/plan"
)

// JoinRewriter converts sort-merge joins to broadcast joins once the actual
// materialized size of a join side is known. A conversion is committed only
// when it provably adds no shuffle Exchange anywhere in the enclosing
// stage's plan; otherwise the original join and its stage boundaries are
// kept unchanged.
type JoinRewriter struct {
	threshold   int64
	partitioner *Partitioner
	log         *zap.Logger
}

// NewJoinRewriter creates a rewriter using the adaptive broadcast
// threshold. A negative threshold disables rewriting.
func NewJoinRewriter(threshold int64, partitioner *Partitioner, log *zap.Logger) *JoinRewriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &JoinRewriter{threshold: threshold, partitioner: partitioner, log: log}
}

// RewriteStagePlan applies broadcast conversions to a not-yet-started
// stage's plan, bottom-up, until no further join qualifies. After each
// accepted conversion the partitioner re-runs over the plan so stage-input
// placeholders stay consistent; any stages that pass creates are returned
// for scheduling. The loop terminates because every iteration either
// removes a SortMergeJoin or marks one rejected.
func (r *JoinRewriter) RewriteStagePlan(p plan.Node) (plan.Node, []*plan.Stage, bool, error) {
	if r.threshold < 0 {
		return p, nil, false, nil
	}

	var newStages []*plan.Stage
	changed := false
	rejected := make(map[*plan.SortMergeJoin]bool)

	for {
		smj, candidates := findCandidate(p, rejected, r.threshold)
		if smj == nil {
			break
		}

		accepted := false
		before := missingShuffles(p)
		for _, side := range candidates {
			bhj := &plan.BroadcastHashJoin{
				Left:      smj.Left,
				Right:     smj.Right,
				LeftKeys:  smj.LeftKeys,
				RightKeys: smj.RightKeys,
				Type:      smj.Type,
				BuildSide: side,
			}
			candidate := replaceNode(p, smj, bhj)
			if missingShuffles(candidate) > before {
				// Broadcasting this side changes the join's output
				// partitioning in a way some ancestor cannot absorb; the
				// saved shuffle would reappear elsewhere.
				continue
			}
			repartitioned, created, err := r.partitioner.Partition(candidate)
			if err != nil {
				return nil, nil, false, err
			}
			p = repartitioned
			newStages = append(newStages, created...)
			changed = true
			accepted = true
			r.log.Debug("adaptive broadcast conversion",
				zap.String("join", smj.String()),
				zap.String("build", side.String()))
			break
		}
		if !accepted {
			rejected[smj] = true
			r.log.Debug("broadcast conversion rejected, keeping sort-merge join",
				zap.String("join", smj.String()))
		}
	}
	return p, newStages, changed, nil
}

// findCandidate returns the lowest not-yet-rejected SortMergeJoin that has
// at least one broadcastable side, together with the sides to try, smaller
// measured size first.
func findCandidate(n plan.Node, rejected map[*plan.SortMergeJoin]bool, threshold int64) (*plan.SortMergeJoin, []plan.Side) {
	for _, c := range n.Children() {
		if smj, sides := findCandidate(c, rejected, threshold); smj != nil {
			return smj, sides
		}
	}
	smj, ok := n.(*plan.SortMergeJoin)
	if !ok || rejected[smj] {
		return nil, nil
	}
	sides := broadcastableSides(smj, threshold)
	if len(sides) == 0 {
		return nil, nil
	}
	return smj, sides
}

// broadcastableSides returns the join sides whose referenced stage is
// completed and whose measured size is at or below the threshold. A side
// without a completed stage has no actual size and is never evaluable.
func broadcastableSides(smj *plan.SortMergeJoin, threshold int64) []plan.Side {
	type sized struct {
		side plan.Side
		size int64
	}
	var eligible []sized

	// Right side first so equal sizes broadcast the right relation.
	if stats, ok := completedStats(smj.Right); ok && stats.SizeInBytes <= threshold {
		eligible = append(eligible, sized{plan.RightSide, stats.SizeInBytes})
	}
	if smj.Type != plan.LeftOuterJoin {
		// A left-outer join must stream the left side to preserve
		// unmatched rows, so only the right side may be built.
		if stats, ok := completedStats(smj.Left); ok && stats.SizeInBytes <= threshold {
			eligible = append(eligible, sized{plan.LeftSide, stats.SizeInBytes})
		}
	}

	if len(eligible) == 2 && eligible[1].size < eligible[0].size {
		eligible[0], eligible[1] = eligible[1], eligible[0]
	}
	sides := make([]plan.Side, len(eligible))
	for i, e := range eligible {
		sides[i] = e.side
	}
	return sides
}

func completedStats(n plan.Node) (core.Statistics, bool) {
	in, ok := n.(plan.StageInput)
	if !ok {
		return core.Statistics{}, false
	}
	return in.ReferencedStage().Statistics()
}

// replaceNode substitutes replacement for the node identical to target,
// rebuilding only the spine above it.
func replaceNode(root, target, replacement plan.Node) plan.Node {
	return plan.Transform(root, func(n plan.Node) plan.Node {
		if n == target {
			return replacement
		}
		return n
	})
}
