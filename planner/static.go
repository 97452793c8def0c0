package planner

import (
	"go.uber.org/zap"

	"adaptdb/catalog"
	"adaptdb/plan"
)

// ApplyAutoBroadcast converts sort-merge joins to broadcast joins using
// pre-execution catalog estimates, the static counterpart of the adaptive
// rewrite. A side qualifies when every scan below it has a known size
// estimate and the sum is at or below the threshold. Runs before
// EnsureRequirements, so no Exchange juggling is needed here. A negative
// threshold disables the pass, forcing every join through adaptive
// evaluation.
func ApplyAutoBroadcast(n plan.Node, threshold int64, cat *catalog.Catalog, log *zap.Logger) plan.Node {
	if threshold < 0 {
		return n
	}
	if log == nil {
		log = zap.NewNop()
	}
	return plan.Transform(n, func(m plan.Node) plan.Node {
		smj, ok := m.(*plan.SortMergeJoin)
		if !ok {
			return m
		}
		side, ok := staticBuildSide(smj, threshold, cat)
		if !ok {
			return m
		}
		log.Debug("static broadcast conversion",
			zap.String("join", smj.String()),
			zap.String("build", side.String()))
		return &plan.BroadcastHashJoin{
			Left:      smj.Left,
			Right:     smj.Right,
			LeftKeys:  smj.LeftKeys,
			RightKeys: smj.RightKeys,
			Type:      smj.Type,
			BuildSide: side,
		}
	})
}

func staticBuildSide(smj *plan.SortMergeJoin, threshold int64, cat *catalog.Catalog) (plan.Side, bool) {
	leftSize := estimateSize(smj.Left, cat)
	rightSize := estimateSize(smj.Right, cat)

	leftOK := leftSize >= 0 && leftSize <= threshold && smj.Type != plan.LeftOuterJoin
	rightOK := rightSize >= 0 && rightSize <= threshold

	switch {
	case leftOK && rightOK:
		if leftSize < rightSize {
			return plan.LeftSide, true
		}
		return plan.RightSide, true
	case leftOK:
		return plan.LeftSide, true
	case rightOK:
		return plan.RightSide, true
	default:
		return 0, false
	}
}

// estimateSize sums catalog estimates for the scans of a subtree. Filters
// and projections pass the child estimate through unchanged (selectivity
// estimation is out of scope); any join or exchange below, or a scan with
// no estimate, makes the subtree unestimable.
func estimateSize(n plan.Node, cat *catalog.Catalog) int64 {
	switch v := n.(type) {
	case *plan.Scan:
		return cat.EstimatedSize(v.Table)
	case *plan.Filter:
		return estimateSize(v.Input, cat)
	case *plan.Project:
		return estimateSize(v.Input, cat)
	default:
		return catalog.UnknownSize
	}
}
