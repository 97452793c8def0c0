package planner

import "adaptdb/plan"

// EnsureRequirements inserts an Exchange above every child whose output
// partitioning does not satisfy its parent's required distribution. Clustered
// requirements get a hash Exchange over the required keys; AllTuples gets a
// single-partition Exchange. Broadcast requirements are met by
// materialization at execution time and never insert an Exchange.
func EnsureRequirements(n plan.Node, shufflePartitions int) (plan.Node, error) {
	if shufflePartitions < 1 {
		return nil, planningErrorf("shuffle partition count %d is not positive", shufflePartitions)
	}
	return plan.Transform(n, func(m plan.Node) plan.Node {
		required := m.RequiredChildDistributions()
		if len(required) == 0 {
			return m
		}
		children := m.Children()
		rebuilt := make([]plan.Node, len(children))
		changed := false
		for i, child := range children {
			rebuilt[i] = child
			if ex := requiredExchange(child, required[i], shufflePartitions); ex != nil {
				rebuilt[i] = ex
				changed = true
			}
		}
		if !changed {
			return m
		}
		return m.WithChildren(rebuilt)
	}), nil
}

// requiredExchange returns the Exchange needed to satisfy the requirement,
// or nil when the child's layout already satisfies it.
func requiredExchange(child plan.Node, required plan.Distribution, shufflePartitions int) *plan.Exchange {
	switch req := required.(type) {
	case plan.ClusteredDistribution:
		if child.OutputPartitioning().Satisfies(req) {
			return nil
		}
		return &plan.Exchange{
			Input:        child,
			Partitioning: plan.HashPartitioning{Keys: req.Keys, Partitions: shufflePartitions},
		}
	case plan.AllTuples:
		if child.OutputPartitioning().Satisfies(req) {
			return nil
		}
		return &plan.Exchange{Input: child, Partitioning: plan.SinglePartition{}}
	default:
		// Unspecified and Broadcast requirements never shuffle.
		return nil
	}
}

// missingShuffles counts the Exchanges EnsureRequirements would insert into
// the tree as it stands. The join rewriter uses it as the
// partitioning-compatibility predicate: a rewrite that raises this count
// would trade one shuffle for another and must be rejected.
func missingShuffles(n plan.Node) int {
	count := 0
	plan.Walk(n, func(m plan.Node) {
		required := m.RequiredChildDistributions()
		children := m.Children()
		for i := range children {
			if requiredExchange(children[i], required[i], 1) != nil {
				count++
			}
		}
	})
	return count
}
