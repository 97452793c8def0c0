package scheduler

import (
	"sort"

	"github.com/pkg/errors"

	"adaptdb/plan"
)

// CollectStages returns every stage reachable from root, including root,
// ordered by stage ID.
func CollectStages(root *plan.Stage) []*plan.Stage {
	seen := make(map[int]*plan.Stage)
	var visit func(st *plan.Stage)
	visit = func(st *plan.Stage) {
		if _, ok := seen[st.ID()]; ok {
			return
		}
		seen[st.ID()] = st
		for _, in := range plan.InputStages(st.Plan()) {
			visit(in)
		}
	}
	visit(root)

	stages := make([]*plan.Stage, 0, len(seen))
	for _, st := range seen {
		stages = append(stages, st)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].ID() < stages[j].ID() })
	return stages
}

// ExecutionOrder returns a bottom-up order over the stage DAG: every stage
// appears after all stages its plan references. A cyclic reference graph is
// reported as an error rather than scheduled.
func ExecutionOrder(root *plan.Stage) ([]*plan.Stage, error) {
	stages := CollectStages(root)

	inDegree := make(map[int]int, len(stages))
	dependents := make(map[int][]*plan.Stage, len(stages))
	for _, st := range stages {
		inDegree[st.ID()] = 0
	}
	for _, st := range stages {
		for _, in := range plan.InputStages(st.Plan()) {
			inDegree[st.ID()]++
			dependents[in.ID()] = append(dependents[in.ID()], st)
		}
	}

	var ready []*plan.Stage
	for _, st := range stages {
		if inDegree[st.ID()] == 0 {
			ready = append(ready, st)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID() < ready[j].ID() })

	order := make([]*plan.Stage, 0, len(stages))
	for len(ready) > 0 {
		st := ready[0]
		ready = ready[1:]
		order = append(order, st)
		for _, dep := range dependents[st.ID()] {
			inDegree[dep.ID()]--
			if inDegree[dep.ID()] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) != len(stages) {
		return nil, errors.Errorf("scheduler: stage graph has a cycle among %d stages", len(stages))
	}
	return order, nil
}
