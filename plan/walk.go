package plan

// Walk visits n and every descendant in pre-order.
func Walk(n Node, visit func(Node)) {
	visit(n)
	for _, c := range n.Children() {
		Walk(c, visit)
	}
}

// Transform rebuilds the tree bottom-up, applying fn to every node after
// its children have been transformed. Untouched subtrees are shared with
// the input tree.
func Transform(n Node, fn func(Node) Node) Node {
	children := n.Children()
	if len(children) > 0 {
		rebuilt := make([]Node, len(children))
		changed := false
		for i, c := range children {
			rebuilt[i] = Transform(c, fn)
			if rebuilt[i] != c {
				changed = true
			}
		}
		if changed {
			n = n.WithChildren(rebuilt)
		}
	}
	return fn(n)
}

// Collect returns every node of the given kind in pre-order.
func Collect(n Node, kind Kind) []Node {
	var out []Node
	Walk(n, func(m Node) {
		if m.Kind() == kind {
			out = append(out, m)
		}
	})
	return out
}

// Count returns the number of nodes of the given kind in the tree.
func Count(n Node, kind Kind) int {
	return len(Collect(n, kind))
}

// InputStages returns the stages referenced by stage-input leaves of the
// tree, deduplicated, in first-reference order.
func InputStages(n Node) []*Stage {
	var out []*Stage
	seen := make(map[int]bool)
	Walk(n, func(m Node) {
		if in, ok := m.(StageInput); ok {
			st := in.ReferencedStage()
			if !seen[st.ID()] {
				seen[st.ID()] = true
				out = append(out, st)
			}
		}
	})
	return out
}

// WalkDAG visits every node of the tree and, transitively, of every
// referenced stage's plan. Each stage's plan is visited once even when the
// stage is referenced from several places.
func WalkDAG(n Node, visit func(Node)) {
	seen := make(map[int]bool)
	var walk func(Node)
	walk = func(m Node) {
		visit(m)
		if in, ok := m.(StageInput); ok {
			st := in.ReferencedStage()
			if !seen[st.ID()] {
				seen[st.ID()] = true
				walk(st.Plan())
			}
			return
		}
		for _, c := range m.Children() {
			walk(c)
		}
	}
	walk(n)
}

// CountDAG counts nodes of the given kind across the tree and every
// referenced stage plan.
func CountDAG(n Node, kind Kind) int {
	count := 0
	WalkDAG(n, func(m Node) {
		if m.Kind() == kind {
			count++
		}
	})
	return count
}
