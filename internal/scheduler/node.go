package scheduler

import "github.com/aristath/godel/internal/decompose"

// Node is one vertex of the dependency graph.
type Node struct {
	ID        string             // Unique identifier
	Task      *decompose.Subtask // Work item carried through to the plan; may be nil
	DependsOn []string           // Node IDs that must complete first
}

// NodesFromSubtasks converts decomposer output into graph nodes, keeping order.
func NodesFromSubtasks(subtasks []*decompose.Subtask) []Node {
	nodes := make([]Node, 0, len(subtasks))
	for _, st := range subtasks {
		if st == nil {
			continue
		}
		nodes = append(nodes, Node{
			ID:        st.ID,
			Task:      st.Clone(),
			DependsOn: append([]string(nil), st.Dependencies...),
		})
	}
	return nodes
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.DependsOn != nil {
		cp.DependsOn = append([]string(nil), n.DependsOn...)
	}
	cp.Task = n.Task.Clone()
	return &cp
}
