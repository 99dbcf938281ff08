package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG represents a directed acyclic graph of nodes.
type DAG struct {
	mu         sync.RWMutex
	nodes      map[string]*Node    // All nodes indexed by ID
	order      []string            // IDs in insertion order
	index      map[string]int      // ID -> position in order
	dependents map[string][]string // Maps nodeID -> list of nodes that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		nodes:      make(map[string]*Node),
		index:      make(map[string]int),
		dependents: make(map[string][]string),
	}
}

// AddNode adds a node to the DAG. Duplicate dependency ids are collapsed.
func (d *DAG) AddNode(node Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if node.ID == "" {
		return fmt.Errorf("node without ID")
	}
	if _, exists := d.nodes[node.ID]; exists {
		return &DuplicateNodeError{NodeID: node.ID}
	}

	n := cloneNode(&node)
	n.DependsOn = dedupe(n.DependsOn)
	d.nodes[n.ID] = n
	d.index[n.ID] = len(d.order)
	d.order = append(d.order, n.ID)

	// Build dependents map for efficient downstream lookup
	for _, depID := range n.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], n.ID)
	}

	return nil
}

// Validate checks that every dependency exists and that the graph is acyclic,
// using gammazero/toposort. Returns node IDs in a topological order.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Dependencies must exist; report the first offender in insertion order.
	for _, id := range d.order {
		for _, depID := range d.nodes[id].DependsOn {
			if depID == id {
				return nil, &CircularDependencyError{CycleIDs: []string{id, id}}
			}
			if _, exists := d.nodes[depID]; !exists {
				return nil, &DanglingDependencyError{NodeID: id, MissingDepID: depID}
			}
		}
	}

	// Edge (depID, id) means depID must come before id
	edges := make([]toposort.Edge, 0, len(d.order))
	for _, id := range d.order {
		node := d.nodes[id]
		if len(node.DependsOn) == 0 {
			// Node with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range node.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		if cycle := d.findCycle(); cycle != nil {
			return nil, &CircularDependencyError{CycleIDs: cycle}
		}
		return nil, fmt.Errorf("topological sort: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Verify all nodes are in the sorted result
	if len(order) != len(d.nodes) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range d.order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d nodes: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// findCycle returns one cycle as a closed path, or nil. Caller holds d.mu.
func (d *DAG) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(d.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, depID := range d.nodes[id].DependsOn {
			switch state[depID] {
			case visiting:
				for i, s := range stack {
					if s == depID {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, depID)
					}
				}
			case unvisited:
				if _, ok := d.nodes[depID]; !ok {
					continue
				}
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range d.order {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Get returns a copy of the node with the given ID.
func (d *DAG) Get(id string) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, exists := d.nodes[id]
	if !exists {
		return nil, false
	}
	return cloneNode(node), true
}

// Nodes returns copies of all nodes in insertion order.
func (d *DAG) Nodes() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nodes := make([]*Node, 0, len(d.order))
	for _, id := range d.order {
		nodes = append(nodes, cloneNode(d.nodes[id]))
	}
	return nodes
}

// Dependents returns the IDs of nodes that directly depend on id.
func (d *DAG) Dependents(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]string(nil), d.dependents[id]...)
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Position returns the insertion index of id, or -1.
func (d *DAG) Position(id string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i, ok := d.index[id]; ok {
		return i
	}
	return -1
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
