package scheduler

import (
	"math"
	"sync"
)

// Resolver turns a set of nodes into a leveled execution plan.
type Resolver struct {
	mu    sync.Mutex
	dag   *DAG
	order []string // topological order of the current graph
	err   error    // error of the last failed build
}

// NewResolver creates a Resolver with no graph.
func NewResolver() *Resolver {
	return &Resolver{}
}

// BuildGraph replaces the current graph with one built from nodes. Any error
// leaves the resolver without a graph, and ExecutionPlan reports that error
// until the next successful build.
func (r *Resolver) BuildGraph(nodes []Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dag, r.order, r.err = nil, nil, nil

	dag, order, err := buildDAG(nodes)
	if err != nil {
		r.err = err
		return err
	}

	r.dag, r.order = dag, order
	return nil
}

func buildDAG(nodes []Node) (*DAG, []string, error) {
	dag := NewDAG()
	for _, node := range nodes {
		if err := dag.AddNode(node); err != nil {
			return nil, nil, err
		}
	}
	order, err := dag.Validate()
	if err != nil {
		return nil, nil, err
	}
	return dag, order, nil
}

// Graph returns the validated graph, or nil before a successful BuildGraph.
func (r *Resolver) Graph() *DAG {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dag
}

// ExecutionPlan levels the graph with Kahn layering and computes the critical
// path. Within a level, nodes keep their input order. After a failed
// BuildGraph it returns the build error; before any build, ErrPlanNotBuilt.
func (r *Resolver) ExecutionPlan() (*ExecutionPlan, error) {
	r.mu.Lock()
	dag, order, buildErr := r.dag, r.order, r.err
	r.mu.Unlock()

	if buildErr != nil {
		return nil, buildErr
	}
	if dag == nil {
		return nil, ErrPlanNotBuilt
	}

	// A node's level is one more than its deepest dependency, which is the
	// layer Kahn's algorithm would place it in.
	level := make(map[string]int, dag.Len())
	depth := 0
	for _, id := range order {
		node, _ := dag.Get(id)
		l := 0
		for _, depID := range node.DependsOn {
			if level[depID]+1 > l {
				l = level[depID] + 1
			}
		}
		level[id] = l
		if l+1 > depth {
			depth = l + 1
		}
	}

	plan := &ExecutionPlan{
		Levels:     make([]Level, depth),
		TotalTasks: len(order),
	}
	for i := range plan.Levels {
		plan.Levels[i].Index = i
	}
	for _, node := range dag.Nodes() {
		l := level[node.ID]
		plan.Levels[l].Tasks = append(plan.Levels[l].Tasks, PlannedTask{
			ID:           node.ID,
			Dependencies: node.DependsOn,
			Task:         node.Task,
		})
	}
	for i := range plan.Levels {
		plan.Levels[i].Parallel = len(plan.Levels[i].Tasks) > 1
	}

	plan.CriticalPath = criticalPath(dag, level)
	plan.EstimatedParallelism = estimateParallelism(plan.TotalTasks, len(plan.Levels))
	return plan, nil
}

// criticalPath walks back from the deepest node along deepest dependencies.
// The longest chain by node count ends at a node of maximal level, and each
// step back lands on a dependency exactly one level up. Ties go to the node
// that appeared first in the input.
func criticalPath(dag *DAG, level map[string]int) []string {
	var end *Node
	for _, node := range dag.Nodes() {
		if end == nil || level[node.ID] > level[end.ID] {
			end = node
		}
	}
	if end == nil {
		return nil
	}

	path := make([]string, level[end.ID]+1)
	current := end
	for i := len(path) - 1; i >= 0; i-- {
		path[i] = current.ID
		if i == 0 {
			break
		}
		var prev string
		for _, depID := range current.DependsOn {
			if level[depID] != level[current.ID]-1 {
				continue
			}
			if prev == "" || dag.Position(depID) < dag.Position(prev) {
				prev = depID
			}
		}
		current, _ = dag.Get(prev)
	}
	return path
}

// estimateParallelism is total/levels rounded, never below 1.
func estimateParallelism(total, levels int) int {
	if total == 0 || levels == 0 {
		return 1
	}
	p := int(math.Round(float64(total) / float64(levels)))
	if p < 1 {
		return 1
	}
	return p
}
