package decompose

import (
	"sort"
)

// Levels groups subtasks into execution levels: level 0 holds subtasks without
// dependencies, level k those whose dependencies all sit in levels 0..k-1.
// Input order is preserved inside a level. Unknown ids, self-loops and cycles
// are reported as *InvalidSubtasksError.
func Levels(subtasks []*Subtask) ([][]*Subtask, error) {
	index := make(map[string]int, len(subtasks))
	for i, st := range subtasks {
		if st.ID == "" {
			return nil, &InvalidSubtasksError{Reason: "subtask without id"}
		}
		if _, dup := index[st.ID]; dup {
			return nil, &InvalidSubtasksError{Reason: "duplicate id", IDs: []string{st.ID}}
		}
		index[st.ID] = i
	}

	remaining := make([]int, len(subtasks))
	dependents := make(map[string][]int)
	for i, st := range subtasks {
		for _, dep := range uniqueStrings(st.Dependencies) {
			if dep == st.ID {
				return nil, &InvalidSubtasksError{Reason: "self dependency", IDs: []string{st.ID}}
			}
			if _, ok := index[dep]; !ok {
				return nil, &InvalidSubtasksError{Reason: "unknown dependency " + dep, IDs: []string{st.ID}}
			}
			remaining[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	var current []int
	for i := range subtasks {
		if remaining[i] == 0 {
			current = append(current, i)
		}
	}

	var levels [][]*Subtask
	placed := 0
	for len(current) > 0 {
		sort.Ints(current)
		level := make([]*Subtask, 0, len(current))
		var next []int
		for _, i := range current {
			level = append(level, subtasks[i])
			placed++
			for _, d := range dependents[subtasks[i].ID] {
				remaining[d]--
				if remaining[d] == 0 {
					next = append(next, d)
				}
			}
		}
		levels = append(levels, level)
		current = next
	}

	if placed != len(subtasks) {
		var stuck []string
		for i, st := range subtasks {
			if remaining[i] > 0 {
				stuck = append(stuck, st.ID)
			}
		}
		return nil, &InvalidSubtasksError{Reason: "circular dependency", IDs: stuck}
	}
	return levels, nil
}

// capWidth chains subtasks until no level holds more than maxWidth of them.
// Overflow subtask i of a level gains a dependency on subtask i-maxWidth of the
// same level, which pushes it one level down.
func capWidth(subtasks []*Subtask, maxWidth int) ([][]*Subtask, error) {
	for {
		levels, err := Levels(subtasks)
		if err != nil {
			return nil, err
		}

		widened := false
		for _, level := range levels {
			if len(level) <= maxWidth {
				continue
			}
			for i := maxWidth; i < len(level); i++ {
				level[i].Dependencies = append(level[i].Dependencies, level[i-maxWidth].ID)
			}
			widened = true
			break
		}
		if !widened {
			return levels, nil
		}
	}
}

// parallelizationRatio is 1 - levels/subtasks, 0 when there is nothing to run.
func parallelizationRatio(levelCount, subtaskCount int) float64 {
	if subtaskCount == 0 {
		return 0
	}
	ratio := 1 - float64(levelCount)/float64(subtaskCount)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func totalComplexity(subtasks []*Subtask) int {
	total := 0
	for _, st := range subtasks {
		total += st.Complexity.Weight()
	}
	return total
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
