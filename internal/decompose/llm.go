package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLMService completes a prompt. It is only consulted when Options.UseLLM is set.
type LLMService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// llmSubtask is the JSON shape the model is asked to return for each subtask.
type llmSubtask struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	DependsOn    []string `json:"depends_on"`
	Capabilities []string `json:"capabilities"`
	Complexity   string   `json:"complexity"`
	Component    string   `json:"component"`
}

const decompositionPrompt = `You are planning work for a team of parallel coding agents.

Split the task below into at most %d subtasks. Each subtask must be a
self-contained unit of work of at least %d words of effort description.
Maximise parallelism: only declare a dependency when a subtask truly needs the
output of another one.
%s
TASK:
%s

Respond with a JSON array only, no prose. Each element:
{
  "title": "short unique title",
  "description": "what to do",
  "depends_on": ["titles of subtasks this one needs"],
  "capabilities": ["code" | "test" | "docs" | "security" | "frontend" | "database" | "analysis" | "review"],
  "complexity": "low" | "medium" | "high",
  "component": "optional component name"
}`

func buildPrompt(req Request) string {
	var ctxBlock strings.Builder
	if req.Codebase != nil && len(req.Codebase.Components) > 0 {
		ctxBlock.WriteString("\nCODEBASE COMPONENTS:\n")
		for _, c := range req.Codebase.Components {
			fmt.Fprintf(&ctxBlock, "- %s", c.Name)
			if len(c.Paths) > 0 {
				fmt.Fprintf(&ctxBlock, " (%s)", strings.Join(c.Paths, ", "))
			}
			ctxBlock.WriteString("\n")
		}
	}
	return fmt.Sprintf(decompositionPrompt, req.MaxUnits, req.MinWords, ctxBlock.String(), strings.TrimSpace(req.Text))
}

// parseResponse extracts the JSON array from a model response and maps subtask
// titles to generated ids.
func parseResponse(response string, maxUnits int) ([]*Subtask, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in response (%d chars): %q", len(response), truncate(response, 200))
	}

	var decoded []llmSubtask
	if err := json.Unmarshal([]byte(response[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal subtasks: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("empty subtask list")
	}
	if len(decoded) > maxUnits {
		return nil, fmt.Errorf("got %d subtasks, limit is %d", len(decoded), maxUnits)
	}

	titleToID := make(map[string]string, len(decoded))
	out := make([]*Subtask, len(decoded))
	for i, d := range decoded {
		title := strings.TrimSpace(d.Title)
		if title == "" {
			return nil, fmt.Errorf("subtask %d has no title", i+1)
		}
		key := strings.ToLower(title)
		if _, dup := titleToID[key]; dup {
			return nil, fmt.Errorf("duplicate subtask title %q", title)
		}
		id := fmt.Sprintf("task-%d", i+1)
		titleToID[key] = id

		complexity, err := ParseComplexity(d.Complexity)
		if err != nil {
			complexity = inferComplexity(title + " " + d.Description)
		}
		caps := uniqueStrings(d.Capabilities)
		if len(caps) == 0 {
			caps = inferCapabilities(title + " " + d.Description)
		}
		out[i] = &Subtask{
			ID:                   id,
			Title:                title,
			Description:          strings.TrimSpace(d.Description),
			RequiredCapabilities: caps,
			Complexity:           complexity,
			Component:            strings.TrimSpace(d.Component),
		}
	}

	for i, d := range decoded {
		for _, dep := range d.DependsOn {
			id, ok := titleToID[strings.ToLower(strings.TrimSpace(dep))]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for subtask %q", dep, out[i].Title)
			}
			if id == out[i].ID {
				return nil, fmt.Errorf("subtask %q depends on itself", out[i].Title)
			}
			out[i].Dependencies = append(out[i].Dependencies, id)
		}
	}
	return out, nil
}
