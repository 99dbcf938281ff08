package planfile

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/scheduler"
)

func decomposed(t *testing.T) *decompose.Result {
	t.Helper()
	res, err := decompose.New().Decompose(context.Background(),
		"Refactor the authentication module to use JWT tokens, update the user service, and add tests for both",
		nil, decompose.DefaultOptions())
	require.NoError(t, err)
	return res
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	res := decomposed(t)
	plan, err := scheduler.PlanSubtasks(res.Subtasks)
	require.NoError(t, err)

	f := New("refactor auth", res)
	f.Plan = plan

	path := filepath.Join(t.TempDir(), "plans", "auth.yaml")
	require.NoError(t, Save(path, f))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Version, loaded.Version)
	assert.Equal(t, "refactor auth", loaded.Task)
	assert.Equal(t, res.Subtasks, loaded.Decomposition.Subtasks)
	assert.Equal(t, res.StrategyUsed, loaded.Decomposition.StrategyUsed)
	assert.Equal(t, res.LevelIDs(), loaded.Decomposition.LevelIDs(), "levels are rebuilt on load")
	assert.Equal(t, plan.LevelIDs(), loaded.Plan.LevelIDs())
	assert.Equal(t, plan.CriticalPath, loaded.Plan.CriticalPath)
}

func TestExecutionPlan_BuiltWhenMissing(t *testing.T) {
	res := decomposed(t)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, New("", res)))
	assert.NotContains(t, buf.String(), "plan:")

	f, err := Decode(&buf)
	require.NoError(t, err)
	assert.Nil(t, f.Plan)

	plan, err := f.ExecutionPlan()
	require.NoError(t, err)
	assert.Equal(t, len(res.Subtasks), plan.TotalTasks)
}

func TestDecode_ComplexityAsText(t *testing.T) {
	src := `version: 1
decomposition:
  subtasks:
    - id: a
      title: Design schema
      complexity: high
      required_capabilities: [database]
    - id: b
      title: Write migration
      complexity: low
      dependencies: [a]
`
	f, err := Decode(strings.NewReader(src))
	require.NoError(t, err)

	subtasks := f.Subtasks()
	require.Len(t, subtasks, 2)
	assert.Equal(t, decompose.ComplexityHigh, subtasks[0].Complexity)
	assert.Equal(t, decompose.ComplexityLow, subtasks[1].Complexity)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, f.Decomposition.LevelIDs())

	var out bytes.Buffer
	require.NoError(t, Encode(&out, f))
	assert.Contains(t, out.String(), "complexity: high")
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty", "", "empty plan file"},
		{"wrong version", "version: 2\ndecomposition:\n  subtasks: [{id: a, title: a}]\n", "unsupported plan file version"},
		{"no subtasks", "version: 1\n", "no subtasks"},
		{"unknown field", "version: 1\nextra: true\n", "decoding plan file"},
		{"cycle", "version: 1\ndecomposition:\n  subtasks:\n    - {id: a, title: a, dependencies: [b]}\n    - {id: b, title: b, dependencies: [a]}\n", "plan file subtasks"},
		{"bad complexity", "version: 1\ndecomposition:\n  subtasks: [{id: a, title: a, complexity: huge}]\n", "decoding plan file"},
		{"bad plan", "version: 1\ndecomposition:\n  subtasks: [{id: a, title: a}]\nplan:\n  levels: [{level: 0, tasks: [{id: a}]}]\n  total_tasks: 2\n", "plan file plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading plan file")
}
