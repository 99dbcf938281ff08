// Package planfile reads and writes decompositions and execution plans as YAML.
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/scheduler"
)

// Version is the current file format version.
const Version = 1

// File is a plan file. A file written by `godel decompose` carries only the
// decomposition; `godel plan` adds the leveled plan.
type File struct {
	Version       int                      `yaml:"version"`
	Task          string                   `yaml:"task,omitempty"`
	Decomposition *decompose.Result        `yaml:"decomposition"`
	Plan          *scheduler.ExecutionPlan `yaml:"plan,omitempty"`
}

// New wraps a decomposition result.
func New(task string, res *decompose.Result) *File {
	return &File{Version: Version, Task: task, Decomposition: res}
}

// Subtasks returns the decomposed subtasks.
func (f *File) Subtasks() []*decompose.Subtask {
	if f.Decomposition == nil {
		return nil
	}
	return f.Decomposition.Subtasks
}

// ExecutionPlan returns the stored plan, or builds one from the subtasks when
// the file has none.
func (f *File) ExecutionPlan() (*scheduler.ExecutionPlan, error) {
	if f.Plan != nil {
		if err := f.Plan.Validate(); err != nil {
			return nil, err
		}
		return f.Plan, nil
	}
	return scheduler.PlanSubtasks(f.Subtasks())
}

// Encode writes f as YAML.
func Encode(w io.Writer, f *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding plan file: %w", err)
	}
	return enc.Close()
}

// Decode reads a plan file, rejecting unknown fields and restoring the
// decomposition's execution levels.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty plan file")
		}
		return nil, fmt.Errorf("decoding plan file: %w", err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("unsupported plan file version %d (want %d)", f.Version, Version)
	}
	if f.Decomposition == nil || len(f.Decomposition.Subtasks) == 0 {
		return nil, fmt.Errorf("plan file has no subtasks")
	}

	levels, err := decompose.Levels(f.Decomposition.Subtasks)
	if err != nil {
		return nil, fmt.Errorf("plan file subtasks: %w", err)
	}
	f.Decomposition.ExecutionLevels = levels

	if f.Plan != nil {
		if err := f.Plan.Validate(); err != nil {
			return nil, fmt.Errorf("plan file plan: %w", err)
		}
	}
	return &f, nil
}

// Save writes f to path, creating parent directories.
func Save(path string, f *File) error {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing plan file %s: %w", path, err)
	}
	return nil
}

// Load reads the plan file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	f, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
