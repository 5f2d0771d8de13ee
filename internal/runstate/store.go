package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meow-stack/meow-orch/internal/config"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

// Store persists a RunState as a single document at a configurable path.
// Writes go to a temporary sibling and are renamed into place so a crash
// mid-write never leaves a truncated file behind.
type Store struct {
	path   string
	format config.StateFormat
}

// NewStore creates a Store targeting path, recovering any orphaned temp
// file left by a previous crash.
func NewStore(path string, format config.StateFormat) (*Store, error) {
	if format == "" {
		format = config.StateFormatJSON
	}
	s := &Store{path: path, format: format}
	if err := s.recoverOrphanedWrite(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the current target path.
func (s *Store) Path() string {
	return s.path
}

// SetPath retargets the store, e.g. once the real run_id is known.
func (s *Store) SetPath(path string) error {
	s.path = path
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Save writes the full state as a single document, creating parent
// directories as needed.
func (s *Store) Save(state *RunState) error {
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating run state directory: %w", err)
	}

	data, err := s.marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing run state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming run state into place: %w", err)
	}
	return nil
}

// Load returns the parsed document, or (nil, nil) if no state file exists yet.
func (s *Store) Load() (*RunState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run state: %w", err)
	}

	var state RunState
	if err := s.unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing run state: %w", err)
	}
	return &state, nil
}

func (s *Store) marshal(state *RunState) ([]byte, error) {
	if s.format == config.StateFormatYAML {
		return yaml.Marshal(state)
	}
	return json.MarshalIndent(state, "", "  ")
}

func (s *Store) unmarshal(data []byte, state *RunState) error {
	if s.format == config.StateFormatYAML {
		return yaml.Unmarshal(data, state)
	}
	return json.Unmarshal(data, state)
}

// recoverOrphanedWrite promotes or discards a leftover .tmp file from a
// write that crashed between WriteFile and Rename.
func (s *Store) recoverOrphanedWrite() error {
	tmpPath := s.path + ".tmp"
	if _, err := os.Stat(tmpPath); err != nil {
		return nil
	}
	if _, err := os.Stat(s.path); err == nil {
		// Main file survived; the temp file is a stale duplicate.
		return os.Remove(tmpPath)
	}
	return os.Rename(tmpPath, s.path)
}

// ResetFrom implements resume semantics (--start-at-step): reset the named
// step and its full transitive downstream to fresh PENDING runtimes.
// Distinct from ResetForLoopBack, which excludes the loop-back source.
func ResetFrom(state *RunState, wf *workflow.Workflow, startStep string) error {
	if _, ok := wf.Steps[startStep]; !ok {
		return fmt.Errorf("step %q not found in workflow", startStep)
	}
	toReset := wf.Downstream(startStep)
	toReset[startStep] = true
	for id := range toReset {
		state.Steps[id] = Fresh()
	}
	return nil
}

// ResetForLoopBack implements the loop-back reset algorithm: the set
// {target} union {transitive downstream of target excluding source} is
// replaced with fresh runtimes, except target preserves its iteration
// count. Source itself is handled separately by the caller (requeued to
// PENDING, optionally marked blocked_by_loop).
func ResetForLoopBack(state *RunState, wf *workflow.Workflow, source, target string) {
	toReset := wf.Downstream(target)
	toReset[target] = true
	delete(toReset, source)

	for id := range toReset {
		preservedIteration := 0
		if id == target {
			preservedIteration = state.Steps[id].Iteration
		}
		fresh := Fresh()
		fresh.Iteration = preservedIteration
		state.Steps[id] = fresh
	}
}

// StatePathForRun returns the canonical run_state.json path for a run
// directory, honoring an alternate extension for YAML-formatted state.
func StatePathForRun(runDir string, format config.StateFormat) string {
	name := "run_state.json"
	if format == config.StateFormatYAML {
		name = "run_state.yaml"
	}
	return filepath.Join(runDir, name)
}
