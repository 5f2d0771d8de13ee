package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meow-stack/meow-orch/internal/runstate"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

// materializeLoop attempts to populate rt.LoopItems from the step's loop
// source (spec §4.7.2). Returns (ready=false, err=nil) when the source
// isn't available yet and the step should simply be retried next tick, and
// (ready=false, err!=nil) for a fatal materialization error.
func (o *Orchestrator) materializeLoop(step *workflow.Step, rt *runstate.StepRuntime) (bool, error) {
	loop := step.Loop

	if len(loop.Items) > 0 {
		items := make([]string, len(loop.Items))
		for i, it := range loop.Items {
			encoded, err := json.Marshal(it)
			if err != nil {
				return false, fmt.Errorf("encoding loop item %d: %w", i, err)
			}
			items[i] = string(encoded)
		}
		rt.LoopItems = items
		rt.LoopIndex = 0
		return true, nil
	}

	if loop.ItemsFromStep != "" {
		depRT := o.state.Steps[loop.ItemsFromStep]
		if depRT == nil || !depRT.Status.Terminal() {
			return false, nil
		}
		if len(depRT.Artifacts) == 0 {
			return false, fmt.Errorf("loop.items_from_step %q has no artifacts to read items from", loop.ItemsFromStep)
		}
		path := o.resolveRepoPath(depRT.Artifacts[0])
		items, err := readLoopItemsFile(path)
		if err != nil {
			return false, err
		}
		rt.LoopItems = items
		rt.LoopIndex = 0
		return true, nil
	}

	if loop.ItemsFromArtifact != "" {
		path := o.resolveRepoPath(loop.ItemsFromArtifact)
		if !fileExists(path) {
			return false, nil
		}
		items, err := readLoopItemsFile(path)
		if err != nil {
			return false, err
		}
		rt.LoopItems = items
		rt.LoopIndex = 0
		return true, nil
	}

	return false, fmt.Errorf("loop declares no item source")
}

// readLoopItemsFile parses a loop item source document: either a bare JSON
// list, or an object with an "items" list. Each item is re-encoded to its
// own JSON text so LOOP_<ITEM_VAR> can carry any JSON value.
func readLoopItemsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading loop item source %s: %w", path, err)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return encodeLoopItems(list), nil
	}

	var obj struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Items != nil {
		return encodeLoopItems(obj.Items), nil
	}

	return nil, fmt.Errorf("loop item source %s is neither a JSON list nor an object with an 'items' list", path)
}

func encodeLoopItems(raw []json.RawMessage) []string {
	items := make([]string, len(raw))
	for i, r := range raw {
		items[i] = strings.TrimSpace(string(r))
	}
	return items
}

// buildLoopEnv returns the per-iteration LOOP_<INDEX_VAR>/LOOP_<ITEM_VAR>
// environment variables for the step's current loop_index.
func (o *Orchestrator) buildLoopEnv(step *workflow.Step, rt *runstate.StepRuntime) map[string]string {
	env := make(map[string]string, 2)
	if rt.LoopIndex < 0 || rt.LoopIndex >= len(rt.LoopItems) {
		return env
	}
	env["LOOP_"+strings.ToUpper(step.Loop.IndexVar)] = strconv.Itoa(rt.LoopIndex)
	env["LOOP_"+strings.ToUpper(step.Loop.ItemVar)] = rt.LoopItems[rt.LoopIndex]
	return env
}

func (o *Orchestrator) resolveRepoPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(o.repoDir, path)
}
