package runstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meow-stack/meow-orch/internal/config"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_state.json")

	store, err := NewStore(path, config.StateFormatJSON)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	state := New("run-001", "demo", "/repo", "/repo/.agents/runs/run-001/reports", "/repo/.agents/runs/run-001/manual_inputs", []string{"a", "b"})
	state.Steps["a"].Status = StepCompleted
	state.Steps["a"].Attempts = 1
	state.Steps["a"].Artifacts = []string{"out/a.txt"}

	if err := store.Save(state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected loaded state, got nil")
	}
	if loaded.Steps["a"].Status != StepCompleted {
		t.Errorf("Steps[a].Status = %s, want COMPLETED", loaded.Steps["a"].Status)
	}
	if loaded.Steps["a"].Attempts != 1 {
		t.Errorf("Steps[a].Attempts = %d, want 1", loaded.Steps["a"].Attempts)
	}
	if len(loaded.Steps["a"].Artifacts) != 1 || loaded.Steps["a"].Artifacts[0] != "out/a.txt" {
		t.Errorf("Steps[a].Artifacts = %v", loaded.Steps["a"].Artifacts)
	}
	if loaded.Steps["b"].Status != StepPending {
		t.Errorf("Steps[b].Status = %s, want PENDING", loaded.Steps["b"].Status)
	}
}

func TestStore_LoadAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "run_state.json"), config.StateFormatJSON)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state for absent file, got %v", state)
	}
}

func TestStore_YAMLFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_state.yaml")
	store, err := NewStore(path, config.StateFormatYAML)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	state := New("run-002", "demo", "/repo", "/reports", "/manual", []string{"a"})
	if err := store.Save(state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty YAML file")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.RunID != "run-002" {
		t.Errorf("RunID = %s, want run-002", loaded.RunID)
	}
}

func TestStore_RecoversOrphanedTempFile_PromotesWhenMainMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_state.json")
	if err := os.WriteFile(path+".tmp", []byte(`{"run_id":"orphan"}`), 0644); err != nil {
		t.Fatalf("seeding orphan tmp: %v", err)
	}

	store, err := NewStore(path, config.StateFormatJSON)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected .tmp file to be promoted away")
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state == nil || state.RunID != "orphan" {
		t.Errorf("expected promoted orphan state, got %v", state)
	}
}

func TestStore_RecoversOrphanedTempFile_DiscardsWhenMainPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run_state.json")
	if err := os.WriteFile(path, []byte(`{"run_id":"main"}`), 0644); err != nil {
		t.Fatalf("seeding main file: %v", err)
	}
	if err := os.WriteFile(path+".tmp", []byte(`{"run_id":"stale"}`), 0644); err != nil {
		t.Fatalf("seeding stale tmp: %v", err)
	}

	store, err := NewStore(path, config.StateFormatJSON)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected stale .tmp file to be discarded")
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.RunID != "main" {
		t.Errorf("expected main state preserved, got %v", state)
	}
}

func TestStore_SetPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "initial.json"), config.StateFormatJSON)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	newPath := filepath.Join(dir, "nested", "run_state.json")
	if err := store.SetPath(newPath); err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	if store.Path() != newPath {
		t.Errorf("Path() = %s, want %s", store.Path(), newPath)
	}
	state := New("run-003", "demo", "/repo", "/reports", "/manual", []string{"a"})
	if err := store.Save(state); err != nil {
		t.Fatalf("Save after SetPath failed: %v", err)
	}
}

func loopbackFixtureWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.yaml")
	content := `
steps:
  - id: prep
    agent: a
    prompt: p.md
  - id: fix
    agent: a
    prompt: p.md
    needs: [prep]
  - id: gate
    agent: a
    prompt: p.md
    needs: [prep]
    loop_back_to: fix
  - id: done
    agent: a
    prompt: p.md
    needs: [gate]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	wf, err := workflow.Load(path)
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	return wf
}

func TestResetForLoopBack_ExcludesSourcePreservesTargetIteration(t *testing.T) {
	wf := loopbackFixtureWorkflow(t)
	state := New("run-1", wf.Name, "/repo", "/reports", "/manual", wf.Order)
	state.Steps["fix"].Iteration = 2
	state.Steps["gate"].Status = StepCompleted
	state.Steps["done"].Status = StepCompleted

	ResetForLoopBack(state, wf, "gate", "fix")

	if state.Steps["fix"].Iteration != 2 {
		t.Errorf("target fix.Iteration = %d, want preserved 2", state.Steps["fix"].Iteration)
	}
	if state.Steps["fix"].Status != StepPending {
		t.Errorf("fix.Status = %s, want PENDING", state.Steps["fix"].Status)
	}
	if state.Steps["done"].Status != StepCompleted {
		t.Errorf("done.Status = %s, want untouched COMPLETED (done follows the source gate, not the target fix)", state.Steps["done"].Status)
	}
	// Source (gate) untouched by ResetForLoopBack itself.
	if state.Steps["gate"].Status != StepCompleted {
		t.Errorf("gate.Status = %s, want untouched COMPLETED", state.Steps["gate"].Status)
	}
	if state.Steps["prep"].Status != StepPending {
		t.Errorf("prep (upstream) unexpectedly changed: %s", state.Steps["prep"].Status)
	}
}

func TestResetFrom_ResetsStepAndDownstream(t *testing.T) {
	wf := loopbackFixtureWorkflow(t)
	state := New("run-1", wf.Name, "/repo", "/reports", "/manual", wf.Order)
	for _, id := range wf.Order {
		state.Steps[id].Status = StepCompleted
	}

	if err := ResetFrom(state, wf, "fix"); err != nil {
		t.Fatalf("ResetFrom failed: %v", err)
	}

	if state.Steps["fix"].Status != StepPending {
		t.Errorf("fix.Status = %s, want PENDING", state.Steps["fix"].Status)
	}
	if state.Steps["gate"].Status != StepCompleted {
		t.Errorf("gate.Status = %s, want COMPLETED (gate needs prep, not fix)", state.Steps["gate"].Status)
	}
	if state.Steps["done"].Status != StepCompleted {
		t.Errorf("done.Status = %s, want COMPLETED (done needs gate, which is not downstream of fix)", state.Steps["done"].Status)
	}
	if state.Steps["prep"].Status != StepCompleted {
		t.Errorf("prep (upstream) should remain COMPLETED, got %s", state.Steps["prep"].Status)
	}
}

func TestResetFrom_UnknownStep(t *testing.T) {
	wf := loopbackFixtureWorkflow(t)
	state := New("run-1", wf.Name, "/repo", "/reports", "/manual", wf.Order)
	if err := ResetFrom(state, wf, "ghost"); err == nil {
		t.Fatal("expected error for unknown step")
	}
}

func TestNewRunID_Width(t *testing.T) {
	id := NewRunID()
	if len(id) != 8 {
		t.Errorf("NewRunID() length = %d, want 8", len(id))
	}
}
