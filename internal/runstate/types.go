// Package runstate models the durable, mutable per-run record the
// orchestrator owns exclusively for the lifetime of one run.
package runstate

import "time"

// StepStatus is the lifecycle state of one step within a run.
type StepStatus string

const (
	StepPending        StepStatus = "PENDING"
	StepRunning        StepStatus = "RUNNING"
	StepWaitingOnHuman StepStatus = "WAITING_ON_HUMAN"
	StepCompleted      StepStatus = "COMPLETED"
	StepFailed         StepStatus = "FAILED"
	StepSkipped        StepStatus = "SKIPPED"
)

// Terminal reports whether status requires no further scheduling action.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepSkipped
}

// StepRuntime is the mutable per-step record the scheduler advances every tick.
type StepRuntime struct {
	Status     StepStatus `json:"status" yaml:"status"`
	Attempts   int        `json:"attempts" yaml:"attempts"`
	Iteration  int        `json:"iteration_count" yaml:"iteration_count"`
	ReportPath string     `json:"report_path,omitempty" yaml:"report_path,omitempty"`
	StartedAt  string     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt    string     `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	LastError  string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	Artifacts []string          `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Metrics   map[string]any    `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Logs      []string          `json:"logs,omitempty" yaml:"logs,omitempty"`

	ManualInputPath string `json:"manual_input_path,omitempty" yaml:"manual_input_path,omitempty"`
	BlockedByLoop   string `json:"blocked_by_loop,omitempty" yaml:"blocked_by_loop,omitempty"`

	NotifiedFailure     bool `json:"notified_failure" yaml:"notified_failure"`
	NotifiedHumanInput  bool `json:"notified_human_input" yaml:"notified_human_input"`

	// Per-step loop (item iteration) bookkeeping; zero values when the step
	// has no loop configured.
	LoopItems     []string `json:"loop_items,omitempty" yaml:"loop_items,omitempty"`
	LoopIndex     int      `json:"loop_index,omitempty" yaml:"loop_index,omitempty"`
	LoopCompleted bool     `json:"loop_completed,omitempty" yaml:"loop_completed,omitempty"`
}

// Fresh returns a new StepRuntime at its default PENDING state.
func Fresh() *StepRuntime {
	return &StepRuntime{Status: StepPending}
}

// ClearAttemptFields resets per-attempt fields while preserving iteration and
// loop bookkeeping, used when requeueing a step for retry. Attempts is
// intentionally left untouched: it counts launches within the current
// iteration, and a retry does not start a new iteration.
func (r *StepRuntime) ClearAttemptFields() {
	r.Status = StepPending
	r.ReportPath = ""
	r.StartedAt = ""
	r.EndedAt = ""
	r.LastError = ""
	r.ManualInputPath = ""
}

// ResetForNewIteration clears the same per-attempt fields as
// ClearAttemptFields and additionally zeroes Attempts, since a new loop-back
// iteration gets a fresh attempts budget (spec §8: "it resets to zero when
// an upstream loop-back resets the step").
func (r *StepRuntime) ResetForNewIteration() {
	r.ClearAttemptFields()
	r.Attempts = 0
}

// RunState is the durable record of one orchestrator run.
type RunState struct {
	RunID           string                  `json:"run_id" yaml:"run_id"`
	WorkflowName    string                  `json:"workflow_name" yaml:"workflow_name"`
	RepoDir         string                  `json:"repo_dir" yaml:"repo_dir"`
	ReportsDir      string                  `json:"reports_dir" yaml:"reports_dir"`
	ManualInputsDir string                  `json:"manual_inputs_dir" yaml:"manual_inputs_dir"`
	CreatedAt       string                  `json:"created_at" yaml:"created_at"`
	UpdatedAt       string                  `json:"updated_at" yaml:"updated_at"`
	Steps           map[string]*StepRuntime `json:"steps" yaml:"steps"`
}

// New constructs a fresh RunState with every step at its default runtime.
func New(runID, workflowName, repoDir, reportsDir, manualInputsDir string, stepIDs []string) *RunState {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	steps := make(map[string]*StepRuntime, len(stepIDs))
	for _, id := range stepIDs {
		steps[id] = Fresh()
	}
	return &RunState{
		RunID:           runID,
		WorkflowName:    workflowName,
		RepoDir:         repoDir,
		ReportsDir:      reportsDir,
		ManualInputsDir: manualInputsDir,
		CreatedAt:       now,
		UpdatedAt:       now,
		Steps:           steps,
	}
}

// AllTerminalSuccessful reports whether every step has reached a terminal,
// successful status.
func (s *RunState) AllTerminalSuccessful() bool {
	for _, rt := range s.Steps {
		if !rt.Status.Terminal() {
			return false
		}
	}
	return true
}

// HasTerminalFailure reports whether any step has exhausted its attempts.
func (s *RunState) HasTerminalFailure(maxAttempts int) bool {
	for _, rt := range s.Steps {
		if rt.Status == StepFailed && rt.Attempts >= maxAttempts {
			return true
		}
	}
	return false
}
