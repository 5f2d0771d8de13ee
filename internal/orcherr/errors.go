// Package orcherr provides structured, coded error types for the
// orchestrator, grouped by the four failure kinds the scheduler
// distinguishes: configuration errors, transient ingest errors,
// step-level failures, and loop-back exhaustion.
package orcherr

import (
	"encoding/json"
	"fmt"
)

// Error codes, grouped by failure kind.
const (
	// Configuration errors (fail fast, surfaced before any run starts).
	CodeConfigWorkflowInvalid = "CFG_001" // Bad workflow document
	CodeConfigMissingPrompt   = "CFG_002" // Prompt file not found
	CodeConfigInvalidBranch   = "CFG_003" // Bad worktree branch name
	CodeConfigInvalidEnv      = "CFG_004" // Malformed --env override
	CodeConfigSchemaUnreadable = "CFG_005" // Run-report schema file unreadable

	// Transient ingest errors (retried while the process runs; once it has
	// exited, an unreadable report fails the step with the reader's error).
	CodeIngestPartialWrite = "INGEST_001" // Report JSON incomplete, process still running

	// Step-level failures (retried up to max_attempts, then terminal).
	CodeStepInvalidReport     = "STEP_001" // Report malformed after process exit
	CodeStepMissingReport     = "STEP_002" // Process exited without a report
	CodeStepPlaceholderReport = "STEP_003" // Report retains placeholder guidance text
	CodeStepAgentFailed       = "STEP_004" // Agent reported status != COMPLETED
	CodeStepLaunchFailed      = "STEP_005" // Subprocess could not be started

	// Loop-back exhaustion (terminal, same propagation as a step-level failure).
	CodeLoopExhausted = "LOOP_001" // iteration_count reached max_iterations

	// Worktree errors.
	CodeWorktreeExists    = "WT_001" // Worktree path or branch already exists
	CodeWorktreeTeardown  = "WT_002" // A git command failed (repo lookup, worktree add or remove)
	CodeWorktreeTraversal = "WT_003" // Resolved path escapes the allowed root
)

// CodedError is the structured error type for orchestrator operations.
type CodedError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error and returns it for chaining.
func (e *CodedError) WithDetail(key string, value any) *CodedError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error and returns it for chaining.
func (e *CodedError) WithCause(err error) *CodedError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler, serializing Cause.Error() as "cause".
func (e *CodedError) MarshalJSON() ([]byte, error) {
	type alias CodedError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new CodedError.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Newf creates a new CodedError with a formatted message.
func Newf(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a CodedError.
func Wrap(code, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted CodedError.
func Wrapf(code string, err error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// --- Configuration errors ---

func WorkflowInvalid(path, reason string) *CodedError {
	return Newf(CodeConfigWorkflowInvalid, "workflow %s invalid: %s", path, reason).
		WithDetail("path", path)
}

func MissingPrompt(stepID, prompt string) *CodedError {
	return Newf(CodeConfigMissingPrompt, "prompt file not found for step %s: %s", stepID, prompt).
		WithDetail("step_id", stepID).
		WithDetail("prompt", prompt)
}

func InvalidBranch(name string) *CodedError {
	return Newf(CodeConfigInvalidBranch, "invalid worktree branch name: %s", name).
		WithDetail("branch", name)
}

func InvalidEnv(entry string) *CodedError {
	return Newf(CodeConfigInvalidEnv, "invalid --env entry (want KEY=VALUE): %s", entry).
		WithDetail("entry", entry)
}

func SchemaUnreadable(path string, err error) *CodedError {
	return Wrapf(CodeConfigSchemaUnreadable, err, "run report schema not readable: %s", path).
		WithDetail("path", path)
}

// --- Transient ingest errors ---

func PartialWrite(path string, err error) *CodedError {
	return Wrapf(CodeIngestPartialWrite, err, "run report not yet parseable: %s", path).
		WithDetail("path", path)
}

// --- Step-level failures ---

func InvalidReport(path string, err error) *CodedError {
	return Wrapf(CodeStepInvalidReport, err, "run report invalid: %s", path).
		WithDetail("path", path)
}

func MissingReport(stepID string, exitCode int) *CodedError {
	return Newf(CodeStepMissingReport, "agent process for step %s exited with code %d without writing a run report", stepID, exitCode).
		WithDetail("step_id", stepID).
		WithDetail("exit_code", exitCode)
}

func PlaceholderReport(path, reason string) *CodedError {
	return Newf(CodeStepPlaceholderReport, "run report %s still contains placeholder content: %s", path, reason).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

func AgentFailed(stepID, detail string) *CodedError {
	return Newf(CodeStepAgentFailed, "step %s: agent reported failure: %s", stepID, detail).
		WithDetail("step_id", stepID)
}

func LaunchFailed(stepID string, err error) *CodedError {
	return Wrapf(CodeStepLaunchFailed, err, "failed to launch step %s", stepID).
		WithDetail("step_id", stepID)
}

// --- Loop-back exhaustion ---

func LoopExhausted(stepID string, maxIterations int) *CodedError {
	return Newf(CodeLoopExhausted, "step %s reached max iterations (%d) via loop-back", stepID, maxIterations).
		WithDetail("step_id", stepID).
		WithDetail("max_iterations", maxIterations)
}

// --- Worktree errors ---

func WorktreeExists(path string) *CodedError {
	return Newf(CodeWorktreeExists, "worktree path already exists: %s", path).
		WithDetail("path", path)
}

func WorktreeTeardown(branch string, err error) *CodedError {
	return Wrapf(CodeWorktreeTeardown, err, "failed to tear down worktree for branch %s", branch).
		WithDetail("branch", branch)
}

func WorktreeTraversal(path string) *CodedError {
	return Newf(CodeWorktreeTraversal, "resolved worktree path escapes the allowed root: %s", path).
		WithDetail("path", path)
}
