package orchestrator

import (
	"fmt"
	"strings"

	"github.com/meow-stack/meow-orch/internal/logging"
	"github.com/meow-stack/meow-orch/internal/runstate"
)

// collectReports ingests run reports for every active process, advancing
// each step's runtime per the success, failure, loop-back, and
// missing-report branches. Returns whether it made any progress.
func (o *Orchestrator) collectReports() bool {
	progress := false

	for stepID, launch := range o.active {
		rt := o.state.Steps[stepID]
		step := o.workflow.Steps[stepID]
		stepLog := logging.WithStep(o.logger, stepID, step.Agent)

		procState, exited := launch.Finished()

		if fileExists(launch.ReportPath) {
			rep, err := o.reportReader.Read(launch.ReportPath)
			if err != nil {
				if !exited {
					// Write may still be in progress; try again next tick.
					continue
				}
				rt.Status = runstate.StepFailed
				rt.LastError = err.Error()
				o.notifyFailureOnce(stepID, rt)
				o.finishStepWithRetry(stepID, rt)
				stepLog.Error("unreadable run report", "error", err)
				progress = true
				continue
			}

			rt.EndedAt = rep.EndedAt
			rt.Artifacts = rep.Artifacts
			rt.Metrics = rep.Metrics
			rt.Logs = rep.Logs

			if rep.GateFailure && step.HasLoopBack() {
				if rt.Iteration < o.maxIterations {
					stepLog.Info("gate failed, looping back", "loop_back_to", step.LoopBackTo, "iteration", rt.Iteration)
					o.loopBack(stepID, step.LoopBackTo)
					o.finishStep(stepID)
					progress = true
					continue
				}
				rt.Status = runstate.StepFailed
				rt.LastError = "max iterations reached"
				o.notifyFailureOnce(stepID, rt)
				o.finishStepWithRetry(stepID, rt)
				stepLog.Error("max loop-back iterations reached")
				progress = true
				continue
			}

			if strings.EqualFold(rep.Status, "COMPLETED") {
				if step.Loop != nil && rt.LoopIndex+1 < len(rt.LoopItems) {
					rt.LoopIndex++
					rt.Status = runstate.StepPending
					rt.ReportPath = ""
					rt.StartedAt = ""
					rt.EndedAt = ""
					o.finishStep(stepID)
					progress = true
					continue
				}
				if rt.ManualInputPath != "" && o.pauseForHuman {
					rt.Status = runstate.StepWaitingOnHuman
					o.notifyHumanInputOnce(stepID, rt)
					o.finishStep(stepID)
					progress = true
					continue
				}
				rt.Status = runstate.StepCompleted
				if step.Loop != nil {
					rt.LoopCompleted = true
				}
				o.finishStep(stepID)
				stepLog.Info("step completed")
				progress = true
				continue
			}

			// Failure branch: agent reported a non-COMPLETED status.
			rt.Status = runstate.StepFailed
			rt.LastError = lastLogLines(rt.Logs, 3, "Agent reported failure")
			o.notifyFailureOnce(stepID, rt)
			o.finishStepWithRetry(stepID, rt)
			stepLog.Error("step reported failure", "error", rt.LastError)
			progress = true
			continue
		}

		if exited {
			code := -1
			if procState != nil {
				code = procState.ExitCode()
			}
			rt.Status = runstate.StepFailed
			rt.LastError = fmt.Sprintf("Agent process exited with code %d without writing a run report", code)
			o.notifyFailureOnce(stepID, rt)
			o.finishStepWithRetry(stepID, rt)
			stepLog.Error("process exited without a run report", "exit_code", code)
			progress = true
		}
	}

	return progress
}

// finishStep removes stepID from the active-process map and closes its log
// handle, with no retry scheduling (used for non-retryable transitions).
func (o *Orchestrator) finishStep(stepID string) {
	if launch, ok := o.active[stepID]; ok {
		_ = launch.CloseLog()
		delete(o.active, stepID)
	}
}

// finishStepWithRetry closes out the active entry and, if the step landed
// in FAILED with attempts remaining, resets it to PENDING to retry next
// tick.
func (o *Orchestrator) finishStepWithRetry(stepID string, rt *runstate.StepRuntime) {
	o.finishStep(stepID)
	if rt.Status == runstate.StepFailed && rt.Attempts < o.maxAttempts {
		rt.ClearAttemptFields()
		rt.NotifiedFailure = false
		rt.NotifiedHumanInput = false
	}
}

func lastLogLines(logs []string, n int, fallback string) string {
	if len(logs) == 0 {
		return fallback
	}
	start := 0
	if len(logs) > n {
		start = len(logs) - n
	}
	return strings.Join(logs[start:], "\n")
}

// checkManualSteps transitions WAITING_ON_HUMAN steps whose manual-input
// file has appeared on disk to COMPLETED. Returns whether it made progress.
func (o *Orchestrator) checkManualSteps() bool {
	progress := false
	for _, rt := range o.state.Steps {
		if rt.Status != runstate.StepWaitingOnHuman {
			continue
		}
		if fileExists(rt.ManualInputPath) {
			rt.Status = runstate.StepCompleted
			rt.NotifiedHumanInput = false
			progress = true
		}
	}
	return progress
}
