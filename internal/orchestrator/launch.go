package orchestrator

import (
	"path/filepath"

	"github.com/meow-stack/meow-orch/internal/logging"
	"github.com/meow-stack/meow-orch/internal/runner"
	"github.com/meow-stack/meow-orch/internal/runstate"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

// launchReadySteps scans every PENDING step not already running and
// launches those whose dependencies, loop gate, and gates are all
// satisfied. Returns whether it made any progress.
func (o *Orchestrator) launchReadySteps() bool {
	progress := false

	for _, stepID := range o.workflow.Order {
		rt := o.state.Steps[stepID]
		if rt.Status != runstate.StepPending {
			continue
		}
		if _, running := o.active[stepID]; running {
			continue
		}

		step := o.workflow.Steps[stepID]

		if !o.needsSatisfied(step) {
			continue
		}

		if rt.BlockedByLoop != "" {
			blocker := o.state.Steps[rt.BlockedByLoop]
			if blocker == nil || !blocker.Status.Terminal() {
				continue
			}
			rt.BlockedByLoop = ""
		}

		if !o.gatesOpen(step) {
			continue
		}

		if step.Loop != nil && rt.LoopItems == nil {
			ready, err := o.materializeLoop(step, rt)
			if err != nil {
				rt.Status = runstate.StepFailed
				rt.LastError = err.Error()
				o.notifyFailureOnce(stepID, rt)
				progress = true
				continue
			}
			if !ready {
				continue
			}
			progress = true
		}

		if step.Loop != nil {
			maxIter := step.Loop.MaxIterations
			if maxIter <= 0 {
				maxIter = len(rt.LoopItems)
			}
			if rt.LoopIndex >= len(rt.LoopItems) || rt.LoopIndex >= maxIter {
				rt.Status = runstate.StepCompleted
				rt.LoopCompleted = true
				progress = true
				continue
			}
		}

		if o.launchStep(step, rt) {
			progress = true
		}
	}

	return progress
}

func (o *Orchestrator) needsSatisfied(step *workflow.Step) bool {
	for _, dep := range step.Needs {
		depRT := o.state.Steps[dep]
		if depRT == nil || !depRT.Status.Terminal() {
			return false
		}
	}
	return true
}

func (o *Orchestrator) gatesOpen(step *workflow.Step) bool {
	for _, g := range step.Gates {
		if !o.gateEvaluator.Evaluate(step, g) {
			return false
		}
	}
	return true
}

// launchStep resolves the prompt, builds the environment, marks the
// runtime RUNNING, and spawns the subprocess. Always returns true: a launch,
// a prompt-resolution failure and a spawn failure all change the runtime.
func (o *Orchestrator) launchStep(step *workflow.Step, rt *runstate.StepRuntime) bool {
	stepLog := logging.WithStep(o.logger, step.ID, step.Agent)

	promptPath, err := runner.ResolvePromptPath(step.ID, step.Prompt, o.repoDir, o.workflowDocDir)
	if err != nil {
		rt.Status = runstate.StepFailed
		rt.LastError = err.Error()
		o.notifyFailureOnce(step.ID, rt)
		stepLog.Error("prompt resolution failed", "error", err)
		return true
	}

	extraEnv := o.buildDependencyEnv(step)
	if step.Loop != nil {
		for k, v := range o.buildLoopEnv(step, rt) {
			extraEnv[k] = v
		}
	}

	reportPath := filepath.Join(o.reportsDir, o.state.RunID+"__"+step.ID+".json")
	var manualInputPath string
	if step.HumanInTheLoop && o.pauseForHuman {
		manualInputPath = filepath.Join(o.manualInputsDir, o.state.RunID+"__"+step.ID+".json")
	}

	rt.Status = runstate.StepRunning
	rt.Attempts++
	rt.StartedAt = utcNow()
	rt.EndedAt = ""
	rt.ReportPath = reportPath
	rt.ManualInputPath = manualInputPath
	rt.LastError = ""
	rt.NotifiedFailure = false
	rt.NotifiedHumanInput = false

	launch, err := o.runner.Launch(runner.LaunchOptions{
		Step:            step,
		RunID:           o.state.RunID,
		ReportPath:      reportPath,
		PromptPath:      promptPath,
		ManualInputPath: manualInputPath,
		ArtifactsDir:    o.artifactsDir,
		ExtraEnv:        extraEnv,
		Attempt:         rt.Attempts,
	})
	if err != nil {
		rt.Status = runstate.StepFailed
		rt.LastError = err.Error()
		o.notifyFailureOnce(step.ID, rt)
		o.finishStepWithRetry(step.ID, rt)
		stepLog.Error("launch failed", "error", err)
		return true
	}

	stepLog.Info("step launched", "attempt", rt.Attempts, "log_path", launch.LogPath)
	o.active[step.ID] = launch
	return true
}
