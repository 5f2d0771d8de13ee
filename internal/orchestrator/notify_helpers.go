package orchestrator

import (
	"github.com/meow-stack/meow-orch/internal/notify"
	"github.com/meow-stack/meow-orch/internal/runstate"
)

// notifyFailureOnce dispatches a failure notification at most once per
// failed attempt, per spec.md's idempotence rule on StepRuntime.NotifiedFailure.
func (o *Orchestrator) notifyFailureOnce(stepID string, rt *runstate.StepRuntime) {
	if rt.NotifiedFailure {
		return
	}
	n := notify.StepNotification{
		RunID:        o.state.RunID,
		WorkflowName: o.workflow.Name,
		StepID:       stepID,
		Attempt:      rt.Attempts,
		Status:       rt.Status,
		ReportPath:   rt.ReportPath,
		Logs:         rt.Logs,
		LastError:    rt.LastError,
	}
	o.safeNotify(func() { o.notifier.NotifyFailure(n) })
	rt.NotifiedFailure = true
}

// notifyHumanInputOnce dispatches a human-input-needed notification at
// most once per wait, per StepRuntime.NotifiedHumanInput.
func (o *Orchestrator) notifyHumanInputOnce(stepID string, rt *runstate.StepRuntime) {
	if rt.NotifiedHumanInput {
		return
	}
	n := notify.StepNotification{
		RunID:           o.state.RunID,
		WorkflowName:    o.workflow.Name,
		StepID:          stepID,
		Attempt:         rt.Attempts,
		Status:          rt.Status,
		ManualInputPath: rt.ManualInputPath,
		ReportPath:      rt.ReportPath,
		Logs:            rt.Logs,
	}
	o.safeNotify(func() { o.notifier.NotifyHumanInput(n) })
	rt.NotifiedHumanInput = true
}
