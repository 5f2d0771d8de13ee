package orchestrator

import "github.com/meow-stack/meow-orch/internal/runstate"

// loopBack implements the loop-back reset algorithm (spec §4.7.1): the
// source step is requeued to PENDING with a fresh per-iteration budget, and
// the set {target} ∪ {transitive downstream of target excluding source} is
// replaced with fresh runtimes, target preserving its iteration count.
func (o *Orchestrator) loopBack(source, target string) {
	src := o.state.Steps[source]
	src.Iteration++
	src.ResetForNewIteration()
	src.NotifiedFailure = false
	src.NotifiedHumanInput = false
	if source != target {
		src.BlockedByLoop = target
	} else {
		src.BlockedByLoop = ""
	}

	runstate.ResetForLoopBack(o.state, o.workflow, source, target)
}
