// Package workflow loads and validates the static, immutable workflow
// document that describes a run's DAG of steps.
package workflow

// LoopConfig describes the per-step iteration construct: a step carrying a
// LoopConfig is relaunched once per materialized item instead of once.
// Exactly one item source must be set.
type LoopConfig struct {
	Items           []string `yaml:"items,omitempty"`
	ItemsFromStep   string   `yaml:"items_from_step,omitempty"`
	ItemsFromArtifact string `yaml:"items_from_artifact,omitempty"`
	MaxIterations   int      `yaml:"max_iterations,omitempty"`
	// UntilCondition is reserved and unimplemented: accepted at parse time,
	// ignored at runtime.
	UntilCondition string `yaml:"until_condition,omitempty"`
	ItemVar        string `yaml:"item_var,omitempty"`
	IndexVar       string `yaml:"index_var,omitempty"`
}

// Step is one node of the workflow DAG.
type Step struct {
	ID              string            `yaml:"id"`
	Agent           string            `yaml:"agent"`
	Prompt          string            `yaml:"prompt"`
	Needs           []string          `yaml:"needs,omitempty"`
	NextOnSuccess   []string          `yaml:"next_on_success,omitempty"`
	Gates           []string          `yaml:"gates,omitempty"`
	LoopBackTo      string            `yaml:"loop_back_to,omitempty"`
	HumanInTheLoop  bool              `yaml:"human_in_the_loop,omitempty"`
	Model           string            `yaml:"model,omitempty"`
	Metadata        map[string]string `yaml:"metadata,omitempty"`
	Loop            *LoopConfig       `yaml:"loop,omitempty"`
}

// HasLoopBack reports whether the step can trigger a loop-back.
func (s *Step) HasLoopBack() bool {
	return s.LoopBackTo != ""
}

// Workflow is the immutable, validated DAG a run is constructed from.
type Workflow struct {
	Name        string
	Description string
	Steps       map[string]*Step
	// Order preserves the document's declared step order, used anywhere
	// deterministic iteration over steps matters (e.g. test fixtures).
	Order []string
}

// EntrySteps returns the ids of steps with no dependencies, in document order.
func (w *Workflow) EntrySteps() []string {
	var entries []string
	for _, id := range w.Order {
		if len(w.Steps[id].Needs) == 0 {
			entries = append(entries, id)
		}
	}
	return entries
}

// Downstream returns the set of step ids transitively depending on id,
// not including id itself.
func (w *Workflow) Downstream(id string) map[string]bool {
	result := make(map[string]bool)
	changed := true
	for changed {
		changed = false
		for _, stepID := range w.Order {
			if result[stepID] || stepID == id {
				continue
			}
			step := w.Steps[stepID]
			for _, dep := range step.Needs {
				if dep == id || result[dep] {
					result[stepID] = true
					changed = true
					break
				}
			}
		}
	}
	return result
}
