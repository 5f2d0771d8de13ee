// Package gate evaluates named boolean conditions checked before a step is
// launched. Gates are re-evaluated every scheduling tick; nothing is cached.
package gate

import (
	"encoding/json"
	"os"

	"github.com/expr-lang/expr"

	"github.com/meow-stack/meow-orch/internal/workflow"
)

// Evaluator checks whether a single named gate is open for a step.
type Evaluator interface {
	Evaluate(step *workflow.Step, gate string) bool
}

// AlwaysOpen never blocks a step; it is the default when no gate evaluator
// is configured.
type AlwaysOpen struct{}

func (AlwaysOpen) Evaluate(*workflow.Step, string) bool { return true }

// FileBacked reads a JSON map of gate name to boolean from path on every
// call. Missing keys and a missing or unparsable file evaluate to false.
// External systems toggle this file to unblock a paused run.
type FileBacked struct {
	Path string
}

func NewFileBacked(path string) *FileBacked {
	return &FileBacked{Path: path}
}

func (f *FileBacked) Evaluate(_ *workflow.Step, gate string) bool {
	states, err := f.loadStates()
	if err != nil {
		return false
	}
	return states[gate]
}

func (f *FileBacked) loadStates() (map[string]bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	var states map[string]bool
	if err := json.Unmarshal(data, &states); err != nil {
		return map[string]bool{}, nil
	}
	return states, nil
}

// Composite ANDs a fixed list of evaluators, short-circuiting on the first
// false.
type Composite struct {
	Evaluators []Evaluator
}

func NewComposite(evaluators ...Evaluator) *Composite {
	if len(evaluators) == 0 {
		evaluators = []Evaluator{AlwaysOpen{}}
	}
	return &Composite{Evaluators: evaluators}
}

func (c *Composite) Evaluate(step *workflow.Step, gate string) bool {
	for _, e := range c.Evaluators {
		if !e.Evaluate(step, gate) {
			return false
		}
	}
	return true
}

// Expression evaluates a gate name as an expr-lang boolean expression
// against the step's metadata, an enrichment beyond the file-backed and
// always-open variants: a gate name like "metadata.risk == 'low'" is
// compiled and run fresh on every call against the step's metadata, id and
// agent as loaded from the workflow document.
type Expression struct{}

func NewExpression() *Expression {
	return &Expression{}
}

func (Expression) Evaluate(step *workflow.Step, gateExpr string) bool {
	env := map[string]any{
		"metadata": stringMapToAny(step.Metadata),
		"step_id":  step.ID,
		"agent":    step.Agent,
	}
	program, err := expr.Compile(gateExpr, expr.Env(env), expr.AsBool())
	if err != nil {
		return false
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	ok, _ := result.(bool)
	return ok
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
