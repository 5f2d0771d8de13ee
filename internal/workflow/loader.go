package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadError reports the first structural offence found while validating a
// workflow document.
type LoadError struct {
	Path   string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("workflow %s invalid: %s", e.Path, e.Reason)
}

type rawLoopConfig struct {
	Items             []string `yaml:"items"`
	ItemsFromStep     string   `yaml:"items_from_step"`
	ItemsFromArtifact string   `yaml:"items_from_artifact"`
	MaxIterations     int      `yaml:"max_iterations"`
	UntilCondition    string   `yaml:"until_condition"`
	ItemVar           string   `yaml:"item_var"`
	IndexVar          string   `yaml:"index_var"`
}

type rawStep struct {
	ID             string            `yaml:"id"`
	Agent          string            `yaml:"agent"`
	Prompt         string            `yaml:"prompt"`
	Needs          []string          `yaml:"needs"`
	NextOnSuccess  []string          `yaml:"next_on_success"`
	Gates          []string          `yaml:"gates"`
	LoopBackTo     string            `yaml:"loop_back_to"`
	HumanInTheLoop bool              `yaml:"human_in_the_loop"`
	Model          string            `yaml:"model"`
	Metadata       map[string]string `yaml:"metadata"`
	Loop           *rawLoopConfig    `yaml:"loop"`
}

type rawDocument struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Steps       []rawStep `yaml:"steps"`
}

const (
	defaultItemVar  = "item"
	defaultIndexVar = "index"
)

// Load reads and structurally validates a workflow document at path.
// Validation is purely structural: it never inspects prompt contents.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Path: path, Reason: "file not found"}
		}
		return nil, &LoadError{Path: path, Reason: err.Error()}
	}
	return Parse(data, path)
}

// Parse structurally validates a workflow document already read into memory.
// path is used only for error messages.
func Parse(data []byte, path string) (*Workflow, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(doc.Steps) == 0 {
		return nil, &LoadError{Path: path, Reason: "must declare a non-empty 'steps' list"}
	}

	steps := make(map[string]*Step, len(doc.Steps))
	order := make([]string, 0, len(doc.Steps))

	for idx, rs := range doc.Steps {
		if rs.ID == "" {
			return nil, &LoadError{Path: path, Reason: fmt.Sprintf("step #%d is missing 'id'", idx+1)}
		}
		if _, exists := steps[rs.ID]; exists {
			return nil, &LoadError{Path: path, Reason: fmt.Sprintf("duplicate step id %q", rs.ID)}
		}
		if rs.Agent == "" || rs.Prompt == "" {
			return nil, &LoadError{Path: path, Reason: fmt.Sprintf("step %q must declare both 'agent' and 'prompt'", rs.ID)}
		}

		step := &Step{
			ID:             rs.ID,
			Agent:          rs.Agent,
			Prompt:         rs.Prompt,
			Needs:          rs.Needs,
			NextOnSuccess:  rs.NextOnSuccess,
			Gates:          rs.Gates,
			LoopBackTo:     rs.LoopBackTo,
			HumanInTheLoop: rs.HumanInTheLoop,
			Model:          rs.Model,
			Metadata:       rs.Metadata,
		}

		if rs.Loop != nil {
			loop, loopErr := validateLoopConfig(rs.ID, rs.Loop)
			if loopErr != nil {
				return nil, &LoadError{Path: path, Reason: loopErr.Error()}
			}
			step.Loop = loop
		}

		steps[rs.ID] = step
		order = append(order, rs.ID)
	}

	if err := validateReferences(steps); err != nil {
		return nil, &LoadError{Path: path, Reason: err.Error()}
	}

	name := doc.Name
	if name == "" {
		name = "unnamed"
	}

	return &Workflow{
		Name:        name,
		Description: doc.Description,
		Steps:       steps,
		Order:       order,
	}, nil
}

func validateLoopConfig(stepID string, raw *rawLoopConfig) (*LoopConfig, error) {
	sources := 0
	if len(raw.Items) > 0 {
		sources++
	}
	if raw.ItemsFromStep != "" {
		sources++
	}
	if raw.ItemsFromArtifact != "" {
		sources++
	}
	if sources != 1 {
		return nil, fmt.Errorf("step %q: loop must declare exactly one of items, items_from_step, items_from_artifact (found %d)", stepID, sources)
	}

	itemVar := raw.ItemVar
	if itemVar == "" {
		itemVar = defaultItemVar
	}
	indexVar := raw.IndexVar
	if indexVar == "" {
		indexVar = defaultIndexVar
	}

	return &LoopConfig{
		Items:             raw.Items,
		ItemsFromStep:     raw.ItemsFromStep,
		ItemsFromArtifact: raw.ItemsFromArtifact,
		MaxIterations:     raw.MaxIterations,
		UntilCondition:    raw.UntilCondition,
		ItemVar:           itemVar,
		IndexVar:          indexVar,
	}, nil
}

func validateReferences(steps map[string]*Step) error {
	for _, step := range steps {
		for _, dep := range step.Needs {
			if _, ok := steps[dep]; !ok {
				return fmt.Errorf("step %q has unknown dependency %q", step.ID, dep)
			}
		}
		for _, nxt := range step.NextOnSuccess {
			if _, ok := steps[nxt]; !ok {
				return fmt.Errorf("step %q references unknown next step %q", step.ID, nxt)
			}
		}
		if step.LoopBackTo != "" {
			if _, ok := steps[step.LoopBackTo]; !ok {
				return fmt.Errorf("step %q has unknown loop_back_to %q", step.ID, step.LoopBackTo)
			}
		}
		if step.Loop != nil && step.Loop.ItemsFromStep != "" {
			if _, ok := steps[step.Loop.ItemsFromStep]; !ok {
				return fmt.Errorf("step %q: loop.items_from_step references unknown step %q", step.ID, step.Loop.ItemsFromStep)
			}
			found := false
			for _, dep := range step.Needs {
				if dep == step.Loop.ItemsFromStep {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("step %q: loop.items_from_step %q must also appear in needs", step.ID, step.Loop.ItemsFromStep)
			}
		}
	}
	return nil
}
