// Package report ingests and validates the run report an agent process
// writes on disk: the bit-exact boundary between the orchestrator and the
// agent.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/meow-stack/meow-orch/internal/orcherr"
)

// Report is the structured form of a parsed run-report document.
type Report struct {
	Schema             string         `json:"schema"`
	RunID              string         `json:"run_id"`
	StepID             string         `json:"step_id"`
	Agent              string         `json:"agent"`
	Status             string         `json:"status"`
	StartedAt          string         `json:"started_at"`
	EndedAt            string         `json:"ended_at"`
	Artifacts          []string       `json:"artifacts"`
	Metrics            map[string]any `json:"metrics"`
	Logs               []string       `json:"logs"`
	NextSuggestedSteps []string       `json:"next_suggested_steps"`
	GateFailure        bool           `json:"gate_failure"`
}

// StatusCompleted and StatusFailed are the two status values an agent may report.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

var requiredFields = []string{"schema", "run_id", "step_id", "agent", "status", "started_at", "ended_at"}

var placeholderArtifactPhrases = []string{
	"list of created file paths",
	"replace with actual artifact",
	"relative path to each created file",
	"relative path to the artifact you produced",
	"replace with relative path for each artifact",
	"replace with the relative path to each artifact",
}

var placeholderLogPhrases = []string{
	"summary of what you accomplished",
	"replace with actual log entry",
	"concise summary of work performed",
	"concise bullet summarizing work",
	"replace with a concise summary",
	"replace with a short summary of what you accomplished",
}

var placeholderEndedAtPhrases = []string{
	"replace with utc timestamp when you finish",
	"insert completion timestamp",
}

// Reader reads a run report from disk, tolerating partial writes from the
// still-running agent process.
type Reader struct {
	RetryAttempts int
	RetryDelay    time.Duration
	schema        *jsonschema.Schema
}

// NewReader builds a Reader with the given retry policy. If schemaPath is
// non-empty, every parsed report is additionally validated against that
// JSON schema document.
func NewReader(retryAttempts int, retryDelay time.Duration, schemaPath string) (*Reader, error) {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	if retryDelay < 0 {
		retryDelay = 0
	}
	r := &Reader{RetryAttempts: retryAttempts, RetryDelay: retryDelay}

	if schemaPath != "" {
		compiler := jsonschema.NewCompiler()
		schema, err := compiler.Compile(schemaPath)
		if err != nil {
			return nil, orcherr.SchemaUnreadable(schemaPath, err)
		}
		r.schema = schema
	}
	return r, nil
}

// Read parses and validates the run report at path, retrying a failed
// parse up to RetryAttempts times (the write may still be in progress).
func (r *Reader) Read(path string) (*Report, error) {
	var lastErr error
	var payload map[string]any

	for attempt := 1; attempt <= r.RetryAttempts; attempt++ {
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
		} else if err := json.Unmarshal(data, &payload); err != nil {
			lastErr = err
			payload = nil
		} else {
			lastErr = nil
			break
		}

		if attempt < r.RetryAttempts && r.RetryDelay > 0 {
			time.Sleep(r.RetryDelay)
		}
	}

	if payload == nil {
		return nil, orcherr.PartialWrite(path, lastErr)
	}

	if r.schema != nil {
		if err := r.schema.Validate(payload); err != nil {
			return nil, orcherr.InvalidReport(path, err)
		}
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := payload[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, orcherr.InvalidReport(path, fmt.Errorf("missing fields: %s", strings.Join(missing, ", ")))
	}

	report := &Report{
		Schema:      asString(payload["schema"]),
		RunID:       asString(payload["run_id"]),
		StepID:      asString(payload["step_id"]),
		Agent:       asString(payload["agent"]),
		Status:      strings.ToUpper(asString(payload["status"])),
		StartedAt:   asString(payload["started_at"]),
		EndedAt:     asString(payload["ended_at"]),
		Artifacts:   asStringList(payload["artifacts"]),
		Metrics:     asMap(payload["metrics"]),
		Logs:        asStringList(payload["logs"]),
		GateFailure: asBool(payload["gate_failure"]),
	}
	report.NextSuggestedSteps = asStringList(payload["next_suggested_steps"])

	if err := rejectPlaceholders(path, report); err != nil {
		return nil, err
	}

	return report, nil
}

func rejectPlaceholders(path string, r *Report) error {
	if matchesPlaceholder(r.Artifacts, placeholderArtifactPhrases) {
		return orcherr.PlaceholderReport(path, "placeholder artifact entries detected")
	}
	if matchesPlaceholder(r.Logs, placeholderLogPhrases) {
		return orcherr.PlaceholderReport(path, "placeholder log entries detected")
	}
	if len(r.Logs) == 0 {
		return orcherr.PlaceholderReport(path, "at least one log entry is required")
	}
	if r.EndedAt == "" {
		return orcherr.PlaceholderReport(path, "missing ended_at timestamp")
	}
	if matchesPlaceholder([]string{r.EndedAt}, placeholderEndedAtPhrases) {
		return orcherr.PlaceholderReport(path, "placeholder ended_at timestamp detected")
	}
	return nil
}

func matchesPlaceholder(values []string, phrases []string) bool {
	var normalized []string
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	if len(normalized) == 0 {
		return false
	}
	joined := strings.Join(normalized, " ")
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		for _, v := range normalized {
			if v == phrase {
				return true
			}
		}
		if strings.Contains(joined, phrase) {
			return true
		}
	}
	return false
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}

func asMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
