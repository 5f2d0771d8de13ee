package report

import "fmt"

// StartMarker and EndMarker bracket the JSON run-report payload an agent
// embeds in its own stdout/transcript; the step runner does not parse
// stdout for these markers today, but prompts built with BuildGuidanceBlock
// reference them so future tooling has a stable anchor.
const (
	StartMarker = "<<<RUN_REPORT_JSON"
	EndMarker   = "RUN_REPORT_JSON>>>"
)

// BuildGuidanceBlock renders prompt instructions telling the agent exactly
// what shape of run report to write and where. The step runner does not
// call it; prompt files are passed to the agent unchanged.
func BuildGuidanceBlock(runID, stepID, agent, startedAt string) string {
	return fmt.Sprintf(`IMPORTANT: When you complete your task, emit a run report with real artifact details and log lines. Replace any placeholders with concrete values. Use the following format:

%s
{
  "schema": "run_report@v0",
  "run_id": "%s",
  "step_id": "%s",
  "agent": "%s",
  "status": "COMPLETED",
  "started_at": "%s",
  "ended_at": "<REPLACE WITH UTC TIMESTAMP WHEN YOU FINISH>",
  "artifacts": [
    "<REPLACE WITH RELATIVE PATH FOR EACH ARTIFACT, e.g., backlog/architecture_alignment.md>"
  ],
  "metrics": {},
  "logs": [
    "<REPLACE WITH A SHORT SUMMARY OF WHAT YOU ACCOMPLISHED, e.g., Documented architecture misalignments in backlog/architecture_alignment.md>"
  ],
  "next_suggested_steps": []
}
%s

Guidelines:
- Provide relative repository paths for every artifact you created or updated. If
  there are no artifacts, leave the array empty and note that in the logs.
- Add at least one concise log entry summarising the substantive actions you
  took. Never leave placeholder text such as "summary of what you accomplished".
- Replace the placeholder ended_at value with the actual completion timestamp in
  UTC (format: YYYY-MM-DDTHH:MM:SS.mmmmmmZ).
- Replace the example artifact and log entries with the real data from this run.
`, StartMarker, runID, stepID, agent, startedAt, EndMarker)
}
