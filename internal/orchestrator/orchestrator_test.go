package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meow-stack/meow-orch/internal/config"
	"github.com/meow-stack/meow-orch/internal/gate"
	"github.com/meow-stack/meow-orch/internal/report"
	"github.com/meow-stack/meow-orch/internal/runner"
	"github.com/meow-stack/meow-orch/internal/runstate"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

func writeWorkflow(t *testing.T, dir, content string) *workflow.Workflow {
	t.Helper()
	path := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing workflow: %v", err)
	}
	wf, err := workflow.Load(path)
	if err != nil {
		t.Fatalf("loading workflow: %v", err)
	}
	return wf
}

// agentScript writes a shell script that, when invoked, writes a run report
// built from body to $REPORT_PATH and exits 0.
func agentScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name+".sh")
	script := "#!/bin/sh\ncat > \"$REPORT_PATH\" <<'EOF'\n" + body + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing agent script: %v", err)
	}
	return path
}

// exitingAgentScript writes a script that exits without writing any report.
func exitingAgentScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("writing agent script: %v", err)
	}
	return path
}

func reportBody(status string, artifacts []string, gateFailure bool) string {
	payload := map[string]any{
		"schema":     "run_report@v0",
		"run_id":     "r",
		"step_id":    "s",
		"agent":      "a",
		"status":     status,
		"started_at": "2026-07-29T00:00:00.000000Z",
		"ended_at":   "2026-07-29T00:00:01.000000Z",
		"artifacts":  artifacts,
		"metrics":    map[string]any{},
		"logs":       []string{"did the thing"},
		"next_suggested_steps": []string{},
		"gate_failure": gateFailure,
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func newTestOrchestrator(t *testing.T, wf *workflow.Workflow, repoDir string, opts Options) *Orchestrator {
	t.Helper()
	opts.Workflow = wf
	opts.WorkflowDocDir = repoDir
	opts.RepoDir = repoDir
	if opts.ReportReader == nil {
		rr, err := report.NewReader(5, 20*time.Millisecond, "")
		if err != nil {
			t.Fatalf("NewReader failed: %v", err)
		}
		opts.ReportReader = rr
	}
	if opts.Store == nil {
		st, err := runstate.NewStore(filepath.Join(repoDir, "run_state.json"), config.StateFormatJSON)
		if err != nil {
			t.Fatalf("NewStore failed: %v", err)
		}
		opts.Store = st
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}

	o, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func buildRunner(t *testing.T, repoDir, template string) *runner.Runner {
	t.Helper()
	r, err := runner.New(runner.NewExecutionTemplate(template), repoDir, filepath.Join(repoDir, "logs"), "", nil)
	if err != nil {
		t.Fatalf("runner.New failed: %v", err)
	}
	return r
}

func runUntilTerminal(t *testing.T, o *Orchestrator, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return o.Run(ctx)
}

func TestOrchestrator_SimpleLinearRun(t *testing.T) {
	repoDir := t.TempDir()

	scriptA := agentScript(t, repoDir, "agent_a", reportBody("COMPLETED", []string{"out/a.txt"}, false))
	scriptB := agentScript(t, repoDir, "agent_b", reportBody("COMPLETED", []string{"out/b.txt"}, false))

	wf := writeWorkflow(t, repoDir, `
name: linear
steps:
  - id: a
    agent: coder
    prompt: p.md
  - id: b
    agent: coder
    prompt: p.md
    needs: [a]
`)

	// Dispatch by step id via a tiny wrapper, since the template is shared.
	wrapper := filepath.Join(repoDir, "wrapper.sh")
	wrapperBody := "#!/bin/sh\ncase \"$STEP_ID\" in\n  a) exec " + scriptA + " ;;\n  b) exec " + scriptB + " ;;\nesac\n"
	if err := os.WriteFile(wrapper, []byte(wrapperBody), 0755); err != nil {
		t.Fatalf("writing wrapper: %v", err)
	}

	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}

	r := buildRunner(t, repoDir, wrapper+" {step_id}")
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 2, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 3*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !o.State().AllTerminalSuccessful() {
		statuses := map[string]runstate.StepStatus{}
		for id, rt := range o.State().Steps {
			statuses[id] = rt.Status
		}
		t.Fatalf("expected all steps terminal-successful, got %v", statuses)
	}
}

func TestOrchestrator_RetryThenSucceed(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}

	attemptFile := filepath.Join(repoDir, "attempts")
	script := filepath.Join(repoDir, "agent.sh")
	body := "#!/bin/sh\n" +
		"echo x >> \"" + attemptFile + "\"\n" +
		"n=$(wc -l < \"" + attemptFile + "\")\n" +
		"if [ \"$n\" -lt 2 ]; then\n" +
		"  status=FAILED\n" +
		"else\n" +
		"  status=COMPLETED\n" +
		"fi\n" +
		"cat > \"$REPORT_PATH\" <<EOF\n" +
		`{"schema":"run_report@v0","run_id":"r","step_id":"s","agent":"a","status":"$status","started_at":"2026-07-29T00:00:00.000000Z","ended_at":"2026-07-29T00:00:01.000000Z","artifacts":[],"metrics":{},"logs":["attempt $n"],"next_suggested_steps":[],"gate_failure":false}` +
		"\nEOF\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	wf := writeWorkflow(t, repoDir, `
name: retry
steps:
  - id: flaky
    agent: coder
    prompt: p.md
`)

	r := buildRunner(t, repoDir, script)
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 3, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 3*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rt := o.State().Steps["flaky"]
	if rt.Status != runstate.StepCompleted {
		t.Fatalf("flaky.Status = %s, want COMPLETED after retry", rt.Status)
	}
	if rt.Attempts < 2 {
		t.Errorf("flaky.Attempts = %d, want at least 2", rt.Attempts)
	}
}

func TestOrchestrator_TerminalFailureAfterMaxAttempts(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}
	script := agentScript(t, repoDir, "agent", reportBody("FAILED", nil, false))

	wf := writeWorkflow(t, repoDir, `
name: always-fails
steps:
  - id: s
    agent: coder
    prompt: p.md
`)

	r := buildRunner(t, repoDir, script)
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 2, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 3*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rt := o.State().Steps["s"]
	if rt.Status != runstate.StepFailed {
		t.Fatalf("s.Status = %s, want FAILED", rt.Status)
	}
	if rt.Attempts != 2 {
		t.Errorf("s.Attempts = %d, want 2 (max_attempts)", rt.Attempts)
	}
}

func TestOrchestrator_MissingReportAfterExit(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}
	script := exitingAgentScript(t, repoDir, "agent")

	wf := writeWorkflow(t, repoDir, `
name: vanishes
steps:
  - id: s
    agent: coder
    prompt: p.md
`)

	r := buildRunner(t, repoDir, script)
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 1, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 3*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rt := o.State().Steps["s"]
	if rt.Status != runstate.StepFailed {
		t.Fatalf("s.Status = %s, want FAILED", rt.Status)
	}
	if rt.LastError == "" {
		t.Error("expected last_error to be set for missing report")
	}
}

func TestOrchestrator_ManualInputGate(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}
	script := agentScript(t, repoDir, "agent", reportBody("COMPLETED", nil, false))

	wf := writeWorkflow(t, repoDir, `
name: needs-human
steps:
  - id: s
    agent: coder
    prompt: p.md
    human_in_the_loop: true
`)

	r := buildRunner(t, repoDir, script)
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 1, MaxIterations: 4, PauseForHuman: true})

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = o.Run(ctx)

	rt := o.State().Steps["s"]
	if rt.Status != runstate.StepWaitingOnHuman {
		t.Fatalf("s.Status = %s, want WAITING_ON_HUMAN", rt.Status)
	}

	if err := os.WriteFile(rt.ManualInputPath, []byte(`{"ok":true}`), 0644); err != nil {
		t.Fatalf("writing manual input: %v", err)
	}

	if progress := o.checkManualSteps(); !progress {
		t.Fatal("expected checkManualSteps to report progress")
	}
	if rt.Status != runstate.StepCompleted {
		t.Errorf("s.Status = %s, want COMPLETED after manual input provided", rt.Status)
	}
}

func TestOrchestrator_LoopOverLiteralItems(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}

	logPath := filepath.Join(repoDir, "iterations.log")
	script := filepath.Join(repoDir, "agent.sh")
	body := "#!/bin/sh\necho \"$LOOP_INDEX:$LOOP_ITEM\" >> \"" + logPath + "\"\n" +
		"cat > \"$REPORT_PATH\" <<EOF\n" +
		`{"schema":"run_report@v0","run_id":"r","step_id":"s","agent":"a","status":"COMPLETED","started_at":"2026-07-29T00:00:00.000000Z","ended_at":"2026-07-29T00:00:01.000000Z","artifacts":[],"metrics":{},"logs":["iter"],"next_suggested_steps":[],"gate_failure":false}` +
		"\nEOF\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	wf := writeWorkflow(t, repoDir, `
name: looping
steps:
  - id: s
    agent: coder
    prompt: p.md
    loop:
      items: ["one", "two", "three"]
`)

	r := buildRunner(t, repoDir, script)
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 2, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 3*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rt := o.State().Steps["s"]
	if rt.Status != runstate.StepCompleted || !rt.LoopCompleted {
		t.Fatalf("s runtime = %+v, want COMPLETED + loop_completed", rt)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading iterations log: %v", err)
	}
	lines := splitNonEmptyLines(string(data))
	if len(lines) != 3 {
		t.Fatalf("expected 3 iterations, got %v", lines)
	}
}

func splitNonEmptyLines(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func TestOrchestrator_LoopBackOnGateFailure(t *testing.T) {
	repoDir := t.TempDir()
	for _, name := range []string{"p1.md", "p2.md"} {
		if err := os.WriteFile(filepath.Join(repoDir, name), []byte("do it"), 0644); err != nil {
			t.Fatalf("writing prompt: %v", err)
		}
	}

	attemptFile := filepath.Join(repoDir, "gate_attempts")
	fixScript := agentScript(t, repoDir, "fix", reportBody("COMPLETED", nil, false))
	gateScript := filepath.Join(repoDir, "gate.sh")
	gateBody := "#!/bin/sh\n" +
		"echo x >> \"" + attemptFile + "\"\n" +
		"n=$(wc -l < \"" + attemptFile + "\")\n" +
		"if [ \"$n\" -lt 2 ]; then\n" +
		"  gf=true\n" +
		"else\n" +
		"  gf=false\n" +
		"fi\n" +
		"cat > \"$REPORT_PATH\" <<EOF\n" +
		`{"schema":"run_report@v0","run_id":"r","step_id":"gate","agent":"a","status":"COMPLETED","started_at":"2026-07-29T00:00:00.000000Z","ended_at":"2026-07-29T00:00:01.000000Z","artifacts":[],"metrics":{},"logs":["check"],"next_suggested_steps":[],"gate_failure":$gf}` +
		"\nEOF\n"
	if err := os.WriteFile(gateScript, []byte(gateBody), 0755); err != nil {
		t.Fatalf("writing gate script: %v", err)
	}

	wf := writeWorkflow(t, repoDir, `
name: loopback
steps:
  - id: fix
    agent: coder
    prompt: p1.md
  - id: gate
    agent: coder
    prompt: p2.md
    needs: [fix]
    loop_back_to: fix
`)

	wrapper := filepath.Join(repoDir, "wrapper.sh")
	wrapperBody := "#!/bin/sh\ncase \"$STEP_ID\" in\n  fix) exec " + fixScript + " ;;\n  gate) exec " + gateScript + " ;;\nesac\n"
	if err := os.WriteFile(wrapper, []byte(wrapperBody), 0755); err != nil {
		t.Fatalf("writing wrapper: %v", err)
	}

	r := buildRunner(t, repoDir, wrapper+" {step_id}")
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 2, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 5*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	gateRT := o.State().Steps["gate"]
	if gateRT.Status != runstate.StepCompleted {
		t.Fatalf("gate.Status = %s, want COMPLETED after loop-back resolved", gateRT.Status)
	}
	if gateRT.Iteration < 1 {
		t.Errorf("gate.Iteration = %d, want at least 1 loop-back round counted on the source step", gateRT.Iteration)
	}
}

func TestOrchestrator_LoopBackResetsAttemptsEachIteration(t *testing.T) {
	repoDir := t.TempDir()
	for _, name := range []string{"p1.md", "p2.md"} {
		if err := os.WriteFile(filepath.Join(repoDir, name), []byte("do it"), 0644); err != nil {
			t.Fatalf("writing prompt: %v", err)
		}
	}

	attemptsLog := filepath.Join(repoDir, "fix_attempts.log")
	fixScript := filepath.Join(repoDir, "fix.sh")
	fixBody := "#!/bin/sh\n" +
		"echo \"$STEP_ATTEMPT\" >> \"" + attemptsLog + "\"\n" +
		"cat > \"$REPORT_PATH\" <<EOF\n" + reportBody("COMPLETED", nil, false) + "\nEOF\n"
	if err := os.WriteFile(fixScript, []byte(fixBody), 0755); err != nil {
		t.Fatalf("writing fix script: %v", err)
	}

	gateAttemptFile := filepath.Join(repoDir, "gate_attempts")
	gateScript := filepath.Join(repoDir, "gate.sh")
	gateBody := "#!/bin/sh\n" +
		"echo x >> \"" + gateAttemptFile + "\"\n" +
		"n=$(wc -l < \"" + gateAttemptFile + "\")\n" +
		"if [ \"$n\" -lt 3 ]; then\n" +
		"  gf=true\n" +
		"else\n" +
		"  gf=false\n" +
		"fi\n" +
		"cat > \"$REPORT_PATH\" <<EOF\n" +
		`{"schema":"run_report@v0","run_id":"r","step_id":"gate","agent":"a","status":"COMPLETED","started_at":"2026-07-29T00:00:00.000000Z","ended_at":"2026-07-29T00:00:01.000000Z","artifacts":[],"metrics":{},"logs":["check"],"next_suggested_steps":[],"gate_failure":$gf}` +
		"\nEOF\n"
	if err := os.WriteFile(gateScript, []byte(gateBody), 0755); err != nil {
		t.Fatalf("writing gate script: %v", err)
	}

	wf := writeWorkflow(t, repoDir, `
name: loopback-attempts
steps:
  - id: fix
    agent: coder
    prompt: p1.md
  - id: gate
    agent: coder
    prompt: p2.md
    needs: [fix]
    loop_back_to: fix
`)

	wrapper := filepath.Join(repoDir, "wrapper.sh")
	wrapperBody := "#!/bin/sh\ncase \"$STEP_ID\" in\n  fix) exec " + fixScript + " ;;\n  gate) exec " + gateScript + " ;;\nesac\n"
	if err := os.WriteFile(wrapper, []byte(wrapperBody), 0755); err != nil {
		t.Fatalf("writing wrapper: %v", err)
	}

	r := buildRunner(t, repoDir, wrapper+" {step_id}")
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 1, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 5*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	gateRT := o.State().Steps["gate"]
	if gateRT.Status != runstate.StepCompleted {
		t.Fatalf("gate.Status = %s, want COMPLETED after loop-back resolved", gateRT.Status)
	}
	if gateRT.Iteration < 2 {
		t.Fatalf("gate.Iteration = %d, want at least 2 loop-back rounds counted on the source step", gateRT.Iteration)
	}

	data, err := os.ReadFile(attemptsLog)
	if err != nil {
		t.Fatalf("reading attempts log: %v", err)
	}
	for _, line := range splitNonEmptyLines(string(data)) {
		if line != "1" {
			t.Errorf("fix STEP_ATTEMPT = %q on some iteration, want \"1\" every time (max_attempts=1, attempts must reset per loop-back)", line)
		}
	}
}

func TestOrchestrator_GateBlocksUntilOpen(t *testing.T) {
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "p.md"), []byte("do it"), 0644); err != nil {
		t.Fatalf("writing prompt: %v", err)
	}
	script := agentScript(t, repoDir, "agent", reportBody("COMPLETED", nil, false))

	wf := writeWorkflow(t, repoDir, `
name: gated
steps:
  - id: s
    agent: coder
    prompt: p.md
    gates: [release]
`)

	gateStatePath := filepath.Join(repoDir, "gates.json")
	if err := os.WriteFile(gateStatePath, []byte(`{"release": false}`), 0644); err != nil {
		t.Fatalf("writing gate state: %v", err)
	}

	r := buildRunner(t, repoDir, script)
	o := newTestOrchestrator(t, wf, repoDir, Options{
		Runner:        r,
		MaxAttempts:   1,
		MaxIterations: 4,
		GateEvaluator: gate.NewFileBacked(gateStatePath),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	if o.State().Steps["s"].Status != runstate.StepPending {
		t.Fatalf("s.Status = %s, want PENDING while gate closed", o.State().Steps["s"].Status)
	}

	if err := os.WriteFile(gateStatePath, []byte(`{"release": true}`), 0644); err != nil {
		t.Fatalf("opening gate: %v", err)
	}

	if err := runUntilTerminal(t, o, 2*time.Second); err != nil {
		t.Fatalf("Run failed after gate opened: %v", err)
	}
	if o.State().Steps["s"].Status != runstate.StepCompleted {
		t.Errorf("s.Status = %s, want COMPLETED once gate opened", o.State().Steps["s"].Status)
	}
}

func TestOrchestrator_DependencyArtifactEnv(t *testing.T) {
	repoDir := t.TempDir()
	for _, name := range []string{"p1.md", "p2.md"} {
		if err := os.WriteFile(filepath.Join(repoDir, name), []byte("do it"), 0644); err != nil {
			t.Fatalf("writing prompt: %v", err)
		}
	}

	seenEnvFile := filepath.Join(repoDir, "seen_env")
	scriptA := agentScript(t, repoDir, "agent_a", reportBody("COMPLETED", []string{"out/a.txt"}, false))
	scriptB := filepath.Join(repoDir, "agent_b.sh")
	bodyB := "#!/bin/sh\nprintenv DEP_A_ARTIFACT_0 > \"" + seenEnvFile + "\"\n" +
		"cat > \"$REPORT_PATH\" <<EOF\n" +
		`{"schema":"run_report@v0","run_id":"r","step_id":"b","agent":"a","status":"COMPLETED","started_at":"2026-07-29T00:00:00.000000Z","ended_at":"2026-07-29T00:00:01.000000Z","artifacts":[],"metrics":{},"logs":["ok"],"next_suggested_steps":[],"gate_failure":false}` +
		"\nEOF\n"
	if err := os.WriteFile(scriptB, []byte(bodyB), 0755); err != nil {
		t.Fatalf("writing agent_b: %v", err)
	}

	wf := writeWorkflow(t, repoDir, `
name: depenv
steps:
  - id: a
    agent: coder
    prompt: p1.md
  - id: b
    agent: coder
    prompt: p2.md
    needs: [a]
`)

	wrapper := filepath.Join(repoDir, "wrapper.sh")
	wrapperBody := "#!/bin/sh\ncase \"$STEP_ID\" in\n  a) exec " + scriptA + " ;;\n  b) exec " + scriptB + " ;;\nesac\n"
	if err := os.WriteFile(wrapper, []byte(wrapperBody), 0755); err != nil {
		t.Fatalf("writing wrapper: %v", err)
	}

	r := buildRunner(t, repoDir, wrapper+" {step_id}")
	o := newTestOrchestrator(t, wf, repoDir, Options{Runner: r, MaxAttempts: 1, MaxIterations: 4})

	if err := runUntilTerminal(t, o, 3*time.Second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(seenEnvFile)
	if err != nil {
		t.Fatalf("reading seen env file: %v", err)
	}
	want := filepath.Join(repoDir, "out/a.txt")
	got := string(data)
	if len(got) == 0 || got[:len(got)-1] != want {
		t.Errorf("DEP_A_ARTIFACT_0 = %q, want %q", got, want)
	}
}
