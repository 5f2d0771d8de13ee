// Package runner launches the opaque agent subprocess for a step and wires
// its environment, working directory, and log file the way spec.md's
// external interface requires.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meow-stack/meow-orch/internal/orcherr"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

// ExecutionTemplate renders a subprocess command line from a format string
// containing the placeholders {run_id} {step_id} {agent} {prompt} {repo}
// {report} {attempt} {manual_input}.
type ExecutionTemplate struct {
	template string
}

// NewExecutionTemplate wraps a raw template string.
func NewExecutionTemplate(template string) *ExecutionTemplate {
	return &ExecutionTemplate{template: template}
}

// Build substitutes context into the template and tokenizes the result into
// an argv slice, honoring single- and double-quoted words the way a shell
// would.
func (t *ExecutionTemplate) Build(context map[string]string) ([]string, error) {
	rendered := t.template
	for key, value := range context {
		rendered = strings.ReplaceAll(rendered, "{"+key+"}", value)
	}
	if strings.ContainsAny(rendered, "{}") {
		return nil, fmt.Errorf("execution template has unresolved placeholders: %q", rendered)
	}
	return splitWords(rendered)
}

// splitWords is a small shell-word tokenizer: it understands single quotes,
// double quotes, and backslash escapes, but does not expand variables or
// globs. It stands in for a shlex.split equivalent that the standard
// library does not provide.
func splitWords(s string) ([]string, error) {
	var words []string
	var current strings.Builder
	var inWord bool
	var quote rune

	flush := func() {
		if inWord {
			words = append(words, current.String())
			current.Reset()
			inWord = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			if quote == '"' && r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
				i++
				current.WriteRune(runes[i])
				continue
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command template")
	}
	flush()
	return words, nil
}

// Launch is a handle to a spawned step process. done receives the process's
// final state exactly once, as soon as it exits; callers poll it
// non-blockingly via Finished instead of calling Process.Wait themselves,
// since a process can only be waited on once.
type Launch struct {
	StepID     string
	Attempt    int
	Process    *os.Process
	ReportPath string
	LogPath    string
	logFile    *os.File
	done       chan *os.ProcessState
	state      *os.ProcessState
}

// Finished reports whether the process has exited yet and, if so, its final
// state. Safe to call repeatedly; the result is cached after the first
// observed exit.
func (l *Launch) Finished() (*os.ProcessState, bool) {
	if l.state != nil {
		return l.state, true
	}
	select {
	case st := <-l.done:
		l.state = st
		return st, true
	default:
		return nil, false
	}
}

// CloseLog closes the log file backing this launch, if still open.
func (l *Launch) CloseLog() error {
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// Runner spawns step subprocesses.
type Runner struct {
	Template   *ExecutionTemplate
	RepoDir    string
	LogsDir    string
	Workdir    string
	DefaultEnv map[string]string
}

// New builds a Runner. If workdir is empty, RepoDir is used.
func New(template *ExecutionTemplate, repoDir, logsDir, workdir string, defaultEnv map[string]string) (*Runner, error) {
	if workdir == "" {
		workdir = repoDir
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, err
	}
	return &Runner{Template: template, RepoDir: repoDir, LogsDir: logsDir, Workdir: workdir, DefaultEnv: defaultEnv}, nil
}

// LaunchOptions carries the per-invocation parameters for Launch.
type LaunchOptions struct {
	Step            *workflow.Step
	RunID           string
	ReportPath      string
	PromptPath      string
	ManualInputPath string
	ArtifactsDir    string
	ExtraEnv        map[string]string
	Attempt         int
}

// Launch spawns the subprocess for a step attempt: it resolves the command
// line from the execution template, builds the full environment contract
// (RUN_ID, STEP_ID, AGENT_ID, REPO_DIR, PROMPT_PATH, REPORT_PATH,
// MANUAL_RESULT_PATH, STEP_ATTEMPT, ARTIFACTS_DIR, optional STEP_MODEL and
// ISSUE_MARKDOWN_* derivations), and redirects stdout/stderr to a
// per-attempt log file.
func (r *Runner) Launch(opts LaunchOptions) (*Launch, error) {
	attempt := opts.Attempt
	if attempt < 1 {
		attempt = 1
	}

	context := map[string]string{
		"run_id":       opts.RunID,
		"step_id":      opts.Step.ID,
		"agent":        opts.Step.Agent,
		"prompt":       opts.PromptPath,
		"repo":         r.RepoDir,
		"report":       opts.ReportPath,
		"attempt":      strconv.Itoa(attempt),
		"manual_input": opts.ManualInputPath,
	}
	command, err := r.Template.Build(context)
	if err != nil {
		return nil, orcherr.LaunchFailed(opts.Step.ID, err)
	}
	if len(command) == 0 {
		return nil, orcherr.LaunchFailed(opts.Step.ID, fmt.Errorf("execution template produced an empty command"))
	}

	logPath := filepath.Join(r.LogsDir, fmt.Sprintf("%s__%s__attempt%d.log", opts.RunID, opts.Step.ID, attempt))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, orcherr.LaunchFailed(opts.Step.ID, err)
	}

	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = filepath.Join(r.RepoDir, ".agents", "artifacts")
	}

	env := os.Environ()
	for k, v := range r.DefaultEnv {
		env = append(env, k+"="+v)
	}
	stepEnv := map[string]string{
		"RUN_ID":              opts.RunID,
		"STEP_ID":             opts.Step.ID,
		"AGENT_ID":            opts.Step.Agent,
		"REPO_DIR":            r.RepoDir,
		"PROMPT_PATH":         opts.PromptPath,
		"REPORT_PATH":         opts.ReportPath,
		"MANUAL_RESULT_PATH":  opts.ManualInputPath,
		"STEP_ATTEMPT":        strconv.Itoa(attempt),
		"ARTIFACTS_DIR":       artifactsDir,
	}
	if opts.Step.Model != "" {
		stepEnv["STEP_MODEL"] = opts.Step.Model
	}
	for k, v := range stepEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range opts.ExtraEnv {
		env = append(env, k+"="+v)
	}

	env = applyIssueMarkdownDefaults(env)

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = r.Workdir
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, orcherr.LaunchFailed(opts.Step.ID, err)
	}

	done := make(chan *os.ProcessState, 1)
	go func() {
		_ = cmd.Wait()
		done <- cmd.ProcessState
	}()

	return &Launch{
		StepID:     opts.Step.ID,
		Attempt:    attempt,
		Process:    cmd.Process,
		ReportPath: opts.ReportPath,
		LogPath:    logPath,
		logFile:    logFile,
		done:       done,
	}, nil
}

// applyIssueMarkdownDefaults derives ISSUE_MARKDOWN_FILENAME/DIR/PATH from
// ISSUE_NUMBER and ARTIFACTS_DIR when both are present, using setdefault
// semantics so an explicitly supplied value always wins.
func applyIssueMarkdownDefaults(env []string) []string {
	lookup := envLookup(env)
	issueNumber, hasIssue := lookup["ISSUE_NUMBER"]
	artifactsDir, hasArtifacts := lookup["ARTIFACTS_DIR"]
	if !hasIssue || issueNumber == "" || !hasArtifacts || artifactsDir == "" {
		return env
	}

	filename := fmt.Sprintf("gh_issue_%s.md", issueNumber)
	dir := artifactsDir
	path := filepath.Join(dir, filename)

	if _, ok := lookup["ISSUE_MARKDOWN_FILENAME"]; !ok {
		env = append(env, "ISSUE_MARKDOWN_FILENAME="+filename)
	}
	if _, ok := lookup["ISSUE_MARKDOWN_DIR"]; !ok {
		env = append(env, "ISSUE_MARKDOWN_DIR="+dir)
	}
	if _, ok := lookup["ISSUE_MARKDOWN_PATH"]; !ok {
		env = append(env, "ISSUE_MARKDOWN_PATH="+path)
	}
	return env
}

func envLookup(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			out[kv[:idx]] = kv[idx+1:]
		}
	}
	return out
}

// ResolvePromptPath resolves a step's prompt reference following the
// 4-step order: absolute path, <repo>/.agents/prompts/<basename>, relative
// to the workflow document's directory, relative to the repo.
func ResolvePromptPath(stepID, prompt, repoDir, workflowDocDir string) (string, error) {
	candidates := make([]string, 0, 4)
	if filepath.IsAbs(prompt) {
		candidates = append(candidates, prompt)
	}
	candidates = append(candidates,
		filepath.Join(repoDir, ".agents", "prompts", filepath.Base(prompt)),
		filepath.Join(workflowDocDir, prompt),
		filepath.Join(repoDir, prompt),
	)
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", orcherr.MissingPrompt(stepID, prompt)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// AttemptLogName reproduces the exact filename shape used by Launch, for
// callers that need to predict a log path before launching (e.g. log
// tailing in tests).
func AttemptLogName(runID, stepID string, attempt int) string {
	return fmt.Sprintf("%s__%s__attempt%d.log", runID, stepID, attempt)
}
