// Package orchestrator is the scheduler: a single cooperative loop that
// launches ready steps, collects their run reports, and advances the
// workflow's DAG to completion.
package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/meow-stack/meow-orch/internal/gate"
	"github.com/meow-stack/meow-orch/internal/logging"
	"github.com/meow-stack/meow-orch/internal/notify"
	"github.com/meow-stack/meow-orch/internal/report"
	"github.com/meow-stack/meow-orch/internal/runner"
	"github.com/meow-stack/meow-orch/internal/runstate"
	"github.com/meow-stack/meow-orch/internal/workflow"
)

// Options configures a new Orchestrator.
type Options struct {
	Workflow       *workflow.Workflow
	WorkflowDocDir string
	RepoDir        string
	ReportReader   *report.Reader
	Store          *runstate.Store
	Runner         *runner.Runner
	GateEvaluator  gate.Evaluator
	Notifier       notify.Service
	PollInterval   time.Duration
	MaxAttempts    int
	MaxIterations  int
	PauseForHuman  bool
	Logger         *slog.Logger
	RunID          string
	StartAtStep    string
	// RunsDir overrides where per-run directories are created, default
	// "<repo>/.agents/runs".
	RunsDir string
	// StatePath overrides the run-state document's path; default is
	// runstate.StatePathForRun(runDir, ""), i.e. <runDir>/run_state.json
	// whatever the store's format.
	StatePath string
}

// Orchestrator is the scheduler core. One instance drives one run. Run
// closes the file watcher when it returns, so a later Run call on the same
// instance continues that run on the poll interval alone.
type Orchestrator struct {
	workflow       *workflow.Workflow
	workflowDocDir string
	repoDir        string
	reportReader   *report.Reader
	store          *runstate.Store
	runner         *runner.Runner
	gateEvaluator  gate.Evaluator
	notifier       notify.Service
	pollInterval   time.Duration
	maxAttempts    int
	maxIterations  int
	pauseForHuman  bool
	logger         *slog.Logger

	state *runstate.RunState

	runDir          string
	reportsDir      string
	logsDir         string
	artifactsDir    string
	manualInputsDir string

	active map[string]*runner.Launch

	// watcher wakes the tick loop early on report/gate-file writes instead
	// of waiting out the full poll interval. It is a best-effort
	// accelerant, never a replacement for the ticker backstop: a nil or
	// broken watcher just means every tick waits the full interval.
	watcher *fsnotify.Watcher
}

// New constructs an Orchestrator. If opts.StartAtStep is set, it loads the
// prior run state via opts.Store and resets the named step plus its
// transitive downstream to PENDING (resume). Otherwise it mints a fresh
// run, creating the run's directory tree and retargeting the state store
// into it.
func New(opts Options) (*Orchestrator, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 2
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.GateEvaluator == nil {
		opts.GateEvaluator = gate.NewComposite(gate.AlwaysOpen{})
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NullService{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	o := &Orchestrator{
		workflow:       opts.Workflow,
		workflowDocDir: opts.WorkflowDocDir,
		repoDir:        opts.RepoDir,
		reportReader:   opts.ReportReader,
		store:          opts.Store,
		runner:         opts.Runner,
		gateEvaluator:  opts.GateEvaluator,
		notifier:       opts.Notifier,
		pollInterval:   opts.PollInterval,
		maxAttempts:    opts.MaxAttempts,
		maxIterations:  opts.MaxIterations,
		pauseForHuman:  opts.PauseForHuman,
		logger:         opts.Logger,
		active:         make(map[string]*runner.Launch),
	}

	var existing *runstate.RunState
	if opts.StartAtStep != "" {
		loaded, err := opts.Store.Load()
		if err != nil {
			return nil, err
		}
		existing = loaded
	}

	runID := opts.RunID
	if existing != nil {
		runID = existing.RunID
		o.state = existing
		if err := runstate.ResetFrom(o.state, o.workflow, opts.StartAtStep); err != nil {
			return nil, err
		}
	} else if runID == "" {
		runID = runstate.NewRunID()
	}

	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = filepath.Join(o.repoDir, ".agents", "runs")
	}
	o.runDir = filepath.Join(runsDir, runID)
	o.reportsDir = filepath.Join(o.runDir, "reports")
	o.logsDir = filepath.Join(o.runDir, "logs")
	o.artifactsDir = filepath.Join(o.runDir, "artifacts")
	o.manualInputsDir = filepath.Join(o.runDir, "manual_inputs")

	for _, dir := range []string{o.runDir, o.reportsDir, o.logsDir, o.artifactsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	if o.pauseForHuman {
		if err := os.MkdirAll(o.manualInputsDir, 0755); err != nil {
			return nil, err
		}
	}

	statePath := opts.StatePath
	if statePath == "" {
		statePath = runstate.StatePathForRun(o.runDir, "")
	}
	if err := o.store.SetPath(statePath); err != nil {
		return nil, err
	}

	if existing == nil {
		o.state = runstate.New(runID, o.workflow.Name, o.repoDir, o.reportsDir, o.manualInputsDir, o.workflow.Order)
	}

	o.logger = logging.WithRun(o.logger, runID, o.workflow.Name)
	if existing != nil {
		o.logger.Info("resuming run", "start_at_step", opts.StartAtStep)
	}
	o.watcher = o.newWatcher()

	return o, nil
}

// newWatcher sets up an fsnotify watch on the reports directory, the
// manual-inputs directory (when human-input pauses are enabled), and any
// gate.FileBacked state file reachable from the configured evaluator. A
// watcher that fails to start is logged and discarded; the scheduler still
// makes progress on the ticker alone.
func (o *Orchestrator) newWatcher() *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		o.logger.Warn("fsnotify watcher unavailable, relying on poll interval", "error", err)
		return nil
	}
	watchDirs := []string{o.reportsDir}
	if o.pauseForHuman {
		watchDirs = append(watchDirs, o.manualInputsDir)
	}
	for _, dir := range watchDirs {
		if err := w.Add(dir); err != nil {
			o.logger.Warn("failed to watch directory", "dir", dir, "error", err)
		}
	}
	for _, path := range gateFilePaths(o.gateEvaluator) {
		if err := w.Add(filepath.Dir(path)); err != nil {
			o.logger.Warn("failed to watch gate state file", "path", path, "error", err)
		}
	}
	return w
}

// gateFilePaths recursively collects every gate.FileBacked path reachable
// from an evaluator, descending into gate.Composite.
func gateFilePaths(e gate.Evaluator) []string {
	switch ev := e.(type) {
	case *gate.FileBacked:
		return []string{ev.Path}
	case *gate.Composite:
		var paths []string
		for _, inner := range ev.Evaluators {
			paths = append(paths, gateFilePaths(inner)...)
		}
		return paths
	default:
		return nil
	}
}

// RunID returns the run identifier this orchestrator is operating on.
func (o *Orchestrator) RunID() string {
	return o.state.RunID
}

// State exposes the live run-state document, primarily for tests and CLI
// post-run inspection.
func (o *Orchestrator) State() *runstate.RunState {
	return o.state
}

// Run blocks until the workflow reaches a terminal state (all steps
// successfully terminal, or a step has failed past max_attempts), ctx is
// cancelled, or a SIGINT/SIGTERM is received.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting", "repo", o.repoDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	o.notifier.Start(notify.RunContext{RunID: o.state.RunID, WorkflowName: o.workflow.Name, RepoDir: o.repoDir})
	defer o.notifier.Stop()

	defer func() {
		o.terminateActive()
		_ = o.store.Save(o.state)
		if o.watcher != nil {
			_ = o.watcher.Close()
			o.watcher = nil
		}
	}()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if o.watcher != nil {
		watchEvents = o.watcher.Events
		watchErrors = o.watcher.Errors
	}

	for {
		select {
		case sig := <-sigChan:
			o.logger.Info("received signal, shutting down", "signal", sig)
			return nil
		case <-ctx.Done():
			o.logger.Info("context cancelled, shutting down", "reason", ctx.Err())
			return ctx.Err()
		case err := <-watchErrors:
			o.logger.Warn("fsnotify watcher error", "error", err)
		case <-watchEvents:
			// drain any immediately-pending events so a burst of writes
			// collapses into one early tick rather than one per event.
			draining := true
			for draining {
				select {
				case <-watchEvents:
				default:
					draining = false
				}
			}
			done, err := o.tick()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			ticker.Reset(o.pollInterval)
		case <-ticker.C:
			done, err := o.tick()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// tick runs one launch/collect/check-manual triplet and persists state,
// reporting whether the run has reached a terminal state.
func (o *Orchestrator) tick() (bool, error) {
	launched := o.launchReadySteps()
	collected := o.collectReports()
	checked := o.checkManualSteps()

	if err := o.store.Save(o.state); err != nil {
		return false, err
	}

	if o.state.AllTerminalSuccessful() {
		o.logger.Info("workflow complete")
		return true, nil
	}
	if o.state.HasTerminalFailure(o.maxAttempts) {
		o.logger.Error("workflow failed")
		return true, nil
	}
	_ = launched || collected || checked
	return false, nil
}

// terminateActive kills every still-running child process and closes its
// log handle, run when the loop exits for any reason.
func (o *Orchestrator) terminateActive() {
	for stepID, launch := range o.active {
		if launch.Process != nil {
			_ = launch.Process.Kill()
		}
		_ = launch.CloseLog()
		delete(o.active, stepID)
	}
}

// safeNotify runs fn, recovering from and logging any panic so a broken
// notification sink can never bring down the scheduler.
func (o *Orchestrator) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("notification sink panicked", "panic", r)
		}
	}()
	fn()
}

func utcNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
