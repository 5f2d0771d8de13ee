package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meow-stack/meow-orch/internal/config"
	"github.com/meow-stack/meow-orch/internal/gate"
	"github.com/meow-stack/meow-orch/internal/logging"
	"github.com/meow-stack/meow-orch/internal/notify"
	"github.com/meow-stack/meow-orch/internal/orchestrator"
	"github.com/meow-stack/meow-orch/internal/report"
	"github.com/meow-stack/meow-orch/internal/runner"
	"github.com/meow-stack/meow-orch/internal/runstate"
	"github.com/meow-stack/meow-orch/internal/workflow"
	"github.com/meow-stack/meow-orch/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow to completion",
	Long: `Load a workflow document, launch its steps as they become ready, and
block until every step reaches a terminal state or the process receives
SIGINT/SIGTERM.

Exactly one of --wrapper or --command-template selects how a step's agent
is invoked; everything else about the invocation (run id, step id, prompt
path, report path, artifacts dir, ...) is passed via environment variables.`,
	RunE: runRun,
}

var (
	flagRepo            string
	flagWorkflow        string
	flagWrapper         string
	flagWrapperArgs     []string
	flagCommandTemplate string
	flagSchema          string
	flagPollInterval    float64
	flagMaxAttempts     int
	flagMaxIterations   int
	flagGateStateFile   string
	flagStateFile       string
	flagPauseForHuman   bool
	flagLogsDir         string
	flagWorkdir         string
	flagEnv             []string
	flagStartAtStep     string
	flagGitWorktree     bool
	flagWorktreeRef     string
	flagWorktreeBranch  string
	flagWorktreeRoot    string
	flagWorktreeKeep    bool
	flagEmailConfig     string
)

func init() {
	runCmd.Flags().StringVar(&flagRepo, "repo", "", "target repository directory (required)")
	runCmd.Flags().StringVar(&flagWorkflow, "workflow", "", "path to the workflow document (required)")
	runCmd.Flags().StringVar(&flagWrapper, "wrapper", "", "path to an agent wrapper executable")
	runCmd.Flags().StringArrayVar(&flagWrapperArgs, "wrapper-arg", nil, "extra argv entry for --wrapper (repeatable)")
	runCmd.Flags().StringVar(&flagCommandTemplate, "command-template", "", "raw command line template with {run_id}/{step_id}/{agent}/{prompt}/{repo}/{report}/{attempt}/{manual_input} placeholders")
	runCmd.Flags().StringVar(&flagSchema, "schema", "", "JSON Schema file to validate run reports against")
	runCmd.Flags().Float64Var(&flagPollInterval, "poll-interval", 1.0, "scheduler tick interval, in seconds")
	runCmd.Flags().IntVar(&flagMaxAttempts, "max-attempts", 2, "max attempts per step before terminal failure")
	runCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 4, "max loop-back iterations per step")
	runCmd.Flags().StringVar(&flagGateStateFile, "gate-state-file", "", "JSON file mapping gate name to boolean")
	runCmd.Flags().StringVar(&flagStateFile, "state-file", "", "path to the run_state.json document; required with --start-at-step, optional override otherwise")
	runCmd.Flags().BoolVar(&flagPauseForHuman, "pause-for-human-input", false, "pause human_in_the_loop steps for a manual input file")
	runCmd.Flags().StringVar(&flagLogsDir, "logs-dir", "", "override the per-attempt log directory")
	runCmd.Flags().StringVar(&flagWorkdir, "workdir", "", "subprocess working directory (default: --repo, or the worktree when --git-worktree is set)")
	runCmd.Flags().StringArrayVar(&flagEnv, "env", nil, "extra environment variable, KEY=VALUE (repeatable)")
	runCmd.Flags().StringVar(&flagStartAtStep, "start-at-step", "", "resume an existing run from this step id")
	runCmd.Flags().BoolVar(&flagGitWorktree, "git-worktree", false, "isolate the run in its own git worktree and branch")
	runCmd.Flags().StringVar(&flagWorktreeRef, "git-worktree-ref", "", "base ref for the new worktree branch (default HEAD)")
	runCmd.Flags().StringVar(&flagWorktreeBranch, "git-worktree-branch", "", "override the generated worktree branch name")
	runCmd.Flags().StringVar(&flagWorktreeRoot, "git-worktree-root", "", "directory under which worktrees are created")
	runCmd.Flags().BoolVar(&flagWorktreeKeep, "git-worktree-keep", false, "keep the worktree and its branch after the run finishes")
	runCmd.Flags().StringVar(&flagEmailConfig, "email-config", "", "email notification config file (default <repo>/config/email_notifications.yaml if present)")
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := validateRunFlags(); err != nil {
		return err
	}

	repoDir, err := filepath.Abs(flagRepo)
	if err != nil {
		return fmt.Errorf("resolving --repo: %w", err)
	}

	wf, err := workflow.Load(flagWorkflow)
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}

	cfg, err := config.LoadFromDir(repoDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser, err := logging.NewFromConfig(cfg, repoDir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	extraEnv, err := parseEnvFlags(flagEnv)
	if err != nil {
		return err
	}

	effectiveRepoDir := repoDir
	var worktreeHandle *worktree.Handle
	var worktreeMgr *worktree.Manager
	if flagGitWorktree {
		worktreeMgr, err = worktree.NewManager(repoDir)
		if err != nil {
			return fmt.Errorf("resolving git repository for --git-worktree: %w", err)
		}
		if flagWorktreeBranch != "" {
			if err := worktree.ValidateBranchName(flagWorktreeBranch); err != nil {
				return fmt.Errorf("invalid --git-worktree-branch: %w", err)
			}
		}
		worktreeHandle, err = worktreeMgr.Create(worktree.CreateOptions{
			Root:   flagWorktreeRoot,
			Ref:    flagWorktreeRef,
			Branch: flagWorktreeBranch,
			RunID:  runstate.NewRunID(),
		})
		if err != nil {
			return fmt.Errorf("creating git worktree: %w", err)
		}
		effectiveRepoDir = worktreeHandle.Path
		logger.Info("created git worktree", "path", worktreeHandle.Path, "branch", worktreeHandle.Branch)
	}

	workdir := flagWorkdir
	if workdir == "" {
		workdir = effectiveRepoDir
	}

	var store *runstate.Store
	var runID, runsDir, logsDir string

	if flagStartAtStep != "" {
		if flagStateFile == "" {
			return fmt.Errorf("--start-at-step requires --state-file pointing at the run to resume")
		}
		stateFile, err := filepath.Abs(flagStateFile)
		if err != nil {
			return fmt.Errorf("resolving --state-file: %w", err)
		}
		store, err = runstate.NewStore(stateFile, cfg.State.Format)
		if err != nil {
			return fmt.Errorf("opening run-state store: %w", err)
		}
		runDir := filepath.Dir(stateFile)
		runsDir = filepath.Dir(runDir)
		runID = filepath.Base(runDir)
	} else {
		runID = runstate.NewRunID()
		runsDir = cfg.RunsDir(effectiveRepoDir)
		statePath := flagStateFile
		store, err = runstate.NewStore(statePath, cfg.State.Format)
		if err != nil {
			return fmt.Errorf("opening run-state store: %w", err)
		}
	}

	logsDir = flagLogsDir
	if logsDir == "" {
		logsDir = filepath.Join(runsDir, runID, "logs")
	}

	template := buildExecutionTemplate()

	rnr, err := runner.New(template, effectiveRepoDir, logsDir, workdir, extraEnv)
	if err != nil {
		return fmt.Errorf("setting up step runner: %w", err)
	}

	reportSchemaPath := flagSchema
	if reportSchemaPath == "" {
		reportSchemaPath = cfg.Report.SchemaPath
	}
	reportReader, err := report.NewReader(cfg.Report.RetryAttempts, cfg.Report.RetryDelay, reportSchemaPath)
	if err != nil {
		return fmt.Errorf("loading report schema: %w", err)
	}

	gateEvaluator := gate.Evaluator(gate.AlwaysOpen{})
	if flagGateStateFile != "" {
		gateEvaluator = gate.NewFileBacked(flagGateStateFile)
	}

	notifier, err := buildNotifier(effectiveRepoDir, logger)
	if err != nil {
		return fmt.Errorf("setting up notifications: %w", err)
	}

	opts := orchestrator.Options{
		Workflow:       wf,
		WorkflowDocDir: filepath.Dir(flagWorkflow),
		RepoDir:        effectiveRepoDir,
		ReportReader:   reportReader,
		Store:          store,
		Runner:         rnr,
		GateEvaluator:  gateEvaluator,
		Notifier:       notifier,
		PollInterval:   time.Duration(flagPollInterval * float64(time.Second)),
		MaxAttempts:    flagMaxAttempts,
		MaxIterations:  flagMaxIterations,
		PauseForHuman:  flagPauseForHuman,
		Logger:         logger,
		RunID:          runID,
		StartAtStep:    flagStartAtStep,
		RunsDir:        runsDir,
		StatePath:      flagStateFile,
	}

	orch, err := orchestrator.New(opts)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := orch.Run(ctx)

	if worktreeHandle != nil {
		if teardownErr := teardownWorktree(worktreeMgr, worktreeHandle, logger); teardownErr != nil {
			if runErr == nil {
				runErr = teardownErr
			} else {
				logger.Error("worktree teardown also failed", "error", teardownErr)
			}
		}
	}

	if runErr != nil {
		return runErr
	}

	state := orch.State()
	if state.HasTerminalFailure(flagMaxAttempts) {
		return fmt.Errorf("run %s ended with a terminal step failure", state.RunID)
	}

	fmt.Printf("run %s completed\n", state.RunID)
	return nil
}

func validateRunFlags() error {
	if flagRepo == "" {
		return fmt.Errorf("--repo is required")
	}
	if flagWorkflow == "" {
		return fmt.Errorf("--workflow is required")
	}
	if (flagWrapper == "") == (flagCommandTemplate == "") {
		return fmt.Errorf("exactly one of --wrapper or --command-template is required")
	}
	return nil
}

// buildExecutionTemplate turns --wrapper/--wrapper-arg or --command-template
// into the raw template string ExecutionTemplate tokenizes at launch time.
// A wrapper carries no placeholders: it reads everything through the
// environment contract runner.Launch sets up.
func buildExecutionTemplate() *runner.ExecutionTemplate {
	if flagCommandTemplate != "" {
		return runner.NewExecutionTemplate(flagCommandTemplate)
	}
	parts := make([]string, 0, len(flagWrapperArgs)+1)
	parts = append(parts, quoteIfNeeded(flagWrapper))
	for _, a := range flagWrapperArgs {
		parts = append(parts, quoteIfNeeded(a))
	}
	return runner.NewExecutionTemplate(strings.Join(parts, " "))
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t'\"") {
		return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
	}
	return s
}

func parseEnvFlags(raw []string) (map[string]string, error) {
	env := make(map[string]string, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --env value %q (expected KEY=VALUE)", kv)
		}
		env[parts[0]] = parts[1]
	}
	return env, nil
}

// applyFlagOverrides layers explicitly-passed CLI flags on top of the
// loaded config, then folds the effective value back into the flag
// variable so the rest of runRun can read flagMaxAttempts etc. uniformly
// regardless of whether it came from a flag, a config file, or a default.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("poll-interval") {
		cfg.Defaults.PollInterval = time.Duration(flagPollInterval * float64(time.Second))
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.Defaults.MaxAttempts = flagMaxAttempts
	}
	if cmd.Flags().Changed("max-iterations") {
		cfg.Defaults.MaxIterations = flagMaxIterations
	}
	flagPollInterval = cfg.Defaults.PollInterval.Seconds()
	flagMaxAttempts = cfg.Defaults.MaxAttempts
	flagMaxIterations = cfg.Defaults.MaxIterations
}

func buildNotifier(repoDir string, logger *slog.Logger) (notify.Service, error) {
	emailCfg, err := notify.LoadEmailConfig(repoDir, flagEmailConfig)
	if err != nil {
		return nil, err
	}
	if !emailCfg.Enabled {
		return notify.NullService{}, nil
	}
	if err := emailCfg.RequireTransport(); err != nil {
		return nil, err
	}
	return notify.NewEmailService(emailCfg, logger), nil
}

func teardownWorktree(mgr *worktree.Manager, handle *worktree.Handle, logger *slog.Logger) error {
	if !flagWorktreeKeep {
		if _, err := worktree.PersistOutputs(handle.Path, mgr.RepoRoot(), handle.RunID); err != nil {
			logger.Error("failed to persist worktree outputs", "error", err)
		}
		if err := mgr.Remove(handle, worktree.RemoveOptions{DeleteBranch: true}); err != nil {
			return fmt.Errorf("removing git worktree: %w", err)
		}
	}
	return nil
}
