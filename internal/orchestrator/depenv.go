package orchestrator

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meow-stack/meow-orch/internal/workflow"
)

// buildDependencyEnv implements spec §4.7.3: for every dependency of step,
// export DEP_<D_UPPER>_ARTIFACT_<i> and DEP_<D_UPPER>_ARTIFACTS for its
// resolved artifact paths, plus an ISSUE_MARKDOWN_* setdefault derivation
// the first time a gh_issue_*.md artifact is seen across all dependencies.
func (o *Orchestrator) buildDependencyEnv(step *workflow.Step) map[string]string {
	env := make(map[string]string)

	for _, dep := range step.Needs {
		depRT := o.state.Steps[dep]
		if depRT == nil || len(depRT.Artifacts) == 0 {
			continue
		}

		upperDep := strings.ToUpper(dep)
		absPaths := make([]string, len(depRT.Artifacts))
		for i, artifact := range depRT.Artifacts {
			abs := o.resolveRepoPath(artifact)
			absPaths[i] = abs
			env["DEP_"+upperDep+"_ARTIFACT_"+strconv.Itoa(i)] = abs
		}
		env["DEP_"+upperDep+"_ARTIFACTS"] = strings.Join(absPaths, ",")

		for _, abs := range absPaths {
			base := filepath.Base(abs)
			if !strings.HasPrefix(base, "gh_issue_") || !strings.HasSuffix(base, ".md") {
				continue
			}
			setdefault(env, "ISSUE_MARKDOWN_PATH", abs)
			setdefault(env, "ISSUE_MARKDOWN_DIR", filepath.Dir(abs))
			setdefault(env, "ISSUE_MARKDOWN_FILENAME", base)
		}
	}

	return env
}

func setdefault(env map[string]string, key, value string) {
	if _, ok := env[key]; !ok {
		env[key] = value
	}
}
