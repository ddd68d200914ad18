package verdict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/role"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/testrun"
)

// stageGoMod makes the staged directory a self-contained Go module, so
// `go test ./...` resolves without touching the surrounding workspace.
const stageGoMod = "module stagedsuite\n\ngo 1.24\n"

// ReviewerWorker runs the gate pipeline in process but honors the same
// invocation contract as the subprocess workers: it reads only what
// its view names and finishes by writing a completion signal.
//
// Tests and implementation live in separate artifact directories; the
// worker copies both into the view's stage directory and runs the
// suite there. Mutants are applied to the staged copies, never to the
// artifacts themselves.
type ReviewerWorker struct {
	evaluator *Evaluator
	// TestCommand overrides the language default when set.
	TestCommand string
	MaxMutants  int

	// Last is the full outcome of the most recent invocation. The
	// coordinator reads it after validating the signal.
	Last *Outcome

	// newRunner is swapped in tests to avoid real subprocesses.
	newRunner func(language, dir, command string) (testrun.Runner, error)
}

// NewReviewerWorker builds the reviewer. A nil strategy selects the
// manual mutation rules.
func NewReviewerWorker(strategy Strategy, testCommand string, maxMutants int) *ReviewerWorker {
	return &ReviewerWorker{
		evaluator:   NewEvaluator(strategy),
		TestCommand: testCommand,
		MaxMutants:  maxMutants,
		newRunner: func(language, dir, command string) (testrun.Runner, error) {
			return testrun.NewRunner(language, dir, command)
		},
	}
}

// Outcome returns the most recent invocation's full report.
func (w *ReviewerWorker) Outcome() *Outcome {
	return w.Last
}

func (w *ReviewerWorker) Invoke(ctx context.Context, view role.View) error {
	v, ok := view.(role.ReviewerView)
	if !ok {
		return fmt.Errorf("reviewer invoked with a %s view", view.For())
	}
	if v.StageDir == "" {
		return fmt.Errorf("reviewer view names no stage directory")
	}

	testFiles, implFiles, err := w.stage(v)
	if err != nil {
		return err
	}

	runner, err := w.newRunner(v.Language, v.StageDir, w.TestCommand)
	if err != nil {
		return err
	}

	outcome, err := w.evaluator.Evaluate(ctx, &Review{
		Requirement: v.Requirement,
		TestFiles:   testFiles,
		ImplFiles:   implFiles,
		Language:    v.Language,
		Threshold:   v.MutationThreshold,
		FlakyRuns:   v.FlakyRuns,
		MaxMutants:  w.MaxMutants,
		Runner:      runner,
	})
	if err != nil {
		return err
	}
	w.Last = outcome

	return role.WriteSignal(v.SignalPath, &role.Signal{
		Status: role.StatusDone,
		Refs:   []string{string(outcome.Verdict)},
	})
}

// stage rebuilds the stage directory with fresh copies of the test and
// implementation artifacts, returning both keyed by their staged path.
func (w *ReviewerWorker) stage(v role.ReviewerView) (testFiles, implFiles map[string]string, err error) {
	if err := os.RemoveAll(v.StageDir); err != nil {
		return nil, nil, fmt.Errorf("clearing stage directory: %w", err)
	}
	if err := os.MkdirAll(v.StageDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating stage directory: %w", err)
	}

	testFiles, err = stageFiles(v.StageDir, v.TestPaths)
	if err != nil {
		return nil, nil, fmt.Errorf("staging test artifacts: %w", err)
	}
	implFiles, err = stageFiles(v.StageDir, v.ImplPaths)
	if err != nil {
		return nil, nil, fmt.Errorf("staging implementation artifacts: %w", err)
	}

	if v.Language == "go" {
		modPath := filepath.Join(v.StageDir, "go.mod")
		if _, err := os.Stat(modPath); os.IsNotExist(err) {
			if err := os.WriteFile(modPath, []byte(stageGoMod), 0o644); err != nil {
				return nil, nil, fmt.Errorf("writing staged go.mod: %w", err)
			}
		}
	}
	return testFiles, implFiles, nil
}

func stageFiles(dir string, paths []string) (map[string]string, error) {
	files := make(map[string]string, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(dir, filepath.Base(path))
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return nil, err
		}
		files[dest] = string(data)
	}
	return files, nil
}
