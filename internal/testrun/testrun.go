// Package testrun runs the workspace test suite and reports per-test
// outcomes. Outcome-level granularity is what the flaky gate needs to
// tell a failing suite apart from an unstable one.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// Outcome is the result of one test in one run.
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
	OutcomeSkip Outcome = "SKIP"
	// OutcomeMissing marks a test that appeared in some runs but not
	// others. Treated as a distinct outcome so it counts as flaky.
	OutcomeMissing Outcome = "MISSING"
)

// SuiteResult holds one run of the whole suite.
type SuiteResult struct {
	Outcomes map[string]Outcome
	Output   string
	// Passed is true when the runner exited zero.
	Passed bool
}

// Failures lists the failing test names in stable order.
func (r *SuiteResult) Failures() []string {
	var names []string
	for name, out := range r.Outcomes {
		if out == OutcomeFail {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Runner executes the test suite once per call.
type Runner interface {
	Run(ctx context.Context) (*SuiteResult, error)
}

// CommandRunner shells out to a per-language test command and parses
// the verbose output into per-test outcomes.
type CommandRunner struct {
	Language string
	Dir      string
	// Args overrides the language default when the operator configures
	// an explicit test command.
	Args []string
}

type languageCommand struct {
	args  []string
	parse func(output string) map[string]Outcome
}

var languageCommands = map[string]languageCommand{
	"go":         {args: []string{"go", "test", "-v", "-count=1", "./..."}, parse: parseGoTest},
	"python":     {args: []string{"pytest", "-v", "--tb=no", "-q"}, parse: parsePytest},
	"javascript": {args: []string{"npx", "jest", "--verbose"}, parse: parseJest},
	"typescript": {args: []string{"npx", "jest", "--verbose"}, parse: parseJest},
	"rust":       {args: []string{"cargo", "test", "--", "--test-threads=1"}, parse: parseCargo},
}

// NewRunner builds a runner for the given language. An explicit
// command (split on whitespace) replaces the default invocation but
// keeps the language's output parser.
func NewRunner(language, dir, command string) (*CommandRunner, error) {
	if _, ok := languageCommands[language]; !ok {
		return nil, fmt.Errorf("no test runner for language %q", language)
	}
	r := &CommandRunner{Language: language, Dir: dir}
	if command != "" {
		r.Args = strings.Fields(command)
	}
	return r, nil
}

func (r *CommandRunner) Run(ctx context.Context) (*SuiteResult, error) {
	lang := languageCommands[r.Language]
	args := lang.args
	if len(r.Args) > 0 {
		args = r.Args
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Failing tests make the runner exit nonzero; that is a result,
	// not an execution error. Only a missing binary is fatal.
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %s tests: %w", r.Language, err)
		}
	}

	output := string(out)
	return &SuiteResult{
		Outcomes: lang.parse(output),
		Output:   output,
		Passed:   err == nil,
	}, nil
}

var (
	goTestLine  = regexp.MustCompile(`^--- (PASS|FAIL|SKIP): (\S+)`)
	pytestLine  = regexp.MustCompile(`^(\S+::\S+)\s+(PASSED|FAILED|ERROR|SKIPPED)`)
	jestLine    = regexp.MustCompile(`^\s*(✓|✕|○|√|×)\s+(.+?)(?:\s+\(\d+\s*m?s\))?$`)
	cargoLine   = regexp.MustCompile(`^test\s+(\S+)\s+\.\.\.\s+(ok|FAILED|ignored)`)
	jestOutcome = map[string]Outcome{"✓": OutcomePass, "√": OutcomePass, "✕": OutcomeFail, "×": OutcomeFail, "○": OutcomeSkip}
)

func parseGoTest(output string) map[string]Outcome {
	results := make(map[string]Outcome)
	for _, line := range strings.Split(output, "\n") {
		m := goTestLine.FindStringSubmatch(strings.TrimLeft(line, " \t"))
		if m == nil {
			continue
		}
		switch m[1] {
		case "PASS":
			results[m[2]] = OutcomePass
		case "FAIL":
			results[m[2]] = OutcomeFail
		case "SKIP":
			results[m[2]] = OutcomeSkip
		}
	}
	return results
}

func parsePytest(output string) map[string]Outcome {
	results := make(map[string]Outcome)
	for _, line := range strings.Split(output, "\n") {
		m := pytestLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch m[2] {
		case "PASSED":
			results[m[1]] = OutcomePass
		case "FAILED", "ERROR":
			results[m[1]] = OutcomeFail
		case "SKIPPED":
			results[m[1]] = OutcomeSkip
		}
	}
	return results
}

func parseJest(output string) map[string]Outcome {
	results := make(map[string]Outcome)
	for _, line := range strings.Split(output, "\n") {
		m := jestLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if out, ok := jestOutcome[m[1]]; ok {
			results[m[2]] = out
		}
	}
	return results
}

func parseCargo(output string) map[string]Outcome {
	results := make(map[string]Outcome)
	for _, line := range strings.Split(output, "\n") {
		m := cargoLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch m[2] {
		case "ok":
			results[m[1]] = OutcomePass
		case "FAILED":
			results[m[1]] = OutcomeFail
		case "ignored":
			results[m[1]] = OutcomeSkip
		}
	}
	return results
}

// FlakyTest is a test whose outcome differed across repeated runs.
type FlakyTest struct {
	Name     string
	Outcomes []Outcome
}

// FlakyReport summarizes repeated executions of the same suite.
type FlakyReport struct {
	TotalTests int
	Runs       int
	Flaky      []FlakyTest
	// Final is the last run, kept so callers can reuse it for the
	// functional check without executing the suite again.
	Final *SuiteResult
}

// Stable reports whether every test behaved the same in every run.
func (r *FlakyReport) Stable() bool {
	return len(r.Flaky) == 0
}

// DetectFlaky runs the suite `runs` times and diffs per-test outcomes.
// A test missing from some runs counts as flaky.
func DetectFlaky(ctx context.Context, runner Runner, runs int) (*FlakyReport, error) {
	if runs < 2 {
		return nil, fmt.Errorf("flaky detection needs at least 2 runs, got %d", runs)
	}

	all := make([]*SuiteResult, 0, runs)
	for i := 0; i < runs; i++ {
		result, err := runner.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("flaky detection run %d/%d: %w", i+1, runs, err)
		}
		all = append(all, result)
	}

	names := make(map[string]struct{})
	for _, result := range all {
		for name := range result.Outcomes {
			names[name] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	report := &FlakyReport{TotalTests: len(sorted), Runs: runs, Final: all[runs-1]}
	for _, name := range sorted {
		outcomes := make([]Outcome, runs)
		distinct := make(map[Outcome]struct{})
		for i, result := range all {
			out, ok := result.Outcomes[name]
			if !ok {
				out = OutcomeMissing
			}
			outcomes[i] = out
			distinct[out] = struct{}{}
		}
		if len(distinct) > 1 {
			report.Flaky = append(report.Flaky, FlakyTest{Name: name, Outcomes: outcomes})
		}
	}
	return report, nil
}
