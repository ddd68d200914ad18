package verdict

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/testrun"
)

// scriptedRunner replays suite results in order, repeating the last
// one when the script runs out.
type scriptedRunner struct {
	results []*testrun.SuiteResult
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context) (*testrun.SuiteResult, error) {
	i := r.calls
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	r.calls++
	return r.results[i], nil
}

func passing() *testrun.SuiteResult {
	return &testrun.SuiteResult{
		Outcomes: map[string]testrun.Outcome{"TestSum": testrun.OutcomePass, "TestSum_Negative": testrun.OutcomePass},
		Passed:   true,
	}
}

func failing() *testrun.SuiteResult {
	return &testrun.SuiteResult{
		Outcomes: map[string]testrun.Outcome{"TestSum": testrun.OutcomeFail, "TestSum_Negative": testrun.OutcomePass},
		Passed:   false,
	}
}

// fixedStrategy hands back a pre-built mutant list.
type fixedStrategy struct{ mutants []Mutant }

func (s fixedStrategy) Mutants(path, src string) []Mutant { return s.mutants }

const requirement = "Sum two signed integers and report overflow as an error."

const goodTests = `package sum

func TestSum_Integers(t *testing.T) {
	got := Sum(2, 3)
	if got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestSum_NegativeIntegers(t *testing.T) {
	got := Sum(-2, -3)
	if got != -5 {
		t.Errorf("got %d, want -5", got)
	}
}
`

// review builds a pipeline input over real temp files so the mutation
// gate can swap implementations in and out.
func review(t *testing.T, runner testrun.Runner) *Review {
	t.Helper()
	dir := t.TempDir()
	implPath := filepath.Join(dir, "sum.go")
	impl := "package sum\n\nfunc Sum(a, b int) int {\n\treturn a + b\n}\n"
	if err := os.WriteFile(implPath, []byte(impl), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Review{
		Requirement: requirement,
		TestFiles:   map[string]string{filepath.Join(dir, "sum_test.go"): goodTests},
		ImplFiles:   map[string]string{implPath: impl},
		Language:    "go",
		Threshold:   0.8,
		FlakyRuns:   2,
		Runner:      runner,
	}
}

func mutantsOver(rev *Review, killed, surviving int) ([]Mutant, []*testrun.SuiteResult) {
	var implPath string
	for p := range rev.ImplFiles {
		implPath = p
	}
	var mutants []Mutant
	var results []*testrun.SuiteResult
	for i := 0; i < killed+surviving; i++ {
		mutants = append(mutants, Mutant{
			File: implPath, Line: 4, Rule: "operator_swap",
			Original: "return a + b", Mutated: "return a - b",
			Description: "+ replaced with -",
			Content:     "package sum\n\nfunc Sum(a, b int) int {\n\treturn a - b\n}\n",
		})
		if i < killed {
			results = append(results, failing())
		} else {
			results = append(results, passing())
		}
	}
	return mutants, results
}

func TestEvaluate_AllPassAtThreshold(t *testing.T) {
	// 17 of 20 mutants killed: 0.85, threshold 0.8 inclusive
	runner := &scriptedRunner{}
	rev := review(t, runner)
	mutants, mutantResults := mutantsOver(rev, 17, 3)
	runner.results = append([]*testrun.SuiteResult{passing(), passing()}, mutantResults...)

	e := NewEvaluator(fixedStrategy{mutants})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictAllPass {
		t.Fatalf("verdict = %s, want ALL_PASS (feedback: %q %q)", out.Verdict, out.Feedback.ForAuthor, out.Feedback.ForImplementer)
	}
	if out.MutationScore == nil || *out.MutationScore != 0.85 {
		t.Errorf("MutationScore = %v, want 0.85", out.MutationScore)
	}
	if len(out.Survivors) != 3 {
		t.Errorf("survivors = %d, want 3", len(out.Survivors))
	}
}

func TestEvaluate_BelowThresholdIsWeakTests(t *testing.T) {
	// 13 of 20 killed: 0.65 < 0.8
	runner := &scriptedRunner{}
	rev := review(t, runner)
	mutants, mutantResults := mutantsOver(rev, 13, 7)
	runner.results = append([]*testrun.SuiteResult{passing(), passing()}, mutantResults...)

	e := NewEvaluator(fixedStrategy{mutants})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Fatalf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
	if out.MutationScore == nil || *out.MutationScore != 0.65 {
		t.Errorf("MutationScore = %v, want 0.65", out.MutationScore)
	}
	if out.Feedback.ForAuthor == "" {
		t.Error("WEAK_TESTS must carry author feedback")
	}
	if out.Feedback.ForImplementer != "" {
		t.Error("WEAK_TESTS feedback must not address the implementer")
	}
	if len(out.Survivors) != 7 {
		t.Errorf("survivors = %d, want 7", len(out.Survivors))
	}
}

func TestEvaluate_FlakySuiteShortCircuits(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing(), failing()}}
	rev := review(t, runner)
	mutants, _ := mutantsOver(rev, 20, 0)

	e := NewEvaluator(fixedStrategy{mutants})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Fatalf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
	if len(out.Flaky) == 0 {
		t.Error("flaky tests not reported")
	}
	// Mutation must never run against an unstable suite
	if runner.calls != 2 {
		t.Errorf("runner called %d times, want 2 (flaky runs only)", runner.calls)
	}
	if out.MutationScore != nil {
		t.Errorf("MutationScore = %v, want nil after flaky short-circuit", *out.MutationScore)
	}
}

func TestEvaluate_FailingSuiteIsWeakCode(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{failing(), failing()}}
	rev := review(t, runner)

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakCode {
		t.Fatalf("verdict = %s, want WEAK_CODE", out.Verdict)
	}
	if out.Feedback.ForImplementer == "" {
		t.Error("WEAK_CODE must carry implementer feedback")
	}
	if out.Feedback.ForAuthor != "" {
		t.Error("WEAK_CODE feedback must not address the author")
	}
}

func TestEvaluate_CheatRejectedRegardlessOfScore(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)
	for p := range rev.ImplFiles {
		rev.ImplFiles[p] = "package sum\n\nimport \"os\"\n\nfunc Sum(a, b int) int {\n\tif os.Getenv(\"CI\") != \"\" {\n\t\treturn a + b\n\t}\n\treturn a + b\n}\n"
	}

	// Strategy would give a perfect score; the tamper gate must fire first
	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakCode {
		t.Fatalf("verdict = %s, want WEAK_CODE", out.Verdict)
	}
	if len(out.Findings) == 0 {
		t.Error("cheat findings not reported")
	}
	if out.MutationScore != nil {
		t.Error("mutation must not be scored once tampering is found")
	}
}

func TestEvaluate_UntracedTestsRejected(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)
	rev.TestFiles = map[string]string{
		"widget_test.go": "package sum\n\nfunc TestWidget(t *testing.T) {\n\tif Frobnicate() != 7 {\n\t\tt.Fail()\n\t}\n}\n",
	}

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Fatalf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
	// Alignment fires before any suite execution
	if runner.calls != 0 {
		t.Errorf("runner called %d times, want 0", runner.calls)
	}
	if out.Feedback.ForAuthor == "" {
		t.Error("alignment rejection must carry author feedback")
	}
}

func TestEvaluate_NoTestsRejected(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)
	rev.TestFiles = nil

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Errorf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
}

func TestEvaluate_TautologicalTestsRejected(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)
	rev.TestFiles = map[string]string{
		"sum_test.py": "def test_sum_integers():\n    assert True\n\ndef test_more_integers():\n    assert sum_pair(2, 3) == 5\n",
	}
	rev.Language = "python"

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Fatalf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
	if out.Feedback.ForAuthor == "" {
		t.Error("quality rejection must carry author feedback")
	}
}

func TestEvaluate_ShortIdentifierAnchorsAlignment(t *testing.T) {
	// "add" is below the four-letter term cutoff; the call-style
	// mention in the requirement must still anchor the suite.
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)
	rev.Requirement = "Implement add(a, b) returning the sum of its two arguments."
	rev.TestFiles = map[string]string{
		"add_test.go": `package sum

func TestAdd(t *testing.T) {
	if got := add(2, 3); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestAdd_Negative(t *testing.T) {
	if got := add(-2, -3); got != -5 {
		t.Errorf("got %d, want -5", got)
	}
}
`,
	}

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictAllPass {
		t.Fatalf("verdict = %s, want ALL_PASS (feedback: %q)", out.Verdict, out.Feedback.ForAuthor)
	}
}

func TestEvaluate_GoldenPathOnlySuiteRejected(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)
	rev.TestFiles = map[string]string{
		"sum_test.go": `package sum

func TestSum_Integers(t *testing.T) {
	if got := Sum(2, 3); got != 5 {
		t.Errorf("got %d, want 5", got)
	}
}

func TestSum_MoreIntegers(t *testing.T) {
	if got := Sum(4, 5); got != 9 {
		t.Errorf("got %d, want 9", got)
	}
}
`,
	}

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Fatalf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
	if !strings.Contains(out.Feedback.ForAuthor, "golden path") {
		t.Errorf("author feedback does not call out the missing edge cases: %q", out.Feedback.ForAuthor)
	}
}

func TestEvaluate_EdgeCasesSatisfyGoldenPathCheck(t *testing.T) {
	// The stock suite covers negatives, so the quality gate stays quiet.
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing()}}
	rev := review(t, runner)

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictAllPass {
		t.Fatalf("verdict = %s, want ALL_PASS (feedback: %q)", out.Verdict, out.Feedback.ForAuthor)
	}
}

func TestEvaluate_AuthorFeedbackQuotesRequirement(t *testing.T) {
	runner := &scriptedRunner{results: []*testrun.SuiteResult{passing(), failing()}}
	rev := review(t, runner)

	e := NewEvaluator(fixedStrategy{})
	out, err := e.Evaluate(context.Background(), rev)
	if err != nil {
		t.Fatal(err)
	}
	if out.Verdict != domain.VerdictWeakTests {
		t.Fatalf("verdict = %s, want WEAK_TESTS", out.Verdict)
	}
	if got := out.Feedback.ForAuthor; !strings.Contains(got, requirement) {
		t.Errorf("author feedback does not quote the requirement: %q", got)
	}
}
