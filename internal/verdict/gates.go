package verdict

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/testrun"
)

// alignmentGate rejects suites that do not trace back to the
// requirement. A test file sharing no significant requirement term is
// taken as testing something the requirement never asked for.
type alignmentGate struct{}

func (alignmentGate) Name() string { return "alignment" }

func (alignmentGate) Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error) {
	if len(rev.TestFiles) == 0 {
		return &failure{
			verdict:   domain.VerdictWeakTests,
			forAuthor: authorNote(rev, "No test artifacts were produced. Write tests that cover the requirement."),
			reasons:   []string{"no test artifacts"},
		}, nil
	}

	terms := requirementTerms(rev.Requirement)
	for id := range requirementIdentifiers(rev.Requirement) {
		terms[id] = struct{}{}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	var untraced []string
	for _, path := range sortedKeys(rev.TestFiles) {
		content := strings.ToLower(rev.TestFiles[path])
		matched := false
		for term := range terms {
			if strings.Contains(content, term) {
				matched = true
				break
			}
		}
		if !matched {
			untraced = append(untraced, path)
		}
	}
	if len(untraced) == 0 {
		return nil, nil
	}

	msg := fmt.Sprintf(
		"These test files do not reference any concept from the requirement: %s. Every test must check behavior the requirement demands.",
		strings.Join(untraced, ", "))
	return &failure{
		verdict:   domain.VerdictWeakTests,
		forAuthor: authorNote(rev, msg),
		reasons:   append([]string{"untraced test files"}, untraced...),
	}, nil
}

var termPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]{3,}`)

var stopwords = map[string]struct{}{
	"that": {}, "with": {}, "this": {}, "from": {}, "must": {}, "should": {},
	"when": {}, "then": {}, "have": {}, "will": {}, "each": {}, "into": {},
	"them": {}, "they": {}, "given": {}, "return": {}, "returns": {},
	"function": {}, "value": {}, "values": {}, "input": {}, "output": {},
	"implementation": {}, "test": {}, "tests": {},
}

// requirementTerms extracts the significant lowercase words of the
// requirement text.
func requirementTerms(req string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, word := range termPattern.FindAllString(req, -1) {
		word = strings.ToLower(word)
		if _, skip := stopwords[word]; skip {
			continue
		}
		terms[word] = struct{}{}
	}
	return terms
}

var identPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// requirementIdentifiers pulls call-style names like add(a, b) out of
// the requirement. Function names shorter than the term cutoff still
// anchor a test to the requirement.
func requirementIdentifiers(req string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, m := range identPattern.FindAllStringSubmatch(req, -1) {
		name := strings.ToLower(m[1])
		if len(name) >= 2 {
			ids[name] = struct{}{}
		}
	}
	return ids
}

// flakyGate runs the suite repeatedly and rejects on any outcome
// drift. A failing flaky gate short-circuits the pipeline: no later
// gate sees an unstable suite.
type flakyGate struct{}

func (flakyGate) Name() string { return "flaky" }

func (flakyGate) Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error) {
	report, err := testrun.DetectFlaky(ctx, rev.Runner, rev.FlakyRuns)
	if err != nil {
		return nil, err
	}
	rev.finalSuite = report.Final

	if report.Stable() {
		return nil, nil
	}

	out.Flaky = report.Flaky
	var names []string
	var detail strings.Builder
	detail.WriteString("These tests produced different outcomes across identical runs; a test that cannot repeat its own result verifies nothing:\n")
	for _, ft := range report.Flaky {
		names = append(names, ft.Name)
		outcomes := make([]string, len(ft.Outcomes))
		for i, o := range ft.Outcomes {
			outcomes[i] = string(o)
		}
		fmt.Fprintf(&detail, "  %s: %s\n", ft.Name, strings.Join(outcomes, ", "))
	}
	detail.WriteString("Remove the nondeterminism (time, randomness, ordering, shared state) from these tests.")

	return &failure{
		verdict:   domain.VerdictWeakTests,
		forAuthor: authorNote(rev, detail.String()),
		reasons:   append([]string{"flaky tests"}, names...),
	}, nil
}

// functionalGate rejects implementations that fail the stable suite.
type functionalGate struct{}

func (functionalGate) Name() string { return "functional" }

func (functionalGate) Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error) {
	suite := rev.finalSuite
	if suite == nil {
		var err error
		suite, err = rev.Runner.Run(ctx)
		if err != nil {
			return nil, err
		}
		rev.finalSuite = suite
	}

	failures := suite.Failures()
	if suite.Passed && len(failures) == 0 {
		return nil, nil
	}

	var msg string
	if len(failures) > 0 {
		msg = fmt.Sprintf("These tests fail against your implementation: %s. Make them pass without special-casing their inputs.", strings.Join(failures, ", "))
	} else {
		msg = "The test suite run exited with an error. Fix the implementation so the suite runs and passes."
	}
	return &failure{
		verdict:        domain.VerdictWeakCode,
		forImplementer: msg,
		reasons:        append([]string{"failing tests"}, failures...),
	}, nil
}

// qualityGate rejects suites that pass every earlier gate but still
// prove too little.
type qualityGate struct{}

func (qualityGate) Name() string { return "quality" }

func (qualityGate) Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error) {
	var problems []string

	totalAssertions := 0
	for _, path := range sortedKeys(rev.TestFiles) {
		content := rev.TestFiles[path]
		n := countAssertions(rev.Language, content)
		totalAssertions += n
		if n == 0 {
			problems = append(problems, fmt.Sprintf("%s contains no assertions", path))
		}
		if taut := findTautologies(content); len(taut) > 0 {
			for _, t := range taut {
				problems = append(problems, fmt.Sprintf("%s has a tautological assertion: %s", path, t))
			}
		}
	}
	if totalAssertions == 1 {
		problems = append(problems, "the whole suite checks a single example; one data point does not pin down behavior")
	}
	if len(rev.TestFiles) > 0 && happyPathOnly(rev.Language, rev.TestFiles) {
		problems = append(problems, "every test exercises the golden path; add zero, negative, boundary or error-path cases")
	}

	if len(problems) == 0 {
		return nil, nil
	}
	msg := "The tests pass but are too weak to accept:\n  - " + strings.Join(problems, "\n  - ")
	return &failure{
		verdict:   domain.VerdictWeakTests,
		forAuthor: authorNote(rev, msg),
		reasons:   problems,
	}, nil
}

var assertionTokens = map[string][]string{
	"go":         {"t.Error", "t.Fatal", "require.", "assert."},
	"python":     {"assert ", "assert(", "assertEqual", "assertTrue", "assertRaises", "pytest.raises"},
	"javascript": {"expect(", "assert.", "assert("},
	"typescript": {"expect(", "assert.", "assert("},
	"rust":       {"assert!", "assert_eq!", "assert_ne!", "panic!"},
}

func countAssertions(language, content string) int {
	tokens, ok := assertionTokens[language]
	if !ok {
		tokens = []string{"assert"}
	}
	n := 0
	for _, tok := range tokens {
		n += strings.Count(content, tok)
	}
	return n
}

var edgeLiteralPattern = regexp.MustCompile(`-\d|\b0\b`)

var errorPathTokens = map[string][]string{
	"go":         {"if err", "wantErr", "panic(", "recover("},
	"python":     {"raises", "except"},
	"javascript": {"toThrow", "rejects", "catch"},
	"typescript": {"toThrow", "rejects", "catch"},
	"rust":       {"is_err", "unwrap_err", "should_panic"},
}

// happyPathOnly reports a suite that never leaves the golden path: no
// zero or negative literal and no error-path check in any test file.
func happyPathOnly(language string, files map[string]string) bool {
	for _, content := range files {
		if edgeLiteralPattern.MatchString(content) {
			return false
		}
		for _, tok := range errorPathTokens[language] {
			if strings.Contains(content, tok) {
				return false
			}
		}
	}
	return true
}

var tautologyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`assert\s+True\b`),
	regexp.MustCompile(`assert\s+1\s*==\s*1\b`),
	regexp.MustCompile(`assertTrue\(\s*True\s*\)`),
	regexp.MustCompile(`expect\(true\)\.toBe\(true\)`),
	regexp.MustCompile(`assert!\(\s*true\s*\)`),
	// identical literal on both sides of the comparison
	regexp.MustCompile(`assert(?:Equal|_eq!?)?\(\s*(-?\d+)\s*,\s*(-?\d+)\s*\)`),
}

// findTautologies reports assertions that hold no matter what the
// implementation does.
func findTautologies(content string) []string {
	var found []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, pat := range tautologyPatterns {
			m := pat.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			// The two-literal pattern only counts when both sides match.
			if len(m) == 3 && m[1] != m[2] {
				continue
			}
			found = append(found, trimmed)
			break
		}
	}
	return found
}

// authorNote prefixes author feedback with the requirement so the
// author can re-anchor without seeing any reviewer internals.
func authorNote(rev *Review, msg string) string {
	return fmt.Sprintf("Requirement (verbatim):\n%s\n\n%s", requirementExcerpt(rev.Requirement), msg)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
