package verdict

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

// tamperGate rejects implementations that game the suite instead of
// implementing behavior. Any finding rejects; an implementation that
// merely looks like it special-cases test inputs is not accepted on
// the benefit of the doubt.
type tamperGate struct{}

func (tamperGate) Name() string { return "tamper" }

func (tamperGate) Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error) {
	findings := DetectCheating(rev.TestFiles, rev.ImplFiles)
	if len(findings) == 0 {
		return nil, nil
	}
	out.Findings = findings

	var detail strings.Builder
	detail.WriteString("The implementation games the tests instead of implementing the behavior:\n")
	var reasons []string
	for _, f := range findings {
		fmt.Fprintf(&detail, "  [%s] %s:%d %s\n", f.PatternType, f.File, f.Line, f.Description)
		reasons = append(reasons, fmt.Sprintf("%s at %s:%d", f.PatternType, f.File, f.Line))
	}
	detail.WriteString("Remove every special case and implement the general behavior the tests describe.")

	return &failure{
		verdict:        domain.VerdictWeakCode,
		forImplementer: detail.String(),
		reasons:        reasons,
	}, nil
}

// testValues are the literals the suite uses: arguments handed to the
// code under test and values it is compared against.
type testValues struct {
	inputs  map[string]struct{}
	outputs map[string]struct{}
}

var (
	literalPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?|"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	callPattern    = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)\(([^()]*)\)`)
)

var assertionNames = map[string]struct{}{
	"assert": {}, "assertEqual": {}, "assertEquals": {}, "assertAlmostEqual": {},
	"assertTrue": {}, "expect": {}, "toBe": {}, "toEqual": {}, "assert_eq": {},
	"raises": {}, "Fatal": {}, "Fatalf": {}, "Error": {}, "Errorf": {},
}

func isAssertionName(name string) bool {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	_, ok := assertionNames[name]
	return ok
}

// extractTestValues pulls literals out of the test files. Literals
// passed to non-assertion calls count as inputs; literals on assertion
// or comparison lines outside those calls count as outputs.
func extractTestValues(testFiles map[string]string) testValues {
	tv := testValues{inputs: make(map[string]struct{}), outputs: make(map[string]struct{})}

	for _, content := range testFiles {
		for _, line := range strings.Split(content, "\n") {
			rest := line
			// Innermost calls first; strip each once processed so the
			// surrounding assertion only sees its own literals.
			for {
				m := callPattern.FindStringSubmatchIndex(rest)
				if m == nil {
					break
				}
				name := rest[m[2]:m[3]]
				args := rest[m[4]:m[5]]
				if !isAssertionName(name) {
					for _, lit := range literalPattern.FindAllString(args, -1) {
						tv.inputs[lit] = struct{}{}
					}
					rest = rest[:m[0]] + " " + rest[m[1]:]
					continue
				}
				// Assertion call: keep its argument literals in place
				// as candidate outputs, drop the call name.
				rest = rest[:m[0]] + " " + rest[m[4]:]
			}
			if !strings.Contains(line, "==") && !strings.Contains(line, "!=") && countAssertionLine(line) == 0 {
				continue
			}
			for _, lit := range literalPattern.FindAllString(rest, -1) {
				tv.outputs[lit] = struct{}{}
			}
		}
	}
	return tv
}

func countAssertionLine(line string) int {
	n := 0
	for _, tok := range []string{"assert", "expect(", "t.Error", "t.Fatal", "toBe("} {
		n += strings.Count(line, tok)
	}
	return n
}

// DetectCheating scans implementation files for patterns that fake
// conformance: returns hardcoded to expected outputs behind input
// checks, lookup tables keyed by test inputs, test-environment
// sniffing, and functions that are mostly per-case conditionals.
func DetectCheating(testFiles, implFiles map[string]string) []domain.CheatFinding {
	tv := extractTestValues(testFiles)

	var findings []domain.CheatFinding
	for _, path := range sortedKeys(implFiles) {
		content := implFiles[path]
		findings = append(findings, detectHardcodedReturns(path, content, tv)...)
		findings = append(findings, detectLookupTables(path, content, tv)...)
		findings = append(findings, detectTestEnvChecks(path, content)...)
		findings = append(findings, detectExcessiveConditionals(path, content)...)
	}
	return findings
}

// detectHardcodedReturns flags a conditional on a test input followed
// within a few lines by a return of a test output.
func detectHardcodedReturns(path, content string, tv testValues) []domain.CheatFinding {
	var findings []domain.CheatFinding
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "if ") && !strings.HasPrefix(trimmed, "} else if ") && !strings.HasPrefix(trimmed, "elif ") {
			continue
		}
		var matchedInput string
		for input := range tv.inputs {
			if containsLiteral(trimmed, input) {
				matchedInput = input
				break
			}
		}
		if matchedInput == "" {
			continue
		}
		// Look a short window ahead for a returned test output.
		for j := i; j < len(lines) && j <= i+3; j++ {
			ret := strings.TrimSpace(lines[j])
			if !strings.HasPrefix(ret, "return") {
				continue
			}
			for output := range tv.outputs {
				if containsLiteral(ret, output) {
					findings = append(findings, domain.CheatFinding{
						PatternType: "hardcoded_return",
						Description: fmt.Sprintf("returns %s when the input matches test value %s", output, matchedInput),
						File:        path,
						Line:        i + 1,
						Snippet:     trimmed,
						Severity:    "high",
					})
					j = len(lines)
					break
				}
			}
		}
	}
	return findings
}

// detectLookupTables flags literal map or dict constructions whose
// keys are test inputs.
func detectLookupTables(path, content string, tv testValues) []domain.CheatFinding {
	var findings []domain.CheatFinding
	lines := strings.Split(content, "\n")

	inTable := false
	tableStart := 0
	keyMatches := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		opens := strings.Contains(trimmed, "{") &&
			(strings.Contains(trimmed, "map[") || strings.Contains(trimmed, "dict") || strings.Contains(trimmed, "=") || strings.HasSuffix(trimmed, "{"))
		if !inTable && opens {
			inTable = true
			tableStart = i + 1
			keyMatches = 0
		}
		if inTable {
			for input := range tv.inputs {
				if keyPattern(input).MatchString(trimmed) {
					keyMatches++
				}
			}
			if strings.Contains(trimmed, "}") {
				if keyMatches >= 2 {
					findings = append(findings, domain.CheatFinding{
						PatternType: "lookup_table",
						Description: fmt.Sprintf("table with %d keys matching test inputs", keyMatches),
						File:        path,
						Line:        tableStart,
						Snippet:     strings.TrimSpace(lines[tableStart-1]),
						Severity:    "high",
					})
				}
				inTable = false
			}
		}
	}
	return findings
}

func keyPattern(literal string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(literal) + `\s*:`)
}

// containsLiteral matches the literal with boundaries so input "2"
// does not match inside "42".
func containsLiteral(s, literal string) bool {
	pat := regexp.MustCompile(`(^|[^A-Za-z0-9_.])` + regexp.QuoteMeta(literal) + `($|[^A-Za-z0-9_.])`)
	return pat.MatchString(s)
}

var testEnvPatterns = []struct {
	pattern     *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`pytest.*in.*sys\.modules`), "pytest module detection"},
	{regexp.MustCompile(`unittest.*in.*sys\.modules`), "unittest module detection"},
	{regexp.MustCompile(`os\.environ\.get\(['"]TEST`), "TEST environment variable check"},
	{regexp.MustCompile(`os\.environ\.get\(['"]CI['"]`), "CI environment variable check"},
	{regexp.MustCompile(`(?i)TESTING\s*=\s*True`), "TESTING flag"},
	{regexp.MustCompile(`os\.Getenv\(["']TEST`), "TEST environment variable check"},
	{regexp.MustCompile(`os\.Getenv\(["']CI["']`), "CI environment variable check"},
	{regexp.MustCompile(`testing\.Testing\(\)`), "test binary detection"},
	{regexp.MustCompile(`flag\.Lookup\(["']test\.`), "test flag detection"},
	{regexp.MustCompile(`process\.env\.NODE_ENV\s*===?\s*['"]test['"]`), "NODE_ENV test check"},
	{regexp.MustCompile(`#\[cfg\(test\)\]`), "cfg(test) gated behavior"},
}

func detectTestEnvChecks(path, content string) []domain.CheatFinding {
	var findings []domain.CheatFinding
	for i, line := range strings.Split(content, "\n") {
		for _, p := range testEnvPatterns {
			if p.pattern.MatchString(line) {
				findings = append(findings, domain.CheatFinding{
					PatternType: "test_detection",
					Description: p.description,
					File:        path,
					Line:        i + 1,
					Snippet:     strings.TrimSpace(line),
					Severity:    "high",
				})
			}
		}
	}
	return findings
}

var functionStart = regexp.MustCompile(`^\s*(func\s+|def\s+|function\s+|fn\s+)([A-Za-z_][A-Za-z0-9_]*)`)

// detectExcessiveConditionals flags functions that are mostly per-case
// branching. More than five conditionals in a function where they
// outnumber a third of its lines looks like a case-by-case encoding of
// the suite.
func detectExcessiveConditionals(path, content string) []domain.CheatFinding {
	var findings []domain.CheatFinding
	lines := strings.Split(content, "\n")

	type fn struct {
		name  string
		start int
	}
	var current *fn
	ifCount := 0

	flush := func(end int) {
		if current == nil {
			return
		}
		lineCount := end - current.start
		if ifCount > 5 && lineCount > 0 && float64(ifCount) > float64(lineCount)/3 {
			findings = append(findings, domain.CheatFinding{
				PatternType: "excessive_conditionals",
				Description: fmt.Sprintf("function %q has %d conditionals in %d lines", current.name, ifCount, lineCount),
				File:        path,
				Line:        current.start + 1,
				Snippet:     strings.TrimSpace(lines[current.start]),
				Severity:    "medium",
			})
		}
		current = nil
		ifCount = 0
	}

	for i, line := range lines {
		if m := functionStart.FindStringSubmatch(line); m != nil {
			flush(i)
			current = &fn{name: m[2], start: i}
			continue
		}
		if current == nil {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "if ") || strings.HasPrefix(trimmed, "} else if ") || strings.HasPrefix(trimmed, "elif ") {
			ifCount++
		}
	}
	flush(len(lines))
	return findings
}
