package verdict

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

// Mutant is one deliberate defect injected into the implementation.
// A test suite worth accepting must fail when the defect is present.
type Mutant struct {
	File        string
	Line        int
	Rule        string
	Original    string
	Mutated     string
	Description string
	// Content is the full file with the mutation applied.
	Content string
}

// Strategy generates mutants for one implementation file. Pluggable
// so a language-aware engine can replace the manual rules.
type Strategy interface {
	Mutants(path, src string) []Mutant
}

// mutationGate injects each mutant, runs the suite once, and scores
// the suite by the fraction of mutants it kills. Passing is inclusive
// at the threshold.
type mutationGate struct {
	strategy Strategy
}

func (mutationGate) Name() string { return "mutation" }

func (g mutationGate) Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error) {
	var mutants []Mutant
	for _, path := range sortedKeys(rev.ImplFiles) {
		mutants = append(mutants, g.strategy.Mutants(path, rev.ImplFiles[path])...)
	}
	if rev.MaxMutants > 0 && len(mutants) > rev.MaxMutants {
		mutants = mutants[:rev.MaxMutants]
	}

	// No mutation sites means nothing to score against.
	if len(mutants) == 0 {
		score := 1.0
		out.MutationScore = &score
		return nil, nil
	}

	killed := 0
	var survivors []domain.MutationSurvivor
	for _, m := range mutants {
		dead, err := runMutant(ctx, rev, m)
		if err != nil {
			return nil, err
		}
		if dead {
			killed++
		} else {
			survivors = append(survivors, domain.MutationSurvivor{
				File:        m.File,
				Line:        m.Line,
				Rule:        m.Rule,
				Original:    m.Original,
				Mutated:     m.Mutated,
				Description: m.Description,
			})
		}
	}

	score := float64(killed) / float64(len(mutants))
	out.MutationScore = &score
	out.Survivors = survivors

	if score >= rev.Threshold {
		return nil, nil
	}

	var detail strings.Builder
	fmt.Fprintf(&detail, "Your tests killed %d of %d injected defects (score %.2f, required %.2f).\n", killed, len(mutants), score, rev.Threshold)
	detail.WriteString("Each surviving defect is a behavior change no test noticed:\n")
	var reasons []string
	for _, s := range survivors {
		fmt.Fprintf(&detail, "  %s:%d [%s] %s\n", s.File, s.Line, s.Rule, s.Description)
		reasons = append(reasons, fmt.Sprintf("%s survived at %s:%d", s.Rule, s.File, s.Line))
	}
	detail.WriteString("Add tests that pin down the behavior these defects change.")

	return &failure{
		verdict:   domain.VerdictWeakTests,
		forAuthor: authorNote(rev, detail.String()),
		reasons:   append([]string{fmt.Sprintf("mutation score %.2f below %.2f", score, rev.Threshold)}, reasons...),
	}, nil
}

// runMutant swaps the mutated file in, runs the suite once, and always
// restores the original before returning.
func runMutant(ctx context.Context, rev *Review, m Mutant) (killed bool, err error) {
	original := rev.ImplFiles[m.File]
	if err := os.WriteFile(m.File, []byte(m.Content), 0o644); err != nil {
		return false, fmt.Errorf("applying mutant to %s: %w", m.File, err)
	}
	defer func() {
		if rerr := os.WriteFile(m.File, []byte(original), 0o644); rerr != nil && err == nil {
			err = fmt.Errorf("restoring %s after mutant: %w", m.File, rerr)
		}
	}()

	result, err := rev.Runner.Run(ctx)
	if err != nil {
		return false, err
	}
	return !result.Passed || len(result.Failures()) > 0, nil
}

// ManualRules is the fallback mutation strategy: purely lexical edits
// that change behavior without breaking the build in the common case.
type ManualRules struct{}

type rewriteRule struct {
	name        string
	from, to    string
	description string
}

var operatorRules = []rewriteRule{
	{"operator_swap", " + ", " - ", "+ replaced with -"},
	{"operator_swap", " - ", " + ", "- replaced with +"},
	{"operator_swap", " * ", " / ", "* replaced with /"},
	{"boundary", " < ", " <= ", "< relaxed to <="},
	{"boundary", " <= ", " < ", "<= tightened to <"},
	{"boundary", " > ", " >= ", "> relaxed to >="},
	{"boundary", " >= ", " > ", ">= tightened to >"},
	{"operator_swap", " == ", " != ", "== inverted to !="},
	{"operator_swap", " != ", " == ", "!= inverted to =="},
	{"operator_swap", " && ", " || ", "&& replaced with ||"},
	{"operator_swap", " || ", " && ", "|| replaced with &&"},
}

var (
	intLiteral    = regexp.MustCompile(`\b\d+\b`)
	callStatement = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*\(.*\)$`)
	goCondition   = regexp.MustCompile(`^(\s*)if (.+) \{$`)
	pyCondition   = regexp.MustCompile(`^(\s*)if (.+):$`)
)

// Mutants generates one mutant per applicable rule per line. Lines
// carrying string literals or comments are left alone; mutating text
// data proves nothing about logic.
func (ManualRules) Mutants(path, src string) []Mutant {
	lines := strings.Split(src, "\n")
	var mutants []Mutant

	add := func(i int, rule, mutatedLine, description string) {
		patched := make([]string, len(lines))
		copy(patched, lines)
		patched[i] = mutatedLine
		mutants = append(mutants, Mutant{
			File:        path,
			Line:        i + 1,
			Rule:        rule,
			Original:    strings.TrimSpace(lines[i]),
			Mutated:     strings.TrimSpace(mutatedLine),
			Description: description,
			Content:     strings.Join(patched, "\n"),
		})
	}

	remove := func(i int, rule, description string) {
		patched := make([]string, 0, len(lines)-1)
		patched = append(patched, lines[:i]...)
		patched = append(patched, lines[i+1:]...)
		mutants = append(mutants, Mutant{
			File:        path,
			Line:        i + 1,
			Rule:        rule,
			Original:    strings.TrimSpace(lines[i]),
			Mutated:     "",
			Description: description,
			Content:     strings.Join(patched, "\n"),
		})
	}

	for i, line := range lines {
		if !mutable(line) {
			continue
		}
		trimmed := strings.TrimSpace(line)

		for _, rule := range operatorRules {
			if !strings.Contains(line, rule.from) {
				continue
			}
			// Boundary rules would double-fire on the relaxed form.
			if rule.from == " < " && strings.Contains(line, " <= ") {
				continue
			}
			if rule.from == " > " && strings.Contains(line, " >= ") {
				continue
			}
			add(i, rule.name, strings.Replace(line, rule.from, rule.to, 1), rule.description)
		}

		if loc := intLiteral.FindStringIndex(line); loc != nil {
			lit := line[loc[0]:loc[1]]
			if n, err := strconv.Atoi(lit); err == nil {
				mutatedLine := line[:loc[0]] + strconv.Itoa(n+1) + line[loc[1]:]
				add(i, "constant_change", mutatedLine, fmt.Sprintf("constant %s changed to %d", lit, n+1))
			}
		}

		if m := goCondition.FindStringSubmatch(line); m != nil {
			add(i, "negate_condition", fmt.Sprintf("%sif !(%s) {", m[1], m[2]), "condition negated")
		} else if m := pyCondition.FindStringSubmatch(line); m != nil {
			add(i, "negate_condition", fmt.Sprintf("%sif not (%s):", m[1], m[2]), "condition negated")
		}

		if callStatement.MatchString(trimmed) && !strings.HasPrefix(trimmed, "return") {
			remove(i, "statement_deletion", "call statement removed")
		}
	}
	return mutants
}

// mutable filters out lines where a lexical edit would not change
// logic or would not even parse.
func mutable(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, prefix := range []string{"//", "#", "/*", "*", "import", "package", "from ", "use ", "func ", "def ", "fn ", "function "} {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	if strings.ContainsAny(trimmed, "\"'`") {
		return false
	}
	return true
}
