// Package verdict decides each iteration's outcome. A fixed pipeline
// of gates examines the test suite and implementation; the first gate
// that fails determines the verdict and which worker the feedback
// addresses. Identical inputs always produce the identical verdict.
package verdict

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/testrun"
)

// Review is everything the pipeline gets to look at. Only the
// reviewer side of the loop ever holds one of these.
type Review struct {
	Requirement string
	// TestFiles and ImplFiles map artifact path to content.
	TestFiles map[string]string
	ImplFiles map[string]string
	Language  string
	// Threshold is the inclusive minimum mutation score.
	Threshold  float64
	FlakyRuns  int
	MaxMutants int
	Runner     testrun.Runner

	// finalSuite carries the last flaky-gate run to the functional
	// gate so the suite is not executed twice.
	finalSuite *testrun.SuiteResult
}

// Feedback is role-scoped. The controller forwards each field only to
// the worker it names.
type Feedback struct {
	ForAuthor      string
	ForImplementer string
}

// GateResult records one gate's decision for the audit trail.
type GateResult struct {
	Gate    string
	Pass    bool
	Reasons []string
}

// Outcome is the pipeline's full report for one iteration.
type Outcome struct {
	Verdict       domain.Verdict
	Feedback      Feedback
	MutationScore *float64
	Survivors     []domain.MutationSurvivor
	Findings      []domain.CheatFinding
	Flaky         []testrun.FlakyTest
	Gates         []GateResult
}

// failure is a gate's rejection: the verdict it forces and the
// feedback for whichever role must act.
type failure struct {
	verdict        domain.Verdict
	forAuthor      string
	forImplementer string
	reasons        []string
}

// Gate checks one acceptance criterion. A nil failure means the gate
// passed; a non-nil error aborts the whole review.
type Gate interface {
	Name() string
	Check(ctx context.Context, rev *Review, out *Outcome) (*failure, error)
}

// Evaluator runs the gates in their fixed order.
type Evaluator struct {
	gates []Gate
}

// NewEvaluator builds the standard pipeline. A nil strategy selects
// the built-in manual mutation rules.
func NewEvaluator(strategy Strategy) *Evaluator {
	if strategy == nil {
		strategy = ManualRules{}
	}
	return &Evaluator{gates: []Gate{
		alignmentGate{},
		flakyGate{},
		functionalGate{},
		tamperGate{},
		mutationGate{strategy: strategy},
		qualityGate{},
	}}
}

// Evaluate runs every gate in order until one fails. The flaky gate
// failing means no later gate runs; an unstable suite proves nothing.
func (e *Evaluator) Evaluate(ctx context.Context, rev *Review) (*Outcome, error) {
	out := &Outcome{}
	for _, gate := range e.gates {
		fail, err := gate.Check(ctx, rev, out)
		if err != nil {
			return nil, fmt.Errorf("gate %s: %w", gate.Name(), err)
		}
		if fail != nil {
			out.Gates = append(out.Gates, GateResult{Gate: gate.Name(), Pass: false, Reasons: fail.reasons})
			out.Verdict = fail.verdict
			out.Feedback = Feedback{ForAuthor: fail.forAuthor, ForImplementer: fail.forImplementer}
			return out, nil
		}
		out.Gates = append(out.Gates, GateResult{Gate: gate.Name(), Pass: true})
	}
	out.Verdict = domain.VerdictAllPass
	return out, nil
}

// requirementExcerpt returns the opening of the requirement, verbatim,
// for embedding in author feedback.
func requirementExcerpt(req string) string {
	const max = 400
	req = strings.TrimSpace(req)
	if len(req) > max {
		req = req[:max] + " ..."
	}
	return req
}
