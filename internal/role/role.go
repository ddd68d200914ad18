// Package role defines the worker invocation boundary: which role a
// worker plays, the view of the workspace it is allowed to see, and
// the completion signal it must leave behind.
//
// Information barriers are structural. Each view type only carries the
// fields its role's contract permits, so a worker cannot read what it
// was never handed.
package role

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

// Role identifies one of the three workers.
type Role string

const (
	Author      Role = "author"
	Implementer Role = "implementer"
	Reviewer    Role = "reviewer"
)

// View is the slice of run state handed to a worker. Views are built
// fresh per invocation and never persisted.
type View interface {
	For() Role
	// SignalFile is where the worker must write its completion signal.
	SignalFile() string
	// Validate checks a completion signal against the role's contract.
	Validate(sig *Signal) error
}

// AuthorView is what the test author sees: the requirement, feedback
// addressed to the author, and surviving mutants from the previous
// review. Never implementation content.
type AuthorView struct {
	Requirement string
	Feedback    string
	Survivors   []domain.MutationSurvivor
	TestsDir    string
	SignalPath  string
	Iteration   int
}

func (v AuthorView) For() Role          { return Author }
func (v AuthorView) SignalFile() string { return v.SignalPath }

func (v AuthorView) Validate(sig *Signal) error {
	if sig.Status == StatusDone && len(sig.Refs) == 0 {
		return fmt.Errorf("author signaled DONE without referencing any test artifact")
	}
	return nil
}

// ImplementerView is what the implementer sees: comment-stripped test
// files and feedback addressed to the implementer. Never the
// requirement, never author-facing feedback.
type ImplementerView struct {
	StrippedTestPaths []string
	Feedback          string
	ImplDir           string
	SignalPath        string
	Iteration         int
}

func (v ImplementerView) For() Role          { return Implementer }
func (v ImplementerView) SignalFile() string { return v.SignalPath }

func (v ImplementerView) Validate(sig *Signal) error {
	if sig.Status == StatusDone && len(sig.Refs) == 0 {
		return fmt.Errorf("implementer signaled DONE without referencing any implementation artifact")
	}
	return nil
}

// ReviewerView is the only view with full visibility: requirement,
// unstripped tests, and implementation.
type ReviewerView struct {
	Requirement string
	TestPaths   []string
	ImplPaths   []string
	Workspace   string
	// StageDir is where tests and implementation are combined into one
	// buildable tree before the suite runs.
	StageDir          string
	Language          string
	MutationThreshold float64
	FlakyRuns         int
	SignalPath        string
	Iteration         int
}

func (v ReviewerView) For() Role          { return Reviewer }
func (v ReviewerView) SignalFile() string { return v.SignalPath }

// Validate requires a DONE reviewer signal to carry exactly one
// reference, the verdict.
func (v ReviewerView) Validate(sig *Signal) error {
	if sig.Status != StatusDone {
		return nil
	}
	if len(sig.Refs) != 1 {
		return fmt.Errorf("reviewer signaled DONE with %d refs, want exactly the verdict", len(sig.Refs))
	}
	if !domain.Verdict(sig.Refs[0]).Valid() {
		return fmt.Errorf("reviewer signaled unknown verdict %q", sig.Refs[0])
	}
	return nil
}

// Worker performs one role's turn: do the work described by the view,
// write the artifacts, then write the completion signal at
// view.SignalFile(). The coordinator never inspects how.
type Worker interface {
	Invoke(ctx context.Context, view View) error
}
