package agent

import (
	"strings"
	"testing"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/role"
)

func TestBuildPrompt_Author(t *testing.T) {
	view := role.AuthorView{
		Requirement: "Add two integers and return the sum.",
		Feedback:    "Your tests only covered positive numbers.",
		Survivors: []domain.MutationSurvivor{
			{File: "impl/add.go", Line: 7, Rule: "operator_swap", Description: "+ replaced with -"},
		},
		TestsDir:   "/ws/.verify-orch/tests",
		SignalPath: "/ws/.verify-orch/signals/author.signal",
		Iteration:  2,
	}

	prompt, iteration, err := BuildPrompt(view)
	if err != nil {
		t.Fatal(err)
	}
	if iteration != 2 {
		t.Errorf("iteration = %d, want 2", iteration)
	}
	for _, want := range []string{
		"Add two integers and return the sum.",
		"only covered positive numbers",
		"impl/add.go:7 [operator_swap]",
		"/ws/.verify-orch/tests",
		"/ws/.verify-orch/signals/author.signal",
		"BLOCKED:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("author prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_AuthorFirstIteration(t *testing.T) {
	view := role.AuthorView{
		Requirement: "Reverse a string.",
		TestsDir:    "/ws/tests",
		SignalPath:  "/ws/signals/author.signal",
		Iteration:   1,
	}
	prompt, _, err := BuildPrompt(view)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(prompt, "Reviewer feedback") {
		t.Error("first iteration prompt should carry no feedback section")
	}
	if strings.Contains(prompt, "mutations") {
		t.Error("first iteration prompt should carry no survivor section")
	}
}

// The implementer prompt must never leak the requirement or
// author-facing feedback.
func TestBuildPrompt_ImplementerIsolation(t *testing.T) {
	view := role.ImplementerView{
		StrippedTestPaths: []string{"/ws/.verify-orch/stripped/add_test.go"},
		Feedback:          "Your previous code hardcoded the expected outputs.",
		ImplDir:           "/ws/.verify-orch/impl",
		SignalPath:        "/ws/.verify-orch/signals/implementer.signal",
		Iteration:         3,
	}

	prompt, iteration, err := BuildPrompt(view)
	if err != nil {
		t.Fatal(err)
	}
	if iteration != 3 {
		t.Errorf("iteration = %d, want 3", iteration)
	}
	for _, want := range []string{
		"/ws/.verify-orch/stripped/add_test.go",
		"hardcoded the expected outputs",
		"/ws/.verify-orch/impl",
		"/ws/.verify-orch/signals/implementer.signal",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("implementer prompt missing %q", want)
		}
	}
	if strings.Contains(strings.ToLower(prompt), "requirement") {
		t.Error("implementer prompt must not mention the requirement")
	}
}

func TestBuildPrompt_ReviewerRejected(t *testing.T) {
	if _, _, err := BuildPrompt(role.ReviewerView{}); err == nil {
		t.Error("reviewer has no subprocess prompt")
	}
}

func TestSessionID_Deterministic(t *testing.T) {
	w := NewClaudeWorker("", "", "/ws", "/ws/logs", "run-1")
	a := w.SessionID(role.Author, 1)
	b := w.SessionID(role.Author, 1)
	if a != b {
		t.Errorf("session ID not deterministic: %s vs %s", a, b)
	}
	if a == w.SessionID(role.Author, 2) {
		t.Error("different iterations must get different sessions")
	}
	if a == w.SessionID(role.Implementer, 1) {
		t.Error("different roles must get different sessions")
	}

	other := NewClaudeWorker("", "", "/ws", "/ws/logs", "run-2")
	if a == other.SessionID(role.Author, 1) {
		t.Error("different runs must get different sessions")
	}
}

func TestNewClaudeWorker_DefaultCommand(t *testing.T) {
	w := NewClaudeWorker("", "", "/ws", "/ws/logs", "run-1")
	if w.Command != "claude" {
		t.Errorf("Command = %q, want claude", w.Command)
	}
}
