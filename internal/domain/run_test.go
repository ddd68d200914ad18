package domain

import (
	"testing"
	"time"
)

func TestVerdict_NextPhase(t *testing.T) {
	tests := []struct {
		verdict Verdict
		want    Phase
	}{
		{VerdictAllPass, PhaseComplete},
		{VerdictWeakTests, PhaseWritingTests},
		{VerdictWeakCode, PhaseWritingCode},
		{Verdict("bogus"), PhaseError},
	}

	for _, tt := range tests {
		if got := tt.verdict.NextPhase(); got != tt.want {
			t.Errorf("NextPhase(%s) = %s, want %s", tt.verdict, got, tt.want)
		}
	}
}

func TestVerdict_Retries(t *testing.T) {
	if VerdictAllPass.Retries() {
		t.Error("ALL_PASS should not retry")
	}
	if !VerdictWeakTests.Retries() {
		t.Error("WEAK_TESTS should retry")
	}
	if !VerdictWeakCode.Retries() {
		t.Error("WEAK_CODE should retry")
	}
}

func TestPhase_Terminal(t *testing.T) {
	terminals := []Phase{PhaseComplete, PhaseCancelled, PhaseMaxIter, PhaseError}
	for _, p := range terminals {
		if !p.Terminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
	active := []Phase{PhaseWritingTests, PhaseWritingCode, PhaseReviewing}
	for _, p := range active {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}

func TestRun_BudgetExhausted(t *testing.T) {
	run := &Run{Iteration: 2, MaxIterations: 2}
	if run.BudgetExhausted() {
		t.Error("iteration == max should not be exhausted")
	}
	run.Iteration = 3
	if !run.BudgetExhausted() {
		t.Error("iteration > max should be exhausted")
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	end := start.Add(30 * time.Second)
	run := &Run{StartedAt: start, CompletedAt: &end}
	if got := run.Duration(); got != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", got)
	}
}
