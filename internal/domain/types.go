package domain

// Phase represents the run's position in the verification state machine
type Phase string

const (
	PhaseWritingTests Phase = "writing_tests"
	PhaseWritingCode  Phase = "writing_code"
	PhaseReviewing    Phase = "reviewing"
	PhaseComplete     Phase = "complete"
	PhaseCancelled    Phase = "cancelled"
	PhaseMaxIter      Phase = "max_iterations"
	PhaseError        Phase = "error"
)

// Terminal reports whether the phase ends the run
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseCancelled, PhaseMaxIter, PhaseError:
		return true
	}
	return false
}

// Verdict is the reviewer's decision, the sole signal driving phase transitions
type Verdict string

const (
	VerdictAllPass   Verdict = "ALL_PASS"
	VerdictWeakTests Verdict = "WEAK_TESTS"
	VerdictWeakCode  Verdict = "WEAK_CODE"
)

// Valid reports whether v is one of the three known verdicts
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAllPass, VerdictWeakTests, VerdictWeakCode:
		return true
	}
	return false
}

// NextPhase returns the phase the verdict transitions to
func (v Verdict) NextPhase() Phase {
	switch v {
	case VerdictAllPass:
		return PhaseComplete
	case VerdictWeakTests:
		return PhaseWritingTests
	case VerdictWeakCode:
		return PhaseWritingCode
	}
	return PhaseError
}

// Retries reports whether the verdict sends the run into another iteration
func (v Verdict) Retries() bool {
	return v == VerdictWeakTests || v == VerdictWeakCode
}

// StoppedReason records why a run became inactive
type StoppedReason string

const (
	StopCompleted     StoppedReason = "completed"
	StopCancelled     StoppedReason = "cancelled"
	StopMaxIterations StoppedReason = "max_iterations"
	StopWorkerError   StoppedReason = "worker_error"
)

// TestScope selects which kinds of tests the author is asked to write
type TestScope string

const (
	ScopeUnit        TestScope = "unit"
	ScopeIntegration TestScope = "integration"
	ScopeBoth        TestScope = "both"
)
