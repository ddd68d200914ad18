package domain

import "time"

// Run represents one adversarial verification run. At most one run is active
// per workspace; the controller is its only writer.
type Run struct {
	ID                string
	Active            bool
	Iteration         int // 1-based, increments once per completed review
	MaxIterations     int
	Phase             Phase
	LastVerdict       *Verdict
	MutationThreshold float64 // kill ratio required to pass the mutation gate, in [0,1]
	RequirementPath   string
	TestPaths         []string
	ImplPaths         []string
	MutationScore     *float64
	StoppedReason     *StoppedReason
	Language          string
	TestScope         TestScope
	Notes             string
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// Duration returns how long the run has been going (or took)
func (r *Run) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// BudgetExhausted reports whether another iteration would exceed the budget
func (r *Run) BudgetExhausted() bool {
	return r.Iteration > r.MaxIterations
}

// MutationSurvivor describes a mutant the test suite failed to kill
type MutationSurvivor struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Rule        string `json:"rule"`
	Original    string `json:"original"`
	Mutated     string `json:"mutated"`
	Description string `json:"description"`
}

// CheatFinding locates a suspected cheat pattern in the implementation
type CheatFinding struct {
	PatternType string `json:"pattern_type"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Snippet     string `json:"snippet"`
	Severity    string `json:"severity"` // "high", "medium", "low"
}

// HistoryRecord captures the outcome of one completed iteration.
// AuthorFeedback and ImplementerFeedback are routed so each role only ever
// sees its own string; in practice at most one of the two is non-empty.
type HistoryRecord struct {
	Iteration           int                `json:"iteration"`
	Verdict             Verdict            `json:"verdict"`
	AuthorFeedback      string             `json:"author_feedback,omitempty"`
	ImplementerFeedback string             `json:"implementer_feedback,omitempty"`
	MutationScore       *float64           `json:"mutation_score,omitempty"`
	Survivors           []MutationSurvivor `json:"mutation_survivors,omitempty"`
	RecordedAt          time.Time          `json:"recorded_at"`
}

// HistoryWindow is how many recent records the state store retains.
// Older records are evicted after being archived to the audit log.
const HistoryWindow = 3
