package auditlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := New(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	return log
}

func TestLog_AppendAndEntries(t *testing.T) {
	log := newTestLog(t)

	if err := log.Append(0, EventInit, "run created"); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(1, EventIterStart, "iteration 1"); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(1, EventVerdictIssued, "WEAK_TESTS"); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Event != EventInit {
		t.Errorf("entries[0].Event = %s, want INIT", entries[0].Event)
	}
	if entries[2].Message != "WEAK_TESTS" {
		t.Errorf("entries[2].Message = %q, want WEAK_TESTS", entries[2].Message)
	}
	if entries[1].Iteration != 1 {
		t.Errorf("entries[1].Iteration = %d, want 1", entries[1].Iteration)
	}
}

func TestLog_MultilineMessageFlattened(t *testing.T) {
	log := newTestLog(t)

	if err := log.Append(1, EventError, "line one\nline two"); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (newline must not split the record)", len(entries))
	}
}

func TestLog_ArchiveHistoryRoundTrip(t *testing.T) {
	log := newTestLog(t)

	score := 0.65
	rec := domain.HistoryRecord{
		Iteration:      2,
		Verdict:        domain.VerdictWeakTests,
		AuthorFeedback: "surviving mutants indicate missing boundary tests",
		MutationScore:  &score,
		Survivors: []domain.MutationSurvivor{
			{File: "impl/add.go", Line: 4, Rule: "operator_swap", Original: "a + b", Mutated: "a - b"},
			{File: "impl/add.go", Line: 4, Rule: "constant_change", Original: "0", Mutated: "1"},
		},
		RecordedAt: time.Now().UTC(),
	}
	if err := log.ArchiveHistory(rec); err != nil {
		t.Fatal(err)
	}

	records, err := log.HistoryRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	got := records[0]
	if got.Iteration != 2 || got.Verdict != domain.VerdictWeakTests {
		t.Errorf("record = %+v, want iteration 2 WEAK_TESTS", got)
	}
	if got.MutationScore == nil || *got.MutationScore != 0.65 {
		t.Errorf("MutationScore = %v, want 0.65", got.MutationScore)
	}
	if len(got.Survivors) != 2 {
		t.Fatalf("survivors = %d, want 2 (full detail must survive archiving)", len(got.Survivors))
	}
	if got.Survivors[0].Mutated != "a - b" {
		t.Errorf("survivor detail lost: %+v", got.Survivors[0])
	}
}

func TestLog_Tail(t *testing.T) {
	log := newTestLog(t)

	for i := 1; i <= 5; i++ {
		if err := log.Append(i, EventIterStart, "go"); err != nil {
			t.Fatal(err)
		}
	}

	lines, err := log.Tail(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("tail = %d lines, want 2", len(lines))
	}
}

func TestLog_EmptyFile(t *testing.T) {
	log := newTestLog(t)

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("entries = %v, want nil for missing file", entries)
	}
}
