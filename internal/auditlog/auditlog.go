// Package auditlog is the lossless system of record for a run: every
// transition and every archived history record is appended here. The state
// store's bounded window is only a cache over this file.
package auditlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

// Event tags one audit line with what happened
type Event string

const (
	EventInit             Event = "INIT"
	EventIterStart        Event = "ITER_START"
	EventIterComplete     Event = "ITER_COMPLETE"
	EventAgentInvoked     Event = "AGENT_INVOKED"
	EventAgentCompleted   Event = "AGENT_COMPLETED"
	EventTestsExecuted    Event = "TESTS_EXECUTED"
	EventFlakyDetected    Event = "FLAKY_DETECTED"
	EventCheatingDetected Event = "CHEATING_DETECTED"
	EventMutationScore    Event = "MUTATION_SCORE"
	EventVerdictIssued    Event = "VERDICT_ISSUED"
	EventHistoryArchived  Event = "HISTORY_ARCHIVED"
	EventComplete         Event = "COMPLETE"
	EventError            Event = "ERROR"
	EventCancelled        Event = "CANCELLED"
)

// Log appends timestamped line records to a single file. Nothing is ever
// rewritten or deleted.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a log writing to the given path, creating parent directories
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the file backing this log
func (l *Log) Path() string {
	return l.path
}

// Append writes one line record tagged with iteration and event kind
func (l *Log) Append(iteration int, event Event, message string) error {
	line := fmt.Sprintf("%s\t%d\t%s\t%s\n",
		l.now().UTC().Format(time.RFC3339),
		iteration,
		event,
		strings.ReplaceAll(strings.TrimSpace(message), "\n", " "),
	)
	return l.write(line)
}

// ArchiveHistory durably records a full history record, including the
// complete mutation-survivor list. Records are archived when created,
// so the state store's bounded window may evict them freely.
func (l *Log) ArchiveHistory(rec domain.HistoryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling history record: %w", err)
	}
	line := fmt.Sprintf("%s\t%d\t%s\t%s\n",
		l.now().UTC().Format(time.RFC3339),
		rec.Iteration,
		EventHistoryArchived,
		payload,
	)
	return l.write(line)
}

func (l *Log) write(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("appending audit line: %w", err)
	}
	return file.Sync()
}

// Entry is one parsed audit line
type Entry struct {
	Timestamp time.Time
	Iteration int
	Event     Event
	Message   string
}

// Entries reads back every line in order
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		entry, err := parseLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// HistoryRecords reconstructs every archived history record from the log.
// This is how evicted records remain recoverable.
func (l *Log) HistoryRecords() ([]domain.HistoryRecord, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}

	var records []domain.HistoryRecord
	for _, e := range entries {
		if e.Event != EventHistoryArchived {
			continue
		}
		var rec domain.HistoryRecord
		if err := json.Unmarshal([]byte(e.Message), &rec); err != nil {
			return nil, fmt.Errorf("decoding archived record (iter %d): %w", e.Iteration, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Tail returns up to n of the most recent raw lines
func (l *Log) Tail(n int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func parseLine(line string) (Entry, error) {
	parts := strings.SplitN(line, "\t", 4)
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("malformed audit line: %q", line)
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed audit timestamp: %w", err)
	}
	iter, err := strconv.Atoi(parts[1])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed audit iteration: %w", err)
	}
	return Entry{
		Timestamp: ts,
		Iteration: iter,
		Event:     Event(parts[2]),
		Message:   parts[3],
	}, nil
}
