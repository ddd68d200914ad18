// Package runstore provides SQLite-backed persistence for the current run
// and its bounded history window. The audit log, not this store, is the
// system of record: history here is a recency cache of at most
// domain.HistoryWindow records.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrRunActive is returned when creating a run while another is active
	ErrRunActive = errors.New("a run is already active in this workspace")
	// ErrNoActiveRun is returned when no active run exists
	ErrNoActiveRun = errors.New("no active run")
)

// Store provides run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const runColumns = `id, active, iteration, max_iterations, phase, last_verdict,
	mutation_threshold, requirement_path, test_paths, impl_paths, mutation_score,
	stopped_reason, language, test_scope, notes, started_at, completed_at`

// CreateRun inserts a new run. Fails with ErrRunActive if another run is
// active; the caller's run is not mutated in that case.
func (s *Store) CreateRun(run *domain.Run) error {
	if run.Active {
		var existing string
		err := s.db.QueryRow(`SELECT id FROM runs WHERE active = 1`).Scan(&existing)
		if err == nil {
			return ErrRunActive
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	testJSON, implJSON, err := marshalPaths(run)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Active,
		run.Iteration,
		run.MaxIterations,
		string(run.Phase),
		verdictValue(run.LastVerdict),
		run.MutationThreshold,
		run.RequirementPath,
		testJSON,
		implJSON,
		run.MutationScore,
		reasonValue(run.StoppedReason),
		run.Language,
		string(run.TestScope),
		run.Notes,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrRunActive
	}
	return err
}

// SaveRun updates an existing run record
func (s *Store) SaveRun(run *domain.Run) error {
	testJSON, implJSON, err := marshalPaths(run)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE runs SET
			active = ?,
			iteration = ?,
			max_iterations = ?,
			phase = ?,
			last_verdict = ?,
			mutation_threshold = ?,
			requirement_path = ?,
			test_paths = ?,
			impl_paths = ?,
			mutation_score = ?,
			stopped_reason = ?,
			language = ?,
			test_scope = ?,
			notes = ?,
			started_at = ?,
			completed_at = ?
		WHERE id = ?
	`,
		run.Active,
		run.Iteration,
		run.MaxIterations,
		string(run.Phase),
		verdictValue(run.LastVerdict),
		run.MutationThreshold,
		run.RequirementPath,
		testJSON,
		implJSON,
		run.MutationScore,
		reasonValue(run.StoppedReason),
		run.Language,
		string(run.TestScope),
		run.Notes,
		run.StartedAt,
		run.CompletedAt,
		run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return err
}

// ActiveRun returns the single active run, or ErrNoActiveRun
func (s *Store) ActiveRun() (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs WHERE active = 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveRun
	}
	return run, err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestRun returns the most recently started run, active or not
func (s *Store) LatestRun() (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveRun
	}
	return run, err
}

// AppendHistory adds one history record to the run's window. Enforcing the
// window bound (archive then evict) is the controller's job.
func (s *Store) AppendHistory(runID string, rec domain.HistoryRecord) error {
	survivorsJSON, err := json.Marshal(rec.Survivors)
	if err != nil {
		return fmt.Errorf("marshaling survivors: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO history (run_id, iteration, verdict, author_feedback, implementer_feedback, mutation_score, survivors, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		rec.Iteration,
		string(rec.Verdict),
		rec.AuthorFeedback,
		rec.ImplementerFeedback,
		rec.MutationScore,
		string(survivorsJSON),
		rec.RecordedAt,
	)
	return err
}

// History returns the run's retained records, oldest first
func (s *Store) History(runID string) ([]domain.HistoryRecord, error) {
	rows, err := s.db.Query(`
		SELECT iteration, verdict, author_feedback, implementer_feedback, mutation_score, survivors, recorded_at
		FROM history WHERE run_id = ? ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// HistoryCount returns how many records the window currently holds
func (s *Store) HistoryCount(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM history WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}

// OldestHistory returns the oldest retained record, for archive-then-evict
func (s *Store) OldestHistory(runID string) (*domain.HistoryRecord, error) {
	rows, err := s.db.Query(`
		SELECT iteration, verdict, author_feedback, implementer_feedback, mutation_score, survivors, recorded_at
		FROM history WHERE run_id = ? ORDER BY iteration LIMIT 1
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteHistory evicts one record from the window. Callers must have
// archived it to the audit log first; this store never checks that.
func (s *Store) DeleteHistory(runID string, iteration int) error {
	_, err := s.db.Exec(`DELETE FROM history WHERE run_id = ? AND iteration = ?`, runID, iteration)
	return err
}

func marshalPaths(run *domain.Run) (string, string, error) {
	testJSON, err := json.Marshal(run.TestPaths)
	if err != nil {
		return "", "", err
	}
	implJSON, err := json.Marshal(run.ImplPaths)
	if err != nil {
		return "", "", err
	}
	return string(testJSON), string(implJSON), nil
}

func verdictValue(v *domain.Verdict) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func reasonValue(r *domain.StoppedReason) any {
	if r == nil {
		return nil
	}
	return string(*r)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the error text
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var phase, testJSON, implJSON string
	var lastVerdict, stoppedReason sql.NullString
	var mutationScore sql.NullFloat64
	var language, testScope, notes sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Active,
		&run.Iteration,
		&run.MaxIterations,
		&phase,
		&lastVerdict,
		&run.MutationThreshold,
		&run.RequirementPath,
		&testJSON,
		&implJSON,
		&mutationScore,
		&stoppedReason,
		&language,
		&testScope,
		&notes,
		&run.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Phase = domain.Phase(phase)
	if lastVerdict.Valid {
		v := domain.Verdict(lastVerdict.String)
		run.LastVerdict = &v
	}
	if stoppedReason.Valid {
		r := domain.StoppedReason(stoppedReason.String)
		run.StoppedReason = &r
	}
	if mutationScore.Valid {
		run.MutationScore = &mutationScore.Float64
	}
	run.Language = language.String
	run.TestScope = domain.TestScope(testScope.String)
	run.Notes = notes.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(testJSON), &run.TestPaths); err != nil {
		return nil, fmt.Errorf("decoding test paths: %w", err)
	}
	if err := json.Unmarshal([]byte(implJSON), &run.ImplPaths); err != nil {
		return nil, fmt.Errorf("decoding impl paths: %w", err)
	}

	return &run, nil
}

func scanHistory(rows *sql.Rows) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var verdict, survivorsJSON string
	var mutationScore sql.NullFloat64
	var recordedAt time.Time

	err := rows.Scan(
		&rec.Iteration,
		&verdict,
		&rec.AuthorFeedback,
		&rec.ImplementerFeedback,
		&mutationScore,
		&survivorsJSON,
		&recordedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Verdict = domain.Verdict(verdict)
	if mutationScore.Valid {
		rec.MutationScore = &mutationScore.Float64
	}
	rec.RecordedAt = recordedAt
	if survivorsJSON != "" && survivorsJSON != "null" {
		if err := json.Unmarshal([]byte(survivorsJSON), &rec.Survivors); err != nil {
			return rec, fmt.Errorf("decoding survivors: %w", err)
		}
	}
	return rec, nil
}
