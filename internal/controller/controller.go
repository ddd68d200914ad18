// Package controller drives the verification loop: it owns the run's
// state machine, commissions one worker at a time, applies verdicts,
// and keeps the state store and audit log consistent.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/auditlog"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/role"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/runstore"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/stripper"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/verdict"
)

// DefaultSignalTimeout bounds how long the controller waits for a
// worker's completion signal.
const DefaultSignalTimeout = 30 * time.Minute

// outcomeSource is satisfied by the in-process reviewer; it exposes
// the full gate report behind the verdict signal.
type outcomeSource interface {
	Outcome() *verdict.Outcome
}

// Options wires a Controller. All three workers are required.
type Options struct {
	Workspace     string
	Config        *config.Config
	Author        role.Worker
	Implementer   role.Worker
	Reviewer      role.Worker
	SignalTimeout time.Duration
	Logger        *log.Logger
}

// Controller coordinates one workspace's verification runs.
type Controller struct {
	cfg           *config.Config
	workspace     string
	artifacts     *artifact.Store
	runs          *runstore.Store
	audit         *auditlog.Log
	author        role.Worker
	implementer   role.Worker
	reviewer      role.Worker
	signalTimeout time.Duration
	logger        *log.Logger
}

// New opens (creating if needed) the workspace's state directory,
// state database and audit log.
func New(opts Options) (*Controller, error) {
	if opts.Author == nil || opts.Implementer == nil || opts.Reviewer == nil {
		return nil, fmt.Errorf("controller requires all three workers")
	}
	if opts.SignalTimeout == 0 {
		opts.SignalTimeout = DefaultSignalTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	artifacts := artifact.NewStore(opts.Config.StateDirPath(opts.Workspace))
	if err := artifacts.Init(); err != nil {
		return nil, err
	}

	runs, err := runstore.New(artifacts.Layout().StatePath())
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	audit, err := auditlog.New(artifacts.Layout().AuditPath())
	if err != nil {
		runs.Close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	return &Controller{
		cfg:           opts.Config,
		workspace:     opts.Workspace,
		artifacts:     artifacts,
		runs:          runs,
		audit:         audit,
		author:        opts.Author,
		implementer:   opts.Implementer,
		reviewer:      opts.Reviewer,
		signalTimeout: opts.SignalTimeout,
		logger:        opts.Logger,
	}, nil
}

// Close releases the state store.
func (c *Controller) Close() error {
	return c.runs.Close()
}

// Audit exposes the audit log for the CLI's log and watch commands.
func (c *Controller) Audit() *auditlog.Log {
	return c.audit
}

// StartOptions are the per-run overrides accepted by Start. Zero
// values fall back to the loaded configuration.
type StartOptions struct {
	Requirement       string
	Notes             string
	MaxIterations     int
	MutationThreshold float64
	TestScope         string
	Language          string
}

// Start creates a new run in WRITING_TESTS and persists the immutable
// requirement artifact. It fails without side effects when a run is
// already active.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (*domain.Run, error) {
	if opts.Requirement == "" {
		return nil, fmt.Errorf("requirement text is required")
	}

	if _, err := c.runs.ActiveRun(); err == nil {
		return nil, runstore.ErrRunActive
	} else if !errors.Is(err, runstore.ErrNoActiveRun) {
		return nil, err
	}

	run := &domain.Run{
		ID:                uuid.NewString(),
		Active:            true,
		Iteration:         1,
		MaxIterations:     c.cfg.Loop.MaxIterations,
		Phase:             domain.PhaseWritingTests,
		MutationThreshold: c.cfg.Loop.MutationThreshold,
		RequirementPath:   c.artifacts.Layout().RequirementPath(),
		Language:          c.cfg.Loop.Language,
		TestScope:         domain.TestScope(c.cfg.Loop.TestScope),
		Notes:             opts.Notes,
		StartedAt:         time.Now().UTC(),
	}
	if opts.MaxIterations > 0 {
		run.MaxIterations = opts.MaxIterations
	}
	if opts.MutationThreshold > 0 {
		run.MutationThreshold = opts.MutationThreshold
	}
	if opts.TestScope != "" {
		run.TestScope = domain.TestScope(opts.TestScope)
	}
	if opts.Language != "" {
		run.Language = opts.Language
	}

	switch run.TestScope {
	case domain.ScopeUnit, domain.ScopeIntegration, domain.ScopeBoth:
	default:
		return nil, fmt.Errorf("unknown test scope %q", run.TestScope)
	}
	if run.MutationThreshold < 0 || run.MutationThreshold > 1 {
		return nil, fmt.Errorf("mutation threshold must be in [0,1], got %v", run.MutationThreshold)
	}
	if _, err := stripper.ForTag(run.Language); err != nil {
		return nil, err
	}

	// Artifacts from the previous (terminal) run are replaced now, not
	// at its end, so a cancelled run stays inspectable.
	if err := c.artifacts.ClearRun(); err != nil {
		return nil, fmt.Errorf("clearing previous run artifacts: %w", err)
	}
	if err := c.artifacts.WriteRequirement(opts.Requirement, artifact.RequirementMeta{
		RunID:     run.ID,
		Language:  run.Language,
		TestScope: string(run.TestScope),
	}); err != nil {
		return nil, err
	}

	if err := c.runs.CreateRun(run); err != nil {
		return nil, err
	}
	c.auditAppend(run.Iteration, auditlog.EventInit, fmt.Sprintf("run %s started (max_iterations=%d threshold=%.2f language=%s scope=%s)",
		run.ID, run.MaxIterations, run.MutationThreshold, run.Language, run.TestScope))
	c.auditAppend(run.Iteration, auditlog.EventIterStart, fmt.Sprintf("iteration %d of %d", run.Iteration, run.MaxIterations))
	c.logger.Printf("started run %s", run.ID)
	return run, nil
}

// RunLoop drives the active run until it reaches a terminal phase.
// Terminal runs are no longer active, so the loop reloads through
// Status to observe the final state.
func (c *Controller) RunLoop(ctx context.Context) (*domain.Run, error) {
	for {
		run, err := c.Status()
		if err != nil {
			return nil, err
		}
		if run.Phase.Terminal() {
			return run, nil
		}
		if err := ctx.Err(); err != nil {
			return run, err
		}
		if err := c.Step(ctx); err != nil {
			return nil, err
		}
	}
}

// Step advances the active run by exactly one phase.
func (c *Controller) Step(ctx context.Context) error {
	run, err := c.runs.ActiveRun()
	if err != nil {
		return err
	}

	switch run.Phase {
	case domain.PhaseWritingTests:
		return c.stepAuthor(ctx, run)
	case domain.PhaseWritingCode:
		return c.stepImplementer(ctx, run)
	case domain.PhaseReviewing:
		return c.stepReviewer(ctx, run)
	default:
		return fmt.Errorf("run %s is in terminal phase %s", run.ID, run.Phase)
	}
}

func (c *Controller) stepAuthor(ctx context.Context, run *domain.Run) error {
	requirement, _, err := c.artifacts.ReadRequirement()
	if err != nil {
		return c.failRun(run, fmt.Sprintf("reading requirement: %v", err))
	}

	view := role.AuthorView{
		Requirement: requirement,
		TestsDir:    c.artifacts.Layout().TestsDir(),
		SignalPath:  c.signalPath(role.Author, run.Iteration),
		Iteration:   run.Iteration,
	}
	if last := c.lastRecord(run); last != nil && last.Verdict == domain.VerdictWeakTests {
		view.Feedback = last.AuthorFeedback
		view.Survivors = redactSurvivors(last.Survivors)
	}

	sig, err := c.invokeAndAwait(ctx, c.author, view, run.Iteration)
	if err != nil {
		return c.failRun(run, err.Error())
	}
	if sig.Status == role.StatusBlocked {
		return c.failRun(run, fmt.Sprintf("author blocked: %s", sig.Reason))
	}

	run.TestPaths = c.resolveRefs(c.artifacts.Layout().TestsDir(), sig.Refs)
	run.Phase = domain.PhaseWritingCode
	return c.runs.SaveRun(run)
}

func (c *Controller) stepImplementer(ctx context.Context, run *domain.Run) error {
	stripped, err := c.stripTests(run)
	if err != nil {
		return c.failRun(run, fmt.Sprintf("stripping tests: %v", err))
	}

	view := role.ImplementerView{
		StrippedTestPaths: stripped,
		ImplDir:           c.artifacts.Layout().ImplDir(),
		SignalPath:        c.signalPath(role.Implementer, run.Iteration),
		Iteration:         run.Iteration,
	}
	if last := c.lastRecord(run); last != nil && last.Verdict == domain.VerdictWeakCode {
		view.Feedback = last.ImplementerFeedback
	}

	sig, err := c.invokeAndAwait(ctx, c.implementer, view, run.Iteration)
	if err != nil {
		return c.failRun(run, err.Error())
	}
	if sig.Status == role.StatusBlocked {
		return c.failRun(run, fmt.Sprintf("implementer blocked: %s", sig.Reason))
	}

	run.ImplPaths = c.resolveRefs(c.artifacts.Layout().ImplDir(), sig.Refs)
	run.Phase = domain.PhaseReviewing
	return c.runs.SaveRun(run)
}

func (c *Controller) stepReviewer(ctx context.Context, run *domain.Run) error {
	requirement, _, err := c.artifacts.ReadRequirement()
	if err != nil {
		return c.failRun(run, fmt.Sprintf("reading requirement: %v", err))
	}

	view := role.ReviewerView{
		Requirement:       requirement,
		TestPaths:         run.TestPaths,
		ImplPaths:         run.ImplPaths,
		Workspace:         c.workspace,
		StageDir:          c.artifacts.Layout().StageDir(),
		Language:          run.Language,
		MutationThreshold: run.MutationThreshold,
		FlakyRuns:         c.cfg.Loop.FlakyRuns,
		SignalPath:        c.signalPath(role.Reviewer, run.Iteration),
		Iteration:         run.Iteration,
	}

	sig, err := c.invokeAndAwait(ctx, c.reviewer, view, run.Iteration)
	if err != nil {
		return c.failRun(run, err.Error())
	}
	if sig.Status == role.StatusBlocked {
		return c.failRun(run, fmt.Sprintf("reviewer blocked: %s", sig.Reason))
	}

	v := domain.Verdict(sig.Refs[0])
	return c.applyVerdict(run, v)
}

// applyVerdict records the iteration's history, archives it to the
// audit log, enforces the history window, and transitions the run.
func (c *Controller) applyVerdict(run *domain.Run, v domain.Verdict) error {
	rec := domain.HistoryRecord{
		Iteration:  run.Iteration,
		Verdict:    v,
		RecordedAt: time.Now().UTC(),
	}

	if src, ok := c.reviewer.(outcomeSource); ok {
		if out := src.Outcome(); out != nil {
			rec.AuthorFeedback = out.Feedback.ForAuthor
			rec.ImplementerFeedback = out.Feedback.ForImplementer
			rec.MutationScore = out.MutationScore
			rec.Survivors = out.Survivors
			c.auditOutcome(run.Iteration, out)
			run.MutationScore = out.MutationScore
		}
	}

	if err := c.runs.AppendHistory(run.ID, rec); err != nil {
		return err
	}
	// Every record goes to the audit log the moment it exists. The
	// state store's window is only a cache; losing a record there must
	// never lose it for good.
	if err := c.audit.ArchiveHistory(rec); err != nil {
		return fmt.Errorf("archiving history record %d: %w", rec.Iteration, err)
	}
	if err := c.enforceHistoryWindow(run); err != nil {
		return err
	}

	c.auditAppend(run.Iteration, auditlog.EventVerdictIssued, string(v))
	c.auditAppend(run.Iteration, auditlog.EventIterComplete, fmt.Sprintf("iteration %d finished with %s", run.Iteration, v))

	run.LastVerdict = &v
	switch {
	case v == domain.VerdictAllPass:
		c.finishRun(run, domain.PhaseComplete, domain.StopCompleted)
		c.auditAppend(run.Iteration, auditlog.EventComplete, "all gates passed")
	case v.Retries():
		run.Iteration++
		if run.BudgetExhausted() {
			c.finishRun(run, domain.PhaseMaxIter, domain.StopMaxIterations)
			c.auditAppend(run.MaxIterations, auditlog.EventComplete, "iteration budget exhausted")
		} else {
			run.Phase = v.NextPhase()
			c.auditAppend(run.Iteration, auditlog.EventIterStart, fmt.Sprintf("iteration %d of %d", run.Iteration, run.MaxIterations))
		}
	default:
		return c.failRun(run, fmt.Sprintf("unknown verdict %q", v))
	}
	return c.runs.SaveRun(run)
}

// enforceHistoryWindow evicts the oldest history record once the
// window overflows. Records are archived at creation in applyVerdict,
// so eviction here only drops the cached copy.
func (c *Controller) enforceHistoryWindow(run *domain.Run) error {
	count, err := c.runs.HistoryCount(run.ID)
	if err != nil {
		return err
	}
	for count > domain.HistoryWindow {
		oldest, err := c.runs.OldestHistory(run.ID)
		if err != nil {
			return err
		}
		if oldest == nil {
			return nil
		}
		if err := c.runs.DeleteHistory(run.ID, oldest.Iteration); err != nil {
			return err
		}
		count--
	}
	return nil
}

func (c *Controller) auditOutcome(iteration int, out *verdict.Outcome) {
	c.auditAppend(iteration, auditlog.EventTestsExecuted, fmt.Sprintf("%d gates evaluated", len(out.Gates)))
	if len(out.Flaky) > 0 {
		names := make([]string, len(out.Flaky))
		for i, f := range out.Flaky {
			names[i] = f.Name
		}
		c.auditAppend(iteration, auditlog.EventFlakyDetected, fmt.Sprintf("%d flaky tests: %v", len(names), names))
	}
	if len(out.Findings) > 0 {
		c.auditAppend(iteration, auditlog.EventCheatingDetected, fmt.Sprintf("%d cheat findings", len(out.Findings)))
	}
	if out.MutationScore != nil {
		c.auditAppend(iteration, auditlog.EventMutationScore, fmt.Sprintf("%.2f (%d survivors)", *out.MutationScore, len(out.Survivors)))
	}
}

// auditAppend writes an audit entry, logging rather than failing when
// the write does not land. History archival stays fatal; these event
// lines do not.
func (c *Controller) auditAppend(iteration int, event auditlog.Event, message string) {
	if err := c.audit.Append(iteration, event, message); err != nil {
		c.logger.Printf("audit write failed (%s): %v", event, err)
	}
}

// redactSurvivors strips the implementation source lines from survivor
// reports. The author only learns where a mutant lived and what rule
// produced it, never the code itself.
func redactSurvivors(in []domain.MutationSurvivor) []domain.MutationSurvivor {
	out := make([]domain.MutationSurvivor, len(in))
	for i, s := range in {
		s.Original = ""
		s.Mutated = ""
		out[i] = s
	}
	return out
}

// invokeAndAwait runs one worker turn end to end: invoke, wait for the
// signal file, parse and validate it against the view's contract.
func (c *Controller) invokeAndAwait(ctx context.Context, worker role.Worker, view role.View, iteration int) (*role.Signal, error) {
	r := view.For()
	c.auditAppend(iteration, auditlog.EventAgentInvoked, string(r))
	c.logger.Printf("invoking %s (iteration %d)", r, iteration)

	if err := worker.Invoke(ctx, view); err != nil {
		return nil, fmt.Errorf("%s worker: %w", r, err)
	}
	if err := role.WaitSignal(ctx, view.SignalFile(), c.signalTimeout); err != nil {
		return nil, fmt.Errorf("%s signal: %w", r, err)
	}
	sig, err := role.ReadSignal(view.SignalFile())
	if err != nil {
		return nil, fmt.Errorf("%s signal: %w", r, err)
	}
	if err := view.Validate(sig); err != nil {
		return nil, fmt.Errorf("%s signal: %w", r, err)
	}

	c.auditAppend(iteration, auditlog.EventAgentCompleted, fmt.Sprintf("%s: %s", r, sig.Status))
	return sig, nil
}

// stripTests rebuilds the stripped test copies from the current test
// artifacts. The implementer only ever sees these.
func (c *Controller) stripTests(run *domain.Run) ([]string, error) {
	if err := c.artifacts.ClearStripped(); err != nil {
		return nil, err
	}
	var stripped []string
	for _, path := range run.TestPaths {
		src, err := c.artifacts.Read(path)
		if err != nil {
			return nil, err
		}
		out, err := stripper.StripFile(path, src)
		if err != nil {
			// Unknown extension: pass the file through unmodified
			// rather than hiding it from the implementer.
			out = src
		}
		dest := filepath.Join(c.artifacts.Layout().StrippedDir(), filepath.Base(path))
		if err := c.artifacts.Write(dest, out); err != nil {
			return nil, err
		}
		stripped = append(stripped, dest)
	}
	return stripped, nil
}

// Cancel terminates the active run, preserving artifacts and history.
func (c *Controller) Cancel(ctx context.Context) (*domain.Run, error) {
	run, err := c.runs.ActiveRun()
	if err != nil {
		return nil, err
	}
	c.finishRun(run, domain.PhaseCancelled, domain.StopCancelled)
	if err := c.runs.SaveRun(run); err != nil {
		return nil, err
	}
	c.auditAppend(run.Iteration, auditlog.EventCancelled, fmt.Sprintf("run %s cancelled in iteration %d", run.ID, run.Iteration))
	c.logger.Printf("cancelled run %s", run.ID)
	return run, nil
}

// Status returns the active run, or the most recent one when none is
// active.
func (c *Controller) Status() (*domain.Run, error) {
	run, err := c.runs.ActiveRun()
	if errors.Is(err, runstore.ErrNoActiveRun) {
		return c.runs.LatestRun()
	}
	return run, err
}

// History returns the retained history window for a run, oldest first.
func (c *Controller) History(runID string) ([]domain.HistoryRecord, error) {
	return c.runs.History(runID)
}

// failRun moves the run to the ERROR terminal. Worker failures are
// never auto-retried; the loop ends and Status carries the phase. Only
// a persistence failure is returned as an error.
func (c *Controller) failRun(run *domain.Run, reason string) error {
	c.auditAppend(run.Iteration, auditlog.EventError, reason)
	c.logger.Printf("run %s failed: %s", run.ID, reason)
	c.finishRun(run, domain.PhaseError, domain.StopWorkerError)
	return c.runs.SaveRun(run)
}

func (c *Controller) finishRun(run *domain.Run, phase domain.Phase, reason domain.StoppedReason) {
	now := time.Now().UTC()
	run.Phase = phase
	run.Active = false
	run.StoppedReason = &reason
	run.CompletedAt = &now
}

func (c *Controller) signalPath(r role.Role, iteration int) string {
	return filepath.Join(c.artifacts.Layout().SignalsDir(), fmt.Sprintf("%s-iter-%d.signal", r, iteration))
}

// lastRecord returns the newest retained history record, or nil.
func (c *Controller) lastRecord(run *domain.Run) *domain.HistoryRecord {
	records, err := c.runs.History(run.ID)
	if err != nil || len(records) == 0 {
		return nil
	}
	return &records[len(records)-1]
}

// resolveRefs turns worker-reported artifact refs into absolute paths
// under the given directory.
func (c *Controller) resolveRefs(dir string, refs []string) []string {
	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		if filepath.IsAbs(ref) {
			paths = append(paths, ref)
			continue
		}
		paths = append(paths, filepath.Join(dir, filepath.Base(ref)))
	}
	return paths
}
