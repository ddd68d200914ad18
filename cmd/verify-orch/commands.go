package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/agent"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/artifact"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/auditlog"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/controller"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/verdict"
	"github.com/hochfrequenz/claude-verify-orchestrator/tui"
)

var (
	startRequirement string
	startFile        string
	startNotes       string
	startMaxIter     int
	startThreshold   float64
	startScope       string
	startLanguage    string
	logTail          int
)

func init() {
	// start command
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a verification run and drive it to completion",
		RunE:  runStart,
	}
	startCmd.Flags().StringVar(&startRequirement, "requirement", "", "requirement text")
	startCmd.Flags().StringVar(&startFile, "file", "", "read the requirement from a file")
	startCmd.Flags().StringVar(&startNotes, "notes", "", "free-form operator notes")
	startCmd.Flags().IntVar(&startMaxIter, "max-iterations", 0, "iteration budget (default from config)")
	startCmd.Flags().Float64Var(&startThreshold, "mutation-threshold", 0, "mutation score needed to pass (default from config)")
	startCmd.Flags().StringVar(&startScope, "test-scope", "", "unit, integration or both")
	startCmd.Flags().StringVar(&startLanguage, "language", "", "target language")
	rootCmd.AddCommand(startCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Resume the active run",
		RunE:  runResume,
	}
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current run",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// cancel command
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active run",
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	// log command
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Print the tail of the audit log",
		RunE:  runLog,
	}
	logCmd.Flags().IntVar(&logTail, "tail", 20, "number of lines to print")
	rootCmd.AddCommand(logCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard for the current run",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

// buildController wires the three workers into a controller. The
// returned agents still need their RunID set once a run exists.
func buildController(cfg *config.Config) (*controller.Controller, []*agent.ClaudeWorker, error) {
	workspace := cfg.General.Workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		workspace = wd
	}

	logsDir := artifact.Layout{Root: cfg.StateDirPath(workspace)}.LogsDir()
	author := agent.NewClaudeWorker(cfg.Claude.Command, cfg.Claude.Model, workspace, logsDir, "")
	implementer := agent.NewClaudeWorker(cfg.Claude.Command, cfg.Claude.Model, workspace, logsDir, "")
	reviewer := verdict.NewReviewerWorker(nil, cfg.Evaluate.TestCommand, cfg.Evaluate.MaxMutants)

	ctl, err := controller.New(controller.Options{
		Workspace:   workspace,
		Config:      cfg,
		Author:      author,
		Implementer: implementer,
		Reviewer:    reviewer,
	})
	if err != nil {
		return nil, nil, err
	}
	return ctl, []*agent.ClaudeWorker{author, implementer}, nil
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runStart(cmd *cobra.Command, args []string) error {
	requirement := startRequirement
	if startFile != "" {
		data, err := os.ReadFile(startFile)
		if err != nil {
			return err
		}
		requirement = string(data)
	}
	if strings.TrimSpace(requirement) == "" {
		return fmt.Errorf("provide the requirement via --requirement or --file")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, agents, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	ctx, stop := interruptContext()
	defer stop()

	run, err := ctl.Start(ctx, controller.StartOptions{
		Requirement:       requirement,
		Notes:             startNotes,
		MaxIterations:     startMaxIter,
		MutationThreshold: startThreshold,
		TestScope:         startScope,
		Language:          startLanguage,
	})
	if err != nil {
		return err
	}
	for _, a := range agents {
		a.RunID = run.ID
	}
	fmt.Printf("Started run %s (max %d iterations, threshold %.0f%%)\n",
		run.ID, run.MaxIterations, run.MutationThreshold*100)

	return driveLoop(ctx, ctl)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, agents, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	run, err := ctl.Status()
	if err != nil {
		return err
	}
	if !run.Active {
		return fmt.Errorf("no active run (last run %s ended in %s)", run.ID, run.Phase)
	}
	for _, a := range agents {
		a.RunID = run.ID
	}
	fmt.Printf("Resuming run %s at iteration %d (%s)\n", run.ID, run.Iteration, run.Phase)

	ctx, stop := interruptContext()
	defer stop()
	return driveLoop(ctx, ctl)
}

func driveLoop(ctx context.Context, ctl *controller.Controller) error {
	run, err := ctl.RunLoop(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Interrupted; the run stays active and can be resumed with `verify-orch run`")
			return nil
		}
		return err
	}
	printRun(run)
	if run.Phase != domain.PhaseComplete {
		os.Exit(1)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, _, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	run, err := ctl.Status()
	if err != nil {
		fmt.Println("No runs yet")
		return nil
	}
	printRun(run)
	return nil
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	badStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	activeSt   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func printRun(run *domain.Run) {
	phase := activeSt.Render(string(run.Phase))
	switch run.Phase {
	case domain.PhaseComplete:
		phase = okStyle.Render(string(run.Phase))
	case domain.PhaseError, domain.PhaseMaxIter:
		phase = badStyle.Render(string(run.Phase))
	}

	fmt.Printf("%s %s\n", labelStyle.Render("Run:"), run.ID)
	fmt.Printf("%s %s\n", labelStyle.Render("Phase:"), phase)
	fmt.Printf("%s %d/%d\n", labelStyle.Render("Iteration:"), run.Iteration, run.MaxIterations)
	if run.LastVerdict != nil {
		fmt.Printf("%s %s\n", labelStyle.Render("Verdict:"), *run.LastVerdict)
	}
	if run.MutationScore != nil {
		fmt.Printf("%s %.0f%% (threshold %.0f%%)\n", labelStyle.Render("Mutation:"),
			*run.MutationScore*100, run.MutationThreshold*100)
	}
	if run.StoppedReason != nil {
		fmt.Printf("%s %s\n", labelStyle.Render("Stopped:"), *run.StoppedReason)
	}

	end := time.Now()
	if run.CompletedAt != nil {
		end = *run.CompletedAt
	}
	fmt.Printf("%s %s\n", labelStyle.Render("Duration:"), end.Sub(run.StartedAt).Round(time.Second))
	for _, p := range run.TestPaths {
		fmt.Printf("%s %s\n", labelStyle.Render("Test:"), p)
	}
	for _, p := range run.ImplPaths {
		fmt.Printf("%s %s\n", labelStyle.Render("Impl:"), p)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, _, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	run, err := ctl.Cancel(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Cancelled run %s in iteration %d\n", run.ID, run.Iteration)
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, _, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	lines, err := ctl.Audit().Tail(logTail)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctl, _, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	model := tui.NewModel(tui.ModelConfig{
		Status:  ctl.Status,
		Entries: func() ([]auditlog.Entry, error) { return ctl.Audit().Entries() },
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
