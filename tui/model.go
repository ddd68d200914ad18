package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/claude-verify-orchestrator/internal/auditlog"
	"github.com/hochfrequenz/claude-verify-orchestrator/internal/domain"
)

// Model is the watch dashboard: one run's live state plus the tail of
// the audit log, refreshed once a second.
type Model struct {
	// Data sources, polled on every tick
	status  func() (*domain.Run, error)
	entries func() ([]auditlog.Entry, error)

	run     *domain.Run
	events  []auditlog.Entry
	loadErr error

	// UI state
	width       int
	height      int
	scroll      int
	follow      bool
	lastRefresh time.Time
}

// ModelConfig holds the data sources for the dashboard
type ModelConfig struct {
	Status  func() (*domain.Run, error)
	Entries func() ([]auditlog.Entry, error)
}

// NewModel creates a new watch model
func NewModel(cfg ModelConfig) Model {
	return Model{
		status:  cfg.Status,
		entries: cfg.Entries,
		follow:  true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RefreshMsg carries freshly loaded run state and audit entries
type RefreshMsg struct {
	Run     *domain.Run
	Events  []auditlog.Entry
	Err     error
	FetchAt time.Time
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		msg := RefreshMsg{FetchAt: time.Now()}
		msg.Run, msg.Err = m.status()
		if msg.Err == nil {
			msg.Events, msg.Err = m.entries()
		}
		return msg
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			m.follow = false
			if m.scroll < len(m.events)-1 {
				m.scroll++
			}
		case "k", "up":
			m.follow = false
			if m.scroll > 0 {
				m.scroll--
			}
		case "G", "end":
			m.follow = true
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case RefreshMsg:
		m.loadErr = msg.Err
		if msg.Err == nil {
			m.run = msg.Run
			m.events = msg.Events
			m.lastRefresh = msg.FetchAt
			if m.follow {
				m.scroll = maxInt(0, len(m.events)-1)
			}
		}
	}

	return m, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
