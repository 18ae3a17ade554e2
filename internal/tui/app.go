// Package tui provides the interactive coordination dashboard for crewd.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	headerRowStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyanColor)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// pollInterval is how often the dashboard refreshes the visible pane.
const pollInterval = 2 * time.Second

// App is the coordination dashboard model.
type App struct {
	client       *Client
	tasks        []TaskItem
	locks        []LockItem
	agents       []AgentItem
	handoffs     []HandoffItem
	selectedIdx  int
	width        int
	height       int
	mode         string // "tasks", "locks", "agents", "handoffs"
	filter       string
	filterIdx    int
	message      string
	loading      bool
	daemonOnline bool
	spinner      spinner.Model
}

var filters = []string{"", "pending", "assigned", "running", "completed", "failed", "cancelled"}
var filterNames = []string{"ALL", "PENDING", "ASSIGNED", "RUNNING", "DONE", "FAILED", "CANCELLED"}

// New creates a new dashboard application.
func New(apiAddr, token string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		client:  NewClient(apiAddr, token),
		mode:    "tasks",
		spinner: sp,
	}
}

// Run starts the dashboard.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.spinner.Tick,
		a.fetchPane(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "up", "k":
			if a.selectedIdx > 0 {
				a.selectedIdx--
			}

		case "down", "j":
			if a.selectedIdx < a.paneLen()-1 {
				a.selectedIdx++
			}

		case "tab":
			a.mode = nextMode(a.mode)
			a.selectedIdx = 0
			return a, a.fetchPane()

		case "t":
			a.mode = "tasks"
			a.selectedIdx = 0
			return a, a.fetchPane()

		case "l":
			a.mode = "locks"
			a.selectedIdx = 0
			return a, a.fetchPane()

		case "a":
			a.mode = "agents"
			a.selectedIdx = 0
			return a, a.fetchPane()

		case "h":
			a.mode = "handoffs"
			a.selectedIdx = 0
			return a, a.fetchPane()

		case "f":
			if a.mode == "tasks" {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				a.filter = filters[a.filterIdx]
				return a, a.fetchPane()
			}

		case "r":
			return a, tea.Batch(a.fetchPane(), a.checkDaemon())
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		a.clampSelection()

	case locksLoadedMsg:
		a.loading = false
		a.locks = msg.locks
		a.clampSelection()

	case agentsLoadedMsg:
		a.loading = false
		a.agents = msg.agents
		a.clampSelection()

	case handoffsLoadedMsg:
		a.loading = false
		a.handoffs = msg.handoffs
		a.clampSelection()

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		// Refresh whichever pane is visible, then rearm.
		return a, tea.Batch(a.fetchPane(), a.checkDaemon(), a.tickCmd())

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) paneLen() int {
	switch a.mode {
	case "tasks":
		return len(a.tasks)
	case "locks":
		return len(a.locks)
	case "agents":
		return len(a.agents)
	case "handoffs":
		return len(a.handoffs)
	}
	return 0
}

func (a *App) clampSelection() {
	if n := a.paneLen(); a.selectedIdx >= n {
		a.selectedIdx = max(0, n-1)
	}
}

func nextMode(mode string) string {
	switch mode {
	case "tasks":
		return "locks"
	case "locks":
		return "agents"
	case "agents":
		return "handoffs"
	default:
		return "tasks"
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("CREWD Coordination")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).
		Render(fmt.Sprintf("[%d tasks | %d locks | %d agents]", len(a.tasks), len(a.locks), len(a.agents)))

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := a.height - 6
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "tasks":
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderTasks(contentHeight - 1))
	case "locks":
		b.WriteString(a.renderLocks(contentHeight))
	case "agents":
		b.WriteString(a.renderAgents(contentHeight))
	case "handoffs":
		b.WriteString(a.renderHandoffs(contentHeight))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	status := fmt.Sprintf(" [%s] ↑↓:nav | Tab:next pane | t/l/a/h:panes | f:filter | r:refresh | q:quit", strings.ToUpper(a.mode))
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderTasks(height int) string {
	if a.loading {
		return "\n  " + a.spinner.View() + " Loading...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks in the queue.\n"
	}

	var lines []string
	lines = append(lines, "  "+headerRowStyle.Render(fmt.Sprintf("%-10s %-24s %-4s %-10s %s", "ID", "TYPE", "PRI", "STATUS", "ASSIGNED")))
	for i, t := range a.tasks {
		row := fmt.Sprintf("%-10s %-24s %-4d %-10s %s",
			shortID(t.ID), clip(t.TaskType, 24), t.Priority, t.Status, t.AssignedTo)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+row))
		} else {
			lines = append(lines, "  "+a.styleTaskStatus(t.Status)+" "+row)
		}
	}
	return clipLines(lines, height, a.selectedIdx)
}

func (a *App) renderLocks(height int) string {
	if len(a.locks) == 0 {
		return "\n  No active locks.\n"
	}

	var lines []string
	lines = append(lines, "  "+headerRowStyle.Render(fmt.Sprintf("%-32s %-18s %-10s %s", "RESOURCE", "OWNER", "EXPIRES", "REASON")))
	for i, l := range a.locks {
		row := fmt.Sprintf("%-32s %-18s %-10s %s",
			clip(l.ResourceKey, 32), clip(l.OwnerID, 18), l.ExpiresAt, clip(l.Reason, 30))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+row))
		} else {
			lines = append(lines, "    "+row)
		}
	}
	return clipLines(lines, height, a.selectedIdx)
}

func (a *App) renderAgents(height int) string {
	if len(a.agents) == 0 {
		return "\n  No registered agents.\n"
	}

	var lines []string
	lines = append(lines, "  "+headerRowStyle.Render(fmt.Sprintf("%-10s %-20s %-10s %-14s %s", "SESSION", "AGENT", "TYPE", "STATUS", "LAST SEEN")))
	for i, ag := range a.agents {
		icon := onlineStyle.Render("●")
		if ag.Status != "active" {
			icon = offlineStyle.Render("○")
		}
		row := fmt.Sprintf("%-10s %-20s %-10s %-14s %s",
			shortID(ag.SessionID), clip(ag.AgentID, 20), ag.AgentType, ag.Status, ag.LastHeartbeat)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+row))
		} else {
			lines = append(lines, "  "+icon+" "+row)
		}
	}
	return clipLines(lines, height, a.selectedIdx)
}

func (a *App) renderHandoffs(height int) string {
	if len(a.handoffs) == 0 {
		return "\n  No handoffs recorded.\n"
	}

	var lines []string
	for i, h := range a.handoffs {
		when := lipgloss.NewStyle().Foreground(mutedColor).Render(h.CreatedAt)
		row := fmt.Sprintf("%s  %s: %s", when, h.AgentName, clip(h.Summary, 70))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+row))
		} else {
			lines = append(lines, "  "+row)
		}
	}
	lines = append(lines, "", "  "+helpStyle.Render("Most recent first"))
	return clipLines(lines, height, a.selectedIdx)
}

func (a *App) styleTaskStatus(status string) string {
	switch status {
	case "pending":
		return lipgloss.NewStyle().Foreground(warningColor).Render("○")
	case "assigned":
		return lipgloss.NewStyle().Foreground(cyanColor).Render("◐")
	case "running":
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑")
	case "completed":
		return lipgloss.NewStyle().Foreground(successColor).Render("●")
	case "failed":
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗")
	case "cancelled":
		return lipgloss.NewStyle().Foreground(mutedColor).Render("⊘")
	default:
		return "?"
	}
}

func (a *App) fetchPane() tea.Cmd {
	a.loading = true
	mode, filter := a.mode, a.filter
	return func() tea.Msg {
		switch mode {
		case "locks":
			locks, err := a.client.ListLocks()
			if err != nil {
				return errMsg{err}
			}
			return locksLoadedMsg{locks}
		case "agents":
			agents, err := a.client.ListAgents()
			if err != nil {
				return errMsg{err}
			}
			return agentsLoadedMsg{agents}
		case "handoffs":
			docs, err := a.client.ListHandoffs(20)
			if err != nil {
				return errMsg{err}
			}
			return handoffsLoadedMsg{docs}
		default:
			tasks, err := a.client.ListTasks(filter)
			if err != nil {
				return errMsg{err}
			}
			return tasksLoadedMsg{tasks}
		}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func clipLines(lines []string, height, selected int) string {
	if len(lines) <= height {
		return strings.Join(lines, "\n")
	}
	start := selected - height/2
	if start < 0 {
		start = 0
	}
	end := start + height
	if end > len(lines) {
		end = len(lines)
		start = max(0, end-height)
	}
	return strings.Join(lines[start:end], "\n")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type errMsg struct {
	err error
}

type tasksLoadedMsg struct {
	tasks []TaskItem
}

type locksLoadedMsg struct {
	locks []LockItem
}

type agentsLoadedMsg struct {
	agents []AgentItem
}

type handoffsLoadedMsg struct {
	handoffs []HandoffItem
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
