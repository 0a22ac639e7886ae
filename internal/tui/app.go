package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/flowline-dev/flowline/pkg/models"
)

// maxLogLines bounds the event log kept in memory.
const maxLogLines = 200

// Fetcher loads the current pipeline set for display.
type Fetcher func(ctx context.Context) ([]*models.PipelineStateInfo, error)

// pipelinesMsg carries a refreshed pipeline snapshot.
type pipelinesMsg struct {
	pipelines []*models.PipelineStateInfo
}

// fetchErrMsg carries a failed refresh. The dashboard keeps showing the
// previous snapshot.
type fetchErrMsg struct {
	err error
}

// notificationMsg wraps one orchestrator notification.
type notificationMsg struct {
	notification models.AgentNotification
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// LogEntry is one line in the event log.
type LogEntry struct {
	Timestamp time.Time
	Message   string
}

// App is the main bubbletea model for the Flowline dashboard.
type App struct {
	// fetch loads the pipeline snapshot on every refresh tick.
	fetch Fetcher
	// notifications receives orchestrator events; nil disables the log feed.
	notifications <-chan models.AgentNotification
	// refreshRate is the interval between snapshot refreshes.
	refreshRate time.Duration

	ctx       context.Context
	spinner   spinner.Model
	pipelines []*models.PipelineStateInfo
	logs      []LogEntry
	fetchErr  error
	width     int
	height    int
	loaded    bool
	quitting  bool
}

// New creates the dashboard model.
func New(ctx context.Context, fetch Fetcher, notifications <-chan models.AgentNotification, refreshRate time.Duration) *App {
	if refreshRate <= 0 {
		refreshRate = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return &App{
		fetch:         fetch,
		notifications: notifications,
		refreshRate:   refreshRate,
		ctx:           ctx,
		spinner:       sp,
		width:         80,
		height:        24,
	}
}

// Run starts the dashboard and blocks until the user quits or the context
// is canceled.
func Run(ctx context.Context, fetch Fetcher, notifications <-chan models.AgentNotification, refreshRate time.Duration) error {
	app := New(ctx, fetch, notifications, refreshRate)
	p := tea.NewProgram(app, tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick, a.fetchCmd(), a.tickCmd()}
	if a.notifications != nil {
		cmds = append(cmds, a.waitForNotification())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "r":
			return a, a.fetchCmd()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case pipelinesMsg:
		a.loaded = true
		a.fetchErr = nil
		a.pipelines = msg.pipelines
		sortPipelines(a.pipelines)

	case fetchErrMsg:
		a.loaded = true
		a.fetchErr = msg.err

	case notificationMsg:
		a.appendLog(formatNotification(msg.notification))
		return a, a.waitForNotification()

	case tickMsg:
		return a, tea.Batch(a.fetchCmd(), a.tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// fetchCmd loads a pipeline snapshot off the update loop.
func (a *App) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		pipelines, err := a.fetch(a.ctx)
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return pipelinesMsg{pipelines: pipelines}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForNotification blocks on the notification channel. A closed
// channel ends the feed silently.
func (a *App) waitForNotification() tea.Cmd {
	return func() tea.Msg {
		n, ok := <-a.notifications
		if !ok {
			return nil
		}
		return notificationMsg{notification: n}
	}
}

func (a *App) appendLog(message string) {
	a.logs = append(a.logs, LogEntry{Timestamp: time.Now(), Message: message})
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

// formatNotification renders one orchestrator event as a log line.
func formatNotification(n models.AgentNotification) string {
	key := fmt.Sprintf("%s#%d", n.ProjectID, n.IssueNumber)
	switch n.Type {
	case models.NotificationAgentAssigned:
		return fmt.Sprintf("%s: %s assigned", key, n.AgentName)
	case models.NotificationAgentCompleted:
		if n.NextAgent != "" {
			return fmt.Sprintf("%s: %s finished, next %s", key, n.AgentName, n.NextAgent)
		}
		return fmt.Sprintf("%s: %s finished, pipeline complete", key, n.AgentName)
	default:
		return fmt.Sprintf("%s: %s %s", key, n.Type, n.AgentName)
	}
}

// sortPipelines orders the display by project then issue number.
func sortPipelines(pipelines []*models.PipelineStateInfo) {
	sort.Slice(pipelines, func(i, j int) bool {
		if pipelines[i].ProjectID != pipelines[j].ProjectID {
			return pipelines[i].ProjectID < pipelines[j].ProjectID
		}
		return pipelines[i].IssueNumber < pipelines[j].IssueNumber
	})
}
