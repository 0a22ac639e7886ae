package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/flowline-dev/flowline/pkg/models"
)

func sampleInfo(issue int, agent string) *models.PipelineStateInfo {
	return &models.PipelineStateInfo{
		IssueNumber:       issue,
		ProjectID:         "proj-1",
		Status:            models.PhaseInProgress,
		Agents:            []string{"planner", "coder"},
		CurrentAgentIndex: 0,
		CurrentAgent:      agent,
		StartedAt:         time.Now(),
	}
}

func newTestApp() *App {
	fetch := func(ctx context.Context) ([]*models.PipelineStateInfo, error) {
		return nil, nil
	}
	return New(context.Background(), fetch, nil, time.Second)
}

func TestUpdatePipelinesMsg(t *testing.T) {
	app := newTestApp()

	model, _ := app.Update(pipelinesMsg{pipelines: []*models.PipelineStateInfo{
		sampleInfo(9, "coder"),
		sampleInfo(3, "planner"),
	}})
	app = model.(*App)

	if !app.loaded {
		t.Error("snapshot must mark the app loaded")
	}
	if len(app.pipelines) != 2 {
		t.Fatalf("expected 2 pipelines, got %d", len(app.pipelines))
	}
	// Sorted by issue number within a project.
	if app.pipelines[0].IssueNumber != 3 {
		t.Errorf("pipelines not sorted: first is #%d", app.pipelines[0].IssueNumber)
	}
}

func TestUpdateFetchErrKeepsSnapshot(t *testing.T) {
	app := newTestApp()

	model, _ := app.Update(pipelinesMsg{pipelines: []*models.PipelineStateInfo{sampleInfo(3, "planner")}})
	app = model.(*App)
	model, _ = app.Update(fetchErrMsg{err: context.DeadlineExceeded})
	app = model.(*App)

	if app.fetchErr == nil {
		t.Error("fetch error not recorded")
	}
	if len(app.pipelines) != 1 {
		t.Error("failed refresh must keep the previous snapshot")
	}
	if !strings.Contains(app.View(), "refresh failed") {
		t.Error("view should surface the refresh failure")
	}
}

func TestUpdateQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		app := newTestApp()
		var msg tea.KeyMsg
		if key == "ctrl+c" {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		_, cmd := app.Update(msg)
		if cmd == nil {
			t.Errorf("key %q should produce a quit command", key)
		}
	}
}

func TestAppendLogBounded(t *testing.T) {
	app := newTestApp()
	for i := 0; i < maxLogLines+50; i++ {
		app.appendLog("event")
	}
	if len(app.logs) != maxLogLines {
		t.Errorf("log must be bounded at %d lines, got %d", maxLogLines, len(app.logs))
	}
}

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		name string
		n    models.AgentNotification
		want string
	}{
		{
			name: "assigned",
			n: models.AgentNotification{
				Type: models.NotificationAgentAssigned, ProjectID: "proj-1",
				IssueNumber: 7, AgentName: "coder",
			},
			want: "proj-1#7: coder assigned",
		},
		{
			name: "completed with next",
			n: models.AgentNotification{
				Type: models.NotificationAgentCompleted, ProjectID: "proj-1",
				IssueNumber: 7, AgentName: "planner", NextAgent: "coder",
			},
			want: "proj-1#7: planner finished, next coder",
		},
		{
			name: "final completion",
			n: models.AgentNotification{
				Type: models.NotificationAgentCompleted, ProjectID: "proj-1",
				IssueNumber: 7, AgentName: "tester",
			},
			want: "proj-1#7: tester finished, pipeline complete",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatNotification(tt.n); got != tt.want {
				t.Errorf("formatNotification = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestViewShowsPipelineRows(t *testing.T) {
	app := newTestApp()

	errored := sampleInfo(4, "")
	errored.Error = "assignee drift"
	complete := sampleInfo(5, "")
	complete.IsComplete = true
	complete.Status = models.PhaseInReview
	complete.CompletedAgents = []string{"planner", "coder"}

	model, _ := app.Update(pipelinesMsg{pipelines: []*models.PipelineStateInfo{
		sampleInfo(3, "planner"), errored, complete,
	}})
	app = model.(*App)

	view := app.View()
	for _, want := range []string{"proj-1#3", "planner", "errored", "assignee drift", "complete", "2/2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
