package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowline-dev/flowline/pkg/models"
)

const workflowsFixture = `
workflows:
  - project_id: proj-1
    repository_owner: acme
    repository_name: rocket
    review_assignee: lead-dev
    agent_mappings:
      ready: [planner, coder, tester]
    status_backlog: Backlog
    status_ready: Ready
    status_in_progress: In Progress
    status_in_review: In Review
    enabled: true
  - project_id: proj-2
    review_assignee: other-lead
    agent_mappings:
      ready: [coder]
    status_backlog: Backlog
    status_ready: Ready
    status_in_progress: Doing
    status_in_review: Review
    enabled: false
`

func writeWorkflows(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeWorkflows(t, workflowsFixture))
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	cfg, ok := reg.WorkflowFor("proj-1")
	if !ok {
		t.Fatal("proj-1 not found")
	}
	if !cfg.Enabled {
		t.Error("proj-1 should be enabled")
	}
	if got := cfg.AgentsFor(models.PhaseReady); len(got) != 3 || got[0] != "planner" {
		t.Errorf("unexpected agent chain: %v", got)
	}
	if cfg.StatusInProgress != "In Progress" {
		t.Errorf("unexpected in-progress column: %q", cfg.StatusInProgress)
	}

	cfg2, ok := reg.WorkflowFor("proj-2")
	if !ok {
		t.Fatal("proj-2 not found")
	}
	if cfg2.Enabled {
		t.Error("proj-2 should be disabled")
	}

	if len(reg.Projects()) != 2 {
		t.Errorf("expected 2 projects, got %v", reg.Projects())
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if len(reg.Projects()) != 0 {
		t.Error("registry should start empty")
	}
}

func TestReloadKeepsPreviousSetOnParseFailure(t *testing.T) {
	path := writeWorkflows(t, workflowsFixture)
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("workflows: [not: valid: yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := reg.Reload(); err == nil {
		t.Fatal("expected parse error")
	}

	// The previous, valid set survives the bad write.
	if _, ok := reg.WorkflowFor("proj-1"); !ok {
		t.Error("previous workflows lost after failed reload")
	}
}

func TestReloadRejectsInvalidWorkflow(t *testing.T) {
	// Missing review_assignee.
	path := writeWorkflows(t, `
workflows:
  - project_id: proj-1
    agent_mappings:
      ready: [coder]
    status_backlog: Backlog
    status_ready: Ready
    status_in_progress: Doing
    status_in_review: Review
`)
	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestReloadRejectsDuplicateProject(t *testing.T) {
	path := writeWorkflows(t, `
workflows:
  - project_id: proj-1
    review_assignee: lead
    agent_mappings:
      ready: [coder]
    status_backlog: B
    status_ready: R
    status_in_progress: P
    status_in_review: V
  - project_id: proj-1
    review_assignee: lead
    agent_mappings:
      ready: [coder]
    status_backlog: B
    status_ready: R
    status_in_progress: P
    status_in_review: V
`)
	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("expected duplicate-project error")
	}
}

func TestPut(t *testing.T) {
	reg := NewRegistry("")
	cfg := &models.WorkflowConfiguration{
		ProjectID:      "proj-9",
		ReviewAssignee: "lead",
		AgentMappings: map[models.Phase][]string{
			models.PhaseReady: {"coder"},
		},
		StatusBacklog:    "B",
		StatusReady:      "R",
		StatusInProgress: "P",
		StatusInReview:   "V",
		Enabled:          true,
	}
	if err := reg.Put(cfg); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := reg.WorkflowFor("proj-9"); !ok {
		t.Error("workflow not registered")
	}

	if err := reg.Put(&models.WorkflowConfiguration{}); err == nil {
		t.Error("Put must validate")
	}
}
