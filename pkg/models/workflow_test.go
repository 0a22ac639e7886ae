package models

import "testing"

func validConfig() *WorkflowConfiguration {
	return &WorkflowConfiguration{
		ProjectID:       "proj-1",
		RepositoryOwner: "acme",
		RepositoryName:  "rocket",
		PrimaryAssignee: "flow-bot",
		ReviewAssignee:  "lead-dev",
		AgentMappings: map[Phase][]string{
			PhaseReady: {"planner", "coder", "tester"},
		},
		StatusBacklog:    "Backlog",
		StatusReady:      "Ready",
		StatusInProgress: "In Progress",
		StatusInReview:   "In Review",
		Enabled:          true,
	}
}

func TestColumnFor(t *testing.T) {
	c := validConfig()

	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseBacklog, "Backlog"},
		{PhaseReady, "Ready"},
		{PhaseInProgress, "In Progress"},
		{PhaseInReview, "In Review"},
		{"limbo", ""},
	}

	for _, tt := range tests {
		if got := c.ColumnFor(tt.phase); got != tt.want {
			t.Errorf("ColumnFor(%s) = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestAgentsForReturnsCopy(t *testing.T) {
	c := validConfig()

	chain := c.AgentsFor(PhaseReady)
	if len(chain) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(chain))
	}

	chain[0] = "intruder"
	if c.AgentMappings[PhaseReady][0] != "planner" {
		t.Error("mutating the returned chain altered the configuration")
	}

	if got := c.AgentsFor(PhaseBacklog); got != nil {
		t.Errorf("expected nil chain for unmapped bucket, got %v", got)
	}
}

func TestWorkflowConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkflowConfiguration)
		wantErr bool
	}{
		{"valid", func(c *WorkflowConfiguration) {}, false},
		{"empty project id", func(c *WorkflowConfiguration) { c.ProjectID = "" }, true},
		{"empty review assignee", func(c *WorkflowConfiguration) { c.ReviewAssignee = "" }, true},
		{"missing column", func(c *WorkflowConfiguration) { c.StatusInReview = "" }, true},
		{"no ready chain", func(c *WorkflowConfiguration) {
			delete(c.AgentMappings, PhaseReady)
		}, true},
		{"empty agent name", func(c *WorkflowConfiguration) {
			c.AgentMappings[PhaseReady] = []string{"planner", ""}
		}, true},
		{"unknown bucket", func(c *WorkflowConfiguration) {
			c.AgentMappings["limbo"] = []string{"planner"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
