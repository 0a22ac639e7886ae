package models

import "fmt"

// WorkflowConfiguration describes one project's pipeline setup: which
// agent chain runs for each bucket, which identities receive assignments,
// and how the four generic phases map onto the project's actual board
// columns. It is externally supplied and read-only to the orchestrator.
type WorkflowConfiguration struct {
	// ProjectID identifies the project board on the external platform.
	ProjectID string `yaml:"project_id" json:"project_id"`
	// RepositoryOwner is the owner of the repository the board tracks.
	RepositoryOwner string `yaml:"repository_owner" json:"repository_owner"`
	// RepositoryName is the name of the repository the board tracks.
	RepositoryName string `yaml:"repository_name" json:"repository_name"`
	// PrimaryAssignee is the identity used for agent-turn bookkeeping.
	PrimaryAssignee string `yaml:"primary_assignee" json:"primary_assignee"`
	// ReviewAssignee receives the final human-review handoff.
	ReviewAssignee string `yaml:"review_assignee" json:"review_assignee"`
	// AgentMappings holds the ordered agent chain per bucket.
	AgentMappings map[Phase][]string `yaml:"agent_mappings" json:"agent_mappings"`
	// StatusBacklog..StatusInReview are this project's board column names
	// for the four generic phases. Columns are project-specific strings;
	// nothing outside this type hardcodes a column name.
	StatusBacklog    string `yaml:"status_backlog" json:"status_backlog"`
	StatusReady      string `yaml:"status_ready" json:"status_ready"`
	StatusInProgress string `yaml:"status_in_progress" json:"status_in_progress"`
	StatusInReview   string `yaml:"status_in_review" json:"status_in_review"`
	// Enabled is the global kill switch. When false the poller skips
	// every pipeline belonging to this project.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ColumnFor returns the board column name for a generic phase.
func (c *WorkflowConfiguration) ColumnFor(p Phase) string {
	switch p {
	case PhaseBacklog:
		return c.StatusBacklog
	case PhaseReady:
		return c.StatusReady
	case PhaseInProgress:
		return c.StatusInProgress
	case PhaseInReview:
		return c.StatusInReview
	default:
		return ""
	}
}

// AgentsFor returns a copy of the agent chain configured for a bucket.
// Callers receive a snapshot: later configuration edits must not alter
// chains already frozen into running pipelines.
func (c *WorkflowConfiguration) AgentsFor(bucket Phase) []string {
	chain := c.AgentMappings[bucket]
	if len(chain) == 0 {
		return nil
	}
	return append([]string(nil), chain...)
}

// Validate checks that the configuration is usable.
func (c *WorkflowConfiguration) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("workflow config: empty project_id")
	}
	if c.ReviewAssignee == "" {
		return fmt.Errorf("workflow config %s: empty review_assignee", c.ProjectID)
	}
	for _, col := range []struct {
		name  string
		value string
	}{
		{"status_backlog", c.StatusBacklog},
		{"status_ready", c.StatusReady},
		{"status_in_progress", c.StatusInProgress},
		{"status_in_review", c.StatusInReview},
	} {
		if col.value == "" {
			return fmt.Errorf("workflow config %s: empty %s column", c.ProjectID, col.name)
		}
	}
	if len(c.AgentMappings[PhaseReady]) == 0 {
		return fmt.Errorf("workflow config %s: no agent chain for the ready bucket", c.ProjectID)
	}
	for bucket, chain := range c.AgentMappings {
		if !bucket.Valid() {
			return fmt.Errorf("workflow config %s: unknown bucket %q", c.ProjectID, bucket)
		}
		for _, agent := range chain {
			if agent == "" {
				return fmt.Errorf("workflow config %s: empty agent name in %s chain", c.ProjectID, bucket)
			}
		}
	}
	return nil
}

// WorkflowResult is the transient return value of orchestration entry
// points. It is never persisted.
type WorkflowResult struct {
	Success       bool   `json:"success"`
	IssueID       string `json:"issue_id,omitempty"`
	IssueNumber   int    `json:"issue_number,omitempty"`
	IssueURL      string `json:"issue_url,omitempty"`
	ProjectItemID string `json:"project_item_id,omitempty"`
	CurrentStatus Phase  `json:"current_status,omitempty"`
	Message       string `json:"message,omitempty"`
}
