package models

import "time"

// NotificationType is the kind of an AgentNotification.
type NotificationType string

const (
	// NotificationAgentAssigned indicates an agent was handed an issue.
	NotificationAgentAssigned NotificationType = "agent_assigned"
	// NotificationAgentCompleted indicates an agent finished its turn.
	NotificationAgentCompleted NotificationType = "agent_completed"
)

// AgentNotification is an ephemeral event fanned out to the UI and
// observability layers. It is emitted, never stored, never read back.
type AgentNotification struct {
	// ID is a unique identifier for correlating the event downstream.
	ID string `json:"id"`
	// Type is the kind of event.
	Type NotificationType `json:"type"`
	// IssueNumber identifies the issue the event concerns.
	IssueNumber int `json:"issue_number"`
	// ProjectID identifies the project board.
	ProjectID string `json:"project_id"`
	// AgentName is the agent the event concerns.
	AgentName string `json:"agent_name"`
	// Status is the pipeline phase after the event.
	Status Phase `json:"status"`
	// NextAgent is the agent taking over, empty when none does.
	NextAgent string `json:"next_agent,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
