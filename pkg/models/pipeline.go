package models

import (
	"fmt"
	"time"
)

// Phase represents one of the four generic pipeline phases.
// Phases are mapped to project-specific board column names by a
// WorkflowConfiguration; no component outside the configuration layer
// ever sees a raw column name.
type Phase string

const (
	// PhaseBacklog indicates the item has not entered a pipeline yet.
	PhaseBacklog Phase = "backlog"
	// PhaseReady indicates the item is queued for its first agent.
	PhaseReady Phase = "ready"
	// PhaseInProgress indicates an agent is actively working the item.
	PhaseInProgress Phase = "in_progress"
	// PhaseInReview indicates all agents finished and the item awaits human review.
	PhaseInReview Phase = "in_review"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseBacklog, PhaseReady, PhaseInProgress, PhaseInReview:
		return true
	default:
		return false
	}
}

// PipelineKey is the composite identity of a pipeline: one pipeline
// exists per (project, issue) pair.
type PipelineKey struct {
	ProjectID   string `json:"project_id"`
	IssueNumber int    `json:"issue_number"`
}

// String returns a stable human-readable form used in logs and maps.
func (k PipelineKey) String() string {
	return fmt.Sprintf("%s#%d", k.ProjectID, k.IssueNumber)
}

// PipelineState is the central mutable entity: the durable record of one
// issue's progress through its ordered agent chain. It is the single
// source of truth for pipeline position; assignee and board column on the
// external platform are write-targets and read-signals only.
type PipelineState struct {
	// IssueNumber identifies the issue on the external platform. Immutable.
	IssueNumber int `json:"issue_number"`
	// ProjectID identifies the project board. Immutable.
	ProjectID string `json:"project_id"`
	// Status is the current generic phase, mirrored into the board column
	// on every transition.
	Status Phase `json:"status"`
	// Agents is the ordered agent chain frozen at pipeline start.
	// Configuration changes never retroactively alter in-flight pipelines.
	Agents []string `json:"agents"`
	// CurrentAgentIndex is the cursor into Agents; -1 before the pipeline starts.
	CurrentAgentIndex int `json:"current_agent_index"`
	// CompletedAgents lists agents that finished, in order. Append-only,
	// always a strict prefix of Agents.
	CompletedAgents []string `json:"completed_agents"`
	// IsComplete is true once every agent finished and the final review
	// handoff occurred.
	IsComplete bool `json:"is_complete"`
	// StartedAt is set once, at first assignment.
	StartedAt time.Time `json:"started_at"`
	// Error holds a terminal failure description. Once set the pipeline
	// stops advancing and is excluded from polling until manually resumed.
	Error string `json:"error,omitempty"`
}

// Key returns the composite identity of this pipeline.
func (s *PipelineState) Key() PipelineKey {
	return PipelineKey{ProjectID: s.ProjectID, IssueNumber: s.IssueNumber}
}

// CurrentAgent returns the agent the cursor points at, or "" when the
// pipeline has not started.
func (s *PipelineState) CurrentAgent() string {
	if s.CurrentAgentIndex < 0 || s.CurrentAgentIndex >= len(s.Agents) {
		return ""
	}
	return s.Agents[s.CurrentAgentIndex]
}

// Active reports whether the pipeline should still be polled: neither
// complete nor errored.
func (s *PipelineState) Active() bool {
	return !s.IsComplete && s.Error == ""
}

// OnLastAgent reports whether the cursor points at the final agent.
func (s *PipelineState) OnLastAgent() bool {
	return len(s.Agents) > 0 && s.CurrentAgentIndex == len(s.Agents)-1
}

// Validate checks the structural invariants of the state. It is called by
// the store adapters before every write so a bug in a caller can never
// persist a corrupt record.
func (s *PipelineState) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("pipeline state: empty project id")
	}
	if s.IssueNumber <= 0 {
		return fmt.Errorf("pipeline state: invalid issue number %d", s.IssueNumber)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("pipeline state %s: unknown phase %q", s.Key(), s.Status)
	}
	if s.CurrentAgentIndex < -1 || s.CurrentAgentIndex >= len(s.Agents) {
		return fmt.Errorf("pipeline state %s: agent index %d out of range [-1, %d)",
			s.Key(), s.CurrentAgentIndex, len(s.Agents))
	}
	if len(s.CompletedAgents) > len(s.Agents) {
		return fmt.Errorf("pipeline state %s: %d completed agents but only %d agents",
			s.Key(), len(s.CompletedAgents), len(s.Agents))
	}
	for i, a := range s.CompletedAgents {
		if s.Agents[i] != a {
			return fmt.Errorf("pipeline state %s: completed agents %v are not a prefix of %v",
				s.Key(), s.CompletedAgents, s.Agents)
		}
	}
	if s.IsComplete {
		if s.Error != "" {
			return fmt.Errorf("pipeline state %s: complete and errored are mutually exclusive", s.Key())
		}
		if !s.OnLastAgent() || len(s.CompletedAgents) != len(s.Agents) {
			return fmt.Errorf("pipeline state %s: marked complete before all agents finished", s.Key())
		}
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate a record behind the optimistic-version guard.
func (s *PipelineState) Clone() *PipelineState {
	c := *s
	c.Agents = append([]string(nil), s.Agents...)
	c.CompletedAgents = append([]string(nil), s.CompletedAgents...)
	return &c
}

// PipelineStateInfo is the externally visible, read-only projection of a
// PipelineState returned by orchestration entry points.
type PipelineStateInfo struct {
	IssueNumber       int       `json:"issue_number"`
	ProjectID         string    `json:"project_id"`
	Status            Phase     `json:"status"`
	Agents            []string  `json:"agents"`
	CurrentAgentIndex int       `json:"current_agent_index"`
	CurrentAgent      string    `json:"current_agent,omitempty"`
	CompletedAgents   []string  `json:"completed_agents"`
	IsComplete        bool      `json:"is_complete"`
	StartedAt         time.Time `json:"started_at"`
	Error             string    `json:"error,omitempty"`
}

// Info maps the state to its external projection.
func (s *PipelineState) Info() *PipelineStateInfo {
	return &PipelineStateInfo{
		IssueNumber:       s.IssueNumber,
		ProjectID:         s.ProjectID,
		Status:            s.Status,
		Agents:            append([]string(nil), s.Agents...),
		CurrentAgentIndex: s.CurrentAgentIndex,
		CurrentAgent:      s.CurrentAgent(),
		CompletedAgents:   append([]string(nil), s.CompletedAgents...),
		IsComplete:        s.IsComplete,
		StartedAt:         s.StartedAt,
		Error:             s.Error,
	}
}
