// Package detector translates raw platform state into a completion
// verdict for the agent currently assigned to a pipeline. The detector is
// a pure function of platform-reported facts plus the pipeline's own
// cursor, so it can be unit-tested against fixture snapshots without any
// network access.
package detector

import (
	"fmt"
	"strings"

	"github.com/flowline-dev/flowline/internal/platform"
	"github.com/flowline-dev/flowline/pkg/models"
)

// VerdictKind is the detector's three-way decision.
type VerdictKind int

const (
	// StillRunning indicates the current agent has not finished.
	StillRunning VerdictKind = iota
	// AgentCompleted indicates the current agent finished and handed off.
	AgentCompleted
	// AgentFailed indicates the current agent failed or the platform state
	// drifted away from what the pipeline expects.
	AgentFailed
)

// String returns a human-readable representation of the verdict kind.
func (k VerdictKind) String() string {
	switch k {
	case StillRunning:
		return "still_running"
	case AgentCompleted:
		return "agent_completed"
	case AgentFailed:
		return "agent_failed"
	default:
		return "unknown"
	}
}

// Verdict is the detector's decision plus a failure description when the
// kind is AgentFailed.
type Verdict struct {
	Kind   VerdictKind
	Reason string
}

// MarkerPredicate reports whether an issue snapshot carries a completion
// marker left by the named agent. The exact marker convention is an
// external-agent protocol detail, so it is pluggable rather than
// hardcoded.
type MarkerPredicate func(agent string, snap *platform.IssueSnapshot) bool

// LabelMarker recognizes a completion label of the form prefix+agent,
// e.g. "done:planner" for prefix "done:".
func LabelMarker(prefix string) MarkerPredicate {
	return func(agent string, snap *platform.IssueSnapshot) bool {
		return snap.HasLabel(prefix + agent)
	}
}

// CommentMarker recognizes a bot comment whose body contains the token
// prefix+agent, e.g. "agent-complete:planner".
func CommentMarker(prefix string) MarkerPredicate {
	return func(agent string, snap *platform.IssueSnapshot) bool {
		token := prefix + agent
		for _, c := range snap.Comments {
			if strings.Contains(c.Body, token) {
				return true
			}
		}
		return false
	}
}

// AnyMarker combines predicates; any match counts as a marker.
func AnyMarker(preds ...MarkerPredicate) MarkerPredicate {
	return func(agent string, snap *platform.IssueSnapshot) bool {
		for _, p := range preds {
			if p(agent, snap) {
				return true
			}
		}
		return false
	}
}

// DefaultMarker recognizes the two conventions observed in the wild: a
// "done:<agent>" label or a comment containing "agent-complete:<agent>".
func DefaultMarker() MarkerPredicate {
	return AnyMarker(LabelMarker("done:"), CommentMarker("agent-complete:"))
}

// Detector decides whether the currently assigned agent has finished,
// failed, or is still running.
type Detector struct {
	marker MarkerPredicate
}

// New creates a Detector. A nil marker falls back to DefaultMarker.
func New(marker MarkerPredicate) *Detector {
	if marker == nil {
		marker = DefaultMarker()
	}
	return &Detector{marker: marker}
}

// Evaluate applies the decision policy, in order:
//
//  1. Issue closed without a completion marker -> AgentFailed. External
//     closure without a hand-off is a failure, not a silent success.
//  2. Completion marker present and the assignee moved off the current
//     agent -> AgentCompleted.
//  3. Assignee is some other identity with no marker -> AgentFailed,
//     naming the expected vs. observed agent.
//  4. Otherwise -> StillRunning.
//
// An empty assignee without a marker is treated as still running rather
// than drift: the platform is eventually consistent and an assignment the
// orchestrator just made may not be visible yet.
func (d *Detector) Evaluate(state *models.PipelineState, snap *platform.IssueSnapshot) Verdict {
	agent := state.CurrentAgent()
	if agent == "" {
		return Verdict{Kind: StillRunning}
	}

	marked := d.marker(agent, snap)

	if snap.IsClosed && !marked {
		return Verdict{
			Kind:   AgentFailed,
			Reason: fmt.Sprintf("issue %s closed externally while agent %q was running, no completion marker", state.Key(), agent),
		}
	}

	if marked && snap.Assignee != agent {
		return Verdict{Kind: AgentCompleted}
	}

	if snap.Assignee != "" && snap.Assignee != agent && !marked {
		return Verdict{
			Kind: AgentFailed,
			Reason: fmt.Sprintf("assignee drift on %s: expected agent %q, observed %q with no completion marker",
				state.Key(), agent, snap.Assignee),
		}
	}

	return Verdict{Kind: StillRunning}
}
