// Package platform defines the contract to the external agent-execution
// and issue-tracking platform. The orchestrator and poller consume this
// interface only; the concrete transport lives behind it.
package platform

import (
	"context"
	"time"
)

// Comment is one issue comment as reported by the platform.
type Comment struct {
	// Author is the identity that wrote the comment.
	Author string `json:"author"`
	// Body is the raw comment text.
	Body string `json:"body"`
	// CreatedAt is when the comment was posted.
	CreatedAt time.Time `json:"created_at"`
}

// IssueSnapshot is the raw, eventually-consistent platform state for one
// issue at one point in time. It carries facts only; interpreting them
// into a pipeline verdict is the detector's job.
type IssueSnapshot struct {
	// Assignee is the current assignee identity, empty when unassigned.
	Assignee string `json:"assignee"`
	// IsClosed reports whether the issue is closed.
	IsClosed bool `json:"is_closed"`
	// Labels are the label names currently on the issue.
	Labels []string `json:"labels"`
	// Comments are the issue comments, oldest first.
	Comments []Comment `json:"comments"`
}

// HasLabel reports whether the snapshot carries the given label.
func (s *IssueSnapshot) HasLabel(name string) bool {
	for _, l := range s.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Client is the thin interface to the external platform. All calls may
// fail with a *Error whose Kind distinguishes transient from permanent
// failures; callers retry transient errors and surface permanent ones.
// Every mutation must be idempotent: the orchestrator re-applies a whole
// transition when any of its platform effects failed mid-way.
type Client interface {
	// GetIssueState reads the current snapshot for an issue.
	GetIssueState(ctx context.Context, projectID string, issueNumber int) (*IssueSnapshot, error)
	// SetAssignee replaces the issue's assignee with the given identity.
	SetAssignee(ctx context.Context, projectID string, issueNumber int, identity string) error
	// MoveStatus moves the board item into the named column.
	MoveStatus(ctx context.Context, projectID string, issueNumber int, columnName string) error
	// AddComment posts a comment on the issue.
	AddComment(ctx context.Context, projectID string, issueNumber int, text string) error
}
