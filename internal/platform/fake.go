package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Client used by tests and by demo setups. It keeps
// one snapshot per issue, records every mutation, and can be primed to
// fail specific operations.
type Fake struct {
	mu        sync.Mutex
	snapshots map[string]*IssueSnapshot
	// Calls records every mutating call in order, formatted
	// "op project#issue value".
	Calls []string
	// FailWith, when non-nil, is returned by any operation whose name is
	// present in the map.
	FailWith map[string]error
}

// NewFake creates an empty fake platform.
func NewFake() *Fake {
	return &Fake{
		snapshots: make(map[string]*IssueSnapshot),
		FailWith:  make(map[string]error),
	}
}

func fakeKey(projectID string, issueNumber int) string {
	return fmt.Sprintf("%s#%d", projectID, issueNumber)
}

// SetSnapshot primes the snapshot returned for an issue.
func (f *Fake) SetSnapshot(projectID string, issueNumber int, snap *IssueSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[fakeKey(projectID, issueNumber)] = snap
}

// Snapshot returns the current snapshot for an issue, creating an empty
// open one on first access.
func (f *Fake) Snapshot(projectID string, issueNumber int) *IssueSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(projectID, issueNumber)
}

func (f *Fake) snapshotLocked(projectID string, issueNumber int) *IssueSnapshot {
	k := fakeKey(projectID, issueNumber)
	snap, ok := f.snapshots[k]
	if !ok {
		snap = &IssueSnapshot{}
		f.snapshots[k] = snap
	}
	return snap
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *Fake) fail(op string) error {
	if err, ok := f.FailWith[op]; ok && err != nil {
		return err
	}
	return nil
}

// GetIssueState returns a copy of the primed snapshot.
func (f *Fake) GetIssueState(ctx context.Context, projectID string, issueNumber int) (*IssueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("get_issue_state"); err != nil {
		return nil, err
	}
	snap := f.snapshotLocked(projectID, issueNumber)
	cp := *snap
	cp.Labels = append([]string(nil), snap.Labels...)
	cp.Comments = append([]Comment(nil), snap.Comments...)
	return &cp, nil
}

// SetAssignee records the assignment and updates the snapshot.
func (f *Fake) SetAssignee(ctx context.Context, projectID string, issueNumber int, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("set_assignee"); err != nil {
		return err
	}
	f.Calls = append(f.Calls, fmt.Sprintf("set_assignee %s %s", fakeKey(projectID, issueNumber), identity))
	f.snapshotLocked(projectID, issueNumber).Assignee = identity
	return nil
}

// MoveStatus records the column move.
func (f *Fake) MoveStatus(ctx context.Context, projectID string, issueNumber int, columnName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("move_status"); err != nil {
		return err
	}
	f.Calls = append(f.Calls, fmt.Sprintf("move_status %s %s", fakeKey(projectID, issueNumber), columnName))
	return nil
}

// AddComment records the comment and appends it to the snapshot.
func (f *Fake) AddComment(ctx context.Context, projectID string, issueNumber int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("add_comment"); err != nil {
		return err
	}
	f.Calls = append(f.Calls, fmt.Sprintf("add_comment %s %s", fakeKey(projectID, issueNumber), text))
	snap := f.snapshotLocked(projectID, issueNumber)
	snap.Comments = append(snap.Comments, Comment{Author: "flowline", Body: text, CreatedAt: time.Now()})
	return nil
}

var _ Client = (*Fake)(nil)
