// Package orchestrator holds the pipeline state machine. It is the only
// component permitted to mutate pipeline states: it applies each
// transition exactly once via the store's optimistic-version guard and
// mirrors every phase change onto the external platform.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/flowline-dev/flowline/internal/detector"
	"github.com/flowline-dev/flowline/internal/platform"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/models"
)

// defaultUpdateRetries bounds the local retries on a version conflict
// before the transition is deferred to the next poll cycle.
const defaultUpdateRetries = 3

// Orchestrator drives pipelines through their agent chains.
type Orchestrator struct {
	store         store.Store
	platform      platform.Client
	emitter       NotificationEmitter
	updateRetries int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sets the notification emitter. Without one, notifications
// are discarded.
func WithEmitter(e NotificationEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithUpdateRetries overrides the version-conflict retry bound.
func WithUpdateRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.updateRetries = n
		}
	}
}

// New creates an Orchestrator over the given store and platform client.
func New(st store.Store, pc platform.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         st,
		platform:      pc,
		updateRetries: defaultUpdateRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartPipeline registers a new pipeline for an issue and performs the
// initial assignment: the agent chain for the ready bucket is frozen into
// the state, the board item moves ready -> in progress, and the first
// agent is assigned. Starting is idempotent: a second call for the same
// key returns the existing state without re-assigning on the platform.
// Nothing is persisted when any platform effect fails.
func (o *Orchestrator) StartPipeline(ctx context.Context, cfg *models.WorkflowConfiguration, issueNumber int) (*models.WorkflowResult, error) {
	if err := cfg.Validate(); err != nil {
		return failure(issueNumber, "invalid workflow configuration: "+err.Error()), err
	}
	if !cfg.Enabled {
		return failure(issueNumber, fmt.Sprintf("workflow for project %s is disabled", cfg.ProjectID)), nil
	}

	key := models.PipelineKey{ProjectID: cfg.ProjectID, IssueNumber: issueNumber}

	if existing, err := o.store.Get(ctx, key); err == nil {
		return existingResult(&existing.State), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return failure(issueNumber, "read pipeline state: "+err.Error()), err
	}

	agents := cfg.AgentsFor(models.PhaseReady)
	if len(agents) == 0 {
		err := fmt.Errorf("project %s: no agent chain for the ready bucket", cfg.ProjectID)
		return failure(issueNumber, err.Error()), err
	}

	// Platform effects first; the state is only persisted once both the
	// status move and the assignment are confirmed. The effects are
	// idempotent, so a crash between them just means a retried start.
	for _, column := range []string{cfg.StatusReady, cfg.StatusInProgress} {
		if err := o.platform.MoveStatus(ctx, cfg.ProjectID, issueNumber, column); err != nil {
			return failure(issueNumber, "move board status: "+err.Error()), err
		}
	}
	if err := o.platform.SetAssignee(ctx, cfg.ProjectID, issueNumber, agents[0]); err != nil {
		return failure(issueNumber, "assign first agent: "+err.Error()), err
	}

	state := &models.PipelineState{
		IssueNumber:       issueNumber,
		ProjectID:         cfg.ProjectID,
		Status:            models.PhaseInProgress,
		Agents:            agents,
		CurrentAgentIndex: 0,
		StartedAt:         time.Now(),
	}

	if _, err := o.store.Create(ctx, state); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a race with a concurrent start; the platform effects are
			// idempotent, so return the winner's state.
			if existing, getErr := o.store.Get(ctx, key); getErr == nil {
				return existingResult(&existing.State), nil
			}
		}
		return failure(issueNumber, "persist pipeline state: "+err.Error()), err
	}

	log.Printf("[orchestrator] started pipeline %s with agents %v", key, agents)
	o.emit(newNotification(models.NotificationAgentAssigned, state, agents[0], ""))

	return &models.WorkflowResult{
		Success:       true,
		IssueNumber:   issueNumber,
		CurrentStatus: models.PhaseInProgress,
		Message:       fmt.Sprintf("pipeline started, agent %s assigned", agents[0]),
	}, nil
}

// AdvancePipeline applies one detector verdict to a pipeline. The state
// argument is the snapshot the verdict was computed against; the write
// itself happens under a fresh read with the optimistic-version guard, so
// concurrent advances for the same key resolve to exactly one applied
// transition and no-ops for the rest.
func (o *Orchestrator) AdvancePipeline(ctx context.Context, cfg *models.WorkflowConfiguration, state *models.PipelineState, verdict detector.Verdict) error {
	if verdict.Kind == detector.StillRunning {
		return nil
	}

	key := state.Key()
	for attempt := 0; attempt < o.updateRetries; attempt++ {
		rec, err := o.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("advance %s: %w", key, err)
		}
		fresh := &rec.State

		if !fresh.Active() {
			return nil
		}
		// Another cycle already applied this transition; the verdict was
		// computed against a cursor position that no longer exists.
		if fresh.CurrentAgentIndex != state.CurrentAgentIndex {
			return nil
		}

		switch verdict.Kind {
		case detector.AgentFailed:
			err = o.writeError(ctx, fresh, rec.Version, verdict.Reason)
		case detector.AgentCompleted:
			err = o.completeAgent(ctx, cfg, fresh, rec.Version)
		default:
			return fmt.Errorf("advance %s: unknown verdict %v", key, verdict.Kind)
		}

		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}

	// Conflict retries exhausted; the next poll cycle re-observes the state.
	log.Printf("[orchestrator] advance %s deferred after %d conflicting writes", key, o.updateRetries)
	return nil
}

// completeAgent records the current agent as finished and either assigns
// the next agent or finalizes the pipeline into review.
func (o *Orchestrator) completeAgent(ctx context.Context, cfg *models.WorkflowConfiguration, state *models.PipelineState, version int64) error {
	key := state.Key()
	finished := state.CurrentAgent()

	if state.OnLastAgent() {
		// Final hand-off: board to review column, review assignee on the
		// issue, then persist. A platform failure leaves the stored state
		// untouched so the next cycle retries the whole step.
		if err := o.platform.MoveStatus(ctx, state.ProjectID, state.IssueNumber, cfg.StatusInReview); err != nil {
			return fmt.Errorf("move %s to review: %w", key, err)
		}
		if err := o.platform.SetAssignee(ctx, state.ProjectID, state.IssueNumber, cfg.ReviewAssignee); err != nil {
			return fmt.Errorf("assign reviewer on %s: %w", key, err)
		}

		state.CompletedAgents = append(state.CompletedAgents, finished)
		state.Status = models.PhaseInReview
		state.IsComplete = true
		if _, err := o.store.Update(ctx, state, version); err != nil {
			return err
		}

		log.Printf("[orchestrator] pipeline %s complete, handed to %s for review", key, cfg.ReviewAssignee)
		o.emit(newNotification(models.NotificationAgentCompleted, state, finished, ""))

		// Best effort; the transition already happened.
		msg := fmt.Sprintf("All agents finished (%s). Ready for review.", strings.Join(state.CompletedAgents, ", "))
		if err := o.platform.AddComment(ctx, state.ProjectID, state.IssueNumber, msg); err != nil {
			log.Printf("[orchestrator] warning: review comment on %s: %v", key, err)
		}
		return nil
	}

	next := state.Agents[state.CurrentAgentIndex+1]
	if err := o.platform.SetAssignee(ctx, state.ProjectID, state.IssueNumber, next); err != nil {
		return fmt.Errorf("assign %s on %s: %w", next, key, err)
	}

	// Mid-pipeline agents share one board column, so only the cursor moves.
	state.CompletedAgents = append(state.CompletedAgents, finished)
	state.CurrentAgentIndex++
	if _, err := o.store.Update(ctx, state, version); err != nil {
		return err
	}

	log.Printf("[orchestrator] pipeline %s: agent %s done, %s assigned", key, finished, next)
	o.emit(newNotification(models.NotificationAgentCompleted, state, finished, next))
	o.emit(newNotification(models.NotificationAgentAssigned, state, next, ""))
	return nil
}

// FailPipeline marks a pipeline as terminally failed. The first recorded
// error wins; failing an already inactive pipeline is a no-op.
func (o *Orchestrator) FailPipeline(ctx context.Context, key models.PipelineKey, reason string) error {
	for attempt := 0; attempt < o.updateRetries; attempt++ {
		rec, err := o.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("fail %s: %w", key, err)
		}
		if !rec.State.Active() {
			return nil
		}
		err = o.writeError(ctx, &rec.State, rec.Version, reason)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return nil
}

func (o *Orchestrator) writeError(ctx context.Context, state *models.PipelineState, version int64, reason string) error {
	state.Error = reason
	if _, err := o.store.Update(ctx, state, version); err != nil {
		return err
	}
	log.Printf("[orchestrator] pipeline %s failed: %s", state.Key(), reason)
	return nil
}

// ResumePipeline clears a pipeline's error so polling picks it up again.
// The cursor and completed agents are untouched: the next poll cycle
// re-observes the platform and carries on from where the pipeline stopped.
func (o *Orchestrator) ResumePipeline(ctx context.Context, key models.PipelineKey) (*models.PipelineStateInfo, error) {
	for attempt := 0; attempt < o.updateRetries; attempt++ {
		rec, err := o.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", key, err)
		}
		if rec.State.IsComplete {
			return nil, fmt.Errorf("resume %s: pipeline already complete", key)
		}
		if rec.State.Error == "" {
			return rec.State.Info(), nil
		}

		next := rec.State.Clone()
		next.Error = ""
		updated, err := o.store.Update(ctx, next, rec.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", key, err)
		}
		log.Printf("[orchestrator] pipeline %s resumed", key)
		return updated.State.Info(), nil
	}
	return nil, fmt.Errorf("resume %s: %w", key, store.ErrVersionConflict)
}

// GetPipelineStateInfo returns the externally visible projection of a
// pipeline. Pure read, no side effects.
func (o *Orchestrator) GetPipelineStateInfo(ctx context.Context, key models.PipelineKey) (*models.PipelineStateInfo, error) {
	rec, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get pipeline %s: %w", key, err)
	}
	return rec.State.Info(), nil
}

func (o *Orchestrator) emit(n models.AgentNotification) {
	if o.emitter != nil {
		o.emitter.Emit(n)
	}
}

func failure(issueNumber int, msg string) *models.WorkflowResult {
	return &models.WorkflowResult{Success: false, IssueNumber: issueNumber, Message: msg}
}

func existingResult(state *models.PipelineState) *models.WorkflowResult {
	msg := "pipeline already registered"
	if state.Error != "" {
		msg = "pipeline previously failed; resume required"
	}
	return &models.WorkflowResult{
		Success:       state.Error == "",
		IssueNumber:   state.IssueNumber,
		CurrentStatus: state.Status,
		Message:       msg,
	}
}
