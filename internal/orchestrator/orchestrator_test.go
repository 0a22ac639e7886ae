package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/flowline-dev/flowline/internal/detector"
	"github.com/flowline-dev/flowline/internal/platform"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/models"
)

// captureEmitter records notifications for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []models.AgentNotification
}

func (c *captureEmitter) Emit(n models.AgentNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, n)
}

func (c *captureEmitter) byType(typ models.NotificationType) []models.AgentNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.AgentNotification
	for _, n := range c.events {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func testConfig() *models.WorkflowConfiguration {
	return &models.WorkflowConfiguration{
		ProjectID:       "proj-1",
		RepositoryOwner: "acme",
		RepositoryName:  "rocket",
		PrimaryAssignee: "flow-bot",
		ReviewAssignee:  "lead-dev",
		AgentMappings: map[models.Phase][]string{
			models.PhaseReady: {"planner", "coder", "tester"},
		},
		StatusBacklog:    "Backlog",
		StatusReady:      "Ready",
		StatusInProgress: "In Progress",
		StatusInReview:   "In Review",
		Enabled:          true,
	}
}

type fixture struct {
	store    *store.Memory
	platform *platform.Fake
	emitter  *captureEmitter
	orch     *Orchestrator
	cfg      *models.WorkflowConfiguration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		platform: platform.NewFake(),
		emitter:  &captureEmitter{},
		cfg:      testConfig(),
	}
	f.orch = New(f.store, f.platform, WithEmitter(f.emitter))
	return f
}

func (f *fixture) mustStart(t *testing.T, issue int) *models.PipelineState {
	t.Helper()
	res, err := f.orch.StartPipeline(context.Background(), f.cfg, issue)
	if err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
	if !res.Success {
		t.Fatalf("start pipeline: %s", res.Message)
	}
	rec, err := f.store.Get(context.Background(), models.PipelineKey{ProjectID: f.cfg.ProjectID, IssueNumber: issue})
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return &rec.State
}

func TestStartPipeline(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)

	if state.CurrentAgent() != "planner" {
		t.Errorf("expected planner assigned, got %q", state.CurrentAgent())
	}
	if state.Status != models.PhaseInProgress {
		t.Errorf("expected in_progress, got %s", state.Status)
	}
	if state.StartedAt.IsZero() {
		t.Error("started_at not set")
	}

	calls := f.platform.CallLog()
	want := []string{
		"move_status proj-1#7 Ready",
		"move_status proj-1#7 In Progress",
		"set_assignee proj-1#7 planner",
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d platform calls, got %v", len(want), calls)
	}
	for i, c := range want {
		if calls[i] != c {
			t.Errorf("call %d = %q, want %q", i, calls[i], c)
		}
	}

	assigned := f.emitter.byType(models.NotificationAgentAssigned)
	if len(assigned) != 1 || assigned[0].AgentName != "planner" {
		t.Errorf("expected one agent_assigned for planner, got %v", assigned)
	}
	if assigned[0].ID == "" {
		t.Error("notification missing correlation ID")
	}
}

func TestStartPipelineIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t, 7)
	callsBefore := len(f.platform.CallLog())

	res, err := f.orch.StartPipeline(context.Background(), f.cfg, 7)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !res.Success {
		t.Errorf("second start should report the existing pipeline: %s", res.Message)
	}
	if got := len(f.platform.CallLog()); got != callsBefore {
		t.Errorf("second start must not touch the platform: %d calls before, %d after", callsBefore, got)
	}
}

func TestStartPipelineDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Enabled = false

	res, err := f.orch.StartPipeline(context.Background(), f.cfg, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected failure for disabled workflow")
	}
	if len(f.platform.CallLog()) != 0 {
		t.Error("disabled workflow must not touch the platform")
	}
}

func TestStartPipelinePlatformFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.platform.FailWith["set_assignee"] = platform.Transient("set_assignee", context.DeadlineExceeded)

	res, err := f.orch.StartPipeline(context.Background(), f.cfg, 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Success {
		t.Error("expected failure result")
	}

	_, err = f.store.Get(context.Background(), models.PipelineKey{ProjectID: "proj-1", IssueNumber: 7})
	if err == nil {
		t.Error("no state must be persisted when assignment fails")
	}
}

func TestAdvanceStillRunning(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	callsBefore := len(f.platform.CallLog())

	err := f.orch.AdvancePipeline(context.Background(), f.cfg, state, detector.Verdict{Kind: detector.StillRunning})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	rec, _ := f.store.Get(context.Background(), state.Key())
	if rec.State.CurrentAgentIndex != 0 || len(rec.State.CompletedAgents) != 0 {
		t.Error("still_running must not mutate state")
	}
	if len(f.platform.CallLog()) != callsBefore {
		t.Error("still_running must not touch the platform")
	}
}

func TestAdvanceMidPipeline(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)

	// STILL_RUNNING then AGENT_COMPLETED, per the first agent's lifecycle.
	ctx := context.Background()
	if err := f.orch.AdvancePipeline(ctx, f.cfg, state, detector.Verdict{Kind: detector.StillRunning}); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.AdvancePipeline(ctx, f.cfg, state, detector.Verdict{Kind: detector.AgentCompleted}); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.store.Get(ctx, state.Key())
	if rec.State.CurrentAgentIndex != 1 {
		t.Errorf("expected index 1, got %d", rec.State.CurrentAgentIndex)
	}
	if len(rec.State.CompletedAgents) != 1 || rec.State.CompletedAgents[0] != "planner" {
		t.Errorf("expected completed [planner], got %v", rec.State.CompletedAgents)
	}
	if rec.State.Status != models.PhaseInProgress {
		t.Errorf("mid-pipeline status must stay in_progress, got %s", rec.State.Status)
	}

	completed := f.emitter.byType(models.NotificationAgentCompleted)
	if len(completed) != 1 || completed[0].AgentName != "planner" || completed[0].NextAgent != "coder" {
		t.Errorf("unexpected agent_completed events: %v", completed)
	}
	assigned := f.emitter.byType(models.NotificationAgentAssigned)
	// One from start (planner), one from the advance (coder).
	if len(assigned) != 2 || assigned[1].AgentName != "coder" {
		t.Errorf("unexpected agent_assigned events: %v", assigned)
	}
}

func TestAdvanceLastAgentCompletes(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	ctx := context.Background()

	// Walk the pipeline to its last agent.
	for i := 0; i < 2; i++ {
		rec, _ := f.store.Get(ctx, state.Key())
		if err := f.orch.AdvancePipeline(ctx, f.cfg, &rec.State, detector.Verdict{Kind: detector.AgentCompleted}); err != nil {
			t.Fatal(err)
		}
	}

	rec, _ := f.store.Get(ctx, state.Key())
	if rec.State.CurrentAgentIndex != 2 {
		t.Fatalf("expected index 2, got %d", rec.State.CurrentAgentIndex)
	}

	if err := f.orch.AdvancePipeline(ctx, f.cfg, &rec.State, detector.Verdict{Kind: detector.AgentCompleted}); err != nil {
		t.Fatal(err)
	}

	rec, _ = f.store.Get(ctx, state.Key())
	if !rec.State.IsComplete {
		t.Error("expected pipeline complete")
	}
	if rec.State.Status != models.PhaseInReview {
		t.Errorf("expected in_review, got %s", rec.State.Status)
	}
	if err := rec.State.Validate(); err != nil {
		t.Errorf("final state invalid: %v", err)
	}

	calls := f.platform.CallLog()
	var sawReviewMove, sawReviewer, sawComment bool
	for _, c := range calls {
		if c == "move_status proj-1#7 In Review" {
			sawReviewMove = true
		}
		if c == "set_assignee proj-1#7 lead-dev" {
			sawReviewer = true
		}
		if strings.HasPrefix(c, "add_comment proj-1#7") {
			sawComment = true
		}
	}
	if !sawReviewMove || !sawReviewer {
		t.Errorf("missing review handoff calls: %v", calls)
	}
	if !sawComment {
		t.Errorf("missing review comment: %v", calls)
	}

	completed := f.emitter.byType(models.NotificationAgentCompleted)
	last := completed[len(completed)-1]
	if last.AgentName != "tester" || last.NextAgent != "" {
		t.Errorf("final agent_completed should have no next agent: %+v", last)
	}
}

func TestAdvanceFailedIsTerminal(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	ctx := context.Background()

	verdict := detector.Verdict{Kind: detector.AgentFailed, Reason: "assignee drift"}
	if err := f.orch.AdvancePipeline(ctx, f.cfg, state, verdict); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.store.Get(ctx, state.Key())
	if rec.State.Error != "assignee drift" {
		t.Errorf("expected error recorded, got %q", rec.State.Error)
	}
	if rec.State.CurrentAgentIndex != 0 || len(rec.State.CompletedAgents) != 0 {
		t.Error("failure must leave cursor and completed agents untouched")
	}

	// Any further advance on the errored pipeline is a no-op.
	versionBefore := rec.Version
	if err := f.orch.AdvancePipeline(ctx, f.cfg, &rec.State, detector.Verdict{Kind: detector.AgentCompleted}); err != nil {
		t.Fatal(err)
	}
	rec, _ = f.store.Get(ctx, state.Key())
	if rec.Version != versionBefore {
		t.Error("advance on an errored pipeline must not write")
	}
}

func TestConcurrentAdvanceSingleTransition(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	ctx := context.Background()

	// Two poll units racing with the same observed state.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.orch.AdvancePipeline(ctx, f.cfg, state.Clone(), detector.Verdict{Kind: detector.AgentCompleted})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("advance: %v", err)
		}
	}

	rec, _ := f.store.Get(ctx, state.Key())
	if rec.State.CurrentAgentIndex != 1 {
		t.Errorf("expected exactly one transition, index = %d", rec.State.CurrentAgentIndex)
	}
	if len(rec.State.CompletedAgents) != 1 {
		t.Errorf("expected one completed agent, got %v", rec.State.CompletedAgents)
	}
}

func TestFailPipelineFirstErrorWins(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	ctx := context.Background()

	if err := f.orch.FailPipeline(ctx, state.Key(), "platform unreachable"); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.FailPipeline(ctx, state.Key(), "second error"); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.store.Get(ctx, state.Key())
	if rec.State.Error != "platform unreachable" {
		t.Errorf("first error must win, got %q", rec.State.Error)
	}
}

func TestResumePipeline(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	ctx := context.Background()

	if err := f.orch.FailPipeline(ctx, state.Key(), "platform unreachable"); err != nil {
		t.Fatal(err)
	}

	info, err := f.orch.ResumePipeline(ctx, state.Key())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if info.Error != "" {
		t.Errorf("resume must clear the error, got %q", info.Error)
	}
	if info.CurrentAgentIndex != 0 || info.CurrentAgent != "planner" {
		t.Errorf("resume must not move the cursor: %+v", info)
	}
}

func TestGetPipelineStateInfo(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)

	info, err := f.orch.GetPipelineStateInfo(context.Background(), state.Key())
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	if info.IssueNumber != 7 || info.ProjectID != "proj-1" {
		t.Errorf("unexpected identity: %+v", info)
	}
	if info.CurrentAgent != "planner" {
		t.Errorf("expected planner, got %q", info.CurrentAgent)
	}
	if len(f.platform.CallLog()) != 3 {
		t.Error("get info must not touch the platform")
	}
}

// Property: completed agents stay a strict prefix of agents across any
// random valid verdict sequence.
func TestCompletedAgentsPrefixProperty(t *testing.T) {
	f := newFixture(t)
	state := f.mustStart(t, 7)
	ctx := context.Background()

	verdicts := []detector.Verdict{
		{Kind: detector.StillRunning},
		{Kind: detector.AgentCompleted},
		{Kind: detector.StillRunning},
		{Kind: detector.StillRunning},
		{Kind: detector.AgentCompleted},
		{Kind: detector.AgentCompleted},
		{Kind: detector.AgentCompleted}, // past the end: must no-op
	}

	for i, v := range verdicts {
		rec, err := f.store.Get(ctx, state.Key())
		if err != nil {
			t.Fatal(err)
		}
		if err := f.orch.AdvancePipeline(ctx, f.cfg, &rec.State, v); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		rec, _ = f.store.Get(ctx, state.Key())
		if err := rec.State.Validate(); err != nil {
			t.Fatalf("invariant broken after verdict %d: %v", i, err)
		}
	}

	rec, _ := f.store.Get(ctx, state.Key())
	if !rec.State.IsComplete {
		t.Error("expected pipeline complete after all agents finished")
	}
}
