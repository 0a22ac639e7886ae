package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/internal/detector"
	"github.com/flowline-dev/flowline/internal/orchestrator"
	"github.com/flowline-dev/flowline/internal/platform"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/models"
)

// WorkflowSource resolves the workflow configuration for a project. The
// config registry implements it; tests supply a map-backed stub.
type WorkflowSource interface {
	// WorkflowFor returns the configuration for a project, or false when
	// the project is unknown.
	WorkflowFor(projectID string) (*models.WorkflowConfiguration, bool)
}

// Config holds the poller's tuning knobs. Zero values are replaced with
// defaults in New.
type Config struct {
	// Interval is the cadence between poll cycles.
	Interval time.Duration
	// RefreshEvery is how many cycles pass between registry refreshes
	// from the store.
	RefreshEvery int
	// MaxConcurrent bounds how many poll units run at once. It is sized
	// to the platform's rate limit, not to the number of pipelines.
	MaxConcurrent int
	// BackoffFloor and BackoffCeiling bound the per-key delay after
	// transient failures.
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	// FailureCeiling is the number of consecutive transient failures
	// after which a pipeline is marked errored instead of retried.
	FailureCeiling int
}

// DefaultConfig returns the tuning used by the serve command.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		RefreshEvery:   4,
		MaxConcurrent:  8,
		BackoffFloor:   15 * time.Second,
		BackoffCeiling: 8 * time.Minute,
		FailureCeiling: 10,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = d.RefreshEvery
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = d.BackoffFloor
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = d.BackoffCeiling
	}
	if c.FailureCeiling <= 0 {
		c.FailureCeiling = d.FailureCeiling
	}
}

// entry tracks the poller's per-pipeline scheduling state. It never holds
// pipeline data; the store stays the single source of truth.
type entry struct {
	failures     int
	nextEligible time.Time
	inFlight     bool
}

// Poller drives all active pipelines on a fixed cadence. Each pipeline
// polls independently: one key's backoff or slow platform call never
// delays the others, and no two poll units ever run for the same key at
// once.
type Poller struct {
	cfg       Config
	store     store.Store
	platform  platform.Client
	orch      *orchestrator.Orchestrator
	detector  *detector.Detector
	workflows WorkflowSource

	now func() time.Time

	mu       sync.Mutex
	registry map[models.PipelineKey]*entry

	wg  sync.WaitGroup
	sem chan struct{}
}

// New creates a poller. The detector may be nil, in which case the
// default marker convention is used.
func New(cfg Config, st store.Store, pc platform.Client, orch *orchestrator.Orchestrator, workflows WorkflowSource, det *detector.Detector) *Poller {
	cfg.applyDefaults()
	if det == nil {
		det = detector.New(detector.DefaultMarker())
	}
	return &Poller{
		cfg:       cfg,
		store:     st,
		platform:  pc,
		orch:      orch,
		detector:  det,
		workflows: workflows,
		now:       time.Now,
		registry:  make(map[models.PipelineKey]*entry),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run polls until the context is canceled. In-flight poll units are
// allowed to finish their current cycle before Run returns; a unit is
// never canceled mid-call, so the platform never sees half a transition
// from shutdown.
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("[poller] starting: interval=%s max_concurrent=%d", p.cfg.Interval, p.cfg.MaxConcurrent)

	if err := p.Refresh(ctx); err != nil {
		log.Printf("[poller] initial registry refresh: %v", err)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("[poller] stopping, waiting for in-flight polls")
			p.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		cycle++
		if cycle%p.cfg.RefreshEvery == 0 {
			if err := p.Refresh(ctx); err != nil {
				log.Printf("[poller] registry refresh: %v", err)
			}
		}
		p.runCycle(ctx)
	}
}

// Refresh reloads the active-pipeline registry from the store: newly
// started pipelines join, completed or errored ones drop out, and
// pipelines whose project is disabled or unknown are skipped. Scheduling
// state for keys that stay registered is preserved.
func (p *Poller) Refresh(ctx context.Context) error {
	records, err := p.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active pipelines: %w", err)
	}

	active := make(map[models.PipelineKey]bool, len(records))
	for _, rec := range records {
		cfg, ok := p.workflows.WorkflowFor(rec.State.ProjectID)
		if !ok || !cfg.Enabled {
			continue
		}
		active[rec.State.Key()] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range active {
		if _, ok := p.registry[key]; !ok {
			p.registry[key] = &entry{}
			log.Printf("[poller] tracking pipeline %s", key)
		}
	}
	for key, e := range p.registry {
		if !active[key] {
			// An in-flight unit finishes its cycle; it is simply not
			// rescheduled.
			if !e.inFlight {
				delete(p.registry, key)
				log.Printf("[poller] dropped pipeline %s", key)
			}
		}
	}
	return nil
}

// runCycle fans out one poll unit per due pipeline, bounded by the
// concurrency limit.
func (p *Poller) runCycle(ctx context.Context) {
	for _, key := range p.dueKeys() {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		p.wg.Add(1)
		go func(key models.PipelineKey) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.pollOne(ctx, key)
		}(key)
	}
}

// dueKeys returns the keys eligible this cycle and marks them in flight.
func (p *Poller) dueKeys() []models.PipelineKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var due []models.PipelineKey
	for key, e := range p.registry {
		if e.inFlight || now.Before(e.nextEligible) {
			continue
		}
		e.inFlight = true
		due = append(due, key)
	}
	return due
}

// pollOne runs a single poll-and-advance unit for one pipeline key.
func (p *Poller) pollOne(ctx context.Context, key models.PipelineKey) {
	defer p.release(key)

	rec, err := p.store.Get(ctx, key)
	if err != nil {
		p.afterError(ctx, key, err)
		return
	}
	state := &rec.State
	if !state.Active() {
		p.drop(key)
		return
	}

	cfg, ok := p.workflows.WorkflowFor(state.ProjectID)
	if !ok || !cfg.Enabled {
		p.drop(key)
		return
	}

	snap, err := p.platform.GetIssueState(ctx, key.ProjectID, key.IssueNumber)
	if err != nil {
		p.afterError(ctx, key, err)
		return
	}

	verdict := p.detector.Evaluate(state, snap)
	if err := p.orch.AdvancePipeline(ctx, cfg, state, verdict); err != nil {
		p.afterError(ctx, key, err)
		return
	}
	p.afterSuccess(key)
}

func (p *Poller) release(key models.PipelineKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.registry[key]; ok {
		e.inFlight = false
	}
}

func (p *Poller) drop(key models.PipelineKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.registry, key)
}

func (p *Poller) afterSuccess(key models.PipelineKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.registry[key]; ok {
		e.failures = 0
		e.nextEligible = time.Time{}
	}
}

// afterError classifies a poll-unit failure. Permanent platform errors
// fail the pipeline immediately; transient ones back off this key alone,
// up to the consecutive-failure ceiling.
func (p *Poller) afterError(ctx context.Context, key models.PipelineKey, err error) {
	if platform.IsPermanent(err) {
		log.Printf("[poller] pipeline %s: permanent platform error: %v", key, err)
		p.failPipeline(ctx, key, fmt.Sprintf("platform error: %v", err))
		return
	}

	p.mu.Lock()
	e, ok := p.registry[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.failures++
	failures := e.failures
	if failures < p.cfg.FailureCeiling {
		delay := backoff(failures, p.cfg.BackoffFloor, p.cfg.BackoffCeiling)
		e.nextEligible = p.now().Add(delay)
		p.mu.Unlock()
		log.Printf("[poller] pipeline %s: transient failure %d, next poll in %s: %v", key, failures, delay, err)
		return
	}
	p.mu.Unlock()

	log.Printf("[poller] pipeline %s: %d consecutive transient failures, giving up: %v", key, failures, err)
	p.failPipeline(ctx, key, fmt.Sprintf("platform unreachable after %d consecutive attempts: %v", failures, err))
}

func (p *Poller) failPipeline(ctx context.Context, key models.PipelineKey, reason string) {
	if err := p.orch.FailPipeline(ctx, key, reason); err != nil {
		log.Printf("[poller] pipeline %s: recording failure: %v", key, err)
		return
	}
	p.drop(key)
}

// Tracked reports how many pipelines the poller is currently scheduling.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.registry)
}
