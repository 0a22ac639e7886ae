package orchestrator

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/pkg/models"
)

// NotificationEmitter receives AgentNotification events for UI and
// observability fan-out. Emit must never block the orchestrator: slow
// consumers drop events rather than stall pipeline transitions.
type NotificationEmitter interface {
	Emit(n models.AgentNotification)
}

// ChannelEmitter buffers notifications on a channel for a single
// consumer, e.g. the watch dashboard. When the buffer is full new events
// are dropped.
type ChannelEmitter struct {
	ch     chan models.AgentNotification
	mu     sync.Mutex
	closed bool
}

// NewChannelEmitter creates a ChannelEmitter with the given buffer size.
func NewChannelEmitter(size int) *ChannelEmitter {
	if size <= 0 {
		size = 100
	}
	return &ChannelEmitter{ch: make(chan models.AgentNotification, size)}
}

// Emit enqueues the notification, dropping it when the buffer is full.
func (e *ChannelEmitter) Emit(n models.AgentNotification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- n:
	default:
		// Buffer full, drop to avoid blocking transitions.
	}
}

// Notifications returns the consumer side of the channel.
func (e *ChannelEmitter) Notifications() <-chan models.AgentNotification {
	return e.ch
}

// Close closes the channel. Emit becomes a no-op afterwards.
func (e *ChannelEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

// LogEmitter writes notifications to the process log.
type LogEmitter struct{}

// Emit logs the notification.
func (LogEmitter) Emit(n models.AgentNotification) {
	key := models.PipelineKey{ProjectID: n.ProjectID, IssueNumber: n.IssueNumber}
	if n.NextAgent != "" {
		log.Printf("[orchestrator] %s %s agent=%s next=%s status=%s",
			n.Type, key, n.AgentName, n.NextAgent, n.Status)
		return
	}
	log.Printf("[orchestrator] %s %s agent=%s status=%s", n.Type, key, n.AgentName, n.Status)
}

// MultiEmitter fans one notification out to several emitters.
type MultiEmitter []NotificationEmitter

// Emit forwards the notification to every emitter.
func (m MultiEmitter) Emit(n models.AgentNotification) {
	for _, e := range m {
		e.Emit(n)
	}
}

// newNotification builds a notification with a fresh correlation ID.
func newNotification(typ models.NotificationType, state *models.PipelineState, agent, next string) models.AgentNotification {
	return models.AgentNotification{
		ID:          uuid.New().String(),
		Type:        typ,
		IssueNumber: state.IssueNumber,
		ProjectID:   state.ProjectID,
		AgentName:   agent,
		Status:      state.Status,
		NextAgent:   next,
		Timestamp:   time.Now(),
	}
}
