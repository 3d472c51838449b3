// Package bus is the in-process queue between the transport poll loop and the
// orchestrator's dispatch loop.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// Queue is a buffered channel of inbound events with a single consumer.
// Close stops intake; events already queued are still delivered.
type Queue struct {
	events         chan domain.InboundEvent
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	done           chan struct{} // closed first by Close to release waiting publishers
	stopOnce       sync.Once
	logger         *slog.Logger
}

type Config struct {
	BufferSize     int
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

func New(cfg Config) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		events:         make(chan domain.InboundEvent, cfg.BufferSize),
		publishTimeout: cfg.PublishTimeout,
		done:           make(chan struct{}),
		logger:         cfg.Logger,
	}
}

// Publish enqueues ev. When the buffer is full it blocks up to the publish
// timeout instead of dropping immediately. It returns false if the event was
// dropped or the queue is closed. Close releases a waiting Publish at once.
func (q *Queue) Publish(ev domain.InboundEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "event", eventName(ev))
		return false
	}

	select {
	case q.events <- ev:
		return true
	default:
	}

	q.logger.Warn("event queue full, waiting...", "event", eventName(ev))
	timer := time.NewTimer(q.publishTimeout)
	defer timer.Stop()
	select {
	case q.events <- ev:
		q.logger.Info("event delivered after wait", "event", eventName(ev))
		return true
	case <-q.done:
		q.logger.Warn("event dropped: queue closed while waiting", "event", eventName(ev))
		return false
	case <-timer.C:
		q.logger.Error("event dropped: queue full", "event", eventName(ev), "waited", q.publishTimeout)
		return false
	}
}

// Subscribe returns the consumer side. It is closed by Close.
func (q *Queue) Subscribe() <-chan domain.InboundEvent {
	return q.events
}

// Close stops accepting events. Safe to call more than once.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
}

// Len reports the number of queued events not yet consumed.
func (q *Queue) Len() int {
	return len(q.events)
}

func eventName(ev domain.InboundEvent) string {
	switch ev.(type) {
	case domain.CommandEvent:
		return "command"
	case domain.PhotoEvent:
		return "photo"
	case domain.ConnectivityIssueEvent:
		return "connectivity_issue"
	default:
		return "unknown"
	}
}
