package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is a transient domain occurrence flowing through the pipeline. Both
// live mutations and scheduler sweeps produce the same shape, so matching and
// execution logic exists exactly once.
type Event struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	ProjectID  uint                   `json:"project_id"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// EventHandler consumes one event. Implemented by AutomationService.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt Event)
}

// EventPipeline is the single ingestion point for domain events. Submit is
// fire-and-forget: callers only pay for the enqueue, a worker goroutine does
// the matching and execution.
type EventPipeline struct {
	handler EventHandler
	logger  *logrus.Logger

	mu      sync.Mutex
	events  chan Event
	stopped bool
	wg      sync.WaitGroup
}

func NewEventPipeline(handler EventHandler, logger *logrus.Logger, bufferSize int) *EventPipeline {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventPipeline{
		handler: handler,
		logger:  logger,
		events:  make(chan Event, bufferSize),
	}
}

// Start launches the worker goroutine.
func (p *EventPipeline) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for evt := range p.events {
			p.handler.HandleEvent(context.Background(), evt)
		}
	}()
}

// Stop drains the queue and waits for in-flight processing to finish.
func (p *EventPipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.events)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit enqueues an event without blocking the caller. When the buffer is
// full or the pipeline is stopped the event is dropped with a warning rather
// than stalling the domain-mutation path.
func (p *EventPipeline) Submit(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.logger.Warnf("pipeline: dropping event %s (%s), pipeline stopped", evt.ID, evt.Kind)
		return
	}
	select {
	case p.events <- evt:
	default:
		p.logger.Warnf("pipeline: dropping event %s (%s), queue full", evt.ID, evt.Kind)
	}
}
