package services

import (
	"context"
	"sync"
	"testing"
)

// recordingHandler collects handled events; safe for the worker goroutine.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) HandleEvent(ctx context.Context, evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
}

func (h *recordingHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

func TestEventPipeline_DeliversInOrder(t *testing.T) {
	handler := &recordingHandler{}
	pipeline := NewEventPipeline(handler, quietLogger(), 16)
	pipeline.Start()

	for i := 0; i < 5; i++ {
		pipeline.Submit(Event{Kind: "onStatusChange", ProjectID: uint(i + 1)})
	}
	pipeline.Stop()

	events := handler.snapshot()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, evt := range events {
		if evt.ProjectID != uint(i+1) {
			t.Fatalf("events out of order: %#v", events)
		}
	}
}

func TestEventPipeline_SubmitFillsDefaults(t *testing.T) {
	handler := &recordingHandler{}
	pipeline := NewEventPipeline(handler, quietLogger(), 4)
	pipeline.Start()

	pipeline.Submit(Event{Kind: "taskAssigned", ProjectID: 1})
	pipeline.Stop()

	events := handler.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Error("expected generated event ID")
	}
	if events[0].OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be filled")
	}
}

func TestEventPipeline_SubmitAfterStopIsDropped(t *testing.T) {
	handler := &recordingHandler{}
	pipeline := NewEventPipeline(handler, quietLogger(), 4)
	pipeline.Start()
	pipeline.Stop()

	// 已停止的管道丢弃事件而不是 panic
	pipeline.Submit(Event{Kind: "sprintStart", ProjectID: 1})
	pipeline.Stop() // 重复 Stop 也是安全的

	if got := len(handler.snapshot()); got != 0 {
		t.Fatalf("expected 0 events, got %d", got)
	}
}

func TestEventPipeline_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	handler := &recordingHandler{}
	// 不启动 worker：队列填满后 Submit 必须立即返回
	pipeline := NewEventPipeline(handler, quietLogger(), 2)

	for i := 0; i < 10; i++ {
		pipeline.Submit(Event{Kind: "onStatusChange", ProjectID: 1})
	}

	pipeline.Start()
	pipeline.Stop()

	if got := len(handler.snapshot()); got != 2 {
		t.Fatalf("expected buffer-capacity 2 events delivered, got %d", got)
	}
}
