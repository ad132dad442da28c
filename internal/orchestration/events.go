package orchestration

import (
	"sync"
	"time"

	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

// EventBus fans run progress events out to WebSocket subscribers.
// Publishing never blocks the run: a subscriber that falls behind has
// events dropped rather than stalling dispatch.
type EventBus struct {
	mu   sync.Mutex
	subs map[string]map[chan models.RunEvent]struct{}
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string]map[chan models.RunEvent]struct{}),
	}
}

// Subscribe returns a buffered channel of events for one run and an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *EventBus) Subscribe(runID string) (<-chan models.RunEvent, func()) {
	ch := make(chan models.RunEvent, 64)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan models.RunEvent]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if set, ok := b.subs[runID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, runID)
			}
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber of its run.
func (b *EventBus) Publish(event models.RunEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.RunID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than block the run.
		}
	}
}
