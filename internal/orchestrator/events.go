package orchestrator

import (
	"sync"

	"sketchd/internal/broadcast"
)

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(string, broadcast.Event) int { return 0 }

// Published is one event recorded by MemoryPublisher.
type Published struct {
	Sketch string
	Event  broadcast.Event
}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Published
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(sketch string, ev broadcast.Event) int {
	p.mu.Lock()
	p.events = append(p.events, Published{Sketch: sketch, Event: ev})
	p.mu.Unlock()
	return 1
}

func (p *MemoryPublisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.events))
	copy(out, p.events)
	return out
}

// Types lists the recorded event types for sketch, in order.
func (p *MemoryPublisher) Types(sketch string) []string {
	var out []string
	for _, e := range p.Events() {
		if e.Sketch == sketch {
			out = append(out, e.Event.Type)
		}
	}
	return out
}
