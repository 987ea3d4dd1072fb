package manager

import (
	"sync"

	"npud/pkg/types"
)

// MemoryPublisher records events in memory so tests can assert on task
// lifecycle order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// TaskEvents returns the event names published for one task, in order.
func (p *MemoryPublisher) TaskEvents(id types.TaskID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, e := range p.events {
		if e.TaskID == id {
			names = append(names, e.Name)
		}
	}
	return names
}
