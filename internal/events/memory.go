package events

import (
	"context"
	"sync"

	"diffit/internal/diffit"
)

// MemoryPublisher keeps published events in memory and fans them out to
// in-process subscribers. It is used in tests and single-node setups.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []diffit.Event
	subs   []func(diffit.Event)
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, e diffit.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	subs := append([]func(diffit.Event){}, p.subs...)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
	return nil
}

// Subscribe registers fn for every event published after the call.
func (p *MemoryPublisher) Subscribe(fn func(diffit.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []diffit.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]diffit.Event(nil), p.events...)
}

// OfType returns the published events with the given type.
func (p *MemoryPublisher) OfType(typ string) []diffit.Event {
	var out []diffit.Event
	for _, e := range p.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var _ diffit.EventPublisher = (*MemoryPublisher)(nil)
