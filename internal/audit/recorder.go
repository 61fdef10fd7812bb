package audit

import (
	"context"
	"sync"
)

// Recorder appends events to an audit trail. Record fills in Sequence,
// PrevHash and Hash.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
	Close() error
}

// NopRecorder discards events. Used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Event) error { return nil }
func (NopRecorder) Close() error                         { return nil }

// MemoryRecorder keeps a hash chain in process memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryRecorder creates an empty in-memory trail.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *Event
	if n := len(m.events); n > 0 {
		prev = m.events[n-1]
	}
	e.chain(prev)
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the recorded events in order.
func (m *MemoryRecorder) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryRecorder) Close() error { return nil }
