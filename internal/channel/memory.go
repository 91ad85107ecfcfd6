package channel

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber queue length of a Memory broker.
const DefaultBuffer = 64

// Memory is an in-process broker. It serves as the transport for tests and as
// the fan-out hub inside the reference server.
//
// Publish never blocks. A subscriber whose queue is full misses events until
// its queue drains, then receives Resync() in place of the next one.
type Memory struct {
	mu     sync.Mutex
	subs   map[*memSub]struct{}
	buffer int
}

type memSub struct {
	scope  Scope
	out    chan Event
	lagged bool
}

// NewMemory creates a broker with the given per-subscriber buffer. A
// non-positive buffer uses DefaultBuffer.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Memory{subs: make(map[*memSub]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber for scope until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, scope Scope) (<-chan Event, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s := &memSub{scope: scope, out: make(chan Event, m.buffer)}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, s)
		close(s.out)
		m.mu.Unlock()
	}()
	return s.out, nil
}

// Publish delivers e to every subscriber whose scope matches.
func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		if !e.Matches(s.scope) {
			continue
		}
		if s.lagged {
			// The refetch triggered by the resync covers e as well.
			select {
			case s.out <- Resync():
				s.lagged = false
			default:
			}
			continue
		}
		select {
		case s.out <- e:
		default:
			s.lagged = true
		}
	}
	return nil
}

// Resync sends a resync marker to every subscriber of scope, as a transport
// does after reconnecting.
func (m *Memory) Resync(scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		if s.scope != scope {
			continue
		}
		select {
		case s.out <- Resync():
			s.lagged = false
		default:
			s.lagged = true
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
