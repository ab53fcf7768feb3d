package memory

import (
	"context"
	"sync"

	audit "veriface/pkg/platform/audit"
)

const defaultCapacity = 10000

// InMemoryStore keeps the most recent audit events in a bounded ring; when
// full the oldest event is dropped.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []audit.Event
	head     int
	count    int
	capacity int
	dropped  int64
}

// NewInMemoryStore creates a store holding up to capacity events.
func NewInMemoryStore(capacity ...int) *InMemoryStore {
	c := defaultCapacity
	if len(capacity) > 0 && capacity[0] > 0 {
		c = capacity[0]
	}
	return &InMemoryStore{events: make([]audit.Event, c), capacity: c}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == s.capacity {
		s.dropped++
	} else {
		s.count++
	}
	s.events[s.head] = event
	s.head = (s.head + 1) % s.capacity
	return nil
}

// ListBySubject returns a subject's retained events, oldest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.ordered() {
		if e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns up to limit of the newest events, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.ordered()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Dropped returns how many events were evicted to make room.
func (s *InMemoryStore) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *InMemoryStore) ordered() []audit.Event {
	out := make([]audit.Event, 0, s.count)
	start := (s.head - s.count + s.capacity) % s.capacity
	for i := 0; i < s.count; i++ {
		out = append(out, s.events[(start+i)%s.capacity])
	}
	return out
}
