package memory

import (
	"sync"

	"github.com/aretw0/latch/pkg/domain"
)

// Sink implements ports.AnalyticsSink by keeping the most recent events in memory.
// Safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
	limit  int
}

// NewSink creates a sink that retains at most limit events (0 means unbounded).
func NewSink(limit int) *Sink {
	return &Sink{limit: limit}
}

// Enqueue records the event, evicting the oldest one when the limit is reached.
func (s *Sink) Enqueue(event domain.AnalyticsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.limit > 0 && len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
}

// Events returns a copy of the retained events, oldest first.
func (s *Sink) Events() []domain.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AnalyticsEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Names returns the retained event names, oldest first.
func (s *Sink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.Name
	}
	return names
}
