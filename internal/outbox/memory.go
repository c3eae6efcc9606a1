package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"colonybridge/internal/model"
)

// MemoryStore keeps deliveries in process. Deltas are lost on exit; fine for
// short sessions and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]Delivery{}}
}

func (s *MemoryStore) Enqueue(_ context.Context, marketID int64, diff map[string]int) (string, error) {
	d := newDelivery(marketID, diff, time.Now())
	s.mu.Lock()
	s.items[d.ID] = d
	s.mu.Unlock()
	return d.ID, nil
}

func (s *MemoryStore) FetchDue(_ context.Context, now time.Time, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Delivery
	for _, d := range s.items {
		if !d.NextAttemptAt.After(now) {
			d.Diff = model.CloneCargo(d.Diff)
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, attempts int, nextAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return nil
	}
	d.Attempts = attempts
	d.NextAttemptAt = nextAt
	d.LastError = lastErr
	s.items[id] = d
	return nil
}

func (s *MemoryStore) Pending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *MemoryStore) Close() error { return nil }
