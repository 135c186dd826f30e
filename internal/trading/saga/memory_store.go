package saga

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and Outbox for local runs and tests.
type MemoryStore struct {
	mu         sync.Mutex
	instances  map[uuid.UUID]Instance
	outbox     map[uuid.UUID]OutboxMessage
	dispatched map[uuid.UUID]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances:  make(map[uuid.UUID]Instance),
		outbox:     make(map[uuid.UUID]OutboxMessage),
		dispatched: make(map[uuid.UUID]struct{}),
	}
}

func (s *MemoryStore) Load(ctx context.Context, correlationID uuid.UUID) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[correlationID]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, inst Instance, expectedVersion int64, outbox []OutboxMessage) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.instances[inst.CorrelationID]
	switch {
	case expectedVersion == 0 && exists:
		return Instance{}, ErrConcurrencyConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return Instance{}, ErrConcurrencyConflict
	}

	saved := inst.Clone()
	saved.Version = expectedVersion + 1
	s.instances[saved.CorrelationID] = saved
	for _, msg := range outbox {
		if _, ok := s.outbox[msg.ID]; ok {
			continue
		}
		msg.Payload = append([]byte(nil), msg.Payload...)
		s.outbox[msg.ID] = msg
	}
	return saved.Clone(), nil
}

// PendingOutbox returns undispatched messages, oldest first.
func (s *MemoryStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]OutboxMessage, 0, len(s.outbox))
	for id, msg := range s.outbox {
		if _, done := s.dispatched[id]; done {
			continue
		}
		pending = append(pending, msg)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbox[id]; ok {
		s.dispatched[id] = struct{}{}
	}
	return nil
}
