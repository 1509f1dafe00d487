package memory

import (
	"context"
	"sync"

	"trivia-live-service/internal/app"
)

// AccumulatorStore keeps Round-1 running totals in process memory. It
// satisfies reconnects within one server lifetime; the Redis variant
// survives restarts too.
type AccumulatorStore struct {
	mu     sync.RWMutex
	states map[string]app.AccumulatorState
}

func NewAccumulatorStore() *AccumulatorStore {
	return &AccumulatorStore{states: make(map[string]app.AccumulatorState)}
}

func (s *AccumulatorStore) Load(_ context.Context, uid string) (app.AccumulatorState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[uid]
	return state, ok, nil
}

func (s *AccumulatorStore) Save(_ context.Context, uid string, state app.AccumulatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[uid] = state
	return nil
}

func (s *AccumulatorStore) Clear(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, uid)
	return nil
}
