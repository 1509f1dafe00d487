package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/app"
)

// AccumulatorStore checkpoints each participant's Round-1 running total so
// a crashed or reconnecting client resumes where it left off instead of
// losing the deferred score. Checkpoints are cheap Redis writes, not
// document-store writes, so the one-flush-per-round policy is preserved.
type AccumulatorStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAccumulatorStore(client *redis.Client, ttl time.Duration) *AccumulatorStore {
	return &AccumulatorStore{client: client, ttl: ttl}
}

func (s *AccumulatorStore) Load(ctx context.Context, uid string) (app.AccumulatorState, bool, error) {
	raw, err := s.client.Get(ctx, s.key(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return app.AccumulatorState{}, false, nil
	}
	if err != nil {
		return app.AccumulatorState{}, false, fmt.Errorf("load accumulator %s: %w", uid, err)
	}
	var state app.AccumulatorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return app.AccumulatorState{}, false, fmt.Errorf("load accumulator %s: %w", uid, err)
	}
	return state, true, nil
}

func (s *AccumulatorStore) Save(ctx context.Context, uid string, state app.AccumulatorState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("save accumulator %s: %w", uid, err)
	}
	if err := s.client.Set(ctx, s.key(uid), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save accumulator %s: %w", uid, err)
	}
	return nil
}

func (s *AccumulatorStore) Clear(ctx context.Context, uid string) error {
	if err := s.client.Del(ctx, s.key(uid)).Err(); err != nil {
		return fmt.Errorf("clear accumulator %s: %w", uid, err)
	}
	return nil
}

func (s *AccumulatorStore) key(uid string) string {
	return "round1:accumulator:" + uid
}
