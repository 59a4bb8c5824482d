package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// replayTTL bounds how long a finished turn's events stay replayable.
const replayTTL = 10 * time.Minute

// ReplayStore persists turn events so a reconnecting client can resume a
// stream from the last sequence number it saw.
type ReplayStore interface {
	Append(ctx context.Context, turnID string, ev Event) error
	List(ctx context.Context, turnID string, fromSeq int64) ([]Event, error)
	Expire(ctx context.Context, turnID string, ttl time.Duration) error
}

// MemoryReplayStore keeps turn events in process memory. Suitable for tests
// and single-instance deployments.
type MemoryReplayStore struct {
	mu    sync.RWMutex
	turns map[string][]Event
}

// NewMemoryReplayStore creates an empty in-memory store.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{turns: make(map[string][]Event)}
}

func (s *MemoryReplayStore) Append(_ context.Context, turnID string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turnID] = append(s.turns[turnID], ev)
	return nil
}

func (s *MemoryReplayStore) List(_ context.Context, turnID string, fromSeq int64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.turns[turnID] {
		if ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryReplayStore) Expire(_ context.Context, turnID string, ttl time.Duration) error {
	// Memory store expires eagerly on a timer rather than tracking deadlines.
	go func() {
		time.Sleep(ttl)
		s.mu.Lock()
		delete(s.turns, turnID)
		s.mu.Unlock()
	}()
	return nil
}

// RedisReplayStore persists turn events in a Redis list, one JSON document
// per event, so any instance behind a load balancer can serve a resume.
type RedisReplayStore struct {
	rdb *redis.Client
}

// NewRedisReplayStore wraps an existing Redis client.
func NewRedisReplayStore(rdb *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{rdb: rdb}
}

func replayKey(turnID string) string {
	return "turn:events:" + turnID
}

func (s *RedisReplayStore) Append(ctx context.Context, turnID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event seq %d: %w", ev.Seq, err)
	}
	if err := s.rdb.RPush(ctx, replayKey(turnID), payload).Err(); err != nil {
		return fmt.Errorf("rpush turn %s: %w", turnID, err)
	}
	return nil
}

func (s *RedisReplayStore) List(ctx context.Context, turnID string, fromSeq int64) ([]Event, error) {
	raw, err := s.rdb.LRange(ctx, replayKey(turnID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange turn %s: %w", turnID, err)
	}
	var out []Event
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode event for turn %s: %w", turnID, err)
		}
		if ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *RedisReplayStore) Expire(ctx context.Context, turnID string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, replayKey(turnID), ttl).Err(); err != nil {
		return fmt.Errorf("expire turn %s: %w", turnID, err)
	}
	return nil
}
