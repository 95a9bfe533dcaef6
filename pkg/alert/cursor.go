package alert

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CursorStore persists per-subscriber ack cursors so a reconnecting
// subscriber resumes from its last acknowledged sequence even when it
// lost its own state.
type CursorStore interface {
	// Get returns the last acked sequence for the subscriber, 0 if none.
	Get(ctx context.Context, subscriber string) (uint64, error)
	// Set records the last acked sequence. Cursors only move forward.
	Set(ctx context.Context, subscriber string, seq uint64) error
}

// MemoryCursors keeps cursors in process memory. Suitable for tests and
// single-node deployments without Redis.
type MemoryCursors struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{cursors: make(map[string]uint64)}
}

func (m *MemoryCursors) Get(_ context.Context, subscriber string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[subscriber], nil
}

func (m *MemoryCursors) Set(_ context.Context, subscriber string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.cursors[subscriber] {
		m.cursors[subscriber] = seq
	}
	return nil
}

// RedisCursors stores cursors in Redis, one key per subscriber, so
// cursors survive process restarts and are shared across replicas.
type RedisCursors struct {
	client *redis.Client
	prefix string
}

// NewRedisCursors wraps an existing Redis client. prefix defaults to
// "auditchain:cursor:".
func NewRedisCursors(client *redis.Client, prefix string) *RedisCursors {
	if prefix == "" {
		prefix = "auditchain:cursor:"
	}
	return &RedisCursors{client: client, prefix: prefix}
}

func (r *RedisCursors) key(subscriber string) string {
	return r.prefix + subscriber
}

func (r *RedisCursors) Get(ctx context.Context, subscriber string) (uint64, error) {
	val, err := r.client.Get(ctx, r.key(subscriber)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("alert: cursor read for %s failed: %w", subscriber, err)
	}
	seq, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("alert: cursor for %s is corrupt: %w", subscriber, err)
	}
	return seq, nil
}

func (r *RedisCursors) Set(ctx context.Context, subscriber string, seq uint64) error {
	// Forward-only, enforced server side so concurrent acks cannot
	// rewind the cursor.
	const script = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local new = tonumber(ARGV[1])
if new > cur then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1`
	if err := r.client.Eval(ctx, script, []string{r.key(subscriber)}, seq).Err(); err != nil {
		return fmt.Errorf("alert: cursor write for %s failed: %w", subscriber, err)
	}
	return nil
}
