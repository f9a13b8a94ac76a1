package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator claims job ids so a redelivered creation event provisions no second Worker
type Deduplicator interface {
	// Claim reports whether the caller is the first to see id within the window
	Claim(ctx context.Context, jobID string) (bool, error)
	// Release drops a claim so the job can be dispatched again
	Release(ctx context.Context, jobID string) error
}

// RedisDeduplicator keeps claims in Redis so they are shared by every dispatcher
type RedisDeduplicator struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

func NewRedisDeduplicator(client redis.Cmdable, prefix string, window time.Duration) *RedisDeduplicator {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisDeduplicator{
		client: client,
		prefix: prefix,
		window: window,
	}
}

func (r *RedisDeduplicator) key(jobID string) string {
	return r.prefix + jobID
}

// Claim uses SET NX with the window as TTL
func (r *RedisDeduplicator) Claim(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, errors.New("job id cannot be empty")
	}

	status, err := r.client.SetArgs(ctx, r.key(jobID), time.Now().UTC().Format(time.RFC3339), redis.SetArgs{
		Mode: "NX",
		TTL:  r.window,
	}).Result()
	if err != nil {
		// NX not met comes back as a nil reply
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}
	return status == "OK", nil
}

func (r *RedisDeduplicator) Release(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, r.key(jobID)).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// MemoryDeduplicator keeps claims in process. Claims are not shared between dispatchers.
type MemoryDeduplicator struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryDeduplicator(window time.Duration) *MemoryDeduplicator {
	if window <= 0 {
		window = time.Hour
	}
	return &MemoryDeduplicator{
		window: window,
		now:    time.Now,
		claims: make(map[string]time.Time),
	}
}

// SetClock replaces the time source
func (m *MemoryDeduplicator) SetClock(now func() time.Time) {
	m.now = now
}

func (m *MemoryDeduplicator) Claim(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, id)
		}
	}

	if _, ok := m.claims[jobID]; ok {
		return false, nil
	}
	m.claims[jobID] = now.Add(m.window)
	return true, nil
}

func (m *MemoryDeduplicator) Release(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, jobID)
	return nil
}

// NoopDeduplicator claims every id. Redelivered creation events are then
// dispatched again and the job runs once per delivery.
type NoopDeduplicator struct{}

func (NoopDeduplicator) Claim(context.Context, string) (bool, error) { return true, nil }

func (NoopDeduplicator) Release(context.Context, string) error { return nil }
