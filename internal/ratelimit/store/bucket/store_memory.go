package bucket

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"gatehouse/internal/ratelimit/models"
	"gatehouse/pkg/requestcontext"
)

const defaultShards = 32

// InMemoryBucketStore implements ports.CounterStore with process-local fixed
// windows. Keys are spread over mutex-guarded shards.
type InMemoryBucketStore struct {
	seed   maphash.Seed
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// New creates an in-memory store. Call StartCleanup to evict ended windows.
func New() *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard, defaultShards),
	}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*fixedWindow)}
	}
	return s
}

func (s *InMemoryBucketStore) shardFor(key string) *shard {
	return s.shards[maphash.String(s.seed, key)%uint64(len(s.shards))]
}

// Increment counts one hit. A window that has ended is replaced by a fresh one
// starting now.
func (s *InMemoryBucketStore) Increment(ctx context.Context, key string, window time.Duration) (*models.Window, error) {
	now := requestcontext.Now(ctx)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(window)}
		sh.windows[key] = w
	}
	w.count++
	return &models.Window{Key: key, Count: w.count, ResetAt: w.resetAt}, nil
}

func (s *InMemoryBucketStore) Peek(ctx context.Context, key string) (*models.Window, error) {
	now := requestcontext.Now(ctx)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		return nil, nil
	}
	return &models.Window{Key: key, Count: w.count, ResetAt: w.resetAt}, nil
}

func (s *InMemoryBucketStore) Release(ctx context.Context, key string) error {
	now := requestcontext.Now(ctx)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		return nil
	}
	w.count--
	if w.count <= 0 {
		delete(sh.windows, key)
	}
	return nil
}

func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.windows, key)
	return nil
}

// Len returns the number of windows held, including ended ones not yet evicted.
func (s *InMemoryBucketStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// StartCleanup runs periodic eviction of ended windows until ctx is cancelled.
func (s *InMemoryBucketStore) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RemoveExpiredAt(time.Now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RemoveExpiredAt evicts every window that has ended as of now and returns
// how many were removed. Exported for testability; background cleanup passes
// wall-clock time.
func (s *InMemoryBucketStore) RemoveExpiredAt(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if !now.Before(w.resetAt) {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
