package scorer

import (
	"container/list"
	"context"
	"math"
	"sync"

	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/pkg/hash"
)

// Cache stores scores by pair key.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool)
	Set(ctx context.Context, key string, score float64)
	Delete(ctx context.Context, key string) error
	Name() string
}

// CacheMetrics is the interface for recording cache metrics.
// This keeps the scorer decoupled from the metrics package.
type CacheMetrics interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// CachedScorer memoizes an inner scorer. Only successful scores in [0,1] are
// cached; an out-of-range cached value is evicted and recomputed.
type CachedScorer struct {
	inner   evaluation.Scorer
	cache   Cache
	metrics CacheMetrics
}

// NewCachedScorer wraps inner. metrics may be nil.
func NewCachedScorer(inner evaluation.Scorer, cache Cache, metrics CacheMetrics) *CachedScorer {
	return &CachedScorer{inner: inner, cache: cache, metrics: metrics}
}

// Score implements evaluation.Scorer.
func (s *CachedScorer) Score(ctx context.Context, candidate, reference string) (float64, error) {
	key := hash.PairKey(candidate, reference)

	if score, ok := s.cache.Get(ctx, key); ok {
		if cacheable(score) {
			if s.metrics != nil {
				s.metrics.RecordCacheHit(s.cache.Name())
			}
			return score, nil
		}
		_ = s.cache.Delete(ctx, key)
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(s.cache.Name())
	}

	score, err := s.inner.Score(ctx, candidate, reference)
	if err != nil {
		return 0, err
	}
	if cacheable(score) {
		s.cache.Set(ctx, key, score)
	}
	return score, nil
}

func cacheable(score float64) bool {
	return !math.IsNaN(score) && score >= 0 && score <= 1
}

// MemoryCache is a bounded LRU cache.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = most recently used
}

type memoryItem struct {
	key   string
	score float64
}

// NewMemoryCache creates a cache holding at most maxSize scores.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return 0, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryItem).score, true
}

func (c *MemoryCache) Set(_ context.Context, key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*memoryItem).score = score
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryItem).key)
	}
	c.items[key] = c.order.PushFront(&memoryItem{key: key, score: score})
}

// Delete removes one cached score.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	return nil
}

// Len returns the number of cached scores.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
