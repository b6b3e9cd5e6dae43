// Package scorer provides the structural similarity scorers the evaluator
// delegates to, plus a result cache in front of them.
//
// The tree-edit-distance computation itself lives in an external service;
// HTTPScorer is the client for it.
package scorer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tablearena/tablearena/internal/config"
	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/pkg/logger"
)

// Exact scores 1 when both canonical tables are identical and 0 otherwise.
// It needs no external service and is meant for smoke tests and local runs.
var Exact evaluation.Scorer = evaluation.ScorerFunc(func(_ context.Context, candidate, reference string) (float64, error) {
	if candidate == reference {
		return 1, nil
	}
	return 0, nil
})

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the scorer described by cfg, wrapped in the configured cache.
// The returned Closer releases cache connections.
func New(cfg config.ScorerConfig, metrics CacheMetrics, log *logger.Logger) (evaluation.Scorer, io.Closer, error) {
	var base evaluation.Scorer
	switch strings.ToLower(cfg.Type) {
	case "http", "":
		base = NewHTTPScorer(cfg.URL, cfg.Timeout)
	case "exact":
		base = Exact
	default:
		return nil, nil, fmt.Errorf("unknown scorer type: %s", cfg.Type)
	}

	var cache Cache
	var closer io.Closer = nopCloser{}
	switch strings.ToLower(cfg.CacheType) {
	case "none", "":
		return base, closer, nil
	case "memory":
		cache = NewMemoryCache(cfg.CacheSize)
	case "redis":
		rc, err := NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Warn("Redis scorer cache unavailable, falling back to memory", "error", err)
			cache = NewMemoryCache(cfg.CacheSize)
		} else {
			cache = rc
			closer = rc
		}
	default:
		return nil, nil, fmt.Errorf("unknown scorer cache: %s", cfg.CacheType)
	}

	return NewCachedScorer(base, cache, metrics), closer, nil
}
