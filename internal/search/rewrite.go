package search

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/pkg/utils"
)

// Rewriter turns a user query into the text used for retrieval.
type Rewriter interface {
	Rewrite(ctx context.Context, tenantID, query string) (string, error)
}

// WhitespaceRewriter collapses runs of whitespace and trims the query.
type WhitespaceRewriter struct{}

func (WhitespaceRewriter) Rewrite(_ context.Context, _, query string) (string, error) {
	return utils.NormalizeWhitespace(query), nil
}

// maxRewriteEntries bounds the cache; expired entries are dropped first when it is full.
const maxRewriteEntries = 10000

type rewriteKey struct {
	tenantID string
	query    string
}

type rewriteEntry struct {
	value   string
	expires time.Time
}

// RewriteCache memoizes a Rewriter per (tenant, query) for a fixed TTL. It is meant
// to be built once and shared. Concurrent misses for one key may both call the
// rewriter; the last write wins.
type RewriteCache struct {
	rewriter Rewriter
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[rewriteKey]rewriteEntry
}

// NewRewriteCache wraps rewriter with a TTL cache. now may be nil to use time.Now.
func NewRewriteCache(rewriter Rewriter, ttl time.Duration, now func() time.Time, logger *zap.Logger) *RewriteCache {
	if now == nil {
		now = time.Now
	}
	return &RewriteCache{
		rewriter: rewriter,
		ttl:      ttl,
		now:      now,
		logger:   utils.OrNop(logger),
		entries:  make(map[rewriteKey]rewriteEntry),
	}
}

// Rewrite returns the cached rewrite of query, computing it on a miss. A failing or
// empty rewrite yields the original query and is not cached.
func (c *RewriteCache) Rewrite(ctx context.Context, tenantID, query string) string {
	key := rewriteKey{tenantID, query}
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.value
	}

	out, err := c.rewriter.Rewrite(ctx, tenantID, query)
	if err != nil || out == "" {
		if err != nil {
			c.logger.Warn("query rewrite failed, using original query", zap.Error(err))
		}
		return query
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= maxRewriteEntries {
		c.evict(now)
	}
	c.entries[key] = rewriteEntry{value: out, expires: now.Add(c.ttl)}
	return out
}

// Len returns the number of cached entries, including expired ones not yet evicted.
func (c *RewriteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict drops expired entries, or one arbitrary entry when none has expired.
// Callers hold c.mu.
func (c *RewriteCache) evict(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < maxRewriteEntries {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}
