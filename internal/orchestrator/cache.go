package orchestrator

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/haasonsaas/forge/pkg/models"
)

// resultsCache remembers tool results by call ID so a model that
// re-issues an identical call within a turn gets the cached result
// instead of a re-execution. Entries age out after the configured TTL.
type resultsCache struct {
	lru *expirable.LRU[string, models.ToolResult]
}

func newResultsCache(capacity int, ttl time.Duration) *resultsCache {
	if capacity <= 0 {
		capacity = defaultResultsCacheSize
	}
	return &resultsCache{
		lru: expirable.NewLRU[string, models.ToolResult](capacity, nil, ttl),
	}
}

// Get returns the cached result for a call ID. Reads go through Peek
// so a dedup hit never refreshes the entry's position: eviction order
// stays insertion order.
func (c *resultsCache) Get(callID string) (models.ToolResult, bool) {
	return c.lru.Peek(callID)
}

// Insert stores a result, evicting the oldest entry by insertion once
// full. Re-inserting a known ID refreshes its value and its age.
func (c *resultsCache) Insert(callID string, result models.ToolResult) {
	if callID == "" {
		return
	}
	c.lru.Add(callID, result)
}

// Len reports how many results are cached.
func (c *resultsCache) Len() int {
	return c.lru.Len()
}
