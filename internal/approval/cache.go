// Package approval caches the user's tool approval decisions for the
// current session. Decisions are held in memory only and never
// persisted: a new process starts with an empty cache.
package approval

import (
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/forge/pkg/models"
)

// Cache stores per-tool and per-category approval decisions. A
// tool-specific decision always wins over a category decision, and
// once a tool-level decision exists a later category write never
// displaces it. Denials are cached the same way approvals are.
type Cache struct {
	mu         sync.RWMutex
	now        func() time.Time
	tools      map[string]models.ApprovalDecision
	categories map[string]models.ApprovalDecision
}

// NewCache creates an empty approval cache.
func NewCache() *Cache {
	return &Cache{
		now:        time.Now,
		tools:      map[string]models.ApprovalDecision{},
		categories: map[string]models.ApprovalDecision{},
	}
}

// IsApproved returns the effective decision for tool in category:
// the tool-specific decision if one exists, otherwise the category
// decision, otherwise nil for undefined.
func (c *Cache) IsApproved(tool, category string) *bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if key := normalizeKey(tool); key != "" {
		if decision, ok := c.tools[key]; ok {
			approved := decision.Approved
			return &approved
		}
	}
	if key := normalizeKey(category); key != "" {
		if decision, ok := c.categories[key]; ok {
			approved := decision.Approved
			return &approved
		}
	}
	return nil
}

// SetApproval records a decision for one specific tool.
func (c *Cache) SetApproval(tool, category string, approved bool) {
	key := normalizeKey(tool)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[key] = models.ApprovalDecision{
		ToolName: key,
		Category: normalizeKey(category),
		Approved: approved,
		Scope:    models.ApprovalScopeTool,
		TS:       c.now(),
	}
}

// SetCategoryApproval records a decision covering every tool in a
// category that has no decision of its own.
func (c *Cache) SetCategoryApproval(category string, approved bool) {
	key := normalizeKey(category)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[key] = models.ApprovalDecision{
		Category: key,
		Approved: approved,
		Scope:    models.ApprovalScopeCategory,
		TS:       c.now(),
	}
}

// Clear drops every cached decision.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = map[string]models.ApprovalDecision{}
	c.categories = map[string]models.ApprovalDecision{}
}

// Stats counts the cached decisions by scope.
type Stats struct {
	Specific int `json:"specific"`
	Category int `json:"category"`
}

// Stats reports how many decisions the cache holds.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Specific: len(c.tools), Category: len(c.categories)}
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
