// Package parse implements the parse strategy registry and the
// built-in generic and per-platform profile extractors.
package parse

import (
	"sort"
	"sync"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// Registry holds parse strategies ordered by descending priority;
// same dispatch contract as the fetch registry.
type Registry struct {
	mu         sync.RWMutex
	strategies []crawler.ParseStrategy
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends the strategy and re-sorts by priority, stable so
// equal priorities keep insertion order.
func (r *Registry) Register(s crawler.ParseStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].Priority() > r.strategies[j].Priority()
	})
}

// Select returns the highest-priority strategy supporting url, or nil.
func (r *Registry) Select(url string) crawler.ParseStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.Supports(url) {
			return s
		}
	}
	return nil
}

// All returns the strategies in dispatch order.
func (r *Registry) All() []crawler.ParseStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.ParseStrategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}
