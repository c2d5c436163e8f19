// Package fetch implements the fetch strategy registry and the
// built-in HTTP and rendering strategies.
package fetch

import (
	"sort"
	"sync"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// Registry holds fetch strategies ordered by descending priority.
// Select returns the first strategy whose capability predicate matches;
// ties keep registration order.
type Registry struct {
	mu         sync.RWMutex
	strategies []crawler.FetchStrategy
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends the strategy and re-sorts by priority. The sort is
// stable so equal priorities dispatch in insertion order.
func (r *Registry) Register(s crawler.FetchStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].Priority() > r.strategies[j].Priority()
	})
}

// Select returns the highest-priority strategy supporting url, or nil.
// A nil result is a fatal, non-retryable condition for the item.
func (r *Registry) Select(url string) crawler.FetchStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.Supports(url) {
			return s
		}
	}
	return nil
}

// ByName returns the registered strategy with the given name, or nil.
// The processor uses it to resolve the rendering strategy explicitly
// when the escalation heuristic fires.
func (r *Registry) ByName(name string) crawler.FetchStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// All returns the strategies in dispatch order.
func (r *Registry) All() []crawler.FetchStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.FetchStrategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}
