// Package travel memoizes pairwise travel estimates between intervention
// locations so the genetic loop never recomputes or touches storage for a
// pair it has already seen.
package travel

import (
	"sync"
	"time"

	"fieldplan/internal/geo"
	"fieldplan/internal/metrics"
	"fieldplan/internal/model"
)

// FreshnessHorizon is the maximum age of a cached entry. Older entries are
// treated as misses and recomputed.
const FreshnessHorizon = 30 * 24 * time.Hour

type pairKey struct {
	a, b string
}

// pairOf builds the order-independent key for two location ids.
func pairOf(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Cache is a read-mostly memoization table. Concurrent evaluators may race
// on Put for the same pair; the computation is deterministic so
// last-write-wins is fine.
type Cache struct {
	mu      sync.Mutex
	entries map[pairKey]model.TravelCacheEntry
	dirty   map[pairKey]struct{}
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: map[pairKey]model.TravelCacheEntry{},
		dirty:   map[pairKey]struct{}{},
		now:     time.Now,
	}
}

// Get returns the cached entry for the unordered pair (a, b), or false when
// absent or stale.
func (c *Cache) Get(a, b string) (model.TravelCacheEntry, bool) {
	k := pairOf(a, b)
	c.mu.Lock()
	e, ok := c.entries[k]
	c.mu.Unlock()
	if !ok || c.now().Sub(e.ComputedAt) > FreshnessHorizon {
		metrics.TravelCacheMisses.Inc()
		return model.TravelCacheEntry{}, false
	}
	metrics.TravelCacheHits.Inc()
	return e, true
}

// Put stores an entry under the unordered pair key and marks it for
// persistence.
func (c *Cache) Put(e model.TravelCacheEntry) {
	k := pairOf(e.LocA, e.LocB)
	c.mu.Lock()
	c.entries[k] = e
	c.dirty[k] = struct{}{}
	c.mu.Unlock()
}

// Warm preloads persisted entries without marking them dirty. Stale entries
// are dropped on the way in.
func (c *Cache) Warm(entries []model.TravelCacheEntry) {
	cutoff := c.now().Add(-FreshnessHorizon)
	c.mu.Lock()
	for _, e := range entries {
		if e.ComputedAt.Before(cutoff) {
			continue
		}
		c.entries[pairOf(e.LocA, e.LocB)] = e
	}
	c.mu.Unlock()
}

// DrainDirty returns the entries computed since the last drain, for batch
// persistence after a run.
func (c *Cache) DrainDirty() []model.TravelCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.dirty) == 0 {
		return nil
	}
	out := make([]model.TravelCacheEntry, 0, len(c.dirty))
	for k := range c.dirty {
		out = append(out, c.entries[k])
	}
	c.dirty = map[pairKey]struct{}{}
	return out
}

// Estimator answers cache-or-compute travel lookups for the fitness
// evaluator and the materializer.
type Estimator struct {
	Cache *Cache
}

func NewEstimator(c *Cache) *Estimator {
	if c == nil {
		c = NewCache()
	}
	return &Estimator{Cache: c}
}

// Between returns the travel estimate from location aID at point a to
// location bID at point b. On a cache miss it computes via the geo model and
// stores the result.
func (e *Estimator) Between(aID string, a model.GeoPoint, bID string, b model.GeoPoint, costPerKm float64) (geo.Estimate, error) {
	if entry, ok := e.Cache.Get(aID, bID); ok {
		return geo.Estimate{DistanceKm: entry.DistanceKm, TimeMin: entry.TimeMin, Cost: entry.Cost}, nil
	}
	est, err := geo.DistanceAndTime(a, b, costPerKm)
	if err != nil {
		return geo.Estimate{}, err
	}
	e.Cache.Put(model.TravelCacheEntry{
		LocA:       aID,
		LocB:       bID,
		DistanceKm: est.DistanceKm,
		TimeMin:    est.TimeMin,
		Cost:       est.Cost,
		ComputedAt: e.Cache.now(),
	})
	return est, nil
}
