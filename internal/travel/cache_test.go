package travel

import (
	"testing"
	"time"

	"fieldplan/internal/model"
)

func entry(a, b string, at time.Time) model.TravelCacheEntry {
	return model.TravelCacheEntry{LocA: a, LocB: b, DistanceKm: 12.5, TimeMin: 18.75, Cost: 6.25, ComputedAt: at}
}

func TestCacheIdempotentAcrossArgumentOrder(t *testing.T) {
	c := NewCache()
	c.Put(entry("i1", "i2", time.Now()))

	e1, ok := c.Get("i1", "i2")
	if !ok {
		t.Fatal("expected hit for (i1,i2)")
	}
	e2, ok := c.Get("i2", "i1")
	if !ok {
		t.Fatal("expected hit for reversed pair (i2,i1)")
	}
	if e1 != e2 {
		t.Fatalf("entries differ across argument order: %+v vs %+v", e1, e2)
	}
	// repeated get returns the identical entry
	e3, _ := c.Get("i1", "i2")
	if e3 != e1 {
		t.Fatalf("repeated get changed the entry: %+v vs %+v", e3, e1)
	}
}

func TestCacheStaleEntryIsMiss(t *testing.T) {
	c := NewCache()
	c.Put(entry("a", "b", time.Now().Add(-FreshnessHorizon-time.Hour)))
	if _, ok := c.Get("a", "b"); ok {
		t.Fatal("entry older than the freshness horizon must be a miss")
	}
}

func TestWarmSkipsStaleAndDoesNotDirty(t *testing.T) {
	c := NewCache()
	c.Warm([]model.TravelCacheEntry{
		entry("a", "b", time.Now()),
		entry("c", "d", time.Now().Add(-FreshnessHorizon-time.Minute)),
	})
	if _, ok := c.Get("a", "b"); !ok {
		t.Fatal("fresh warmed entry should hit")
	}
	if _, ok := c.Get("c", "d"); ok {
		t.Fatal("stale warmed entry should miss")
	}
	if got := c.DrainDirty(); len(got) != 0 {
		t.Fatalf("warmed entries must not be dirty, got %d", len(got))
	}
}

func TestDrainDirty(t *testing.T) {
	c := NewCache()
	c.Put(entry("a", "b", time.Now()))
	c.Put(entry("b", "c", time.Now()))

	first := c.DrainDirty()
	if len(first) != 2 {
		t.Fatalf("drain: got %d entries, want 2", len(first))
	}
	if second := c.DrainDirty(); len(second) != 0 {
		t.Fatalf("second drain should be empty, got %d", len(second))
	}
}

func TestEstimatorComputesOnMissAndCaches(t *testing.T) {
	est := NewEstimator(nil)
	paris := model.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	lyon := model.GeoPoint{Lat: 45.7640, Lng: 4.8357}

	got, err := est.Between("i1", paris, "i2", lyon, 0.4)
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if got.DistanceKm <= 0 || got.TimeMin <= 0 {
		t.Fatalf("implausible estimate: %+v", got)
	}

	// second lookup must be served from cache and be identical
	again, err := est.Between("i2", lyon, "i1", paris, 0.4)
	if err != nil {
		t.Fatalf("Between (cached): %v", err)
	}
	if again != got {
		t.Fatalf("cached estimate differs: %+v vs %+v", again, got)
	}
	if n := len(est.Cache.DrainDirty()); n != 1 {
		t.Fatalf("expected exactly one dirty entry, got %d", n)
	}
}
