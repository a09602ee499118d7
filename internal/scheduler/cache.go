package scheduler

import (
	"fmt"

	gocache "github.com/patrickmn/go-cache"
)

// chunkSnapshot is a ready chunk's converted output at the tempo under which
// it was cached.
type chunkSnapshot struct {
	OutputIndex  int
	Output       [][]float32
	OutputLength int
}

// tempoCache holds at most one previous-tempo snapshot: the entire set of
// ready chunks' outputs at the tempo the engine was using just before the
// most recent tempo change. A second tempo change overwrites it — go-cache's
// Set naturally replaces a key's value, so no bespoke LRU/TTL bookkeeping is
// needed here.
type tempoCache struct {
	c *gocache.Cache
}

func newTempoCache() *tempoCache {
	return &tempoCache{c: gocache.New(gocache.NoExpiration, gocache.NoExpiration)}
}

func tempoKey(tempo float64) string {
	return fmt.Sprintf("%.6f", tempo)
}

// Store snapshots every ready chunk at the given tempo, replacing any
// previously cached snapshot (regardless of its tempo).
func (tc *tempoCache) Store(tempo float64, snapshots []chunkSnapshot) {
	tc.c.Flush()
	tc.c.SetDefault(tempoKey(tempo), snapshots)
}

// Restore returns the cached snapshots for tempo, if the single cache entry
// happens to match it.
func (tc *tempoCache) Restore(tempo float64) ([]chunkSnapshot, bool) {
	v, ok := tc.c.Get(tempoKey(tempo))
	if !ok {
		return nil, false
	}
	snaps, ok := v.([]chunkSnapshot)
	return snaps, ok
}

func (tc *tempoCache) Clear() {
	tc.c.Flush()
}
