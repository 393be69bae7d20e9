package pipeline

import (
	"github.com/google/uuid"

	"github.com/ironsheep/photomosaic-mcp/internal/match"
)

// cacheEntry is one computed placement set and the parameters it was
// computed for. Entries are never mutated; a recompute replaces the entry.
type cacheEntry struct {
	heavy      HeavyParams
	generation string
	placements match.PlacementSet
}

// placementCache holds the last placement set. It is guarded by the
// pipeline mutex.
type placementCache struct {
	entry *cacheEntry
}

// lookup returns the cached entry if it was computed for h.
func (c *placementCache) lookup(h HeavyParams) (*cacheEntry, bool) {
	if c.entry == nil || c.entry.heavy != h {
		return nil, false
	}
	return c.entry, true
}

// put replaces the cached entry. An empty generation gets a fresh id.
func (c *placementCache) put(h HeavyParams, generation string, set match.PlacementSet) *cacheEntry {
	if generation == "" {
		generation = uuid.NewString()
	}
	c.entry = &cacheEntry{heavy: h, generation: generation, placements: set}
	return c.entry
}

func (c *placementCache) current() *cacheEntry { return c.entry }

func (c *placementCache) invalidate() { c.entry = nil }
