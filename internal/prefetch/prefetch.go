// Package prefetch warms the full-resolution sprite sheets an export will
// need.
//
// After every recompute the pipeline starts one batch for the new placement
// generation. A batch fetches the minimal set of sheets with bounded
// concurrency, counts failures instead of aborting, and exposes a handle
// that export awaits lazily. Starting a batch supersedes the previous one.
package prefetch

import (
	"context"
	"image"
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// DefaultConcurrency is the number of sheet fetches in flight per batch.
const DefaultConcurrency = 10

const stage = "prefetch"

// Ensurer makes a sheet resident. sprites.Store is the production one.
type Ensurer interface {
	Ensure(ctx context.Context, loc string) (image.Image, error)
}

// NeededShards returns the sorted, de-duplicated full-resolution sheet
// indices referenced by placements. A catalog without full sheets needs none.
func NeededShards(cat *catalog.Catalog, placements match.PlacementSet) []int {
	if cat == nil || !cat.HasFull() {
		return nil
	}
	seen := make(map[int]bool)
	for _, p := range placements {
		t, _, _ := cat.Lookup(p.TileID, p.PatternType)
		if t == nil {
			continue
		}
		seen[t.Full.SheetIndex] = true
	}
	shards := make([]int, 0, len(seen))
	for s := range seen {
		shards = append(shards, s)
	}
	sort.Ints(shards)
	return shards
}

// Stats summarizes a finished batch.
type Stats struct {
	Requested int `json:"requested"`
	Fetched   int `json:"fetched"`
	Failed    int `json:"failed"`
	// Skipped counts sheets never attempted because the batch was superseded.
	Skipped int `json:"skipped"`
}

// Batch is the completion handle of one prefetch run.
type Batch struct {
	Generation string
	Shards     []int

	cancel  context.CancelFunc
	done    chan struct{}
	fetched atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

// Done is closed once every fetch of the batch has finished or been skipped.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch completes or ctx ends.
func (b *Batch) Wait(ctx context.Context) (Stats, error) {
	select {
	case <-b.done:
		return b.Stats(), nil
	case <-ctx.Done():
		return b.Stats(), ctx.Err()
	}
}

// Stats returns the counters so far.
func (b *Batch) Stats() Stats {
	return Stats{
		Requested: len(b.Shards),
		Fetched:   int(b.fetched.Load()),
		Failed:    int(b.failed.Load()),
		Skipped:   int(b.skipped.Load()),
	}
}

// Prefetcher owns the current batch.
type Prefetcher struct {
	store Ensurer
	limit int

	mu      sync.Mutex
	current *Batch
}

// New returns a prefetcher fetching through store. limit <= 0 uses
// DefaultConcurrency.
func New(store Ensurer, limit int) *Prefetcher {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Prefetcher{store: store, limit: limit}
}

// Start launches a batch for generation and returns immediately. Any batch
// still running is cancelled; fetches it has not begun are skipped.
func (p *Prefetcher) Start(generation string, cat *catalog.Catalog, shards []int) *Batch {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batch{
		Generation: generation,
		Shards:     append([]int(nil), shards...),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.current
	p.current = b
	p.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	go p.run(ctx, b, cat)
	return b
}

// Current returns the latest batch, or nil before the first Start.
func (p *Prefetcher) Current() *Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop cancels the current batch without starting another.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	b := p.current
	p.current = nil
	p.mu.Unlock()
	if b != nil {
		b.cancel()
	}
}

func (p *Prefetcher) run(ctx context.Context, b *Batch, cat *catalog.Catalog) {
	defer close(b.done)
	defer b.cancel()

	g := new(errgroup.Group)
	g.SetLimit(p.limit)
	for _, shard := range b.Shards {
		shard := shard
		g.Go(func() error {
			if ctx.Err() != nil {
				b.skipped.Add(1)
				return nil
			}
			loc, ok := cat.FullSheet(shard)
			if !ok {
				b.failed.Add(1)
				return nil
			}
			if _, err := p.store.Ensure(ctx, loc); err != nil {
				if ctx.Err() != nil {
					b.skipped.Add(1)
					return nil
				}
				b.failed.Add(1)
				if mosaicerr.KindOf(err) != mosaicerr.KindNetwork {
					err = mosaicerr.Network(stage, map[string]any{"shard": shard}, "%w", err)
				}
				log.WithFields(log.Fields{"stage": stage, "generation": b.Generation, "shard": shard}).Warnf("prefetch failed: %v", err)
				return nil
			}
			b.fetched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	st := b.Stats()
	log.WithFields(log.Fields{
		"stage":      stage,
		"generation": b.Generation,
		"requested":  st.Requested,
		"fetched":    st.Fetched,
		"failed":     st.Failed,
		"skipped":    st.Skipped,
	}).Debug("prefetch batch done")
}
