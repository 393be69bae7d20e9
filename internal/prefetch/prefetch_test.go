package prefetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironsheep/photomosaic-mcp/internal/catalog"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
)

// fakeStore records Ensure calls and tracks how many run at once.
type fakeStore struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	block   chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeStore) Ensure(ctx context.Context, loc string) (image.Image, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, loc)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[loc] {
		return nil, errors.New("connection reset")
	}
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func (f *fakeStore) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// shardCatalog has one tile per entry of sheetOf, tile i living in sheet
// sheetOf[i] of a full set with numSheets sheets.
func shardCatalog(t *testing.T, numSheets int, sheetOf ...int) *catalog.Catalog {
	t.Helper()
	sheets := make([]string, numSheets)
	for i := range sheets {
		sheets[i] = fmt.Sprintf("https://cdn.example.com/full-%d.jpg", i)
	}
	center, _ := catalog.ParsePatternType("center")
	tiles := make([]catalog.Tile, len(sheetOf))
	for i, s := range sheetOf {
		tiles[i] = catalog.Tile{
			ID:       catalog.TileID(fmt.Sprintf("t%d", i)),
			Patterns: []catalog.Pattern{{Type: center}},
			Full:     catalog.FullCoords{SheetIndex: s},
		}
	}
	cat, err := catalog.New(catalog.TileSets{
		Thumb: &catalog.SpriteSet{TileWidth: 4, TileHeight: 4, SheetURL: "thumb.png"},
		Full:  &catalog.SpriteSet{TileWidth: 16, TileHeight: 16, SheetURLs: sheets},
	}, tiles)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func placements(ids ...string) match.PlacementSet {
	set := make(match.PlacementSet, len(ids))
	for i, id := range ids {
		set[i] = match.Placement{TileID: catalog.TileID(id), PatternType: "center", X: i * 4, Width: 4, Height: 4}
	}
	return set
}

func TestNeededShards(t *testing.T) {
	cat := shardCatalog(t, 5, 0, 2, 2, 4, 1)

	got := NeededShards(cat, placements("t2", "t0", "t1", "t0", "t2"))
	if want := []int{0, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := NeededShards(cat, nil); len(got) != 0 {
		t.Errorf("empty placements: got %v", got)
	}

	thumbOnly, _ := catalog.New(catalog.TileSets{Thumb: &catalog.SpriteSet{TileWidth: 4, TileHeight: 4, SheetURL: "t.png"}},
		[]catalog.Tile{{ID: "t0", Patterns: []catalog.Pattern{{Type: catalog.PatternType{Tag: "center"}}}}})
	if got := NeededShards(thumbOnly, placements("t0")); got != nil {
		t.Errorf("thumb-only catalog: got %v", got)
	}
}

func TestPrefetcher_FetchesExactlyNeeded(t *testing.T) {
	cat := shardCatalog(t, 5, 0, 2)
	store := &fakeStore{}
	p := New(store, 0)

	b := p.Start("gen-1", cat, NeededShards(cat, placements("t0", "t1")))
	st, err := b.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if st != (Stats{Requested: 2, Fetched: 2}) {
		t.Errorf("stats: got %+v", st)
	}

	got := store.called()
	want := map[string]bool{
		"https://cdn.example.com/full-0.jpg": true,
		"https://cdn.example.com/full-2.jpg": true,
	}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] || got[0] == got[1] {
		t.Errorf("fetched %v", got)
	}
	if p.Current() != b {
		t.Error("Current should return the started batch")
	}
}

func TestPrefetcher_CountsFailures(t *testing.T) {
	cat := shardCatalog(t, 3, 0, 1, 2)
	store := &fakeStore{fail: map[string]bool{"https://cdn.example.com/full-1.jpg": true}}
	p := New(store, 2)

	st, err := p.Start("gen", cat, []int{0, 1, 2}).Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if st.Requested != 3 || st.Fetched != 2 || st.Failed != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestPrefetcher_BoundedConcurrency(t *testing.T) {
	shards := make([]int, 25)
	sheetOf := make([]int, 25)
	for i := range shards {
		shards[i] = i
		sheetOf[i] = i
	}
	cat := shardCatalog(t, 25, sheetOf...)
	store := &fakeStore{block: make(chan struct{})}
	p := New(store, 4)

	b := p.Start("gen", cat, shards)
	deadline := time.Now().Add(2 * time.Second)
	for store.active.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(store.block)

	st, err := b.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Fetched != 25 {
		t.Errorf("fetched: got %d, want 25", st.Fetched)
	}
	if m := store.maxSeen.Load(); m > 4 {
		t.Errorf("max in flight: got %d, want <= 4", m)
	}
}

func TestPrefetcher_StartDoesNotBlock(t *testing.T) {
	cat := shardCatalog(t, 3, 0, 1, 2)
	store := &fakeStore{block: make(chan struct{})}
	defer close(store.block)
	p := New(store, 1)

	started := make(chan *Batch)
	go func() { started <- p.Start("gen", cat, []int{0, 1, 2}) }()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Start blocked on a full batch")
	}
}

func TestPrefetcher_NewBatchSupersedes(t *testing.T) {
	cat := shardCatalog(t, 3, 0, 1, 2)
	store := &fakeStore{block: make(chan struct{})}
	p := New(store, 1)

	first := p.Start("gen-1", cat, []int{0, 1, 2})
	second := p.Start("gen-2", cat, nil)

	st, err := first.Wait(context.Background())
	if err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if st.Fetched != 0 || st.Skipped != 3 {
		t.Errorf("superseded batch stats: got %+v", st)
	}
	if _, err := second.Wait(context.Background()); err != nil {
		t.Errorf("second Wait: %v", err)
	}
	if p.Current() != second {
		t.Error("Current should be the newest batch")
	}
	close(store.block)
}

func TestBatch_WaitHonorsContext(t *testing.T) {
	cat := shardCatalog(t, 1, 0)
	store := &fakeStore{block: make(chan struct{})}
	defer close(store.block)
	p := New(store, 1)
	b := p.Start("gen", cat, []int{0})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}
