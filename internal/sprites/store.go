package sprites

import (
	"bytes"
	"context"
	"image"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
)

// Store keeps decoded sheets by location.
//
// Each sheet is fetched and decoded at most once at a time: concurrent
// Ensure calls for the same location share one fetch. Decoded images are
// immutable and returned by reference.
type Store struct {
	cache   *imaging.ImageCache
	fetcher Fetcher
	group   singleflight.Group
}

// NewStore returns an empty store backed by fetcher.
func NewStore(fetcher Fetcher) *Store {
	if fetcher == nil {
		fetcher = MultiFetcher{}
	}
	return &Store{cache: imaging.NewImageCache(), fetcher: fetcher}
}

// Get returns an already decoded sheet.
func (s *Store) Get(loc string) (image.Image, bool) {
	return s.cache.Get(loc)
}

// Has reports whether loc is decoded and resident.
func (s *Store) Has(loc string) bool {
	_, ok := s.cache.Get(loc)
	return ok
}

// Put installs a decoded sheet directly.
func (s *Store) Put(loc string, img image.Image) {
	s.cache.Put(loc, img)
}

// Ensure returns the sheet at loc, fetching and decoding it if needed.
// Failures are returned as network errors.
//
// The shared fetch runs detached from any one caller: cancelling ctx only
// stops this caller from waiting, other callers of the same sheet still get
// the result.
func (s *Store) Ensure(ctx context.Context, loc string) (image.Image, error) {
	if img, ok := s.cache.Get(loc); ok {
		return img, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(loc, func() (any, error) {
		if img, ok := s.cache.Get(loc); ok {
			return img, nil
		}
		data, err := s.fetcher.Fetch(fetchCtx, loc)
		if err != nil {
			return nil, mosaicerr.Network("sheet-fetch", map[string]any{"sheet": loc}, "failed to fetch sheet: %w", err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, mosaicerr.Network("sheet-fetch", map[string]any{"sheet": loc}, "failed to decode sheet: %w", err)
		}
		log.WithFields(log.Fields{"sheet": loc, "bytes": len(data)}).Debug("sheet decoded")
		return s.cache.Put(loc, img), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of resident sheets.
func (s *Store) Len() int { return s.cache.Len() }

// Evict drops a sheet, e.g. after its catalog was replaced.
func (s *Store) Evict(loc string) { s.cache.Evict(loc) }

// Clear drops every sheet.
func (s *Store) Clear() { s.cache.Clear() }
