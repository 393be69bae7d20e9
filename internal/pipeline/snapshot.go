package pipeline

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
	"github.com/ironsheep/photomosaic-mcp/internal/prefetch"
)

// SnapshotVersion is the placement snapshot format version.
const SnapshotVersion = 1

// SnapshotExt is the conventional file extension of a placement snapshot.
const SnapshotExt = ".mosaic.zst"

type snapshot struct {
	Version    int                `json:"version"`
	Heavy      HeavyParams        `json:"heavy"`
	Generation string             `json:"generation"`
	Placements match.PlacementSet `json:"placements"`
}

// SavePlacements writes the cached placement set as zstd-compressed JSON.
func (p *Pipeline) SavePlacements(w io.Writer) error {
	p.mu.Lock()
	e := p.cache.current()
	p.mu.Unlock()
	if e == nil {
		return mosaicerr.Config("snapshot", nil, "no placements to save")
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("failed to create snapshot encoder: %w", err)
	}
	snap := snapshot{Version: SnapshotVersion, Heavy: e.heavy, Generation: e.generation, Placements: e.placements}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot: %w", err)
	}
	return nil
}

// RestorePlacements installs a snapshot written by SavePlacements, skipping
// the matching stage. The snapshot must have been computed for the current
// source image and reference only tiles of the current catalog.
func (p *Pipeline) RestorePlacements(r io.Reader) (string, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return "", mosaicerr.Config("snapshot", nil, "failed to open snapshot: %w", err)
	}
	defer dec.Close()

	var snap snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return "", mosaicerr.Config("snapshot", nil, "failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return "", mosaicerr.Config("snapshot", map[string]any{"version": snap.Version}, "unsupported snapshot version")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return "", ErrBusy
	}
	if p.catalog == nil {
		return "", mosaicerr.Catalog("snapshot", nil, "no catalog loaded")
	}
	if p.source == nil || p.source.Identity != snap.Heavy.SourceIdentity {
		return "", mosaicerr.Config("snapshot", map[string]any{"sourceIdentity": snap.Heavy.SourceIdentity}, "snapshot was computed for a different source image")
	}
	if err := (match.Params{TileSize: snap.Heavy.TileSize, TextureWeight: snap.Heavy.TextureWeight}).Validate(); err != nil {
		return "", err
	}
	bounds := p.source.Image.Bounds()
	if !snap.Placements.Covers(bounds) {
		return "", mosaicerr.Config("snapshot", nil, "snapshot placements do not tile the source image")
	}
	if !snap.Placements.OnGrid(snap.Heavy.TileSize, bounds) {
		return "", mosaicerr.Config("snapshot", map[string]any{"tileSize": snap.Heavy.TileSize}, "snapshot placements do not match its tile size")
	}
	for i, pl := range snap.Placements {
		if _, _, ok := p.catalog.Lookup(pl.TileID, pl.PatternType); !ok {
			return "", mosaicerr.Catalog("snapshot", map[string]any{"index": i, "tile": string(pl.TileID), "pattern": pl.PatternType}, "snapshot references a tile pattern missing from the catalog")
		}
	}

	e := p.cache.put(snap.Heavy, snap.Generation, snap.Placements)
	p.evictUnused(p.catalog, e.placements)
	p.prefetch.Start(e.generation, p.catalog, prefetch.NeededShards(p.catalog, e.placements))
	log.WithFields(log.Fields{"generation": e.generation, "placements": len(e.placements)}).Info("placements restored")
	return e.generation, nil
}
