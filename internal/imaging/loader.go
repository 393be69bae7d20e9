package imaging

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ImageCache provides thread-safe storage of decoded images keyed by a
// string, usually a file path or sheet URL.
//
// Stored images are treated as immutable: every reader gets the same
// instance and must not draw into it. That is what lets decoded sprite
// sheets be shared across concurrent render tasks without copying.
//
// # Memory Management
//
// Cached images remain in memory until explicitly removed via Evict() or
// Clear().
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Get returns the image stored under key.
func (c *ImageCache) Get(key string) (image.Image, bool) {
	c.mu.RLock()
	img, ok := c.images[key]
	c.mu.RUnlock()
	return img, ok
}

// Put stores img under key. An existing entry is kept, so concurrent
// decoders of the same key agree on one instance; the stored image is
// returned.
func (c *ImageCache) Put(key string, img image.Image) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.images[key]; ok {
		return prev
	}
	c.images[key] = img
	return img
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache by its key.
func (c *ImageCache) Evict(key string) {
	c.mu.Lock()
	delete(c.images, key)
	c.mu.Unlock()
}

// Source is a decoded target image ready for matching and rendering.
//
// Image is anchored at (0,0) in NRGBA layout so cell statistics can walk the
// pixel buffer directly. Identity changes whenever the pixel content does and
// is part of the placement cache fingerprint.
type Source struct {
	Image    *image.NRGBA
	Identity string
	Format   string
}

// Width returns the source width in pixels.
func (s *Source) Width() int { return s.Image.Bounds().Dx() }

// Height returns the source height in pixels.
func (s *Source) Height() int { return s.Image.Bounds().Dy() }

// DecodeSource decodes an encoded image and derives its identity from the
// SHA-1 of the encoded bytes.
//
// Supported formats are PNG, JPEG, GIF and WebP.
func DecodeSource(data []byte) (*Source, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	sum := sha1.Sum(data)
	return &Source{
		Image:    imaging.Clone(img),
		Identity: hex.EncodeToString(sum[:]),
		Format:   format,
	}, nil
}

// LoadSource reads and decodes the image file at path.
func LoadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return DecodeSource(data)
}

// NewSource wraps an already decoded image. The identity is supplied by the
// caller and must change whenever the pixels do.
func NewSource(img image.Image, identity string) *Source {
	return &Source{Image: imaging.Clone(img), Identity: identity, Format: "memory"}
}
