// Package dezoomer defines the polymorphic dezoomer protocol: the interface
// every zoomable-image format implements, the registry that auto-probes
// them, and the zoom-level selector.
package dezoomer

import (
	"context"
	"image"
)

// TileReference names one network fetch: a URL and the pixel coordinate at
// which the decoded tile belongs in the target raster. Position is a
// top-left offset into the raster, not a tile index.
type TileReference struct {
	URL string
	X   uint32
	Y   uint32
}

// Dimensions is a width/height pair. A zero value means "unknown until
// probed", as with the generic dezoomer before it has discovered extents.
type Dimensions struct {
	Width  uint32
	Height uint32
}

// Known reports whether both sides of the dimensions have been resolved.
func (d Dimensions) Known() bool { return d.Width > 0 && d.Height > 0 }

// Input is what a caller hands to a Dezoomer: either a URL to be probed, or
// raw bytes previously fetched in response to a NeedsData error.
type Input struct {
	URI  string
	Body []byte
}

// ZoomLevel is one pyramid level of a zoomable image: a resolution, a tile
// grid, and the per-tile transform hook. It is consumed exactly once by the
// download pipeline's call to Tiles.
type ZoomLevel interface {
	// Name identifies the level for logging and in the interactive level
	// prompt.
	Name() string

	// Dimensions returns the level's pixel size, or a zero Dimensions if it
	// is not known (the custom YAML template level, whose document states
	// no total width/height).
	Dimensions() Dimensions

	// Tiles returns a lazily-produced, finite stream of tile references.
	// Implementations must not pre-materialise large tile sets; they send
	// on the returned channel only as the consumer (the download pipeline)
	// receives, and must stop promptly when ctx is cancelled.
	Tiles(ctx context.Context) <-chan TileReference

	// PreProcess runs before decode, on the tile's raw HTTP response body.
	// This is where byte-level transforms the image decoder could never see
	// past live: PFF's scrambled byte ranges, Google Arts & Culture's XOR
	// tile obfuscation. Most formats return body unchanged.
	PreProcess(ref TileReference, body []byte) ([]byte, error)

	// PostProcess runs after decode, on the tile's decoded pixels. Most
	// formats return img unchanged; it exists for transforms that are
	// easier to express on pixels than on the encoded bytes.
	PostProcess(ref TileReference, img Tile) (Tile, error)

	// Headers returns request headers this level wants sent on every tile
	// fetch (commonly Referer). User-supplied -H headers win on key clash.
	Headers() map[string]string
}

// Tile pairs a reference with its decoded pixel buffer. Pixels is whatever
// concrete image.Image the per-tile decoder (image/jpeg, image/png, ...)
// produced; its Bounds origin need not be (0,0) — canvases read width and
// height from Bounds().Dx()/Dy() and treat Ref.X/Ref.Y as the placement
// offset.
type Tile struct {
	Ref    TileReference
	Pixels image.Image
}

// ZoomableImage is the result of a successful probe: optional title plus the
// set of zoom levels a format exposes. Immutable once produced.
type ZoomableImage struct {
	Title  string
	Levels []ZoomLevel
}

// Dezoomer is the capability set every format plugin implements. It must be
// stateless across invocations of Probe; any metadata it needs to retain
// lives in closures captured by the ZoomLevels it returns.
type Dezoomer interface {
	Name() string
	Probe(ctx context.Context, in Input) (ZoomableImage, error)
}
