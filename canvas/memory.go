package canvas

import (
	"image"
	"image/color"
	"os"
	"sync"

	"golang.org/x/image/draw"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

// MemoryCanvas holds the full raster in RAM, required by encoders that need
// random access (JPEG, non-streaming PNG). AddTile copies/pastes with
// clipping at the bottom-right edge, as spec §4.5a requires.
type MemoryCanvas struct {
	mu     sync.Mutex
	img    *image.RGBA
	width  int
	height int

	outPath string
	encoder FinalEncoder

	fillColor color.Color
}

// NewMemoryCanvas allocates a width x height RGBA buffer, filled with
// fillColor (the failed-region fill value of spec §4.4's aggregate-failure
// clause). Returns ImageTooLarge if the buffer would exceed the
// implementation-defined cap derived from the 65535px-per-side JPEG limit.
func NewMemoryCanvas(width, height int, outPath string, encoder FinalEncoder, fillColor color.Color) (*MemoryCanvas, error) {
	if width <= 0 || height <= 0 {
		return nil, imageTooLarge("canvas dimensions must be positive, got %dx%d", width, height)
	}
	if width > maxCanvasPixelsPerSide || height > maxCanvasPixelsPerSide {
		return nil, imageTooLarge("canvas %dx%d exceeds the %dpx-per-side limit", width, height, maxCanvasPixelsPerSide)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if fillColor != nil {
		draw.Draw(img, img.Bounds(), &image.Uniform{C: fillColor}, image.Point{}, draw.Src)
	}

	return &MemoryCanvas{
		img:       img,
		width:     width,
		height:    height,
		outPath:   outPath,
		encoder:   encoder,
		fillColor: fillColor,
	}, nil
}

// AddTile pastes a decoded tile at its reference position, clipping against
// the raster bounds. Safe for concurrent use; the download pipeline may
// call it from multiple in-flight tile tasks.
func (c *MemoryCanvas) AddTile(tile dezoomer.Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bounds := tile.Pixels.Bounds()
	dst := image.Rect(
		int(tile.Ref.X), int(tile.Ref.Y),
		int(tile.Ref.X)+bounds.Dx(), int(tile.Ref.Y)+bounds.Dy(),
	)
	// draw.Draw clips dst to c.img.Bounds() automatically, which is exactly
	// the right/bottom-edge clipping spec §4.5a asks for.
	draw.Draw(c.img, dst, tile.Pixels, bounds.Min, draw.Src)
	return nil
}

// Finalize encodes the assembled raster and writes it to outPath via a
// .tmp sibling + atomic rename, so a crash never leaves a partial file
// (spec §4.5/§8 invariant 7).
func (c *MemoryCanvas) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.encoder.Encode(c.img)
	if err != nil {
		return ioError("encoding final image: %v", err)
	}

	tmp := c.outPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ioError("writing %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, c.outPath); err != nil {
		os.Remove(tmp)
		return ioError("renaming %s to %s: %v", tmp, c.outPath, err)
	}
	return nil
}
