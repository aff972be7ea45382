// Package zoomify implements the Zoomify dezoomer: it parses
// ImageProperties.xml and reconstructs the implicit level/tile/group
// layout the Zoomify viewer protocol assumes but never writes down
// explicitly in the manifest.
package zoomify

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

// imageProperties mirrors the single, attribute-only element Zoomify
// writes at ImageProperties.xml: <IMAGE_PROPERTIES WIDTH="..." .../>.
type imageProperties struct {
	XMLName  xml.Name `xml:"IMAGE_PROPERTIES"`
	Width    uint32   `xml:"WIDTH,attr"`
	Height   uint32   `xml:"HEIGHT,attr"`
	TileSize uint32   `xml:"TILESIZE,attr"`
	NumTiles uint32   `xml:"NUMTILES,attr"`
}

// Dezoomer recognises a Zoomify ImageProperties.xml document.
type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "zoomify" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if len(in.Body) == 0 {
		if !strings.Contains(in.URI, "ImageProperties.xml") {
			return dezoomer.ZoomableImage{}, dezoomer.NeedsData(strings.TrimSuffix(in.URI, "/") + "/ImageProperties.xml")
		}
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(in.URI)
	}

	var props imageProperties
	if err := xml.Unmarshal(in.Body, &props); err != nil {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer(fmt.Sprintf("not a Zoomify ImageProperties.xml: %v", err))
	}
	if props.Width == 0 || props.Height == 0 || props.TileSize == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("missing WIDTH/HEIGHT/TILESIZE attributes")
	}

	baseURL := strings.TrimSuffix(in.URI, "ImageProperties.xml")

	levels := buildLevels(baseURL, props.Width, props.Height, props.TileSize)
	if len(levels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NoLevelsFound()
	}

	return dezoomer.ZoomableImage{Title: "", Levels: levels}, nil
}

func numLevels(width, height, tileSize uint32) int {
	maxDim := width
	if height > maxDim {
		maxDim = height
	}
	if maxDim <= tileSize {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(maxDim)/float64(tileSize)))) + 1
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func buildLevels(baseURL string, width, height, tileSize uint32) []dezoomer.ZoomLevel {
	n := numLevels(width, height, tileSize)

	// Tiles are numbered row-major across all levels starting at the
	// lowest-resolution (smallest) level, so the global index of level l's
	// first tile is the running total of every earlier level's tile count.
	tileOffset := uint32(0)
	levels := make([]dezoomer.ZoomLevel, 0, n)
	for l := 0; l < n; l++ {
		scale := uint32(1) << uint(n-1-l)
		lw := ceilDiv(width, scale)
		lh := ceilDiv(height, scale)
		cols := ceilDiv(lw, tileSize)
		rows := ceilDiv(lh, tileSize)

		levels = append(levels, &zoomLevel{
			baseURL:    baseURL,
			level:      l,
			width:      lw,
			height:     lh,
			tileSize:   tileSize,
			cols:       cols,
			rows:       rows,
			tileOffset: tileOffset,
		})
		tileOffset += cols * rows
	}
	return levels
}

type zoomLevel struct {
	baseURL    string
	level      int
	width      uint32
	height     uint32
	tileSize   uint32
	cols, rows uint32
	tileOffset uint32
}

func (z *zoomLevel) Name() string { return fmt.Sprintf("level %d (%dx%d)", z.level, z.width, z.height) }

func (z *zoomLevel) Dimensions() dezoomer.Dimensions {
	return dezoomer.Dimensions{Width: z.width, Height: z.height}
}

func (z *zoomLevel) Headers() map[string]string { return nil }

func (z *zoomLevel) PreProcess(_ dezoomer.TileReference, body []byte) ([]byte, error) {
	return body, nil
}

func (z *zoomLevel) PostProcess(_ dezoomer.TileReference, t dezoomer.Tile) (dezoomer.Tile, error) {
	return t, nil
}

func (z *zoomLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference)
	go func() {
		defer close(out)
		for row := uint32(0); row < z.rows; row++ {
			for col := uint32(0); col < z.cols; col++ {
				globalIdx := z.tileOffset + row*z.cols + col
				tileGroup := globalIdx / 256
				url := fmt.Sprintf("%sTileGroup%d/%d-%d-%d.jpg", z.baseURL, tileGroup, z.level, col, row)
				ref := dezoomer.TileReference{URL: url, X: col * z.tileSize, Y: row * z.tileSize}
				select {
				case out <- ref:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
