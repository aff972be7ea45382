// Package deepzoom implements the Microsoft Deep Zoom (.dzi) dezoomer.
package deepzoom

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

type dziImage struct {
	XMLName  xml.Name `xml:"Image"`
	TileSize uint32   `xml:"TileSize,attr"`
	Overlap  uint32   `xml:"Overlap,attr"`
	Format   string   `xml:"Format,attr"`
	Size     dziSize  `xml:"Size"`
}

type dziSize struct {
	Width  uint32 `xml:"Width,attr"`
	Height uint32 `xml:"Height,attr"`
}

type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "deepzoom" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if len(in.Body) == 0 {
		if !strings.HasSuffix(strings.ToLower(in.URI), ".dzi") {
			return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("not a .dzi URI")
		}
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(in.URI)
	}

	var img dziImage
	if err := xml.Unmarshal(in.Body, &img); err != nil {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer(fmt.Sprintf("not a DZI document: %v", err))
	}
	if img.Size.Width == 0 || img.Size.Height == 0 || img.TileSize == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("missing TileSize/Size attributes")
	}

	baseURL := strings.TrimSuffix(in.URI, ".dzi") + "_files/"
	format := img.Format
	if format == "" {
		format = "jpg"
	}

	levels := buildLevels(baseURL, format, img.Size.Width, img.Size.Height, img.TileSize, img.Overlap)
	if len(levels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NoLevelsFound()
	}

	return dezoomer.ZoomableImage{Levels: levels}, nil
}

func maxLevel(width, height uint32) int {
	maxDim := width
	if height > maxDim {
		maxDim = height
	}
	if maxDim <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(maxDim))))
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func buildLevels(baseURL, format string, width, height, tileSize, overlap uint32) []dezoomer.ZoomLevel {
	lmax := maxLevel(width, height)

	levels := make([]dezoomer.ZoomLevel, 0, lmax+1)
	for l := 0; l <= lmax; l++ {
		scale := uint32(1) << uint(lmax-l)
		lw := ceilDiv(width, scale)
		lh := ceilDiv(height, scale)
		if lw == 0 || lh == 0 {
			continue
		}
		levels = append(levels, &zoomLevel{
			baseURL:  baseURL,
			format:   format,
			level:    l,
			width:    lw,
			height:   lh,
			tileSize: tileSize,
			overlap:  overlap,
		})
	}
	return levels
}

type zoomLevel struct {
	baseURL  string
	format   string
	level    int
	width    uint32
	height   uint32
	tileSize uint32
	overlap  uint32
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

// step is the spacing between nominal tile origins. DZI tiles overlap their
// neighbors by `overlap` pixels on every non-boundary side, so neighboring
// tile origins are `tileSize-overlap` apart rather than `tileSize` apart.
func (z *zoomLevel) step() uint32 {
	if z.overlap >= z.tileSize {
		return z.tileSize
	}
	return z.tileSize - z.overlap
}

func (z *zoomLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference)
	step := z.step()
	cols := ceilDiv(z.width, step)
	rows := ceilDiv(z.height, step)

	go func() {
		defer close(out)
		for row := uint32(0); row < rows; row++ {
			for col := uint32(0); col < cols; col++ {
				x := position(col, step)
				y := position(row, step)

				url := fmt.Sprintf("%s%d/%d_%d.%s", z.baseURL, z.level, col, row, z.format)
				ref := dezoomer.TileReference{URL: url, X: x, Y: y}
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

// position follows the spec's col·(tileSize−overlap·[col≠0]) formula: tile
// origins are `step` apart starting from the second tile, since each tile
// overlaps its predecessor by `overlap` pixels on their shared edge. The
// downloaded tile's own dimensions (narrower at the right/bottom edge, wider
// by the overlap on interior sides) are read off the decoded image itself;
// Tiles only needs to report where its top-left corner belongs in the canvas.
func position(idx, step uint32) uint32 {
	return idx * step
}
