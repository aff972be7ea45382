// Package krpano implements the Krpano panorama viewer dezoomer: it parses
// the viewer XML's image/level elements and expands the %v/%h/%s tile URL
// template each level declares.
package krpano

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

type krpanoXML struct {
	XMLName xml.Name  `xml:"krpano"`
	Image   imageElem `xml:"image"`
}

type imageElem struct {
	Levels []levelElem `xml:"level"`
}

type levelElem struct {
	TiledImageWidth  uint32    `xml:"tiledimagewidth,attr"`
	TiledImageHeight uint32    `xml:"tiledimageheight,attr"`
	TileSize         uint32    `xml:"tilesize,attr"`
	URL              urlElem   `xml:"url"`
}

type urlElem struct {
	Value string `xml:",chardata"`
}

type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "krpano" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if len(in.Body) == 0 {
		if !strings.HasSuffix(strings.ToLower(in.URI), ".xml") {
			return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("not a krpano XML URI")
		}
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(in.URI)
	}

	var doc krpanoXML
	if err := xml.Unmarshal(in.Body, &doc); err != nil {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer(fmt.Sprintf("not a krpano document: %v", err))
	}
	if len(doc.Image.Levels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("no <image><level> elements found")
	}

	baseURL := in.URI[:strings.LastIndex(in.URI, "/")+1]

	levels := make([]dezoomer.ZoomLevel, 0, len(doc.Image.Levels))
	for i, lv := range doc.Image.Levels {
		if lv.TiledImageWidth == 0 || lv.TiledImageHeight == 0 || lv.TileSize == 0 {
			continue
		}
		tmpl := resolveURL(baseURL, strings.TrimSpace(lv.URL.Value))
		levels = append(levels, &zoomLevel{
			level: i, width: lv.TiledImageWidth, height: lv.TiledImageHeight,
			tileSize: lv.TileSize, template: tmpl,
		})
	}
	if len(levels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NoLevelsFound()
	}
	return dezoomer.ZoomableImage{Levels: levels}, nil
}

func resolveURL(base, tmpl string) string {
	if strings.Contains(tmpl, "://") {
		return tmpl
	}
	return base + tmpl
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

type zoomLevel struct {
	level          int
	width, height  uint32
	tileSize       uint32
	template       string
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

// expandTemplate substitutes krpano's %v (vertical/row), %h (horizontal/col)
// and %s (side, e.g. for cube faces; always empty for flat panoramas) tokens.
func expandTemplate(tmpl string, col, row uint32) string {
	r := strings.NewReplacer(
		"%v", strconv.FormatUint(uint64(row), 10),
		"%h", strconv.FormatUint(uint64(col), 10),
		"%s", "",
	)
	return r.Replace(tmpl)
}

func (z *zoomLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference)
	cols := ceilDiv(z.width, z.tileSize)
	rows := ceilDiv(z.height, z.tileSize)

	go func() {
		defer close(out)
		for row := uint32(0); row < rows; row++ {
			for col := uint32(0); col < cols; col++ {
				url := expandTemplate(z.template, col, row)
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
