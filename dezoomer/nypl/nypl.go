// Package nypl implements the NYPL Digital Collections dezoomer. There is
// no published manifest format: the dezoomer scrapes the item page for an
// embedded image_id, fetches the capabilities document for its pixel size,
// and then enumerates tiles against NYPL's row/column tile endpoint. The
// exact tile endpoint shape is reconstructed from the spec's description
// ("fetch item page, extract image_id, then use a site-specific tile URL
// template") rather than a captured response, since neither was part of
// the retrieval pack; a divergence here should surface as WrongDezoomer
// (the image_id regex or the capabilities JSON failing to match) rather than a
// hard failure, consistent with how this codebase treats every scraped,
// undocumented format.
package nypl

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

var imageIDRe = regexp.MustCompile(`"image_id"\s*:\s*"(\d+)"`)

type capabilities struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "nypl" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if !strings.Contains(in.URI, "digitalcollections.nypl.org") {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("not a digitalcollections.nypl.org URL")
	}

	if len(in.Body) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(in.URI)
	}

	if isCapabilities(in.Body) {
		var caps capabilities
		if err := json.Unmarshal(in.Body, &caps); err != nil || caps.Width == 0 || caps.Height == 0 {
			return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("no usable width/height in NYPL capabilities response")
		}
		imageID := strings.TrimSuffix(strings.TrimPrefix(in.URI, "https://images.nypl.org/index.php?id="), "&t=info")
		levels := []dezoomer.ZoomLevel{&zoomLevel{imageID: imageID, width: caps.Width, height: caps.Height, tileSize: 512}}
		return dezoomer.ZoomableImage{Levels: levels}, nil
	}

	m := imageIDRe.FindSubmatch(in.Body)
	if m == nil {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("could not find image_id in item page")
	}
	capsURL := fmt.Sprintf("https://images.nypl.org/index.php?id=%s&t=info", string(m[1]))
	return dezoomer.ZoomableImage{}, dezoomer.NeedsData(capsURL)
}

func isCapabilities(body []byte) bool {
	var caps capabilities
	return json.Unmarshal(body, &caps) == nil && (caps.Width != 0 || caps.Height != 0)
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

type zoomLevel struct {
	imageID       string
	width, height uint32
	tileSize      uint32
}

func (z *zoomLevel) Name() string { return fmt.Sprintf("image %s (%dx%d)", z.imageID, z.width, z.height) }
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
	cols := ceilDiv(z.width, z.tileSize)
	rows := ceilDiv(z.height, z.tileSize)

	go func() {
		defer close(out)
		for row := uint32(0); row < rows; row++ {
			for col := uint32(0); col < cols; col++ {
				url := fmt.Sprintf("https://images.nypl.org/index.php?id=%s&t=g&r=%d&c=%d", z.imageID, row, col)
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
