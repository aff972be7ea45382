// Package iiif implements the IIIF Image API dezoomer: it parses info.json
// and enumerates the tile grid implied by its tiles[] entries (or a single
// full-image level when none are declared).
package iiif

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

type infoJSON struct {
	Context string     `json:"@context"`
	ID      string      `json:"@id"`
	Width   uint32      `json:"width"`
	Height  uint32      `json:"height"`
	Tiles   []tileEntry `json:"tiles"`
}

type tileEntry struct {
	Width         uint32   `json:"width"`
	Height        uint32   `json:"height"`
	ScaleFactors  []uint32 `json:"scaleFactors"`
}

type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "iiif" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if len(in.Body) == 0 {
		uri := in.URI
		if !strings.HasSuffix(uri, "info.json") {
			uri = strings.TrimSuffix(uri, "/") + "/info.json"
		}
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(uri)
	}

	var info infoJSON
	if err := json.Unmarshal(in.Body, &info); err != nil {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer(fmt.Sprintf("not a IIIF info.json: %v", err))
	}
	if info.Width == 0 || info.Height == 0 || info.ID == "" {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("missing width/height/@id in info.json")
	}

	var levels []dezoomer.ZoomLevel
	if len(info.Tiles) == 0 {
		levels = []dezoomer.ZoomLevel{&fullImageLevel{id: info.ID, width: info.Width, height: info.Height}}
	} else {
		for _, te := range info.Tiles {
			tw := te.Width
			th := te.Height
			if th == 0 {
				th = tw
			}
			scales := te.ScaleFactors
			if len(scales) == 0 {
				scales = []uint32{1}
			}
			for _, sf := range scales {
				levels = append(levels, &zoomLevel{
					id: info.ID, width: info.Width, height: info.Height,
					tileWidth: tw, tileHeight: th, scale: sf,
				})
			}
		}
	}

	if len(levels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NoLevelsFound()
	}
	return dezoomer.ZoomableImage{Levels: levels}, nil
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// fullImageLevel is used when info.json declares no tiles[]: the whole
// image is fetched as a single "tile" with IIIF's full-region request.
type fullImageLevel struct {
	id            string
	width, height uint32
}

func (l *fullImageLevel) Name() string { return "full image" }
func (l *fullImageLevel) Dimensions() dezoomer.Dimensions {
	return dezoomer.Dimensions{Width: l.width, Height: l.height}
}
func (l *fullImageLevel) Headers() map[string]string { return nil }
func (l *fullImageLevel) PreProcess(_ dezoomer.TileReference, body []byte) ([]byte, error) {
	return body, nil
}
func (l *fullImageLevel) PostProcess(_ dezoomer.TileReference, t dezoomer.Tile) (dezoomer.Tile, error) {
	return t, nil
}
func (l *fullImageLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference, 1)
	url := fmt.Sprintf("%s/full/%d,%d/0/default.jpg", l.id, l.width, l.height)
	out <- dezoomer.TileReference{URL: url, X: 0, Y: 0}
	close(out)
	return out
}

type zoomLevel struct {
	id                    string
	width, height         uint32
	tileWidth, tileHeight uint32
	scale                 uint32
}

func (z *zoomLevel) Name() string {
	return fmt.Sprintf("scale %d (%dx%d)", z.scale, z.Dimensions().Width, z.Dimensions().Height)
}

func (z *zoomLevel) Dimensions() dezoomer.Dimensions {
	return dezoomer.Dimensions{Width: ceilDiv(z.width, z.scale), Height: ceilDiv(z.height, z.scale)}
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

	region0W := z.tileWidth * z.scale
	region0H := z.tileHeight * z.scale
	cols := ceilDiv(z.width, region0W)
	rows := ceilDiv(z.height, region0H)

	go func() {
		defer close(out)
		for row := uint32(0); row < rows; row++ {
			for col := uint32(0); col < cols; col++ {
				x0 := col * region0W
				y0 := row * region0H
				w0 := region0W
				if x0+w0 > z.width {
					w0 = z.width - x0
				}
				h0 := region0H
				if y0+h0 > z.height {
					h0 = z.height - y0
				}

				sizeW := ceilDiv(w0, z.scale)
				sizeH := ceilDiv(h0, z.scale)

				url := fmt.Sprintf("%s/%d,%d,%d,%d/%d,%d/0/default.jpg", z.id, x0, y0, w0, h0, sizeW, sizeH)
				ref := dezoomer.TileReference{URL: url, X: x0 / z.scale, Y: y0 / z.scale}
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
