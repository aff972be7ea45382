// Package generic implements the fallback dezoomer: a URL template with
// {{X}}/{{Y}} placeholders, whose grid extent is discovered by actually
// probing tiles rather than reading it from any manifest. Because discovery
// means issuing real HTTP requests during Probe, this dezoomer is
// constructed with its own Fetcher (which must have retries disabled, or
// probing a finite image never terminates — see spec §8 invariant 4) rather
// than relying on the registry's NeedsData/Fetcher wiring used by
// manifest-based formats.
package generic

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
	"github.com/lovasoa/dezoomify-go/expr"
)

// Dezoomer is registered after every format-specific dezoomer: it accepts any
// template containing {{X}} and {{Y}}, so it must never be ambiguous about
// whether it "owns" an input the way format-specific dezoomers are.
type Dezoomer struct {
	fetch dezoomer.Fetcher
}

// New builds a generic dezoomer that probes tiles through fetch. fetch must
// not retry internally; the probing loop's termination depends on a single
// failed fetch meaning "no tile here".
func New(fetch dezoomer.Fetcher) *Dezoomer {
	return &Dezoomer{fetch: fetch}
}

func (Dezoomer) Name() string { return "generic" }

func (d *Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if !strings.Contains(in.URI, "{{X") || !strings.Contains(in.URI, "{{Y") {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("template has no {{X}}/{{Y}} placeholders")
	}
	if d.fetch == nil {
		return dezoomer.ZoomableImage{}, dezoomer.Fatal("generic dezoomer has no fetcher configured")
	}

	tileW, tileH, err := d.probeTile(ctx, in.URI, 0, 0)
	if err != nil {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer(fmt.Sprintf("first tile (0,0) did not fetch: %v", err))
	}

	cols := uint32(1)
	for {
		if _, _, err := d.probeTile(ctx, in.URI, cols, 0); err != nil {
			break
		}
		cols++
	}

	rows := uint32(1)
	for {
		if _, _, err := d.probeTile(ctx, in.URI, 0, rows); err != nil {
			break
		}
		rows++
	}

	level := &zoomLevel{
		template: in.URI,
		cols:     cols, rows: rows,
		tileWidth: tileW, tileHeight: tileH,
	}
	return dezoomer.ZoomableImage{Levels: []dezoomer.ZoomLevel{level}}, nil
}

func (d *Dezoomer) probeTile(ctx context.Context, tmpl string, x, y uint32) (w, h uint32, err error) {
	url, err := expr.ExpandAll(tmpl, expr.Vars{"X": int64(x), "Y": int64(y)})
	if err != nil {
		return 0, 0, err
	}
	body, err := d.fetch.Fetch(ctx, url)
	if err != nil {
		return 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	return uint32(cfg.Width), uint32(cfg.Height), nil
}

type zoomLevel struct {
	template              string
	cols, rows            uint32
	tileWidth, tileHeight uint32
}

func (z *zoomLevel) Name() string {
	return fmt.Sprintf("generic grid %dx%d tiles", z.cols, z.rows)
}

func (z *zoomLevel) Dimensions() dezoomer.Dimensions {
	return dezoomer.Dimensions{Width: z.cols * z.tileWidth, Height: z.rows * z.tileHeight}
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
				url, err := expr.ExpandAll(z.template, expr.Vars{"X": int64(col), "Y": int64(row)})
				if err != nil {
					continue
				}
				ref := dezoomer.TileReference{URL: url, X: col * z.tileWidth, Y: row * z.tileHeight}
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
