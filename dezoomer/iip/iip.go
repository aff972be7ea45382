// Package iip implements the IIPImage dezoomer. IIPImage servers answer a
// single CGI endpoint (commonly iipsrv.fcgi) keyed by a FIF= image path and
// OBJ= meta-request parameters; tiles are then fetched by resolution level
// and linear tile index via JTL=level,index.
package iip

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "iip" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if !strings.Contains(in.URI, "FIF=") {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("URI has no FIF= parameter")
	}

	if len(in.Body) == 0 {
		metaURL := in.URI + "&OBJ=Max-size&OBJ=Tile-size&OBJ=Resolution-number"
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(metaURL)
	}

	meta := parseMeta(string(in.Body))
	maxW, maxH, ok := meta.size("Max-size")
	if !ok {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("no Max-size in IIPImage meta-response")
	}
	tileW, tileH, ok := meta.size("Tile-size")
	if !ok {
		tileW, tileH = 256, 256
	}
	numRes, ok := meta.integer("Resolution-number")
	if !ok || numRes == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("no Resolution-number in IIPImage meta-response")
	}

	fifURL := strings.SplitN(in.URI, "&OBJ=", 2)[0]

	levels := make([]dezoomer.ZoomLevel, 0, numRes)
	for r := 0; r < numRes; r++ {
		scale := uint32(1) << uint(numRes-1-r)
		lw := ceilDiv(maxW, scale)
		lh := ceilDiv(maxH, scale)
		levels = append(levels, &zoomLevel{
			base: fifURL, level: r, width: lw, height: lh, tileWidth: tileW, tileHeight: tileH,
		})
	}
	return dezoomer.ZoomableImage{Levels: levels}, nil
}

type metaLines map[string][]string

func parseMeta(body string) metaLines {
	m := make(metaLines)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		m[key] = strings.Fields(parts[1])
	}
	return m
}

func (m metaLines) size(key string) (w, h uint32, ok bool) {
	fields, present := m[key]
	if !present || len(fields) < 2 {
		return 0, 0, false
	}
	wi, err1 := strconv.ParseUint(fields[0], 10, 32)
	hi, err2 := strconv.ParseUint(fields[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(wi), uint32(hi), true
}

func (m metaLines) integer(key string) (int, bool) {
	fields, present := m[key]
	if !present || len(fields) < 1 {
		return 0, false
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return v, true
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

type zoomLevel struct {
	base                    string
	level                   int
	width, height           uint32
	tileWidth, tileHeight   uint32
}

func (z *zoomLevel) Name() string { return fmt.Sprintf("resolution %d (%dx%d)", z.level, z.width, z.height) }
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
	cols := ceilDiv(z.width, z.tileWidth)
	rows := ceilDiv(z.height, z.tileHeight)

	go func() {
		defer close(out)
		for row := uint32(0); row < rows; row++ {
			for col := uint32(0); col < cols; col++ {
				idx := row*cols + col
				url := fmt.Sprintf("%s&JTL=%d,%d", z.base, z.level, idx)
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
