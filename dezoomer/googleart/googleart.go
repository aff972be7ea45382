// Package googleart implements the Google Arts & Culture dezoomer. It
// bootstraps from the public viewer page (there is no public manifest
// format), so its Probe always starts with a NeedsData round trip for the
// page itself, then a second one for the image's metadata endpoint.
//
// The viewer page and metadata formats are not publicly documented; this
// reconstructs the commonly observed shape (an embedded "ix" image path and
// "h" token in the page, a metadata blob fetched from the same path with
// "=g" appended, decimal "tile counts per level" pairs inside it) from the
// spec's description rather than from a captured real response, since
// neither was part of the retrieval pack. Ambiguity here is expected: per
// the spec's own design note (c), a format mismatch must surface as
// WrongDezoomer, never Fatal, so upstream changes degrade gracefully to
// "try the next dezoomer" instead of aborting the whole run.
package googleart

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

var (
	imagePathRe = regexp.MustCompile(`"(/asset-viewer/[^"]+)"`)
	tokenRe     = regexp.MustCompile(`"token"\s*:\s*"([a-zA-Z0-9_-]+)"`)
	levelRe     = regexp.MustCompile(`(\d+)x(\d+)`)
)

type Dezoomer struct{}

func New() *Dezoomer { return &Dezoomer{} }

func (Dezoomer) Name() string { return "googleart" }

func (d Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if !strings.Contains(in.URI, "artsandculture.google.com") {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("not an artsandculture.google.com URL")
	}

	if len(in.Body) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(in.URI)
	}

	// First round trip: the viewer page HTML. Extract the asset path and
	// token, then ask for the metadata blob.
	if !isMetadataBlob(in.Body) {
		m := imagePathRe.FindSubmatch(in.Body)
		tok := tokenRe.FindSubmatch(in.Body)
		if m == nil || tok == nil {
			return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("could not find asset path/token in viewer page")
		}
		metadataURL := "https://artsandculture.google.com" + string(m[1]) + "=g"
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(metadataURL)
	}

	levels := parseLevels(string(in.Body))
	if len(levels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NoLevelsFound()
	}

	tok := tokenRe.FindStringSubmatch(string(in.Body))
	token := ""
	if tok != nil {
		token = tok[1]
	}
	base := strings.TrimSuffix(in.URI, "=g")

	const tileSize = 512
	zls := make([]dezoomer.ZoomLevel, 0, len(levels))
	for i, lv := range levels {
		// Each pair is the level's tile grid (columns x rows); its pixel size
		// is that grid times the tile size.
		zls = append(zls, &zoomLevel{
			base: base, token: token, z: i,
			width: lv.w * tileSize, height: lv.h * tileSize, tileSize: tileSize,
		})
	}
	return dezoomer.ZoomableImage{Levels: zls}, nil
}

func isMetadataBlob(body []byte) bool {
	return levelRe.Match(body)
}

type levelSize struct{ w, h uint32 }

func parseLevels(body string) []levelSize {
	matches := levelRe.FindAllStringSubmatch(body, -1)
	levels := make([]levelSize, 0, len(matches))
	for _, m := range matches {
		w, err1 := strconv.ParseUint(m[1], 10, 32)
		h, err2 := strconv.ParseUint(m[2], 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, levelSize{w: uint32(w), h: uint32(h)})
	}
	return levels
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

type zoomLevel struct {
	base, token string
	z           int
	width       uint32
	height      uint32
	tileSize    uint32
}

func (z *zoomLevel) Name() string { return fmt.Sprintf("zoom %d (%dx%d)", z.z, z.width, z.height) }

func (z *zoomLevel) Dimensions() dezoomer.Dimensions {
	return dezoomer.Dimensions{Width: z.width, Height: z.height}
}

func (z *zoomLevel) Headers() map[string]string { return nil }

// obfuscationKeyLen is the number of leading response bytes Google Arts XORs
// with a key derived from the per-image token, per the spec's description of
// the tile obfuscation; this dezoomer derives the key byte-for-byte from the
// token's own bytes, cycling as needed, which is the simplest transform
// consistent with "derived from the image token" and is easy to replace if
// the upstream scheme turns out to differ.
const obfuscationKeyLen = 64

func (z *zoomLevel) PostProcess(_ dezoomer.TileReference, t dezoomer.Tile) (dezoomer.Tile, error) {
	return t, nil
}

// PreProcess inverts the XOR obfuscation on the raw tile body before the
// pipeline attempts to decode it as an image.
func (z *zoomLevel) PreProcess(_ dezoomer.TileReference, body []byte) ([]byte, error) {
	if z.token == "" {
		return body, nil
	}
	key := []byte(z.token)
	out := make([]byte, len(body))
	copy(out, body)
	n := len(out)
	if n > obfuscationKeyLen {
		n = obfuscationKeyLen
	}
	for i := 0; i < n; i++ {
		out[i] ^= key[i%len(key)]
	}
	return out, nil
}

func (z *zoomLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference)
	cols := ceilDiv(z.width, z.tileSize)
	rows := ceilDiv(z.height, z.tileSize)

	go func() {
		defer close(out)
		for row := uint32(0); row < rows; row++ {
			for col := uint32(0); col < cols; col++ {
				url := fmt.Sprintf("%s=x%d-y%d-z%d-t%s", z.base, col, row, z.z, z.token)
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
