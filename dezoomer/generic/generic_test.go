package generic

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

type fakeFetcher struct {
	tiles map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := f.tiles[url]
	if !ok {
		return nil, fmt.Errorf("404: %s", url)
	}
	return body, nil
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestGenericProbeDiscoversGrid(t *testing.T) {
	tiles := map[string][]byte{
		"https://ex/0_0.jpg": pngBytes(10, 8),
		"https://ex/1_0.jpg": pngBytes(10, 8),
		"https://ex/0_1.jpg": pngBytes(10, 8),
		"https://ex/1_1.jpg": pngBytes(10, 8),
	}
	fetch := &fakeFetcher{tiles: tiles}

	d := New(fetch)
	img, err := d.Probe(context.Background(), dezoomer.Input{URI: "https://ex/{{X}}_{{Y}}.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Levels) != 1 {
		t.Fatalf("expected 1 level, got %d", len(img.Levels))
	}

	dims := img.Levels[0].Dimensions()
	if dims.Width != 20 || dims.Height != 16 {
		t.Fatalf("dims = %v, want 20x16 (2 tiles of 10x8)", dims)
	}

	var refs []dezoomer.TileReference
	for r := range img.Levels[0].Tiles(context.Background()) {
		refs = append(refs, r)
	}
	if len(refs) != 4 {
		t.Fatalf("expected 4 tile references, got %d", len(refs))
	}
}

func TestGenericProbeRejectsNonTemplate(t *testing.T) {
	d := New(&fakeFetcher{tiles: map[string][]byte{}})
	_, err := d.Probe(context.Background(), dezoomer.Input{URI: "https://ex/plain.jpg"})
	if err == nil {
		t.Fatal("expected WrongDezoomer for a URL without placeholders")
	}
}
