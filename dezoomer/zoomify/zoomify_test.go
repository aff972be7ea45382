package zoomify

import (
	"context"
	"testing"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

func TestZoomifyScenario(t *testing.T) {
	body := []byte(`<IMAGE_PROPERTIES WIDTH="600" HEIGHT="400" NUMTILES="6" NUMIMAGES="1" VERSION="1.8" TILESIZE="256"/>`)

	img, err := New().Probe(context.Background(), dezoomer.Input{URI: "http://ex/ImageProperties.xml", Body: body})
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(img.Levels))
	}

	level0 := img.Levels[0]
	refs := drain(level0.Tiles(context.Background()))
	if len(refs) != 1 {
		t.Fatalf("level 0 expected 1 tile, got %d", len(refs))
	}

	top := img.Levels[len(img.Levels)-1]
	if top.Dimensions().Width != 600 || top.Dimensions().Height != 400 {
		t.Fatalf("top level dims = %v, want 600x400", top.Dimensions())
	}
	topRefs := drain(top.Tiles(context.Background()))
	if len(topRefs) != 6 {
		t.Fatalf("top level expected 6 tiles, got %d", len(topRefs))
	}

	var found bool
	for _, r := range topRefs {
		if r.X == 512 && r.Y == 256 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a tile at (512,256)")
	}
}

func drain(ch <-chan dezoomer.TileReference) []dezoomer.TileReference {
	var out []dezoomer.TileReference
	for r := range ch {
		out = append(out, r)
	}
	return out
}
