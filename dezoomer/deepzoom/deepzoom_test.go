package deepzoom

import (
	"context"
	"testing"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

func TestDZIOverlapScenario(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<Image TileSize="254" Overlap="1" Format="jpg" xmlns="http://schemas.microsoft.com/deepzoom/2008">
  <Size Width="500" Height="300"/>
</Image>`)

	img, err := New().Probe(context.Background(), dezoomer.Input{URI: "http://ex/img.dzi", Body: body})
	if err != nil {
		t.Fatal(err)
	}
	top := img.Levels[len(img.Levels)-1]
	if top.Dimensions().Width != 500 || top.Dimensions().Height != 300 {
		t.Fatalf("top dims = %v, want 500x300", top.Dimensions())
	}

	var refs []dezoomer.TileReference
	for r := range top.Tiles(context.Background()) {
		refs = append(refs, r)
	}
	if len(refs) != 4 {
		t.Fatalf("expected 2x2=4 tiles, got %d", len(refs))
	}

	var tile10 *dezoomer.TileReference
	for i := range refs {
		if refs[i].X == 253 && refs[i].Y == 0 {
			tile10 = &refs[i]
		}
	}
	if tile10 == nil {
		t.Fatal("expected a tile at position (253,0)")
	}
}
