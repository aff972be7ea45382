package iiif

import (
	"context"
	"strings"
	"testing"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

func TestIIIFScenario(t *testing.T) {
	body := []byte(`{
		"@context": "http://iiif.io/api/image/2/context.json",
		"@id": "https://ex/img",
		"width": 1000,
		"height": 750,
		"tiles": [{"width": 512, "scaleFactors": [1, 2]}]
	}`)

	img, err := New().Probe(context.Background(), dezoomer.Input{URI: "https://ex/img/info.json", Body: body})
	if err != nil {
		t.Fatal(err)
	}

	var scale1 dezoomer.ZoomLevel
	for _, l := range img.Levels {
		if l.Dimensions().Width == 1000 {
			scale1 = l
		}
	}
	if scale1 == nil {
		t.Fatal("expected a scale-1 level with full width 1000")
	}

	var regions []string
	for r := range scale1.Tiles(context.Background()) {
		regions = append(regions, r.URL)
	}
	if len(regions) != 4 {
		t.Fatalf("expected 4 tiles at scale 1, got %d", len(regions))
	}

	want := []string{"0,0,512,512", "512,0,488,512", "0,512,512,238", "512,512,488,238"}
	for _, w := range want {
		found := false
		for _, u := range regions {
			if strings.Contains(u, w) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected a tile URL containing region %q, got %v", w, regions)
		}
	}
}
