package customyaml

import (
	"context"
	"testing"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

func TestCustomYAMLScenario(t *testing.T) {
	body := []byte(`
url_template: "https://ex/{{x/256}}_{{y/256}}.jpg"
variables:
  - name: x
    from: 0
    to: 512
    step: 256
  - name: y
    from: 0
    to: 256
    step: 256
`)

	img, err := New(nil, nil).Probe(context.Background(), dezoomer.Input{URI: "doc.yaml", Body: body})
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Levels) != 1 {
		t.Fatalf("expected 1 level, got %d", len(img.Levels))
	}

	var urls []string
	for r := range img.Levels[0].Tiles(context.Background()) {
		urls = append(urls, r.URL)
	}

	want := map[string]bool{"https://ex/0_0.jpg": false, "https://ex/1_0.jpg": false}
	for _, u := range urls {
		if _, ok := want[u]; ok {
			want[u] = true
		}
	}
	for u, ok := range want {
		if !ok {
			t.Fatalf("expected URL %q among %v", u, urls)
		}
	}
}
