package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lovasoa/dezoomify-go/dezoomer"
	"github.com/lovasoa/dezoomify-go/httpclient"
)

// memCanvas is a minimal in-memory canvas.Canvas double that just records
// the tiles it was handed, for assertions.
type memCanvas struct {
	mu    sync.Mutex
	tiles []dezoomer.Tile
}

func (c *memCanvas) AddTile(tile dezoomer.Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles = append(c.tiles, tile)
	return nil
}
func (c *memCanvas) Finalize() error { return nil }

// failCanvas always rejects a tile, to exercise the canvas-error path.
type failCanvas struct{ err error }

func (c *failCanvas) AddTile(dezoomer.Tile) error { return c.err }
func (c *failCanvas) Finalize() error             { return nil }

// staticLevel is a minimal dezoomer.ZoomLevel double serving a fixed list of
// tile references with no pre/post transforms.
type staticLevel struct {
	refs []dezoomer.TileReference
}

func (l *staticLevel) Name() string                  { return "static" }
func (l *staticLevel) Dimensions() dezoomer.Dimensions { return dezoomer.Dimensions{Width: 20, Height: 10} }
func (l *staticLevel) Headers() map[string]string      { return nil }
func (l *staticLevel) PreProcess(_ dezoomer.TileReference, body []byte) ([]byte, error) {
	return body, nil
}
func (l *staticLevel) PostProcess(_ dezoomer.TileReference, t dezoomer.Tile) (dezoomer.Tile, error) {
	return t, nil
}
func (l *staticLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference)
	go func() {
		defer close(out)
		for _, r := range l.refs {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func encodePNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestRunFetchesAllTilesAndFinalizes(t *testing.T) {
	tileBody := encodePNG(10, 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tileBody)
	}))
	defer srv.Close()

	refs := []dezoomer.TileReference{
		{URL: srv.URL + "/0_0.png", X: 0, Y: 0},
		{URL: srv.URL + "/1_0.png", X: 10, Y: 0},
	}
	level := &staticLevel{refs: refs}
	client := httpclient.New(httpclient.Options{})
	dst := &memCanvas{}

	err := Run(context.Background(), level, client, nil, dst, Options{Parallelism: 2, Retries: 1, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dst.tiles) != 2 {
		t.Fatalf("expected 2 tiles delivered to canvas, got %d", len(dst.tiles))
	}
}

func TestRunRetriesOnTransientStatus(t *testing.T) {
	tileBody := encodePNG(4, 4)
	var attempts int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(tileBody)
	}))
	defer srv.Close()

	level := &staticLevel{refs: []dezoomer.TileReference{{URL: srv.URL + "/t.png"}}}
	client := httpclient.New(httpclient.Options{})
	dst := &memCanvas{}

	err := Run(context.Background(), level, client, nil, dst, Options{Parallelism: 1, Retries: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dst.tiles) != 1 {
		t.Fatalf("expected the tile to eventually succeed, got %d tiles", len(dst.tiles))
	}
}

func TestRunNoTileDownloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	level := &staticLevel{refs: []dezoomer.TileReference{{URL: srv.URL + "/missing.png"}}}
	client := httpclient.New(httpclient.Options{})
	dst := &memCanvas{}

	err := Run(context.Background(), level, client, nil, dst, Options{Parallelism: 1, Retries: 0, RetryDelay: time.Millisecond})
	if _, ok := err.(*NoTileDownloaded); !ok {
		t.Fatalf("expected NoTileDownloaded, got %v", err)
	}
}

func TestRunPropagatesCanvasError(t *testing.T) {
	tileBody := encodePNG(4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tileBody)
	}))
	defer srv.Close()

	level := &staticLevel{refs: []dezoomer.TileReference{{URL: srv.URL + "/t.png"}}}
	client := httpclient.New(httpclient.Options{})
	boom := &canvasBoom{}
	dst := &failCanvas{err: boom}

	err := Run(context.Background(), level, client, nil, dst, Options{Parallelism: 1, Retries: 0, RetryDelay: time.Millisecond})
	if err != boom {
		t.Fatalf("expected canvas error to propagate, got %v", err)
	}
}

type canvasBoom struct{}

func (e *canvasBoom) Error() string { return "canvas rejected tile" }
