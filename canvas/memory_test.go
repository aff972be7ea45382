package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

func solidTile(w, h int, c color.Color, x, y uint32) dezoomer.Tile {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw := image.NewUniform(c)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			img.Set(px, py, draw.At(px, py))
		}
	}
	return dezoomer.Tile{Ref: dezoomer.TileReference{URL: "x", X: x, Y: y}, Pixels: img}
}

func TestMemoryCanvasRoundTrip(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.jpg")

	enc, err := NewFinalEncoder("jpeg", 10)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewMemoryCanvas(100, 80, outPath, enc, color.Black)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.AddTile(solidTile(50, 80, color.RGBA{255, 0, 0, 255}, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTile(solidTile(50, 80, color.RGBA{0, 255, 0, 255}, 50, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 80 {
		t.Fatalf("got %dx%d, want 100x80", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestMemoryCanvasClipsEdgeTiles(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.jpg")
	enc, _ := NewFinalEncoder("jpeg", 0)

	c, err := NewMemoryCanvas(10, 10, outPath, enc, color.Black)
	if err != nil {
		t.Fatal(err)
	}
	// Oversized tile at the bottom-right corner must be clipped, not error.
	if err := c.AddTile(solidTile(8, 8, color.White, 5, 5)); err != nil {
		t.Fatalf("expected clipping, got error: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryCanvasTooLarge(t *testing.T) {
	enc, _ := NewFinalEncoder("jpeg", 0)
	_, err := NewMemoryCanvas(100000, 100000, "/tmp/x.jpg", enc, color.Black)
	if err == nil {
		t.Fatal("expected ImageTooLarge error")
	}
	ce, ok := err.(*Error)
	if !ok || ce.Kind != KindImageTooLarge {
		t.Fatalf("expected KindImageTooLarge, got %v", err)
	}
}
