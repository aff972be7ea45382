package canvas

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestStreamingPNGCanvasInOrder(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.png")

	c, err := NewStreamingPNGCanvas(20, 10, outPath)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.AddTile(solidTile(10, 10, color.RGBA{255, 0, 0, 255}, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTile(solidTile(10, 10, color.RGBA{0, 255, 0, 255}, 10, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Fatalf("got %dx%d, want 20x10", img.Bounds().Dx(), img.Bounds().Dy())
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Fatalf("unexpected pixel at (0,0): %v,%v,%v", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = img.At(15, 0).RGBA()
	if r>>8 != 0 || g>>8 != 255 || b>>8 != 0 {
		t.Fatalf("unexpected pixel at (15,0): %v,%v,%v", r>>8, g>>8, b>>8)
	}
}

func TestStreamingPNGCanvasOutOfOrderRejected(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.png")

	c, err := NewStreamingPNGCanvas(10, 10, outPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddTile(solidTile(10, 5, color.White, 0, 0)); err != nil {
		t.Fatal(err)
	}
	// Full top band is now emitted (rows 0-4); a tile that arrives
	// targeting an already-emitted row must be rejected.
	err = c.AddTile(solidTile(10, 5, color.White, 0, 0))
	if err == nil {
		t.Fatal("expected out-of-order error for a tile behind the emission cursor")
	}
}

func TestStreamingPNGCanvasIncompleteFinalize(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.png")

	c, err := NewStreamingPNGCanvas(10, 10, outPath)
	if err != nil {
		t.Fatal(err)
	}
	// Only cover half the width: the band never completes, so nothing is
	// ever emitted and Finalize must refuse to produce a truncated file.
	if err := c.AddTile(solidTile(5, 10, color.White, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.Finalize(); err == nil {
		t.Fatal("expected Finalize to fail on incomplete coverage")
	}
	if _, err := os.Stat(outPath); err == nil {
		t.Fatal("expected no final file to be left behind")
	}
}
