package canvas

import (
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestIIIFPyramidCanvas(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewLocalDirSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := NewFinalEncoder("jpeg", 10)
	if err != nil {
		t.Fatal(err)
	}

	c, err := NewIIIFPyramidCanvas(40, 20, sink, enc)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddTile(solidTile(20, 20, color.RGBA{10, 20, 30, 255}, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTile(solidTile(20, 20, color.RGBA{40, 50, 60, 255}, 20, 0)); err != nil {
		t.Fatal(err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "0,0,20,20", "20,20", "0", "default.jpg")); err != nil {
		t.Fatalf("expected canonical level-0 tile written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "20,0,20,20", "20,20", "0", "default.jpg")); err != nil {
		t.Fatalf("expected canonical level-0 tile written: %v", err)
	}

	infoDir, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	foundFull := false
	for _, e := range infoDir {
		if e.Name() == "full" {
			foundFull = true
		}
	}
	if !foundFull {
		t.Fatalf("expected a full/ directory with the full-image rendition, got entries %v", infoDir)
	}

	infoBytes, err := os.ReadFile(filepath.Join(dir, "info.json"))
	if err != nil {
		t.Fatal(err)
	}
	var info infoJSON
	if err := json.Unmarshal(infoBytes, &info); err != nil {
		t.Fatal(err)
	}
	if info.Width != 40 || info.Height != 20 {
		t.Fatalf("info.json dims = %dx%d, want 40x20", info.Width, info.Height)
	}
	if info.Levels < 1 {
		t.Fatalf("expected at least one pyramid level, got %d", info.Levels)
	}

	if _, err := os.Stat(filepath.Join(dir, "viewer.html")); err != nil {
		t.Fatalf("expected viewer.html written: %v", err)
	}
}

func TestIIIFPreviewCapBoundsMemory(t *testing.T) {
	sink := t.TempDir()
	s, err := NewLocalDirSink(sink)
	if err != nil {
		t.Fatal(err)
	}
	enc, _ := NewFinalEncoder("jpeg", 10)

	c, err := NewIIIFPyramidCanvas(50000, 20000, s, enc)
	if err != nil {
		t.Fatal(err)
	}
	if c.previewW > iiifPreviewCap || c.previewH > iiifPreviewCap {
		t.Fatalf("preview buffer %dx%d exceeds cap %d", c.previewW, c.previewH, iiifPreviewCap)
	}
}
