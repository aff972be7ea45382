package main

import (
	"path/filepath"
	"testing"

	"github.com/lovasoa/dezoomify-go/cache"
	"github.com/lovasoa/dezoomify-go/dezoomer"
)

func TestHeaderFlagsParsesKeyValue(t *testing.T) {
	h := make(headerFlags)
	if err := h.Set("Referer: https://example.com"); err != nil {
		t.Fatal(err)
	}
	if h["Referer"] != "https://example.com" {
		t.Fatalf("got %q", h["Referer"])
	}
}

func TestHeaderFlagsRejectsMalformed(t *testing.T) {
	h := make(headerFlags)
	if err := h.Set("no-colon-here"); err == nil {
		t.Fatal("expected an error for a header with no colon")
	}
}

func TestDefaultOutPathSmallIsJPEG(t *testing.T) {
	got := defaultOutPath(dezoomer.Dimensions{Width: 800, Height: 600})
	if filepath.Ext(got) != ".jpg" {
		t.Fatalf("want .jpg for a small image, got %s", got)
	}
}

func TestDefaultOutPathLargeIsPNG(t *testing.T) {
	got := defaultOutPath(dezoomer.Dimensions{Width: 20000, Height: 20000})
	if filepath.Ext(got) != ".png" {
		t.Fatalf("want .png for a large image, got %s", got)
	}
}

func TestDefaultOutPathUnknownIsPNG(t *testing.T) {
	got := defaultOutPath(dezoomer.Dimensions{})
	if filepath.Ext(got) != ".png" {
		t.Fatalf("want .png when dimensions are unknown, got %s", got)
	}
}

func TestOpenTileCacheEmptyDisablesCache(t *testing.T) {
	c, err := openTileCache("")
	if err != nil || c != nil {
		t.Fatalf("expected (nil, nil) for an empty DSN, got (%v, %v)", c, err)
	}
}

func TestOpenTileCachePlainPathUsesFileBackend(t *testing.T) {
	dir := t.TempDir()
	c, err := openTileCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, ok := c.(*cache.FileCache); !ok {
		t.Fatalf("expected *cache.FileCache, got %T", c)
	}
}

func TestOpenTileCacheSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	dsn := "backend=sqlite path=" + filepath.Join(dir, "tiles.db")
	c, err := openTileCache(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, ok := c.(*cache.SQLiteCache); !ok {
		t.Fatalf("expected *cache.SQLiteCache, got %T", c)
	}
}
