// Package cache implements the optional on-disk tile cache of spec §3/§6:
// a write-once, content-addressed map from tile URL to raw response body.
package cache

import (
	"github.com/cespare/xxhash/v2"
)

// TileCache maps a tile URL to its raw HTTP response body. Entries are
// write-once; a successful Get short-circuits the HTTP fetch entirely.
type TileCache interface {
	// Get returns the cached body for url, or ok=false on a miss.
	Get(url string) (data []byte, ok bool, err error)

	// Put stores the body for url. Implementations must make this atomic
	// with respect to concurrent Get calls: a reader must never observe a
	// partially written entry.
	Put(url string, data []byte) error

	// Close releases any resources (open database handles, etc).
	Close() error
}

// hashURL returns the deterministic, sanitised cache key for a tile URL.
// xxhash is used instead of crypto/sha256: this is a cache key, not a
// security boundary, and the pack reaches for xxhash for exactly this kind
// of hot-path keying (see protomaps-go-pmtiles's dependency on it).
func hashURL(url string) string {
	h := xxhash.Sum64String(url)
	return formatHex(h)
}

const hexDigits = "0123456789abcdef"

func formatHex(v uint64) string {
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
