package config

import (
	"fmt"

	"github.com/aaronland/go-string/dsn"
)

// ParseDSN parses a "key=value key2=value2" style option string using
// go-string/dsn, the same package the teacher's go.mod requires for its
// "-dsn" outputter flag (sfomuseum-go-tilepacks/cmd/build/main.go). Here it
// backs the --tile-cache option when given as a key/value bundle rather
// than a single path (e.g. "path=/var/cache backend=sqlite").
func ParseDSN(str string) (map[string]string, error) {
	d, err := dsn.NewDSN(str)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN %q: %w", str, err)
	}

	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

// TileCacheBackend picks the TileCache implementation named by a parsed
// --tile-cache DSN's "backend" key, defaulting to the plain filesystem
// cache when the option is a bare path with no "backend=" key.
func TileCacheBackend(opts map[string]string) string {
	if backend, ok := opts["backend"]; ok && backend != "" {
		return backend
	}
	return "file"
}
