// Package config holds the plain record of recognised options (spec §3/§6)
// and the small amount of parsing logic (DSN strings, header merging) the
// CLI layer needs before handing a Config to the rest of the pipeline.
package config

import "time"

// Config is a plain record of every option spec §6 recognises. The CLI
// populates it with flag (teacher convention); library callers can build
// one directly without touching any flag-parsing code.
type Config struct {
	Dezoomer string // "auto" or a specific registered name

	Largest  bool
	MaxWidth  uint32
	MaxHeight uint32

	Parallelism int // in-flight tile fetches, default 16
	Retries     int // per-tile retry budget, default 1

	RetryDelay     time.Duration // default 2s, doubles per attempt
	Timeout        time.Duration // default 30s
	ConnectTimeout time.Duration // default 6s
	MaxIdlePerHost int           // default 32

	Headers map[string]string // repeatable -H "K: V", overrides dezoomer defaults

	AcceptInvalidCerts bool

	TileCacheDir string // not read by the CLI; the cache is opened from TileCacheDSN
	TileCacheDSN string // raw --tile-cache value before DSN parsing; "" disables the cache

	Compression int // 0..100, encoder quality/effort knob

	LogLevel string // off|error|warn|info|debug|trace
}

// Default returns a Config with every documented default from spec §6.
func Default() Config {
	return Config{
		Dezoomer:       "auto",
		Parallelism:    16,
		Retries:        1,
		RetryDelay:     2 * time.Second,
		Timeout:        30 * time.Second,
		ConnectTimeout: 6 * time.Second,
		MaxIdlePerHost: 32,
		LogLevel:       "info",
	}
}

// MergeHeaders overlays user headers onto a dezoomer's default headers:
// user headers win on key clash, per spec §4.2/§6.
func MergeHeaders(dezoomerDefaults, userHeaders map[string]string) map[string]string {
	merged := make(map[string]string, len(dezoomerDefaults)+len(userHeaders))
	for k, v := range dezoomerDefaults {
		merged[k] = v
	}
	for k, v := range userHeaders {
		merged[k] = v
	}
	return merged
}
