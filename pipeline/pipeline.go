// Package pipeline implements the bounded-concurrency download pipeline:
// it pulls tile references from a ZoomLevel, fetches and decodes each one
// with retry/backoff and an optional tile cache, and hands decoded tiles to
// a canvas. Grounded on sfomuseum-go-tilepacks/cmd/build/main.go's
// httpWorker/doHTTPWithRetry/processResults worker-pool shape, generalised
// from a fixed tile-request struct into the dezoomer/canvas abstractions.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lovasoa/dezoomify-go/cache"
	"github.com/lovasoa/dezoomify-go/canvas"
	"github.com/lovasoa/dezoomify-go/config"
	"github.com/lovasoa/dezoomify-go/dezoomer"
	"github.com/lovasoa/dezoomify-go/httpclient"
)

// Options configures one pipeline run; zero values are not sensible
// defaults here, use config.Config to derive them (mirrors spec §6).
type Options struct {
	Parallelism int
	Retries     int
	RetryDelay  time.Duration
	Headers     map[string]string
}

// NoTileDownloaded is returned when every tile fetch exhausted its retry
// budget and failed: spec §4.4's aggregate-failure case.
type NoTileDownloaded struct {
	Attempted int
}

func (e *NoTileDownloaded) Error() string {
	return fmt.Sprintf("no tile downloaded out of %d attempted", e.Attempted)
}

// fetchAdapter exposes an httpclient.Client through the dezoomer.Fetcher
// interface (which carries no headers parameter) for the registry's
// NeedsData loop and the generic dezoomer's own probing.
type fetchAdapter struct {
	client  *httpclient.Client
	headers map[string]string
}

// NewFetcher adapts client into a dezoomer.Fetcher carrying the given fixed
// headers on every request (dezoomers needing per-image headers, like a
// Referer, layer that on top by merging before this point).
func NewFetcher(client *httpclient.Client, headers map[string]string) dezoomer.Fetcher {
	return &fetchAdapter{client: client, headers: headers}
}

func (f *fetchAdapter) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f.client.Fetch(ctx, uri, f.headers)
}

// Run drives level's tiles through the bounded worker pool and into canvas.
// It returns once every tile has been attempted (success or permanent
// failure) or ctx is cancelled.
func Run(ctx context.Context, level dezoomer.ZoomLevel, client *httpclient.Client, tileCache cache.TileCache, dst canvas.Canvas, opts Options) error {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 16
	}

	headers := config.MergeHeaders(level.Headers(), opts.Headers)

	jobs := level.Tiles(ctx)

	var succeeded, attempted int64
	var wg sync.WaitGroup
	var canvasMu sync.Mutex
	var firstCanvasErr error

	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				atomic.AddInt64(&attempted, 1)

				tile, err := fetchAndDecode(ctx, client, tileCache, level, ref, headers, opts.Retries, opts.RetryDelay)
				if err != nil {
					log.Printf("pipeline: dropping tile %s: %v", ref.URL, err)
					continue
				}

				canvasMu.Lock()
				addErr := dst.AddTile(tile)
				canvasMu.Unlock()
				if addErr != nil {
					if firstCanvasErr == nil {
						firstCanvasErr = addErr
					}
					continue
				}

				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}

	wg.Wait()

	if firstCanvasErr != nil {
		return firstCanvasErr
	}
	if succeeded == 0 && attempted > 0 {
		return &NoTileDownloaded{Attempted: int(attempted)}
	}
	return nil
}

// fetchAndDecode runs one tile through cache lookup, fetch-with-retry,
// format-specific PreProcess, decode, and PostProcess (spec §4.4 steps 1-5).
func fetchAndDecode(
	ctx context.Context,
	client *httpclient.Client,
	tileCache cache.TileCache,
	level dezoomer.ZoomLevel,
	ref dezoomer.TileReference,
	headers map[string]string,
	retries int,
	retryDelay time.Duration,
) (dezoomer.Tile, error) {
	body, cacheHit, err := fetchBody(ctx, client, tileCache, ref.URL, headers, retries, retryDelay)
	if err != nil {
		return dezoomer.Tile{}, err
	}

	processed, err := level.PreProcess(ref, body)
	if err != nil {
		return dezoomer.Tile{}, fmt.Errorf("pre-processing %s: %w", ref.URL, err)
	}

	img, _, err := image.Decode(bytes.NewReader(processed))
	if err != nil {
		return dezoomer.Tile{}, fmt.Errorf("decoding %s: %w", ref.URL, err)
	}

	tile, err := level.PostProcess(ref, dezoomer.Tile{Ref: ref, Pixels: img})
	if err != nil {
		return dezoomer.Tile{}, fmt.Errorf("post-processing %s: %w", ref.URL, err)
	}

	if !cacheHit && tileCache != nil {
		if err := tileCache.Put(ref.URL, body); err != nil {
			log.Printf("pipeline: tile cache write for %s failed: %v", ref.URL, err)
		}
	}

	return tile, nil
}

// fetchBody consults the cache, then retries the HTTP fetch with exponential
// backoff per spec §4.4/§8 invariant 6: delay before attempt k (k>=1) is
// retryDelay*2^(k-1).
func fetchBody(ctx context.Context, client *httpclient.Client, tileCache cache.TileCache, url string, headers map[string]string, retries int, retryDelay time.Duration) (body []byte, cacheHit bool, err error) {
	if tileCache != nil {
		if cached, hit, cerr := tileCache.Get(url); cerr == nil && hit {
			return cached, true, nil
		}
	}

	for attempt := 0; ; attempt++ {
		body, err = client.Fetch(ctx, url, headers)
		if err == nil {
			return body, false, nil
		}
		if attempt >= retries || !isRetryable(err) {
			return nil, false, err
		}

		delay := retryDelay * time.Duration(uint64(1)<<uint(attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func isRetryable(err error) bool {
	if se, ok := err.(*httpclient.StatusError); ok {
		return se.Retryable()
	}
	// Connect/timeout/transport errors don't carry a status code at all;
	// they're exactly the transient failures retry exists for.
	return true
}
