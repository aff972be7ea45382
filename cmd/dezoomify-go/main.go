package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/lovasoa/dezoomify-go/cache"
	"github.com/lovasoa/dezoomify-go/canvas"
	"github.com/lovasoa/dezoomify-go/config"
	"github.com/lovasoa/dezoomify-go/dezoomer"
	"github.com/lovasoa/dezoomify-go/dezoomer/customyaml"
	"github.com/lovasoa/dezoomify-go/dezoomer/deepzoom"
	"github.com/lovasoa/dezoomify-go/dezoomer/generic"
	"github.com/lovasoa/dezoomify-go/dezoomer/googleart"
	"github.com/lovasoa/dezoomify-go/dezoomer/iiif"
	"github.com/lovasoa/dezoomify-go/dezoomer/iip"
	"github.com/lovasoa/dezoomify-go/dezoomer/krpano"
	"github.com/lovasoa/dezoomify-go/dezoomer/nypl"
	"github.com/lovasoa/dezoomify-go/dezoomer/pff"
	"github.com/lovasoa/dezoomify-go/dezoomer/zoomify"
	"github.com/lovasoa/dezoomify-go/httpclient"
	"github.com/lovasoa/dezoomify-go/pipeline"
)

// exit codes, per spec §6.
const (
	exitOK            = 0
	exitPipelineError = 1
	exitNoTile        = 2
	exitBadInput      = 3
	exitOutputIO      = 4
)

// headerFlags accumulates repeatable -H "K: V" flags.
type headerFlags map[string]string

func (h headerFlags) String() string { return "" }
func (h headerFlags) Set(value string) error {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("header %q must be in \"Key: Value\" form", value)
	}
	h[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	dezoomerName := flag.String("dezoomer", "auto", "Force a specific dezoomer by name, or \"auto\" to probe.")
	largest := flag.Bool("largest", false, "Pick the largest available zoom level.")
	maxWidth := flag.Uint("max-width", 0, "Cap zoom-level selection to this width.")
	maxHeight := flag.Uint("max-height", 0, "Cap zoom-level selection to this height.")
	parallelism := flag.Int("parallelism", 16, "Number of in-flight tile fetches.")
	retries := flag.Int("retries", 1, "Retry budget per tile.")
	retryDelay := flag.Duration("retry-delay", 2*time.Second, "Initial backoff before a retry; doubles each attempt.")
	timeout := flag.Duration("timeout", 30*time.Second, "End-to-end request timeout.")
	connectTimeout := flag.Duration("connect-timeout", 6*time.Second, "TCP connect timeout.")
	maxIdlePerHost := flag.Int("max-idle-per-host", 32, "Idle HTTP connection cap per host.")
	acceptInvalidCerts := flag.Bool("accept-invalid-certs", false, "Skip TLS certificate verification.")
	tileCacheDir := flag.String("tile-cache", "", "Enable the on-disk tile cache (a directory, or a key=value DSN).")
	compression := flag.Int("compression", 0, "Encoder quality/effort knob, 0-100.")
	logging := flag.String("logging", "info", "Verbosity: off|error|warn|info|debug|trace.")
	headers := make(headerFlags)
	flag.Var(headers, "header", "Repeatable request header \"K: V\"; overrides dezoomer defaults.")
	flag.Parse()

	logger := newLevelLogger(*logging)

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dezoomify-go [flags] <input-uri> [<outfile>]")
		return exitBadInput
	}
	inputURI := args[0]
	var outPath string
	if len(args) > 1 {
		outPath = args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		logger.warn("interrupted, aborting in-flight fetches")
		cancel()
	}()

	cfg := config.Default()
	cfg.Dezoomer = *dezoomerName
	cfg.Largest = *largest
	cfg.MaxWidth = uint32(*maxWidth)
	cfg.MaxHeight = uint32(*maxHeight)
	cfg.Parallelism = *parallelism
	cfg.Retries = *retries
	cfg.RetryDelay = *retryDelay
	cfg.Timeout = *timeout
	cfg.ConnectTimeout = *connectTimeout
	cfg.MaxIdlePerHost = *maxIdlePerHost
	cfg.AcceptInvalidCerts = *acceptInvalidCerts
	cfg.TileCacheDSN = *tileCacheDir
	cfg.Compression = *compression
	cfg.LogLevel = *logging
	cfg.Headers = headers

	client := httpclient.New(httpclient.Options{
		ConnectTimeout:     cfg.ConnectTimeout,
		Timeout:            cfg.Timeout,
		MaxIdlePerHost:     cfg.MaxIdlePerHost,
		AcceptInvalidCerts: cfg.AcceptInvalidCerts,
	})
	fetcher := pipeline.NewFetcher(client, cfg.Headers)

	tileCache, err := openTileCache(cfg.TileCacheDSN)
	if err != nil {
		logger.errorf("tile cache: %v", err)
		return exitBadInput
	}
	if tileCache != nil {
		defer tileCache.Close()
	}

	registry := buildRegistry(fetcher)

	in, err := loadInput(ctx, fetcher, inputURI)
	if err != nil {
		logger.errorf("reading input: %v", err)
		return exitBadInput
	}

	var img dezoomer.ZoomableImage
	if cfg.Dezoomer == "auto" {
		img, err = registry.ProbeAuto(ctx, in, fetcher)
	} else {
		img, err = registry.ProbeWith(ctx, cfg.Dezoomer, in, fetcher)
	}
	if err != nil {
		logger.errorf("probing %s: %v", inputURI, err)
		return exitBadInput
	}

	level, err := selectLevel(img.Levels, cfg, logger)
	if err != nil {
		logger.errorf("selecting zoom level: %v", err)
		return exitBadInput
	}
	logger.infof("selected level %s (%v)", level.Name(), level.Dimensions())

	if outPath == "" {
		outPath = defaultOutPath(level.Dimensions())
	}

	dst, err := canvas.New(outPath, int(level.Dimensions().Width), int(level.Dimensions().Height), cfg.Compression, nil)
	if err != nil {
		logger.errorf("creating output %s: %v", outPath, err)
		return exitOutputIO
	}
	dst = wrapWithProgress(dst, level.Name())

	runErr := pipeline.Run(ctx, level, client, tileCache, dst, pipeline.Options{
		Parallelism: cfg.Parallelism,
		Retries:     cfg.Retries,
		RetryDelay:  cfg.RetryDelay,
		Headers:     cfg.Headers,
	})
	if runErr != nil {
		if _, ok := runErr.(*pipeline.NoTileDownloaded); ok {
			logger.errorf("%v", runErr)
			return exitNoTile
		}
		if _, ok := runErr.(*canvas.Error); ok {
			logger.errorf("%v", runErr)
			return exitOutputIO
		}
		logger.errorf("%v", runErr)
		return exitPipelineError
	}

	if err := dst.Finalize(); err != nil {
		logger.errorf("finalizing %s: %v", outPath, err)
		return exitOutputIO
	}

	logger.infof("wrote %s", outPath)
	return exitOK
}

// buildRegistry wires every format dezoomer in priority order (spec §4.1):
// specific manifest formats first, generic/custom last since they claim any
// input of their loose shape. customyaml composes into a named sub-dezoomer by
// looking it up in innerRegistry, which intentionally excludes customyaml
// itself — a YAML document referencing "customyaml" as its own composition
// target is not a supported case.
func buildRegistry(fetcher dezoomer.Fetcher) *dezoomer.Registry {
	formats := []dezoomer.Dezoomer{
		zoomify.New(),
		deepzoom.New(),
		iiif.New(),
		googleart.New(),
		krpano.New(),
		iip.New(),
		nypl.New(),
		pff.New(),
		generic.New(fetcher),
	}
	innerRegistry := dezoomer.NewRegistry(formats...)

	all := append(append([]dezoomer.Dezoomer{}, formats...), customyaml.New(innerRegistry, fetcher))
	return dezoomer.NewRegistry(all...)
}

// loadInput resolves the starting Input: a local metadata file is read
// directly into Body (no HTTP round trip needed), an http(s) URL is left as
// a bare URI for the registry's own NeedsData fetch to resolve.
func loadInput(ctx context.Context, fetcher dezoomer.Fetcher, uri string) (dezoomer.Input, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return dezoomer.Input{URI: uri}, nil
	}
	body, err := os.ReadFile(uri)
	if err != nil {
		return dezoomer.Input{}, fmt.Errorf("reading local metadata file %s: %w", uri, err)
	}
	return dezoomer.Input{URI: uri, Body: body}, nil
}

// selectLevel applies spec §4.3's filter and, on an ambiguous result (several
// levels fit a --max-width/--max-height bound and --largest is not set),
// prompts interactively on stdin/stderr — the external collaborator the core
// selector defers to.
func selectLevel(levels []dezoomer.ZoomLevel, cfg config.Config, logger *levelLogger) (dezoomer.ZoomLevel, error) {
	level, err := dezoomer.Select(levels, dezoomer.SelectionFilter{
		Largest: cfg.Largest,
		MaxW:    cfg.MaxWidth,
		MaxH:    cfg.MaxHeight,
	})
	var ambiguous *dezoomer.ErrAmbiguousLevel
	if err == nil {
		return level, nil
	}
	if !asAmbiguous(err, &ambiguous) {
		return nil, err
	}
	return promptForLevel(ambiguous.Levels)
}

func asAmbiguous(err error, out **dezoomer.ErrAmbiguousLevel) bool {
	e, ok := err.(*dezoomer.ErrAmbiguousLevel)
	if ok {
		*out = e
	}
	return ok
}

func promptForLevel(levels []dezoomer.ZoomLevel) (dezoomer.ZoomLevel, error) {
	fmt.Fprintln(os.Stderr, "multiple zoom levels match; choose one:")
	for i, lvl := range levels {
		fmt.Fprintf(os.Stderr, "  [%d] %s (%v)\n", i, lvl.Name(), lvl.Dimensions())
	}
	fmt.Fprint(os.Stderr, "> ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading selection: %w", err)
	}
	var choice int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &choice); err != nil || choice < 0 || choice >= len(levels) {
		return nil, fmt.Errorf("invalid selection %q", line)
	}
	return levels[choice], nil
}

// defaultOutPathThreshold mirrors canvas's own streaming cutover: below it
// an image is "small" and defaults to JPEG, at or above (or when dimensions
// are still unknown) it defaults to PNG (spec §6's outfile rule).
const defaultOutPathThreshold = 4096 * 4096

func defaultOutPath(dim dezoomer.Dimensions) string {
	if dim.Known() && uint64(dim.Width)*uint64(dim.Height) < defaultOutPathThreshold {
		return "image.jpg"
	}
	return "image.png"
}

func openTileCache(dsn string) (cache.TileCache, error) {
	if dsn == "" {
		return nil, nil
	}
	opts, err := config.ParseDSN(dsn)
	if err != nil {
		// Not every DSN is "key=value" — a bare directory path is the common
		// case and isn't valid DSN syntax, so fall back to treating dsn as a
		// path for the default filesystem backend.
		return cache.NewFileCache(dsn)
	}
	switch config.TileCacheBackend(opts) {
	case "sqlite":
		path := opts["path"]
		if path == "" {
			return nil, fmt.Errorf("sqlite tile cache requires path=")
		}
		return cache.NewSQLiteCache(path)
	default:
		path := opts["path"]
		if path == "" {
			path = dsn
		}
		return cache.NewFileCache(path)
	}
}

// progressCanvas decorates a canvas.Canvas with a schollz/progressbar/v3
// indeterminate bar, the same "periodic progress" role cmd/build/main.go
// fills with its "Saved %dk tiles" log line, rendered as a bar instead.
type progressCanvas struct {
	canvas.Canvas
	bar *progressbar.ProgressBar
}

func wrapWithProgress(c canvas.Canvas, label string) canvas.Canvas {
	bar := progressbar.Default(-1, "fetching "+label)
	return &progressCanvas{Canvas: c, bar: bar}
}

func (p *progressCanvas) AddTile(tile dezoomer.Tile) error {
	err := p.Canvas.AddTile(tile)
	if err == nil {
		p.bar.Add(1)
	}
	return err
}

func (p *progressCanvas) Finalize() error {
	p.bar.Finish()
	return p.Canvas.Finalize()
}

// levelLogger gates log.Printf calls behind the --logging verbosity
// threshold, the same pattern cmd/build/main.go uses around its periodic
// "Saved %dk tiles" line.
type levelLogger struct {
	level int
	log   *log.Logger
}

var logLevels = map[string]int{
	"off": 0, "error": 1, "warn": 2, "info": 3, "debug": 4, "trace": 5,
}

func newLevelLogger(name string) *levelLogger {
	lvl, ok := logLevels[name]
	if !ok {
		lvl = logLevels["info"]
	}
	return &levelLogger{level: lvl, log: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *levelLogger) errorf(format string, args ...any) {
	if l.level >= logLevels["error"] {
		l.log.Printf("error: "+format, args...)
	}
}

func (l *levelLogger) warn(msg string) {
	if l.level >= logLevels["warn"] {
		l.log.Printf("warn: %s", msg)
	}
}

func (l *levelLogger) infof(format string, args ...any) {
	if l.level >= logLevels["info"] {
		l.log.Printf("info: "+format, args...)
	}
}
