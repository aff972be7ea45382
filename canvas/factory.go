package canvas

import (
	"image/color"
	"path/filepath"
	"strings"
)

// New picks a Canvas variant from outPath's extension, per spec §4.5: ".jpg"
// / ".jpeg" always needs random access so it gets the in-memory canvas;
// ".png" uses the in-memory canvas for small/known-fit images and the
// streaming canvas once the image is large enough that holding it in RAM
// would be wasteful; any other extension (or a directory path with no
// extension) is treated as an IIIF pyramid destination.
func New(outPath string, width, height int, compression int, sink OutputSink) (Canvas, error) {
	ext := strings.ToLower(filepath.Ext(outPath))

	switch ext {
	case ".jpg", ".jpeg":
		enc, err := NewFinalEncoder("jpeg", compression)
		if err != nil {
			return nil, err
		}
		return NewMemoryCanvas(width, height, outPath, enc, color.Black)

	case ".png":
		if shouldStream(width, height) {
			return NewStreamingPNGCanvas(width, height, outPath)
		}
		enc, err := NewFinalEncoder("png", compression)
		if err != nil {
			return nil, err
		}
		return NewMemoryCanvas(width, height, outPath, enc, color.Transparent)

	default:
		enc, err := NewFinalEncoder("jpeg", compression)
		if err != nil {
			return nil, err
		}
		if sink == nil {
			var serr error
			if bucket, prefix, ok := parseS3Path(outPath); ok {
				sink, serr = NewS3Sink(bucket, prefix)
			} else {
				sink, serr = NewLocalDirSink(outPath)
			}
			if serr != nil {
				return nil, serr
			}
		}
		return NewIIIFPyramidCanvas(width, height, sink, enc)
	}
}

// streamingThreshold is the pixel count above which a PNG output switches
// from the in-memory canvas to the streaming canvas, so that "large/unknown"
// images (spec §6's outfile-default rule) never force a full raster into
// RAM just because the user asked for PNG.
const streamingThreshold = 4096 * 4096

func shouldStream(width, height int) bool {
	return width*height > streamingThreshold
}

// parseS3Path recognizes an "s3://bucket/prefix" output path, the convention
// S3-backed tools in the aws-sdk-go ecosystem use in place of a filesystem
// path. prefix may be empty; it never has a leading or trailing slash.
func parseS3Path(outPath string) (bucket, prefix string, ok bool) {
	const s3Scheme = "s3://"
	if !strings.HasPrefix(outPath, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(outPath, s3Scheme)
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, true
}
