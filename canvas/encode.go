package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// FinalEncoder turns a fully-assembled in-memory raster into output bytes.
// Grounded on pspoerri-geotiff2pmtiles/internal/encode's small Encoder
// interface and per-format wrappers (JPEGEncoder/PNGEncoder), narrowed to
// the two formats spec §6 names for the in-memory canvas: JPEG and
// non-streaming PNG.
type FinalEncoder interface {
	Encode(img image.Image) ([]byte, error)
	FileExtension() string
}

// NewFinalEncoder builds the encoder named by format, applying the
// --compression knob per spec §6: "JPEG quality = 100 - value; PNG
// filter/effort scaled".
func NewFinalEncoder(format string, compression int) (FinalEncoder, error) {
	if compression < 0 {
		compression = 0
	}
	if compression > 100 {
		compression = 100
	}

	switch format {
	case "jpeg", "jpg":
		quality := 100 - compression
		if quality <= 0 {
			quality = 1
		}
		return &jpegEncoder{quality: quality}, nil
	case "png":
		return &pngEncoder{level: pngCompressionLevel(compression)}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (supported: jpeg, png)", format)
	}
}

func pngCompressionLevel(compression int) png.CompressionLevel {
	switch {
	case compression <= 10:
		return png.NoCompression
	case compression <= 40:
		return png.BestSpeed
	case compression <= 80:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

type jpegEncoder struct{ quality int }

func (e *jpegEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *jpegEncoder) FileExtension() string { return ".jpg" }

type pngEncoder struct{ level png.CompressionLevel }

func (e *pngEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: e.level}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *pngEncoder) FileExtension() string { return ".png" }
