package canvas

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"os"
	"sort"
	"sync"

	"golang.org/x/image/draw"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

// StreamingPNGCanvas emits a PNG row-by-row without ever holding the whole
// raster (spec §4.5b). It treats incoming tiles as insertions into a sparse
// band buffer keyed by the tile's starting row; once a band's tiles cover
// the full image width, its rows are IDAT-encoded and the band is released.
// This bounds memory to roughly one (or, under tile overlap, two) tile
// heights times the image width, plus zlib's own window.
//
// DeepZoom overlap note (spec §9 design note a): when a later band's tiles
// overlap rows already rendered for the current band, the later band's
// pixels win wherever the two overlap, matching "last tile to cover a
// pixel wins" — but which band counts as "later" depends on arrival order,
// so output is seam-dependent under reordering. This mirrors the source's
// own documented ambiguity rather than resolving it.
type StreamingPNGCanvas struct {
	mu sync.Mutex

	width, height int
	outPath       string

	file *os.File
	bw   *bufio.Writer
	zw   *zlib.Writer
	crc  *idatBuffer

	nextRow int
	bands   map[int]*pngBand

	carryImg     *image.RGBA
	carryStart   int
	carryHeight  int
}

type pngBand struct {
	y0     int
	height int
	img    *image.RGBA
	// covered tracks merged, non-overlapping [x0,x1) intervals already
	// painted, so completeness can be checked without rescanning tiles.
	covered []interval
}

type interval struct{ lo, hi int }

func (b *pngBand) addInterval(lo, hi int) {
	b.covered = append(b.covered, interval{lo, hi})
	sort.Slice(b.covered, func(i, j int) bool { return b.covered[i].lo < b.covered[j].lo })

	merged := b.covered[:0]
	for _, iv := range b.covered {
		if len(merged) > 0 && iv.lo <= merged[len(merged)-1].hi {
			if iv.hi > merged[len(merged)-1].hi {
				merged[len(merged)-1].hi = iv.hi
			}
		} else {
			merged = append(merged, iv)
		}
	}
	b.covered = merged
}

func (b *pngBand) complete(width int) bool {
	return len(b.covered) == 1 && b.covered[0].lo <= 0 && b.covered[0].hi >= width
}

// NewStreamingPNGCanvas opens outPath (via a .tmp sibling, renamed atomically
// on Finalize) and writes the PNG signature and IHDR chunk up front.
func NewStreamingPNGCanvas(width, height int, outPath string) (*StreamingPNGCanvas, error) {
	if width <= 0 || height <= 0 {
		return nil, imageTooLarge("canvas dimensions must be positive, got %dx%d", width, height)
	}

	f, err := os.Create(outPath + ".tmp")
	if err != nil {
		return nil, ioError("creating %s.tmp: %v", outPath, err)
	}

	c := &StreamingPNGCanvas{
		width:   width,
		height:  height,
		outPath: outPath,
		file:    f,
		bw:      bufio.NewWriter(f),
		bands:   make(map[int]*pngBand),
	}

	if err := c.writeSignatureAndHeader(); err != nil {
		f.Close()
		os.Remove(outPath + ".tmp")
		return nil, err
	}

	c.crc = newIdatBuffer()
	zw, err := zlib.NewWriterLevel(c.crc, zlib.BestSpeed)
	if err != nil {
		f.Close()
		os.Remove(outPath + ".tmp")
		return nil, ioError("initialising zlib writer: %v", err)
	}
	c.zw = zw

	return c, nil
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func (c *StreamingPNGCanvas) writeSignatureAndHeader() error {
	if _, err := c.bw.Write(pngSignature); err != nil {
		return ioError("writing PNG signature: %v", err)
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(c.width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(c.height))
	ihdr[8] = 8  // bit depth
	ihdr[9] = 6  // color type: truecolor with alpha
	ihdr[10] = 0 // compression method
	ihdr[11] = 0 // filter method
	ihdr[12] = 0 // interlace method

	return c.writeChunk("IHDR", ihdr)
}

func (c *StreamingPNGCanvas) writeChunk(typ string, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := c.bw.Write(lenBuf[:]); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)

	if _, err := c.bw.WriteString(typ); err != nil {
		return err
	}
	if _, err := c.bw.Write(data); err != nil {
		return err
	}

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	_, err := c.bw.Write(crcBuf[:])
	return err
}

// idatBuffer buffers zlib output and flushes it into successive IDAT
// chunks so a single enormous image doesn't require one giant IDAT buffer.
type idatBuffer struct {
	buf []byte
}

func newIdatBuffer() *idatBuffer { return &idatBuffer{} }

func (w *idatBuffer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

const idatChunkSize = 64 * 1024

func (c *StreamingPNGCanvas) flushIDAT(final bool) error {
	for len(c.crc.buf) >= idatChunkSize || (final && len(c.crc.buf) > 0) {
		n := idatChunkSize
		if n > len(c.crc.buf) {
			n = len(c.crc.buf)
		}
		if err := c.writeChunk("IDAT", c.crc.buf[:n]); err != nil {
			return ioError("writing IDAT chunk: %v", err)
		}
		c.crc.buf = c.crc.buf[n:]
	}
	return nil
}

// AddTile admits a tile into its row band and, if doing so completes one or
// more bands at the front of the emission cursor, encodes and releases them.
func (c *StreamingPNGCanvas) AddTile(tile dezoomer.Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	y0 := int(tile.Ref.Y)
	if y0 < c.nextRow {
		return outOfOrder("tile at row %d arrived after the emission cursor reached row %d", y0, c.nextRow)
	}

	bounds := tile.Pixels.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	band, ok := c.bands[y0]
	if !ok {
		band = &pngBand{y0: y0, height: h, img: image.NewRGBA(image.Rect(0, 0, c.width, h))}
		c.bands[y0] = band
	} else if h > band.height {
		bigger := image.NewRGBA(image.Rect(0, 0, c.width, h))
		draw.Draw(bigger, band.img.Bounds(), band.img, image.Point{}, draw.Src)
		band.img = bigger
		band.height = h
	}

	x0 := int(tile.Ref.X)
	dst := image.Rect(x0, 0, x0+w, band.height)
	draw.Draw(band.img, dst, tile.Pixels, bounds.Min, draw.Src)
	band.addInterval(x0, x0+w)

	return c.drainReadyBands()
}

// drainReadyBands emits every consecutive complete band starting at
// nextRow, deferring the tail of a band when a later, overlapping band has
// already started arriving (so the later band can still win that overlap).
func (c *StreamingPNGCanvas) drainReadyBands() error {
	for {
		band, ok := c.bands[c.nextRow]
		if !ok || !band.complete(c.width) {
			return nil
		}

		emitHeight := band.height
		for y0b := range c.bands {
			if y0b > c.nextRow && y0b < c.nextRow+emitHeight {
				emitHeight = y0b - c.nextRow
			}
		}

		img := band.img
		if c.carryImg != nil && c.carryStart == c.nextRow {
			merged := image.NewRGBA(image.Rect(0, 0, c.width, band.height))
			draw.Draw(merged, merged.Bounds(), c.carryImg, image.Point{}, draw.Src)
			draw.Draw(merged, band.img.Bounds(), band.img, image.Point{}, draw.Src)
			img = merged
			c.carryImg = nil
		}

		if err := c.emitRows(img, 0, emitHeight); err != nil {
			return err
		}

		if emitHeight < band.height {
			// Keep the undrawn tail as carry so a future, lower band can
			// still be composited under/over it correctly.
			tail := image.NewRGBA(image.Rect(0, 0, c.width, band.height-emitHeight))
			draw.Draw(tail, tail.Bounds(), img, image.Point{X: 0, Y: emitHeight}, draw.Src)
			c.carryImg = tail
			c.carryStart = c.nextRow + emitHeight
			c.carryHeight = band.height - emitHeight
		}

		delete(c.bands, band.y0)
		c.nextRow += emitHeight
	}
}

// emitRows filters (None filter, type 0) and zlib-compresses rows
// [fromRow, fromRow+count) of img, flushing completed IDAT chunks as it goes.
func (c *StreamingPNGCanvas) emitRows(img *image.RGBA, fromRow, count int) error {
	rowBuf := make([]byte, 1+c.width*4)
	for y := fromRow; y < fromRow+count; y++ {
		rowBuf[0] = 0 // filter type: None
		for x := 0; x < c.width; x++ {
			r, g, b, a := colorAt(img, x, y)
			i := 1 + x*4
			rowBuf[i] = r
			rowBuf[i+1] = g
			rowBuf[i+2] = b
			rowBuf[i+3] = a
		}
		if _, err := c.zw.Write(rowBuf); err != nil {
			return ioError("compressing scanline: %v", err)
		}
		if err := c.flushIDAT(false); err != nil {
			return err
		}
	}
	return nil
}

func colorAt(img *image.RGBA, x, y int) (r, g, b, a byte) {
	col := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
	return col.R, col.G, col.B, col.A
}

// Finalize flushes the zlib stream, writes remaining IDAT data and the IEND
// trailer, and atomically renames the .tmp file into place. Any band still
// pending (i.e. the image never fully covered its declared width/height)
// is reported as an error rather than silently producing a truncated file.
func (c *StreamingPNGCanvas) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nextRow < c.height {
		c.file.Close()
		os.Remove(c.outPath + ".tmp")
		return ioError("streaming canvas finalized with only %d of %d rows emitted", c.nextRow, c.height)
	}

	if err := c.zw.Close(); err != nil {
		c.file.Close()
		os.Remove(c.outPath + ".tmp")
		return ioError("closing zlib stream: %v", err)
	}
	if err := c.flushIDAT(true); err != nil {
		c.file.Close()
		os.Remove(c.outPath + ".tmp")
		return err
	}
	if err := c.writeChunk("IEND", nil); err != nil {
		c.file.Close()
		os.Remove(c.outPath + ".tmp")
		return ioError("writing IEND: %v", err)
	}

	if err := c.bw.Flush(); err != nil {
		c.file.Close()
		return ioError("flushing output: %v", err)
	}
	if err := c.file.Close(); err != nil {
		return ioError("closing %s.tmp: %v", c.outPath, err)
	}
	if err := os.Rename(c.outPath+".tmp", c.outPath); err != nil {
		return ioError("renaming %s.tmp to %s: %v", c.outPath, c.outPath, err)
	}
	return nil
}
