// Package canvas implements the three output-sink variants of spec §4.5:
// an in-memory canvas for formats needing random access, a streaming PNG
// canvas that bounds memory to a few tile-rows, and a tiled IIIF pyramid
// canvas. The in-memory and IIIF canvases accept tiles in arbitrary order
// (the download pipeline gives no ordering guarantee) and are commutative
// over AddTile except where overlap makes last-writer-wins observable
// (DeepZoom overlap). The streaming PNG canvas accepts bands in any order
// ahead of its emission cursor but rejects a tile whose top row lies above
// rows it has already emitted (KindOutOfOrder).
package canvas

import (
	"fmt"

	"github.com/lovasoa/dezoomify-go/dezoomer"
)

// Canvas is the opaque sink the download pipeline feeds decoded tiles into.
// Finalize must be called exactly once, only after every AddTile call this
// run will make has returned successfully.
type Canvas interface {
	AddTile(tile dezoomer.Tile) error
	Finalize() error
}

// ErrorKind categorises a CanvasError per spec §7.
type ErrorKind int

const (
	KindImageTooLarge ErrorKind = iota
	KindOutOfOrder              // streaming canvas only
	KindIO
)

// Error is the canvas error type; all canvas failures are fatal and abort
// the run with cleanup (spec §7).
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func imageTooLarge(format string, args ...any) error {
	return &Error{Kind: KindImageTooLarge, Reason: fmt.Sprintf(format, args...)}
}

func outOfOrder(format string, args ...any) error {
	return &Error{Kind: KindOutOfOrder, Reason: fmt.Sprintf(format, args...)}
}

func ioError(format string, args ...any) error {
	return &Error{Kind: KindIO, Reason: fmt.Sprintf(format, args...)}
}

// maxCanvasPixelsPerSide is the implementation-defined cap of spec §4.5a,
// derived from the JPEG limit of 65535px per side.
const maxCanvasPixelsPerSide = 65535
