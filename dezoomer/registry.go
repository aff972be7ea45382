package dezoomer

import (
	"context"
	"fmt"
)

// Fetcher retrieves the bytes of a manifest URI; the registry uses it to
// resolve NeedsData responses without knowing anything about HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Registry holds the named dezoomers in a fixed priority order: specific
// formats first, the generic/custom dezoomers last since they claim any
// input of their loose shape (a {{X}}/{{Y}} template, a YAML document)
// (matching spec §4.1).
type Registry struct {
	order []Dezoomer
	byName map[string]Dezoomer
}

// NewRegistry builds a registry from dezoomers in priority order.
func NewRegistry(dezoomers ...Dezoomer) *Registry {
	r := &Registry{byName: make(map[string]Dezoomer, len(dezoomers))}
	for _, d := range dezoomers {
		r.order = append(r.order, d)
		r.byName[d.Name()] = d
	}
	return r
}

// Names returns the registered dezoomer names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, d := range r.order {
		names[i] = d.Name()
	}
	return names
}

// maxNeedsDataHops bounds the NeedsData round trips for one candidate so a
// misbehaving dezoomer can't loop forever requesting the same manifest.
const maxNeedsDataHops = 8

// probeLoop drives one candidate through the NeedsData state machine
// described in spec §4.8: Trying(d) -> Ok | NeedsData(uri) (fetch, loop) |
// WrongDezoomer | Fatal.
func probeLoop(ctx context.Context, d Dezoomer, in Input, fetch Fetcher) (ZoomableImage, *DezoomerError) {
	for hop := 0; hop < maxNeedsDataHops; hop++ {
		img, err := d.Probe(ctx, in)
		if err == nil {
			return img, nil
		}

		de := AsDezoomerError(err)
		if de.Kind != KindNeedsData {
			return ZoomableImage{}, de
		}

		if fetch == nil {
			return ZoomableImage{}, &DezoomerError{
				Kind:   KindFatal,
				Reason: fmt.Sprintf("%s needs %s but no fetcher was supplied", d.Name(), de.URI),
			}
		}

		body, ferr := fetch.Fetch(ctx, de.URI)
		if ferr != nil {
			return ZoomableImage{}, &DezoomerError{
				Kind:   KindFatal,
				Reason: fmt.Sprintf("fetching %s: %v", de.URI, ferr),
			}
		}

		in = Input{URI: de.URI, Body: body}
	}
	return ZoomableImage{}, &DezoomerError{Kind: KindFatal, Reason: "too many NeedsData round trips"}
}

// ProbeWith dispatches to a single named dezoomer.
func (r *Registry) ProbeWith(ctx context.Context, name string, in Input, fetch Fetcher) (ZoomableImage, error) {
	d, ok := r.byName[name]
	if !ok {
		return ZoomableImage{}, fmt.Errorf("unknown dezoomer %q", name)
	}
	img, de := probeLoop(ctx, d, in, fetch)
	if de != nil {
		return ZoomableImage{}, de
	}
	return img, nil
}

// ProbeAuto runs every registered dezoomer in priority order and returns the
// first to succeed. A Fatal from any candidate stops the probe immediately
// (spec §4.8: Fatal -> stop, report) rather than letting a lower-priority
// dezoomer keep trying. If no candidate succeeds and none was Fatal, it
// returns the most informative error (highest-ranked ErrorKind, ties broken
// by registration order).
func (r *Registry) ProbeAuto(ctx context.Context, in Input, fetch Fetcher) (ZoomableImage, error) {
	var errs []*DezoomerError
	for _, d := range r.order {
		img, de := probeLoop(ctx, d, in, fetch)
		if de == nil {
			return img, nil
		}
		if de.Kind == KindFatal {
			return ZoomableImage{}, de
		}
		errs = append(errs, de)
	}
	return ZoomableImage{}, mostInformative(errs)
}
