package dezoomer

import "fmt"

// SelectionFilter narrows the candidate zoom levels per spec §4.3.
type SelectionFilter struct {
	Largest bool
	MaxW    uint32 // 0 means unbounded
	MaxH    uint32 // 0 means unbounded
}

// ErrAmbiguousLevel is returned when more than one level survives a
// max-width/max-height bound and Largest is not set; with no bound at all,
// Select picks the largest level instead. Interactive callers (the CLI)
// catch this and prompt — that prompt is an external collaborator, out of
// scope here.
type ErrAmbiguousLevel struct {
	Levels []ZoomLevel
}

func (e *ErrAmbiguousLevel) Error() string {
	return fmt.Sprintf("ambiguous zoom level: %d candidates remain after filtering", len(e.Levels))
}

// Select applies the filter and picks one level, per spec §4.3: discard
// levels exceeding MaxW/MaxH, then among survivors pick the greatest
// width*height if Largest is set or the filter is trivial (both bounds
// zero). Only a bound without Largest can leave several survivors
// undecided, which yields ErrAmbiguousLevel.
func Select(levels []ZoomLevel, filter SelectionFilter) (ZoomLevel, error) {
	if len(levels) == 0 {
		return nil, NoLevelsFound()
	}

	survivors := make([]ZoomLevel, 0, len(levels))
	for _, lvl := range levels {
		dim := lvl.Dimensions()
		if filter.MaxW > 0 && dim.Known() && dim.Width > filter.MaxW {
			continue
		}
		if filter.MaxH > 0 && dim.Known() && dim.Height > filter.MaxH {
			continue
		}
		survivors = append(survivors, lvl)
	}
	if len(survivors) == 0 {
		return nil, NoLevelsFound()
	}
	if len(survivors) == 1 {
		return survivors[0], nil
	}

	trivialFilter := filter.MaxW == 0 && filter.MaxH == 0
	if filter.Largest || trivialFilter {
		best := survivors[0]
		bestArea := area(best)
		for _, lvl := range survivors[1:] {
			if a := area(lvl); a > bestArea {
				best, bestArea = lvl, a
			}
		}
		return best, nil
	}

	return nil, &ErrAmbiguousLevel{Levels: survivors}
}

func area(lvl ZoomLevel) uint64 {
	d := lvl.Dimensions()
	return uint64(d.Width) * uint64(d.Height)
}
