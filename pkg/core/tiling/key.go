// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"

	"github.com/pkg/errors"
)

// Index selects tiles along one axis: either a single tile, or a half-open span of tiles whose ends may be open.
//
// Create it with At, Span, From, To or All.
type Index struct {
	span              bool
	start, stop       int
	hasStart, hasStop bool
}

// At selects the single tile i. Negative values count from the end.
func At(i int) Index {
	return Index{start: i, hasStart: true}
}

// Span selects the tiles [start, stop).
func Span(start, stop int) Index {
	return Index{span: true, start: start, stop: stop, hasStart: true, hasStop: true}
}

// From selects the tiles from start to the end.
func From(start int) Index {
	return Index{span: true, start: start, hasStart: true}
}

// To selects the tiles from the beginning up to stop (exclusive).
func To(stop int) Index {
	return Index{span: true, stop: stop, hasStop: true}
}

// All selects every tile.
func All() Index {
	return Index{span: true}
}

// IsSpan returns whether the index selects a span (as opposed to a single tile).
func (idx Index) IsSpan() bool {
	return idx.span
}

// String implements fmt.Stringer, using Python-like slice notation.
func (idx Index) String() string {
	if !idx.span {
		return fmt.Sprintf("%d", idx.start)
	}
	var start, stop string
	if idx.hasStart {
		start = fmt.Sprintf("%d", idx.start)
	}
	if idx.hasStop {
		stop = fmt.Sprintf("%d", idx.stop)
	}
	return start + ":" + stop
}

// resolve returns the selected half-open range of tiles, given n tiles along the axis.
// Stops past the end are clamped, like Python slices.
func (idx Index) resolve(n int) (lo, hi int, err error) {
	if !idx.span {
		i := idx.start
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return 0, 0, errors.Wrapf(ErrInvalidArgument, "tile index %d out of range for %d tiles", idx.start, n)
		}
		return i, i + 1, nil
	}
	lo, hi = 0, n
	if idx.hasStart {
		lo = idx.start
	}
	if idx.hasStop {
		hi = min(idx.stop, n)
	}
	if lo < 0 || lo >= hi {
		return 0, 0, errors.Wrapf(ErrInvalidArgument, "empty or invalid tile span %s for %d tiles", idx, n)
	}
	return lo, hi, nil
}

// Key selects a rectangular range of tiles.
type Key struct {
	Row, Col Index
}

// Tile returns the key of the single tile (row, col).
func Tile(row, col int) Key {
	return Key{Row: At(row), Col: At(col)}
}

// RowOf returns the key of every tile in tile row.
func RowOf(row int) Key {
	return Key{Row: At(row), Col: All()}
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("[%s, %s]", k.Row, k.Col)
}

// at returns the index along the given axis.
func (k Key) at(axis int) Index {
	if axis == 1 {
		return k.Col
	}
	return k.Row
}

// with returns a copy of the key with the index along axis replaced.
func (k Key) with(axis int, idx Index) Key {
	if axis == 1 {
		k.Col = idx
	} else {
		k.Row = idx
	}
	return k
}

// selection is a Key resolved against a Grid: half-open tile ranges along each axis.
type selection struct {
	rowLo, rowHi int
	colLo, colHi int
}
