// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// resolve converts key into tile ranges and the rank that owns all of them.
func (t *Tiles) resolve(key Key) (sel selection, owner int, err error) {
	sel.rowLo, sel.rowHi, err = key.Row.resolve(t.grid.NumRows())
	if err != nil {
		return sel, 0, errors.WithMessagef(err, "row of key %s", key)
	}
	sel.colLo, sel.colHi, err = key.Col.resolve(t.grid.NumCols())
	if err != nil {
		return sel, 0, errors.WithMessagef(err, "column of key %s", key)
	}
	owner = t.grid.Owner(sel.rowLo, sel.colLo)
	lastOwner := t.grid.Owner(sel.rowHi-1, sel.colHi-1)
	if owner != lastOwner {
		return sel, 0, errors.Wrapf(ErrCrossProcessSlice, "key %s selects tiles of ranks %d to %d",
			key, owner, lastOwner)
	}
	return sel, owner, nil
}

// globalBounds returns the element ranges of a selection, in global coordinates.
func (t *Tiles) globalBounds(sel selection) (rowStart, rowStop, colStart, colStop int) {
	return t.grid.RowStart(sel.rowLo), t.grid.RowStop(sel.rowHi - 1),
		t.grid.ColStart(sel.colLo), t.grid.ColStop(sel.colHi - 1)
}

// localBounds returns the element ranges of a selection in the local block of its owner.
func (t *Tiles) localBounds(sel selection, owner int) (rowStart, rowStop, colStart, colStop int) {
	rowStart, rowStop, colStart, colStop = t.globalBounds(sel)
	split := t.matrix.Split()
	if !split.IsSplit() {
		return
	}
	first := t.counts.Offset(owner)
	if split.Axis() == 0 {
		offset := t.grid.RowStart(first)
		rowStart, rowStop = rowStart-offset, rowStop-offset
	} else {
		offset := t.grid.ColStart(first)
		colStart, colStop = colStart-offset, colStop-offset
	}
	return
}

// Bounds returns the element ranges selected by key, in the coordinates of the owning process's local block.
//
// It fails with ErrCrossProcessSlice if key selects tiles of more than one process.
func (t *Tiles) Bounds(key Key) (rowStart, rowStop, colStart, colStop int, err error) {
	sel, owner, err := t.resolve(key)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	rowStart, rowStop, colStart, colStop = t.localBounds(sel, owner)
	return
}

// GlobalBounds returns the element ranges selected by key, in global coordinates.
func (t *Tiles) GlobalBounds(key Key) (rowStart, rowStop, colStart, colStop int, err error) {
	sel, _, err := t.resolve(key)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	rowStart, rowStop, colStart, colStop = t.globalBounds(sel)
	return
}

// Owner returns the rank that holds the tiles selected by key.
func (t *Tiles) Owner(key Key) (int, error) {
	_, owner, err := t.resolve(key)
	return owner, err
}

// Shape returns the number of elements selected by key along each axis.
func (t *Tiles) Shape(key Key) (rows, cols int, err error) {
	sel, _, err := t.resolve(key)
	if err != nil {
		return 0, 0, err
	}
	rowStart, rowStop, colStart, colStop := t.globalBounds(sel)
	return rowStop - rowStart, colStop - colStart, nil
}

// holds returns whether the calling process holds the data of tiles owned by owner.
func (t *Tiles) holds(owner int) bool {
	return !t.matrix.Split().IsSplit() || owner == t.matrix.Comm().Rank()
}

// view returns the view of the calling process's local block for the selection.
func (t *Tiles) view(sel selection, owner int) *mat.Dense {
	rowStart, rowStop, colStart, colStop := t.localBounds(sel, owner)
	return t.matrix.Local().Slice(rowStart, rowStop, colStart, colStop).(*mat.Dense)
}

// Get returns a view of the tiles selected by key. Changes to the view are changes to the matrix.
//
// If the calling process doesn't own the tiles, it returns ok=false and no error: only the owner can read them.
func (t *Tiles) Get(key Key) (view *mat.Dense, ok bool, err error) {
	sel, owner, err := t.resolve(key)
	if err != nil {
		return nil, false, err
	}
	if !t.holds(owner) {
		return nil, false, nil
	}
	return t.view(sel, owner), true, nil
}

// Set copies value into the tiles selected by key.
//
// It is a no-op if the calling process doesn't own the tiles: callers should check Owner first.
// It fails with ErrShapeMismatch if value doesn't have the shape of the selection.
func (t *Tiles) Set(key Key, value mat.Matrix) error {
	sel, owner, err := t.resolve(key)
	if err != nil {
		return err
	}
	if !t.holds(owner) {
		return nil
	}
	view := t.view(sel, owner)
	rows, cols := view.Dims()
	valueRows, valueCols := value.Dims()
	if rows != valueRows || cols != valueCols {
		return errors.Wrapf(ErrShapeMismatch, "Set(%s): selection is %dx%d, value is %dx%d",
			key, rows, cols, valueRows, valueCols)
	}
	view.Copy(value)
	return nil
}

// Fill sets every element of the tiles selected by key to v. Like Set, it is a no-op on other processes.
func (t *Tiles) Fill(key Key, v float64) error {
	view, ok, err := t.Get(key)
	if err != nil || !ok {
		return err
	}
	rows, cols := view.Dims()
	for i := range rows {
		for j := range cols {
			view.Set(i, j, v)
		}
	}
	return nil
}

// LocalToGlobal converts a key expressed relative to rank's own tiles (its first tile along the split axis
// being 0) into a key of the whole grid.
//
// Along the split axis the tile count of the preceding processes is added; span stops are clamped to the
// rank's last tile, and open ends map to its first and last tiles. The other axis is left as is, as is
// any key of an unsplit matrix.
func (t *Tiles) LocalToGlobal(key Key, rank int) (Key, error) {
	split := t.matrix.Split()
	if rank < 0 || rank >= t.matrix.Comm().Size() {
		return key, errors.Wrapf(ErrInvalidArgument, "LocalToGlobal: invalid rank %d", rank)
	}
	if !split.IsSplit() {
		return key, nil
	}
	axis := split.Axis()
	prev := t.counts.Offset(rank)
	local := t.counts.PerProcess()[rank]
	idx := key.at(axis)
	if !idx.span {
		i := idx.start
		if i < 0 {
			i += local
		}
		return key.with(axis, At(prev+i)), nil
	}
	start, stop := prev, prev+local
	if idx.hasStart {
		start = prev + idx.start
	}
	if idx.hasStop {
		stop = min(prev+idx.stop, prev+local)
	}
	return key.with(axis, Span(start, stop)), nil
}

// LocalGet is Get with a key relative to the calling process's own tiles. See LocalToGlobal.
func (t *Tiles) LocalGet(key Key) (view *mat.Dense, ok bool, err error) {
	global, err := t.LocalToGlobal(key, t.matrix.Comm().Rank())
	if err != nil {
		return nil, false, err
	}
	return t.Get(global)
}

// LocalSet is Set with a key relative to the calling process's own tiles. See LocalToGlobal.
func (t *Tiles) LocalSet(key Key, value mat.Matrix) error {
	global, err := t.LocalToGlobal(key, t.matrix.Comm().Rank())
	if err != nil {
		return err
	}
	return t.Set(global, value)
}
