// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"slices"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Match changes the tiling of t to line up with the tiling of target, so that block algorithms can work on the
// tiles of both matrices together (e.g. the Q and R of a QR factorization).
//
// Supported cases:
//
//   - Same split axis and same global shape: t takes target's boundaries and per-process counts.
//   - Same split axis, t square with side equal to target's extent along the split axis: both axes of t
//     take target's split-axis boundaries.
//   - Different split axes, both matrices square with the same shape: target's row structure becomes t's
//     column structure and vice versa.
//   - t split along the rows, target along the columns, same number of rows: t's tiles take target's row
//     boundaries if t is at least as wide as tall, target's column boundaries otherwise, and t's data is
//     redistributed so every process holds whole tiles. This is a blocking collective operation: every process
//     must call it.
//
// Anything else fails with ErrShapeMismatch. Matching unsplit matrices fails with ErrInvalidArgument.
func (t *Tiles) Match(target *Tiles) error {
	if target == nil {
		return errors.Wrap(ErrInvalidArgument, "Match: nil target")
	}
	split, targetSplit := t.matrix.Split(), target.matrix.Split()
	if !split.IsSplit() || !targetSplit.IsSplit() {
		return errors.Wrap(ErrInvalidArgument, "Match: both matrices must be split")
	}
	if t.matrix.Comm().Size() != target.matrix.Comm().Size() {
		return errors.Wrapf(ErrShapeMismatch, "Match: matrices distributed over %d and %d processes",
			t.matrix.Comm().Size(), target.matrix.Comm().Size())
	}
	rows, cols := t.matrix.Shape()
	targetRows, targetCols := target.matrix.Shape()
	sameShape := rows == targetRows && cols == targetCols
	axis := split.Axis()

	switch {
	case split == targetSplit:
		targetExtent := [2]int{targetRows, targetCols}[axis]
		if !sameShape && (rows != cols || rows != targetExtent) {
			break
		}
		if !slices.Equal(t.shapes.Extents(axis), target.shapes.Extents(axis)) {
			return errors.Wrapf(ErrShapeMismatch, "Match: local extents along axis %d differ: %v vs %v",
				axis, t.shapes.Extents(axis), target.shapes.Extents(axis))
		}
		perProcess := target.counts.PerProcess()
		if sameShape {
			t.setLayout(target.grid.RowSizes(), target.grid.ColSizes(), perProcess)
		} else {
			sizes := target.splitSizes()
			t.setLayout(sizes, slices.Clone(sizes), perProcess)
		}
		klog.V(1).Infof("Match: same split %s", split)
		return nil

	case sameShape && rows == cols:
		if !slices.Equal(t.shapes.Extents(axis), target.shapes.Extents(targetSplit.Axis())) {
			return errors.Wrapf(ErrShapeMismatch, "Match: local extents differ: %v vs %v",
				t.shapes.Extents(axis), target.shapes.Extents(targetSplit.Axis()))
		}
		t.setLayout(target.grid.ColSizes(), target.grid.RowSizes(), target.counts.PerProcess())
		klog.V(1).Infof("Match: transposed %s to %s", targetSplit, split)
		return nil

	case split == distributed.SplitRows && rows == targetRows:
		return t.matchRowsToColumns(target)
	}
	return errors.Wrapf(ErrShapeMismatch, "Match: cannot match a %dx%d %s matrix to a %dx%d %s matrix",
		rows, cols, split, targetRows, targetCols, targetSplit)
}

// splitSizes returns the tile extents along the split axis.
func (t *Tiles) splitSizes() []int {
	if t.matrix.Split() == distributed.SplitCols {
		return t.grid.ColSizes()
	}
	return t.grid.RowSizes()
}

// matchRowsToColumns matches a row-split t to a column-split target with the same number of rows.
//
// t's tile boundaries along both axes become target's row boundaries if t is square or wide, or target's column
// boundaries if t is tall, dropping those past t's extent on each axis. Process p then needs the rows of the tiles
// that line up with target's columns on p, so the data is redistributed: every process before target's last
// diagonal process gets as many rows as target has columns there, the last diagonal process gets the rest, and
// later processes get nothing.
func (t *Tiles) matchRowsToColumns(target *Tiles) error {
	rows, cols := t.matrix.Shape()
	comm := t.matrix.Comm()
	numProcs := comm.Size()

	source := target.grid.RowStarts()
	if rows > cols {
		source = target.grid.ColStarts()
	}
	rowStarts := boundariesBelow(source, rows)
	colStarts := boundariesBelow(source, cols)
	rowSizes := xslices.Diffs(rowStarts, rows)
	colSizes := xslices.Diffs(colStarts, cols)

	targetLastDiag := target.lastDiag
	newExtents := make([]int, numProcs)
	assigned := 0
	for rank := range targetLastDiag {
		newExtents[rank] = target.shapes[rank][1]
		assigned += newExtents[rank]
	}
	newExtents[targetLastDiag] = rows - assigned

	perProcess, err := tilesPerWindow(rowSizes, newExtents)
	if err != nil {
		return errors.WithMessagef(err, "Match: row tiles %v", rowStarts)
	}

	newShapes := make(ShapeMap, numProcs)
	for rank, extent := range newExtents {
		newShapes[rank] = [2]int{extent, cols}
	}
	if err = t.matrix.Redistribute(t.shapes, newShapes); err != nil {
		return err
	}
	t.shapes = newShapes
	t.setLayout(rowSizes, colSizes, perProcess)
	klog.V(1).Infof("Match: rank %d redistributed to %v rows per process", comm.Rank(), newExtents)
	return nil
}

// tilesPerWindow returns how many of the consecutive tiles of the given sizes fall in each of the consecutive
// windows of the given extents. Every window must end on a tile boundary.
func tilesPerWindow(tileSizes, windowExtents []int) ([]int, error) {
	ends := xslices.CumSum(tileSizes)
	counts := make([]int, len(windowExtents))
	windowStart := 0
	for idx, windowEnd := range xslices.CumSum(windowExtents) {
		if windowEnd > 0 && !slices.Contains(ends, windowEnd) {
			return nil, errors.Wrapf(ErrShapeMismatch, "window %d of %v ends at %d, inside a tile of sizes %v",
				idx, windowExtents, windowEnd, tileSizes)
		}
		for _, end := range ends {
			if end > windowStart && end <= windowEnd {
				counts[idx]++
			}
		}
		windowStart = windowEnd
	}
	return counts, nil
}

// boundariesBelow returns the tile starts lower than extent. The first start is always kept.
func boundariesBelow(starts []int, extent int) []int {
	out := []int{0}
	for _, start := range starts[1:] {
		if start < extent {
			out = append(out, start)
		}
	}
	return out
}
