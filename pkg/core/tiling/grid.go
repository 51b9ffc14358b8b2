// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/support/xslices"
)

// TileDesc describes one cell of a Grid.
type TileDesc struct {
	RowStart, ColStart int
	Owner              int
}

// Grid is the immutable tile grid of a matrix: row and column boundaries plus the owner of every tile.
//
// Boundaries are strictly increasing global indices starting at 0, with an implicit final boundary at the
// global extent. Ownership only depends on the position along the split axis.
type Grid struct {
	rows, cols int
	split      distributed.Split

	// rowStarts and colStarts have one extra element at the end, holding the global extent.
	rowStarts, colStarts []int

	// owners is indexed by the tile position along the split axis.
	owners []int
}

// newGrid creates a grid from the tile extents along each axis and the number of tiles each process owns
// along the split axis. For an unsplit matrix perProcess must hold a single entry.
func newGrid(rows, cols int, split distributed.Split, rowSizes, colSizes, perProcess []int) Grid {
	g := Grid{
		rows:      rows,
		cols:      cols,
		split:     split,
		rowStarts: xslices.Starts(rowSizes),
		colStarts: xslices.Starts(colSizes),
	}
	numSplit := len(rowSizes)
	if split == distributed.SplitCols {
		numSplit = len(colSizes)
	}
	g.owners = make([]int, 0, numSplit)
	for rank, count := range perProcess {
		for range count {
			g.owners = append(g.owners, rank)
		}
	}
	return g
}

// Shape returns the global shape of the matrix.
func (g Grid) Shape() (rows, cols int) {
	return g.rows, g.cols
}

// Split returns the split of the matrix the grid was built for.
func (g Grid) Split() distributed.Split {
	return g.split
}

// NumRows returns the number of tile rows.
func (g Grid) NumRows() int {
	return len(g.rowStarts) - 1
}

// NumCols returns the number of tile columns.
func (g Grid) NumCols() int {
	return len(g.colStarts) - 1
}

// RowStart returns the first global row of tile row r.
func (g Grid) RowStart(r int) int { return g.rowStarts[r] }

// RowStop returns the global row after the last one of tile row r.
func (g Grid) RowStop(r int) int { return g.rowStarts[r+1] }

// ColStart returns the first global column of tile column c.
func (g Grid) ColStart(c int) int { return g.colStarts[c] }

// ColStop returns the global column after the last one of tile column c.
func (g Grid) ColStop(c int) int { return g.colStarts[c+1] }

// RowStarts returns a copy of the row boundaries, without the final one.
func (g Grid) RowStarts() []int {
	return slices.Clone(g.rowStarts[:g.NumRows()])
}

// ColStarts returns a copy of the column boundaries, without the final one.
func (g Grid) ColStarts() []int {
	return slices.Clone(g.colStarts[:g.NumCols()])
}

// RowSizes returns the extent of every tile row.
func (g Grid) RowSizes() []int {
	return xslices.Diffs(g.rowStarts[:g.NumRows()], g.rows)
}

// ColSizes returns the extent of every tile column.
func (g Grid) ColSizes() []int {
	return xslices.Diffs(g.colStarts[:g.NumCols()], g.cols)
}

// Owner returns the rank that holds tile (r, c).
func (g Grid) Owner(r, c int) int {
	if g.split == distributed.SplitCols {
		return g.owners[c]
	}
	return g.owners[r]
}

// Cell returns the description of tile (r, c).
func (g Grid) Cell(r, c int) TileDesc {
	return TileDesc{RowStart: g.rowStarts[r], ColStart: g.colStarts[c], Owner: g.Owner(r, c)}
}

// String implements fmt.Stringer. It prints the owner of every tile, one line per tile row.
func (g Grid) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Grid(%dx%d, %s, %dx%d tiles)\n", g.rows, g.cols, g.split, g.NumRows(), g.NumCols())
	for r := range g.NumRows() {
		_, _ = fmt.Fprintf(&sb, "  %4d:", g.rowStarts[r])
		for c := range g.NumCols() {
			_, _ = fmt.Fprintf(&sb, " %d", g.Owner(r, c))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Counts holds the number of tiles of every process along each axis.
//
// Along the split axis, entry p is the number of tiles process p owns. Along the other axis every process spans
// all tiles, so every entry is the total. Counts are rebuilt, never patched, whenever the grid changes.
type Counts struct {
	RowsPerProcess []int
	ColsPerProcess []int

	// Exclusive prefix sums of the split axis counts, with the total at the end.
	prefix []int
	split  distributed.Split
}

// newCounts creates the counts from the per-process counts along the split axis.
// For an unsplit matrix every process spans every tile.
func newCounts(g Grid, split distributed.Split, perProcess []int, numProcs int) Counts {
	c := Counts{split: split}
	if !split.IsSplit() {
		c.RowsPerProcess = xslices.SliceWithValue(numProcs, g.NumRows())
		c.ColsPerProcess = xslices.SliceWithValue(numProcs, g.NumCols())
		c.prefix = make([]int, numProcs+1)
		return c
	}
	perProcess = slices.Clone(perProcess)
	if split == distributed.SplitRows {
		c.RowsPerProcess = perProcess
		c.ColsPerProcess = xslices.SliceWithValue(numProcs, g.NumCols())
	} else {
		c.ColsPerProcess = perProcess
		c.RowsPerProcess = xslices.SliceWithValue(numProcs, g.NumRows())
	}
	c.prefix = xslices.Starts(perProcess)
	return c
}

// PerProcess returns the per-process counts along the split axis (or the row counts, for an unsplit matrix).
func (c Counts) PerProcess() []int {
	if c.split == distributed.SplitCols {
		return c.ColsPerProcess
	}
	return c.RowsPerProcess
}

// Offset returns the number of tiles along the split axis owned by the processes before rank.
// It is 0 for an unsplit matrix.
func (c Counts) Offset(rank int) int {
	return c.prefix[rank]
}
