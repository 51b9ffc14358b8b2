// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling cuts a distributed 2-D matrix into a grid of tiles aligned with its diagonal.
//
// The matrix is split along one axis across processes (see distributed.Matrix). The tile grid is built so that
// tile boundaries along the split axis line up with process boundaries, and the same boundaries are used along
// the other axis within the square region of the matrix, so the diagonal crosses tiles corner to corner. This is
// the layout block factorization algorithms (e.g. QR) work on.
//
// Tiles are accessed with a Key (see Tile, RowOf, At, Span), and only the process that owns a tile can
// read or write it: Tiles never communicates, except when it is built and when it is re-matched.
//
// Example:
//
//	tiles, err := tiling.NewBuilder(m).TilesPerProcess(2).Done()
//	...
//	view, ok, err := tiles.Get(tiling.Tile(1, 1))
//	if ok {
//		// This process owns tile (1, 1): view aliases its local block.
//	}
package tiling

import (
	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultTilesPerProcess is the number of tiles along the split axis each process gets, if not configured.
const DefaultTilesPerProcess = 2

// Tiles is the tiling of one distributed matrix, as seen by the calling process.
//
// It holds a reference to the matrix: tile views alias its local block.
type Tiles struct {
	matrix *distributed.Matrix
	shapes ShapeMap

	grid   Grid
	counts Counts

	lastDiag        int
	tilesPerProcess int
	cfg             Config
}

// Builder configures the construction of Tiles. Create it with NewBuilder, and finish with Done.
type Builder struct {
	matrix          *distributed.Matrix
	tilesPerProcess int
	shapes          ShapeMap
	cfg             Config
}

// NewBuilder returns a builder for the tiling of m.
func NewBuilder(m *distributed.Matrix) *Builder {
	return &Builder{
		matrix:          m,
		tilesPerProcess: DefaultTilesPerProcess,
		cfg:             DefaultConfig(),
	}
}

// TilesPerProcess sets the number of tiles along the split axis each process gets in the square region
// of the matrix. It must be >= 1. Default is DefaultTilesPerProcess.
func (b *Builder) TilesPerProcess(n int) *Builder {
	b.tilesPerProcess = n
	return b
}

// ShapeMap sets a precomputed shape map. If not set, Done gathers it with a collective operation.
func (b *Builder) ShapeMap(shapes ShapeMap) *Builder {
	b.shapes = shapes
	return b
}

// Config sets the partitioner's tuning constants. Default is DefaultConfig().
func (b *Builder) Config(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// Done builds the tiling.
//
// Unless a ShapeMap was given, this is a blocking collective operation: every process must call it.
func (b *Builder) Done() (*Tiles, error) {
	m := b.matrix
	if m == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "tiling: nil matrix")
	}
	rows, cols := m.Shape()
	if rows <= 0 || cols <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "tiling: empty %dx%d matrix", rows, cols)
	}
	if b.tilesPerProcess < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "tiling: tiles per process must be >= 1, got %d", b.tilesPerProcess)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	shapes := b.shapes
	if shapes == nil {
		if m.Split().IsSplit() {
			var err error
			shapes, err = GatherShapeMap(m)
			if err != nil {
				return nil, err
			}
		} else {
			shapes = replicatedShapeMap(m)
		}
	} else {
		if err := validateShapeMap(m, shapes); err != nil {
			return nil, err
		}
		shapes = shapes.Clone()
	}
	t := &Tiles{
		matrix:          m,
		shapes:          shapes,
		tilesPerProcess: b.tilesPerProcess,
		cfg:             b.cfg,
	}
	t.build()
	return t, nil
}

// Build is a shortcut for NewBuilder(m).TilesPerProcess(tilesPerProcess).Done().
func Build(m *distributed.Matrix, tilesPerProcess int) (*Tiles, error) {
	return NewBuilder(m).TilesPerProcess(tilesPerProcess).Done()
}

// build runs the partitioner and sets the grid and counts.
func (t *Tiles) build() {
	rows, cols := t.matrix.Shape()
	split := t.matrix.Split()
	extents := []int{rows}
	if split.IsSplit() {
		extents = t.shapes.Extents(split.Axis())
	}
	l := partition(rows, cols, split, extents, t.tilesPerProcess, t.cfg)
	t.setLayout(l.rowSizes, l.colSizes, l.perProcess)
}

// setLayout replaces the grid and the counts, and recomputes the last diagonal process.
func (t *Tiles) setLayout(rowSizes, colSizes, perProcess []int) {
	rows, cols := t.matrix.Shape()
	split := t.matrix.Split()
	t.grid = newGrid(rows, cols, split, rowSizes, colSizes, perProcess)
	t.counts = newCounts(t.grid, split, perProcess, t.matrix.Comm().Size())
	t.lastDiag = 0
	if split.IsSplit() {
		t.lastDiag = lastDiagonalProcess(t.shapes.Extents(split.Axis()), min(rows, cols))
	}
	if klog.V(1).Enabled() {
		klog.Infof("tiling: rank %d, last diagonal process %d, tiles per process %v, %s",
			t.matrix.Comm().Rank(), t.lastDiag, t.counts.PerProcess(), t.grid)
	}
}

// Matrix returns the matrix being tiled.
func (t *Tiles) Matrix() *distributed.Matrix {
	return t.matrix
}

// SetMatrix replaces the matrix being tiled, e.g. after its data was redistributed outside of Tiles.
// The new matrix must have the same global shape and split, and a local shape matching the tiling's shape map.
func (t *Tiles) SetMatrix(m *distributed.Matrix) error {
	if m == nil {
		return errors.Wrap(ErrInvalidArgument, "SetMatrix: nil matrix")
	}
	rows, cols := m.Shape()
	oldRows, oldCols := t.matrix.Shape()
	if rows != oldRows || cols != oldCols || m.Split() != t.matrix.Split() {
		return errors.Wrapf(ErrShapeMismatch, "SetMatrix: %dx%d %s matrix given for a tiling of a %dx%d %s matrix",
			rows, cols, m.Split(), oldRows, oldCols, t.matrix.Split())
	}
	if err := validateShapeMap(m, t.shapes); err != nil {
		return err
	}
	t.matrix = m
	return nil
}

// Grid returns the tile grid.
func (t *Tiles) Grid() Grid {
	return t.grid
}

// Counts returns the number of tiles of every process along each axis.
func (t *Tiles) Counts() Counts {
	return t.counts
}

// ShapeMap returns a copy of the local shape of every process.
func (t *Tiles) ShapeMap() ShapeMap {
	return t.shapes.Clone()
}

// LastDiagonalProcess returns the lowest rank whose data reaches the end of the matrix's square region along
// the split axis. It is 0 for an unsplit matrix.
func (t *Tiles) LastDiagonalProcess() int {
	return t.lastDiag
}

// TilesPerProcess returns the number of tiles per process the tiling was built with.
func (t *Tiles) TilesPerProcess() int {
	return t.tilesPerProcess
}

// RowBoundaries returns the global index of the first row of every tile row.
func (t *Tiles) RowBoundaries() []int {
	return t.grid.RowStarts()
}

// ColBoundaries returns the global index of the first column of every tile column.
func (t *Tiles) ColBoundaries() []int {
	return t.grid.ColStarts()
}

// NumTileRows returns the number of tile rows.
func (t *Tiles) NumTileRows() int {
	return t.grid.NumRows()
}

// NumTileCols returns the number of tile columns.
func (t *Tiles) NumTileCols() int {
	return t.grid.NumCols()
}

// TileRowsPerProcess returns the number of tile rows of every process: the tiles it owns if the matrix is split
// along the rows, otherwise the total.
func (t *Tiles) TileRowsPerProcess() []int {
	return append([]int(nil), t.counts.RowsPerProcess...)
}

// TileColsPerProcess is the column version of TileRowsPerProcess.
func (t *Tiles) TileColsPerProcess() []int {
	return append([]int(nil), t.counts.ColsPerProcess...)
}
