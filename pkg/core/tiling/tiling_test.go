// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling_test

import (
	"testing"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/core/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// iota returns a rows x cols matrix whose element (i, j) is i*cols + j.
func iota(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(i)
	}
	return mat.NewDense(rows, cols, data)
}

// runTiled distributes global over numProcs in-process ranks, tiles it and calls fn on every rank.
func runTiled(t *testing.T, numProcs int, global *mat.Dense, split distributed.Split, tilesPerProcess int,
	fn func(comm distributed.Communicator, m *distributed.Matrix, tiles *tiling.Tiles) error) {
	t.Helper()
	group, err := distributed.NewLocalGroup(numProcs)
	require.NoError(t, err)
	err = group.Run(func(comm distributed.Communicator) error {
		m, err := distributed.Distribute(comm, global, split)
		if err != nil {
			return err
		}
		tiles, err := tiling.Build(m, tilesPerProcess)
		if err != nil {
			return err
		}
		return fn(comm, m, tiles)
	})
	require.NoError(t, err)
}

func TestBuild(t *testing.T) {
	t.Run("TallRowsSplit", func(t *testing.T) {
		runTiled(t, 4, iota(100, 10), distributed.SplitRows, 2,
			func(comm distributed.Communicator, m *distributed.Matrix, tiles *tiling.Tiles) error {
				assert.Equal(t, []int{0, 5, 10, 25, 38, 50, 63, 75, 88}, tiles.RowBoundaries())
				assert.Equal(t, []int{0, 5}, tiles.ColBoundaries())
				assert.Equal(t, []int{3, 2, 2, 2}, tiles.TileRowsPerProcess())
				assert.Equal(t, []int{2, 2, 2, 2}, tiles.TileColsPerProcess())
				assert.Equal(t, 0, tiles.LastDiagonalProcess())
				assert.Equal(t, 9, tiles.NumTileRows())
				assert.Equal(t, 2, tiles.NumTileCols())

				wantOwners := []int{0, 0, 0, 1, 1, 2, 2, 3, 3}
				grid := tiles.Grid()
				for r, want := range wantOwners {
					for c := range grid.NumCols() {
						owner, err := tiles.Owner(tiling.Tile(r, c))
						require.NoError(t, err)
						assert.Equal(t, want, owner)
						assert.Equal(t, want, grid.Cell(r, c).Owner)
					}
				}

				// Rows past the diagonal only start after the square region.
				for r := 2; r < tiles.NumTileRows(); r++ {
					assert.GreaterOrEqual(t, grid.RowStart(r), 10)
				}
				return nil
			})
	})

	t.Run("SquareNoRemainder", func(t *testing.T) {
		for _, split := range []distributed.Split{distributed.SplitRows, distributed.SplitCols} {
			runTiled(t, 4, iota(16, 16), split, 2,
				func(comm distributed.Communicator, m *distributed.Matrix, tiles *tiling.Tiles) error {
					assert.Equal(t, 8, tiles.NumTileRows())
					assert.Equal(t, 8, tiles.NumTileCols())
					assert.Equal(t, tiles.RowBoundaries(), tiles.ColBoundaries())
					assert.Equal(t, 3, tiles.LastDiagonalProcess())
					return nil
				})
		}
	})

	t.Run("SingleProcess", func(t *testing.T) {
		runTiled(t, 1, iota(7, 5), distributed.SplitRows, 2,
			func(comm distributed.Communicator, m *distributed.Matrix, tiles *tiling.Tiles) error {
				assert.Equal(t, []int{0, 3}, tiles.RowBoundaries())
				grid := tiles.Grid()
				for r := range grid.NumRows() {
					for c := range grid.NumCols() {
						assert.Equal(t, 0, grid.Owner(r, c))
					}
				}
				return nil
			})
	})

	t.Run("Unsplit", func(t *testing.T) {
		global := iota(5, 5)
		runTiled(t, 2, global, distributed.NotSplit, 2,
			func(comm distributed.Communicator, m *distributed.Matrix, tiles *tiling.Tiles) error {
				assert.Equal(t, []int{0, 3}, tiles.RowBoundaries())
				assert.Equal(t, []int{2, 2}, tiles.TileRowsPerProcess())
				owner, err := tiles.Owner(tiling.Tile(1, 1))
				require.NoError(t, err)
				assert.Equal(t, 0, owner)

				// Every process holds a replica, so every process can read every tile.
				view, ok, err := tiles.Get(tiling.Tile(1, 1))
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, global.At(3, 3), view.At(0, 0))
				return nil
			})
	})

	t.Run("PrecomputedShapeMap", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(2)
		require.NoError(t, err)
		err = group.Run(func(comm distributed.Communicator) error {
			m, err := distributed.Distribute(comm, iota(12, 4), distributed.SplitRows)
			if err != nil {
				return err
			}
			cfg := tiling.DefaultConfig()
			cfg.ExcessFraction = 0.1
			tiles, err := tiling.NewBuilder(m).
				ShapeMap(tiling.ShapeMap{{6, 4}, {6, 4}}).
				TilesPerProcess(2).
				Config(cfg).
				Done()
			if err != nil {
				return err
			}
			assert.Equal(t, []int{0, 2, 4, 6, 9}, tiles.RowBoundaries())
			assert.Equal(t, tiling.ShapeMap{{6, 4}, {6, 4}}, tiles.ShapeMap())
			assert.Equal(t, 2, tiles.TilesPerProcess())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(2)
		require.NoError(t, err)
		err = group.Run(func(comm distributed.Communicator) error {
			_, err := tiling.Build(nil, 2)
			assert.ErrorIs(t, err, tiling.ErrInvalidArgument)

			m, err := distributed.Distribute(comm, iota(6, 6), distributed.SplitRows)
			if err != nil {
				return err
			}
			_, err = tiling.Build(m, 0)
			assert.ErrorIs(t, err, tiling.ErrInvalidArgument)

			_, err = tiling.NewBuilder(m).ShapeMap(tiling.ShapeMap{{3, 6}, {2, 6}}).Done()
			assert.ErrorIs(t, err, tiling.ErrInvalidArgument)

			cfg := tiling.DefaultConfig()
			cfg.MinTileSize = 0
			_, err = tiling.NewBuilder(m).Config(cfg).ShapeMap(tiling.ShapeMap{{3, 6}, {3, 6}}).Done()
			assert.ErrorIs(t, err, tiling.ErrInvalidArgument)

			empty, err := distributed.NewMatrix(comm, 0, 6, distributed.SplitRows, nil)
			if err != nil {
				return err
			}
			_, err = tiling.Build(empty, 2)
			assert.ErrorIs(t, err, tiling.ErrInvalidArgument)
			return nil
		})
		require.NoError(t, err)
	})
}

// TestOwnedExtents checks that the tiles owned by each process add up to its local block.
func TestOwnedExtents(t *testing.T) {
	for _, split := range []distributed.Split{distributed.SplitRows, distributed.SplitCols} {
		t.Run(split.String(), func(t *testing.T) {
			runTiled(t, 3, iota(23, 9), split, 2,
				func(comm distributed.Communicator, m *distributed.Matrix, tiles *tiling.Tiles) error {
					shapes := tiles.ShapeMap()
					owned := make([][2]int, comm.Size())
					grid := tiles.Grid()
					axis := split.Axis()
					n := []int{grid.NumRows(), grid.NumCols()}[axis]
					for i := range n {
						key := tiling.Tile(i, 0)
						if axis == 1 {
							key = tiling.Tile(0, i)
						}
						owner, err := tiles.Owner(key)
						require.NoError(t, err)
						rows, cols, err := tiles.Shape(key)
						require.NoError(t, err)
						owned[owner][axis] += []int{rows, cols}[axis]
					}
					for rank := range owned {
						assert.Equal(t, shapes[rank][axis], owned[rank][axis], "rank %d", rank)
					}
					return nil
				})
		})
	}
}
