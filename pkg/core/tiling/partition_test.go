// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"
	"testing"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name            string
		rows, cols      int
		split           distributed.Split
		extents         []int
		tilesPerProcess int

		wantRowSizes, wantColSizes []int
		wantPerProcess             []int
		wantLastDiag               int
	}{
		{
			name: "tall, rows split, extra tile", rows: 100, cols: 10, split: distributed.SplitRows,
			extents: []int{25, 25, 25, 25}, tilesPerProcess: 2,
			wantRowSizes:   []int{5, 5, 15, 13, 12, 13, 12, 13, 12},
			wantColSizes:   []int{5, 5},
			wantPerProcess: []int{3, 2, 2, 2},
			wantLastDiag:   0,
		},
		{
			name: "tall, rows split, merged excess", rows: 12, cols: 4, split: distributed.SplitRows,
			extents: []int{6, 6}, tilesPerProcess: 2,
			wantRowSizes:   []int{2, 4, 3, 3},
			wantColSizes:   []int{2, 2},
			wantPerProcess: []int{2, 2},
		},
		{
			name: "square", rows: 16, cols: 16, split: distributed.SplitRows,
			extents: []int{4, 4, 4, 4}, tilesPerProcess: 2,
			wantRowSizes:   []int{2, 2, 2, 2, 2, 2, 2, 2},
			wantColSizes:   []int{2, 2, 2, 2, 2, 2, 2, 2},
			wantPerProcess: []int{2, 2, 2, 2},
			wantLastDiag:   3,
		},
		{
			name: "square, small last diagonal process", rows: 8, cols: 8, split: distributed.SplitCols,
			extents: []int{2, 2, 2, 2}, tilesPerProcess: 2,
			wantRowSizes:   []int{1, 1, 1, 1, 1, 1, 2},
			wantColSizes:   []int{1, 1, 1, 1, 1, 1, 2},
			wantPerProcess: []int{2, 2, 2, 1},
			wantLastDiag:   3,
		},
		{
			name: "wide, rows split", rows: 6, cols: 20, split: distributed.SplitRows,
			extents: []int{2, 2, 2}, tilesPerProcess: 2,
			wantRowSizes:   []int{1, 1, 1, 1, 2},
			wantColSizes:   []int{1, 1, 1, 1, 16},
			wantPerProcess: []int{2, 2, 1},
			wantLastDiag:   2,
		},
		{
			name: "wide, columns split", rows: 10, cols: 40, split: distributed.SplitCols,
			extents: []int{10, 10, 10, 10}, tilesPerProcess: 2,
			wantRowSizes:   []int{5, 5},
			wantColSizes:   []int{5, 5, 10, 10, 10},
			wantPerProcess: []int{2, 1, 1, 1},
		},
		{
			name: "wide, columns split, extra column tile", rows: 8, cols: 20, split: distributed.SplitCols,
			extents: []int{10, 10}, tilesPerProcess: 2,
			wantRowSizes:   []int{4, 4},
			wantColSizes:   []int{4, 4, 2, 10},
			wantPerProcess: []int{3, 1},
		},
		{
			name: "tall, columns split, extra row tile", rows: 40, cols: 8, split: distributed.SplitCols,
			extents: []int{4, 4}, tilesPerProcess: 2,
			wantRowSizes:   []int{2, 2, 2, 2, 32},
			wantColSizes:   []int{2, 2, 2, 2},
			wantPerProcess: []int{2, 2},
			wantLastDiag:   1,
		},
		{
			name: "tall, columns split, merged rows", rows: 15, cols: 8, split: distributed.SplitCols,
			extents: []int{4, 4}, tilesPerProcess: 2,
			wantRowSizes:   []int{2, 2, 2, 9},
			wantColSizes:   []int{2, 2, 2, 2},
			wantPerProcess: []int{2, 2},
			wantLastDiag:   1,
		},
		{
			name: "empty process", rows: 2, cols: 5, split: distributed.SplitRows,
			extents: []int{1, 1, 0}, tilesPerProcess: 2,
			wantRowSizes:   []int{1, 1},
			wantColSizes:   []int{1, 4},
			wantPerProcess: []int{1, 1, 0},
			wantLastDiag:   1,
		},
		{
			name: "unsplit", rows: 5, cols: 5, split: distributed.NotSplit,
			extents: []int{5}, tilesPerProcess: 2,
			wantRowSizes:   []int{3, 2},
			wantColSizes:   []int{3, 2},
			wantPerProcess: []int{2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := partition(tt.rows, tt.cols, tt.split, tt.extents, tt.tilesPerProcess, cfg)
			assert.Equal(t, tt.wantRowSizes, l.rowSizes)
			assert.Equal(t, tt.wantColSizes, l.colSizes)
			assert.Equal(t, tt.wantPerProcess, l.perProcess)
			assert.Equal(t, tt.wantLastDiag, l.lastDiag)
		})
	}
}

func TestPartitionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExtraRowTiles = 4
	cfg.ExtraRowThreshold = 3
	l := partition(20, 8, distributed.SplitCols, []int{4, 4}, 2, cfg)
	assert.Equal(t, []int{2, 2, 2, 2, 3, 3, 3, 3}, l.rowSizes)

	// Extra row tiles are reduced while they would be smaller than MinTileSize.
	l = partition(13, 8, distributed.SplitCols, []int{4, 4}, 2, cfg)
	assert.Equal(t, []int{2, 2, 2, 2, 3, 2}, l.rowSizes)

	cfg = DefaultConfig()
	cfg.ExcessFraction = 0.1
	l = partition(12, 4, distributed.SplitRows, []int{6, 6}, 2, cfg)
	assert.Equal(t, []int{2, 2, 2, 3, 3}, l.rowSizes)
	assert.Equal(t, []int{3, 2}, l.perProcess)
}

// TestPartitionInvariants checks the structural properties of the grid over many shapes.
func TestPartitionInvariants(t *testing.T) {
	cfg := DefaultConfig()
	extents := []int{1, 3, 7, 10, 16, 25, 100}
	for _, rows := range extents {
		for _, cols := range extents {
			for numProcs := 1; numProcs <= 5; numProcs++ {
				for tilesPerProcess := 1; tilesPerProcess <= 3; tilesPerProcess++ {
					for _, split := range []distributed.Split{distributed.SplitRows, distributed.SplitCols} {
						name := fmt.Sprintf("%dx%d/P=%d/tpp=%d/%s", rows, cols, numProcs, tilesPerProcess, split)
						checkPartition(t, name, rows, cols, split, numProcs, tilesPerProcess, cfg)
					}
				}
			}
		}
	}
}

func checkPartition(t *testing.T, name string, rows, cols int, split distributed.Split, numProcs, tilesPerProcess int, cfg Config) {
	axis := split.Axis()
	global := [2]int{rows, cols}
	procExtents := distributed.ChunkSizes(global[axis], numProcs)
	l := partition(rows, cols, split, procExtents, tilesPerProcess, cfg)

	// Exact cover, no empty tiles.
	require.Equal(t, rows, xslices.Sum(l.rowSizes), name)
	require.Equal(t, cols, xslices.Sum(l.colSizes), name)
	for _, size := range append(append([]int(nil), l.rowSizes...), l.colSizes...) {
		require.Positive(t, size, name)
	}

	// Every process owns exactly its data along the split axis.
	splitSizes := l.rowSizes
	otherSizes := l.colSizes
	if split == distributed.SplitCols {
		splitSizes, otherSizes = l.colSizes, l.rowSizes
	}
	require.Equal(t, len(splitSizes), xslices.Sum(l.perProcess), name)
	tile := 0
	for rank, count := range l.perProcess {
		require.Equal(t, procExtents[rank], xslices.Sum(splitSizes[tile:tile+count]), "%s: rank %d", name, rank)
		tile += count
	}

	// Within the square region both axes share the same boundaries, and processes after the last
	// diagonal one have no tile there.
	diag := min(rows, cols)
	splitStarts := xslices.Starts(splitSizes)
	otherStarts := xslices.Starts(otherSizes)
	var splitDiag, otherDiag []int
	for _, s := range splitStarts[:len(splitSizes)] {
		if s < diag {
			splitDiag = append(splitDiag, s)
		}
	}
	for _, s := range otherStarts[:len(otherSizes)] {
		if s < diag {
			otherDiag = append(otherDiag, s)
		}
	}
	require.Equal(t, splitDiag, otherDiag, name)
	firstAfter := xslices.Sum(l.perProcess[:l.lastDiag+1])
	if firstAfter < len(splitSizes) {
		require.GreaterOrEqual(t, splitStarts[firstAfter], diag, name)
	}
}

func TestTilesPerWindow(t *testing.T) {
	counts, err := tilesPerWindow([]int{1, 1, 10}, []int{2, 10})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, counts)

	counts, err = tilesPerWindow([]int{4, 4}, []int{0, 8, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 0}, counts)

	_, err = tilesPerWindow([]int{1, 1, 10}, []int{3, 9})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLastDiagonalProcess(t *testing.T) {
	assert.Equal(t, 1, lastDiagonalProcess([]int{2, 2}, 4))
	assert.Equal(t, 0, lastDiagonalProcess([]int{8, 0}, 8))
	assert.Equal(t, 1, lastDiagonalProcess([]int{3, 3, 3}, 4))
	assert.Equal(t, 2, lastDiagonalProcess([]int{0, 0, 0}, 4))
}
