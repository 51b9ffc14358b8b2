// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/support/xslices"
)

// layout is the result of partitioning: tile extents along each axis, and the number of tiles each process owns
// along the split axis.
type layout struct {
	rowSizes, colSizes []int
	perProcess         []int
	lastDiag           int
}

// lastDiagonalProcess returns the lowest rank whose cumulative extent along the split axis reaches diag.
func lastDiagonalProcess(extents []int, diag int) int {
	for rank, total := range xslices.CumSum(extents) {
		if total >= diag {
			return rank
		}
	}
	return len(extents) - 1
}

// diagonalTileCount returns the number of tiles the diagonal part of the last diagonal process is cut into:
// it starts at tilesPerProcess and is reduced while the tiles would be smaller than cfg.MinTileSize.
func diagonalTileCount(extent, tilesPerProcess int, cfg Config) int {
	count := tilesPerProcess
	for count > 1 && extent < cfg.MinTileSize*count {
		count--
	}
	return count
}

// partition computes the tiles of a rows x cols matrix whose local extents along the split axis are given
// by extents, one per process.
//
// The square region [0, min(rows, cols)) is cut along the split axis into tilesPerProcess tiles per process,
// using the balanced chunking of the storage layer so tile boundaries line up with process boundaries. The same
// boundaries are used along the other axis, so the diagonal of the matrix crosses tiles corner to corner.
// Whatever lies past the square region only ever adds tiles below or to the right of it.
//
// An unsplit matrix is passed as NotSplit with a single extent: it is tiled as if split along the rows over
// a single process.
func partition(rows, cols int, split distributed.Split, extents []int, tilesPerProcess int, cfg Config) layout {
	axis := split.Axis()
	global := [2]int{rows, cols}
	splitExtent, otherExtent := global[axis], global[1-axis]
	diag := min(rows, cols)
	numProcs := len(extents)

	l := layout{
		perProcess: make([]int, numProcs),
		lastDiag:   lastDiagonalProcess(extents, diag),
	}

	// Tiles of the square region, along the split axis.
	var diagSizes []int
	start := 0
	for rank := 0; rank <= l.lastDiag; rank++ {
		portion := min(start+extents[rank], diag) - start
		start += extents[rank]
		if portion <= 0 {
			continue
		}
		count := min(tilesPerProcess, portion)
		if rank == l.lastDiag {
			count = diagonalTileCount(portion, tilesPerProcess, cfg)
		}
		diagSizes = append(diagSizes, distributed.ChunkSizes(portion, count)...)
		l.perProcess[rank] = count
	}
	splitSizes := diagSizes
	otherSizes := append([]int(nil), diagSizes...)

	// Past the square region along the split axis.
	if splitExtent > diag {
		excess := xslices.Sum(extents[:l.lastDiag+1]) - diag
		if split == distributed.SplitCols {
			// The rest of the last diagonal process's columns becomes one tile, and every
			// later process gets one tile spanning its columns.
			if excess > 0 {
				splitSizes = append(splitSizes, excess)
				l.perProcess[l.lastDiag]++
			}
			for rank := l.lastDiag + 1; rank < numProcs; rank++ {
				if extents[rank] > 0 {
					splitSizes = append(splitSizes, extents[rank])
					l.perProcess[rank] = 1
				}
			}
		} else {
			if excess > 0 {
				if float64(excess) > cfg.ExcessFraction*float64(extents[l.lastDiag]) {
					splitSizes = append(splitSizes, excess)
					l.perProcess[l.lastDiag]++
				} else {
					splitSizes[len(splitSizes)-1] += excess
				}
			}
			for rank := l.lastDiag + 1; rank < numProcs; rank++ {
				if extents[rank] == 0 {
					continue
				}
				count := min(tilesPerProcess, extents[rank])
				splitSizes = append(splitSizes, distributed.ChunkSizes(extents[rank], count)...)
				l.perProcess[rank] = count
			}
		}
	}

	// Past the square region along the other axis.
	if otherExtent > diag {
		excess := otherExtent - diag
		if split == distributed.SplitCols && excess > cfg.ExtraRowThreshold {
			count := cfg.ExtraRowTiles
			for count > 1 && excess < cfg.MinTileSize*count {
				count--
			}
			otherSizes = append(otherSizes, distributed.ChunkSizes(excess, count)...)
		} else {
			otherSizes[len(otherSizes)-1] += excess
		}
	}

	if split == distributed.SplitCols {
		l.rowSizes, l.colSizes = otherSizes, splitSizes
	} else {
		l.rowSizes, l.colSizes = splitSizes, otherSizes
	}
	return l
}
