// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

// Chunk returns the offset and length of the part of an axis of size extent assigned to rank, when
// the axis is split as evenly as possible across worldSize processes.
//
// The first extent%worldSize ranks get one extra element. This is the layout used for the local blocks of a
// Matrix, and by the tiling code to cut a process's rows (or columns) into tiles, so tile boundaries line up
// with process boundaries.
func Chunk(extent, rank, worldSize int) (offset, length int) {
	if worldSize <= 0 || extent <= 0 {
		return 0, 0
	}
	length = extent / worldSize
	remainder := extent % worldSize
	if rank < remainder {
		length++
		offset = rank * length
	} else {
		offset = rank*length + remainder
	}
	return
}

// ChunkSizes returns the length of every chunk of extent split across worldSize processes.
func ChunkSizes(extent, worldSize int) []int {
	sizes := make([]int, worldSize)
	for rank := range sizes {
		_, sizes[rank] = Chunk(extent, rank, worldSize)
	}
	return sizes
}
