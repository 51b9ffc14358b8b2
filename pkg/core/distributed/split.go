// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"

	"github.com/pkg/errors"
)

// Split defines along which axis of a 2-D Matrix the data is partitioned across processes.
//
// The other axis is not partitioned: every local block spans its full extent.
type Split int

const (
	// NotSplit means every process holds a full replica of the matrix.
	NotSplit Split = -1

	// SplitRows partitions the rows (axis 0) across processes.
	SplitRows Split = 0

	// SplitCols partitions the columns (axis 1) across processes.
	SplitCols Split = 1
)

// IsSplit returns whether the matrix is partitioned at all.
func (s Split) IsSplit() bool {
	return s == SplitRows || s == SplitCols
}

// Axis returns the split axis as an index (0 or 1). It returns 0 for NotSplit.
func (s Split) Axis() int {
	if s == SplitCols {
		return 1
	}
	return 0
}

// Other returns the axis index that is not split.
func (s Split) Other() int {
	return 1 - s.Axis()
}

// Validate returns an error if s is not one of the known values.
func (s Split) Validate() error {
	switch s {
	case NotSplit, SplitRows, SplitCols:
		return nil
	}
	return errors.Errorf("invalid split %d: must be 0, 1 or NotSplit (-1)", int(s))
}

// String implements fmt.Stringer.
func (s Split) String() string {
	switch s {
	case NotSplit:
		return "NotSplit"
	case SplitRows:
		return "SplitRows"
	case SplitCols:
		return "SplitCols"
	}
	return fmt.Sprintf("Split(%d)", int(s))
}

// ShapeMap holds the local block shape (rows, cols) of every process, indexed by rank.
type ShapeMap [][2]int

// Extents returns the local extents along the given axis, one per rank.
func (sm ShapeMap) Extents(axis int) []int {
	out := make([]int, len(sm))
	for rank, shape := range sm {
		out[rank] = shape[axis]
	}
	return out
}

// Clone returns a copy of the map.
func (sm ShapeMap) Clone() ShapeMap {
	return append(ShapeMap(nil), sm...)
}

// Validate checks that sm describes a matrix of the given global shape and split, distributed over
// numProcs processes.
func (sm ShapeMap) Validate(rows, cols int, split Split, numProcs int) error {
	if len(sm) != numProcs {
		return errors.Errorf("shape map has %d entries, expected one per process (%d)", len(sm), numProcs)
	}
	global := [2]int{rows, cols}
	if !split.IsSplit() {
		for rank, shape := range sm {
			if shape != global {
				return errors.Errorf("rank %d holds a %dx%d block of an unsplit %dx%d matrix",
					rank, shape[0], shape[1], rows, cols)
			}
		}
		return nil
	}
	axis, other := split.Axis(), split.Other()
	total := 0
	for rank, shape := range sm {
		if shape[axis] < 0 {
			return errors.Errorf("rank %d has negative extent %d", rank, shape[axis])
		}
		if shape[other] != global[other] && shape[axis] > 0 {
			return errors.Errorf("rank %d has extent %d along the non-split axis %d, expected %d",
				rank, shape[other], other, global[other])
		}
		total += shape[axis]
	}
	if total != global[axis] {
		return errors.Errorf("local extents along axis %d sum to %d, but the global extent is %d",
			axis, total, global[axis])
	}
	return nil
}
