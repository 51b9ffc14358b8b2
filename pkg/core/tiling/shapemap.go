// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/pkg/errors"
)

// ShapeMap holds the local block shape (rows, cols) of every process, indexed by rank.
type ShapeMap = distributed.ShapeMap

// GatherShapeMap collects the local shape of every process of m and validates it against m's global shape.
//
// It is a blocking collective: every process must call it.
func GatherShapeMap(m *distributed.Matrix) (ShapeMap, error) {
	if m == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "GatherShapeMap: nil matrix")
	}
	shapes, err := m.ShapeMap()
	if err != nil {
		return nil, err
	}
	if err = validateShapeMap(m, shapes); err != nil {
		return nil, err
	}
	return shapes, nil
}

// replicatedShapeMap is the shape map of an unsplit matrix: every process holds all of it.
func replicatedShapeMap(m *distributed.Matrix) ShapeMap {
	rows, cols := m.Shape()
	shapes := make(ShapeMap, m.Comm().Size())
	for rank := range shapes {
		shapes[rank] = [2]int{rows, cols}
	}
	return shapes
}

// validateShapeMap checks shapes against m's global shape and against the calling process's local shape.
func validateShapeMap(m *distributed.Matrix, shapes ShapeMap) error {
	rows, cols := m.Shape()
	comm := m.Comm()
	if err := shapes.Validate(rows, cols, m.Split(), comm.Size()); err != nil {
		return errors.Wrap(ErrInvalidArgument, err.Error())
	}
	localRows, localCols := m.LocalShape()
	own := shapes[comm.Rank()]
	if m.Split().IsSplit() && own[m.Split().Axis()] != [2]int{localRows, localCols}[m.Split().Axis()] {
		return errors.Wrapf(ErrInvalidArgument, "shape map gives rank %d a %dx%d block, but it holds %dx%d",
			comm.Rank(), own[0], own[1], localRows, localCols)
	}
	return nil
}
