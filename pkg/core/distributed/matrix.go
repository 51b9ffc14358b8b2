// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed defines the following objects related to multi-process execution:
//
// - Communicator: the collective and point-to-point operations shared by a fixed group of processes.
// - LocalGroup: an in-process Communicator implementation, one goroutine per rank.
// - Split and ShapeMap: how a 2-D matrix is partitioned along one axis.
// - Matrix: a logical 2-D matrix distributed across the processes of a Communicator.
package distributed

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Matrix is a logical 2-D matrix of float64 distributed across the processes of a Communicator.
//
// Each process holds one contiguous block of it: a band of rows (SplitRows) or of columns (SplitCols)
// spanning the whole other axis. With NotSplit every process holds a full replica.
//
// A Matrix object only describes the calling process's view: its local block, and the global shape.
type Matrix struct {
	comm Communicator

	// shape is the global (logical) shape.
	shape [2]int
	split Split

	// local block, nil if the process holds no data.
	local      *mat.Dense
	localShape [2]int
}

// redistributeTag is the message tag used by Redistribute.
const redistributeTag = 1 << 20

// NewMatrix creates a Matrix from the calling process's local block.
//
// local may be nil if the process holds no data. Its extent along the non-split axis must match the global one;
// the extents along the split axis are only checked collectively, by ShapeMap.Validate.
func NewMatrix(comm Communicator, rows, cols int, split Split, local *mat.Dense) (*Matrix, error) {
	if comm == nil {
		return nil, errors.New("NewMatrix: nil Communicator")
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 {
		return nil, errors.Errorf("NewMatrix: invalid global shape %dx%d", rows, cols)
	}
	m := &Matrix{comm: comm, shape: [2]int{rows, cols}, split: split, local: local}
	if local != nil {
		m.localShape[0], m.localShape[1] = local.Dims()
	}
	if !split.IsSplit() {
		if m.localShape != m.shape {
			return nil, errors.Errorf("NewMatrix: unsplit %dx%d matrix given a %dx%d local block",
				rows, cols, m.localShape[0], m.localShape[1])
		}
		return m, nil
	}
	axis, other := split.Axis(), split.Other()
	if m.localShape[axis] > m.shape[axis] {
		return nil, errors.Errorf("NewMatrix: local extent %d along axis %d is larger than the global extent %d",
			m.localShape[axis], axis, m.shape[axis])
	}
	if local != nil && m.localShape[other] != m.shape[other] {
		return nil, errors.Errorf("NewMatrix: local extent %d along the non-split axis %d, expected %d",
			m.localShape[other], other, m.shape[other])
	}
	if local == nil {
		m.localShape[other] = m.shape[other]
	}
	return m, nil
}

// Distribute creates a Matrix from a global matrix replicated on every process: each process keeps its balanced
// chunk (see Chunk) along the split axis. It doesn't communicate.
func Distribute(comm Communicator, global mat.Matrix, split Split) (*Matrix, error) {
	if comm == nil {
		return nil, errors.New("Distribute: nil Communicator")
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	rows, cols := global.Dims()
	if !split.IsSplit() {
		return NewMatrix(comm, rows, cols, split, mat.DenseCopyOf(global))
	}
	shape := [2]int{rows, cols}
	offset, length := Chunk(shape[split.Axis()], comm.Rank(), comm.Size())
	var local *mat.Dense
	if length > 0 {
		dense := mat.DenseCopyOf(global)
		if split == SplitRows {
			local = mat.DenseCopyOf(dense.Slice(offset, offset+length, 0, cols))
		} else {
			local = mat.DenseCopyOf(dense.Slice(0, rows, offset, offset+length))
		}
	}
	return NewMatrix(comm, rows, cols, split, local)
}

// Zeros creates a Matrix filled with zeros, distributed with balanced chunks along split.
func Zeros(comm Communicator, rows, cols int, split Split) (*Matrix, error) {
	if comm == nil {
		return nil, errors.New("Zeros: nil Communicator")
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	localShape := [2]int{rows, cols}
	if split.IsSplit() {
		_, localShape[split.Axis()] = Chunk(localShape[split.Axis()], comm.Rank(), comm.Size())
	}
	var local *mat.Dense
	if localShape[0] > 0 && localShape[1] > 0 {
		local = mat.NewDense(localShape[0], localShape[1], nil)
	}
	return NewMatrix(comm, rows, cols, split, local)
}

// Comm returns the Communicator the matrix is distributed over.
func (m *Matrix) Comm() Communicator {
	return m.comm
}

// Shape returns the global shape.
func (m *Matrix) Shape() (rows, cols int) {
	return m.shape[0], m.shape[1]
}

// Split returns the axis along which the matrix is partitioned.
func (m *Matrix) Split() Split {
	return m.split
}

// LocalShape returns the shape of the calling process's block.
func (m *Matrix) LocalShape() (rows, cols int) {
	return m.localShape[0], m.localShape[1]
}

// Local returns the calling process's block, or nil if it holds no data.
// Changes to it are changes to the matrix.
func (m *Matrix) Local() *mat.Dense {
	return m.local
}

// ShapeMap gathers the local shape of every process. It is a collective operation.
func (m *Matrix) ShapeMap() (ShapeMap, error) {
	size := m.comm.Size()
	buf := make([]int, 2*size)
	rank := m.comm.Rank()
	buf[2*rank], buf[2*rank+1] = m.localShape[0], m.localShape[1]
	if err := m.comm.AllReduceInts(OpSum, buf); err != nil {
		return nil, errors.WithMessage(err, "gathering the shape map")
	}
	shapes := make(ShapeMap, size)
	for p := range shapes {
		shapes[p] = [2]int{buf[2*p], buf[2*p+1]}
	}
	return shapes, nil
}

// offsets returns the start offset of every process's block along the split axis.
func offsets(shapes ShapeMap, axis int) []int {
	out := make([]int, len(shapes))
	total := 0
	for p, shape := range shapes {
		out[p] = total
		total += shape[axis]
	}
	return out
}

// Gather assembles the global matrix on every process. It is a collective operation.
func (m *Matrix) Gather() (*mat.Dense, error) {
	rows, cols := m.Shape()
	if rows == 0 || cols == 0 {
		return nil, errors.Errorf("Gather: empty %dx%d matrix", rows, cols)
	}
	if !m.split.IsSplit() {
		return mat.DenseCopyOf(m.local), nil
	}
	shapes, err := m.ShapeMap()
	if err != nil {
		return nil, err
	}
	if err = shapes.Validate(rows, cols, m.split, m.comm.Size()); err != nil {
		return nil, err
	}
	global := mat.NewDense(rows, cols, nil)
	if m.local != nil {
		offset := offsets(shapes, m.split.Axis())[m.comm.Rank()]
		m.bandOf(global, offset, offset+m.localShape[m.split.Axis()]).Copy(m.local)
	}
	if err = m.comm.AllReduce(OpSum, global.RawMatrix().Data); err != nil {
		return nil, errors.WithMessage(err, "gathering the matrix")
	}
	return global, nil
}

// bandOf returns the view of dst covering [start, stop) along the split axis and the whole other axis.
func (m *Matrix) bandOf(dst *mat.Dense, start, stop int) *mat.Dense {
	rows, cols := dst.Dims()
	if m.split == SplitRows {
		return dst.Slice(start, stop, 0, cols).(*mat.Dense)
	}
	return dst.Slice(0, rows, start, stop).(*mat.Dense)
}

// Redistribute moves data between processes so that the local blocks go from the current layout to the target one.
// Both layouts must describe the matrix's global shape and split; the order of the data along the split axis
// is preserved. It is a collective operation.
func (m *Matrix) Redistribute(current, target ShapeMap) error {
	if !m.split.IsSplit() {
		return errors.New("Redistribute: matrix is not split")
	}
	rows, cols := m.Shape()
	size := m.comm.Size()
	if err := current.Validate(rows, cols, m.split, size); err != nil {
		return errors.WithMessage(err, "Redistribute: invalid current layout")
	}
	if err := target.Validate(rows, cols, m.split, size); err != nil {
		return errors.WithMessage(err, "Redistribute: invalid target layout")
	}
	axis, rank := m.split.Axis(), m.comm.Rank()
	if current[rank][axis] != m.localShape[axis] {
		return errors.Errorf("Redistribute: current layout gives rank %d an extent of %d, but it holds %d",
			rank, current[rank][axis], m.localShape[axis])
	}
	curOffsets, tgtOffsets := offsets(current, axis), offsets(target, axis)
	overlap := func(srcRank, dstRank int) (start, stop int) {
		start = max(curOffsets[srcRank], tgtOffsets[dstRank])
		stop = min(curOffsets[srcRank]+current[srcRank][axis], tgtOffsets[dstRank]+target[dstRank][axis])
		return
	}

	// Sends don't block, so every process posts all its sends before receiving.
	for dst := range size {
		start, stop := overlap(rank, dst)
		if start >= stop {
			continue
		}
		block := mat.DenseCopyOf(m.bandOf(m.local, start-curOffsets[rank], stop-curOffsets[rank]))
		if err := m.comm.Send(dst, redistributeTag, block.RawMatrix().Data); err != nil {
			return errors.WithMessagef(err, "Redistribute: sending to rank %d", dst)
		}
	}

	newShape := [2]int{rows, cols}
	newShape[axis] = target[rank][axis]
	var newLocal *mat.Dense
	if newShape[0] > 0 && newShape[1] > 0 {
		newLocal = mat.NewDense(newShape[0], newShape[1], nil)
	}
	for src := range size {
		start, stop := overlap(src, rank)
		if start >= stop {
			continue
		}
		data, err := m.comm.Recv(src, redistributeTag)
		if err != nil {
			return errors.WithMessagef(err, "Redistribute: receiving from rank %d", src)
		}
		dst := m.bandOf(newLocal, start-tgtOffsets[rank], stop-tgtOffsets[rank])
		r, c := dst.Dims()
		if len(data) != r*c {
			return errors.Errorf("Redistribute: rank %d sent %d values, expected %d", src, len(data), r*c)
		}
		dst.Copy(mat.NewDense(r, c, data))
	}
	klog.V(2).Infof("Redistribute: rank %d local shape %v -> %v", rank, m.localShape, newShape)
	m.local = newLocal
	m.localShape = newShape
	return nil
}
