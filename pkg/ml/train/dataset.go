// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Dataset for a train.Trainer provides the data, one batch at a time: a matrix of inputs and one of labels, with
// one example per row.
type Dataset interface {
	// Name identifies the dataset. Used for debugging and pretty-printing.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached.
	Reset()

	// Yield one batch. If the error is io.EOF the training/evaluation terminates normally, as it indicates the
	// end of data for finite datasets (the end of an epoch).
	//
	// The caller may not modify the returned matrices.
	Yield() (inputs, labels *mat.Dense, err error)
}

// InMemory is a Dataset over matrices held in memory. Create it with NewInMemory.
type InMemory struct {
	name      string
	inputs    *mat.Dense
	labels    *mat.Dense
	batchSize int
	infinite  bool
	rng       *rand.Rand

	order []int
	next  int
}

var _ Dataset = (*InMemory)(nil)

// NewInMemory creates a dataset yielding batches of the rows of inputs and labels, in order.
// By default, it yields the whole data as one batch, and it's finite.
func NewInMemory(name string, inputs, labels *mat.Dense) (*InMemory, error) {
	rows, _ := inputs.Dims()
	labelRows, _ := labels.Dims()
	if rows != labelRows {
		return nil, errors.Errorf("NewInMemory(%q): %d rows of inputs, but %d rows of labels", name, rows, labelRows)
	}
	if rows == 0 {
		return nil, errors.Errorf("NewInMemory(%q): empty dataset", name)
	}
	ds := &InMemory{name: name, inputs: inputs, labels: labels, batchSize: rows}
	ds.Reset()
	return ds, nil
}

// BatchSize sets the number of examples per batch. The last batch of an epoch may be smaller.
// It returns the dataset, so calls can be cascaded.
func (ds *InMemory) BatchSize(batchSize int) *InMemory {
	ds.batchSize = max(batchSize, 1)
	return ds
}

// Infinite makes the dataset loop forever: it never returns io.EOF.
func (ds *InMemory) Infinite(infinite bool) *InMemory {
	ds.infinite = infinite
	return ds
}

// Shuffle reorders the examples at every Reset (and at every wrap-around of an infinite dataset).
func (ds *InMemory) Shuffle(rng *rand.Rand) *InMemory {
	ds.rng = rng
	ds.Reset()
	return ds
}

// Shard returns the dataset restricted to the balanced chunk of examples (see distributed.Chunk) owned by
// the given rank out of size processes. A rank may get an empty shard, which is an error.
func (ds *InMemory) Shard(rank, size int) (*InMemory, error) {
	rows, inputCols := ds.inputs.Dims()
	_, labelCols := ds.labels.Dims()
	offset, length := distributed.Chunk(rows, rank, size)
	if length == 0 {
		return nil, errors.Errorf("InMemory(%q).Shard(%d, %d): no examples for rank %d out of %d",
			ds.name, rank, size, rank, rows)
	}
	shard, err := NewInMemory(ds.name,
		ds.inputs.Slice(offset, offset+length, 0, inputCols).(*mat.Dense),
		ds.labels.Slice(offset, offset+length, 0, labelCols).(*mat.Dense))
	if err != nil {
		return nil, err
	}
	shard.batchSize = ds.batchSize
	shard.infinite = ds.infinite
	if ds.rng != nil {
		shard.Shuffle(ds.rng)
	}
	return shard, nil
}

// Name implements Dataset.
func (ds *InMemory) Name() string {
	return ds.name
}

// Reset implements Dataset.
func (ds *InMemory) Reset() {
	rows, _ := ds.inputs.Dims()
	if ds.rng != nil {
		ds.order = ds.rng.Perm(rows)
	} else if len(ds.order) != rows {
		ds.order = make([]int, rows)
		for i := range ds.order {
			ds.order[i] = i
		}
	}
	ds.next = 0
}

// Yield implements Dataset.
func (ds *InMemory) Yield() (inputs, labels *mat.Dense, err error) {
	if ds.next >= len(ds.order) {
		if !ds.infinite {
			return nil, nil, io.EOF
		}
		ds.Reset()
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	batch := ds.order[ds.next:end]
	ds.next = end
	_, inputCols := ds.inputs.Dims()
	_, labelCols := ds.labels.Dims()
	inputs = mat.NewDense(len(batch), inputCols, nil)
	labels = mat.NewDense(len(batch), labelCols, nil)
	for i, row := range batch {
		inputs.SetRow(i, ds.inputs.RawRowView(row))
		labels.SetRow(i, ds.labels.RawRowView(row))
	}
	return inputs, labels, nil
}
