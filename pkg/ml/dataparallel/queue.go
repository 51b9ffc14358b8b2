// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataparallel

import (
	"sort"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/gomlx/disttile/pkg/ml/nn"
	"github.com/pkg/errors"
)

// pendingReduction is one asynchronous gradient reduction in flight.
type pendingReduction struct {
	size   int
	param  *nn.Parameter
	buffer []float64
	req    *distributed.Request
}

// WaitQueue holds the reductions in flight for one layer, sorted by increasing size. Reductions of equal size
// keep their insertion order.
type WaitQueue struct {
	entries []pendingReduction
}

// insert keeps the queue sorted, placing e after any entry of the same size.
func (q *WaitQueue) insert(e pendingReduction) {
	pos := sort.Search(len(q.entries), func(i int) bool { return q.entries[i].size > e.size })
	q.entries = append(q.entries, pendingReduction{})
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = e
}

// Len returns the number of reductions in the queue.
func (q *WaitQueue) Len() int {
	return len(q.entries)
}

// Sizes returns the size of every reduction in the queue, in waiting order.
func (q *WaitQueue) Sizes() []int {
	sizes := make([]int, len(q.entries))
	for i, e := range q.entries {
		sizes[i] = e.size
	}
	return sizes
}

// drain waits for every reduction, smallest first, and hands each averaged gradient to its parameter.
// Parameters' gradients must have been cleared before: repeated reductions of one parameter are added up.
// The queue is empty afterward, even on error.
func (q *WaitQueue) drain() error {
	entries := q.entries
	q.entries = nil
	for _, e := range entries {
		if err := e.req.Wait(); err != nil {
			return errors.WithMessagef(err, "waiting for the gradient reduction of %q", e.param.Name())
		}
		if err := e.param.AddGrad(e.buffer); err != nil {
			return err
		}
	}
	return nil
}
