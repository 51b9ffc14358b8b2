// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// ReduceOp is an aggregation operation used by the collective reductions.
type ReduceOp int

const (
	OpSum ReduceOp = iota
	OpMax
	OpMin
	OpProd
)

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	switch op {
	case OpSum:
		return "Sum"
	case OpMax:
		return "Max"
	case OpMin:
		return "Min"
	case OpProd:
		return "Prod"
	default:
		return fmt.Sprintf("ReduceOp(%d)", int(op))
	}
}

// apply combines b into a, element-wise.
func (op ReduceOp) apply(a, b []float64) {
	switch op {
	case OpSum:
		for i := range a {
			a[i] += b[i]
		}
	case OpMax:
		for i := range a {
			a[i] = max(a[i], b[i])
		}
	case OpMin:
		for i := range a {
			a[i] = min(a[i], b[i])
		}
	case OpProd:
		for i := range a {
			a[i] *= b[i]
		}
	}
}

// Root is the rank 0 process: it is more semantic to use this.
const Root = 0

var (
	// ErrAborted is returned by blocked communication calls when the process group was aborted,
	// usually because one of the processes failed.
	ErrAborted = errors.New("process group aborted")

	// ErrInvalidRank is returned when a communication call names a rank outside of 0..Size()-1.
	ErrInvalidRank = errors.New("invalid rank")
)

// Communicator is the collective-communication channel shared by a fixed set of processes with ranks 0..Size()-1.
//
// Collective operations (AllReduce, AllReduceInts, IAllReduce and Barrier) must be called by every process
// of the group, in the same order. A Communicator is used by one goroutine: each process is single-threaded with
// respect to communication.
type Communicator interface {
	// Rank of this process in the group.
	Rank() int

	// Size is the number of processes in the group. It is fixed at construction.
	Size() int

	// AllReduce combines buf across all processes with op, and overwrites buf with the result.
	// It blocks until every process has contributed.
	AllReduce(op ReduceOp, buf []float64) error

	// AllReduceInts is the integer version of AllReduce.
	AllReduceInts(op ReduceOp, buf []int) error

	// IAllReduce starts an asynchronous AllReduce on buf and returns immediately.
	// The result is written into buf when the returned Request is waited on; buf must not be used before that.
	IAllReduce(op ReduceOp, buf []float64) (*Request, error)

	// Send data to process dst with the given tag. It doesn't block.
	Send(dst, tag int, data []float64) error

	// Recv blocks until a message with the given tag from process src is available.
	// Messages between the same pair of processes with the same tag are delivered in order.
	Recv(src, tag int) ([]float64, error)

	// Barrier forces synchronisation.
	Barrier() error
}

// Request is the waitable handle of an asynchronous collective operation.
//
// Completion is signaled by the channel returned by Done. Wait blocks for it and then runs the
// operation's finalization (copying results into the caller's buffer) exactly once.
type Request struct {
	done    <-chan struct{}
	aborted <-chan struct{}
	finish  func() error

	once sync.Once
	err  error
}

// NewRequest creates a Request that completes when done is closed. finish, if not nil, is called once by
// the first Wait after completion, and its error is returned by every Wait.
//
// It is meant for Communicator implementations.
func NewRequest(done <-chan struct{}, finish func() error) *Request {
	return &Request{done: done, finish: finish}
}

// Done returns a channel that is closed when the operation completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Test returns whether the operation completed, without blocking.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation completes and returns its error.
// There is no timeout: an operation that never completes blocks forever.
func (r *Request) Wait() error {
	select {
	case <-r.done:
	case <-r.aborted:
		if !r.Test() {
			return errors.WithStack(ErrAborted)
		}
	}
	r.once.Do(func() {
		if r.finish != nil {
			r.err = r.finish()
		}
	})
	return r.err
}

// WaitAll waits on all requests in order, and returns the first error.
func WaitAll(requests ...*Request) error {
	var firstErr error
	for _, r := range requests {
		if err := r.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
