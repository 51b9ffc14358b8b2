// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed_test

import (
	"testing"

	"github.com/gomlx/disttile/pkg/core/distributed"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGroup(t *testing.T) {
	t.Run("InvalidSize", func(t *testing.T) {
		_, err := distributed.NewLocalGroup(0)
		require.Error(t, err)
	})

	t.Run("AllReduce", func(t *testing.T) {
		tests := []struct {
			name string
			op   distributed.ReduceOp
			want []float64
		}{
			{"sum", distributed.OpSum, []float64{6, 60}},
			{"max", distributed.OpMax, []float64{3, 30}},
			{"min", distributed.OpMin, []float64{1, 10}},
			{"prod", distributed.OpProd, []float64{6, 6000}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				group, err := distributed.NewLocalGroup(3)
				require.NoError(t, err)
				results := make([][]float64, 3)
				err = group.Run(func(comm distributed.Communicator) error {
					v := float64(comm.Rank() + 1)
					buf := []float64{v, 10 * v}
					if err := comm.AllReduce(tt.op, buf); err != nil {
						return err
					}
					results[comm.Rank()] = buf
					return nil
				})
				require.NoError(t, err)
				for rank, got := range results {
					assert.Equal(t, tt.want, got, "rank %d", rank)
				}
			})
		}
	})

	t.Run("AllReduceInts", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(4)
		require.NoError(t, err)
		results := make([][]int, 4)
		err = group.Run(func(comm distributed.Communicator) error {
			buf := make([]int, 2*comm.Size())
			buf[2*comm.Rank()] = comm.Rank() + 1
			buf[2*comm.Rank()+1] = 7
			results[comm.Rank()] = buf
			return comm.AllReduceInts(distributed.OpSum, buf)
		})
		require.NoError(t, err)
		for _, got := range results {
			assert.Equal(t, []int{1, 7, 2, 7, 3, 7, 4, 7}, got)
		}
	})

	t.Run("IAllReduce", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(2)
		require.NoError(t, err)
		err = group.Run(func(comm distributed.Communicator) error {
			first := []float64{float64(comm.Rank())}
			second := []float64{10 * float64(comm.Rank()+1)}
			req1, err := comm.IAllReduce(distributed.OpSum, first)
			if err != nil {
				return err
			}
			req2, err := comm.IAllReduce(distributed.OpSum, second)
			if err != nil {
				return err
			}
			// Waiting out of order is allowed.
			if err := req2.Wait(); err != nil {
				return err
			}
			if err := req1.Wait(); err != nil {
				return err
			}
			assert.True(t, req1.Test())
			assert.Equal(t, []float64{1}, first)
			assert.Equal(t, []float64{30}, second)
			// A second Wait is a no-op.
			return req1.Wait()
		})
		require.NoError(t, err)
	})

	t.Run("MismatchedCollective", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(2)
		require.NoError(t, err)
		err = group.Run(func(comm distributed.Communicator) error {
			buf := make([]float64, 1+comm.Rank())
			return comm.AllReduce(distributed.OpSum, buf)
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatched collective")
	})

	t.Run("SendRecv", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(3)
		require.NoError(t, err)
		received := make([][]float64, 3)
		err = group.Run(func(comm distributed.Communicator) error {
			next := (comm.Rank() + 1) % comm.Size()
			prev := (comm.Rank() + comm.Size() - 1) % comm.Size()
			// Two tags: the receiver asks for them in the opposite order.
			if err := comm.Send(next, 1, []float64{float64(comm.Rank())}); err != nil {
				return err
			}
			if err := comm.Send(next, 2, []float64{100 + float64(comm.Rank())}); err != nil {
				return err
			}
			second, err := comm.Recv(prev, 2)
			if err != nil {
				return err
			}
			first, err := comm.Recv(prev, 1)
			if err != nil {
				return err
			}
			received[comm.Rank()] = append(first, second...)
			return comm.Barrier()
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 102}, received[0])
		assert.Equal(t, []float64{0, 100}, received[1])
		assert.Equal(t, []float64{1, 101}, received[2])
	})

	t.Run("InvalidRank", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(2)
		require.NoError(t, err)
		comm := group.Comm(0)
		err = comm.Send(2, 0, nil)
		require.ErrorIs(t, err, distributed.ErrInvalidRank)
		_, err = comm.Recv(-1, 0)
		require.ErrorIs(t, err, distributed.ErrInvalidRank)
	})

	t.Run("Abort", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(3)
		require.NoError(t, err)
		failure := errors.New("rank failed")
		peerErrs := make([]error, 3)
		err = group.Run(func(comm distributed.Communicator) error {
			if comm.Rank() == 1 {
				return failure
			}
			peerErrs[comm.Rank()] = comm.AllReduce(distributed.OpSum, []float64{1})
			return peerErrs[comm.Rank()]
		})
		require.ErrorIs(t, err, failure)
		assert.ErrorIs(t, peerErrs[0], distributed.ErrAborted)
		assert.ErrorIs(t, peerErrs[2], distributed.ErrAborted)

		// The group can no longer be used.
		_, err = group.Comm(0).IAllReduce(distributed.OpSum, []float64{1})
		assert.ErrorIs(t, err, distributed.ErrAborted)
	})

	t.Run("Panic", func(t *testing.T) {
		group, err := distributed.NewLocalGroup(2)
		require.NoError(t, err)
		err = group.Run(func(comm distributed.Communicator) error {
			if comm.Rank() == 0 {
				panic("boom")
			}
			_, err := comm.Recv(0, 0)
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestNewRequest(t *testing.T) {
	done := make(chan struct{})
	calls := 0
	req := distributed.NewRequest(done, func() error {
		calls++
		return nil
	})
	assert.False(t, req.Test())
	close(done)
	assert.True(t, req.Test())
	require.NoError(t, distributed.WaitAll(req, req))
	assert.Equal(t, 1, calls)
}
