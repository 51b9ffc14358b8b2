// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"slices"
	"sync"

	"github.com/gomlx/disttile/pkg/support/xsync"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// LocalGroup is an in-process group of "processes": each rank is a goroutine, and all communication
// goes through shared memory.
//
// Collective operations are matched by the order in which each rank calls them, the same contract
// as MPI. If one rank fails (returns an error or panics inside Run) the group is aborted: every rank blocked in
// a communication call returns ErrAborted, and the group can no longer be used.
type LocalGroup struct {
	id    string
	size  int
	comms []*LocalComm

	mu     sync.Mutex
	rounds map[int]*round

	// mailboxes[src][dst] holds point-to-point messages.
	mailboxes [][]*mailbox

	aborted   chan struct{}
	abortOnce sync.Once
	abortErr  error
}

// round is one collective operation, shared by all ranks that take part in it.
type round struct {
	op      ReduceOp
	length  int
	arrived int
	contrib [][]float64
	result  []float64
	err     error
	latch   *xsync.Latch
}

type message struct {
	tag  int
	data []float64
}

// mailbox is an unbounded FIFO of messages from one rank to another.
type mailbox struct {
	mu     sync.Mutex
	msgs   []message
	notify chan struct{}
}

// NewLocalGroup creates a group of size in-process ranks.
func NewLocalGroup(size int) (*LocalGroup, error) {
	if size < 1 {
		return nil, errors.Errorf("NewLocalGroup: size must be >= 1, got %d", size)
	}
	g := &LocalGroup{
		id:        uuid.NewString(),
		size:      size,
		rounds:    make(map[int]*round),
		mailboxes: make([][]*mailbox, size),
		aborted:   make(chan struct{}),
	}
	g.comms = make([]*LocalComm, size)
	for rank := range size {
		g.comms[rank] = &LocalComm{group: g, rank: rank}
		g.mailboxes[rank] = make([]*mailbox, size)
		for dst := range size {
			g.mailboxes[rank][dst] = &mailbox{notify: make(chan struct{})}
		}
	}
	klog.V(1).Infof("LocalGroup %s: created with %d ranks", g.id, size)
	return g, nil
}

// ID returns a unique identifier of the group, used in logs.
func (g *LocalGroup) ID() string {
	return g.id
}

// Size returns the number of ranks.
func (g *LocalGroup) Size() int {
	return g.size
}

// Comm returns the Communicator of the given rank. It is meant to be used by a single goroutine.
func (g *LocalGroup) Comm(rank int) Communicator {
	return g.comms[rank]
}

// Abort the group with the given cause. Only the first cause is kept.
func (g *LocalGroup) Abort(cause error) {
	g.abortOnce.Do(func() {
		g.abortErr = cause
		klog.Warningf("LocalGroup %s: aborted: %v", g.id, cause)
		close(g.aborted)
	})
}

// Run executes fn concurrently once per rank, each with its own Communicator, and waits for all of them.
//
// Panics inside fn are converted to errors. The first failing rank aborts the group, and its error
// is the one returned.
func (g *LocalGroup) Run(fn func(comm Communicator) error) error {
	var eg errgroup.Group
	for _, comm := range g.comms {
		eg.Go(func() error {
			err := runRank(comm, fn)
			if err != nil {
				g.Abort(err)
			}
			return err
		})
	}
	err := eg.Wait()
	if g.abortErr != nil {
		return g.abortErr
	}
	return err
}

// runRank calls fn and converts a panic into an error.
func runRank(comm *LocalComm, fn func(comm Communicator) error) (err error) {
	exception := exceptions.Try(func() {
		err = fn(comm)
	})
	if exception != nil {
		if e, ok := exception.(error); ok {
			err = errors.WithMessagef(e, "rank %d panicked", comm.rank)
		} else {
			err = errors.Errorf("rank %d panicked: %v", comm.rank, exception)
		}
		return
	}
	if err != nil {
		err = errors.WithMessagef(err, "rank %d", comm.rank)
	}
	return
}

// contribute registers rank's data for the collective with sequence number seq.
// The last rank to arrive computes the result before opening the round's latch.
func (g *LocalGroup) contribute(rank, seq int, op ReduceOp, data []float64) *round {
	g.mu.Lock()
	r, found := g.rounds[seq]
	if !found {
		r = &round{
			op:      op,
			length:  len(data),
			contrib: make([][]float64, g.size),
			latch:   xsync.NewLatch(g.size),
		}
		g.rounds[seq] = r
	}
	if r.err == nil && (r.op != op || r.length != len(data)) {
		r.err = errors.Errorf("mismatched collective #%d: rank %d called %s on %d values, expected %s on %d values",
			seq, rank, op, len(data), r.op, r.length)
	}
	r.contrib[rank] = slices.Clone(data)
	r.arrived++
	if r.arrived == g.size {
		delete(g.rounds, seq)
		if r.err == nil {
			r.result = reduce(r.op, r.contrib)
		}
		r.contrib = nil
	}
	g.mu.Unlock()
	r.latch.CountDown()
	return r
}

// reduce combines the contributions in rank order, so every rank sees the same floating point result.
func reduce(op ReduceOp, contrib [][]float64) []float64 {
	result := slices.Clone(contrib[0])
	for _, c := range contrib[1:] {
		op.apply(result, c)
	}
	return result
}

func (m *mailbox) put(msg message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *mailbox) take(tag int, aborted <-chan struct{}) ([]float64, error) {
	for {
		m.mu.Lock()
		for i, msg := range m.msgs {
			if msg.tag == tag {
				m.msgs = slices.Delete(m.msgs, i, i+1)
				m.mu.Unlock()
				return msg.data, nil
			}
		}
		notify := m.notify
		m.mu.Unlock()
		select {
		case <-notify:
		case <-aborted:
			return nil, errors.WithStack(ErrAborted)
		}
	}
}

// LocalComm is the Communicator of one rank of a LocalGroup.
type LocalComm struct {
	group *LocalGroup
	rank  int

	// seq counts the collectives this rank has started.
	seq int
}

var _ Communicator = (*LocalComm)(nil)

// Rank implements Communicator.
func (c *LocalComm) Rank() int { return c.rank }

// Size implements Communicator.
func (c *LocalComm) Size() int { return c.group.size }

// IAllReduce implements Communicator.
func (c *LocalComm) IAllReduce(op ReduceOp, buf []float64) (*Request, error) {
	select {
	case <-c.group.aborted:
		return nil, errors.WithStack(ErrAborted)
	default:
	}
	seq := c.seq
	c.seq++
	r := c.group.contribute(c.rank, seq, op, buf)
	req := &Request{
		done:    r.latch.Done(),
		aborted: c.group.aborted,
		finish: func() error {
			if r.err != nil {
				return r.err
			}
			copy(buf, r.result)
			return nil
		},
	}
	return req, nil
}

// AllReduce implements Communicator.
func (c *LocalComm) AllReduce(op ReduceOp, buf []float64) error {
	req, err := c.IAllReduce(op, buf)
	if err != nil {
		return err
	}
	return req.Wait()
}

// AllReduceInts implements Communicator.
func (c *LocalComm) AllReduceInts(op ReduceOp, buf []int) error {
	values := make([]float64, len(buf))
	for i, v := range buf {
		values[i] = float64(v)
	}
	if err := c.AllReduce(op, values); err != nil {
		return err
	}
	for i, v := range values {
		buf[i] = int(v)
	}
	return nil
}

// Barrier implements Communicator.
func (c *LocalComm) Barrier() error {
	return c.AllReduce(OpSum, nil)
}

func (c *LocalComm) checkPeer(peer int) error {
	if peer < 0 || peer >= c.group.size {
		return errors.Wrapf(ErrInvalidRank, "rank %d in a group of size %d", peer, c.group.size)
	}
	return nil
}

// Send implements Communicator.
func (c *LocalComm) Send(dst, tag int, data []float64) error {
	if err := c.checkPeer(dst); err != nil {
		return err
	}
	c.group.mailboxes[c.rank][dst].put(message{tag: tag, data: slices.Clone(data)})
	return nil
}

// Recv implements Communicator.
func (c *LocalComm) Recv(src, tag int) ([]float64, error) {
	if err := c.checkPeer(src); err != nil {
		return nil, err
	}
	return c.group.mailboxes[src][c.rank].take(tag, c.group.aborted)
}
