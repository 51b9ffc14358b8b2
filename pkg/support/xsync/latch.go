// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements synchronization primitives missing from the standard sync package.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// Latch is a one-shot countdown: it is created with a count, every participant calls CountDown once,
// and when the count reaches zero the channel returned by Done is closed.
//
// Unlike sync.WaitGroup, waiting is done on a channel, so it can be combined with other events in a select.
type Latch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// NewLatch creates a Latch that opens after count calls to CountDown.
// A count of 0 creates an already open Latch.
func NewLatch(count int) *Latch {
	if count < 0 {
		panic(errors.Errorf("xsync.NewLatch: negative count %d", count))
	}
	l := &Latch{count: count, done: make(chan struct{})}
	if count == 0 {
		close(l.done)
	}
	return l
}

// CountDown decrements the counter. It returns true for the call that opened the latch.
// It panics if called more times than the initial count.
func (l *Latch) CountDown() (last bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count <= 0 {
		panic(errors.Errorf("xsync.Latch: CountDown called on an open latch"))
	}
	l.count--
	if l.count == 0 {
		close(l.done)
		return true
	}
	return false
}

// Done returns a channel closed when the count reaches zero.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}
