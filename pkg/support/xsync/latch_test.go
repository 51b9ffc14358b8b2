// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func isOpen(l *Latch) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

func TestLatch(t *testing.T) {
	l := NewLatch(3)
	assert.False(t, isOpen(l))

	var wg sync.WaitGroup
	lastCount := make(chan bool, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lastCount <- l.CountDown()
		}()
	}
	<-l.Done()
	wg.Wait()
	close(lastCount)
	numLast := 0
	for last := range lastCount {
		if last {
			numLast++
		}
	}
	assert.Equal(t, 1, numLast)
	assert.True(t, isOpen(l))
	assert.Panics(t, func() { l.CountDown() })
}

func TestLatchZero(t *testing.T) {
	l := NewLatch(0)
	assert.True(t, isOpen(l))
	assert.Panics(t, func() { NewLatch(-1) })
}
