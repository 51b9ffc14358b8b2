// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := Make[int](10)
	assert.Equal(t, 0, s.Len())

	s.Insert(3, 7, 3)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	s2 := MakeWith(7, 3, 7)
	assert.Equal(t, 2, s2.Len())
	for k := range s {
		assert.True(t, s2.Has(k))
	}
}
