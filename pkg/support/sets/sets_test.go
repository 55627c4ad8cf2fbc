// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[uint64](10)
	assert.Equal(t, 0, s.Len())

	s.Insert(3, 7, 7)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	s2 := MakeWith[uint64](5, 7)
	sub := s.Sub(s2)
	assert.Equal(t, 1, sub.Len())
	assert.True(t, sub.Has(3))
	assert.Equal(t, 0, s2.Sub(s2).Len())

	s.Delete(7, 11)
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Has(7))

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has(3))
}
