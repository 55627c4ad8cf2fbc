// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, 2, shape1.Dim(-1))
	require.Panics(t, func() { shape1.Dim(3) })
	require.Panics(t, func() { Make(dtypes.Float32, 3, 0) })

	shape2 := shape1.Clone()
	shape2.Dimensions[0] = 5
	require.Equal(t, 4, shape1.Dimensions[0], "Clone must not share dimensions")
	require.False(t, shape1.Equal(shape2))
	require.True(t, Make(dtypes.Int32, 4, 3, 2).EqualDimensions(shape1))
	require.False(t, Make(dtypes.Int32, 4, 3, 2).Equal(shape1))
}

func TestDimensionsString(t *testing.T) {
	require.Equal(t, "128x128", DimensionsString([]int{128, 128}))
	require.Equal(t, "", DimensionsString(nil))

	dims, err := ParseDimensions("2x3x4")
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 4}, dims)

	dims, err = ParseDimensions("")
	require.NoError(t, err)
	require.Empty(t, dims)

	_, err = ParseDimensions("2xfoo")
	require.Error(t, err)
	_, err = ParseDimensions("2x0")
	require.Error(t, err)
}
