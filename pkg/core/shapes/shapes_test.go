// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	empty := Make(dtypes.Int32, 3, 0)
	require.True(t, empty.IsZeroSize())
	require.Equal(t, 0, empty.Size())

	err := exceptions.Try(func() { _ = Make(dtypes.Int32, 2, -1) })
	require.NotNil(t, err)
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })

	axis, err := shape.AdjustAxis(-1)
	require.NoError(t, err)
	assert.Equal(t, 2, axis)
	_, err = shape.AdjustAxis(3)
	require.Error(t, err)
}

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{6, 2, 1}, Make(dtypes.Int8, 4, 3, 2).Strides())
	assert.Equal(t, []int{1}, Make(dtypes.Int8, 7).Strides())
	assert.Nil(t, Make(dtypes.Int8).Strides())
}

func TestEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float32, 8, 4)
	c := s.Clone()
	require.True(t, s.Equal(c))
	c.Dimensions[0] = 2
	require.False(t, s.Equal(c))
	require.Equal(t, 8, s.Dimensions[0])
	require.False(t, s.Equal(Make(dtypes.Float64, 8, 4)))
	require.True(t, s.EqualDimensions(Make(dtypes.Float64, 8, 4)))
}

func TestCheckDims(t *testing.T) {
	s := Make(dtypes.Float32, 8, 4)
	require.NoError(t, s.CheckDims(8, -1))
	require.Error(t, s.CheckDims(8))
	require.Error(t, s.CheckDims(2, 4))
	require.Panics(t, func() { AssertDims(s, 1, 1) })
}
