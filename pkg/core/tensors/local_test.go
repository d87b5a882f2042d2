// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/sharding/pkg/core/shapes"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]int32{{1, 2, 3}, {4, 5, 6}})
	require.True(t, tensor.Ok())
	assert.Equal(t, shapes.Make(dtypes.Int32, 2, 3), tensor.Shape())
	assert.Equal(t, [][]int32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, must.M1(CopyFlatData[int32](tensor)))

	scalar := FromValue(float64(3))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, float64(3), scalar.Value())

	ints := FromValue([]int{7, 8})
	assert.Equal(t, dtypes.FromGenericsType[int](), ints.DType())
	assert.Equal(t, 2, ints.Size())

	// Irregular shapes panic.
	err := exceptions.Try(func() { _ = FromValue([][]float32{{1, 2}, {3}}) })
	require.NotNil(t, err)
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, tensor.Value())
	assert.Equal(t, 24, int(tensor.Memory()))

	half := FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(1.5)}, 2)
	assert.Equal(t, dtypes.Float16, half.DType())
	assert.Equal(t, 4, int(half.Memory()))

	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]int8{1, 2, 3}, 2, 2) })

	filled := FromScalarAndDimensions(int64(7), 2, 2)
	assert.Equal(t, [][]int64{{7, 7}, {7, 7}}, filled.Value())

	empty := FromShape(shapes.Make(dtypes.Float32, 0, 3))
	require.True(t, empty.Ok())
	assert.Equal(t, 0, empty.Size())
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromValue([]float32{1, 2, 3})
	require.Error(t, ConstFlatData(tensor, func(flat []int32) {}))
	require.NoError(t, MutableFlatData(tensor, func(flat []float32) { flat[1] = 20 }))
	assert.Equal(t, []float32{1, 20, 3}, tensor.Value())

	tensor.FinalizeAll()
	assert.False(t, tensor.Ok())
	require.Error(t, tensor.CheckValid())
	require.Error(t, tensor.ConstFlatData(func(flat any) {}))
}

func TestCloneAndFlags(t *testing.T) {
	tensor := FromValue([][]float64{{1, 2}, {3, 4}}).SetRequiresGrad(true).SetPinned(true)
	assert.True(t, tensor.RequiresGrad())
	assert.True(t, tensor.IsPinned())
	assert.True(t, tensor.IsContiguous())
	assert.Same(t, tensor, tensor.Contiguous())

	clone := must.M1(tensor.Clone())
	assert.True(t, clone.Equal(tensor))
	assert.False(t, clone.RequiresGrad())
	assert.False(t, clone.IsPinned())

	// Changing the clone doesn't change the original.
	MustMutableFlatData(clone, func(flat []float64) { flat[0] = 100 })
	assert.False(t, clone.Equal(tensor))
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, tensor.Value())
}

func TestEqual(t *testing.T) {
	a := FromValue([]int32{1, 2, 3})
	assert.True(t, a.Equal(FromValue([]int32{1, 2, 3})))
	assert.False(t, a.Equal(FromValue([]int32{1, 2, 4})))
	assert.False(t, a.Equal(FromValue([]int64{1, 2, 3})))
	assert.False(t, a.Equal(FromValue([][]int32{{1, 2, 3}})))
}

func TestString(t *testing.T) {
	assert.Equal(t, "(Int32)[2][1 2]", FromValue([]int32{1, 2}).String())
	assert.Equal(t, "(Int32)[100]{...}", FromShape(shapes.Make(dtypes.Int32, 100)).String())
	var nilTensor *Tensor
	assert.Equal(t, "Tensor<nil>", nilTensor.String())
}
