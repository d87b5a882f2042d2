// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a representation of a multidimensional array stored locally
// (in host memory) as a flat, row-major, contiguous slice of the underlying dtype.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): generic conversion from scalars or arbitrary
//     multidimensional slices of them. Slices of rank > 1 must be regular. Example:
//
//     t := FromValue([][]float32{{1,2}, {3, 5}, {7, 11}})
//
// Besides the values, a Tensor carries two flags that describe how it is used by the
// distributed sharding machinery: whether it requires gradients (RequiresGrad) and whether it
// is held in pinned (page-locked) host memory (IsPinned). They are metadata only: this package
// doesn't track gradients nor pins memory.
//
// Slicing operations (Narrow, Clone) always produce independent copies: tensors never share storage.
package tensors

import (
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/shapes"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large dimensions),
// defined by its shape, a data type (dtypes.DType) and its axes' dimensions, and its actual content stored as
// a flat (1D) array of values.
//
// It is always stored contiguously, in row-major order.
type Tensor struct {
	// shape of the tensor, considered immutable.
	shape shapes.Shape

	// mu protects flat and the flags.
	mu sync.Mutex

	// flat holds the array with actual data, a slice of the Go type for the dtype of the shape.
	// It is nil after the tensor is finalized.
	flat any

	requiresGrad bool
	pinned       bool
}

// newEmptyTensor returns a Tensor object initialized only with the shape, but no actual storage.
func newEmptyTensor(shape shapes.Shape) *Tensor {
	return &Tensor{
		shape: shape,
	}
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// CheckValid returns an error if it's nil, has been finalized, or if its shape is invalid.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	if !t.shape.Ok() {
		return errors.New("Tensor shape is invalid")
	}
	if t.flat == nil {
		return errors.New("Tensor has been finalized")
	}
	return nil
}

// AssertValid panics if it's nil, has been finalized, or if its shape is invalid.
func (t *Tensor) AssertValid() {
	err := t.CheckValid()
	if err != nil {
		panic(err)
	}
}

// FinalizeAll immediately frees the associated data and leaves the Tensor in an invalid state.
//
// It's the caller's responsibility to ensure the tensor data is not being used elsewhere.
func (t *Tensor) FinalizeAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
	t.shape = shapes.Invalid()
}

// RequiresGrad returns whether the tensor is marked as requiring gradients.
func (t *Tensor) RequiresGrad() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requiresGrad
}

// SetRequiresGrad marks whether the tensor requires gradients. It returns the tensor itself, so calls can be chained.
func (t *Tensor) SetRequiresGrad(requiresGrad bool) *Tensor {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requiresGrad = requiresGrad
	return t
}

// IsPinned returns whether the tensor is marked as stored in pinned (page-locked) host memory.
func (t *Tensor) IsPinned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinned
}

// SetPinned marks whether the tensor is stored in pinned memory. It returns the tensor itself, so calls can be chained.
func (t *Tensor) SetPinned(pinned bool) *Tensor {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned = pinned
	return t
}

// IsContiguous always returns true: tensors are always stored in row-major contiguous order.
func (t *Tensor) IsContiguous() bool { return true }

// Contiguous returns a tensor with a contiguous layout with the same values.
// Since tensors are always contiguous, it returns the tensor itself.
func (t *Tensor) Contiguous() *Tensor { return t }

