// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/sharding/pkg/core/tensors"
)

// Layout of the elements of a tensor in memory.
type Layout int

const (
	// Strided is a dense layout, addressed by strides.
	Strided Layout = iota

	// SparseCOO is a sparse layout in coordinate format.
	SparseCOO
)

// String implements fmt.Stringer.
func (l Layout) String() string {
	switch l {
	case Strided:
		return "Strided"
	case SparseCOO:
		return "SparseCOO"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// MemoryFormat describes the order of the axes of a dense tensor in memory.
type MemoryFormat int

const (
	// ContiguousFormat is the row-major order of the axes.
	ContiguousFormat MemoryFormat = iota

	// ChannelsLast stores the channels axis (axis 1) of an image tensor last.
	ChannelsLast

	// PreserveFormat keeps the format of the source tensor.
	PreserveFormat
)

// String implements fmt.Stringer.
func (f MemoryFormat) String() string {
	switch f {
	case ContiguousFormat:
		return "ContiguousFormat"
	case ChannelsLast:
		return "ChannelsLast"
	case PreserveFormat:
		return "PreserveFormat"
	default:
		return fmt.Sprintf("MemoryFormat(%d)", int(f))
	}
}

// TensorProperties are the properties of the elements of a tensor, shared by all its shards.
type TensorProperties struct {
	DType        dtypes.DType
	Layout       Layout
	RequiresGrad bool
	MemoryFormat MemoryFormat
	PinMemory    bool
}

// PropertiesOf returns the properties of a local tensor.
//
// Shards are always stored contiguously, so the memory format is normalized to ContiguousFormat.
func PropertiesOf(t *tensors.Tensor) TensorProperties {
	return TensorProperties{
		DType:        t.DType(),
		Layout:       Strided,
		RequiresGrad: t.RequiresGrad(),
		MemoryFormat: ContiguousFormat,
		PinMemory:    t.IsPinned(),
	}
}

// String implements fmt.Stringer.
func (p TensorProperties) String() string {
	return fmt.Sprintf("{dtype=%s, layout=%s, requiresGrad=%v, memoryFormat=%s, pinMemory=%v}",
		p.DType, p.Layout, p.RequiresGrad, p.MemoryFormat, p.PinMemory)
}
