// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed defines the following objects related to tensors sharded across the ranks of a process group:
//
//   - ShardMetadata and TensorMetadata: the geometry (offsets and sizes) and placement of each shard of a tensor.
//   - ShardingSpec: defines how a logical tensor is split into shards, and distributes it. The implementations
//     are in the package shardspec.
//   - Tensor: the shards of a logical tensor held by one rank.
//   - DeviceMesh: expresses the topology of a set of devices, in terms of axes and their sizes.
//
// It also provides the chunk arithmetic (SplitSize, ChunkedDimSize) and the validation of shard geometries
// (CheckNoOverlap, CheckCoverage).
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// Shard is a local tensor paired with the metadata that describes which region of the logical tensor it holds.
type Shard struct {
	Tensor   *tensors.Tensor
	Metadata ShardMetadata
}

// Tensor is a logical tensor sharded across the ranks of a process group.
//
// It holds only the shards placed on the local rank: other ranks hold their own Tensor with their shards.
type Tensor struct {
	shards []Shard
	size   []int
	dtype  dtypes.DType
	group  collective.Group

	// props of the logical tensor. By default, taken from the first local shard.
	props TensorProperties

	// spec used to create the tensor, if known.
	spec ShardingSpec
}

// NewTensorFromLocalShards creates a Tensor from the shards held by the local rank.
//
// Each shard's tensor must have the sizes of its metadata, lie within globalSize and all shards must have the
// same dtype. The local shards must not overlap. The group can be nil for tensors not attached to a process group.
//
// The Tensor takes ownership of the shard tensors.
func NewTensorFromLocalShards(shards []Shard, globalSize []int, group collective.Group) (*Tensor, error) {
	for axis, dim := range globalSize {
		if dim < 0 {
			return nil, errors.Wrapf(ErrShapeMismatch, "global size %v has a negative dimension on axis %d",
				globalSize, axis)
		}
	}
	dtype := dtypes.InvalidDType
	metas := make([]ShardMetadata, 0, len(shards))
	for i, shard := range shards {
		if err := shard.Tensor.CheckValid(); err != nil {
			return nil, errors.WithMessagef(err, "shard #%d", i)
		}
		if err := shard.Metadata.withinBounds(globalSize); err != nil {
			return nil, errors.WithMessagef(err, "shard #%d", i)
		}
		if !shard.Metadata.Placement.Ok() {
			return nil, errors.Wrapf(ErrInvalidPlacement, "shard #%d %s has no placement", i, shard.Metadata)
		}
		if !slices.Equal(shard.Tensor.Shape().Dimensions, shard.Metadata.Sizes) {
			return nil, errors.Wrapf(ErrShapeMismatch, "shard #%d: tensor shape %s doesn't match sizes of %s",
				i, shard.Tensor.Shape(), shard.Metadata)
		}
		if i == 0 {
			dtype = shard.Tensor.DType()
		} else if shard.Tensor.DType() != dtype {
			return nil, errors.Wrapf(ErrShapeMismatch, "shard #%d has dtype %s, but shard #0 has dtype %s",
				i, shard.Tensor.DType(), dtype)
		}
		metas = append(metas, shard.Metadata)
	}
	if err := CheckNoOverlap(metas); err != nil {
		return nil, err
	}

	owned := make([]Shard, len(shards))
	for i, shard := range shards {
		owned[i] = Shard{Tensor: shard.Tensor, Metadata: shard.Metadata.Clone()}
	}
	props := TensorProperties{DType: dtype}
	if len(shards) > 0 {
		props = PropertiesOf(shards[0].Tensor)
	}
	return &Tensor{
		shards: owned,
		size:   slices.Clone(globalSize),
		dtype:  dtype,
		group:  group,
		props:  props,
	}, nil
}

// LocalShards returns the shards held by the local rank, in order.
// The returned slice is a copy, but the shard tensors are shared.
func (dt *Tensor) LocalShards() []Shard {
	return slices.Clone(dt.shards)
}

// Size returns the global dimensions of the logical tensor.
func (dt *Tensor) Size() []int {
	return slices.Clone(dt.size)
}

// DType of the tensor, or dtypes.InvalidDType if the local rank holds no shards.
func (dt *Tensor) DType() dtypes.DType {
	return dt.dtype
}

// Shape returns the logical (global) shape of the tensor.
func (dt *Tensor) Shape() shapes.Shape {
	return shapes.Make(dt.dtype, dt.size...)
}

// Group the tensor is sharded across. It may be nil.
func (dt *Tensor) Group() collective.Group {
	return dt.group
}

// ShardingSpec used to create the tensor, or nil if not known.
func (dt *Tensor) ShardingSpec() ShardingSpec {
	return dt.spec
}

// WithShardingSpec returns a copy of the Tensor recording the spec used to create it.
// The shards are shared with dt.
func (dt *Tensor) WithShardingSpec(spec ShardingSpec) *Tensor {
	dt2 := *dt
	dt2.spec = spec
	return &dt2
}

// Properties of the logical tensor.
func (dt *Tensor) Properties() TensorProperties {
	return dt.props
}

// WithProperties returns a copy of the Tensor recording the properties of the logical tensor it was sharded from,
// e.g. PinMemory, which the local shards don't carry.
//
// If the local rank holds shards, their dtype takes precedence over props.DType. Otherwise props.DType becomes
// the dtype of the Tensor.
func (dt *Tensor) WithProperties(props TensorProperties) *Tensor {
	dt2 := *dt
	if len(dt.shards) > 0 {
		props.DType = dt.dtype
	} else {
		dt2.dtype = props.DType
	}
	dt2.props = props
	return &dt2
}

// Metadata returns the metadata of the local shards.
func (dt *Tensor) Metadata() *TensorMetadata {
	meta := &TensorMetadata{
		ShardsMetadata: make([]ShardMetadata, len(dt.shards)),
		Size:           slices.Clone(dt.size),
		Properties:     dt.props,
	}
	for i, shard := range dt.shards {
		meta.ShardsMetadata[i] = shard.Metadata.Clone()
	}
	return meta
}

// String implements fmt.Stringer.
func (dt *Tensor) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "distributed.Tensor(size=%v, dtype=%s", dt.size, dt.dtype)
	if dt.group != nil {
		_, _ = fmt.Fprintf(&sb, ", group=%q, rank=%d", dt.group.Name(), dt.group.Rank())
	}
	if dt.spec != nil {
		_, _ = fmt.Fprintf(&sb, ", spec=%s", dt.spec)
	}
	sb.WriteString(", local shards=[")
	for i, shard := range dt.shards {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(shard.Metadata.String())
	}
	sb.WriteString("])")
	return sb.String()
}

// Assemble creates a new local tensor of the given global size with the data of the shards placed at their offsets.
//
// The shards must exactly tile the global size (see CheckCoverage) and have the same dtype.
// It's used to gather the shards of all ranks back into one tensor.
func Assemble(globalSize []int, shards ...Shard) (*tensors.Tensor, error) {
	if len(shards) == 0 {
		return nil, errors.Wrap(ErrEmptyShards, "distributed.Assemble() needs at least one shard to know the dtype")
	}
	metas := make([]ShardMetadata, len(shards))
	var dtype dtypes.DType
	for i, shard := range shards {
		if err := shard.Tensor.CheckValid(); err != nil {
			return nil, errors.WithMessagef(err, "distributed.Assemble() shard #%d", i)
		}
		if i == 0 {
			dtype = shard.Tensor.DType()
		} else if shard.Tensor.DType() != dtype {
			return nil, errors.Wrapf(ErrShapeMismatch, "distributed.Assemble(): shard #%d has dtype %s, "+
				"but shard #0 has dtype %s", i, shard.Tensor.DType(), dtype)
		}
		if !slices.Equal(shard.Tensor.Shape().Dimensions, shard.Metadata.Sizes) {
			return nil, errors.Wrapf(ErrShapeMismatch, "distributed.Assemble(): shard #%d tensor shape %s "+
				"doesn't match sizes of %s", i, shard.Tensor.Shape(), shard.Metadata)
		}
		metas[i] = shard.Metadata
	}
	if err := CheckCoverage(metas, globalSize); err != nil {
		return nil, errors.WithMessage(err, "distributed.Assemble()")
	}

	result := tensors.FromShape(shapes.Make(dtype, globalSize...))
	for i, shard := range shards {
		if err := result.SetSlice(shard.Metadata.Offsets, shard.Tensor); err != nil {
			return nil, errors.WithMessagef(err, "distributed.Assemble() shard #%d", i)
		}
	}
	return result, nil
}
