// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shardspec

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// EnumerableShardingSpec is an explicit list of shards, each with its own offsets, sizes and placement.
//
// It describes existing layouts: it can build the metadata of a tensor, but it can't distribute one.
// It is immutable.
type EnumerableShardingSpec struct {
	shards []distributed.ShardMetadata
}

var _ distributed.ShardingSpec = (*EnumerableShardingSpec)(nil)

// NewEnumerableShardingSpec creates an EnumerableShardingSpec with a copy of the given shards.
//
// The list must be non-empty, all shards must have the same rank, be valid (see ShardMetadata.Validate) and
// not overlap. Whether they cover the tensor is only checked against the tensor's size, in BuildMetadata.
func NewEnumerableShardingSpec(shards ...distributed.ShardMetadata) (*EnumerableShardingSpec, error) {
	if len(shards) == 0 {
		return nil, errors.Wrap(distributed.ErrEmptyShards, "NewEnumerableShardingSpec()")
	}
	rank := shards[0].Rank()
	for i, shard := range shards {
		if shard.Rank() != rank {
			return nil, errors.Wrapf(distributed.ErrInconsistentRank,
				"NewEnumerableShardingSpec(): shard #%d %s has rank %d, but shard #0 has rank %d",
				i, shard, shard.Rank(), rank)
		}
		if err := shard.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "NewEnumerableShardingSpec(): shard #%d", i)
		}
	}
	if err := distributed.CheckNoOverlap(shards); err != nil {
		return nil, errors.WithMessage(err, "NewEnumerableShardingSpec()")
	}
	cloned := make([]distributed.ShardMetadata, len(shards))
	for i, shard := range shards {
		cloned[i] = shard.Clone()
	}
	return &EnumerableShardingSpec{shards: cloned}, nil
}

// Shards returns a copy of the shards, in order.
func (s *EnumerableShardingSpec) Shards() []distributed.ShardMetadata {
	shards := make([]distributed.ShardMetadata, len(s.shards))
	for i, shard := range s.shards {
		shards[i] = shard.Clone()
	}
	return shards
}

// Devices implements distributed.PlacementSpec.
func (s *EnumerableShardingSpec) Devices() []placement.RemoteDevice {
	devices := make([]placement.RemoteDevice, len(s.shards))
	for i, shard := range s.shards {
		devices[i] = shard.Placement
	}
	return devices
}

// String implements fmt.Stringer.
func (s *EnumerableShardingSpec) String() string {
	parts := make([]string, len(s.shards))
	for i, shard := range s.shards {
		parts[i] = shard.String()
	}
	return fmt.Sprintf("EnumerableShardingSpec([%s])", strings.Join(parts, ", "))
}

// BuildMetadata implements distributed.ShardingSpec.
//
// The shards must exactly tile globalSize, otherwise it returns an error wrapping distributed.ErrShapeMismatch.
func (s *EnumerableShardingSpec) BuildMetadata(globalSize []int, props distributed.TensorProperties) (
	*distributed.TensorMetadata, error) {
	if err := distributed.CheckCoverage(s.shards, globalSize); err != nil {
		return nil, errors.WithMessagef(err, "%s.BuildMetadata()", s)
	}
	return &distributed.TensorMetadata{
		ShardsMetadata: s.Shards(),
		Size:           slices.Clone(globalSize),
		Properties:     props,
	}, nil
}

// Shard is not supported: it always returns an error wrapping distributed.ErrNotImplemented,
// without any collective call.
func (s *EnumerableShardingSpec) Shard(_ context.Context, _ *tensors.Tensor, _ int, _ collective.Group) (
	*distributed.Tensor, error) {
	return nil, errors.Wrap(distributed.ErrNotImplemented, "EnumerableShardingSpec.Shard()")
}
