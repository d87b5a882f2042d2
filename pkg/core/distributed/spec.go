// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"fmt"

	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// PlacementSpec describes where an entity (e.g. a tensor or a module) is placed.
//
// Implementations are immutable, and are found in the package shardspec.
type PlacementSpec interface {
	fmt.Stringer

	// Devices returns the placements used by the spec, in order.
	Devices() []placement.RemoteDevice
}

// ShardingSpec is a PlacementSpec that describes how a tensor is split into shards.
type ShardingSpec interface {
	PlacementSpec

	// BuildMetadata returns the metadata of a tensor of the given global size sharded according to the spec.
	// It does all validation of the spec against the tensor size.
	BuildMetadata(globalSize []int, props TensorProperties) (*TensorMetadata, error)

	// Shard distributes the tensor t, materialized on srcRank, to the ranks of the group according to the spec.
	//
	// It must be called by every rank of the group. If group is nil, the group set in the context
	// (see collective.WithGroup) is used. The returned Tensor holds the shards placed on the caller's rank.
	Shard(ctx context.Context, t *tensors.Tensor, srcRank int, group collective.Group) (*Tensor, error)
}
