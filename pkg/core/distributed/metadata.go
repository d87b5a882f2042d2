// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
	"github.com/gomlx/sharding/pkg/core/shapes"
)

// TensorMetadata describes a sharded tensor: its shards, in order, its global size and the properties of its
// elements.
//
// It is built by ShardingSpec.BuildMetadata, and it should be treated as immutable.
type TensorMetadata struct {
	ShardsMetadata []ShardMetadata
	Size           []int
	Properties     TensorProperties
}

// Shape returns the global shape of the tensor.
func (m *TensorMetadata) Shape() shapes.Shape {
	return shapes.Make(m.Properties.DType, m.Size...)
}

// NumElements of the global tensor.
func (m *TensorMetadata) NumElements() int {
	n := 1
	for _, dim := range m.Size {
		n *= dim
	}
	return n
}

// ShardsForRank returns the indices of the shards (in ShardsMetadata) placed on the given rank of the group,
// in order.
//
// It fails if any placement doesn't resolve to a rank of the group: the classification is the same on every rank.
func (m *TensorMetadata) ShardsForRank(group collective.Group, rank int) ([]int, error) {
	if err := collective.CheckRank(group, rank); err != nil {
		return nil, err
	}
	var indices []int
	for i, shard := range m.ShardsMetadata {
		shardRank, _, err := placement.Resolve(group, shard.Placement)
		if err != nil {
			return nil, errors.WithMessagef(err, "shard #%d", i)
		}
		if shardRank == rank {
			indices = append(indices, i)
		}
	}
	return indices, nil
}

// String implements fmt.Stringer.
func (m *TensorMetadata) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "TensorMetadata(size=%v, properties=%s, shards=[", m.Size, m.Properties)
	for i, shard := range m.ShardsMetadata {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(shard.String())
	}
	sb.WriteString("])")
	return sb.String()
}
