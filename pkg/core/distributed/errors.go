// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
)

// Errors returned by the package, they are wrapped with context and can be tested with errors.Is.
//
// All configuration and geometry errors are returned before any collective call is issued.
var (
	// ErrNamedDimension is returned when a sharding dimension is given by name: only integer indices are supported.
	ErrNamedDimension = errors.New("named sharding dimensions are not supported")

	// ErrInvalidDimension is returned for non-integer sharding dimensions, or dimensions out of range
	// for the rank of the tensor.
	ErrInvalidDimension = errors.New("invalid sharding dimension")

	// ErrEmptyShards is returned when an explicit list of shards is empty.
	ErrEmptyShards = errors.New("empty list of shards")

	// ErrInconsistentRank is returned when shards (or offsets and sizes) have different ranks.
	ErrInconsistentRank = errors.New("inconsistent shard rank")

	// ErrInvalidPlacement is returned for malformed placements, or placements that don't resolve to a rank
	// of the group.
	ErrInvalidPlacement = placement.ErrInvalid

	// ErrInvalidConfig is returned for malformed sharding configurations.
	ErrInvalidConfig = errors.New("invalid sharding configuration")

	// ErrNoGroup is returned when no process group is given and none is set in the context.
	ErrNoGroup = collective.ErrNoGroup

	// ErrOverlap is returned when two shards overlap.
	ErrOverlap = errors.New("overlapping shards")

	// ErrShapeMismatch is returned when shards don't exactly tile the shape of the tensor,
	// or when a shard's data doesn't match its metadata.
	ErrShapeMismatch = errors.New("shards don't match tensor shape")

	// ErrNotImplemented is returned by operations a ShardingSpec doesn't support.
	ErrNotImplemented = errors.New("not implemented")
)
