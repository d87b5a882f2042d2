// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed/placement"
)

// ShardMetadata describes one shard: a rectangular region of the global tensor and where it is placed.
//
// Offsets is the starting coordinate of the shard in the global tensor, and Sizes its extent, one value per axis.
//
// Treat it as immutable: the functions of this package that store a ShardMetadata keep their own copy
// (see Clone).
type ShardMetadata struct {
	Offsets   []int
	Sizes     []int
	Placement placement.RemoteDevice
}

// NewShardMetadata returns a validated ShardMetadata, with its own copy of offsets and sizes.
func NewShardMetadata(offsets, sizes []int, p placement.RemoteDevice) (ShardMetadata, error) {
	m := ShardMetadata{
		Offsets:   slices.Clone(offsets),
		Sizes:     slices.Clone(sizes),
		Placement: p,
	}
	if err := m.Validate(); err != nil {
		return ShardMetadata{}, err
	}
	return m, nil
}

// Validate checks that offsets and sizes have the same length, offsets are non-negative, sizes are positive and
// the placement is set.
func (m ShardMetadata) Validate() error {
	if len(m.Offsets) != len(m.Sizes) {
		return errors.Wrapf(ErrInconsistentRank, "shard offsets %v and sizes %v have different ranks",
			m.Offsets, m.Sizes)
	}
	for axis, offset := range m.Offsets {
		if offset < 0 {
			return errors.Errorf("shard %s: offset %d for axis %d must be non-negative", m, offset, axis)
		}
		if m.Sizes[axis] <= 0 {
			return errors.Errorf("shard %s: size %d for axis %d must be positive", m, m.Sizes[axis], axis)
		}
	}
	if !m.Placement.Ok() {
		return errors.Wrapf(ErrInvalidPlacement, "shard %s has no placement", m)
	}
	return nil
}

// Rank is the number of axes of the shard.
func (m ShardMetadata) Rank() int { return len(m.Offsets) }

// NumElements in the shard.
func (m ShardMetadata) NumElements() int {
	n := 1
	for _, size := range m.Sizes {
		n *= size
	}
	return n
}

// Overlaps returns whether the regions of the two shards intersect.
// Shards of different ranks never overlap.
func (m ShardMetadata) Overlaps(other ShardMetadata) bool {
	if m.Rank() != other.Rank() {
		return false
	}
	for axis := range m.Offsets {
		if m.Offsets[axis] >= other.Offsets[axis]+other.Sizes[axis] ||
			other.Offsets[axis] >= m.Offsets[axis]+m.Sizes[axis] {
			return false
		}
	}
	return true
}

// Contains returns whether the region of other is fully within the region of m.
func (m ShardMetadata) Contains(other ShardMetadata) bool {
	if m.Rank() != other.Rank() {
		return false
	}
	for axis := range m.Offsets {
		if other.Offsets[axis] < m.Offsets[axis] ||
			other.Offsets[axis]+other.Sizes[axis] > m.Offsets[axis]+m.Sizes[axis] {
			return false
		}
	}
	return true
}

// withinBounds returns an error if the shard is not fully contained in a tensor of the given dimensions.
func (m ShardMetadata) withinBounds(globalSize []int) error {
	if len(m.Offsets) != len(m.Sizes) {
		return errors.Wrapf(ErrInconsistentRank, "shard offsets %v and sizes %v have different ranks",
			m.Offsets, m.Sizes)
	}
	if m.Rank() != len(globalSize) {
		return errors.Wrapf(ErrShapeMismatch, "shard %s has rank %d, but tensor size %v has rank %d",
			m, m.Rank(), globalSize, len(globalSize))
	}
	for axis, offset := range m.Offsets {
		if offset < 0 || m.Sizes[axis] < 0 || offset+m.Sizes[axis] > globalSize[axis] {
			return errors.Wrapf(ErrShapeMismatch, "shard %s is out of bounds of tensor size %v on axis %d",
				m, globalSize, axis)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m ShardMetadata) Clone() ShardMetadata {
	return ShardMetadata{
		Offsets:   slices.Clone(m.Offsets),
		Sizes:     slices.Clone(m.Sizes),
		Placement: m.Placement,
	}
}

// String implements fmt.Stringer.
func (m ShardMetadata) String() string {
	return fmt.Sprintf("Shard(offsets=%v, sizes=%v, placement=%s)", m.Offsets, m.Sizes, m.Placement)
}
