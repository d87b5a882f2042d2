// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"slices"

	"github.com/pkg/errors"
)

// CheckNoOverlap returns an error wrapping ErrOverlap if the regions of any two shards intersect.
// All shards must have the same rank, otherwise it returns an error wrapping ErrInconsistentRank.
//
// Shards are compared pairwise: the number of shards is bounded by the number of ranks.
func CheckNoOverlap(shards []ShardMetadata) error {
	for i, shard := range shards {
		if len(shard.Sizes) != len(shard.Offsets) {
			return errors.Wrapf(ErrInconsistentRank, "shard #%d %s has %d offsets and %d sizes",
				i, shard, len(shard.Offsets), len(shard.Sizes))
		}
		if shard.Rank() != shards[0].Rank() {
			return errors.Wrapf(ErrInconsistentRank, "shard #%d %s has rank %d, but shard #0 %s has rank %d",
				i, shard, shard.Rank(), shards[0], shards[0].Rank())
		}
	}
	for i := range shards {
		for j := i + 1; j < len(shards); j++ {
			if shards[i].Overlaps(shards[j]) {
				return errors.Wrapf(ErrOverlap, "shard #%d %s overlaps with shard #%d %s", i, shards[i], j, shards[j])
			}
		}
	}
	return nil
}

// CheckCoverage returns an error wrapping ErrShapeMismatch if the shards don't exactly tile a tensor of
// dimensions globalSize: every shard must have the same rank as the tensor and be within bounds, and every
// element of the tensor must be covered by exactly one shard.
//
// The space is compressed into a grid of cells delimited by the boundaries of all shards, and each shard
// marks the cells it covers. So the cost depends on the number of shards, not on the size of the tensor.
func CheckCoverage(shards []ShardMetadata, globalSize []int) error {
	for axis, dim := range globalSize {
		if dim < 0 {
			return errors.Wrapf(ErrShapeMismatch, "tensor size %v has a negative dimension on axis %d",
				globalSize, axis)
		}
	}
	for _, shard := range shards {
		if err := shard.withinBounds(globalSize); err != nil {
			return err
		}
	}

	// Cut points per axis: sorted unique boundaries, including 0 and the axis dimension.
	rank := len(globalSize)
	cuts := make([][]int, rank)
	numCells := 1
	for axis, dim := range globalSize {
		axisCuts := []int{0, dim}
		for _, shard := range shards {
			axisCuts = append(axisCuts, shard.Offsets[axis], shard.Offsets[axis]+shard.Sizes[axis])
		}
		slices.Sort(axisCuts)
		axisCuts = slices.Compact(axisCuts)
		cuts[axis] = axisCuts
		numCells *= len(axisCuts) - 1
	}
	cellStrides := make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		cellStrides[axis] = stride
		stride *= len(cuts[axis]) - 1
	}

	// Mark cells covered by each shard.
	owner := make([]int, numCells) // Index+1 of the shard covering the cell, 0 if not covered.
	for shardIdx, shard := range shards {
		first := make([]int, rank)
		last := make([]int, rank) // Exclusive.
		for axis := range rank {
			first[axis], _ = slices.BinarySearch(cuts[axis], shard.Offsets[axis])
			last[axis], _ = slices.BinarySearch(cuts[axis], shard.Offsets[axis]+shard.Sizes[axis])
			if first[axis] >= last[axis] {
				// Empty shard: it covers nothing.
				first = nil
				break
			}
		}
		if first == nil {
			continue
		}
		cell := slices.Clone(first)
		for {
			flat := 0
			for axis, idx := range cell {
				flat += idx * cellStrides[axis]
			}
			if owner[flat] != 0 {
				return errors.Wrapf(ErrShapeMismatch,
					"shards #%d %s and #%d %s both cover the region starting at %v",
					owner[flat]-1, shards[owner[flat]-1], shardIdx, shard, cellStart(cuts, cell))
			}
			owner[flat] = shardIdx + 1

			// Next cell within the shard.
			axis := rank - 1
			for ; axis >= 0; axis-- {
				cell[axis]++
				if cell[axis] < last[axis] {
					break
				}
				cell[axis] = first[axis]
			}
			if axis < 0 {
				break
			}
		}
	}

	// Any cell left uncovered is a gap.
	for flat, shardIdx := range owner {
		if shardIdx != 0 {
			continue
		}
		cell := make([]int, rank)
		for axis := range rank {
			cell[axis] = (flat / cellStrides[axis]) % (len(cuts[axis]) - 1)
		}
		return errors.Wrapf(ErrShapeMismatch, "shards don't cover the region of tensor size %v starting at %v",
			globalSize, cellStart(cuts, cell))
	}
	return nil
}

// cellStart converts cell indices into the coordinates of the cell's first element.
func cellStart(cuts [][]int, cell []int) []int {
	coords := make([]int, len(cell))
	for axis, idx := range cell {
		coords[axis] = cuts[axis][idx]
	}
	return coords
}
