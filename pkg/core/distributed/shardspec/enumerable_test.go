// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shardspec

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
)

func enumShard(offsets, sizes []int, p string) distributed.ShardMetadata {
	return distributed.ShardMetadata{Offsets: offsets, Sizes: sizes, Placement: placement.MustParse(p)}
}

func TestNewEnumerableShardingSpec(t *testing.T) {
	shards := []distributed.ShardMetadata{
		enumShard([]int{0, 0}, []int{2, 4}, "rank:0/cpu"),
		enumShard([]int{2, 0}, []int{2, 2}, "rank:1/cpu"),
		enumShard([]int{2, 2}, []int{2, 2}, "trainer2/cuda:0"),
	}
	spec, err := NewEnumerableShardingSpec(shards...)
	require.NoError(t, err)

	// The spec keeps its own copy.
	shards[0].Sizes[0] = 100
	assert.Equal(t, []int{2, 4}, spec.Shards()[0].Sizes)
	got := spec.Shards()
	got[1].Offsets[0] = 100
	assert.Equal(t, []int{2, 0}, spec.Shards()[1].Offsets)

	assert.Equal(t, []placement.RemoteDevice{
		placement.MustParse("rank:0/cpu"),
		placement.MustParse("rank:1/cpu"),
		placement.MustParse("trainer2/cuda:0"),
	}, spec.Devices())
	assert.Contains(t, spec.String(), "EnumerableShardingSpec([Shard(offsets=[0 0]")

	testCases := []struct {
		name   string
		shards []distributed.ShardMetadata
		wantIs error
	}{
		{"empty", nil, distributed.ErrEmptyShards},
		{"inconsistent rank", []distributed.ShardMetadata{
			enumShard([]int{0, 0}, []int{2, 2}, "rank:0"),
			enumShard([]int{2}, []int{2}, "rank:1"),
		}, distributed.ErrInconsistentRank},
		{"overlap", []distributed.ShardMetadata{
			enumShard([]int{0, 0}, []int{2, 2}, "rank:0"),
			enumShard([]int{1, 1}, []int{2, 2}, "rank:1"),
		}, distributed.ErrOverlap},
		{"no placement", []distributed.ShardMetadata{
			{Offsets: []int{0}, Sizes: []int{2}},
		}, distributed.ErrInvalidPlacement},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEnumerableShardingSpec(tc.shards...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantIs)
		})
	}

	_, err = NewEnumerableShardingSpec(enumShard([]int{0}, []int{0}, "rank:0"))
	assert.Error(t, err, "sizes must be positive")
}

func TestEnumerableBuildMetadata(t *testing.T) {
	shards := []distributed.ShardMetadata{
		enumShard([]int{2, 0}, []int{2, 4}, "rank:1"),
		enumShard([]int{0, 0}, []int{2, 4}, "rank:0"),
	}
	spec, err := NewEnumerableShardingSpec(shards...)
	require.NoError(t, err)
	props := distributed.TensorProperties{DType: dtypes.Int32, RequiresGrad: true}

	meta, err := spec.BuildMetadata([]int{4, 4}, props)
	require.NoError(t, err)
	want := &distributed.TensorMetadata{
		ShardsMetadata: shards, // Order preserved as given.
		Size:           []int{4, 4},
		Properties:     props,
	}
	if diff := cmp.Diff(want, meta, cmpMetadata); diff != "" {
		t.Errorf("BuildMetadata() mismatch (-want +got):\n%s", diff)
	}

	// Shards don't cover the tensor.
	_, err = spec.BuildMetadata([]int{6, 4}, props)
	assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
	// Shards go beyond the tensor.
	_, err = spec.BuildMetadata([]int{4, 3}, props)
	assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
	// Different rank.
	_, err = spec.BuildMetadata([]int{16}, props)
	assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
}

func TestDevicePlacementSpec(t *testing.T) {
	spec, err := NewDevicePlacementSpec("rank:3/cuda:1")
	require.NoError(t, err)
	assert.Equal(t, "DevicePlacementSpec(rank:3/cuda:1)", spec.String())
	rank, ok := spec.Device().Rank()
	require.True(t, ok)
	assert.Equal(t, 3, rank)
	assert.Len(t, spec.Devices(), 1)

	_, err = NewDevicePlacementSpec("rank:-3")
	assert.ErrorIs(t, err, distributed.ErrInvalidPlacement)
	_, err = NewDevicePlacementSpecFromDevice(placement.RemoteDevice{})
	assert.ErrorIs(t, err, distributed.ErrInvalidPlacement)
	spec, err = NewDevicePlacementSpecFromDevice(placement.MustParse("ps/cpu"))
	require.NoError(t, err)
	assert.Equal(t, "ps", spec.Device().Worker())
}
