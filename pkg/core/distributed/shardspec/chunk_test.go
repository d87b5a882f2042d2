// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shardspec

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
)

// rankPlacements returns the placements "rank:0/cpu", ..., "rank:<n-1>/cpu".
func rankPlacements(n int) []string {
	placements := make([]string, n)
	for i := range placements {
		placements[i] = fmt.Sprintf("rank:%d/cpu", i)
	}
	return placements
}

// cmpMetadata compares metadata including the unexported fields of placements.
var cmpMetadata = cmp.AllowUnexported(placement.RemoteDevice{})

func TestNewChunkShardingSpec(t *testing.T) {
	spec, err := NewChunkShardingSpec(0, "rank:0/cuda:0", "rank:1/cuda:0", "trainer2/cpu")
	require.NoError(t, err)
	assert.Equal(t, 0, spec.Dim())
	assert.Equal(t, "ChunkShardingSpec(dim=0, placements=[rank:0/cuda:0, rank:1/cuda:0, trainer2/cpu])",
		spec.String())
	placements := spec.Placements()
	require.Len(t, placements, 3)
	placements[0] = placement.MustParse("rank:7")
	assert.Equal(t, placement.MustParse("rank:0/cuda:0"), spec.Placements()[0], "Placements() must return a copy")
	assert.Equal(t, spec.Placements(), spec.Devices())

	spec, err = NewChunkShardingSpec(int64(-1), "rank:0")
	require.NoError(t, err)
	assert.Equal(t, -1, spec.Dim())
	spec, err = NewChunkShardingSpec(uint64(1), "rank:0")
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Dim())

	testCases := []struct {
		name       string
		dim        any
		placements []string
		wantIs     error
	}{
		{"named dimension", "batch", []string{"rank:0"}, distributed.ErrNamedDimension},
		{"float dimension", 1.0, []string{"rank:0"}, distributed.ErrInvalidDimension},
		{"nil dimension", nil, []string{"rank:0"}, distributed.ErrInvalidDimension},
		{"invalid placement", 0, []string{"rank:0", "rank:x/cpu"}, distributed.ErrInvalidPlacement},
		{"no placements", 0, nil, distributed.ErrInvalidPlacement},
		{"placement without rank or worker", 0, []string{"rank:0", "cuda:0"}, distributed.ErrInvalidPlacement},
		{"uint64 dimension overflows int", uint64(math.MaxUint64), []string{"rank:0", "rank:1"},
			distributed.ErrInvalidDimension},
		{"uint dimension overflows int", uint(math.MaxInt) + 1, []string{"rank:0"}, distributed.ErrInvalidDimension},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChunkShardingSpec(tc.dim, tc.placements...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantIs)
		})
	}

	_, err = NewChunkShardingSpecFromDevices(0, placement.MustParse("rank:0"), placement.RemoteDevice{})
	assert.ErrorIs(t, err, distributed.ErrInvalidPlacement)
}

func TestNewChunkShardingSpecFromMesh(t *testing.T) {
	mesh, err := distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
	require.NoError(t, err)
	require.NoError(t, mesh.SetLogicalDeviceAssignment(1, 0, 3, 2))
	spec, err := NewChunkShardingSpecFromMesh(1, mesh, "cuda:0")
	require.NoError(t, err)
	assert.Equal(t,
		"ChunkShardingSpec(dim=1, placements=[rank:1/cuda:0, rank:0/cuda:0, rank:3/cuda:0, rank:2/cuda:0])",
		spec.String())

	_, err = NewChunkShardingSpecFromMesh(0, mesh, "not a device")
	assert.ErrorIs(t, err, distributed.ErrInvalidPlacement)
}

func TestChunkBuildMetadata(t *testing.T) {
	props := distributed.TensorProperties{DType: dtypes.Float32}
	p := placement.MustParse

	t.Run("even", func(t *testing.T) {
		spec, err := NewChunkShardingSpec(0, rankPlacements(4)...)
		require.NoError(t, err)
		meta, err := spec.BuildMetadata([]int{8, 4}, props)
		require.NoError(t, err)
		want := &distributed.TensorMetadata{
			ShardsMetadata: []distributed.ShardMetadata{
				{Offsets: []int{0, 0}, Sizes: []int{2, 4}, Placement: p("rank:0/cpu")},
				{Offsets: []int{2, 0}, Sizes: []int{2, 4}, Placement: p("rank:1/cpu")},
				{Offsets: []int{4, 0}, Sizes: []int{2, 4}, Placement: p("rank:2/cpu")},
				{Offsets: []int{6, 0}, Sizes: []int{2, 4}, Placement: p("rank:3/cpu")},
			},
			Size:       []int{8, 4},
			Properties: props,
		}
		if diff := cmp.Diff(want, meta, cmpMetadata); diff != "" {
			t.Errorf("BuildMetadata() mismatch (-want +got):\n%s", diff)
		}
		require.NoError(t, distributed.CheckCoverage(meta.ShardsMetadata, meta.Size))
	})

	t.Run("negative dim", func(t *testing.T) {
		spec, err := NewChunkShardingSpec(-1, rankPlacements(2)...)
		require.NoError(t, err)
		meta, err := spec.BuildMetadata([]int{3, 4}, props)
		require.NoError(t, err)
		require.Len(t, meta.ShardsMetadata, 2)
		assert.Equal(t, []int{0, 2}, meta.ShardsMetadata[1].Offsets)
		assert.Equal(t, []int{3, 2}, meta.ShardsMetadata[1].Sizes)
	})

	t.Run("uneven", func(t *testing.T) {
		spec, err := NewChunkShardingSpec(0, rankPlacements(3)...)
		require.NoError(t, err)
		meta, err := spec.BuildMetadata([]int{10}, props)
		require.NoError(t, err)
		var offsets, sizes []int
		for _, shard := range meta.ShardsMetadata {
			offsets = append(offsets, shard.Offsets[0])
			sizes = append(sizes, shard.Sizes[0])
		}
		assert.Equal(t, []int{0, 4, 8}, offsets)
		assert.Equal(t, []int{4, 4, 2}, sizes)
	})

	t.Run("over-partition", func(t *testing.T) {
		spec, err := NewChunkShardingSpec(0, rankPlacements(5)...)
		require.NoError(t, err)
		meta, err := spec.BuildMetadata([]int{3}, props)
		require.NoError(t, err)
		require.Len(t, meta.ShardsMetadata, 3)
		for i, shard := range meta.ShardsMetadata {
			assert.Equal(t, []int{i}, shard.Offsets)
			assert.Equal(t, []int{1}, shard.Sizes)
			assert.Equal(t, p(fmt.Sprintf("rank:%d", i)), shard.Placement)
		}
	})

	t.Run("dim out of range", func(t *testing.T) {
		for _, dim := range []int{2, -3} {
			spec, err := NewChunkShardingSpec(dim, rankPlacements(2)...)
			require.NoError(t, err, "dim is only checked against the tensor rank")
			_, err = spec.BuildMetadata([]int{4, 4}, props)
			assert.ErrorIsf(t, err, distributed.ErrInvalidDimension, "dim=%d", dim)
		}
	})
}

// TestChunkShardCount checks the number of shards and that they don't overlap on the sharded axis,
// over a range of dimension sizes and number of placements.
func TestChunkShardCount(t *testing.T) {
	props := distributed.TensorProperties{DType: dtypes.Int8}
	for numPlacements := 1; numPlacements <= 9; numPlacements++ {
		spec, err := NewChunkShardingSpec(1, rankPlacements(numPlacements)...)
		require.NoError(t, err)
		for dimSize := 1; dimSize <= 30; dimSize++ {
			meta, err := spec.BuildMetadata([]int{2, dimSize}, props)
			require.NoError(t, err)
			split := distributed.SplitSize(dimSize, numPlacements)
			want := min(numPlacements, (dimSize+split-1)/split)
			require.Lenf(t, meta.ShardsMetadata, want, "dimSize=%d, numPlacements=%d", dimSize, numPlacements)
			require.NoError(t, distributed.CheckNoOverlap(meta.ShardsMetadata))
			require.NoError(t, distributed.CheckCoverage(meta.ShardsMetadata, meta.Size))
		}
	}
}
