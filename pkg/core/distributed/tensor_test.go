// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// rowShard returns the shard with rows [start, start+length) of x, placed on the given rank.
func rowShard(t *testing.T, x *tensors.Tensor, start, length, rank int) distributed.Shard {
	narrowed, err := x.Narrow(0, start, length)
	require.NoError(t, err)
	offsets := make([]int, x.Rank())
	offsets[0] = start
	p, err := placement.New(rank, "cpu")
	require.NoError(t, err)
	meta, err := distributed.NewShardMetadata(offsets, narrowed.Shape().Dimensions, p)
	require.NoError(t, err)
	return distributed.Shard{Tensor: narrowed, Metadata: meta}
}

func TestNewTensorFromLocalShards(t *testing.T) {
	x := tensors.FromValue([][]float32{{0, 1}, {2, 3}, {4, 5}, {6, 7}})
	shards := []distributed.Shard{rowShard(t, x, 0, 1, 0), rowShard(t, x, 2, 2, 0)}
	dt, err := distributed.NewTensorFromLocalShards(shards, []int{4, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, dt.Size())
	assert.Equal(t, dtypes.Float32, dt.DType())
	assert.Equal(t, "(Float32)[4 2]", dt.Shape().String())
	assert.Nil(t, dt.Group())
	assert.Nil(t, dt.ShardingSpec())
	require.Len(t, dt.LocalShards(), 2)

	// Metadata of the local shards.
	want := &distributed.TensorMetadata{
		ShardsMetadata: []distributed.ShardMetadata{shards[0].Metadata, shards[1].Metadata},
		Size:           []int{4, 2},
		Properties:     distributed.PropertiesOf(x),
	}
	if diff := cmp.Diff(want, dt.Metadata(), cmp.AllowUnexported(placement.RemoteDevice{})); diff != "" {
		t.Errorf("Metadata() mismatch (-want +got):\n%s", diff)
	}

	// Modifying the input slice doesn't affect the Tensor.
	shards[0].Metadata.Offsets[0] = 3
	assert.Equal(t, []int{0, 0}, dt.LocalShards()[0].Metadata.Offsets)

	// A rank with no shards.
	empty, err := distributed.NewTensorFromLocalShards(nil, []int{4, 2}, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.LocalShards())
	assert.Equal(t, dtypes.InvalidDType, empty.DType())
	assert.Contains(t, empty.String(), "local shards=[]")
}

func TestTensorWithProperties(t *testing.T) {
	x := tensors.FromValue([][]float32{{0, 1}, {2, 3}})
	dt, err := distributed.NewTensorFromLocalShards([]distributed.Shard{rowShard(t, x, 0, 2, 0)}, []int{2, 2}, nil)
	require.NoError(t, err)
	assert.False(t, dt.Properties().PinMemory)

	// The dtype of the shards takes precedence.
	props := distributed.TensorProperties{DType: dtypes.Int8, RequiresGrad: true, PinMemory: true}
	pinned := dt.WithProperties(props)
	assert.False(t, dt.Properties().PinMemory, "WithProperties must not change the original")
	want := distributed.TensorProperties{DType: dtypes.Float32, RequiresGrad: true, PinMemory: true}
	assert.Equal(t, want, pinned.Properties())
	assert.Equal(t, want, pinned.Metadata().Properties)
	assert.Equal(t, dtypes.Float32, pinned.DType())

	// Without local shards, the properties give the dtype.
	empty, err := distributed.NewTensorFromLocalShards(nil, []int{2, 2}, nil)
	require.NoError(t, err)
	empty = empty.WithProperties(props)
	assert.Equal(t, dtypes.Int8, empty.DType())
	assert.Equal(t, props, empty.Metadata().Properties)
}

func TestNewTensorFromLocalShardsErrors(t *testing.T) {
	x := tensors.FromValue([][]int32{{0, 1}, {2, 3}, {4, 5}, {6, 7}})
	good := rowShard(t, x, 0, 2, 0)

	t.Run("sizes mismatch", func(t *testing.T) {
		bad := good
		bad.Metadata = good.Metadata.Clone()
		bad.Metadata.Sizes[0] = 3
		_, err := distributed.NewTensorFromLocalShards([]distributed.Shard{bad}, []int{4, 2}, nil)
		assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
	})
	t.Run("out of bounds", func(t *testing.T) {
		_, err := distributed.NewTensorFromLocalShards([]distributed.Shard{good}, []int{1, 2}, nil)
		assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
	})
	t.Run("dtype mismatch", func(t *testing.T) {
		other := rowShard(t, tensors.FromValue([][]float64{{0, 1}, {2, 3}, {4, 5}, {6, 7}}), 2, 2, 0)
		_, err := distributed.NewTensorFromLocalShards([]distributed.Shard{good, other}, []int{4, 2}, nil)
		assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
	})
	t.Run("overlap", func(t *testing.T) {
		_, err := distributed.NewTensorFromLocalShards(
			[]distributed.Shard{good, rowShard(t, x, 1, 2, 0)}, []int{4, 2}, nil)
		assert.ErrorIs(t, err, distributed.ErrOverlap)
	})
	t.Run("nil tensor", func(t *testing.T) {
		bad := distributed.Shard{Metadata: good.Metadata}
		_, err := distributed.NewTensorFromLocalShards([]distributed.Shard{bad}, []int{4, 2}, nil)
		require.Error(t, err)
	})
}

func TestAssemble(t *testing.T) {
	// Half-precision payload: the values are small integers, exactly representable.
	flat := make([]float16.Float16, 8*4)
	for i := range flat {
		flat[i] = float16.Fromfloat32(float32(i))
	}
	x := tensors.FromFlatDataAndDimensions(flat, 8, 4)
	var shards []distributed.Shard
	for rank := range 4 {
		shards = append(shards, rowShard(t, x, 2*rank, 2, rank))
	}
	// Order of the shards doesn't matter.
	shards[0], shards[3] = shards[3], shards[0]
	assembled, err := distributed.Assemble([]int{8, 4}, shards...)
	require.NoError(t, err)
	assert.True(t, x.Equal(assembled))

	// Shards in both axes.
	y := tensors.FromValue([][]int32{{0, 1, 2}, {3, 4, 5}})
	left, err := y.Narrow(1, 0, 2)
	require.NoError(t, err)
	right, err := y.Narrow(1, 2, 1)
	require.NoError(t, err)
	p := placement.MustParse("rank:0")
	assembled, err = distributed.Assemble([]int{2, 3},
		distributed.Shard{Tensor: right, Metadata: distributed.ShardMetadata{Offsets: []int{0, 2}, Sizes: []int{2, 1}, Placement: p}},
		distributed.Shard{Tensor: left, Metadata: distributed.ShardMetadata{Offsets: []int{0, 0}, Sizes: []int{2, 2}, Placement: p}},
	)
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{0, 1, 2}, {3, 4, 5}}, assembled.Value())

	// Missing shard.
	_, err = distributed.Assemble([]int{8, 4}, shards[:3]...)
	assert.ErrorIs(t, err, distributed.ErrShapeMismatch)
	_, err = distributed.Assemble([]int{8, 4})
	assert.ErrorIs(t, err, distributed.ErrEmptyShards)
}
