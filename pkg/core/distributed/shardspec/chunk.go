// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shardspec implements the placement and sharding specs of the package distributed:
//
//   - ChunkShardingSpec: splits one axis of a tensor into contiguous chunks, one per placement, and distributes
//     tensors accordingly.
//   - EnumerableShardingSpec: an explicit list of shards, describing an existing layout.
//   - DevicePlacementSpec: places a whole entity on one device.
//
// Specs can also be described in YAML, see Config.
package shardspec

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// ChunkShardingSpec splits the tensor along one axis (dim) into contiguous chunks of (nearly) equal size,
// one per placement, in order.
//
// The chunk size is ceil(dimSize / numPlacements) (see distributed.SplitSize), so the last chunks may be
// smaller. If there are more placements than elements in the axis, the trailing placements receive no shard.
//
// It is immutable.
type ChunkShardingSpec struct {
	dim        int
	placements []placement.RemoteDevice
}

var _ distributed.ShardingSpec = (*ChunkShardingSpec)(nil)

// NewChunkShardingSpec creates a ChunkShardingSpec that shards the axis dim across the given placements.
//
// The dim must be an integer: named dimensions (strings) are not supported (distributed.ErrNamedDimension).
// It can be negative, in which case it counts from the end of the tensor's axes, and it is checked against the
// rank of the tensor when the spec is used.
//
// Placements are parsed with placement.Parse, e.g. "rank:0/cuda:0" or "trainer1/cpu".
func NewChunkShardingSpec(dim any, placements ...string) (*ChunkShardingSpec, error) {
	devices := make([]placement.RemoteDevice, len(placements))
	for i, p := range placements {
		d, err := placement.Parse(p)
		if err != nil {
			return nil, errors.WithMessagef(err, "NewChunkShardingSpec(): placement #%d", i)
		}
		devices[i] = d
	}
	return NewChunkShardingSpecFromDevices(dim, devices...)
}

// NewChunkShardingSpecFromDevices creates a ChunkShardingSpec that shards the axis dim across the given devices.
// See NewChunkShardingSpec.
func NewChunkShardingSpecFromDevices(dim any, devices ...placement.RemoteDevice) (*ChunkShardingSpec, error) {
	intDim, err := parseDim(dim)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.Wrap(distributed.ErrInvalidPlacement,
			"ChunkShardingSpec requires at least one placement")
	}
	for i, d := range devices {
		if !d.Ok() {
			return nil, errors.Wrapf(distributed.ErrInvalidPlacement, "ChunkShardingSpec placement #%d is not set", i)
		}
		if _, hasRank := d.Rank(); !hasRank && d.Worker() == "" {
			return nil, errors.Wrapf(distributed.ErrInvalidPlacement,
				"ChunkShardingSpec placement #%d %q names neither a rank nor a worker", i, d)
		}
	}
	return &ChunkShardingSpec{
		dim:        intDim,
		placements: slices.Clone(devices),
	}, nil
}

// NewChunkShardingSpecFromMesh creates a ChunkShardingSpec with one placement per position of the mesh, in
// row-major order, each on the rank assigned to the position (see DeviceMesh.Ranks) and the given device.
func NewChunkShardingSpecFromMesh(dim any, mesh *distributed.DeviceMesh, device string) (*ChunkShardingSpec, error) {
	ranks := mesh.Ranks()
	devices := make([]placement.RemoteDevice, len(ranks))
	for i, rank := range ranks {
		d, err := placement.New(rank, device)
		if err != nil {
			return nil, errors.WithMessagef(err, "NewChunkShardingSpecFromMesh(%s)", mesh)
		}
		devices[i] = d
	}
	return NewChunkShardingSpecFromDevices(dim, devices...)
}

// parseDim converts the sharding dimension to an int.
func parseDim(dim any) (int, error) {
	switch v := dim.(type) {
	case string:
		return 0, errors.Wrapf(distributed.ErrNamedDimension, "sharding dimension %q", v)
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		if v > math.MaxInt || v < math.MinInt {
			return 0, dimOverflow(dim)
		}
		return int(v), nil
	case uint:
		if v > math.MaxInt {
			return 0, dimOverflow(dim)
		}
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		if uint64(v) > math.MaxInt {
			return 0, dimOverflow(dim)
		}
		return int(v), nil
	case uint64:
		if v > math.MaxInt {
			return 0, dimOverflow(dim)
		}
		return int(v), nil
	default:
		return 0, errors.Wrapf(distributed.ErrInvalidDimension, "sharding dimension must be an integer, got %#v (%T)",
			dim, dim)
	}
}

func dimOverflow(dim any) error {
	return errors.Wrapf(distributed.ErrInvalidDimension, "sharding dimension %v (%T) doesn't fit an int", dim, dim)
}

// Dim returns the sharded axis, as given: it may be negative.
func (s *ChunkShardingSpec) Dim() int { return s.dim }

// Placements returns a copy of the placements, in chunk order.
func (s *ChunkShardingSpec) Placements() []placement.RemoteDevice {
	return slices.Clone(s.placements)
}

// Devices implements distributed.PlacementSpec.
func (s *ChunkShardingSpec) Devices() []placement.RemoteDevice {
	return s.Placements()
}

// String implements fmt.Stringer.
func (s *ChunkShardingSpec) String() string {
	parts := make([]string, len(s.placements))
	for i, p := range s.placements {
		parts[i] = p.String()
	}
	return fmt.Sprintf("ChunkShardingSpec(dim=%d, placements=[%s])", s.dim, strings.Join(parts, ", "))
}

// normalizedDim returns the sharded axis for a tensor of the given rank, in [0, rank).
func (s *ChunkShardingSpec) normalizedDim(rank int) (int, error) {
	if s.dim >= rank || s.dim < -rank {
		return 0, errors.Wrapf(distributed.ErrInvalidDimension,
			"sharding dimension %d is out of range for a tensor of rank %d", s.dim, rank)
	}
	if s.dim < 0 {
		return s.dim + rank, nil
	}
	return s.dim, nil
}

// BuildMetadata implements distributed.ShardingSpec.
//
// Shards are listed in placement order, and placements whose chunk is empty are skipped.
func (s *ChunkShardingSpec) BuildMetadata(globalSize []int, props distributed.TensorProperties) (
	*distributed.TensorMetadata, error) {
	dim, err := s.normalizedDim(len(globalSize))
	if err != nil {
		return nil, err
	}
	for axis, size := range globalSize {
		if size < 0 {
			return nil, errors.Wrapf(distributed.ErrShapeMismatch, "tensor size %v has a negative dimension on axis %d",
				globalSize, axis)
		}
	}

	dimSize := globalSize[dim]
	splitSize := distributed.SplitSize(dimSize, len(s.placements))
	meta := &distributed.TensorMetadata{
		Size:       slices.Clone(globalSize),
		Properties: props,
	}
	for i, p := range s.placements {
		chunkSize := distributed.ChunkedDimSize(dimSize, splitSize, i)
		if chunkSize == 0 {
			continue
		}
		offsets := make([]int, len(globalSize))
		offsets[dim] = splitSize * i
		sizes := slices.Clone(globalSize)
		sizes[dim] = chunkSize
		meta.ShardsMetadata = append(meta.ShardsMetadata, distributed.ShardMetadata{
			Offsets:   offsets,
			Sizes:     sizes,
			Placement: p,
		})
	}
	return meta, nil
}

// Shard implements distributed.ShardingSpec.
//
// The whole tensor is broadcast from srcRank to every rank of the group, and then each rank keeps a copy of the
// chunks placed on it. Only the value of t on srcRank matters, but every rank must pass a tensor of the same
// shape: it is overwritten by the broadcast.
//
// All validation happens before the broadcast, so a malformed spec never leaves the group half way through a
// collective call. Errors of the broadcast itself are returned as is, with context.
func (s *ChunkShardingSpec) Shard(ctx context.Context, t *tensors.Tensor, srcRank int, group collective.Group) (
	*distributed.Tensor, error) {
	group, err := collective.Resolve(ctx, group)
	if err != nil {
		return nil, errors.WithMessage(err, "ChunkShardingSpec.Shard()")
	}
	if err := t.CheckValid(); err != nil {
		return nil, errors.WithMessage(err, "ChunkShardingSpec.Shard()")
	}
	if err := collective.CheckRank(group, srcRank); err != nil {
		return nil, errors.WithMessagef(err, "%s.Shard(): invalid source rank", s)
	}
	props := distributed.PropertiesOf(t)
	meta, err := s.BuildMetadata(t.Shape().Dimensions, props)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.Shard()", s)
	}
	rank := group.Rank()
	localShards, err := meta.ShardsForRank(group, rank)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.Shard()", s)
	}

	full := t.Contiguous()
	if klog.V(1).Enabled() {
		klog.Infof("%s: group %q rank %d: broadcasting %s (%s) from rank %d, keeping %d of %d shards",
			s, group.Name(), rank, full.Shape(), humanize.Bytes(uint64(full.Memory())), srcRank,
			len(localShards), len(meta.ShardsMetadata))
	}
	if err := group.Broadcast(ctx, full, srcRank); err != nil {
		return nil, errors.WithMessagef(err, "%s.Shard(): broadcast from rank %d", s, srcRank)
	}

	shards := make([]distributed.Shard, 0, len(localShards))
	for _, idx := range localShards {
		shardMeta := meta.ShardsMetadata[idx]
		local, err := narrowToShard(full, shardMeta, meta.Size)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s.Shard(): shard #%d", s, idx)
		}
		local.SetRequiresGrad(props.RequiresGrad)
		klog.V(2).Infof("group %q rank %d: kept shard #%d %s (%s)",
			group.Name(), rank, idx, shardMeta, humanize.Bytes(uint64(local.Memory())))
		shards = append(shards, distributed.Shard{Tensor: local, Metadata: shardMeta})
	}
	dt, err := distributed.NewTensorFromLocalShards(shards, meta.Size, group)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.Shard()", s)
	}
	return dt.WithShardingSpec(s).WithProperties(props), nil
}

// narrowToShard returns an independent copy of the region of full described by shard.
// Only the axes where the shard is smaller than the tensor are narrowed.
func narrowToShard(full *tensors.Tensor, shard distributed.ShardMetadata, globalSize []int) (*tensors.Tensor, error) {
	local := full
	for axis, size := range shard.Sizes {
		if size >= globalSize[axis] {
			continue
		}
		narrowed, err := local.Narrow(axis, shard.Offsets[axis], size)
		if err != nil {
			return nil, err
		}
		local = narrowed
	}
	if local == full {
		// The shard is the whole tensor: it still must not share storage with the broadcast buffer.
		return full.Clone()
	}
	return local, nil
}
