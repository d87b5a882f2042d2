// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/distributed/collective/inproc"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// plan is the layout of a tensor under a placement spec, over an in-process group.
type plan struct {
	spec  distributed.PlacementSpec
	shape shapes.Shape
	world *inproc.World

	// meta is nil if spec is not a ShardingSpec.
	meta *distributed.TensorMetadata

	// rankShards holds the indices of the shards (in meta.ShardsMetadata) of each rank.
	rankShards [][]int
}

// newPlan builds the metadata of spec for the given tensor and assigns the shards to the ranks of a group of
// worldSize ranks, whose workers have the given names (they can be nil).
//
// If worldSize is 0, it's the number of workers, or else one more than the largest rank used in the placements.
func newPlan(spec distributed.PlacementSpec, dims []int, dtype dtypes.DType, worldSize int, workers []string) (
	*plan, error) {
	if worldSize == 0 {
		worldSize = inferWorldSize(spec, workers)
	}
	if worldSize <= 0 {
		return nil, errors.Errorf("can't infer the number of ranks from %s, set -world", spec)
	}
	var opts []inproc.Option
	if len(workers) > 0 {
		opts = append(opts, inproc.WithWorkerNames(workers...))
	}
	world, err := inproc.NewWorld(worldSize, opts...)
	if err != nil {
		return nil, err
	}
	p := &plan{
		spec:  spec,
		shape: shapes.Make(dtype, dims...),
		world: world,
	}

	shardingSpec, ok := spec.(distributed.ShardingSpec)
	if !ok {
		// Whole entity on one device: only check that it resolves.
		for _, d := range spec.Devices() {
			if _, _, err := placement.Resolve(world.Group(0), d); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	p.meta, err = shardingSpec.BuildMetadata(dims, distributed.TensorProperties{DType: dtype})
	if err != nil {
		return nil, err
	}
	p.rankShards = make([][]int, worldSize)
	for rank := range worldSize {
		p.rankShards[rank], err = p.meta.ShardsForRank(world.Group(rank), rank)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// inferWorldSize returns the number of workers if given, or one more than the largest explicit rank in the
// placements of spec.
func inferWorldSize(spec distributed.PlacementSpec, workers []string) int {
	if len(workers) > 0 {
		return len(workers)
	}
	size := 0
	for _, d := range spec.Devices() {
		if rank, ok := d.Rank(); ok {
			size = max(size, rank+1)
		}
	}
	return size
}

// Print the plan tables to stdout.
func (p *plan) Print() {
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s of %s", p.spec, p.shape)))
	if p.meta == nil {
		table := newTable([]string{"Placement", "Rank", "Device", "Bytes"}, lipgloss.Left, lipgloss.Right)
		for _, d := range p.spec.Devices() {
			rank, device, _ := placement.Resolve(p.world.Group(0), d)
			table.Row(false, d.String(), fmt.Sprint(rank), device, humanize.Bytes(uint64(p.shape.Memory())))
		}
		fmt.Println(table.Table.Render())
		return
	}

	fmt.Println(titleStyle.Render("Shards"))
	shardsTable := newTable([]string{"#", "Offsets", "Sizes", "Placement", "Rank", "Elements", "Bytes"},
		lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	shardRank := make(map[int]int)
	for rank, indices := range p.rankShards {
		for _, idx := range indices {
			shardRank[idx] = rank
		}
	}
	for idx, shard := range p.meta.ShardsMetadata {
		shardsTable.Row(false, fmt.Sprint(idx), fmt.Sprint(shard.Offsets), fmt.Sprint(shard.Sizes),
			shard.Placement.String(), fmt.Sprint(shardRank[idx]), humanize.Comma(int64(shard.NumElements())),
			humanize.Bytes(uint64(p.shardBytes(shard))))
	}
	fmt.Println(shardsTable.Table.Render())

	fmt.Println(titleStyle.Render("Ranks"))
	ranksTable := newTable([]string{"Rank", "Shards", "Elements", "Bytes", "Fraction"},
		lipgloss.Right, lipgloss.Left, lipgloss.Right)
	total := p.meta.NumElements()
	for rank, indices := range p.rankShards {
		var elements, bytes int
		for _, idx := range indices {
			shard := p.meta.ShardsMetadata[idx]
			elements += shard.NumElements()
			bytes += p.shardBytes(shard)
		}
		fraction := "-"
		if total > 0 {
			fraction = fmt.Sprintf("%.1f%%", 100*float64(elements)/float64(total))
		}
		ranksTable.Row(len(indices) == 0, fmt.Sprint(rank), fmt.Sprint(indices),
			humanize.Comma(int64(elements)), humanize.Bytes(uint64(bytes)), fraction)
	}
	fmt.Println(ranksTable.Table.Render())
}

// shardBytes returns the memory used by the shard.
func (p *plan) shardBytes(shard distributed.ShardMetadata) int {
	return int(shapes.Make(p.shape.DType, shard.Sizes...).Memory())
}

// Simulate distributes a tensor with sequential values from rank 0 to all ranks of the plan's world, and checks
// that the shards of all ranks reassemble into the original tensor.
func (p *plan) Simulate(ctx context.Context) error {
	shardingSpec, ok := p.spec.(distributed.ShardingSpec)
	if !ok {
		return errors.Wrapf(distributed.ErrNotImplemented, "%s doesn't shard tensors", p.spec)
	}
	source := tensors.FromShape(p.shape)
	fillSequence(source)

	var mu sync.Mutex
	var allShards []distributed.Shard
	err := p.world.Run(ctx, func(ctx context.Context, g collective.Group) error {
		input := tensors.FromShape(p.shape)
		if g.Rank() == 0 {
			if err := input.AssignFrom(source); err != nil {
				return err
			}
		}
		dt, err := shardingSpec.Shard(ctx, input, 0, nil)
		if err != nil {
			return err
		}
		klog.V(1).Infof("%s", dt)
		mu.Lock()
		defer mu.Unlock()
		allShards = append(allShards, dt.LocalShards()...)
		return nil
	})
	if err != nil {
		return err
	}
	if len(allShards) == 0 {
		// Only zero-sized tensors have no shards.
		return nil
	}
	assembled, err := distributed.Assemble(p.shape.Dimensions, allShards...)
	if err != nil {
		return err
	}
	if !assembled.Equal(source) {
		return errors.Errorf("reassembled tensor differs from the original: got %s, wanted %s", assembled, source)
	}
	return nil
}

// fillSequence sets the elements of t to 0, 1, 2, ... converted to its dtype.
// Booleans alternate, and half-precision types get the sequence as their bit pattern.
func fillSequence(t *tensors.Tensor) {
	t.MustMutableFlatData(func(flat any) {
		values := reflect.ValueOf(flat)
		for i := range values.Len() {
			v := values.Index(i)
			switch v.Kind() {
			case reflect.Float32, reflect.Float64:
				v.SetFloat(float64(i))
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				v.SetInt(int64(i))
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				v.SetUint(uint64(i))
			case reflect.Complex64, reflect.Complex128:
				v.SetComplex(complex(float64(i), 0))
			case reflect.Bool:
				v.SetBool(i%2 == 1)
			}
		}
	})
}
