// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gomlx_shardplan prints how a sharding spec splits a tensor of a given shape, and optionally simulates the
// distribution over an in-process group.
//
// Examples:
//
//	gomlx_shardplan -dim=0 -placements="rank:0/cuda:0,rank:1/cuda:0,rank:2/cuda:0" -shape=10,4
//	gomlx_shardplan -spec=plan.yaml -shape=8,8 -dtype=bfloat16 -simulate
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/shardspec"
)

var (
	flagSpec = flag.String("spec", "", "YAML file with the sharding spec. "+
		"If not given, a chunk spec is built from -dim and -placements.")
	flagDim        = flag.Int("dim", 0, "Sharded axis of the chunk spec, negative values count from the end.")
	flagPlacements = flag.String("placements", "", "Comma-separated placements of the chunk spec, "+
		"e.g. \"rank:0/cuda:0,rank:1/cuda:0\".")
	flagShape   = flag.String("shape", "", "Comma-separated dimensions of the tensor to shard, e.g. \"1024,512\".")
	flagDType   = flag.String("dtype", "float32", "DType of the tensor to shard.")
	flagWorld   = flag.Int("world", 0, "Number of ranks in the group. If 0, it's inferred from the placements.")
	flagWorkers = flag.String("workers", "", "Comma-separated worker names of the ranks, in rank order, "+
		"used to resolve placements given by worker name.")
	flagSimulate = flag.Bool("simulate", false, "Distribute a tensor over an in-process group with -world ranks "+
		"and check that the shards reassemble into the original tensor.")
	flagTimeout = flag.Duration("timeout", time.Minute, "Timeout for -simulate.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagShape == "" {
		klog.Errorf("Missing -shape of the tensor to shard. See 'gomlx_shardplan -help'.")
		os.Exit(1)
	}
	dims := must.M1(parseDims(*flagShape))
	dtype := must.M1(dtypes.DTypeString(*flagDType))
	spec, err := buildSpec()
	if err != nil {
		klog.Errorf("Failed to build sharding spec: %+v", err)
		os.Exit(1)
	}
	var workers []string
	if *flagWorkers != "" {
		workers = splitList(*flagWorkers)
	}

	p, err := newPlan(spec, dims, dtype, *flagWorld, workers)
	if err != nil {
		klog.Errorf("Failed to plan %s for shape %v: %+v", spec, dims, err)
		os.Exit(1)
	}
	p.Print()

	if *flagSimulate {
		ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
		defer cancel()
		if err := p.Simulate(ctx); err != nil {
			klog.Errorf("Simulation failed: %+v", err)
			os.Exit(1)
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("Simulation over %d ranks: shards reassemble into the original tensor",
			p.world.Size())))
	}
}

// buildSpec returns the spec from -spec, or a chunk spec from -dim and -placements.
func buildSpec() (distributed.PlacementSpec, error) {
	if *flagSpec != "" {
		if *flagPlacements != "" {
			return nil, errors.New("-spec and -placements are mutually exclusive")
		}
		cfg, err := shardspec.LoadConfig(*flagSpec)
		if err != nil {
			return nil, err
		}
		return cfg.Build()
	}
	if *flagPlacements == "" {
		return nil, errors.New("either -spec or -placements must be given")
	}
	return shardspec.NewChunkShardingSpec(*flagDim, splitList(*flagPlacements)...)
}

// splitList splits a comma-separated list, trimming spaces.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// parseDims parses comma-separated dimensions.
func parseDims(s string) ([]int, error) {
	parts := splitList(s)
	dims := make([]int, len(parts))
	for i, part := range parts {
		dim, err := strconv.Atoi(part)
		if err != nil || dim < 0 {
			return nil, errors.Errorf("invalid dimension %q in shape %q", part, s)
		}
		dims[i] = dim
	}
	return dims, nil
}
