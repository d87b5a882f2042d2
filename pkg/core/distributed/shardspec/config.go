// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shardspec

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
)

// Kinds of specs in a Config.
const (
	KindChunk      = "chunk"
	KindEnumerable = "enumerable"
	KindDevice     = "device"
)

// Config is the YAML description of a placement spec. Example:
//
//	kind: chunk
//	dim: 0
//	placements: ["rank:0/cuda:0", "rank:1/cuda:0"]
//
// Or, for an EnumerableShardingSpec:
//
//	kind: enumerable
//	shards:
//	  - {offsets: [0, 0], sizes: [4, 4], placement: "rank:0/cpu"}
//	  - {offsets: [4, 0], sizes: [4, 4], placement: "rank:1/cpu"}
//
// Or, for a DevicePlacementSpec:
//
//	kind: device
//	device: "rank:0/cpu"
type Config struct {
	Kind string `yaml:"kind"`

	// Dim is the sharded axis of a chunk spec. It's kept as given, so named dimensions can be reported.
	Dim any `yaml:"dim,omitempty"`

	Placements []string      `yaml:"placements,omitempty"`
	Shards     []ShardConfig `yaml:"shards,omitempty"`
	Device     string        `yaml:"device,omitempty"`
}

// ShardConfig is one shard of an enumerable spec.
type ShardConfig struct {
	Offsets   []int  `yaml:"offsets,flow"`
	Sizes     []int  `yaml:"sizes,flow"`
	Placement string `yaml:"placement"`
}

// ParseConfig parses a YAML Config. Unknown fields are rejected.
//
// Errors wrap distributed.ErrInvalidConfig.
func ParseConfig(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrapf(distributed.ErrInvalidConfig, "failed to parse sharding config: %v", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML Config from a file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sharding config from %q", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "config file %q", path)
	}
	return cfg, nil
}

// Build creates the placement spec described by the config.
// The spec is one of *ChunkShardingSpec, *EnumerableShardingSpec or *DevicePlacementSpec.
func (c *Config) Build() (distributed.PlacementSpec, error) {
	spec, err := c.build()
	if err != nil {
		return nil, err
	}
	return spec, nil
}

func (c *Config) build() (distributed.PlacementSpec, error) {
	switch c.Kind {
	case KindChunk:
		if len(c.Shards) > 0 || c.Device != "" {
			return nil, errors.Wrap(distributed.ErrInvalidConfig, "a chunk spec takes only dim and placements")
		}
		if c.Dim == nil {
			return nil, errors.Wrap(distributed.ErrInvalidConfig, "a chunk spec requires dim")
		}
		return NewChunkShardingSpec(c.Dim, c.Placements...)

	case KindEnumerable:
		if c.Dim != nil || len(c.Placements) > 0 || c.Device != "" {
			return nil, errors.Wrap(distributed.ErrInvalidConfig, "an enumerable spec takes only shards")
		}
		shards := make([]distributed.ShardMetadata, len(c.Shards))
		for i, sc := range c.Shards {
			p, err := placement.Parse(sc.Placement)
			if err != nil {
				return nil, errors.WithMessagef(err, "shard #%d", i)
			}
			shards[i] = distributed.ShardMetadata{Offsets: sc.Offsets, Sizes: sc.Sizes, Placement: p}
		}
		return NewEnumerableShardingSpec(shards...)

	case KindDevice:
		if c.Dim != nil || len(c.Placements) > 0 || len(c.Shards) > 0 {
			return nil, errors.Wrap(distributed.ErrInvalidConfig, "a device spec takes only device")
		}
		return NewDevicePlacementSpec(c.Device)

	default:
		return nil, errors.Wrapf(distributed.ErrInvalidConfig, "unknown spec kind %q, valid kinds are %q, %q and %q",
			c.Kind, KindChunk, KindEnumerable, KindDevice)
	}
}

// ConfigOf returns the Config describing the given spec.
func ConfigOf(spec distributed.PlacementSpec) (*Config, error) {
	switch s := spec.(type) {
	case *ChunkShardingSpec:
		cfg := &Config{Kind: KindChunk, Dim: s.dim}
		for _, p := range s.placements {
			cfg.Placements = append(cfg.Placements, p.String())
		}
		return cfg, nil
	case *EnumerableShardingSpec:
		cfg := &Config{Kind: KindEnumerable}
		for _, shard := range s.shards {
			cfg.Shards = append(cfg.Shards, ShardConfig{
				Offsets:   shard.Offsets,
				Sizes:     shard.Sizes,
				Placement: shard.Placement.String(),
			})
		}
		return cfg, nil
	case *DevicePlacementSpec:
		return &Config{Kind: KindDevice, Device: s.device.String()}, nil
	default:
		return nil, errors.Wrapf(distributed.ErrInvalidConfig, "no config for spec type %T", spec)
	}
}

// Marshal returns the YAML encoding of the config.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
