// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package placement defines RemoteDevice, the placement of a shard: a rank (or a worker name) of a process
// group and, optionally, a device on that rank.
//
// The accepted string forms are:
//
//   - "rank:<rank>/<device>", e.g. "rank:1/cuda:0".
//   - "<worker>/<device>", e.g. "trainer0/cpu": the worker name is resolved to a rank by the group
//     (see collective.WorkerResolver).
//   - "rank:<rank>": the device defaults to "cpu".
//   - "<device>": a local device with no rank, it can't be resolved to a rank of a group.
//
// Devices are given as "<type>[:<index>]", e.g. "cpu", "cuda:1" or "tpu:0".
package placement

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed/collective"
)

// ErrInvalid is wrapped by all errors about malformed or unresolvable placements.
var ErrInvalid = errors.New("invalid placement")

// DefaultDevice is used when a placement names a rank but no device.
const DefaultDevice = "cpu"

// RemoteDevice is an immutable description of where a shard lives.
//
// The zero value is invalid, use New, NewWorker or Parse to create one.
type RemoteDevice struct {
	worker string
	rank   int // -1 if not given.
	device string
}

// New returns the placement on the given rank and device.
// If device is empty, DefaultDevice is used.
func New(rank int, device string) (RemoteDevice, error) {
	if rank < 0 {
		return RemoteDevice{}, errors.Wrapf(ErrInvalid, "rank %d must be non-negative", rank)
	}
	if device == "" {
		device = DefaultDevice
	}
	if err := checkDevice(device); err != nil {
		return RemoteDevice{}, err
	}
	return RemoteDevice{rank: rank, device: device}, nil
}

// NewWorker returns the placement on the named worker and device.
func NewWorker(worker, device string) (RemoteDevice, error) {
	if worker == "" || strings.ContainsAny(worker, "/:") {
		return RemoteDevice{}, errors.Wrapf(ErrInvalid, "worker name %q is not valid", worker)
	}
	if device == "" {
		device = DefaultDevice
	}
	if err := checkDevice(device); err != nil {
		return RemoteDevice{}, err
	}
	return RemoteDevice{worker: worker, rank: -1, device: device}, nil
}

// Parse a placement string. See package documentation for the accepted forms.
func Parse(s string) (RemoteDevice, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RemoteDevice{}, errors.Wrap(ErrInvalid, "empty placement")
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		if rankStr, found := strings.CutPrefix(s, "rank:"); found {
			rank, err := parseRank(rankStr, s)
			if err != nil {
				return RemoteDevice{}, err
			}
			return New(rank, DefaultDevice)
		}
		if err := checkDevice(s); err != nil {
			return RemoteDevice{}, err
		}
		return RemoteDevice{rank: -1, device: s}, nil

	case 2:
		owner, device := parts[0], parts[1]
		if device == "" {
			return RemoteDevice{}, errors.Wrapf(ErrInvalid, "placement %q has an empty device", s)
		}
		if rankStr, found := strings.CutPrefix(owner, "rank:"); found {
			rank, err := parseRank(rankStr, s)
			if err != nil {
				return RemoteDevice{}, err
			}
			d, err := New(rank, device)
			if err != nil {
				return RemoteDevice{}, errors.WithMessagef(err, "placement %q", s)
			}
			return d, nil
		}
		d, err := NewWorker(owner, device)
		if err != nil {
			return RemoteDevice{}, errors.WithMessagef(err, "placement %q", s)
		}
		return d, nil

	default:
		return RemoteDevice{}, errors.Wrapf(ErrInvalid,
			"placement %q: expected the format \"<worker>/<device>\" or \"rank:<rank>/<device>\"", s)
	}
}

// MustParse parses a placement string, and panics if it is invalid.
// Handy for tests and for package level definitions.
func MustParse(s string) RemoteDevice {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func parseRank(rankStr, s string) (int, error) {
	rank, err := strconv.Atoi(rankStr)
	if err != nil || rank < 0 {
		return 0, errors.Wrapf(ErrInvalid, "placement %q: rank %q must be a non-negative integer", s, rankStr)
	}
	return rank, nil
}

// checkDevice validates a "<type>[:<index>]" device string.
func checkDevice(device string) error {
	deviceType, index, hasIndex := strings.Cut(device, ":")
	if deviceType == "" {
		return errors.Wrapf(ErrInvalid, "device %q has no type", device)
	}
	for _, r := range deviceType {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return errors.Wrapf(ErrInvalid, "device %q has an invalid type", device)
		}
	}
	if hasIndex {
		if n, err := strconv.Atoi(index); err != nil || n < 0 {
			return errors.Wrapf(ErrInvalid, "device %q index must be a non-negative integer", device)
		}
	}
	return nil
}

// Ok returns whether the RemoteDevice was properly constructed.
func (d RemoteDevice) Ok() bool { return d.device != "" }

// Worker name, or "" if the placement was given by rank.
func (d RemoteDevice) Worker() string { return d.worker }

// Rank returns the rank of the placement, and whether it was given.
func (d RemoteDevice) Rank() (rank int, ok bool) {
	if d.device == "" || d.rank < 0 {
		return 0, false
	}
	return d.rank, true
}

// Device on the rank, e.g. "cpu" or "cuda:0".
func (d RemoteDevice) Device() string { return d.device }

// String returns the canonical string form, which Parse accepts.
func (d RemoteDevice) String() string {
	switch {
	case d.device == "":
		return "<invalid>"
	case d.worker != "":
		return d.worker + "/" + d.device
	case d.rank >= 0:
		return fmt.Sprintf("rank:%d/%s", d.rank, d.device)
	default:
		return d.device
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d RemoteDevice) MarshalText() ([]byte, error) {
	if !d.Ok() {
		return nil, errors.Wrap(ErrInvalid, "marshaling an invalid placement")
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so placements can be given as strings in config files.
func (d *RemoteDevice) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Resolve returns the rank within the group and the device of the placement.
//
// Placements given by rank must be members of the group. Placements given by worker name are resolved with
// the group's collective.WorkerResolver, if it implements one.
func Resolve(group collective.Group, d RemoteDevice) (rank int, device string, err error) {
	if !d.Ok() {
		return 0, "", errors.Wrap(ErrInvalid, "resolving an invalid placement")
	}
	if r, ok := d.Rank(); ok {
		if r >= group.Size() {
			return 0, "", errors.Wrapf(ErrInvalid, "placement %s: rank %d is not a member of group %q of size %d",
				d, r, group.Name(), group.Size())
		}
		return r, d.device, nil
	}
	if d.worker == "" {
		return 0, "", errors.Wrapf(ErrInvalid, "placement %s has no rank or worker name", d)
	}
	resolver, ok := group.(collective.WorkerResolver)
	if !ok {
		return 0, "", errors.Wrapf(ErrInvalid, "placement %s: group %q can't resolve worker names",
			d, group.Name())
	}
	r, found := resolver.WorkerRank(d.worker)
	if !found {
		return 0, "", errors.Wrapf(ErrInvalid, "placement %s: worker %q is not a member of group %q",
			d, d.worker, group.Name())
	}
	return r, d.device, nil
}
