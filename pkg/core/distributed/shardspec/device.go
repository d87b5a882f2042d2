// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shardspec

import (
	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/distributed/placement"
)

// DevicePlacementSpec places a whole entity on one device. It carries no sharding information.
type DevicePlacementSpec struct {
	device placement.RemoteDevice
}

var _ distributed.PlacementSpec = (*DevicePlacementSpec)(nil)

// NewDevicePlacementSpec parses the device (see placement.Parse) and returns a DevicePlacementSpec for it.
func NewDevicePlacementSpec(device string) (*DevicePlacementSpec, error) {
	d, err := placement.Parse(device)
	if err != nil {
		return nil, errors.WithMessage(err, "NewDevicePlacementSpec()")
	}
	return &DevicePlacementSpec{device: d}, nil
}

// NewDevicePlacementSpecFromDevice returns a DevicePlacementSpec for the given device.
func NewDevicePlacementSpecFromDevice(device placement.RemoteDevice) (*DevicePlacementSpec, error) {
	if !device.Ok() {
		return nil, errors.Wrap(distributed.ErrInvalidPlacement, "NewDevicePlacementSpecFromDevice(): device not set")
	}
	return &DevicePlacementSpec{device: device}, nil
}

// Device where the entity is placed.
func (s *DevicePlacementSpec) Device() placement.RemoteDevice { return s.device }

// Devices implements distributed.PlacementSpec.
func (s *DevicePlacementSpec) Devices() []placement.RemoteDevice {
	return []placement.RemoteDevice{s.device}
}

// String implements fmt.Stringer.
func (s *DevicePlacementSpec) String() string {
	return "DevicePlacementSpec(" + s.device.String() + ")"
}
