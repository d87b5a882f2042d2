// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// DeviceMesh defines the logical topology of a set of ranks (one device per rank), organized along named axes.
type DeviceMesh struct {
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numDevices is the total number of devices in the mesh.
	numDevices int

	// logicalDeviceAssignment is the list of ranks of the process group, in the order they appear in the mesh.
	logicalDeviceAssignment []int
}

const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of ranks.
//
//   - axesSizes: defines the number of ranks along each mesh axis, one value per axis.
//   - axesNames: the names of the mesh axes. One value per axis. They must be valid identifiers (see IsNameValid).
//
// Used by shardspec.NewChunkShardingSpecFromMesh to place one chunk per device of the mesh, in mesh order.
//
// A DeviceMesh can also be assigned a name, but because there is usually only one mesh, it's set to the default
// name "mesh" (DefaultMeshName).
func NewDeviceMesh(axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	axesNames = slices.Clone(axesNames)
	for i, axisName := range axesNames {
		if !IsNameValid(axesNames[i]) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with a ASCII letter "+
					"and be followed only by letters, numbers or underscore", axisName, i)
		}
	}

	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if axesSizes[i] <= 0 {
			return nil, errors.Errorf("DeviceMesh axis %q must have a positive size, got %d", name, axesSizes[i])
		}
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}

	m := &DeviceMesh{
		name:       DefaultMeshName,
		axesNames:  axesNames,
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numDevices: numDevices,
	}
	return m, nil
}

// SetName of the mesh.
func (m *DeviceMesh) SetName(name string) {
	m.name = name
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return m.numDevices
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axesSizes.
func (m *DeviceMesh) AxesSizes() []int {
	shape := make([]int, len(m.axesSizes))
	copy(shape, m.axesSizes)
	return shape
}

// AxisSize returns the number of devices along the given mesh axis.
func (m *DeviceMesh) AxisSize(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found", axisName)
	}
	return m.axesSizes[idx], nil
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("})")
	return sb.String()
}

// SetLogicalDeviceAssignment sets the ranks assigned to each position of the mesh.
//
// The length of devices must be equal to NumDevices(). And it should include all numbers from 0 to NumDevices()-1.
// Calling it with no devices resets the assignment to the default sequential one.
//
// It returns an error if devices has invalid rank numbers or len(devices) != NumDevices().
func (m *DeviceMesh) SetLogicalDeviceAssignment(devices ...int) error {
	if len(devices) == 0 {
		m.logicalDeviceAssignment = nil
		return nil
	}
	if len(devices) != m.numDevices {
		return errors.Errorf("devices must have %d elements, got %d", m.numDevices, len(devices))
	}
	seen := make(map[int]bool, m.numDevices)
	for _, device := range devices {
		if seen[device] {
			return errors.Errorf("device #%d is duplicated in mapping", device)
		}
		seen[device] = true
		if device < 0 || device >= m.numDevices {
			return errors.Errorf("devices must be between 0 and %d (NumDevices()-1), got device %d",
				m.numDevices-1, device)
		}
	}
	m.logicalDeviceAssignment = slices.Clone(devices)
	return nil
}

// LogicalDeviceAssignment returns the list of devices in the mesh, in the order they appear in the mesh.
//
// It can return nil if no assignment was set with SetLogicalDeviceAssignment() -- in which case it will
// default to a sequential assignment starting from 0.
func (m *DeviceMesh) LogicalDeviceAssignment() []int {
	if m.logicalDeviceAssignment == nil {
		return nil
	}
	return slices.Clone(m.logicalDeviceAssignment)
}

// Ranks returns the rank of each position of the mesh, in row-major order of the mesh axes.
//
// It's the LogicalDeviceAssignment if one was set, otherwise 0 to NumDevices()-1.
func (m *DeviceMesh) Ranks() []int {
	if m.logicalDeviceAssignment != nil {
		return slices.Clone(m.logicalDeviceAssignment)
	}
	ranks := make([]int, m.numDevices)
	for i := range ranks {
		ranks[i] = i
	}
	return ranks
}

// RankAt returns the rank at the given position of the mesh, one index per mesh axis.
func (m *DeviceMesh) RankAt(indices ...int) (int, error) {
	if len(indices) != len(m.axesSizes) {
		return 0, errors.Errorf("DeviceMesh.RankAt(%v): expected %d indices, one per mesh axis",
			indices, len(m.axesSizes))
	}
	flat := 0
	for axis, idx := range indices {
		if idx < 0 || idx >= m.axesSizes[axis] {
			return 0, errors.Errorf("DeviceMesh.RankAt(%v): index %d out of range for axis %q of size %d",
				indices, idx, m.axesNames[axis], m.axesSizes[axis])
		}
		flat = flat*m.axesSizes[axis] + idx
	}
	if m.logicalDeviceAssignment != nil {
		return m.logicalDeviceAssignment[flat], nil
	}
	return flat, nil
}
