// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collective defines the process group contract used to distribute tensors across ranks.
//
// A Group is the view one rank (one process, or one goroutine in the in-process implementation) has of the
// set of cooperating ranks. Collective operations (Broadcast) block until every rank in the group called them.
//
// The ambient (default) group is carried in a context.Context (see WithGroup and FromContext) instead of a
// package level global: operations that take an optional group resolve it with Resolve.
package collective

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gomlx/sharding/pkg/core/tensors"
)

// Group is one rank's handle on a process group.
type Group interface {
	// Name of the group, for logging and debugging.
	Name() string

	// Rank of the caller within the group, in [0, Size()).
	Rank() int

	// Size is the number of ranks in the group.
	Size() int

	// Broadcast copies the value of t on srcRank to t on every other rank of the group.
	//
	// Every rank must call it with a tensor of the same shape. It blocks until all ranks
	// of the group participated, or until the transport gives up (e.g. ctx is cancelled), in which case
	// an error is returned and the contents of t on non-source ranks are undefined.
	Broadcast(ctx context.Context, t *tensors.Tensor, srcRank int) error
}

// WorkerResolver is optionally implemented by groups whose members can be addressed by a worker name.
type WorkerResolver interface {
	// WorkerRank returns the rank of the named worker, and whether it is a member of the group.
	WorkerRank(name string) (rank int, found bool)
}

// ErrNoGroup is returned when no process group was given and none is set in the context.
var ErrNoGroup = errors.New("no process group given and none set in context")

type groupKey struct{}

// WithGroup returns a copy of ctx carrying g as the default process group.
func WithGroup(ctx context.Context, g Group) context.Context {
	return context.WithValue(ctx, groupKey{}, g)
}

// FromContext returns the default process group carried by ctx, if any.
func FromContext(ctx context.Context) (Group, bool) {
	if ctx == nil {
		return nil, false
	}
	g, ok := ctx.Value(groupKey{}).(Group)
	return g, ok && g != nil
}

// Resolve returns g if it is not nil, otherwise the default group carried by ctx.
// It returns ErrNoGroup if neither is available.
func Resolve(ctx context.Context, g Group) (Group, error) {
	if g != nil {
		return g, nil
	}
	if g, ok := FromContext(ctx); ok {
		return g, nil
	}
	return nil, ErrNoGroup
}

// CheckRank returns an error if rank is not a valid rank of the group.
func CheckRank(g Group, rank int) error {
	if rank < 0 || rank >= g.Size() {
		return errors.Errorf("rank %d is not a member of group %q of size %d", rank, g.Name(), g.Size())
	}
	return nil
}
