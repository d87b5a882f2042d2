// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package inproc implements collective.Group for ranks living in the same process, each one running on its
// own goroutine.
//
// It is used to test and simulate distributed code without a network transport:
//
//	err := inproc.Run(ctx, 4, func(ctx context.Context, g collective.Group) error {
//		// Every rank runs this function, with g.Rank() in [0, 4).
//		return g.Broadcast(ctx, t, 0)
//	})
package inproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/sharding/pkg/core/distributed/collective"
	"github.com/gomlx/sharding/pkg/core/tensors"
)

// World is the shared state of an in-process group: the rendezvous point of all its ranks.
type World struct {
	name    string
	size    int
	workers []string

	mu      sync.Mutex
	rounds  map[int]*round
	members []*member
}

// round is the state of one collective call, identified by the sequence number of the call in each rank.
type round struct {
	srcRank   int
	source    *tensors.Tensor // Snapshot of the source tensor.
	published chan struct{}   // Closed once source is set.
	arrived   int
	done      chan struct{} // Closed once all ranks arrived.
}

// Option configures a World.
type Option func(w *World)

// WithName sets the name of the group. The default is a random UUID.
func WithName(name string) Option {
	return func(w *World) { w.name = name }
}

// WithWorkerNames sets the names of the workers of each rank, used to resolve placements
// given by worker name. The default is "worker<rank>".
func WithWorkerNames(names ...string) Option {
	return func(w *World) { w.workers = names }
}

// NewWorld creates the shared state for a group of the given size.
// Use World.Group to get the handle of each rank.
func NewWorld(size int, opts ...Option) (*World, error) {
	if size <= 0 {
		return nil, errors.Errorf("inproc.NewWorld(size=%d): size must be positive", size)
	}
	w := &World{
		name:   uuid.NewString(),
		size:   size,
		rounds: make(map[int]*round),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workers == nil {
		w.workers = make([]string, size)
		for rank := range size {
			w.workers[rank] = fmt.Sprintf("worker%d", rank)
		}
	}
	if len(w.workers) != size {
		return nil, errors.Errorf("inproc.NewWorld(size=%d): %d worker names given", size, len(w.workers))
	}
	w.members = make([]*member, size)
	for rank := range size {
		w.members[rank] = &member{world: w, rank: rank}
	}
	return w, nil
}

// Name of the group.
func (w *World) Name() string { return w.name }

// Size of the group.
func (w *World) Size() int { return w.size }

// Group returns the handle of the given rank.
//
// A handle must be used by a single goroutine at a time: collective calls of a rank are numbered in the
// order they are issued.
func (w *World) Group(rank int) collective.Group {
	if rank < 0 || rank >= w.size {
		return nil
	}
	return w.members[rank]
}

// Run creates a World of the given size and calls fn once per rank, each on its own goroutine, with the rank's
// group set both as the argument and as the default group in the context.
//
// If any rank returns an error, the context of the others is cancelled, which unblocks any pending
// collective call. It returns the first error.
func Run(ctx context.Context, size int, fn func(ctx context.Context, g collective.Group) error, opts ...Option) error {
	w, err := NewWorld(size, opts...)
	if err != nil {
		return err
	}
	return w.Run(ctx, fn)
}

// Run calls fn once per rank of the World, each on its own goroutine. See the package function Run.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, g collective.Group) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for rank := range w.size {
		g := w.members[rank]
		eg.Go(func() error {
			if err := fn(collective.WithGroup(ctx, g), g); err != nil {
				return errors.WithMessagef(err, "rank %d of group %q", g.rank, w.name)
			}
			return nil
		})
	}
	return eg.Wait()
}

// member implements collective.Group for one rank.
type member struct {
	world *World
	rank  int
	seq   int // Number of collective calls issued by this rank.
}

var (
	_ collective.Group          = (*member)(nil)
	_ collective.WorkerResolver = (*member)(nil)
)

func (m *member) Name() string { return m.world.name }
func (m *member) Rank() int    { return m.rank }
func (m *member) Size() int    { return m.world.size }

// WorkerRank implements collective.WorkerResolver.
func (m *member) WorkerRank(name string) (int, bool) {
	for rank, worker := range m.world.workers {
		if worker == name {
			return rank, true
		}
	}
	return 0, false
}

// String implements fmt.Stringer.
func (m *member) String() string {
	return fmt.Sprintf("inproc.Group(%q, rank=%d/%d)", m.world.name, m.rank, m.world.size)
}

// joinRound returns the round of the rank's next collective call, creating it if this is the first
// rank to arrive.
func (m *member) joinRound(srcRank int) (*round, int, error) {
	w := m.world
	w.mu.Lock()
	defer w.mu.Unlock()
	seq := m.seq
	m.seq++
	r, found := w.rounds[seq]
	if !found {
		r = &round{
			srcRank:   srcRank,
			published: make(chan struct{}),
			done:      make(chan struct{}),
		}
		w.rounds[seq] = r
	}
	if r.srcRank != srcRank {
		return r, seq, errors.Errorf("broadcast #%d: rank %d used source rank %d, but other ranks used %d",
			seq, m.rank, srcRank, r.srcRank)
	}
	return r, seq, nil
}

// arrive marks the rank as done with the round, and completes the round if it is the last one.
func (m *member) arrive(r *round, seq int) {
	w := m.world
	w.mu.Lock()
	defer w.mu.Unlock()
	r.arrived++
	if r.arrived == w.size {
		delete(w.rounds, seq)
		close(r.done)
		klog.V(2).Infof("inproc group %q: broadcast #%d from rank %d completed", w.name, seq, r.srcRank)
	}
}

// Broadcast implements collective.Group.
func (m *member) Broadcast(ctx context.Context, t *tensors.Tensor, srcRank int) error {
	if err := collective.CheckRank(m, srcRank); err != nil {
		return errors.WithMessage(err, "inproc.Broadcast()")
	}
	if err := t.CheckValid(); err != nil {
		return errors.WithMessage(err, "inproc.Broadcast()")
	}
	r, seq, err := m.joinRound(srcRank)
	if err != nil {
		m.arrive(r, seq)
		return err
	}

	if m.rank == srcRank {
		snapshot, err := t.Clone()
		if err != nil {
			m.arrive(r, seq)
			return errors.WithMessage(err, "inproc.Broadcast() failed to read source tensor")
		}
		r.source = snapshot
		close(r.published)
	} else {
		select {
		case <-r.published:
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "inproc.Broadcast() #%d: rank %d waiting for source rank %d",
				seq, m.rank, srcRank)
		}
		if err := t.AssignFrom(r.source); err != nil {
			m.arrive(r, seq)
			return errors.WithMessagef(err, "inproc.Broadcast() #%d: rank %d", seq, m.rank)
		}
	}

	m.arrive(r, seq)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "inproc.Broadcast() #%d: rank %d waiting for the other ranks", seq, m.rank)
	}
}
