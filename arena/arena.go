/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package arena implements an allocator for fixed-size chunks.
//
// Chunks live in groups of slots. Alloc and Free are O(1): free slots are
// kept on a free list, and a new group is added only when no slot in any
// group is free, so memory stays proportional to the peak number of live
// chunks.
//
// An Arena is not safe for concurrent use.
package arena

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// DefaultGroupSize is the number of slots in a group.
const DefaultGroupSize = 4096

var (
	// ErrInvalidHandle is the panic value for handles that are not live in the arena.
	ErrInvalidHandle = errors.New("arena: invalid handle")
)

// group is a batch of slots. Slot state lives in the occupied bitmap: set
// means the slot holds a live chunk.
type group[T any] struct {
	slots    []T
	occupied *bitset.BitSet
	prev     *group[T]
	owner    *Arena[T]
}

// Handle refers to one chunk. The zero Handle refers to nothing.
type Handle[T any] struct {
	g    *group[T]
	slot uint32
}

// Value returns the chunk. It panics if the handle's arena was destroyed.
func (h Handle[T]) Value() *T {
	if h.g == nil || h.g.slots == nil {
		panic(fmt.Errorf("%w: chunk of a destroyed arena", ErrInvalidHandle))
	}
	return &h.g.slots[h.slot]
}

// IsZero reports whether h is the zero Handle.
func (h Handle[T]) IsZero() bool { return h.g == nil }

// Arena owns groups of T-sized slots.
type Arena[T any] struct {
	head      *group[T] // newest group
	free      []Handle[T]
	groupSize int
	groups    int
	live      int
	peak      int
	allocs    uint64
	destroyed bool
}

// Option configures an Arena.
type Option func(*config)

type config struct {
	groupSize int
}

// WithGroupSize sets the number of slots per group.
func WithGroupSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.groupSize = n
		}
	}
}

// New creates an arena with one empty group.
func New[T any](opts ...Option) *Arena[T] {
	c := config{groupSize: DefaultGroupSize}
	for _, opt := range opts {
		opt(&c)
	}
	a := &Arena[T]{groupSize: c.groupSize}
	a.grow()
	return a
}

// grow prepends an all-free group and puts its slots on the free list, lowest
// slot on top.
func (a *Arena[T]) grow() {
	g := &group[T]{
		slots:    make([]T, a.groupSize),
		occupied: bitset.New(uint(a.groupSize)),
		prev:     a.head,
		owner:    a,
	}
	a.head = g
	a.groups++
	for i := a.groupSize - 1; i >= 0; i-- {
		a.free = append(a.free, Handle[T]{g: g, slot: uint32(i)})
	}
}

// Alloc returns a handle to a zeroed chunk.
func (a *Arena[T]) Alloc() Handle[T] {
	if a.destroyed {
		panic(fmt.Errorf("%w: alloc on a destroyed arena", ErrInvalidHandle))
	}
	if len(a.free) == 0 {
		a.grow()
	}
	n := len(a.free) - 1
	h := a.free[n]
	a.free = a.free[:n]

	h.g.occupied.Set(uint(h.slot))
	var zero T
	h.g.slots[h.slot] = zero

	a.live++
	a.allocs++
	if a.live > a.peak {
		a.peak = a.live
	}
	return h
}

// Free releases a chunk. It panics if h is not live in this arena.
func (a *Arena[T]) Free(h Handle[T]) {
	if h.g == nil || h.g.owner != a || a.destroyed {
		panic(fmt.Errorf("%w: not from this arena", ErrInvalidHandle))
	}
	if !h.g.occupied.Test(uint(h.slot)) {
		panic(fmt.Errorf("%w: slot %d already free", ErrInvalidHandle, h.slot))
	}
	h.g.occupied.Clear(uint(h.slot))
	a.free = append(a.free, h)
	a.live--
}

// Destroy releases every group. All handles become invalid.
func (a *Arena[T]) Destroy() {
	for g := a.head; g != nil; {
		prev := g.prev
		g.slots = nil
		g.occupied = nil
		g.prev = nil
		g = prev
	}
	a.head = nil
	a.free = nil
	a.groups = 0
	a.live = 0
	a.destroyed = true
}

// Groups returns the number of groups.
func (a *Arena[T]) Groups() int { return a.groups }

// Live returns the number of live chunks.
func (a *Arena[T]) Live() int { return a.live }

// Cap returns the total number of slots.
func (a *Arena[T]) Cap() int { return a.groups * a.groupSize }

// Stats describes arena usage.
type Stats struct {
	Groups    int
	GroupSize int
	Live      int
	Peak      int    // highest Live seen
	Allocs    uint64 // cumulative Alloc calls
}

// Stats returns usage counters.
func (a *Arena[T]) Stats() Stats {
	return Stats{
		Groups:    a.groups,
		GroupSize: a.groupSize,
		Live:      a.live,
		Peak:      a.peak,
		Allocs:    a.allocs,
	}
}

// Occupied returns how many slots of each group hold live chunks, newest
// group first.
func (a *Arena[T]) Occupied() []int {
	var counts []int
	for g := a.head; g != nil; g = g.prev {
		counts = append(counts, int(g.occupied.Count()))
	}
	return counts
}
