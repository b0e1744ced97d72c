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

// Package gc implements a tracking allocator with a conservative
// mark-and-sweep collector on top.
//
// Every live allocation is kept in an index sorted by address, so any word
// can be resolved to the allocation containing it with one binary search.
// Collection treats the stack, the spilled registers and the static data
// segment as roots, and any word anywhere in them (at any byte offset) that
// falls inside a tracked allocation keeps that allocation alive.
//
// Addresses held only in Go variables are invisible to the collector: keep
// them in a stack frame, a static slot, a register or another reachable
// allocation across any call that may collect.
//
// A Heap is not safe for concurrent use.
package gc

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/conservgc/malloc"
	"github.com/cloudwego/conservgc/mem"
)

// Allocation describes one live tracked allocation.
type Allocation struct {
	Addr mem.Addr
	Size int
}

// End returns the first address past the allocation.
func (a Allocation) End() mem.Addr {
	return a.Addr + mem.Addr(a.Size)
}

// Heap is a tracked heap over the heap segment of a Memory.
type Heap struct {
	mem   *mem.Memory
	alloc malloc.Allocator
	idx   index
	regs  mem.Registers

	stackBottom mem.Addr
	// calls counts Alloc calls for periodic collection
	calls  uint64
	closed bool

	opts  options
	log   *slog.Logger
	stats Stats
}

// New creates a heap managing m's heap segment. The stack bottom defaults to
// the bottom of m's stack.
func New(m *mem.Memory, opts ...Option) (*Heap, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	a, err := o.allocator(m.HeapRegion())
	if err != nil {
		return nil, fmt.Errorf("gc: underlying allocator: %w", err)
	}
	return &Heap{
		mem:         m,
		alloc:       a,
		idx:         newIndex(o.initialCapacity),
		stackBottom: m.Stack().Bottom(),
		opts:        o,
		log:         o.logger,
	}, nil
}

// Memory returns the address space the heap lives in.
func (h *Heap) Memory() *mem.Memory { return h.mem }

// Registers returns the register file spilled to the stack on every collection.
func (h *Heap) Registers() *mem.Registers { return &h.regs }

// StackBottom returns the upper bound of the stack root region.
func (h *Heap) StackBottom() mem.Addr { return h.stackBottom }

// SetStackBottom sets the upper bound of the stack root region. It must be
// called before the first Alloc, with an address inside the stack segment
// or at its end.
func (h *Heap) SetStackBottom(a mem.Addr) error {
	if h.calls > 0 {
		return ErrStackBottomLocked
	}
	seg := h.mem.StackSegment()
	if a <= seg.Start || a > seg.End {
		return fmt.Errorf("gc: stack bottom %#x outside stack [%#x, %#x]",
			uint64(a), uint64(seg.Start), uint64(seg.End))
	}
	h.stackBottom = a
	return nil
}

// Alloc returns a zeroed block of size bytes.
//
// A collection runs before retrying when the underlying allocator is out of
// space, and on every collect-interval-th call. If the retry fails too,
// Alloc returns ErrOutOfMemory.
func (h *Heap) Alloc(size int) (mem.Addr, error) {
	if h.closed {
		return mem.Null, ErrClosed
	}
	if size <= 0 {
		return mem.Null, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size > h.alloc.MaxAlloc() {
		return mem.Null, fmt.Errorf("%w: %d > %d", ErrTooLarge, size, h.alloc.MaxAlloc())
	}

	h.calls++
	off, ok := h.alloc.Alloc(size)
	if !ok || (h.opts.collectInterval > 0 && h.calls%h.opts.collectInterval == 0) {
		h.Collect()
		if !ok {
			off, ok = h.alloc.Alloc(size)
		}
	}
	if !ok {
		h.stats.FailedAllocs++
		h.log.Warn("allocation failed after collection",
			"size", size,
			"live", h.idx.len(),
			"available", h.alloc.Available(),
		)
		return mem.Null, fmt.Errorf("%w: %d bytes", ErrOutOfMemory, size)
	}

	p := h.mem.HeapAddr(off)
	i := h.idx.search(p)
	// the new block must not overlap a current allocation
	if i < h.idx.len() && p+mem.Addr(size) > h.idx.recs[i].addr {
		h.fail("alloc", p, fmt.Sprintf("overlaps allocation %#x", uint64(h.idx.recs[i].addr)))
	}
	h.idx.insert(i, p, size)
	h.mem.Clear(p, size)

	h.stats.Allocs++
	h.stats.LiveBytes += size
	return p, nil
}

// Free releases the allocation starting at p. Freeing mem.Null does nothing.
// Freeing anything that is not the start of a live allocation panics with a
// *ConsistencyError.
func (h *Heap) Free(p mem.Addr) {
	if p == mem.Null {
		return
	}
	if h.closed {
		h.fail("free", p, "heap closed")
	}
	h.free(p)
	h.stats.Frees++
}

func (h *Heap) free(p mem.Addr) int {
	i := h.idx.search(p)
	if i >= h.idx.len() || p < h.idx.recs[i].addr {
		h.fail("free", p, "no such allocation")
	}
	r := h.idx.recs[i]
	if r.addr != p {
		h.fail("free", p, fmt.Sprintf("not the start of allocation %#x (%d bytes)", uint64(r.addr), r.size))
	}
	h.idx.remove(i)
	h.alloc.Free(h.mem.HeapOffset(p))
	h.stats.LiveBytes -= r.size
	return r.size
}

func (h *Heap) fail(op string, p mem.Addr, msg string) {
	err := &ConsistencyError{Op: op, Addr: p, Msg: msg}
	h.log.Error("heap consistency violation", "op", op, "addr", fmt.Sprintf("%#x", uint64(p)), "error", msg)
	panic(err)
}

// Find returns the allocation whose range contains p.
func (h *Heap) Find(p mem.Addr) (Allocation, bool) {
	r := h.idx.find(p)
	if r == nil {
		return Allocation{}, false
	}
	return Allocation{Addr: r.addr, Size: r.size}, true
}

// Live returns every live allocation in address order.
func (h *Heap) Live() []Allocation {
	live := make([]Allocation, h.idx.len())
	for i, r := range h.idx.recs {
		live[i] = Allocation{Addr: r.addr, Size: r.size}
	}
	return live
}

// Len returns the number of live allocations.
func (h *Heap) Len() int { return h.idx.len() }

// PrintAllocations writes the live allocations to w.
func (h *Heap) PrintAllocations(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d allocations\n", h.idx.len()); err != nil {
		return err
	}
	for i, r := range h.idx.recs {
		if _, err := fmt.Fprintf(w, "  #%d: %#x: %d bytes\n", i, uint64(r.addr), r.size); err != nil {
			return err
		}
	}
	return nil
}

// CheckInvariants verifies that the index is sorted, free of overlaps and
// agrees with the live byte count.
func (h *Heap) CheckInvariants() error {
	if i := h.idx.check(); i >= 0 {
		r := h.idx.recs[i]
		return &ConsistencyError{Op: "check", Addr: r.addr, Msg: fmt.Sprintf("record %d overlaps its predecessor", i)}
	}
	total := 0
	for _, r := range h.idx.recs {
		if !h.mem.Heap().Contains(r.addr) || r.end() > h.mem.Heap().End {
			return &ConsistencyError{Op: "check", Addr: r.addr, Msg: "record outside heap"}
		}
		total += r.size
	}
	if total != h.stats.LiveBytes {
		return &ConsistencyError{Op: "check", Msg: fmt.Sprintf("live bytes %d, records hold %d", h.stats.LiveBytes, total)}
	}
	return nil
}

// Stats returns heap counters.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.LiveObjects = h.idx.len()
	s.IndexCapacity = h.idx.cap()
	s.Available = h.alloc.Available()
	return s
}

// Close drops every allocation and releases the index. Later Alloc calls
// return ErrClosed.
func (h *Heap) Close() {
	if h.closed {
		return
	}
	h.idx.release()
	h.alloc.Reset()
	h.stats.LiveBytes = 0
	h.closed = true
}
