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

// Package mem implements a byte-addressed address space made of three
// segments: static data, a downward-growing stack, and a heap region that is
// handed to an allocator. Everything a conservative collector may treat as a
// root or as object contents lives in this address space.
//
// Memory is not safe for concurrent use.
package mem

import (
	"errors"
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// Addr is an address inside a Memory.
type Addr uint64

// Null is the null address. It never falls inside a segment.
const Null Addr = 0

// WordSize is the width of a pointer-sized word in bytes.
const WordSize = 8

// DefaultBase puts the address space above 4GB: shifting any heap address
// left by one or more bytes then lands past the end of the heap, and the
// high bytes of every address are zero.
const DefaultBase Addr = 1 << 32

var (
	ErrBadLayout     = errors.New("mem: bad layout")
	ErrStackOverflow = errors.New("mem: stack overflow")
	ErrDataExhausted = errors.New("mem: static data exhausted")
)

// Layout describes the segments of an address space.
// Sizes must be positive multiples of WordSize; Base must be word aligned.
type Layout struct {
	Base      Addr
	DataSize  int
	StackSize int
	HeapSize  int
}

// DefaultLayout returns a layout with 64KB of static data, 1MB of stack and a 64MB heap.
func DefaultLayout() Layout {
	return Layout{
		Base:      DefaultBase,
		DataSize:  64 << 10,
		StackSize: 1 << 20,
		HeapSize:  64 << 20,
	}
}

func (l Layout) validate() error {
	if l.Base == Null || l.Base%WordSize != 0 {
		return fmt.Errorf("%w: base %#x must be non-zero and word aligned", ErrBadLayout, l.Base)
	}
	for _, s := range []struct {
		name string
		size int
	}{{"data", l.DataSize}, {"stack", l.StackSize}, {"heap", l.HeapSize}} {
		if s.size <= 0 || s.size%WordSize != 0 {
			return fmt.Errorf("%w: %s size %d must be a positive multiple of %d", ErrBadLayout, s.name, s.size, WordSize)
		}
	}
	return nil
}

// Segment is the half-open address range [Start, End).
type Segment struct {
	Start Addr
	End   Addr
}

// Contains reports whether a lies inside the segment.
func (s Segment) Contains(a Addr) bool {
	return a >= s.Start && a < s.End
}

// Len returns the segment size in bytes.
func (s Segment) Len() int {
	return int(s.End - s.Start)
}

// Memory is a contiguous address space.
type Memory struct {
	buf []byte

	data  Segment
	stack Segment
	heap  Segment

	// next free static slot
	brk Addr

	sp *Stack
}

// New creates an address space. The backing buffer is allocated without
// zeroing; the data and stack segments are cleared, the heap segment is left
// dirty for the allocator to hand out.
func New(l Layout) (*Memory, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	total := l.DataSize + l.StackSize + l.HeapSize
	m := &Memory{buf: dirtmake.Bytes(total, total)}

	m.data = Segment{Start: l.Base, End: l.Base + Addr(l.DataSize)}
	m.stack = Segment{Start: m.data.End, End: m.data.End + Addr(l.StackSize)}
	m.heap = Segment{Start: m.stack.End, End: m.stack.End + Addr(l.HeapSize)}

	clear(m.buf[:l.DataSize+l.StackSize])
	m.brk = m.data.Start
	m.sp = &Stack{mem: m, seg: m.stack, sp: m.stack.End}
	return m, nil
}

// Data returns the static data segment.
func (m *Memory) Data() Segment { return m.data }

// StackSegment returns the stack segment.
func (m *Memory) StackSegment() Segment { return m.stack }

// Heap returns the heap segment.
func (m *Memory) Heap() Segment { return m.heap }

// Stack returns the stack living in the stack segment.
func (m *Memory) Stack() *Stack { return m.sp }

// HeapRegion returns the heap segment bytes. Offsets into the region map to
// addresses through HeapAddr.
func (m *Memory) HeapRegion() []byte {
	return m.Bytes(m.heap.Start, m.heap.Len())
}

// HeapAddr converts an offset into the heap region to an address.
func (m *Memory) HeapAddr(off int) Addr {
	return m.heap.Start + Addr(off)
}

// HeapOffset converts a heap address to an offset into the heap region.
func (m *Memory) HeapOffset(a Addr) int {
	if !m.heap.Contains(a) {
		panic(fmt.Sprintf("mem: %#x is not a heap address", uint64(a)))
	}
	return int(a - m.heap.Start)
}

// Bytes returns the n bytes starting at a. The slice aliases the address
// space. Panics if the range is outside the memory.
func (m *Memory) Bytes(a Addr, n int) []byte {
	base := m.data.Start
	if a < base || n < 0 || uint64(a-base)+uint64(n) > uint64(len(m.buf)) {
		panic(fmt.Sprintf("mem: access [%#x, +%d) out of range", uint64(a), n))
	}
	off := int(a - base)
	return m.buf[off : off+n : off+n]
}

// Load reads the word at a.
func (m *Memory) Load(a Addr) Addr {
	return LoadWord(m.Bytes(a, WordSize), 0)
}

// Store writes the word v at a.
func (m *Memory) Store(a, v Addr) {
	StoreWord(m.Bytes(a, WordSize), 0, v)
}

// Clear zeroes n bytes starting at a.
func (m *Memory) Clear(a Addr, n int) {
	clear(m.Bytes(a, n))
}

// Static reserves n zeroed word slots in the data segment. Static slots are
// never released.
func (m *Memory) Static(n int) (Slots, error) {
	if n <= 0 || n > int(m.data.End-m.brk)/WordSize {
		return Slots{}, fmt.Errorf("%w: want %d words", ErrDataExhausted, n)
	}
	s := Slots{mem: m, base: m.brk, n: n}
	m.brk += Addr(n * WordSize)
	return s, nil
}
