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

package mem

import "fmt"

// Stack is a downward-growing stack of word slots inside the stack segment.
// Frames are pushed and popped in LIFO order.
type Stack struct {
	mem *Memory
	seg Segment
	sp  Addr
}

// SP returns the current stack pointer, the lowest in-use address.
func (s *Stack) SP() Addr { return s.sp }

// Bottom returns the highest stack address (exclusive), where the stack starts.
func (s *Stack) Bottom() Addr { return s.seg.End }

// Depth returns the number of bytes in use.
func (s *Stack) Depth() int { return int(s.seg.End - s.sp) }

// Push reserves a frame of n zeroed word slots.
func (s *Stack) Push(n int) (Slots, error) {
	if n <= 0 || n > int(s.sp-s.seg.Start)/WordSize {
		return Slots{}, fmt.Errorf("%w: push %d words at depth %d", ErrStackOverflow, n, s.Depth())
	}
	size := n * WordSize
	s.sp -= Addr(size)
	s.mem.Clear(s.sp, size)
	return Slots{mem: s.mem, base: s.sp, n: n}, nil
}

// Pop releases the top frame. Popping any other frame panics.
func (s *Stack) Pop(f Slots) {
	if f.mem != s.mem || f.base != s.sp {
		panic(fmt.Sprintf("mem: pop of frame %#x, stack pointer is %#x", uint64(f.base), uint64(s.sp)))
	}
	s.sp += Addr(f.n * WordSize)
}

// Slots is a run of word slots in a stack frame or the data segment.
type Slots struct {
	mem  *Memory
	base Addr
	n    int
}

// Len returns the number of slots.
func (f Slots) Len() int { return f.n }

// Base returns the address of slot 0.
func (f Slots) Base() Addr { return f.base }

// Addr returns the address of slot i.
func (f Slots) Addr(i int) Addr {
	if i < 0 || i >= f.n {
		panic(fmt.Sprintf("mem: slot %d out of range [0, %d)", i, f.n))
	}
	return f.base + Addr(i*WordSize)
}

// Get loads slot i.
func (f Slots) Get(i int) Addr { return f.mem.Load(f.Addr(i)) }

// Set stores v into slot i.
func (f Slots) Set(i int, v Addr) { f.mem.Store(f.Addr(i), v) }
