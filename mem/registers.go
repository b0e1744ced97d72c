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

// NumRegisters is the size of a register file.
const NumRegisters = 6

// Registers holds words that live outside the address space, the way a
// machine keeps callee-saved values in registers. A collector cannot see them
// until they are spilled to memory.
type Registers struct {
	r [NumRegisters]Addr
}

// Get returns register i.
func (r *Registers) Get(i int) Addr { return r.r[i] }

// Set stores v into register i.
func (r *Registers) Set(i int, v Addr) { r.r[i] = v }

// Clear zeroes every register.
func (r *Registers) Clear() { r.r = [NumRegisters]Addr{} }

// Spill pushes a frame holding every register. Pop the frame once the
// spilled values are no longer needed.
func (r *Registers) Spill(s *Stack) (Slots, error) {
	f, err := s.Push(NumRegisters)
	if err != nil {
		return Slots{}, err
	}
	for i, v := range r.r {
		f.Set(i, v)
	}
	return f, nil
}
