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

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPushPop(t *testing.T) {
	m, err := New(testLayout())
	require.NoError(t, err)
	s := m.Stack()

	assert.Equal(t, m.StackSegment().End, s.Bottom())
	assert.Equal(t, s.Bottom(), s.SP())
	assert.Zero(t, s.Depth())

	f1, err := s.Push(2)
	require.NoError(t, err)
	assert.Equal(t, s.Bottom()-16, s.SP())
	assert.Equal(t, s.SP(), f1.Base())
	f1.Set(1, 7)

	f2, err := s.Push(3)
	require.NoError(t, err)
	assert.Equal(t, 40, s.Depth())
	f2.Set(0, 9)

	// only the top frame can be popped
	assert.Panics(t, func() { s.Pop(f1) })
	s.Pop(f2)
	s.Pop(f1)
	assert.Zero(t, s.Depth())

	// new frames are zeroed even over stale data
	f3, err := s.Push(5)
	require.NoError(t, err)
	for i := 0; i < f3.Len(); i++ {
		assert.Equal(t, Null, f3.Get(i))
	}
}

func TestStackOverflow(t *testing.T) {
	m, err := New(testLayout())
	require.NoError(t, err)
	s := m.Stack()

	_, err = s.Push(64)
	require.NoError(t, err)
	_, err = s.Push(1)
	assert.ErrorIs(t, err, ErrStackOverflow)
	_, err = s.Push(0)
	assert.ErrorIs(t, err, ErrStackOverflow)
}

func TestStackPushHugeFrame(t *testing.T) {
	m, err := New(testLayout())
	require.NoError(t, err)
	s := m.Stack()

	for _, n := range []int{1 << 61, 1<<62 + 1, math.MaxInt} {
		_, err = s.Push(n)
		assert.ErrorIs(t, err, ErrStackOverflow, "n=%d", n)
		assert.Equal(t, s.Bottom(), s.SP())
	}

	// the stack is still usable and frames do not overlap
	f1, err := s.Push(2)
	require.NoError(t, err)
	f2, err := s.Push(2)
	require.NoError(t, err)
	assert.Equal(t, f2.Base()+2*WordSize, f1.Base())
}

func TestRegistersSpill(t *testing.T) {
	m, err := New(testLayout())
	require.NoError(t, err)

	var r Registers
	r.Set(0, 1)
	r.Set(NumRegisters-1, 2)

	f, err := r.Spill(m.Stack())
	require.NoError(t, err)
	assert.Equal(t, NumRegisters, f.Len())
	assert.Equal(t, Addr(1), f.Get(0))
	assert.Equal(t, Addr(2), f.Get(NumRegisters-1))
	m.Stack().Pop(f)

	r.Clear()
	assert.Equal(t, Null, r.Get(0))
}
