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

package gc

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/conservgc/mem"
)

func testLayout(heapSize int) mem.Layout {
	return mem.Layout{Base: mem.DefaultBase, DataSize: 1024, StackSize: 4096, HeapSize: heapSize}
}

func newTestHeap(t testing.TB, heapSize int, opts ...Option) (*Heap, *mem.Memory) {
	t.Helper()
	m, err := mem.New(testLayout(heapSize))
	require.NoError(t, err)
	opts = append([]Option{WithAllocator(Buddy(64, 64*1024))}, opts...)
	h, err := New(m, opts...)
	require.NoError(t, err)
	return h, m
}

// requireConsistencyPanic runs fn and requires it to panic with a
// *ConsistencyError for op.
func requireConsistencyPanic(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		var ce *ConsistencyError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, op, ce.Op)
	}()
	fn()
}

func TestNewHeap(t *testing.T) {
	m, err := mem.New(testLayout(100 * 1024))
	require.NoError(t, err)

	// heap not a multiple of the max block
	_, err = New(m, WithAllocator(Buddy(64, 64*1024)))
	assert.Error(t, err)

	h, err := New(m, WithAllocator(Bitmap(4096, 16*1024)))
	require.NoError(t, err)
	assert.Equal(t, m.Stack().Bottom(), h.StackBottom())
	assert.Same(t, m, h.Memory())
}

func TestAllocZeroed(t *testing.T) {
	h, m := newTestHeap(t, 64*1024)

	p, err := h.Alloc(100)
	require.NoError(t, err)
	assert.True(t, m.Heap().Contains(p))
	for i := range m.Bytes(p, 100) {
		m.Bytes(p, 100)[i] = 0xff
	}
	h.Free(p)

	// the buddy allocator hands the same block back
	q, err := h.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, p, q)
	assert.Equal(t, make([]byte, 100), m.Bytes(q, 100))
}

func TestAllocInvalid(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	_, err := h.Alloc(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = h.Alloc(-5)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = h.Alloc(64 * 1024)
	assert.ErrorIs(t, err, ErrTooLarge)

	assert.Zero(t, h.Stats().Collections)
	assert.Zero(t, h.Len())
}

func TestFreeNull(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)
	assert.NotPanics(t, func() { h.Free(mem.Null) })
	assert.Zero(t, h.Stats().Frees)
}

func TestFreeUntracked(t *testing.T) {
	h, m := newTestHeap(t, 64*1024)

	requireConsistencyPanic(t, "free", func() { h.Free(m.HeapAddr(8)) })

	p, err := h.Alloc(64)
	require.NoError(t, err)
	// interior pointer
	requireConsistencyPanic(t, "free", func() { h.Free(p + 1) })
	// past every allocation
	requireConsistencyPanic(t, "free", func() { h.Free(p + 4096) })

	h.Free(p)
	// double free
	requireConsistencyPanic(t, "free", func() { h.Free(p) })
	assert.NoError(t, h.CheckInvariants())
}

func TestFreeMessages(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	q, err := h.Alloc(64)
	require.NoError(t, err)
	gap := p + 100
	require.Less(t, gap, q)
	_, found := h.Find(gap)
	require.False(t, found)

	assert.PanicsWithError(t, fmt.Sprintf("gc: free %#x: no such allocation", uint64(gap)),
		func() { h.Free(gap) })
	assert.PanicsWithError(t, fmt.Sprintf("gc: free %#x: not the start of allocation %#x (64 bytes)", uint64(q+8), uint64(q)),
		func() { h.Free(q + 8) })
	assert.Equal(t, 2, h.Len())
}

// TestFreeUntrackedTerminates checks that an unrecovered consistency
// violation takes the whole process down.
func TestFreeUntrackedTerminates(t *testing.T) {
	if os.Getenv("GC_FREE_CRASHER") == "1" {
		h, m := newTestHeap(t, 64*1024)
		h.Free(m.HeapAddr(8))
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestFreeUntrackedTerminates$")
	cmd.Env = append(os.Environ(), "GC_FREE_CRASHER=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.False(t, exitErr.Success())
	assert.Contains(t, stderr.String(), "no such allocation")
}

func TestFindAndLive(t *testing.T) {
	h, m := newTestHeap(t, 64*1024)

	var ps []mem.Addr
	for _, size := range []int{10, 200, 3000} {
		p, err := h.Alloc(size)
		require.NoError(t, err)
		ps = append(ps, p)
	}

	a, ok := h.Find(ps[1] + 199)
	require.True(t, ok)
	assert.Equal(t, Allocation{Addr: ps[1], Size: 200}, a)
	_, ok = h.Find(ps[1] + 200)
	assert.False(t, ok)
	_, ok = h.Find(m.Data().Start)
	assert.False(t, ok)

	live := h.Live()
	require.Len(t, live, 3)
	for i := 1; i < len(live); i++ {
		assert.LessOrEqual(t, live[i-1].End(), live[i].Addr)
	}
	assert.Equal(t, 3210, h.Stats().LiveBytes)
}

func TestPrintAllocations(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)

	var buf bytes.Buffer
	require.NoError(t, h.PrintAllocations(&buf))
	assert.Equal(t, "0 allocations\n", buf.String())

	p, err := h.Alloc(24)
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, h.PrintAllocations(&buf))
	assert.Equal(t, fmt.Sprintf("1 allocations\n  #0: %#x: 24 bytes\n", uint64(p)), buf.String())
}

func TestSetStackBottom(t *testing.T) {
	h, m := newTestHeap(t, 64*1024)
	seg := m.StackSegment()

	assert.Error(t, h.SetStackBottom(seg.Start))
	assert.Error(t, h.SetStackBottom(seg.End+8))
	require.NoError(t, h.SetStackBottom(seg.End-64))
	assert.Equal(t, seg.End-64, h.StackBottom())

	_, err := h.Alloc(8)
	require.NoError(t, err)
	assert.ErrorIs(t, h.SetStackBottom(seg.End), ErrStackBottomLocked)
}

func TestIndexStaysSorted(t *testing.T) {
	h, _ := newTestHeap(t, 1024*1024, WithInitialCapacity(2), WithCollectInterval(0))
	rng := rand.New(rand.NewSource(3))

	var live []mem.Addr
	for i := 0; i < 5000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			p, err := h.Alloc(1 + rng.Intn(500))
			require.NoError(t, err)
			live = append(live, p)
		} else {
			j := rng.Intn(len(live))
			h.Free(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		require.NoError(t, h.CheckInvariants())
		require.Equal(t, len(live), h.Len())
	}
	assert.GreaterOrEqual(t, h.Stats().IndexCapacity, h.Len())
}

func TestClose(t *testing.T) {
	h, _ := newTestHeap(t, 64*1024)
	_, err := h.Alloc(10)
	require.NoError(t, err)

	h.Close()
	h.Close()
	assert.Zero(t, h.Len())
	assert.Zero(t, h.Stats().LiveBytes)
	_, err = h.Alloc(10)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, CollectResult{}, h.Collect())
}
