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
	"time"

	"github.com/cloudwego/conservgc/mem"
)

// CollectResult summarizes one collection cycle.
type CollectResult struct {
	// Scanned is the number of bytes scanned for candidate pointers.
	Scanned int
	// Marked is the number of allocations found reachable.
	Marked int
	// Freed is the number of allocations reclaimed.
	Freed int
	// FreedBytes is the total size of reclaimed allocations.
	FreedBytes int
	// Duration is the wall time of the cycle.
	Duration time.Duration
}

// marker drives scan-and-mark with an explicit work-list instead of recursion.
type marker struct {
	h       *Heap
	heap    mem.Segment
	work    []mem.Addr
	scanned int
	marked  int
}

// scan marks every unmarked allocation that a word of b, at any byte offset,
// points into, and queues it for scanning. Regions shorter than a word
// contribute nothing.
func (mk *marker) scan(b []byte) {
	mk.scanned += len(b)
	for i := 0; i+mem.WordSize <= len(b); i++ {
		p := mem.LoadWord(b, i)
		if !mk.heap.Contains(p) {
			continue
		}
		r := mk.h.idx.find(p)
		if r == nil || r.marked {
			continue
		}
		r.marked = true
		mk.marked++
		mk.work = append(mk.work, r.addr)
	}
}

// drain scans queued allocations until nothing new is reachable. Records are
// neither added nor removed while marking, so queued addresses stay valid.
func (mk *marker) drain() {
	for len(mk.work) > 0 {
		p := mk.work[len(mk.work)-1]
		mk.work = mk.work[:len(mk.work)-1]
		r := mk.h.idx.find(p)
		mk.scan(mk.h.mem.Bytes(r.addr, r.size))
	}
}

// Collect runs one full mark-and-sweep cycle and frees every allocation that
// is not reachable from the roots. It never fails.
//
// Roots are the stack from the current stack pointer to the stack bottom,
// the registers (spilled to the stack first) and, unless disabled, the
// static data segment.
func (h *Heap) Collect() CollectResult {
	start := time.Now()
	if h.closed {
		return CollectResult{}
	}

	for i := range h.idx.recs {
		h.idx.recs[i].marked = false
	}

	mk := &marker{h: h, heap: h.mem.Heap()}

	// spill registers so the stack scan covers them
	stack := h.mem.Stack()
	spill, err := h.regs.Spill(stack)
	if err != nil {
		// No room to spill: scan the register file directly.
		var words [mem.NumRegisters * mem.WordSize]byte
		for i := 0; i < mem.NumRegisters; i++ {
			mem.StoreWord(words[:], i*mem.WordSize, h.regs.Get(i))
		}
		mk.scan(words[:])
	}
	if sp := stack.SP(); sp < h.stackBottom {
		mk.scan(h.mem.Bytes(sp, int(h.stackBottom-sp)))
	}
	if h.opts.scanGlobals {
		data := h.mem.Data()
		mk.scan(h.mem.Bytes(data.Start, data.Len()))
	}
	mk.drain()
	if err == nil {
		stack.Pop(spill)
	}

	// sweep from a snapshot: freeing compacts the index
	var dead []mem.Addr
	for _, r := range h.idx.recs {
		if !r.marked {
			dead = append(dead, r.addr)
		}
	}
	res := CollectResult{Scanned: mk.scanned, Marked: mk.marked, Freed: len(dead)}
	for _, p := range dead {
		res.FreedBytes += h.free(p)
	}
	res.Duration = time.Since(start)

	h.stats.Collections++
	h.stats.Swept += uint64(res.Freed)
	h.log.Debug("collection finished",
		"marked", res.Marked,
		"freed", res.Freed,
		"freed_bytes", res.FreedBytes,
		"live", h.idx.len(),
		"scanned", res.Scanned,
		"duration", res.Duration,
	)
	return res
}
