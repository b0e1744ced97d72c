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

import "github.com/cloudwego/conservgc/mem"

const defaultIndexCapacity = 1024

// record is one live allocation.
type record struct {
	addr   mem.Addr
	size   int
	marked bool
}

func (r *record) end() mem.Addr {
	return r.addr + mem.Addr(r.size)
}

// index keeps records sorted by address with no gaps and no overlaps:
// recs[i].end() <= recs[i+1].addr.
type index struct {
	recs    []record
	initCap int
}

func newIndex(capacity int) index {
	if capacity <= 0 {
		capacity = defaultIndexCapacity
	}
	return index{initCap: capacity}
}

func (x *index) len() int { return len(x.recs) }

func (x *index) cap() int { return cap(x.recs) }

// search returns the index of the record containing p, or the position
// where a record starting at p belongs.
func (x *index) search(p mem.Addr) int {
	l, r := 0, len(x.recs)
	for l < r {
		m := l + (r-l)/2
		switch {
		case p < x.recs[m].addr:
			r = m
		case p >= x.recs[m].end():
			l = m + 1
		default:
			return m
		}
	}
	return l
}

// find returns the record whose range contains p, or nil.
func (x *index) find(p mem.Addr) *record {
	i := x.search(p)
	if i < len(x.recs) && p >= x.recs[i].addr {
		return &x.recs[i]
	}
	return nil
}

// insert places a record for [p, p+size) at position i, as returned by search.
func (x *index) insert(i int, p mem.Addr, size int) {
	n := len(x.recs)
	if n == cap(x.recs) {
		newCap := x.initCap
		if n > 0 {
			newCap = 2 * cap(x.recs)
		}
		recs := make([]record, n, newCap)
		copy(recs, x.recs)
		x.recs = recs
	}
	x.recs = x.recs[:n+1]
	copy(x.recs[i+1:], x.recs[i:n])
	x.recs[i] = record{addr: p, size: size}
}

// remove deletes the record at position i, shifting later records left.
func (x *index) remove(i int) {
	copy(x.recs[i:], x.recs[i+1:])
	x.recs[len(x.recs)-1] = record{}
	x.recs = x.recs[:len(x.recs)-1]
}

func (x *index) release() {
	x.recs = nil
}

// check verifies ordering and non-overlap. It returns the first offending
// position, or -1.
func (x *index) check() int {
	for i := 1; i < len(x.recs); i++ {
		if x.recs[i-1].end() > x.recs[i].addr {
			return i
		}
	}
	return -1
}
