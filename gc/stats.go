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

// Stats are heap counters.
//
//   - Allocs, Frees, FailedAllocs, Collections, Swept: cumulative
//   - LiveObjects, LiveBytes, IndexCapacity, Available: current
type Stats struct {
	Allocs       uint64 // successful Alloc calls
	Frees        uint64 // explicit Free calls
	FailedAllocs uint64 // Alloc calls that ran out of memory
	Collections  uint64 // completed collection cycles
	Swept        uint64 // allocations reclaimed by collections

	LiveObjects   int // tracked allocations
	LiveBytes     int // bytes requested by tracked allocations
	IndexCapacity int // capacity of the allocation index
	Available     int // free bytes in the underlying allocator
}
