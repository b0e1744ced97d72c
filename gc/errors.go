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
	"errors"
	"fmt"

	"github.com/cloudwego/conservgc/mem"
)

var (
	// ErrOutOfMemory is returned when an allocation fails even after a collection.
	ErrOutOfMemory = errors.New("gc: out of memory")
	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("gc: invalid allocation size")
	// ErrTooLarge is returned when a request exceeds the largest block the
	// underlying allocator can ever produce.
	ErrTooLarge = errors.New("gc: allocation too large")
	// ErrStackBottomLocked is returned when the stack bottom is changed after
	// the first allocation.
	ErrStackBottomLocked = errors.New("gc: stack bottom already in use")
	// ErrClosed is returned by operations on a closed heap.
	ErrClosed = errors.New("gc: heap closed")
)

// ConsistencyError reports a broken heap invariant, such as freeing an
// address that is not the start of a tracked allocation. The heap panics with
// it.
type ConsistencyError struct {
	Op   string
	Addr mem.Addr
	Msg  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("gc: %s %#x: %s", e.Op, uint64(e.Addr), e.Msg)
}
