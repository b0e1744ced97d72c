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
	"io"
	"log/slog"

	"github.com/cloudwego/conservgc/malloc"
)

// DefaultCollectInterval is the number of Alloc calls between periodic collections.
const DefaultCollectInterval = 1 << 16

// AllocatorFactory builds the underlying allocator over the heap region.
type AllocatorFactory func(region []byte) (malloc.Allocator, error)

// Buddy returns a factory for a buddy allocator with the given block sizes.
func Buddy(minBlock, maxBlock int) AllocatorFactory {
	return func(region []byte) (malloc.Allocator, error) {
		return malloc.NewBuddyAllocatorWithBlockSize(region, minBlock, maxBlock)
	}
}

// Bitmap returns a factory for a bitmap allocator with the given block sizes.
func Bitmap(minBlock, maxBlock int) AllocatorFactory {
	return func(region []byte) (malloc.Allocator, error) {
		return malloc.NewBitmapAllocatorWithBlockSize(region, minBlock, maxBlock)
	}
}

type options struct {
	allocator       AllocatorFactory
	collectInterval uint64
	scanGlobals     bool
	initialCapacity int
	logger          *slog.Logger
}

func defaultOptions() options {
	return options{
		allocator:       Buddy(malloc.DefaultMinBlockSize, malloc.DefaultMaxBlockSize),
		collectInterval: DefaultCollectInterval,
		scanGlobals:     true,
		initialCapacity: defaultIndexCapacity,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Heap.
type Option func(*options)

// WithAllocator sets the underlying allocator. Defaults to a buddy allocator
// with 64B to 1MB blocks.
func WithAllocator(f AllocatorFactory) Option {
	return func(o *options) {
		o.allocator = f
	}
}

// WithCollectInterval sets how many Alloc calls pass between periodic
// collections. Zero disables periodic collection; allocation failures still
// collect.
func WithCollectInterval(n uint64) Option {
	return func(o *options) {
		o.collectInterval = n
	}
}

// WithScanGlobals controls whether the static data segment is a root region.
func WithScanGlobals(on bool) Option {
	return func(o *options) {
		o.scanGlobals = on
	}
}

// WithInitialCapacity sets the first capacity of the allocation index.
// The index doubles whenever it fills up.
func WithInitialCapacity(n int) Option {
	return func(o *options) {
		o.initialCapacity = n
	}
}

// WithLogger sets the logger. The default logger discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
