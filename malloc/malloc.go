// Package malloc provides the general-purpose allocators that back a tracked
// heap. They manage a caller-supplied byte region and hand out offsets into it
// instead of slices, so the region can live inside a larger address space.
//
// Memory returned by Alloc is not cleared; freed blocks keep their old bytes
// until they are handed out again.
//
// None of the allocators are safe for concurrent use.
package malloc

import (
	"encoding/binary"
	"errors"
)

// Allocator is the contract a tracked heap expects from its underlying allocator.
type Allocator interface {
	// Alloc reserves at least size bytes and returns the offset of the first
	// usable byte. ok is false when no block can satisfy the request.
	Alloc(size int) (offset int, ok bool)

	// Free releases a block by the offset returned from Alloc.
	// It panics if the offset does not name a live block.
	Free(offset int)

	// MaxAlloc returns the largest size Alloc can ever satisfy.
	MaxAlloc() int

	// Available returns the total free bytes.
	Available() int

	// Reset drops every allocation.
	Reset()
}

var (
	_ Allocator = (*BuddyAllocator)(nil)
	_ Allocator = (*BitmapAllocator)(nil)
)

var (
	// ErrBlockSize reports an unusable block size configuration.
	ErrBlockSize = errors.New("malloc: invalid block size")

	// ErrRegionSize reports a region the allocator cannot tile.
	ErrRegionSize = errors.New("malloc: invalid region size")
)

// Every block starts with a header: [4 bytes magic][4 bytes requested size].
// A freed block has its magic cleared.
const headerSize = 8

func writeHeader(region []byte, off int, m uint32, size int) {
	binary.LittleEndian.PutUint32(region[off:], m)
	binary.LittleEndian.PutUint32(region[off+4:], uint32(size))
}

func readHeader(region []byte, off int) (m uint32, size int) {
	m = binary.LittleEndian.Uint32(region[off:])
	size = int(binary.LittleEndian.Uint32(region[off+4:]))
	return
}

func clearMagic(region []byte, off int) {
	binary.LittleEndian.PutUint32(region[off:], 0)
}
