package malloc

import (
	"fmt"
	"math/bits"
	"slices"
)

const (
	buddyMagic uint32 = 0xB0DD1E5

	// DefaultMinBlockSize is the smallest buddy block (64B).
	DefaultMinBlockSize = 64

	// DefaultMaxBlockSize is the largest buddy block (1MB).
	DefaultMaxBlockSize = 1 << 20
)

// freeList is a stack of free block offsets of one order.
type freeList []int

func (l *freeList) push(off int) { *l = append(*l, off) }

func (l *freeList) pop() (int, bool) {
	n := len(*l)
	if n == 0 {
		return 0, false
	}
	off := (*l)[n-1]
	*l = (*l)[:n-1]
	return off, true
}

// BuddyAllocator splits a region into power-of-two blocks. A block of order k
// is minBlock<<k bytes long and starts at a multiple of its own size.
//
// Freed blocks are not merged right away. Buddies are merged when an
// allocation finds no block large enough.
type BuddyAllocator struct {
	region []byte
	free   []freeList // by order
	// merge is set when a free may have left a mergeable pair behind
	merge bool

	minBlock int
	minShift int
	maxBlock int
	top      int // order of maxBlock
}

// NewBuddyAllocator creates a buddy allocator with 64B to 1MB blocks.
func NewBuddyAllocator(region []byte) (*BuddyAllocator, error) {
	return NewBuddyAllocatorWithBlockSize(region, DefaultMinBlockSize, DefaultMaxBlockSize)
}

// NewBuddyAllocatorWithBlockSize creates a buddy allocator over region.
// Block sizes must be powers of two, minBlock must exceed the block header,
// and len(region) must be a positive multiple of maxBlock.
func NewBuddyAllocatorWithBlockSize(region []byte, minBlock, maxBlock int) (*BuddyAllocator, error) {
	switch {
	case !isPow2(minBlock) || !isPow2(maxBlock):
		return nil, fmt.Errorf("%w: %d and %d must be powers of two", ErrBlockSize, minBlock, maxBlock)
	case minBlock > maxBlock:
		return nil, fmt.Errorf("%w: min %d above max %d", ErrBlockSize, minBlock, maxBlock)
	case minBlock <= headerSize:
		return nil, fmt.Errorf("%w: min %d leaves no room past the %d byte header", ErrBlockSize, minBlock, headerSize)
	case len(region) == 0 || len(region)%maxBlock != 0:
		return nil, fmt.Errorf("%w: %d is not a positive multiple of %d", ErrRegionSize, len(region), maxBlock)
	}

	a := &BuddyAllocator{
		region:   region,
		minBlock: minBlock,
		minShift: bits.TrailingZeros(uint(minBlock)),
		maxBlock: maxBlock,
	}
	a.top = bits.TrailingZeros(uint(maxBlock)) - a.minShift
	a.free = make([]freeList, a.top+1)
	a.free[a.top] = make(freeList, 0, len(region)/maxBlock)
	a.Reset()
	return a, nil
}

// Alloc reserves a block for size bytes and returns the offset of its data.
func (a *BuddyAllocator) Alloc(size int) (int, bool) {
	if size <= 0 || size > a.MaxAlloc() {
		return 0, false
	}
	want := a.order(size + headerSize)

	have := a.smallestFree(want)
	if have < 0 && a.merge {
		if have = a.Coalesce(want); have < 0 {
			a.merge = false
		}
	}
	if have < 0 {
		return 0, false
	}

	off, _ := a.free[have].pop()
	// keep the left half, hand the right halves down
	for have > want {
		have--
		a.free[have].push(off + a.blockSize(have))
	}
	writeHeader(a.region, off, buddyMagic, size)
	return off + headerSize, true
}

// Free releases the block whose data starts at offset.
// It panics if offset does not name an allocated block.
func (a *BuddyAllocator) Free(offset int) {
	blk := offset - headerSize
	if blk < 0 || blk >= len(a.region) {
		panic("buddy: offset out of range")
	}
	if blk&(a.minBlock-1) != 0 {
		panic("buddy: misaligned block")
	}
	m, size := readHeader(a.region, blk)
	if m != buddyMagic {
		panic("buddy: double free or invalid block")
	}
	if size <= 0 || size > a.MaxAlloc() {
		panic("buddy: corrupted size")
	}
	o := a.order(size + headerSize)
	if blk&(a.blockSize(o)-1) != 0 {
		panic("buddy: misaligned block")
	}

	clearMagic(a.region, blk)
	a.free[o].push(blk)
	if o < a.top {
		a.merge = true
	}
}

// BlockSize returns the size of the block that backs a size-byte allocation.
func (a *BuddyAllocator) BlockSize(size int) int {
	return a.blockSize(a.order(size + headerSize))
}

// MaxAlloc returns the largest request a top-order block can hold.
func (a *BuddyAllocator) MaxAlloc() int { return a.maxBlock - headerSize }

// Available returns the usable bytes of all free blocks.
func (a *BuddyAllocator) Available() int {
	n := 0
	for o, l := range a.free {
		n += len(l) * (a.blockSize(o) - headerSize)
	}
	return n
}

// Coalesce merges free buddies, smallest order first, until a block of at
// least the target order is free. It returns that block's order, or -1.
func (a *BuddyAllocator) Coalesce(target int) int {
	if o := a.smallestFree(target); o >= 0 {
		return o
	}
	for o := 0; o < target; o++ {
		a.mergeOrder(o)
	}
	return a.smallestFree(target)
}

// mergeOrder moves every free pair of buddies of order o up one order.
func (a *BuddyAllocator) mergeOrder(o int) {
	l := a.free[o]
	if len(l) < 2 {
		return
	}
	slices.Sort(l)
	size := a.blockSize(o)
	kept := l[:0]
	for i := 0; i < len(l); i++ {
		if l[i]&size == 0 && i+1 < len(l) && l[i+1] == l[i]+size {
			a.free[o+1].push(l[i])
			i++
			continue
		}
		kept = append(kept, l[i])
	}
	a.free[o] = kept
}

// Reset frees every block.
func (a *BuddyAllocator) Reset() {
	for o := range a.free {
		a.free[o] = a.free[o][:0]
	}
	// lowest offset ends up on top
	for off := len(a.region) - a.maxBlock; off >= 0; off -= a.maxBlock {
		a.free[a.top].push(off)
	}
	a.merge = false
}

func (a *BuddyAllocator) smallestFree(order int) int {
	for o := order; o <= a.top; o++ {
		if len(a.free[o]) > 0 {
			return o
		}
	}
	return -1
}

// order returns the smallest order whose blocks hold n bytes.
func (a *BuddyAllocator) order(n int) int {
	if n <= a.minBlock {
		return 0
	}
	return bits.Len(uint(n-1)) - a.minShift
}

func (a *BuddyAllocator) blockSize(order int) int { return a.minBlock << order }

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }
