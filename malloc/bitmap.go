package malloc

import (
	"fmt"
	"math/bits"

	"github.com/bits-and-blooms/bitset"
)

const (
	bitmapMagic uint32 = 0xB17BA900

	// DefaultBitmapMinBlockSize is the default block size (4KB).
	DefaultBitmapMinBlockSize = 4 * 1024

	// DefaultBitmapMaxBlockSize is the default largest run (512KB).
	DefaultBitmapMaxBlockSize = 512 * 1024
)

// BitmapAllocator carves a region into equal blocks and serves each request
// from a run of consecutive free blocks, searching next-fit. One bit per
// block records whether it is in use.
type BitmapAllocator struct {
	region []byte
	used   *bitset.BitSet
	blocks uint
	next   uint // block where the next search starts

	minBlock int
	minShift int
	maxBlock int
}

// NewBitmapAllocator creates a bitmap allocator with 4KB blocks and runs of
// up to 512KB.
func NewBitmapAllocator(region []byte) (*BitmapAllocator, error) {
	return NewBitmapAllocatorWithBlockSize(region, DefaultBitmapMinBlockSize, DefaultBitmapMaxBlockSize)
}

// NewBitmapAllocatorWithBlockSize creates a bitmap allocator with minBlock
// sized blocks and runs of up to maxBlock bytes. minBlock must be a power of
// two larger than the block header, maxBlock a multiple of it, and the
// region must hold at least one full run.
func NewBitmapAllocatorWithBlockSize(region []byte, minBlock, maxBlock int) (*BitmapAllocator, error) {
	switch {
	case !isPow2(minBlock) || minBlock <= headerSize:
		return nil, fmt.Errorf("%w: min %d must be a power of two above %d", ErrBlockSize, minBlock, headerSize)
	case maxBlock < minBlock || maxBlock%minBlock != 0:
		return nil, fmt.Errorf("%w: max %d is not a multiple of min %d", ErrBlockSize, maxBlock, minBlock)
	}
	blocks := len(region) / minBlock
	if blocks < maxBlock/minBlock {
		return nil, fmt.Errorf("%w: %d bytes hold %d blocks, a run needs %d",
			ErrRegionSize, len(region), blocks, maxBlock/minBlock)
	}

	return &BitmapAllocator{
		region:   region,
		used:     bitset.New(uint(blocks)),
		blocks:   uint(blocks),
		minBlock: minBlock,
		minShift: bits.TrailingZeros(uint(minBlock)),
		maxBlock: maxBlock,
	}, nil
}

// Alloc reserves a run of blocks for size bytes and returns the offset of its data.
func (a *BitmapAllocator) Alloc(size int) (int, bool) {
	if size <= 0 || size > a.MaxAlloc() {
		return 0, false
	}
	n := a.blocksFor(size)
	i, ok := a.findRun(a.next, n)
	if !ok && a.next > 0 {
		i, ok = a.findRun(0, n)
	}
	if !ok {
		return 0, false
	}

	for j := i; j < i+n; j++ {
		a.used.Set(j)
	}
	if a.next = i + n; a.next >= a.blocks {
		a.next = 0
	}
	off := int(i) << a.minShift
	writeHeader(a.region, off, bitmapMagic, size)
	return off + headerSize, true
}

// Free releases the run whose data starts at offset.
// It panics if offset does not name an allocated run.
func (a *BitmapAllocator) Free(offset int) {
	blk := offset - headerSize
	if blk < 0 || blk >= int(a.blocks)<<a.minShift {
		panic("bitmap: offset out of range")
	}
	if blk&(a.minBlock-1) != 0 {
		panic("bitmap: misaligned offset")
	}
	m, size := readHeader(a.region, blk)
	if m != bitmapMagic {
		panic("bitmap: double free or invalid block")
	}
	if size <= 0 || size > a.MaxAlloc() {
		panic("bitmap: corrupted size")
	}

	clearMagic(a.region, blk)
	i := uint(blk >> a.minShift)
	for j := i; j < i+a.blocksFor(size); j++ {
		a.used.Clear(j)
	}
}

// MaxAlloc returns the largest request a single run can hold.
func (a *BitmapAllocator) MaxAlloc() int { return a.maxBlock - headerSize }

// Available returns the usable bytes of all free blocks, counting each as a
// one-block run.
func (a *BitmapAllocator) Available() int {
	return int(a.blocks-a.used.Count()) * (a.minBlock - headerSize)
}

// Reset frees every block.
func (a *BitmapAllocator) Reset() {
	a.used.ClearAll()
	a.next = 0
}

func (a *BitmapAllocator) blocksFor(size int) uint {
	return uint((size + headerSize + a.minBlock - 1) >> a.minShift)
}

// findRun returns the first block of the first run of n free blocks that
// starts at or after from.
func (a *BitmapAllocator) findRun(from, n uint) (uint, bool) {
	for from < a.blocks {
		start, ok := a.used.NextClear(from)
		if !ok || start >= a.blocks {
			return 0, false
		}
		end, ok := a.used.NextSet(start)
		if !ok || end > a.blocks {
			end = a.blocks
		}
		if end-start >= n {
			return start, true
		}
		from = end
	}
	return 0, false
}
