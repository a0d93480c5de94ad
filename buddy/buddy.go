/*
 * Copyright 2026 Memkit Authors
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

// Package buddy implements a binary buddy allocator over a fixed contiguous
// arena. The arena is carved into one or more equally sized regions; each
// region is a complete binary tree of power-of-two blocks that are split
// lazily on allocation and coalesced with their buddies on free. Metadata is
// kept in compact bitmaps outside the arena: a free map with one XOR-toggled
// bit per sibling pair, and either a split bitmap over internal nodes or a
// per-leaf level map, selected by Config.SizeBits. Leaf-sized frees are
// deferred on a lazy list to absorb alloc/free churn.
//
// An Allocator is not safe for concurrent use; callers serialize.
package buddy

import (
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/memkit/buddyalloc/container/dlist"
	"github.com/memkit/buddyalloc/internal/mmapx"
)

// Allocator manages Config.Regions contiguous regions of 1<<MaxBlockLog2
// bytes each. Free blocks are threaded through the arena itself on intrusive
// lists, one per (region, level).
type Allocator struct {
	cfg Config

	arena      []byte // keeps the backing reachable
	arenaStart unsafe.Pointer
	mapped     bool // arena obtained from mmapx; released by Release

	minBlockLog2 int
	maxBlockLog2 int
	numLevels    int
	minBlockSize int
	maxBlockSize int
	totalSize    int
	regions      int

	freeMaps [][]byte // one per region, one bit per sibling pair
	levels   levelStore

	freeLists [][]dlist.List // [region][level]
	lazyList  dlist.List
	lazyCount int

	// freeSize counts bytes on the main free lists only; blocks parked on
	// the lazy list are still accounted as allocated until drained.
	freeSize int
}

// New creates an allocator over arena, which must be exactly
// cfg.Regions << cfg.MaxBlockLog2 bytes. A nil arena makes the allocator
// obtain an anonymous mapping of that size itself; Release returns it.
func New(arena []byte, cfg Config) (*Allocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	total := cfg.totalSize()
	mapped := false
	if arena == nil {
		m, err := mmapx.Alloc(total)
		if err != nil {
			return nil, fmt.Errorf("buddy: mapping %d bytes: %w", total, err)
		}
		arena = m
		mapped = true
	} else if len(arena) != total {
		return nil, fmt.Errorf("buddy: arena must be %d bytes (%d regions of %d), got %d",
			total, cfg.Regions, cfg.maxBlockSize(), len(arena))
	}

	a := &Allocator{
		cfg:          cfg,
		arena:        arena,
		arenaStart:   unsafe.Pointer(&arena[0]),
		mapped:       mapped,
		minBlockLog2: cfg.MinBlockLog2,
		maxBlockLog2: cfg.MaxBlockLog2,
		numLevels:    cfg.numLevels(),
		minBlockSize: cfg.minBlockSize(),
		maxBlockSize: cfg.maxBlockSize(),
		totalSize:    total,
		regions:      cfg.Regions,
	}

	// reset overwrites every metadata byte, so the buffers need no zeroing.
	a.freeMaps = make([][]byte, a.regions)
	for r := range a.freeMaps {
		n := cfg.freeMapBytes()
		a.freeMaps[r] = dirtmake.Bytes(n, n)
	}
	if cfg.SizeBits == 0 {
		a.levels = newSplitStore(a)
	} else {
		a.levels = newPackedStore(a)
	}

	a.freeLists = make([][]dlist.List, a.regions)
	for r := range a.freeLists {
		a.freeLists[r] = make([]dlist.List, a.numLevels)
	}

	a.reset(cfg.StartFull)
	return a, nil
}

// MustNew is New for callers that treat construction failure as fatal.
func MustNew(arena []byte, cfg Config) *Allocator {
	a, err := New(arena, cfg)
	if err != nil {
		panic(err)
	}
	return a
}

// reset rebuilds the empty or full state from scratch, discarding whatever
// came before, lazy list included.
func (a *Allocator) reset(full bool) {
	for r := range a.freeMaps {
		memset(a.freeMaps[r], 0x00)
	}
	a.levels.reset(full)
	for r := range a.freeLists {
		for l := range a.freeLists[r] {
			a.freeLists[r][l].Init()
		}
	}
	a.lazyList.Init()
	a.lazyCount = 0

	if full {
		a.freeSize = 0
		return
	}
	for r := 0; r < a.regions; r++ {
		a.pushFree(a.regionStart(r), r, 0)
	}
	a.freeSize = a.totalSize
}

// Alloc returns a block of at least size bytes, or nil when no free block of
// the rounded size exists in any region. The returned slice has the
// requested length and the full block as capacity; its start is aligned to
// the block size within its region. A size of zero behaves as one.
func (a *Allocator) Alloc(size int) []byte {
	if size < 0 || size > a.maxBlockSize {
		return nil
	}

	// Lazy fast path: a deferred leaf free is still marked allocated in
	// the bitmaps, so it can be handed straight back out.
	if size <= a.minBlockSize && a.lazyCount > 0 {
		n := a.lazyList.PopFront()
		a.lazyCount--
		off := a.offsetOf(n)
		if debugEnabled {
			debugf("alloc %d from lazy list at %d", size, off)
		}
		return a.slice(off, a.minBlockSize, size)
	}

	target := a.smallestBlockLevel(size)

	found := false
	var region, level int
	for r := 0; r < a.regions && !found; r++ {
		level = target
		for {
			if !a.freeLists[r][level].Empty() {
				found = true
				region = r
				break
			}
			if level == 0 {
				break
			}
			level--
			if !a.freeLists[r][level].Empty() {
				// A larger block exists: take it, mark it split, and hand
				// both halves to the level below. The lower half goes first
				// so the leftmost block is always the next one popped.
				block := a.popFree(r, level)
				idx := a.blockIndex(block, r, level)
				a.levels.setSplit(r, idx, true)
				if level > 0 {
					a.flipAllocated(r, mapIndex(idx))
				}
				if debugEnabled {
					debugf("split block %d at level %d", block, level)
				}
				a.pushFree(block, r, level+1)
				a.pushFree(block+a.sizeOfLevel(level+1), r, level+1)
				level = target
			}
		}
	}
	if !found {
		return nil
	}

	block := a.popFree(region, level)
	a.flipAllocated(region, mapIndex(a.blockIndex(block, region, level)))
	a.levels.setLevel(block, region, level)

	blockSize := a.sizeOfLevel(level)
	a.freeSize -= blockSize
	if debugEnabled {
		debugf("alloc %d -> block %d level %d region %d", size, block, level, region)
	}
	return a.slice(block, blockSize, size)
}

// Free returns block to the allocator, recovering its size from metadata.
// Blocks outside the managed arena are ignored.
func (a *Allocator) Free(block []byte) {
	off, ok := a.offsetOfSlice(block)
	if !ok {
		return
	}
	region := a.regionOf(off)
	a.free(off, region, a.sizeOfLevel(a.levels.levelOf(off, region)))
}

// FreeSized is Free with a caller-supplied size, trusted modulo rounding.
// Use it when metadata no longer reflects the span, e.g. after freeing part
// of a larger allocation.
func (a *Allocator) FreeSized(block []byte, size int) {
	off, ok := a.offsetOfSlice(block)
	if !ok || size < 0 {
		return
	}
	a.free(off, a.regionOf(off), size)
}

func (a *Allocator) free(off, region, size int) {
	// Lazy fast path: park leaf-sized frees, bitmaps untouched.
	if size <= a.minBlockSize && a.lazyCount < a.cfg.LazyThreshold {
		a.lazyList.PushBack(a.nodeAt(off))
		a.lazyCount++
		if debugEnabled {
			debugf("free %d deferred, lazy list at %d", off, a.lazyCount)
		}
		return
	}

	rounded := roundUpPow2(size)
	if rounded < a.minBlockSize {
		rounded = a.minBlockSize
	}
	level := a.smallestBlockLevel(rounded)
	if a.sizeOfLevel(level) == rounded && a.levelAlignment(off, region, level) == level {
		a.deallocate(off, region, level)
		return
	}
	a.freeRange(off, rounded)
}

// FreeRange returns an arbitrary span starting at block to the allocator.
// The span need not be a power of two or block aligned; partial leaves at
// either end are trimmed off.
func (a *Allocator) FreeRange(block []byte, size int) {
	off, ok := a.offsetOfSlice(block)
	if !ok || size <= 0 {
		return
	}
	a.freeRange(off, size)
}

// deallocate frees the aligned power-of-two block at off and merges it with
// its buddy as long as the buddy is free too. The pair bit is flipped for
// the freed block at every level climbed; after a flip, a clear bit means
// the buddy side was freed earlier, so the two halves coalesce.
func (a *Allocator) deallocate(off, region, level int) {
	freed := a.sizeOfLevel(level)
	block := off
	a.flipAllocated(region, mapIndex(a.blockIndex(block, region, level)))

	buddy := a.buddyOf(block, region, level)
	for level > 0 && !a.pairAllocated(region, mapIndex(a.blockIndex(buddy, region, level))) {
		if debugEnabled {
			debugf("merge %d and %d at level %d", block, buddy, level)
		}
		if level < a.numLevels-1 {
			a.levels.setSplit(region, a.blockIndex(block, region, level), false)
		}
		dlist.Remove(a.nodeAt(buddy))
		if buddy < block {
			block = buddy
		}
		level--
		if level > 0 {
			buddy = a.buddyOf(block, region, level)
			a.flipAllocated(region, mapIndex(a.blockIndex(block, region, level)))
		}
	}

	if level < a.numLevels-1 {
		a.levels.setSplit(region, a.blockIndex(block, region, level), false)
	}
	a.levels.setLevel(block, region, level)
	a.freeSize += freed
	a.pushFree(block, region, level)
}

// freeRange walks the span [off, off+size), peeling off the largest
// naturally aligned block that still fits at each step. Descendant metadata
// is scrubbed before each block is freed: the span was part of a larger
// allocation, so whatever the bitmaps say below the chosen block is stale
// and would corrupt the merge loop.
func (a *Allocator) freeRange(off, size int) {
	end := (off + size) &^ (a.minBlockSize - 1)
	aligned := (off + a.minBlockSize - 1) &^ (a.minBlockSize - 1)
	if end > a.totalSize {
		end = a.totalSize
	}

	remaining := end - aligned
	for aligned < end {
		region := a.regionOf(aligned)
		maxLevel := a.smallestBlockLevel(remaining)

		var level int
		if a.sizeOfLevel(maxLevel) == remaining && a.levelAlignment(aligned, region, maxLevel) == maxLevel {
			level = maxLevel
		} else {
			level = a.levelAlignment(aligned, region, maxLevel+1)
		}
		blockSize := a.sizeOfLevel(level)
		if debugEnabled {
			debugf("range free block %d level %d size %d", aligned, level, blockSize)
		}

		for l := level + 1; l < a.numLevels; l++ {
			startIdx := a.blockIndex(aligned, region, l)
			for j := startIdx; j < startIdx+a.numBlocksAt(blockSize, l); j++ {
				a.setAllocated(region, mapIndex(j), false)
				if l < a.numLevels-1 {
					a.levels.setSplit(region, j, false)
				}
			}
		}
		if level < a.numLevels-1 {
			a.levels.setSplit(region, a.blockIndex(aligned, region, level), false)
		}

		a.deallocate(aligned, region, level)
		aligned += blockSize
		remaining -= blockSize
	}
}

// EmptyLazyList drains deferred leaf frees into the main allocator state so
// the free lists and bitmaps reflect every free issued so far.
func (a *Allocator) EmptyLazyList() {
	for a.lazyCount > 0 {
		n := a.lazyList.PopFront()
		a.lazyCount--
		off := a.offsetOf(n)
		region := a.regionOf(off)
		a.deallocate(off, region, a.levels.levelOf(off, region))
	}
}

// Fill reinitializes the allocator with everything marked allocated, as if
// every leaf had been handed out. It overwrites any prior state; use it to
// adopt a region whose contents are already tracked elsewhere.
func (a *Allocator) Fill() {
	a.reset(true)
}

// AllocSize returns the size of the live allocation holding block, or 0 for
// a block outside the arena. With SizeBits 4 or 8 the result is exact only
// when block starts where the allocation starts.
func (a *Allocator) AllocSize(block []byte) int {
	off, ok := a.offsetOfSlice(block)
	if !ok {
		return 0
	}
	return a.sizeOfLevel(a.levels.levelOf(off, a.regionOf(off)))
}

// Available returns the number of free bytes: everything on the free lists
// plus the leaves parked on the lazy list.
func (a *Allocator) Available() int {
	return a.freeSize + a.lazyCount*a.minBlockSize
}

// Release unmaps a backing region the allocator created itself. It is a
// no-op for a caller-supplied arena. The allocator must not be used after.
func (a *Allocator) Release() error {
	if !a.mapped || a.arena == nil {
		a.arena = nil
		return nil
	}
	arena := a.arena
	a.arena = nil
	a.arenaStart = nil
	return mmapx.Free(arena)
}

// arena plumbing

func (a *Allocator) nodeAt(off int) *dlist.Node {
	return dlist.At(unsafe.Add(a.arenaStart, off))
}

func (a *Allocator) offsetOf(n *dlist.Node) int {
	return int(uintptr(n.Pointer()) - uintptr(a.arenaStart))
}

// offsetOfSlice maps the data pointer of block back to an arena offset.
// Reads the slice header directly so zero-length slices stay valid.
func (a *Allocator) offsetOfSlice(block []byte) (int, bool) {
	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	if dataPtr == 0 {
		return 0, false
	}
	off := int(dataPtr - uintptr(a.arenaStart))
	if off < 0 || off >= a.totalSize {
		return 0, false
	}
	return off, true
}

func (a *Allocator) slice(off, blockSize, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(a.arenaStart, off)), blockSize)[:size]
}

func (a *Allocator) pushFree(off, region, level int) {
	a.freeLists[region][level].PushBack(a.nodeAt(off))
}

func (a *Allocator) popFree(region, level int) int {
	return a.offsetOf(a.freeLists[region][level].PopFront())
}
