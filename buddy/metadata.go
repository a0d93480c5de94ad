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

package buddy

import (
	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/memkit/buddyalloc/internal/bitset"
)

// The free map is shared by both encodings: one bit per sibling pair,
// toggled on every allocation or deallocation of either sibling. A set bit
// means exactly one of the pair is not free; a clear bit means both are free
// or both are not. These paths flip, never set, so the invariant survives
// any interleaving of allocs and frees.

func (a *Allocator) pairAllocated(region, mapIdx int) bool {
	return bitset.Get(a.freeMaps[region], mapIdx)
}

func (a *Allocator) flipAllocated(region, mapIdx int) {
	bitset.Flip(a.freeMaps[region], mapIdx)
}

// setAllocated writes the pair bit directly. Only the range path uses it,
// to scrub stale descendant state before the merge loop can observe it.
func (a *Allocator) setAllocated(region, mapIdx int, v bool) {
	bitset.SetTo(a.freeMaps[region], mapIdx, v)
}

// levelStore abstracts the two size metadata encodings. The control flow of
// the allocator is identical under both; only these primitives differ.
type levelStore interface {
	// setSplit marks or clears the split bit of the internal node idx.
	// A no-op under the size-map encoding, which tracks no split state.
	setSplit(region, idx int, split bool)

	// isSplit reports whether internal node idx is split. Always false
	// under the size-map encoding.
	isSplit(region, idx int) bool

	// setLevel records that the block at off now lives at level, so that a
	// following levelOf returns it. Under the split encoding this re-marks
	// the ancestor chain; under the size-map encoding it writes the leaf
	// entry.
	setLevel(off, region, level int)

	// levelOf returns the level of the block containing off. Under the
	// size-map encoding the answer is exact only when off is the start of
	// that block.
	levelOf(off, region int) int

	// reset restores the all-free or all-allocated pattern.
	reset(full bool)
}

// splitStore is the SizeBits == 0 encoding: one bit per internal node,
// set while the node is split into its children. The level of a block is
// recovered by walking to the deepest split ancestor.
type splitStore struct {
	a    *Allocator
	bits [][]byte // one per region
}

func newSplitStore(a *Allocator) *splitStore {
	s := &splitStore{a: a, bits: make([][]byte, a.regions)}
	n := a.cfg.splitMapBytes()
	for r := range s.bits {
		s.bits[r] = dirtmake.Bytes(n, n)
	}
	return s
}

func (s *splitStore) setSplit(region, idx int, split bool) {
	bitset.SetTo(s.bits[region], idx, split)
}

func (s *splitStore) isSplit(region, idx int) bool {
	return bitset.Get(s.bits[region], idx)
}

// setLevel re-marks the parent chain: a block handed out or freed at level
// implies every ancestor is split. Stops at the first ancestor already
// marked, so the walk is O(levels) worst case and O(1) amortized.
func (s *splitStore) setLevel(off, region, level int) {
	for l := level - 1; l >= 0; l-- {
		idx := s.a.blockIndex(off, region, l)
		if bitset.Get(s.bits[region], idx) {
			break
		}
		bitset.Set(s.bits[region], idx)
	}
}

func (s *splitStore) levelOf(off, region int) int {
	for l := s.a.numLevels - 1; l > 0; l-- {
		if bitset.Get(s.bits[region], s.a.blockIndex(off, region, l-1)) {
			return l
		}
	}
	return 0
}

func (s *splitStore) reset(full bool) {
	var pattern byte
	if full {
		pattern = 0xFF
	}
	for _, b := range s.bits {
		memset(b, pattern)
	}
}

// packedStore is the SizeBits == 4 or 8 encoding: one entry per leaf, for
// O(1) recovery of a block's level from its start offset. setLevel writes
// only the entry of the block's first leaf; the entries of the block's other
// leaves keep whatever they held before.
type packedStore struct {
	a       *Allocator
	entries [][]byte // one per region
	bits    int      // 4 or 8
}

func newPackedStore(a *Allocator) *packedStore {
	s := &packedStore{a: a, entries: make([][]byte, a.regions), bits: a.cfg.SizeBits}
	n := a.cfg.sizeMapBytes()
	for r := range s.entries {
		s.entries[r] = dirtmake.Bytes(n, n)
	}
	return s
}

func (s *packedStore) leafIndex(off, region int) int {
	return (off - s.a.regionStart(region)) >> s.a.minBlockLog2
}

// Split state is not tracked under this encoding.
func (s *packedStore) setSplit(region, idx int, split bool) {}
func (s *packedStore) isSplit(region, idx int) bool         { return false }

func (s *packedStore) setLevel(off, region, level int) {
	idx := s.leafIndex(off, region)
	if s.bits == 8 {
		s.entries[region][idx] = byte(level)
		return
	}
	bitset.SetNibble(s.entries[region], idx, uint8(level))
}

func (s *packedStore) levelOf(off, region int) int {
	idx := s.leafIndex(off, region)
	if s.bits == 8 {
		return int(s.entries[region][idx])
	}
	return int(bitset.GetNibble(s.entries[region], idx))
}

func (s *packedStore) reset(full bool) {
	var pattern byte
	if full {
		// every leaf is its own allocated block
		top := byte(s.a.numLevels-1) & 0xF
		if s.bits == 8 {
			pattern = byte(s.a.numLevels - 1)
		} else {
			pattern = top<<4 | top
		}
	}
	for _, e := range s.entries {
		memset(e, pattern)
	}
}

func memset(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
