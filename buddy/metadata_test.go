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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedSizes(t *testing.T) {
	cfg := testConfig(0) // 5 levels
	assert.Equal(t, 5, cfg.numLevels())
	// 31 tree nodes pair into 16 bits
	assert.Equal(t, 2, cfg.freeMapBytes())
	// 15 internal nodes
	assert.Equal(t, 2, cfg.splitMapBytes())

	cfg.SizeBits = 4
	assert.Equal(t, 8, cfg.sizeMapBytes()) // 16 leaves, half a byte each
	cfg.SizeBits = 8
	assert.Equal(t, 16, cfg.sizeMapBytes())
}

func TestSplitStoreLevels(t *testing.T) {
	a := MustNew(make([]byte, 256), testConfig(0))
	s := a.levels.(*splitStore)

	// empty region: everything resolves to the whole-region block
	assert.Equal(t, 0, s.levelOf(0, 0))

	// marking a leaf allocation splits the whole ancestor chain
	s.setLevel(0, 0, 4)
	assert.Equal(t, 4, s.levelOf(0, 0))
	for l := 0; l < 4; l++ {
		assert.True(t, s.isSplit(0, a.blockIndex(0, 0, l)), "level=%d", l)
	}

	// a sibling elsewhere picks up only the shared ancestors
	s.setLevel(64, 0, 2)
	assert.Equal(t, 2, s.levelOf(64, 0))
	assert.Equal(t, 4, s.levelOf(0, 0))

	// clearing the deepest ancestor moves the answer up
	s.setSplit(0, a.blockIndex(0, 0, 3), false)
	assert.Equal(t, 3, s.levelOf(0, 0))

	s.reset(false)
	assert.Equal(t, 0, s.levelOf(0, 0))
	assert.False(t, s.isSplit(0, 0))

	s.reset(true)
	assert.Equal(t, 4, s.levelOf(0, 0))
	assert.Equal(t, 4, s.levelOf(240, 0))
}

func TestPackedStoreLevels(t *testing.T) {
	for _, bits := range []int{4, 8} {
		t.Run(map[int]string{4: "nibble", 8: "byte"}[bits], func(t *testing.T) {
			a := MustNew(make([]byte, 256), testConfig(bits))
			s := a.levels.(*packedStore)

			s.setLevel(0, 0, 4)
			s.setLevel(16, 0, 4)
			s.setLevel(64, 0, 2)
			assert.Equal(t, 4, s.levelOf(0, 0))
			assert.Equal(t, 4, s.levelOf(16, 0))
			assert.Equal(t, 2, s.levelOf(64, 0))

			s.setLevel(0, 0, 1)
			assert.Equal(t, 1, s.levelOf(0, 0))

			// split state is not tracked under this encoding
			s.setSplit(0, 3, true)
			assert.False(t, s.isSplit(0, 3))

			s.reset(true)
			for off := 0; off < 256; off += 16 {
				require.Equal(t, 4, s.levelOf(off, 0), "off=%d", off)
			}
			s.reset(false)
			for off := 0; off < 256; off += 16 {
				require.Equal(t, 0, s.levelOf(off, 0), "off=%d", off)
			}
		})
	}
}

func TestPairBitFlips(t *testing.T) {
	a := MustNew(make([]byte, 256), testConfig(0))

	idx := mapIndex(a.blockIndex(0, 0, 4))
	assert.False(t, a.pairAllocated(0, idx))
	a.flipAllocated(0, idx)
	assert.True(t, a.pairAllocated(0, idx))

	// taking the sibling too flips the same bit back: both sides gone
	buddyIdx := mapIndex(a.blockIndex(16, 0, 4))
	require.Equal(t, idx, buddyIdx)
	a.flipAllocated(0, buddyIdx)
	assert.False(t, a.pairAllocated(0, idx))

	a.setAllocated(0, idx, true)
	assert.True(t, a.pairAllocated(0, idx))
	a.setAllocated(0, idx, false)
	assert.False(t, a.pairAllocated(0, idx))
}
