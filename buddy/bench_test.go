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

	"github.com/bytedance/gopkg/lang/fastrand"
)

func benchConfig(sizeBits, lazyThreshold int) Config {
	return Config{
		MinBlockLog2:  6,
		MaxBlockLog2:  18, // 256KB region
		Regions:       4,
		SizeBits:      sizeBits,
		LazyThreshold: lazyThreshold,
	}
}

func BenchmarkAllocFree(b *testing.B) {
	for _, bits := range []int{0, 8} {
		name := map[int]string{0: "splitmap", 8: "sizemap"}[bits]
		b.Run(name, func(b *testing.B) {
			cfg := benchConfig(bits, 0)
			a := MustNew(make([]byte, cfg.totalSize()), cfg)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				p := a.Alloc(4096)
				if p != nil {
					a.FreeSized(p, 4096)
				}
			}
		})
	}
}

func BenchmarkLeafChurnLazy(b *testing.B) {
	for _, threshold := range []int{0, 64} {
		name := map[int]string{0: "direct", 64: "lazy"}[threshold]
		b.Run(name, func(b *testing.B) {
			cfg := benchConfig(0, threshold)
			a := MustNew(make([]byte, cfg.totalSize()), cfg)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				p := a.Alloc(64)
				if p != nil {
					a.Free(p)
				}
			}
		})
	}
}

func BenchmarkAllocSizesRandom(b *testing.B) {
	cfg := benchConfig(0, 64)
	a := MustNew(make([]byte, cfg.totalSize()), cfg)
	sizes := []int{64, 256, 1024, 4096, 16384}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sz := sizes[fastrand.Intn(len(sizes))]
		p := a.Alloc(sz)
		if p != nil {
			a.FreeSized(p, sz)
		}
	}
}
