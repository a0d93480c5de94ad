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

//go:build !unix

package mmapx

import "github.com/bytedance/gopkg/lang/dirtmake"

// Alloc returns size bytes from the Go heap on platforms without anonymous
// mappings. The buffer is not zeroed; callers initialize what they use.
func Alloc(size int) ([]byte, error) {
	return dirtmake.Bytes(size, size), nil
}

// Free releases the buffer to the garbage collector.
func Free(b []byte) error {
	return nil
}
