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
	"fmt"
	"os"
)

// debugf writes a trace line to stderr. Call sites are guarded by
// debugEnabled so they compile away entirely without the buddydebug tag.
// The trace format is not a stable interface.
func debugf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "buddy: "+format+"\n", args...)
}
