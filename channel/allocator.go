// File: channel/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/pool"
)

// defaultAllocator backs channels constructed without an explicit
// BUFFER_ALLOCATOR.
var defaultAllocator api.BufferAllocator = pool.Default()
