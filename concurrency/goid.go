// File: concurrency/goid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the numeric id of the calling goroutine from the
// runtime stack header ("goroutine N [running]:"). The id backs the
// loop-affinity checks only; it is never used for scheduling.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
