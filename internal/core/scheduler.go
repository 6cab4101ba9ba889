package core

import "runtime"

// ShardCount returns override when positive, otherwise the number of logical CPUs.
//
// The count is taken fresh on every run. Blob directories left by an earlier run with a
// different count are not checked for consistency.
func ShardCount(override int) int {
	if override > 0 {
		return override
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}
