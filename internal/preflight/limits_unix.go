//go:build !windows

package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// minFileDescriptors covers the renderer pipes, the fsnotify watch, the
// HTTP server and frame files with plenty of headroom.
const minFileDescriptors = 256

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	cur := uint64(limit.Cur) // int64 on some BSDs
	actual := int(min(cur, 1<<31-1))
	return Check{
		Name:     "file_descriptors",
		Required: minFileDescriptors,
		Actual:   actual,
		Passed:   true, // Don't fail on this
		Warning:  actual < minFileDescriptors,
	}
}
