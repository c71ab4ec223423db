//go:build !linux

package netns

import (
	"fmt"
	"runtime"
)

// Enter always fails on non-Linux platforms: setns(2) is a Linux syscall
// and pfwd's namespace-endpoint pipeline has no equivalent elsewhere.
func Enter(ref string, f func() error) error {
	return fmt.Errorf("network namespace entry is not supported on %s", runtime.GOOS)
}

// CurrentInode always fails on non-Linux platforms.
func CurrentInode() (uint64, error) {
	return 0, fmt.Errorf("network namespace inspection is not supported on %s", runtime.GOOS)
}
