//go:build linux

package netns

import (
	"fmt"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/FakeKuryr/pfwd/internal/pfwderr"
)

// Enter opens the namespace file at ref, spawns a dedicated goroutine locked
// to its OS thread (the thread exits with it, never returning to the
// scheduler's pool), enters the namespace on that
// thread via setns(CLONE_NEWNET), and runs f synchronously on it. Enter
// blocks until f returns. The error returned distinguishes a namespace-file
// open failure from a setns failure; both map to NamespaceEnterFailed.
func Enter(ref string, f func() error) error {
	path := Resolve(ref)

	result := make(chan error, 1)
	go func() {
		// LockOSThread is never paired with UnlockOSThread: once this
		// goroutine's thread has entered a non-root namespace, the Go
		// runtime must never hand that thread back to another goroutine
		// expecting the root namespace. The goroutine (and its thread)
		// exit together when f returns.
		runtime.LockOSThread()

		nsFile, err := os.Open(path)
		if err != nil {
			result <- pfwderr.NamespaceEnterFailed.Error(fmt.Errorf("open namespace file %s: %w", path, err))
			return
		}
		defer nsFile.Close()

		if err := unix.Setns(int(nsFile.Fd()), unix.CLONE_NEWNET); err != nil {
			result <- pfwderr.NamespaceEnterFailed.Error(fmt.Errorf("setns %s: %w", path, err))
			return
		}

		result <- f()
	}()

	return <-result
}

// CurrentInode returns the inode of the calling thread's current network
// namespace, for operator-facing startup logging.
func CurrentInode() (uint64, error) {
	fi, err := os.Stat("/proc/thread-self/ns/net")
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("unexpected stat type for /proc/thread-self/ns/net")
	}
	return st.Ino, nil
}
