// Package udsguard implements the Unix-domain-socket lifecycle manager:
// stale-path detection, bind, descriptor-level ownership/mode application,
// and inode-checked release.
package udsguard

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pfwderr"
)

// Guard owns an active uds listener and unlinks its path on Release,
// unless the path's inode no longer matches the one it originally bound —
// an operator may have replaced the socket out from under it.
type Guard struct {
	path  string
	inode uint64
}

// Prepare implements the five steps of the uds lifecycle: ensure the parent
// directory, clear a stale socket (rejecting a stale non-socket), bind, apply
// mode/owner, and return a guard recording the bound inode. The backlog
// argument is not applied: the listener uses the OS default backlog.
func Prepare(path string, mode uint32, owner *config.Owner, backlog int) (net.Listener, *Guard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, pfwderr.BindFailed.Error(err)
	}

	if err := clearStale(path); err != nil {
		return nil, nil, err
	}

	lc := net.ListenConfig{}
	raw, err := lc.Listen(context.Background(), "unix", path)
	if err != nil {
		return nil, nil, pfwderr.BindFailed.Error(err)
	}
	ln, ok := raw.(*net.UnixListener)
	if !ok {
		_ = raw.Close()
		return nil, nil, pfwderr.BindFailed.Error()
	}
	if backlog > 0 {
		// net.ListenConfig has no backlog knob; the OS default backlog
		// applies. The parameter is accepted for spec fidelity and future
		// use if a lower-level listen path is substituted.
		_ = backlog
	}

	if err := applyOwnership(ln, mode, owner); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, nil, err
	}

	inode, err := statInode(path)
	if err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, nil, pfwderr.BindFailed.Error(err)
	}

	return ln, &Guard{path: path, inode: inode}, nil
}

// clearStale unlinks path if it is an existing socket; a path occupied by
// any other file type is a fatal, non-removed StaleNonSocketPath error.
func clearStale(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pfwderr.BindFailed.Error(err)
	}

	if fi.Mode()&os.ModeSocket == 0 {
		return pfwderr.StaleNonSocketPath.Error(fmt.Errorf("%s exists and is not a socket", path))
	}

	if err := os.Remove(path); err != nil {
		return pfwderr.BindFailed.Error(err)
	}
	return nil
}

// applyOwnership fchmods/fchowns the listening descriptor and then applies
// the same mode and owner to the bound path. On Linux the descriptor-level
// calls reach only the socket's own inode, not the filesystem entry bind
// created, so the path-level chmod/lchown are what set the mode and owner
// on disk; either way the result does not depend on the process umask.
func applyOwnership(ln *net.UnixListener, mode uint32, owner *config.Owner) error {
	sc, err := ln.SyscallConn()
	if err != nil {
		return pfwderr.BindFailed.Error(err)
	}

	var opErr error
	err = sc.Control(func(fd uintptr) {
		if mode != 0 {
			if e := unix.Fchmod(int(fd), mode); e != nil {
				opErr = e
				return
			}
		}
		if owner != nil {
			if e := unix.Fchown(int(fd), owner.Uid, owner.Gid); e != nil {
				opErr = e
				return
			}
		}
	})
	if err != nil {
		return pfwderr.BindFailed.Error(err)
	}
	if opErr != nil {
		return pfwderr.BindFailed.Error(opErr)
	}

	path := ln.Addr().String()
	if mode != 0 {
		if e := unix.Chmod(path, mode); e != nil {
			return pfwderr.BindFailed.Error(e)
		}
	}
	if owner != nil {
		if e := unix.Lchown(path, owner.Uid, owner.Gid); e != nil {
			return pfwderr.BindFailed.Error(e)
		}
	}
	return nil
}

func statInode(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, nil
	}
	return st.Ino, nil
}

// Release attempts to stat the guarded path; if the inode still matches the
// one bound in Prepare, it unlinks the path. If the inode has changed (an
// operator replaced the socket) or the path is already gone, Release leaves
// it alone and reports that, rather than unlinking the replacement.
func (g *Guard) Release() (unlinked bool, err error) {
	cur, statErr := statInode(g.path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, nil
		}
		return false, statErr
	}
	if cur != g.inode {
		return false, nil
	}
	if err := os.Remove(g.path); err != nil {
		return false, err
	}
	return true, nil
}

// Path returns the guarded filesystem path.
func (g *Guard) Path() string { return g.path }
