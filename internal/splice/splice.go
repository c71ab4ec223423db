// Package splice implements the full-duplex byte-stream copy shared by
// every TCP/UDS-backed pipeline, with half-close propagation so each peer
// observes a clean EOF instead of a reset.
package splice

import (
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/FakeKuryr/pfwd/internal/pfwderr"
)

// bufSize is the copy buffer size; spec.md leaves this an implementation
// choice within 8-64 KiB.
const bufSize = 32 * 1024

// halfCloser is satisfied by *net.TCPConn and *net.UnixConn: both support
// shutting down the write half independently of the read half.
type halfCloser interface {
	net.Conn
	CloseWrite() error
}

// Result reports the bytes copied in each direction, for session logging.
type Result struct {
	AToB int64
	BToA int64
}

// Copy runs both directions of a<->b concurrently. When one direction sees
// EOF, it half-closes the write side of the peer so the peer's reader
// observes a clean EOF rather than blocking forever. When both directions
// have terminated, Copy returns; the caller owns closing a and b fully.
// A per-direction I/O error aborts only that direction; the peer is still
// half-closed for writing, which bounds the session's lifetime.
func Copy(a, b halfCloser) (Result, error) {
	var res Result
	var g errgroup.Group

	g.Go(func() error {
		n, err := io.CopyBuffer(b, a, make([]byte, bufSize))
		res.AToB = n
		_ = b.CloseWrite()
		if err != nil {
			return pfwderr.CopyError.Error(err)
		}
		return nil
	})

	g.Go(func() error {
		n, err := io.CopyBuffer(a, b, make([]byte, bufSize))
		res.BToA = n
		_ = a.CloseWrite()
		if err != nil {
			return pfwderr.CopyError.Error(err)
		}
		return nil
	})

	err := g.Wait()
	return res, err
}
