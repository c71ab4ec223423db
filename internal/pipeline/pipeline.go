// Package pipeline implements the four pipeline variants: namespace
// endpoint, host-uds proxy, direct tcp proxy, and direct udp proxy. Each
// translates one validated config.ForwardSpec into a running accept loop.
package pipeline

import (
	"context"
	"net"

	libsck "github.com/nabbar/golib/socket"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/session"
	"github.com/FakeKuryr/pfwd/internal/splice"
)

// Pipeline is the uniform shape the supervisor drives: Run blocks until ctx
// is cancelled or a fatal error occurs, and Close releases any resource the
// pipeline bound (a uds guard, a listener) that Run's own exit did not.
type Pipeline interface {
	Run(ctx context.Context) error
	Close() error
}

// New builds the pipeline for spec, dispatching on its validated Kind.
func New(spec config.ForwardSpec, log pflog.Logger) (Pipeline, error) {
	l := log.WithField("label", spec.Label).WithField("kind", spec.Kind.String())

	switch spec.Kind {
	case config.KindNamespaceEndpoint:
		return newNamespaceEndpoint(spec, l), nil
	case config.KindHostUdsProxy:
		return newHostUdsProxy(spec, l), nil
	case config.KindDirectTcpProxy:
		return newDirectTcpProxy(spec, l), nil
	case config.KindDirectUdpProxy:
		return newDirectUdpProxy(spec, l), nil
	default:
		return nil, errUnknownKind(spec.Kind)
	}
}

func errUnknownKind(k config.Kind) error {
	return &unknownKindError{k: k}
}

type unknownKindError struct{ k config.Kind }

func (e *unknownKindError) Error() string {
	return "pipeline: unknown spec kind " + e.k.String()
}

// spliceSession runs the splice between two half-closable stream
// connections, closes both ends, and logs the result under sid.
func spliceSession(log pflog.Logger, sid session.ID, a, b interface {
	net.Conn
	CloseWrite() error
}) {
	defer a.Close()
	defer b.Close()

	res, err := splice.Copy(a, b)
	entry := log.WithField("session", sid.String()).
		WithField("bytes_a_to_b", res.AToB).
		WithField("bytes_b_to_a", res.BToA)
	if err != nil {
		entry.WithError(err).Debug("session ended with copy error")
		return
	}
	entry.Debug("session ended")
}

// filteredLog swallows the closed-connection noise libsck.ErrorFilter
// recognizes, so accept-loop shutdown doesn't spam the log at warn level.
func filteredLog(log pflog.Logger, err error, msg string) {
	if libsck.ErrorFilter(err) == nil {
		return
	}
	log.WithError(err).Warn(msg)
}
