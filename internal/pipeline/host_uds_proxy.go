package pipeline

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pfwderr"
	"github.com/FakeKuryr/pfwd/internal/session"
)

// Backoff parameters for dialing the uds target, per spec.md §4.5: the
// namespace endpoint may start slightly after the host proxy.
const (
	udsDialInitialInterval = 50 * time.Millisecond
	udsDialMultiplier      = 2
	udsDialMaxInterval     = 2 * time.Second
	udsDialMaxElapsedTime  = 30 * time.Second
	udsDialAttemptTimeout  = 2 * time.Second
)

// hostUdsProxy is spec.md §4.5: a root-namespace TCP listener whose
// sessions dial a uds target, retrying transient not-found errors.
type hostUdsProxy struct {
	spec config.ForwardSpec
	log  pflog.Logger
	ln   net.Listener
}

func newHostUdsProxy(spec config.ForwardSpec, log pflog.Logger) *hostUdsProxy {
	return &hostUdsProxy{spec: spec, log: log}
}

func (p *hostUdsProxy) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.spec.ListenTcp)
	if err != nil {
		return pfwderr.BindFailed.Error(err)
	}
	p.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				filteredLog(p.log, err, "accept failed")
				return pfwderr.BindFailed.Error(err)
			}
		}

		tc, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			continue
		}

		go p.handle(ctx, tc)
	}
}

func (p *hostUdsProxy) handle(ctx context.Context, tc *net.TCPConn) {
	sid := session.New()
	l := p.log.WithField("session", sid.String())

	uc, err := dialUdsWithBackoff(ctx, p.spec.UdsPath)
	if err != nil {
		l.WithError(err).Warn("uds dial failed")
		_ = tc.Close()
		return
	}

	spliceSession(p.log, sid, tc, uc)
}

// dialUdsWithBackoff retries a not-found dial against path with capped
// exponential backoff; any other dial error is non-retryable. The retry
// loop itself is cenkalti/backoff/v4's ExponentialBackOff driven through
// backoff.Retry, rather than a hand-rolled timer loop: it already owns the
// cap/multiplier/elapsed-time bookkeeping and backoff.WithContext folds in
// ctx cancellation for free.
func dialUdsWithBackoff(ctx context.Context, path string) (*net.UnixConn, error) {
	var uc *net.UnixConn

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = udsDialInitialInterval
	b.Multiplier = udsDialMultiplier
	b.MaxInterval = udsDialMaxInterval
	b.MaxElapsedTime = udsDialMaxElapsedTime

	operation := func() error {
		conn, err := net.DialTimeout("unix", path, udsDialAttemptTimeout)
		if err == nil {
			c, ok := conn.(*net.UnixConn)
			if !ok {
				_ = conn.Close()
				return backoff.Permanent(pfwderr.UpstreamDialFailed.Error(errors.New("uds dial returned non-unix connection")))
			}
			uc = c
			return nil
		}

		if !isNotFound(err) {
			return backoff.Permanent(pfwderr.UpstreamDialFailed.Error(err))
		}

		return pfwderr.UdsDialRetryable.Error(err)
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return uc, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)
}

func (p *hostUdsProxy) Close() error {
	if p.ln != nil {
		return p.ln.Close()
	}
	return nil
}
