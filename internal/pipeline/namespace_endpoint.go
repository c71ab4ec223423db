package pipeline

import (
	"context"
	"net"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/netns"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pfwderr"
	"github.com/FakeKuryr/pfwd/internal/session"
	"github.com/FakeKuryr/pfwd/internal/udsguard"
)

// namespaceEndpoint is spec.md §4.4: lives entirely on a dedicated
// namespace-entered thread, accepting UDS connections and dialing
// target_tcp from inside the namespace.
type namespaceEndpoint struct {
	spec config.ForwardSpec
	log  pflog.Logger
}

func newNamespaceEndpoint(spec config.ForwardSpec, log pflog.Logger) *namespaceEndpoint {
	return &namespaceEndpoint{spec: spec, log: log}
}

func (p *namespaceEndpoint) Run(ctx context.Context) error {
	return netns.Enter(p.spec.NamespaceRef, func() error {
		if inode, err := netns.CurrentInode(); err == nil {
			p.log.WithField("ns_inode", inode).Info("entered namespace")
		}
		return p.runInsideNamespace(ctx)
	})
}

func (p *namespaceEndpoint) runInsideNamespace(ctx context.Context) error {
	ln, guard, err := udsguard.Prepare(p.spec.UdsPath, p.spec.UdsMode, p.spec.UdsOwner, p.spec.Backlog)
	if err != nil {
		return err
	}
	defer func() {
		if _, relErr := guard.Release(); relErr != nil {
			p.log.WithError(relErr).Warn("uds guard release failed")
		}
	}()

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

		uc, ok := conn.(*net.UnixConn)
		if !ok {
			_ = conn.Close()
			continue
		}

		// handle runs synchronously, not on a fresh goroutine: this
		// accept loop is the one running on the thread netns.Enter
		// locked into the target namespace via setns(2). A plain "go
		// p.handle(uc)" would let the Go scheduler run the dial and
		// splice on any pooled thread, almost certainly back in the
		// root namespace, which breaks target_tcp reachability
		// entirely. One namespace endpoint therefore serves its
		// sessions one at a time.
		p.handle(uc)
	}
}

func (p *namespaceEndpoint) handle(uc *net.UnixConn) {
	sid := session.New()
	l := p.log.WithField("session", sid.String())

	upstream, err := net.Dial("tcp", p.spec.TargetTcp)
	if err != nil {
		l.WithError(err).Warn("target dial failed")
		_ = uc.Close()
		return
	}

	tc, ok := upstream.(*net.TCPConn)
	if !ok {
		_ = upstream.Close()
		_ = uc.Close()
		return
	}

	spliceSession(p.log, sid, uc, tc)
}

func (p *namespaceEndpoint) Close() error { return nil }
