package pipeline

import (
	"context"
	"net"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pfwderr"
	"github.com/FakeKuryr/pfwd/internal/session"
)

// directTcpProxy is spec.md §4.7: identical to the host-uds proxy's accept
// loop, but each session makes a single, non-retried dial against
// target_tcp.
type directTcpProxy struct {
	spec config.ForwardSpec
	log  pflog.Logger
	ln   net.Listener
}

func newDirectTcpProxy(spec config.ForwardSpec, log pflog.Logger) *directTcpProxy {
	return &directTcpProxy{spec: spec, log: log}
}

func (p *directTcpProxy) Run(ctx context.Context) error {
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

		go p.handle(tc)
	}
}

func (p *directTcpProxy) handle(tc *net.TCPConn) {
	sid := session.New()
	l := p.log.WithField("session", sid.String())

	upstream, err := net.Dial("tcp", p.spec.TargetTcp)
	if err != nil {
		l.WithError(err).Warn("target dial failed")
		_ = tc.Close()
		return
	}

	uc, ok := upstream.(*net.TCPConn)
	if !ok {
		_ = upstream.Close()
		_ = tc.Close()
		return
	}

	spliceSession(p.log, sid, tc, uc)
}

func (p *directTcpProxy) Close() error {
	if p.ln != nil {
		return p.ln.Close()
	}
	return nil
}
