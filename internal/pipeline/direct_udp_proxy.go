package pipeline

import (
	"context"
	"net"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pfwderr"
	"github.com/FakeKuryr/pfwd/internal/udprelay"
)

// directUdpProxy is spec.md §4.8: a UDP listener backed by a relay table
// that allocates one upstream socket per client source address.
type directUdpProxy struct {
	spec     config.ForwardSpec
	log      pflog.Logger
	listener *net.UDPConn
}

func newDirectUdpProxy(spec config.ForwardSpec, log pflog.Logger) *directUdpProxy {
	return &directUdpProxy{spec: spec, log: log}
}

func (p *directUdpProxy) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", p.spec.ListenUdp)
	if err != nil {
		return pfwderr.BindFailed.Error(err)
	}
	target, err := net.ResolveUDPAddr("udp", p.spec.TargetUdp)
	if err != nil {
		return pfwderr.BindFailed.Error(err)
	}

	ln, err := net.ListenUDP("udp", addr)
	if err != nil {
		return pfwderr.BindFailed.Error(err)
	}
	p.listener = ln

	table := udprelay.NewTable(ln, target, p.spec.UdpIdleTimeout, p.log)

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	table.Run(stop)
	return nil
}

func (p *directUdpProxy) Close() error {
	if p.listener != nil {
		return p.listener.Close()
	}
	return nil
}
