// Package udprelay implements the direct UDP proxy's relay table: one
// upstream socket per client source address, an idle-eviction sweep, and
// backpressure-with-drop semantics for both legs.
package udprelay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	libdur "github.com/nabbar/golib/duration"

	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pfwderr"
)

// writeDeadline bounds how long a write to either leg may block before the
// datagram is dropped under backpressure.
const writeDeadline = 100 * time.Millisecond

// minSweepInterval and maxSweepInterval bound the eviction sweep's tick
// interval, which otherwise tracks idleTimeout/4.
const (
	minSweepInterval = 5 * time.Second
	maxSweepInterval = 60 * time.Second
)

// entry is one client's upstream relay state.
type entry struct {
	upstream     *net.UDPConn
	clientAddr   *net.UDPAddr
	lastActivity atomic.Int64 // unix nanos
	stop         chan struct{}
}

func (e *entry) touch() {
	e.lastActivity.Store(time.Now().UnixNano())
}

func (e *entry) idleSince() time.Duration {
	return time.Since(time.Unix(0, e.lastActivity.Load()))
}

// Table owns the per-client-source-address upstream sockets for one
// DirectUdpProxy pipeline. Mutated only by the downstream loop and the
// eviction sweeper, both serialized behind a single mutex.
type Table struct {
	log         pflog.Logger
	listener    *net.UDPConn
	target      *net.UDPAddr
	idleTimeout libdur.Duration

	mu      sync.Mutex
	entries map[string]*entry

	dropped atomic.Int64
}

// NewTable constructs a relay table bound to listener, forwarding new flows
// to target and evicting entries idle longer than idleTimeout.
func NewTable(listener *net.UDPConn, target *net.UDPAddr, idleTimeout libdur.Duration, log pflog.Logger) *Table {
	return &Table{
		log:         log,
		listener:    listener,
		target:      target,
		idleTimeout: idleTimeout,
		entries:     make(map[string]*entry),
	}
}

// Dropped returns the count of datagrams dropped under backpressure so far.
func (t *Table) Dropped() int64 {
	return t.dropped.Load()
}

// Len reports the number of active flows, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run drives the downstream->upstream loop and the eviction sweeper until
// stop is closed. It returns when the listener is closed or stop fires.
func (t *Table) Run(stop <-chan struct{}) {
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		t.sweepLoop(stop)
	}()

	buf := make([]byte, 65535)
	for {
		select {
		case <-stop:
			t.closeAll()
			<-sweepDone
			return
		default:
		}

		_ = t.listener.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, clientAddr, err := t.listener.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.closeAll()
			<-sweepDone
			return
		}

		t.forwardDownstream(buf[:n], clientAddr)
	}
}

func (t *Table) forwardDownstream(payload []byte, clientAddr *net.UDPAddr) {
	key := clientAddr.String()

	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		upstream, err := net.DialUDP("udp", nil, t.target)
		if err != nil {
			t.mu.Unlock()
			t.log.WithError(err).WithField("client", key).Warn("udp upstream dial failed")
			return
		}
		e = &entry{upstream: upstream, clientAddr: clientAddr, stop: make(chan struct{})}
		e.touch()
		t.entries[key] = e
		go t.relayUpstream(key, e)
	}
	t.mu.Unlock()

	e.touch()
	_ = e.upstream.SetWriteDeadline(time.Now().Add(writeDeadline))
	if _, err := e.upstream.Write(payload); err != nil {
		t.dropped.Add(1)
		t.log.WithField("client", key).WithError(pfwderr.UdpSendDropped.Error(err)).Debug("datagram dropped under backpressure")
	}
}

// relayUpstream reads datagrams arriving on e's upstream socket and writes
// them back to the listener, addressed to the original client.
func (t *Table) relayUpstream(key string, e *entry) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		_ = e.upstream.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := e.upstream.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		e.touch()
		_ = t.listener.SetWriteDeadline(time.Now().Add(writeDeadline))
		if _, err := t.listener.WriteToUDP(buf[:n], e.clientAddr); err != nil {
			t.dropped.Add(1)
			t.log.WithField("client", key).WithError(pfwderr.UdpSendDropped.Error(err)).Debug("datagram dropped under backpressure")
		}
	}
}

func (t *Table) sweepLoop(stop <-chan struct{}) {
	interval := time.Duration(t.idleTimeout.Time()) / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.evictIdle()
		}
	}
}

func (t *Table) evictIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		if e.idleSince() >= t.idleTimeout.Time() {
			close(e.stop)
			_ = e.upstream.Close()
			delete(t.entries, key)
			t.log.WithField("client", key).Debug("udp flow evicted for idleness")
		}
	}
}

func (t *Table) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		close(e.stop)
		_ = e.upstream.Close()
		delete(t.entries, key)
	}
}
