package pipeline_test

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pipeline"
)

func freeTcpAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	defer ln.Close()
	return ln.Addr().String()
}

func echoTcpServer(addr string, stop <-chan struct{}) {
	ln, err := net.Listen("tcp", addr)
	Expect(err).ToNot(HaveOccurred())
	go func() {
		<-stop
		_ = ln.Close()
	}()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if len(line) > 0 {
						_, _ = c.Write([]byte(line))
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()
}

var _ = Describe("direct TCP proxy", func() {
	It("forwards a line-oriented echo round-trip", func() {
		targetAddr := freeTcpAddr()
		stopEcho := make(chan struct{})
		echoTcpServer(targetAddr, stopEcho)
		defer close(stopEcho)

		listenAddr := freeTcpAddr()
		spec := config.ForwardSpec{
			Label:     "s1",
			Kind:      config.KindDirectTcpProxy,
			ListenTcp: listenAddr,
			TargetTcp: targetAddr,
		}

		p, err := pipeline.New(spec, pflog.New("error", "text"))
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan error, 1)
		go func() { runDone <- p.Run(ctx) }()

		Eventually(func() error {
			c, err := net.Dial("tcp", listenAddr)
			if err == nil {
				c.Close()
			}
			return err
		}, "2s", "20ms").Should(Succeed())

		conn, err := net.Dial("tcp", listenAddr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("hello\n"))
		Expect(err).ToNot(HaveOccurred())

		reply, err := bufio.NewReader(conn).ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(reply).To(Equal("hello\n"))

		cancel()
		Eventually(runDone, "2s").Should(Receive(BeNil()))
	})
})

var _ = Describe("host uds proxy", func() {
	It("retries the uds dial until the namespace endpoint's socket appears", func() {
		dir, err := os.MkdirTemp("", "pfwd-pipeline-")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)

		udsPath := filepath.Join(dir, "bridge.sock")
		listenAddr := freeTcpAddr()

		spec := config.ForwardSpec{
			Label:     "s3",
			Kind:      config.KindHostUdsProxy,
			ListenTcp: listenAddr,
			UdsPath:   udsPath,
		}

		p, err := pipeline.New(spec, pflog.New("error", "text"))
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = p.Run(ctx) }()

		Eventually(func() error {
			c, err := net.Dial("tcp", listenAddr)
			if err == nil {
				c.Close()
			}
			return err
		}, "2s", "20ms").Should(Succeed())

		// Start the client connection before the uds side exists; the
		// host proxy must hold the connection open while it retries.
		connDone := make(chan net.Conn, 1)
		go func() {
			c, _ := net.Dial("tcp", listenAddr)
			connDone <- c
		}()

		time.Sleep(300 * time.Millisecond)

		ln, err := net.Listen("unix", udsPath)
		Expect(err).ToNot(HaveOccurred())
		defer ln.Close()

		go func() {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
			buf := make([]byte, 64)
			n, _ := c.Read(buf)
			_, _ = c.Write(buf[:n])
		}()

		client := <-connDone
		Expect(client).ToNot(BeNil())
		defer client.Close()

		_, err = client.Write([]byte("ping"))
		Expect(err).ToNot(HaveOccurred())

		buf := make([]byte, 64)
		_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
		n, err := client.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("ping"))
	})
})

var _ = Describe("namespace endpoint", func() {
	It("serves sessions one at a time on the thread locked into the namespace", func() {
		if os.Getuid() != 0 {
			Skip("setns requires root privileges in this environment")
		}

		var acceptedAtTarget int32

		targetAddr := freeTcpAddr()
		targetLn, err := net.Listen("tcp", targetAddr)
		Expect(err).ToNot(HaveOccurred())
		defer targetLn.Close()
		go func() {
			for {
				c, err := targetLn.Accept()
				if err != nil {
					return
				}
				atomic.AddInt32(&acceptedAtTarget, 1)
				go func(c net.Conn) {
					defer c.Close()
					buf := make([]byte, 64)
					for {
						n, err := c.Read(buf)
						if n > 0 {
							_, _ = c.Write(buf[:n])
						}
						if err != nil {
							return
						}
					}
				}(c)
			}
		}()

		dir, err := os.MkdirTemp("", "pfwd-pipeline-ns-")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)
		udsPath := filepath.Join(dir, "endpoint.sock")

		spec := config.ForwardSpec{
			Label: "ns1",
			Kind:  config.KindNamespaceEndpoint,
			// The current process's own network namespace doubles as the
			// target here: Enter still has to pass through the real
			// setns(2) path and its dedicated locked thread, which is
			// what this test is protecting, not namespace isolation
			// itself.
			NamespaceRef: "/proc/self/ns/net",
			UdsPath:      udsPath,
			TargetTcp:    targetAddr,
			UdsMode:      0o600,
			Backlog:      8,
		}

		p, err := pipeline.New(spec, pflog.New("error", "text"))
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		runDone := make(chan error, 1)
		go func() { runDone <- p.Run(ctx) }()

		Eventually(func() error {
			c, err := net.Dial("unix", udsPath)
			if err == nil {
				c.Close()
			}
			return err
		}, "2s", "20ms").Should(Succeed())

		conn1, err := net.Dial("unix", udsPath)
		Expect(err).ToNot(HaveOccurred())

		Eventually(func() int32 { return atomic.LoadInt32(&acceptedAtTarget) }, "1s", "10ms").Should(Equal(int32(1)))

		// The uds backlog accepts conn2 at the kernel level immediately
		// regardless of whether the pipeline's accept loop is free, so a
		// successful Dial here proves nothing about serialization by
		// itself; what matters is whether the target sees a second
		// connection while conn1's session is still being served.
		conn2, err := net.Dial("unix", udsPath)
		Expect(err).ToNot(HaveOccurred())
		defer conn2.Close()

		Consistently(func() int32 { return atomic.LoadInt32(&acceptedAtTarget) }, "200ms", "20ms").Should(Equal(int32(1)))

		Expect(conn1.Close()).To(Succeed())

		Eventually(func() int32 { return atomic.LoadInt32(&acceptedAtTarget) }, "2s", "20ms").Should(Equal(int32(2)))

		cancel()
		Eventually(runDone, "2s").Should(Receive())
	})
})
