package udprelay_test

import (
	"net"
	"time"

	libdur "github.com/nabbar/golib/duration"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/udprelay"
)

func udpListener() *net.UDPConn {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	Expect(err).ToNot(HaveOccurred())
	return conn
}

var _ = Describe("UDP relay table", func() {
	It("forwards a datagram round-trip between client and upstream echo", func() {
		upstream := udpListener()
		defer upstream.Close()

		echoStop := make(chan struct{})
		go func() {
			buf := make([]byte, 1500)
			for {
				select {
				case <-echoStop:
					return
				default:
				}
				_ = upstream.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
				n, addr, err := upstream.ReadFromUDP(buf)
				if err != nil {
					continue
				}
				_, _ = upstream.WriteToUDP(buf[:n], addr)
			}
		}()
		defer close(echoStop)

		listener := udpListener()
		defer listener.Close()

		table := udprelay.NewTable(listener, upstream.LocalAddr().(*net.UDPAddr), libdur.Seconds(5), pflog.New("error", "text"))
		stop := make(chan struct{})
		go table.Run(stop)
		defer close(stop)

		client, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		_, err = client.Write([]byte("ping"))
		Expect(err).ToNot(HaveOccurred())

		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 16)
		n, err := client.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("ping"))

		Expect(table.Len()).To(Equal(1))
	})

	It("evicts an idle flow after its idle timeout elapses", func() {
		upstream := udpListener()
		defer upstream.Close()

		listener := udpListener()
		defer listener.Close()

		table := udprelay.NewTable(listener, upstream.LocalAddr().(*net.UDPAddr), libdur.Seconds(1), pflog.New("error", "text"))
		stop := make(chan struct{})
		go table.Run(stop)
		defer close(stop)

		client, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		_, err = client.Write([]byte("hi"))
		Expect(err).ToNot(HaveOccurred())

		Eventually(table.Len, "2s", "50ms").Should(Equal(1))
		Eventually(table.Len, "10s", "200ms").Should(Equal(0))
	})
})
