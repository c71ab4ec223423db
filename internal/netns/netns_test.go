//go:build linux

package netns_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/FakeKuryr/pfwd/internal/netns"
)

var _ = Describe("namespace entry primitive", func() {
	It("resolves a bare name against /var/run/netns", func() {
		Expect(netns.Resolve("testns")).To(Equal("/var/run/netns/testns"))
	})

	It("treats an absolute path as already resolved", func() {
		Expect(netns.Resolve("/tmp/custom-ns-file")).To(Equal("/tmp/custom-ns-file"))
	})

	It("reports a fatal error for a missing namespace file", func() {
		err := netns.Enter("/nonexistent/namespace/file", func() error { return nil })
		Expect(err).To(HaveOccurred())
	})

	It("keeps the root namespace inode unchanged for the calling goroutine", func() {
		if os.Getuid() != 0 {
			Skip("setns requires root privileges in this environment")
		}
		before, err := netns.CurrentInode()
		Expect(err).ToNot(HaveOccurred())

		// Entering a (nonexistent) namespace on a dedicated thread must
		// not be observable from this goroutine's own thread.
		_ = netns.Enter("/nonexistent/namespace/file", func() error { return nil })

		after, err := netns.CurrentInode()
		Expect(err).ToNot(HaveOccurred())
		Expect(after).To(Equal(before))
	})
})
