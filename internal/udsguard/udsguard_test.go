package udsguard_test

import (
	"net"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/FakeKuryr/pfwd/internal/udsguard"
)

var _ = Describe("UDS lifecycle", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "pfwd-udsguard-")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("binds, applies mode, and releases by unlinking the path", func() {
		path := filepath.Join(dir, "sub", "rendezvous.sock")

		ln, guard, err := udsguard.Prepare(path, 0o600, nil, 128)
		Expect(err).ToNot(HaveOccurred())
		Expect(ln).ToNot(BeNil())
		defer ln.Close()

		fi, err := os.Lstat(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(fi.Mode() & os.ModePerm).To(Equal(os.FileMode(0o600)))

		unlinked, err := guard.Release()
		Expect(err).ToNot(HaveOccurred())
		Expect(unlinked).To(BeTrue())

		_, err = os.Lstat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("rejects a path occupied by a non-socket file without removing it", func() {
		path := filepath.Join(dir, "regular.sock")
		Expect(os.WriteFile(path, []byte("not a socket"), 0o644)).To(Succeed())

		_, _, err := udsguard.Prepare(path, 0o600, nil, 128)
		Expect(err).To(HaveOccurred())

		data, readErr := os.ReadFile(path)
		Expect(readErr).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("not a socket"))
	})

	It("does not unlink a path whose inode was replaced after bind", func() {
		path := filepath.Join(dir, "replaced.sock")

		ln, guard, err := udsguard.Prepare(path, 0o600, nil, 128)
		Expect(err).ToNot(HaveOccurred())
		defer ln.Close()

		Expect(os.Remove(path)).To(Succeed())
		Expect(os.WriteFile(path, []byte("someone else's file"), 0o644)).To(Succeed())

		unlinked, err := guard.Release()
		Expect(err).ToNot(HaveOccurred())
		Expect(unlinked).To(BeFalse())

		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("someone else's file"))
	})

	It("clears a stale socket left by a previous run", func() {
		path := filepath.Join(dir, "stale.sock")

		ln1, guard1, err := udsguard.Prepare(path, 0o600, nil, 128)
		Expect(err).ToNot(HaveOccurred())
		// Close would otherwise unlink the path itself; keep the socket
		// file on disk so the second Prepare has a stale socket to clear.
		ln1.(*net.UnixListener).SetUnlinkOnClose(false)
		_ = ln1.Close() // simulate a crash: fd closed, guard never released

		ln2, _, err := udsguard.Prepare(path, 0o600, nil, 128)
		Expect(err).ToNot(HaveOccurred())
		defer ln2.Close()

		_ = guard1
	})
})
