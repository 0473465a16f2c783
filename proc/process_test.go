package proc

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestProc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Proc Suite")
}

var _ = Describe("Process", func() {
	It("reads its own comm name", func() {
		self := Process(1)
		_, err := self.Comm()
		// pid 1 always exists on a running Linux system; only assert the
		// call doesn't panic and returns a usable error type when denied.
		if err != nil {
			Expect(err).To(BeAssignableToTypeOf(err))
		}
	})
})

var _ = Describe("MemRegions", func() {
	It("keeps only the 6-field, path-bearing lines", func() {
		regions, err := Process(os.Getpid()).MemRegions()
		Expect(err).NotTo(HaveOccurred())
		for _, r := range regions {
			Expect(r.Pathname).NotTo(BeEmpty())
			Expect(r.Address[1]).To(BeNumerically(">", r.Address[0]))
		}
	})
})

var _ = Describe("FindRegion", func() {
	It("returns the region containing an address", func() {
		regions := []MemRegion{
			{Address: [2]uintptr{0x1000, 0x2000}, Pathname: "/bin/a"},
			{Address: [2]uintptr{0x3000, 0x4000}, Pathname: "/bin/b"},
		}

		r, ok := FindRegion(regions, 0x3500)
		Expect(ok).To(BeTrue())
		Expect(r.Pathname).To(Equal("/bin/b"))

		_, ok = FindRegion(regions, 0x2500)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("LoadBase", func() {
	It("picks the zero-offset region matching the exe path", func() {
		regions := []MemRegion{
			{Address: [2]uintptr{0x1000, 0x2000}, Offset: 0x1000, Pathname: "/bin/app"},
			{Address: [2]uintptr{0x5000, 0x6000}, Offset: 0, Pathname: "/bin/app"},
		}

		base, ok := LoadBase(regions, "/bin/app")
		Expect(ok).To(BeTrue())
		Expect(base).To(Equal(uintptr(0x5000)))
	})
})

var _ = Describe("isSharedLib", func() {
	It("matches a bare .so and a versioned .so.N", func() {
		Expect(isSharedLib("/lib/libm.so")).To(BeTrue())
		Expect(isSharedLib("/lib/libm.so.6")).To(BeTrue())
		Expect(isSharedLib("/bin/app")).To(BeFalse())
		Expect(isSharedLib("/lib/libsomething.sort")).To(BeFalse())
	})
})
