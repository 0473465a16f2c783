package arch

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestArch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Arch Suite")
}

var _ = Describe("register tables", func() {
	It("agrees with RegNames for every addressable register", func() {
		for _, name := range RegNames {
			_, ok := RegIndex(name)
			Expect(ok).To(BeTrue(), "missing index for %s", name)
		}
	})

	It("flags exactly rsp/rbp/rip as address registers", func() {
		Expect(IsAddrRegister("rsp")).To(BeTrue())
		Expect(IsAddrRegister("rbp")).To(BeTrue())
		Expect(IsAddrRegister("rip")).To(BeTrue())
		Expect(IsAddrRegister("rax")).To(BeFalse())
	})
})

var _ = Describe("debug register offsets", func() {
	It("spaces DR slots 8 bytes apart starting at the user struct offset", func() {
		Expect(DRSlotOffset(0)).To(Equal(uintptr(848)))
		Expect(DRSlotOffset(3)).To(Equal(uintptr(848 + 3*8)))
	})

	It("places DR6 and DR7 after the four address slots", func() {
		Expect(DR6Offset).To(Equal(DRDebugRegOffset + 6*8))
		Expect(DR7Offset).To(Equal(DRDebugRegOffset + 7*8))
	})

	It("derives per-slot DR7 bit positions", func() {
		Expect(DR7LocalEnableBit(0)).To(Equal(uint32(0)))
		Expect(DR7LocalEnableBit(2)).To(Equal(uint32(4)))
		Expect(DR7RWShift(0)).To(Equal(uint32(16)))
		Expect(DR7RWShift(1)).To(Equal(uint32(20)))
		Expect(DR7LenShift(0)).To(Equal(uint32(18)))
		Expect(DR7LenShift(3)).To(Equal(uint32(30)))
	})
})
