package breakpoint

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWatchpointLogic(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Watchpoint Logic Suite")
}

var _ = Describe("clearField", func() {
	It("zeroes only the targeted bit field", func() {
		v := uint64(0b1111_1111)
		cleared := clearField(v, 2, 2)
		Expect(cleared).To(Equal(uint64(0b1111_0011)))
	})
})

var _ = Describe("FiringSlot", func() {
	It("returns the lowest set bit among DR6's low four bits", func() {
		Expect(FiringSlot(0b0000)).To(Equal(-1))
		Expect(FiringSlot(0b0001)).To(Equal(0))
		Expect(FiringSlot(0b0110)).To(Equal(1))
		Expect(FiringSlot(0b1000)).To(Equal(3))
	})

	It("ignores bits above the low nibble", func() {
		Expect(FiringSlot(0xF0)).To(Equal(-1))
	})
})
