package dynlink

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kestrel-dbg/sherlock/breakpoint"
	"github.com/kestrel-dbg/sherlock/elfinfo"
	"github.com/kestrel-dbg/sherlock/proc"
)

func TestDynlink(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dynlink Suite")
}

var _ = Describe("Bridge", func() {
	It("reports IsDebugSlot only for the table's recorded DT_DEBUG address", func() {
		pid := proc.Process(0)
		table := &elfinfo.Table{DebugSlotAddr: 0x7000}
		bridge := NewBridge(pid, table, breakpoint.NewList(pid), breakpoint.NewWatchList(pid))

		Expect(bridge.IsDebugSlot(0x7000)).To(BeTrue())
		Expect(bridge.IsDebugSlot(0x7008)).To(BeFalse())
	})

	It("treats a zero DebugSlotAddr (statically linked) as never matching", func() {
		pid := proc.Process(0)
		table := &elfinfo.Table{}
		bridge := NewBridge(pid, table, breakpoint.NewList(pid), breakpoint.NewWatchList(pid))

		Expect(bridge.IsDebugSlot(0)).To(BeFalse())
	})

	It("is a no-op on Setup when there is no DT_DEBUG slot", func() {
		pid := proc.Process(0)
		table := &elfinfo.Table{}
		bridge := NewBridge(pid, table, breakpoint.NewList(pid), breakpoint.NewWatchList(pid))

		Expect(bridge.Setup()).To(Succeed())
	})
})
