package breakpoint

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kestrel-dbg/sherlock/proc"
)

func TestBreakpoint(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Breakpoint Suite")
}

var _ = Describe("List bookkeeping", func() {
	It("assigns monotone ids starting at 1 and looks them up", func() {
		l := NewList(proc.Process(0))
		bp := &Breakpoint{ID: l.nextID, Addr: 0x1000}
		l.byAddr[bp.Addr] = bp
		l.nextID++

		found, ok := l.ByID(1)
		Expect(ok).To(BeTrue())
		Expect(found.Addr).To(Equal(uintptr(0x1000)))

		_, ok = l.ByID(2)
		Expect(ok).To(BeFalse())
	})

	It("excludes the rendezvous breakpoint from All()", func() {
		l := NewList(proc.Process(0))
		l.byAddr[0x2000] = &Breakpoint{ID: 1, Addr: 0x2000}
		l.rendezvous = &Breakpoint{Addr: 0x3000}

		all := l.All()
		Expect(all).To(HaveLen(1))
		Expect(l.RendezvousAddr()).To(Equal(uintptr(0x3000)))
	})

	It("relocates a breakpoint's map key on migration", func() {
		l := NewList(proc.Process(0))
		bp := &Breakpoint{ID: 1, Addr: 0x100}
		l.byAddr[0x100] = bp

		l.relocate(0x100, 0x200)

		_, stillOld := l.byAddr[0x100]
		Expect(stillOld).To(BeFalse())
		moved, ok := l.byAddr[0x200]
		Expect(ok).To(BeTrue())
		Expect(moved).To(BeIdenticalTo(bp))
	})

	It("tracks pending-reinstall breakpoints", func() {
		l := NewList(proc.Process(0))
		bp := &Breakpoint{ID: 1, Addr: 0x100, pendingReinstall: true}
		l.byAddr[0x100] = bp

		pending, ok := l.Pending()
		Expect(ok).To(BeTrue())
		Expect(pending).To(BeIdenticalTo(bp))
	})

	It("Migrate updates Addr in place, preserving ID and Counter", func() {
		bp := &Breakpoint{ID: 7, Addr: 0x10, Counter: 3}
		bp.Migrate(0x10, 0x20)

		Expect(bp.Addr).To(Equal(uintptr(0x20)))
		Expect(bp.ID).To(Equal(7))
		Expect(bp.Counter).To(Equal(3))
	})
})
