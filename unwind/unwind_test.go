package unwind

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestUnwind(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Unwind Suite")
}

// fakeUnwinder is a stand-in cursor driven entirely by a canned PC list,
// used to exercise Backtrace's draining logic without a live tracee.
type fakeUnwinder struct {
	pcs []uintptr
	idx int
}

func (f *fakeUnwinder) Frame() Frame {
	return Frame{PC: f.pcs[f.idx]}
}

func (f *fakeUnwinder) Step() bool {
	if f.idx+1 >= len(f.pcs) {
		return false
	}
	f.idx++
	return true
}

var _ = Describe("Backtrace", func() {
	It("collects every frame in order, innermost first", func() {
		u := &fakeUnwinder{pcs: []uintptr{0x400, 0x500, 0x600}}
		frames := Backtrace(u)

		Expect(frames).To(HaveLen(3))
		Expect(frames[0].PC).To(Equal(uintptr(0x400)))
		Expect(frames[1].PC).To(Equal(uintptr(0x500)))
		Expect(frames[2].PC).To(Equal(uintptr(0x600)))
	})

	It("returns a single frame when Step never advances", func() {
		u := &fakeUnwinder{pcs: []uintptr{0x400}}
		frames := Backtrace(u)

		Expect(frames).To(HaveLen(1))
	})

	It("caps at maxFrames against a cyclic chain", func() {
		// a cursor that always reports more frames available would spin
		// forever without Backtrace's cap; simulate that by cycling
		// through two addresses indefinitely.
		u := &cyclicUnwinder{pcs: []uintptr{0x1, 0x2}}
		frames := Backtrace(u)

		Expect(frames).To(HaveLen(maxFrames))
	})
})

type cyclicUnwinder struct {
	pcs []uintptr
	idx int
}

func (c *cyclicUnwinder) Frame() Frame {
	return Frame{PC: c.pcs[c.idx%len(c.pcs)]}
}

func (c *cyclicUnwinder) Step() bool {
	c.idx++
	return true
}
