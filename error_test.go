package sherlock

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSherlock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sherlock Ambient Suite")
}

var _ = Describe("TracedError", func() {
	It("wraps a plain error with one call-site frame", func() {
		err := Error(errors.New("boom"))
		Expect(err).NotTo(BeNil())
		Expect(err.Frames).To(HaveLen(1))
		Expect(err.Error()).To(ContainSubstring("boom"))
	})

	It("appends a frame instead of re-wrapping an existing TracedError", func() {
		inner := Error(errors.New("boom"))
		outer := Error(inner)
		Expect(outer).To(BeIdenticalTo(inner))
		Expect(outer.Frames).To(HaveLen(2))
	})

	It("returns nil for a nil input", func() {
		Expect(Error(nil)).To(BeNil())
	})

	It("merges multiple errors into one message", func() {
		merged := MergeErrors([]error{errors.New("a"), errors.New("b")})
		Expect(merged.Error()).To(ContainSubstring("a; b"))
	})

	It("returns nil for an empty error slice", func() {
		Expect(MergeErrors(nil)).To(BeNil())
	})

	DescribeTable("error-kind constructors tag the right Kind",
		func(make func() *TracedError, want ErrorKind) {
			Expect(make().Kind).To(Equal(want))
		},
		Entry("user", func() *TracedError { return UserError("bad input") }, KindUser),
		Entry("inaccessible", func() *TracedError { return InaccessibleError("addr %#x", 1) }, KindInaccessible),
		Entry("kernel", func() *TracedError { return KernelError(errors.New("ESRCH")) }, KindKernel),
		Entry("invariant", func() *TracedError { return InvariantError("unexpected stop") }, KindInvariant),
	)
})

var _ = Describe("ReadAddress", func() {
	It("round-trips a native-endian pointer", func() {
		buf := make([]byte, SizeofPtr)
		if SizeofPtr == 8 {
			ByteOrder.PutUint64(buf, 0x1122334455667788)
			Expect(ReadAddress(buf)).To(Equal(uintptr(0x1122334455667788)))
		} else {
			ByteOrder.PutUint32(buf, 0x11223344)
			Expect(ReadAddress(buf)).To(Equal(uintptr(0x11223344)))
		}
	})

	It("returns 0 for a too-short buffer", func() {
		Expect(ReadAddress([]byte{1, 2})).To(Equal(uintptr(0)))
	})
})
