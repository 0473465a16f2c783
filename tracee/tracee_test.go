package tracee

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTracee(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tracee Suite")
}

var _ = Describe("State", func() {
	It("stringifies every defined state", func() {
		Expect(StateInit.String()).To(Equal("init"))
		Expect(StateRunning.String()).To(Equal("running"))
		Expect(StateStopped.String()).To(Equal("stopped"))
		Expect(StateKilled.String()).To(Equal("killed"))
		Expect(StateErr.String()).To(Equal("err"))
	})

	It("falls back to unknown for an out-of-range value", func() {
		Expect(State(99).String()).To(Equal("unknown"))
	})
})

var _ = Describe("SetupFromExec", func() {
	It("rejects an empty argv before touching the kernel", func() {
		_, err := SetupFromExec(nil)
		Expect(err).To(HaveOccurred())
	})
})
