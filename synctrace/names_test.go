package synctrace

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSynctrace(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Synctrace Suite")
}

var _ = Describe("Lookup", func() {
	It("resolves a known syscall number", func() {
		Expect(Lookup(1)).To(Equal("write"))
		Expect(Lookup(231)).To(Equal("exit_group"))
	})

	It("returns empty for an unknown number", func() {
		Expect(Lookup(999999)).To(Equal(""))
	})
})
