package elfinfo

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kestrel-dbg/sherlock/proc"
)

func TestElfinfo(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Elfinfo Suite")
}

func staticSym(name string, addr uintptr, size uint64) *Symbol {
	return &Symbol{Name: name, Addr: addr, Size: size}
}

func dynSym(name string, addr uintptr, section *Section) *Symbol {
	return &Symbol{Name: name, DynSym: true, Addr: addr, Section: section}
}

var _ = Describe("Table lookups", func() {
	var table *Table

	BeforeEach(func() {
		table = &Table{byName: make(map[string]*Symbol)}
	})

	It("finds a static symbol within [addr, addr+size]", func() {
		s := staticSym("foo", 0x1000, 0x10)
		table.byName["foo"] = s
		table.byAddr = []*Symbol{s}

		found, ok := table.LookupByAddr(0x1005)
		Expect(ok).To(BeTrue())
		Expect(found.Name).To(Equal("foo"))

		_, ok = table.LookupByAddr(0x2000)
		Expect(ok).To(BeFalse())
	})

	It("finds a dynamic symbol within [addr, section.end]", func() {
		sec := &Section{Name: ".text", Start: 0x2000, End: 0x3000}
		s := dynSym("puts", 0x2010, sec)
		table.byAddr = []*Symbol{s}

		found, ok := table.LookupByAddr(0x2fff)
		Expect(ok).To(BeTrue())
		Expect(found.Name).To(Equal("puts"))
	})

	It("never matches a symbol whose Addr is still 0 (open question, spec §9)", func() {
		sec := &Section{Name: ".data", Start: 0, End: 0x100}
		s := dynSym("unresolved", 0, sec)
		table.byAddr = []*Symbol{s}

		_, ok := table.LookupByAddr(0)
		Expect(ok).To(BeFalse())
		_, ok = table.LookupByAddr(0x50)
		Expect(ok).To(BeFalse())
	})

	It("does exact-name lookup only", func() {
		s := staticSym("main", 0x1100, 0x20)
		table.byName["main"] = s

		found, ok := table.LookupByName("main")
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(s))

		_, ok = table.LookupByName("mai")
		Expect(ok).To(BeFalse())
	})

	It("offers prefix matches for ambiguous function names", func() {
		table.byName["foo_bar"] = staticSym("foo_bar", 0x10, 1)
		table.byName["foo_baz"] = staticSym("foo_baz", 0x20, 1)
		table.byName["other"] = staticSym("other", 0x30, 1)

		matches := table.LookupByNamePrefix("foo_")
		Expect(matches).To(HaveLen(2))
	})
})

type fakeBinding struct {
	migrated bool
	old, new uintptr
}

func (f *fakeBinding) Migrate(oldAddr, newAddr uintptr) {
	f.migrated = true
	f.old, f.new = oldAddr, newAddr
}

var _ = Describe("ResolveDynamic", func() {
	It("adopts a GLOB_DAT symbol's first non-zero GOT value as its address", func() {
		table := &Table{byName: make(map[string]*Symbol)}
		binding := &fakeBinding{}
		sym := &Symbol{
			Name:         "g_counter",
			DynSym:       true,
			NeedsResolve: true,
			GotAddr:      0x4000,
			GotVal:       0,
			BP:           binding,
		}
		table.byAddr = []*Symbol{sym}

		reader := func(addr uintptr) (uint64, error) {
			Expect(addr).To(Equal(uintptr(0x4000)))
			return 0xdeadbeef, nil
		}

		table.ResolveDynamic(reader, nil)

		Expect(sym.Addr).To(Equal(uintptr(0xdeadbeef)))
		Expect(sym.GotVal).To(Equal(uint64(0xdeadbeef)))
		Expect(binding.migrated).To(BeTrue())
		Expect(binding.old).To(Equal(uintptr(0)))
		Expect(binding.new).To(Equal(uintptr(0xdeadbeef)))
	})

	It("is idempotent when called twice with no intervening change", func() {
		table := &Table{byName: make(map[string]*Symbol)}
		binding := &fakeBinding{}
		sym := &Symbol{Name: "s", DynSym: true, NeedsResolve: true, GotAddr: 0x10, GotVal: 0x99, Addr: 0x99, BP: binding}
		table.byAddr = []*Symbol{sym}

		reader := func(uintptr) (uint64, error) { return 0x99, nil }

		table.ResolveDynamic(reader, nil)
		table.ResolveDynamic(reader, nil)

		Expect(binding.migrated).To(BeFalse())
	})

	It("rebinds Map from the supplied memory regions when address changes", func() {
		table := &Table{byName: make(map[string]*Symbol)}
		sym := &Symbol{Name: "s", DynSym: true, NeedsResolve: true, GotAddr: 0x10}
		table.byAddr = []*Symbol{sym}

		regions := []proc.MemRegion{
			{Address: [2]uintptr{0x8000, 0x9000}, Pathname: "/lib/libm.so.6"},
		}
		reader := func(uintptr) (uint64, error) { return 0x8100, nil }

		table.ResolveDynamic(reader, regions)

		Expect(sym.Map).NotTo(BeNil())
		Expect(sym.Map.Pathname).To(Equal("/lib/libm.so.6"))
	})
})
