package elfinfo

import (
	"debug/elf"
	"sort"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/proc"
)

// BreakpointBinding is the thin, symbol-table-owned interface a bound
// breakpoint must satisfy so elfinfo can ask it to migrate without
// importing the breakpoint package (which itself imports elfinfo for
// *Symbol) — see SPEC_FULL.md §4.D.
type BreakpointBinding interface {
	// Migrate moves the breakpoint's installed address from oldAddr to
	// newAddr, preserving its id and hit counter (spec.md §8 "Id
	// stability").
	Migrate(oldAddr, newAddr uintptr)
}

// Symbol is a named, addressed ELF symbol, static or dynamic
// (spec.md §3 "Symbol").
type Symbol struct {
	Name     string
	DynSym   bool
	Base     uintptr // load base (va_base) the symbol was resolved against
	Addr     uintptr // current target address (0 for an unresolved GLOB_DAT)
	Size     uint64
	FileName string
	Section  *Section
	Map      *proc.MemRegion

	// Dynamic-symbol-only fields.
	GotAddr      uintptr
	GotVal       uint64
	NeedsResolve bool

	// BP is the installed breakpoint bound to this symbol, if any.
	BP BreakpointBinding
}

func (t *Table) loadStaticSymbols(ef *elf.File) error {
	syms, err := ef.Symbols()
	if err != nil {
		// No .symtab (a stripped binary) is not fatal — dynamic symbols
		// and addr-based breakpoints still work.
		return nil
	}

	var lastFile string
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) == elf.STT_FILE {
			lastFile = s.Name
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}

		sym := &Symbol{
			Name: s.Name,
			Base: t.vaBase,
			Addr: t.vaBase + uintptr(s.Value),
			Size: s.Size,
		}
		sym.Section = t.sectionFor(sym.Addr)

		if elf.ST_BIND(s.Info) == elf.STB_LOCAL {
			sym.FileName = lastFile
		}

		t.byName[sym.Name] = sym
		t.byAddr = append(t.byAddr, sym)
	}

	return nil
}

func (t *Table) loadPLTInfo(ef *elf.File) error {
	pltSec := t.sectionByName(".plt.sec")
	skipFirst := false
	if pltSec == nil {
		pltSec = t.sectionByName(".plt")
		// the first .plt entry is the resolver trampoline, not a symbol
		// stub, when there is no separate .plt.sec.
		skipFirst = true
	}
	if pltSec == nil {
		return nil
	}

	// 16 bytes/entry is the standard x86-64 PLT stub size; debug/elf
	// does not expose sh_entsize for non-table sections, so this mirrors
	// elf_symbol.c's own fallback when the section header's entry size
	// is absent.
	entSize := uint64(16)
	start := t.vaBase + uintptr(pltSec.Addr)
	if skipFirst {
		start += uintptr(entSize)
	}

	t.pltEntryStart = start
	t.pltEntrySize = entSize
	return nil
}

func (t *Table) loadDynamicSymbols(ef *elf.File, gotReader func(uintptr) (uint64, error)) error {
	dynSyms, err := ef.DynamicSymbols()
	if err != nil {
		return nil // no dynamic symbol table — statically linked
	}

	relocSections := []string{".rela.dyn", ".rela.plt"}
	for _, secName := range relocSections {
		relas, err := t.readRelocations(ef, secName)
		if err != nil {
			continue
		}

		for i, rela := range relas {
			symIdx := rela.symIdx
			if symIdx <= 0 || int(symIdx) > len(dynSyms) {
				continue
			}
			s := dynSyms[symIdx-1]
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}

			sym := &Symbol{
				Name:   s.Name,
				DynSym: true,
				Base:   t.vaBase,
				GotAddr: t.vaBase + uintptr(rela.offset),
			}

			switch rela.relType {
			case uint32(elf.R_X86_64_JUMP_SLOT):
				if t.pltEntrySize != 0 {
					sym.Addr = t.pltEntryStart + uintptr(i)*uintptr(t.pltEntrySize)
				}
				sym.NeedsResolve = true

			case uint32(elf.R_X86_64_GLOB_DAT):
				sym.Addr = 0
				sym.NeedsResolve = true

			default:
				// unsupported relocation kind: logged by the caller,
				// skipped here (spec.md §4.C).
				continue
			}

			if got, err := gotReader(sym.GotAddr); err == nil {
				sym.GotVal = got
			}

			if sym.Addr != 0 {
				sym.Section = t.sectionFor(sym.Addr)
			}

			t.byName[sym.Name] = sym
			t.byAddr = append(t.byAddr, sym)
		}
	}

	return nil
}

type rela64 struct {
	offset  uint64
	relType uint32
	symIdx  uint32
	addend  int64
}

// readRelocations decodes a SHT_RELA section into rela64 entries.
// debug/elf does not expose a typed Rela64 reader for arbitrary
// sections, so this mirrors elf_symbol.c's own manual iteration over
// Elf64_Rela records (offset, info, addend), each 24 bytes.
func (t *Table) readRelocations(ef *elf.File, name string) ([]rela64, error) {
	sec := t.sectionByName(name)
	if sec == nil {
		return nil, sherlock.UserError("no %s section", name)
	}

	data, err := sec.Data()
	if err != nil {
		return nil, sherlock.Error(err)
	}

	const entrySize = 24
	n := len(data) / entrySize
	out := make([]rela64, 0, n)
	bo := ef.ByteOrder

	for i := 0; i < n; i++ {
		base := i * entrySize
		offset := bo.Uint64(data[base : base+8])
		info := bo.Uint64(data[base+8 : base+16])
		addend := int64(bo.Uint64(data[base+16 : base+24]))

		out = append(out, rela64{
			offset:  offset,
			relType: uint32(info),
			symIdx:  uint32(info >> 32),
			addend:  addend,
		})
	}

	return out, nil
}

func (t *Table) sortByAddr() {
	sort.Slice(t.byAddr, func(i, j int) bool {
		return t.byAddr[i].Addr > t.byAddr[j].Addr
	})
}

// LookupByName returns the symbol with an exact name match.
func (t *Table) LookupByName(name string) (*Symbol, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// LookupByNamePrefix returns every symbol whose name starts with
// prefix, used by `break func <name>` when the exact name is not
// found (spec.md §4.I "if multiple matches, offer indexed choice").
func (t *Table) LookupByNamePrefix(prefix string) []*Symbol {
	var out []*Symbol
	for name, s := range t.byName {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupByAddr returns the symbol whose interval contains addr: for a
// static symbol the interval is [Addr, Addr+Size]; for a dynamic symbol
// it is [Addr, Section.End] since its size is unknown.
//
// Open question (spec.md §9): a symbol with Addr == 0 (an unresolved
// GLOB_DAT) is skipped explicitly and never matches any addr, including
// 0; the interval rule alone would let it match every address up to its
// section's end.
func (t *Table) LookupByAddr(addr uintptr) (*Symbol, bool) {
	for _, s := range t.byAddr {
		if s.Addr == 0 {
			continue
		}

		var end uintptr
		if s.DynSym {
			if s.Section == nil {
				continue
			}
			end = s.Section.End
		} else {
			end = s.Addr + uintptr(s.Size)
		}

		if addr >= s.Addr && addr <= end {
			return s, true
		}
	}
	return nil, false
}

// ResolveDynamic re-reads every unresolved dynamic symbol's GOT slot
// (spec.md §4.D). For each slot whose value changed since last
// observation, it updates GotVal; if Addr was zero (the GLOB_DAT case)
// it adopts the new value as Addr and rebinds Section/Map. If the
// symbol has a bound breakpoint, the breakpoint is asked to migrate.
// memRegions is consulted to rebind Map; it may be nil to skip that
// step (e.g. from a unit test with no live tracee).
func (t *Table) ResolveDynamic(gotReader func(uintptr) (uint64, error), memRegions []proc.MemRegion) {
	changed := false

	for _, s := range t.byAddr {
		if !s.DynSym || !s.NeedsResolve {
			continue
		}

		val, err := gotReader(s.GotAddr)
		if err != nil || val == s.GotVal {
			continue
		}

		s.GotVal = val
		changed = true

		oldAddr := s.Addr
		if s.Addr == 0 {
			s.Addr = uintptr(val)
		}

		s.Section = t.sectionFor(s.Addr)
		if memRegions != nil {
			if r, ok := proc.FindRegion(memRegions, s.Addr); ok {
				s.Map = &r
			}
		}

		if s.BP != nil && oldAddr != s.Addr {
			s.BP.Migrate(oldAddr, s.Addr)
		}
	}

	if changed {
		t.sortByAddr()
	}
}

// MergeLibrary parses a shared object already mapped into the tracee
// (a dynlink.Bridge link_map-walk hit) and adds its exported function
// symbols to the table at base-adjusted addresses, so a pending `break
// func` on a symbol that only lives in a library loaded after exec
// (spec.md §8 scenario 4, e.g. libm.so.6's sqrt) can resolve once this
// runs. Unlike the main executable's own dynamic symbols, a library's
// symbols are read straight from its own .dynsym — there is no GOT
// indirection to chase, since the library's own code already calls
// itself directly.
func (t *Table) MergeLibrary(path string, base uintptr) error {
	f, err := elf.Open(path)
	if err != nil {
		// Not every link_map entry backs a real file (e.g. the vDSO, or
		// the main executable itself re-appearing in its own list); a
		// library we can't open on the host filesystem is skipped, not
		// fatal.
		return nil
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return nil
	}

	added := false
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}
		if _, exists := t.byName[s.Name]; exists {
			continue // the main executable's own copy (or an earlier library's) wins
		}

		sym := &Symbol{
			Name:     s.Name,
			DynSym:   true,
			Base:     base,
			Addr:     base + uintptr(s.Value),
			Size:     s.Size,
			FileName: path,
		}
		t.byName[sym.Name] = sym
		t.byAddr = append(t.byAddr, sym)
		added = true
	}

	if added {
		t.sortByAddr()
	}
	return nil
}

func (t *Table) locateDebugSlot(ef *elf.File) error {
	dynSec := t.sectionByName(".dynamic")
	if dynSec == nil {
		return nil // statically linked: no dynamic linker to rendezvous with
	}

	data, err := dynSec.Data()
	if err != nil {
		return sherlock.Error(err)
	}

	const entrySize = 16 // Elf64_Dyn{int64 d_tag; union{uint64 d_val/d_ptr};}
	n := len(data) / entrySize
	bo := ef.ByteOrder

	for i := 0; i < n; i++ {
		base := i * entrySize
		tag := int64(bo.Uint64(data[base : base+8]))
		if elf.DynTag(tag) != elf.DT_DEBUG {
			continue
		}

		slotAddr := t.vaBase + uintptr(dynSec.Addr) + uintptr(base) + 8 // offsetof(d_un)
		t.DebugSlotAddr = slotAddr

		val := bo.Uint64(data[base+8 : base+16])
		if val == 0 {
			t.NeedWatch = true
		}
		return nil
	}

	return nil
}
