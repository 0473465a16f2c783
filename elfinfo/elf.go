// Package elfinfo is the ELF analyzer and symbol table (spec.md §4.C,
// §4.D). It is deliberately DWARF-free: only debug/elf's section,
// symbol, and relocation views are consulted, mirroring the teacher's
// own data/debugdata.go use of debug/elf and grounded directly on
// original_source/sherlock/src/sym/elf_symbol.c.
package elfinfo

import (
	"debug/elf"
	"os"

	"github.com/kestrel-dbg/sherlock"
)

// Section is a named, load-base-adjusted address range from the ELF
// section headers (spec.md §3 "Section").
type Section struct {
	Name  string
	Start uintptr
	End   uintptr
}

// Contains reports whether addr falls in [Start, End).
func (s Section) Contains(addr uintptr) bool {
	return addr >= s.Start && addr < s.End
}

// Table is the parsed ELF plus the resulting symbol set: a one-shot
// snapshot of component C's output, owned for the tracee's lifetime
// (spec.md §9 "string ownership from ELF" — symbol names are copied out
// of the ELF's string table at parse time, not borrowed, since this Go
// port keeps the *elf.File open anyway but the names must survive
// independently of any later re-parse).
type Table struct {
	file     *elf.File
	vaBase   uintptr
	sections []*Section
	byName   map[string]*Symbol
	byAddr   []*Symbol // sorted by descending Addr

	pltEntryStart uintptr
	pltEntrySize  uint64

	// DebugSlotAddr is the tracee address of the DT_DEBUG dynamic-table
	// slot (spec.md §4.C "Dynamic-linker rendezvous"); zero if none
	// found (statically linked executable).
	DebugSlotAddr uintptr
	// NeedWatch is true when the DT_DEBUG value stored in the file is
	// zero; dynlink.Bridge.Setup then installs a write-only hardware
	// watchpoint on the slot unless the live slot is already populated
	// (§4.G).
	NeedWatch bool
}

// Load parses the ELF at path and builds the initial symbol set.
// vaBase is the tracee's load base (0 for ET_EXEC, the first mapped
// address for ET_DYN); gotReader reads the current GOT value at a
// tracee address, used to seed each dynamic symbol's observed value.
func Load(path string, vaBase uintptr, gotReader func(addr uintptr) (uint64, error)) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sherlock.Error(err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, sherlock.Error(err)
	}

	switch ef.Type {
	case elf.ET_EXEC:
		vaBase = 0
	case elf.ET_DYN:
		// vaBase as provided by the caller (runtime load base).
	default:
		f.Close()
		return nil, sherlock.UserError("unsupported ELF type: %s", ef.Type)
	}

	t := &Table{
		file:   ef,
		vaBase: vaBase,
		byName: make(map[string]*Symbol),
	}

	t.loadSections(ef)

	if err := t.loadStaticSymbols(ef); err != nil {
		return nil, err
	}

	if gotReader == nil {
		gotReader = func(uintptr) (uint64, error) { return 0, nil }
	}

	if err := t.loadPLTInfo(ef); err != nil {
		return nil, err
	}

	if err := t.loadDynamicSymbols(ef, gotReader); err != nil {
		return nil, err
	}

	t.sortByAddr()

	if err := t.locateDebugSlot(ef); err != nil {
		return nil, err
	}

	return t, nil
}

// Close releases the underlying ELF file handle.
func (t *Table) Close() error {
	return t.file.Close()
}

func (t *Table) loadSections(ef *elf.File) {
	for _, sh := range ef.Sections {
		if sh.Type == elf.SHT_NULL || sh.Addr == 0 || sh.Size == 0 {
			continue
		}
		t.sections = append(t.sections, &Section{
			Name:  sh.Name,
			Start: t.vaBase + uintptr(sh.Addr),
			End:   t.vaBase + uintptr(sh.Addr+sh.Size),
		})
	}
}

func (t *Table) sectionFor(addr uintptr) *Section {
	for _, s := range t.sections {
		if s.Contains(addr) {
			return s
		}
	}
	return nil
}

func (t *Table) sectionByName(name string) *elf.Section {
	return t.file.Section(name)
}
