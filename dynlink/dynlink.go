// Package dynlink is the dynamic-linker bridge (spec.md §4.G): it
// locates and watches DT_DEBUG, then the r_debug.r_brk rendezvous
// breakpoint, re-scanning the symbol table's GOT slots each time the
// set of loaded libraries changes. Grounded on
// original_source/sherlock/src/sym/elf_symbol.c's handle_dyn_linker and
// src/breakpoints/watchpoint.c's DLDEBUG_WATCH_ADDR handling.
package dynlink

import (
	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/breakpoint"
	"github.com/kestrel-dbg/sherlock/elfinfo"
	"github.com/kestrel-dbg/sherlock/proc"
)

// r_debug field byte offsets on x86-64 Linux:
//
//	int r_version;        // 0, padded to 8
//	struct link_map *r_map; // 8
//	ElfW(Addr) r_brk;      // 16
//	enum r_state_e r_state;// 24, padded to 8
//	ElfW(Addr) r_ldbase;   // 32
const (
	rDebugRMapOffset   = 8
	rDebugRBrkOffset   = 16
	rDebugRStateOffset = 24
)

// struct link_map field byte offsets on x86-64 Linux:
//
//	ElfW(Addr) l_addr;          // 0, load bias
//	char *l_name;                // 8, path of the mapped object
//	ElfW(Dyn) *l_ld;             // 16
//	struct link_map *l_next, *l_prev; // 24, 32
const (
	linkMapAddrOffset = 0
	linkMapNameOffset = 8
	linkMapNextOffset = 24
)

// Bridge ties together a tracee's symbol table, breakpoint list, and
// hardware watchpoint list to implement the rendezvous protocol.
type Bridge struct {
	pid     proc.Process
	table   *elfinfo.Table
	bps     *breakpoint.List
	watches *breakpoint.WatchList

	rDebugAddr uintptr
	rBrkAddr   uintptr

	// seenLibs tracks l_name paths already merged into table, so a
	// rendezvous hit that doesn't add any new library re-parses nothing.
	seenLibs map[string]bool
}

// NewBridge builds a Bridge over an already-loaded symbol table.
func NewBridge(pid proc.Process, table *elfinfo.Table, bps *breakpoint.List, watches *breakpoint.WatchList) *Bridge {
	return &Bridge{pid: pid, table: table, bps: bps, watches: watches, seenLibs: make(map[string]bool)}
}

// Setup arms the bridge right after exec (or at attach-time, if the
// tracee is already past the dynamic linker's first hop): if
// DT_DEBUG is already populated it installs the rendezvous breakpoint
// directly, otherwise it installs a write-only watchpoint on the
// DT_DEBUG slot (spec.md §4.G step 1). A statically linked executable
// (no DT_DEBUG) is a no-op.
func (b *Bridge) Setup() error {
	if b.table.DebugSlotAddr == 0 {
		return nil
	}

	if !b.table.NeedWatch {
		return b.installFromDebugSlot()
	}
	if live, err := b.pid.ReadAddressAt(b.table.DebugSlotAddr); err == nil && live != 0 {
		return b.installFromDebugSlot()
	}

	_, err := b.watches.Add(b.table.DebugSlotAddr, true)
	return err
}

// IsDebugSlot reports whether addr is the watched DT_DEBUG slot, used
// by the event pump to route a hardware-watchpoint hit here instead of
// reporting it to the user (spec.md §4.F "Handle" for watchpoints).
func (b *Bridge) IsDebugSlot(addr uintptr) bool {
	return b.table.DebugSlotAddr != 0 && addr == b.table.DebugSlotAddr
}

// HandleDebugSlotHit consumes the watchpoint firing on the DT_DEBUG
// slot: it removes the watchpoint and installs the rendezvous
// breakpoint from the now-populated slot (spec.md §4.G step 2).
func (b *Bridge) HandleDebugSlotHit(slot int) error {
	if err := b.watches.Delete(slot); err != nil {
		return err
	}
	return b.installFromDebugSlot()
}

func (b *Bridge) installFromDebugSlot() error {
	rDebugAddr, err := b.pid.ReadAddressAt(b.table.DebugSlotAddr)
	if err != nil {
		return err
	}
	if rDebugAddr == 0 {
		return sherlock.InvariantError("DT_DEBUG slot at %#x is still zero", b.table.DebugSlotAddr)
	}
	b.rDebugAddr = rDebugAddr

	rBrkAddr, err := b.pid.ReadAddressAt(rDebugAddr + rDebugRBrkOffset)
	if err != nil {
		return err
	}
	b.rBrkAddr = rBrkAddr

	return b.bps.SetRendezvous(rBrkAddr)
}

// RendezvousAddr exposes the internal breakpoint address so the event
// pump can tell breakpoint.Handle's KindRendezvous result apart from an
// ordinary hit (breakpoint.List already does this internally; exposed
// here for callers that only hold a Bridge).
func (b *Bridge) RendezvousAddr() uintptr {
	return b.rBrkAddr
}

// HandleRendezvousHit implements spec.md §4.G step 3-4: restore the
// original byte and rewind the IP, read r_debug, and if r_state == 0
// (no relink in progress) re-scan the symbol table's GOT slots,
// migrating any breakpoint bound to a symbol whose address changed.
// It always reinstalls the rendezvous breakpoint and resumes the
// tracee — callers should treat a nil error as "tracee now running".
func (b *Bridge) HandleRendezvousHit(trapAddr uintptr) error {
	if err := b.bps.RestoreRendezvous(); err != nil {
		return err
	}
	if err := b.pid.SetPC(trapAddr); err != nil {
		return sherlock.KernelError(err)
	}

	rState, err := b.readRState()
	if err != nil {
		return err
	}

	if rState == 0 {
		b.rescan()
	}

	if err := b.bps.ReinstallRendezvous(); err != nil {
		return err
	}

	return b.pid.Cont()
}

func (b *Bridge) readRState() (int32, error) {
	buf := make([]byte, 4)
	if err := b.pid.PeekData(b.rDebugAddr+rDebugRStateOffset, buf); err != nil {
		return 0, err
	}
	return int32(sherlock.ByteOrder.Uint32(buf)), nil
}

func (b *Bridge) rescan() {
	gotReader := func(addr uintptr) (uint64, error) {
		data := make([]byte, sherlock.SizeofPtr)
		if err := b.pid.PeekData(addr, data); err != nil {
			return 0, err
		}
		return uint64(sherlock.ReadAddress(data)), nil
	}

	regions, _ := b.pid.MemRegions()
	b.table.ResolveDynamic(gotReader, regions)
	b.discoverLibraries()
}

// discoverLibraries walks r_debug.r_map, the dynamic linker's own linked
// list of every mapped shared object, and merges each not-yet-seen
// library's dynamic symbols into the table (elfinfo.Table.MergeLibrary).
// This is what lets a pending function breakpoint (spec.md §8 scenario
// 4, `break func sqrt` before libm.so.6 is loaded) ever resolve: the
// table's byName map is otherwise only ever populated once, from the
// main executable's own symbol/relocation tables at elfinfo.Load time,
// and gains no entries for a library mapped in afterward without this
// walk. Grounded on original_source/sherlock/src/sym/elf_symbol.c's
// handle_dyn_linker, which performs the equivalent link_map traversal in
// C via r_debug->r_map.
func (b *Bridge) discoverLibraries() {
	mapAddr, err := b.pid.ReadAddressAt(b.rDebugAddr + rDebugRMapOffset)
	if err != nil {
		return
	}

	for mapAddr != 0 {
		base, err := b.pid.ReadAddressAt(mapAddr + linkMapAddrOffset)
		if err != nil {
			return
		}
		nameAddr, err := b.pid.ReadAddressAt(mapAddr + linkMapNameOffset)
		if err != nil {
			return
		}
		next, err := b.pid.ReadAddressAt(mapAddr + linkMapNextOffset)
		if err != nil {
			return
		}

		if nameAddr != 0 {
			if path, err := b.pid.ReadCString(nameAddr); err == nil && path != "" && !b.seenLibs[path] {
				b.seenLibs[path] = true
				b.table.MergeLibrary(path, base)
			}
		}

		mapAddr = next
	}
}
