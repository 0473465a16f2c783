// Package breakpoint is the breakpoint engine (spec.md §4.F): software
// INT3 breakpoints with PLT-lazy migration and a pending-reinstall
// discipline, plus hardware watchpoints over the debug registers
// (watchpoint.go). Grounded in the teacher's common/breakpoint.go for
// the Go shape and in
// original_source/sherlock/src/breakpoints/breakpoint.c for the exact
// install/handle/migrate state machine.
package breakpoint

import (
	"bytes"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
	"github.com/kestrel-dbg/sherlock/elfinfo"
	"github.com/kestrel-dbg/sherlock/proc"
)

var trapInstructionSize = uintptr(len(arch.TrapInstruction))
var emptyInstr = make([]byte, len(arch.TrapInstruction))

// Breakpoint is a software breakpoint: one patched byte at Addr,
// restorable from savedWord.
type Breakpoint struct {
	ID      int
	Addr    uintptr
	Symbol  *elfinfo.Symbol
	IsPLTBP bool
	Counter int

	pid       proc.Process
	savedWord []byte
	armed     bool
	// pendingReinstall is set when the breakpoint has just been hit and
	// the tracee has not yet executed the instruction beneath it
	// (spec.md §4.F step 6-7).
	pendingReinstall bool
}

// List owns every installed breakpoint plus the tracee's internal
// rendezvous breakpoint (spec.md §4.F install step 5: the r_brk
// breakpoint is "stored on the tracee" but not user-visible).
type List struct {
	pid        proc.Process
	nextID     int
	byAddr     map[uintptr]*Breakpoint
	rendezvous *Breakpoint
}

// NewList creates an empty breakpoint list for the given tracee.
func NewList(pid proc.Process) *List {
	return &List{
		pid:    pid,
		nextID: 1,
		byAddr: make(map[uintptr]*Breakpoint),
	}
}

// All returns every user-visible breakpoint (excludes the internal
// rendezvous breakpoint), in no particular order.
func (l *List) All() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(l.byAddr))
	for _, bp := range l.byAddr {
		out = append(out, bp)
	}
	return out
}

// ByID returns the breakpoint with the given id.
func (l *List) ByID(id int) (*Breakpoint, bool) {
	for _, bp := range l.byAddr {
		if bp.ID == id {
			return bp, true
		}
	}
	return nil, false
}

func readWord(pid proc.Process, addr uintptr) ([]byte, error) {
	return pid.PeekText(addr)
}

// Set installs a software breakpoint at addr (spec.md §4.F "Install").
// sym, if non-nil, is back-linked from the breakpoint and forward-linked
// from the symbol. An unreadable address leaves tracee memory untouched
// and is returned as an InaccessibleError; the action handlers print it
// as a diagnostic and treat the command itself as handled.
func (l *List) Set(addr uintptr, sym *elfinfo.Symbol) (*Breakpoint, error) {
	if _, exists := l.byAddr[addr]; exists {
		return nil, sherlock.UserError("breakpoint already exists at %#x", addr)
	}

	word, err := readWord(l.pid, addr)
	if err != nil {
		return nil, sherlock.InaccessibleError("the requested memory address (%#x) is not accessible", addr)
	}

	if bytes.Equal(word, emptyInstr) {
		return nil, sherlock.InaccessibleError("could not save original instruction at %#x", addr)
	}

	patched := make([]byte, len(word))
	copy(patched, word)
	copy(patched, arch.TrapInstruction)

	if err := l.pid.PokeText(addr, patched); err != nil {
		return nil, sherlock.KernelError(err)
	}

	bp := &Breakpoint{
		ID:        l.nextID,
		Addr:      addr,
		Symbol:    sym,
		pid:       l.pid,
		savedWord: word,
		armed:     true,
	}
	l.nextID++

	if sym != nil && sym.DynSym && sym.Section != nil &&
		len(sym.Section.Name) >= 4 && sym.Section.Name[:4] == ".plt" {
		bp.IsPLTBP = true
	}

	l.byAddr[addr] = bp
	if sym != nil {
		sym.BP = bp
	}

	return bp, nil
}

// SetRendezvous installs the internal (non-user-visible) breakpoint at
// the dynamic linker's r_brk address (spec.md §4.F install step 5 /
// §4.G step 2).
func (l *List) SetRendezvous(addr uintptr) error {
	word, err := readWord(l.pid, addr)
	if err != nil {
		return sherlock.KernelError(err)
	}

	patched := make([]byte, len(word))
	copy(patched, word)
	copy(patched, arch.TrapInstruction)

	if err := l.pid.PokeText(addr, patched); err != nil {
		return sherlock.KernelError(err)
	}

	l.rendezvous = &Breakpoint{Addr: addr, pid: l.pid, savedWord: word, armed: true}
	return nil
}

// RendezvousAddr returns the installed rendezvous breakpoint's address,
// or 0 if none is installed.
func (l *List) RendezvousAddr() uintptr {
	if l.rendezvous == nil {
		return 0
	}
	return l.rendezvous.Addr
}

func (bp *Breakpoint) restore() error {
	if !bp.armed {
		return nil
	}
	if err := bp.pid.PokeText(bp.Addr, bp.savedWord); err != nil {
		return sherlock.KernelError(err)
	}
	bp.armed = false
	return nil
}

func (bp *Breakpoint) rearm() error {
	if bp.armed {
		return nil
	}
	word, err := readWord(bp.pid, bp.Addr)
	if err != nil {
		return sherlock.KernelError(err)
	}
	bp.savedWord = word

	patched := make([]byte, len(word))
	copy(patched, word)
	copy(patched, arch.TrapInstruction)
	if err := bp.pid.PokeText(bp.Addr, patched); err != nil {
		return sherlock.KernelError(err)
	}
	bp.armed = true
	return nil
}

// Delete unlinks the breakpoint record without restoring the trap byte
// (spec.md §4.F "Delete" — the caller is expected to delete only
// breakpoints that are not currently pending).
func (l *List) Delete(id int) error {
	for addr, bp := range l.byAddr {
		if bp.ID == id {
			delete(l.byAddr, addr)
			if bp.Symbol != nil && bp.Symbol.BP == bp {
				bp.Symbol.BP = nil
			}
			return nil
		}
	}
	return sherlock.UserError("no breakpoint with id %d", id)
}

// Migrate implements elfinfo.BreakpointBinding: it moves bp's record to
// a new address, preserving ID and Counter (spec.md §8 "Id stability").
// It updates the Addr field only: no trap byte is restored at oldAddr or
// written at newAddr, and the owning List's address index is left as it
// was. The PLT path does not go through Migrate: migratePLT (in
// handle.go) installs the trap and relocates the index itself.
func (bp *Breakpoint) Migrate(oldAddr, newAddr uintptr) {
	bp.Addr = newAddr
}

// relocate moves bp's map entry from oldAddr to newAddr.
func (l *List) relocate(oldAddr, newAddr uintptr) {
	if bp, ok := l.byAddr[oldAddr]; ok {
		delete(l.byAddr, oldAddr)
		l.byAddr[newAddr] = bp
	}
}
