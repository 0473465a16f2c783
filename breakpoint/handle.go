package breakpoint

import (
	"github.com/kestrel-dbg/sherlock"
)

// HandleKind classifies the outcome of List.Handle.
type HandleKind int

const (
	// KindForeign means the SIGTRAP did not land on any installed
	// breakpoint (e.g. the tracee raised SIGTRAP itself).
	KindForeign HandleKind = iota
	// KindRendezvous means the trap landed on the dynamic-linker
	// rendezvous breakpoint; the caller (package dynlink) owns the
	// re-scan and reinstall.
	KindRendezvous
	// KindHit means an ordinary user breakpoint fired.
	KindHit
)

// HandleResult is the outcome of List.Handle.
type HandleResult struct {
	Kind HandleKind
	BP   *Breakpoint
	Addr uintptr
}

// Handle processes a software trap: it reads the current PC, rewinds it
// by the trap instruction's width, and classifies the stop (spec.md
// §4.F "Handle"). For an ordinary hit it restores the original byte,
// performs PLT migration if needed, increments the hit counter, and
// marks the breakpoint pending-reinstall. It never resumes the tracee;
// callers (package dynlink for rendezvous, package action for ordinary
// hits) decide what happens next.
func (l *List) Handle() (*HandleResult, error) {
	pc, err := l.pid.PC()
	if err != nil {
		return nil, sherlock.KernelError(err)
	}
	addr := pc - trapInstructionSize

	if l.rendezvous != nil && addr == l.rendezvous.Addr {
		return &HandleResult{Kind: KindRendezvous, Addr: addr}, nil
	}

	bp, found := l.byAddr[addr]
	if !found {
		return &HandleResult{Kind: KindForeign, Addr: addr}, nil
	}

	if err := bp.restore(); err != nil {
		return nil, err
	}
	if err := l.pid.SetPC(addr); err != nil {
		return nil, sherlock.KernelError(err)
	}

	if bp.IsPLTBP {
		if err := l.migratePLT(bp); err != nil {
			return nil, err
		}
		// migratePLT leaves the trap armed at the resolved address the
		// tracee now sits on; lift it so the original instruction runs
		// first, as for any other hit.
		if err := bp.restore(); err != nil {
			return nil, err
		}
	}

	bp.Counter++
	bp.pendingReinstall = true

	return &HandleResult{Kind: KindHit, BP: bp, Addr: bp.Addr}, nil
}

// migratePLT implements spec.md §4.F step 5: single-step repeatedly
// while polling the symbol's GOT slot until its value changes, install
// a fresh breakpoint at the resolved address (reusing bp's id and
// counter), then keep single-stepping until the trampoline has handed
// control to that address.
func (l *List) migratePLT(bp *Breakpoint) error {
	sym := bp.Symbol
	if sym == nil {
		return sherlock.InvariantError("PLT breakpoint at %#x has no bound symbol", bp.Addr)
	}

	oldGotVal := sym.GotVal

	for {
		if err := l.pid.SingleStep(); err != nil {
			return sherlock.KernelError(err)
		}

		data := make([]byte, sherlock.SizeofPtr)
		if err := l.pid.PeekData(sym.GotAddr, data); err != nil {
			return sherlock.KernelError(err)
		}
		newVal := uint64(sherlock.ReadAddress(data))

		if newVal != oldGotVal {
			oldAddr := bp.Addr
			newAddr := uintptr(newVal)

			sym.GotVal = newVal
			sym.Addr = newAddr

			word, err := readWord(l.pid, newAddr)
			if err != nil {
				return sherlock.KernelError(err)
			}

			patched := make([]byte, len(word))
			copy(patched, word)
			copy(patched, trapByte())
			if err := l.pid.PokeText(newAddr, patched); err != nil {
				return sherlock.KernelError(err)
			}

			bp.savedWord = word
			bp.Addr = newAddr
			bp.armed = true
			bp.IsPLTBP = false

			l.relocate(oldAddr, newAddr)
			break
		}
	}

	for {
		pc, err := l.pid.PC()
		if err != nil {
			return sherlock.KernelError(err)
		}
		if pc == bp.Addr {
			return nil
		}
		if err := l.pid.SingleStep(); err != nil {
			return sherlock.KernelError(err)
		}
	}
}

func trapByte() []byte {
	return []byte{0xcc}
}

// Pending returns the breakpoint awaiting reinstall, if any.
func (l *List) Pending() (*Breakpoint, bool) {
	for _, bp := range l.byAddr {
		if bp.pendingReinstall {
			return bp, true
		}
	}
	return nil, false
}

// ReinstallPending implements spec.md §4.F step 7: before the next
// resume, single-step the tracee past a just-handled breakpoint's
// original instruction, then re-arm the trap byte. A no-op when nothing
// is pending.
func (l *List) ReinstallPending() error {
	bp, found := l.Pending()
	if !found {
		return nil
	}

	if err := l.pid.SingleStep(); err != nil {
		return sherlock.KernelError(err)
	}
	if err := bp.rearm(); err != nil {
		return err
	}
	bp.pendingReinstall = false
	return nil
}

// RestoreRendezvous removes the trap byte at the rendezvous breakpoint
// (spec.md §4.F step 2 / §4.G step 3), used by package dynlink before
// re-scanning.
func (l *List) RestoreRendezvous() error {
	if l.rendezvous == nil {
		return sherlock.InvariantError("no rendezvous breakpoint installed")
	}
	return l.rendezvous.restore()
}

// ReinstallRendezvous re-arms the rendezvous breakpoint after a
// re-scan. It single-steps the restored original instruction first
// (mirroring ReinstallPending), since rearming at the PC the tracee is
// about to resume from would re-trap before any progress is made —
// original_source/sherlock/src/breakpoints/breakpoint.c's
// _breakpoint_restore_bp does the same DO_SINGLESTEP before re-poking.
func (l *List) ReinstallRendezvous() error {
	if l.rendezvous == nil {
		return sherlock.InvariantError("no rendezvous breakpoint installed")
	}
	if err := l.pid.SingleStep(); err != nil {
		return sherlock.KernelError(err)
	}
	return l.rendezvous.rearm()
}
