// Package unwind implements the `backtrace`/`bt` action (spec.md §4.J)
// without DWARF CFI (spec non-goal: no debug-info-driven unwinding).
// The original debugger (original_source/sherlock/src/actions/backtrace.c)
// walks libunwind-ptrace's remote cursor; since DWARF is out of scope here,
// this package instead walks the classic x86-64 frame-pointer chain
// (rbp -> saved rbp, rbp+8 -> return address). For a binary built
// without -fomit-frame-pointer this is exact once the current function's
// prologue has run. When the tracee is stopped before that prologue (for
// example on a breakpoint at a function's first instruction), rbp still
// belongs to the caller, so the caller's own frame is missing from the
// walk. Without frame pointers the walk ends early (a short backtrace).
package unwind

import (
	"github.com/kestrel-dbg/sherlock/elfinfo"
	"github.com/kestrel-dbg/sherlock/proc"
)

// Frame is one resolved stack frame.
type Frame struct {
	PC     uintptr
	Symbol *elfinfo.Symbol
	Offset uintptr // PC - Symbol.Addr, valid only if Symbol != nil
}

// Unwinder is the thin stepping interface backtrace's loop drives,
// mirroring libunwind's unw_step/unw_get_reg split closely enough that a
// DWARF-CFI-based unwinder could be dropped in later without touching
// the Backtrace helper below.
type Unwinder interface {
	// Frame returns the frame at the cursor's current position.
	Frame() Frame
	// Step advances to the caller's frame, returning false once there is
	// no further frame to unwind (top of stack, or the chain broke).
	Step() bool
}

// maxFrames bounds a walk against a corrupted or cyclic frame-pointer
// chain; the original's libunwind cursor has no such cap, but unwinding
// raw memory without CFI has no other way to detect a loop.
const maxFrames = 256

// FramePointerUnwinder walks rbp-chained stack frames in a live tracee.
type FramePointerUnwinder struct {
	pid   proc.Process
	table *elfinfo.Table

	pc   uintptr
	bp   uintptr
	done bool
}

// NewFramePointerUnwinder starts a cursor at the tracee's current pc/rbp.
func NewFramePointerUnwinder(pid proc.Process, table *elfinfo.Table, pc, bp uintptr) *FramePointerUnwinder {
	return &FramePointerUnwinder{pid: pid, table: table, pc: pc, bp: bp}
}

// Frame resolves the cursor's current pc against the symbol table.
func (u *FramePointerUnwinder) Frame() Frame {
	f := Frame{PC: u.pc}
	if sym, ok := u.table.LookupByAddr(u.pc); ok {
		f.Symbol = sym
		f.Offset = u.pc - sym.Addr
	}
	return f
}

// Step follows the frame-pointer chain one level up: the saved rbp lives
// at [bp], the return address at [bp+8] (System V AMD64 prologue
// `push rbp; mov rbp, rsp`). It stops at a zero return address (the
// bottom of main's frame, whose saved rbp is conventionally zeroed by
// the CRT) or when either read is inaccessible.
func (u *FramePointerUnwinder) Step() bool {
	if u.done {
		return false
	}

	retAddr, err := u.pid.ReadAddressAt(u.bp + 8)
	if err != nil || retAddr == 0 {
		u.done = true
		return false
	}

	savedBP, err := u.pid.ReadAddressAt(u.bp)
	if err != nil {
		u.done = true
		return false
	}

	u.pc = retAddr
	u.bp = savedBP
	return true
}

// Backtrace drains an Unwinder into a frame list, innermost first,
// capped at maxFrames (spec.md §4.J "backtrace" prints until the chain
// ends).
func Backtrace(u Unwinder) []Frame {
	frames := make([]Frame, 0, 16)
	frames = append(frames, u.Frame())

	for len(frames) < maxFrames && u.Step() {
		frames = append(frames, u.Frame())
	}

	return frames
}
