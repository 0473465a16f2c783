package breakpoint

import (
	"math/bits"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
	"github.com/kestrel-dbg/sherlock/proc"
)

// Watchpoint is one installed hardware watchpoint (spec.md §3
// "Watchpoint (hardware)"). This design always uses a 4-byte length
// (spec.md §4.F "here 4-byte").
type Watchpoint struct {
	Slot      int
	Addr      uintptr
	WriteOnly bool
	OldValue  uint32
}

// WatchList owns the four hardware debug-register slots (DR0-DR3),
// grounded on original_source/sherlock/src/breakpoints/watchpoint.c.
type WatchList struct {
	pid   proc.Process
	slots [arch.NumDebugSlots]*Watchpoint
}

// NewWatchList creates an empty hardware watchpoint list.
func NewWatchList(pid proc.Process) *WatchList {
	return &WatchList{pid: pid}
}

// All returns every installed watchpoint, indexed by slot (nil entries
// for free slots).
func (w *WatchList) All() [arch.NumDebugSlots]*Watchpoint {
	return w.slots
}

// Add installs a hardware watchpoint at addr, which must be 4-byte
// aligned. writeOnly selects DR7 mode 01 (write-only) vs 11
// (read/write), matching the `watch`/`rwatch` action handlers.
func (w *WatchList) Add(addr uintptr, writeOnly bool) (*Watchpoint, error) {
	if addr%4 != 0 {
		return nil, sherlock.UserError("watchpoint address %#x is not 4-byte aligned", addr)
	}

	slot := -1
	for i, wp := range w.slots {
		if wp == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, sherlock.UserError("cannot add more watchpoints or hardware breakpoints")
	}

	oldData := make([]byte, 4)
	if err := w.pid.PeekData(addr, oldData); err != nil {
		return nil, sherlock.InaccessibleError("the requested memory address (%#x) is not accessible", addr)
	}

	if err := w.pid.PokeUser(arch.DRSlotOffset(slot), uint64(addr)); err != nil {
		return nil, sherlock.KernelError(err)
	}

	dr7, err := w.pid.PeekUser(arch.DR7Offset)
	if err != nil {
		return nil, sherlock.KernelError(err)
	}

	rw := uint64(arch.DR7RWWrite)
	if !writeOnly {
		rw = arch.DR7RWReadWrite
	}

	dr7 |= 1 << arch.DR7LocalEnableBit(slot)
	dr7 = clearField(dr7, arch.DR7RWShift(slot), 2)
	dr7 |= rw << arch.DR7RWShift(slot)
	dr7 = clearField(dr7, arch.DR7LenShift(slot), 2)
	dr7 |= uint64(arch.DR7LenFor4Bytes) << arch.DR7LenShift(slot)

	if err := w.pid.PokeUser(arch.DR7Offset, dr7); err != nil {
		return nil, sherlock.KernelError(err)
	}

	wp := &Watchpoint{
		Slot:      slot,
		Addr:      addr,
		WriteOnly: writeOnly,
		OldValue:  sherlock.ByteOrder.Uint32(oldData),
	}
	w.slots[slot] = wp
	return wp, nil
}

// Delete clears the enable bit, length field, and r/w field for slot in
// DR7, and zeroes DR[slot].
func (w *WatchList) Delete(slot int) error {
	if slot < 0 || slot >= arch.NumDebugSlots || w.slots[slot] == nil {
		return sherlock.UserError("no watchpoint in slot %d", slot)
	}

	dr7, err := w.pid.PeekUser(arch.DR7Offset)
	if err != nil {
		return sherlock.KernelError(err)
	}

	dr7 &^= 1 << arch.DR7LocalEnableBit(slot)
	dr7 = clearField(dr7, arch.DR7RWShift(slot), 2)
	dr7 = clearField(dr7, arch.DR7LenShift(slot), 2)

	if err := w.pid.PokeUser(arch.DR7Offset, dr7); err != nil {
		return sherlock.KernelError(err)
	}
	if err := w.pid.PokeUser(arch.DRSlotOffset(slot), 0); err != nil {
		return sherlock.KernelError(err)
	}

	w.slots[slot] = nil
	return nil
}

func clearField(v uint64, shift uint32, width uint) uint64 {
	mask := uint64((1<<width)-1) << shift
	return v &^ mask
}

// ReadDR6 reads the debug-status register. A non-zero value in its low
// four bits means a hardware watchpoint fired; this is the test
// spec.md §4.A's wait_event uses to route a SIGTRAP to the watchpoint
// handler instead of the breakpoint handler (§9 open question 2).
func ReadDR6(pid proc.Process) (uint64, error) {
	v, err := pid.PeekUser(arch.DR6Offset)
	if err != nil {
		return 0, sherlock.KernelError(err)
	}
	return v, nil
}

// ClearDR6 resets the debug-status register after a hit has been
// reported, so a later, unrelated SIGTRAP is not misattributed to the
// slot that just fired.
func ClearDR6(pid proc.Process) error {
	return sherlock.KernelError(pid.PokeUser(arch.DR6Offset, 0))
}

// FiringSlot returns the lowest slot index whose bit is set in dr6's low
// four bits, or -1 if none.
func FiringSlot(dr6 uint64) int {
	low := uint32(dr6) & 0xF
	if low == 0 {
		return -1
	}
	return bits.TrailingZeros32(low)
}

// HardwareHit describes an observed watchpoint firing.
type HardwareHit struct {
	Slot     int
	Addr     uintptr
	OldValue uint32
	NewValue uint32
}

// Check reads DR6, resolves the firing slot's address and new value,
// updates the stored OldValue for the next hit, and clears DR6.
// Callers must have already confirmed DR6's low bits are non-zero
// (spec.md §4.A).
func (w *WatchList) Check() (*HardwareHit, error) {
	dr6, err := ReadDR6(w.pid)
	if err != nil {
		return nil, err
	}

	slot := FiringSlot(dr6)
	if slot == -1 {
		return nil, sherlock.InvariantError("Check called with no bits set in DR6")
	}

	wp := w.slots[slot]
	if wp == nil {
		return nil, sherlock.InvariantError("DR6 names slot %d but it has no installed watchpoint", slot)
	}

	data := make([]byte, 4)
	var newVal uint32
	if err := w.pid.PeekData(wp.Addr, data); err != nil {
		// address went unmapped between install and fire: still report
		// the slot, with the last-known value.
		newVal = wp.OldValue
	} else {
		newVal = sherlock.ByteOrder.Uint32(data)
	}

	hit := &HardwareHit{Slot: slot, Addr: wp.Addr, OldValue: wp.OldValue, NewValue: newVal}
	wp.OldValue = newVal

	if err := ClearDR6(w.pid); err != nil {
		return hit, err
	}

	return hit, nil
}
