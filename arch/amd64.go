// +build amd64

// Package arch holds x86-64 constants used throughout the debugger: the
// trap-instruction byte, ptrace register-slice indices, the debug
// register (DR0-DR7) layout for hardware watchpoints, and the plain
// register name table used by the print/info action handlers.
package arch

// TrapInstruction contains the int3 trap instruction for x86-64 platform.
var TrapInstruction = []byte{0xcc} // int3

// https://github.com/torvalds/linux/blob/master/arch/x86/include/uapi/asm/ptrace.h#L44
// Indexes into the register slice returned by Process.GetRegs.
const (
	PCRegNum = 16 // rip
	SPRegNum = 19 // rsp
	FPRegNum = 4  // rbp
)

// RegNames lists every general-purpose and segment register in the
// order sherlock's `print reg all` / `info reg` commands report them:
// segment registers and eflags first, then the general-purpose
// registers. This is not struct user_regs_struct's field order; see
// regIndex for that.
var RegNames = []string{
	"cs", "ds", "es", "fs", "gs", "ss", "eflags",
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi",
	"rsp", "rbp", "rip",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// addrRegs holds the subset of RegNames that print as hex addresses
// rather than signed decimal, mirroring print.c's PRINT_REG_ADDR_STR.
var addrRegs = map[string]bool{"rsp": true, "rbp": true, "rip": true}

// IsAddrRegister reports whether name should be formatted as a hex
// address instead of a decimal integer.
func IsAddrRegister(name string) bool {
	return addrRegs[name]
}

// RegIndex maps from a register mnemonic to its index in the slice
// returned by Process.GetRegs, following the same field order as
// struct user_regs_struct (r15 first, cs/ss last) that
// syscall.PtraceRegs mirrors.
var regIndex = map[string]int{
	"r15": 0, "r14": 1, "r13": 2, "r12": 3, "rbp": 4, "rbx": 5,
	"r11": 6, "r10": 7, "r9": 8, "r8": 9, "rax": 10, "rcx": 11,
	"rdx": 12, "rsi": 13, "rdi": 14, "orig_rax": 15, "rip": 16,
	"cs": 17, "eflags": 18, "rsp": 19, "ss": 20, "fs_base": 21,
	"gs_base": 22, "ds": 23, "es": 24, "fs": 25, "gs": 26,
}

// RegIndex returns the slice index for a register mnemonic and whether
// it is known.
func RegIndex(name string) (int, bool) {
	i, ok := regIndex[name]
	return i, ok
}

// Debug register (DR0-DR7) support for hardware watchpoints.
//
// DRDebugRegOffset is offsetof(struct user, u_debugreg) on x86-64 Linux:
// struct user starts with struct user_regs_struct regs (27 * 8 bytes),
// then int u_fpvalid (padded to 8), struct user_fpregs_struct i387
// (512 bytes), unsigned long u_tsize/u_dsize/u_ssize/start_code/
// start_stack (5 * 8), long signal (8), int reserved (padded 8),
// a pointer u_ar0 (8), struct user_fpregs_struct *u_fpstate (8),
// unsigned long magic (8), char u_comm[32] (32), then u_debugreg[8].
//
//	27*8 + 8 + 512 + 5*8 + 8 + 8 + 8 + 8 + 8 + 32 = 848
const DRDebugRegOffset = 848

// NumDebugSlots is the number of hardware breakpoint/watchpoint slots
// (DR0-DR3).
const NumDebugSlots = 4

// DRSlotOffset returns the PTRACE_PEEKUSER/POKEUSER offset of DR[slot].
func DRSlotOffset(slot int) uintptr {
	return DRDebugRegOffset + uintptr(slot)*8
}

// DR6Offset is the PEEKUSER/POKEUSER offset of the debug status
// register DR6.
const DR6Offset = DRDebugRegOffset + 6*8

// DR7Offset is the PEEKUSER/POKEUSER offset of the debug control
// register DR7.
const DR7Offset = DRDebugRegOffset + 7*8

// DR7 bit layout, per the Intel SDM and watchpoint.c's DR7_* macros.
const (
	dr7RWShiftBase  = 16
	dr7LenShiftBase = 18
)

// DR7LocalEnableBit returns the bit index of the local-enable flag for
// the given debug register slot (0-3).
func DR7LocalEnableBit(slot int) uint32 {
	return uint32(2 * slot)
}

// DR7RWShift returns the bit offset of the 2-bit read/write-mode field
// for the given slot.
func DR7RWShift(slot int) uint32 {
	return uint32(dr7RWShiftBase + 4*slot)
}

// DR7LenShift returns the bit offset of the 2-bit length field for the
// given slot.
func DR7LenShift(slot int) uint32 {
	return uint32(dr7LenShiftBase + 4*slot)
}

// DR7 read/write-mode field values.
const (
	DR7RWExecute  = 0b00
	DR7RWWrite    = 0b01
	DR7RWReadWrite = 0b11
)

// DR7LenFor4Bytes is the length-field encoding for a 4-byte watchpoint,
// the only length this design installs (spec.md §4.F: "here 4-byte").
const DR7LenFor4Bytes = 0b11
