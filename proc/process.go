// Package proc wraps the Linux process-tracing primitive (ptrace) and
// /proc/PID reading behind a small Process type, adapted from the
// teacher's common.Process but trimmed to the single-tracee-process
// model (spec non-goal: no multi-threaded/multi-process tracees) and
// extended with debug-register (PEEKUSER/POKEUSER) access for hardware
// watchpoints.
package proc

import (
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
)

// Process is a single traced pid. The debugger traces exactly one
// process (spec.md §1 non-goals), so unlike the teacher's Process this
// type carries no thread-group machinery.
type Process int

// GetRunningProcesses returns the PIDs of running processes.
func GetRunningProcesses() []Process {
	procdirs, _ := ioutil.ReadDir("/proc")
	processes := make([]Process, 0, len(procdirs))

	for _, dir := range procdirs {
		pid, err := strconv.Atoi(dir.Name())
		if err != nil {
			continue
		}

		processes = append(processes, Process(pid))
	}

	return processes
}

// GetProcessesByName returns the PIDs of processes with the provided
// /proc/PID/comm name.
func GetProcessesByName(name string) (results []Process) {
	for _, pid := range GetRunningProcesses() {
		procname, err := pid.Comm()
		if err == nil && procname == name {
			results = append(results, pid)
		}
	}
	return
}

// Comm reads the short process name from /proc/PID/comm.
func (pid Process) Comm() (string, error) {
	raw, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", sherlock.Error(err)
	}
	return strings.TrimSuffix(string(raw), "\n"), nil
}

// ExePath resolves the /proc/PID/exe symlink to the executable path.
func (pid Process) ExePath() (string, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", sherlock.Error(err)
	}
	return path, nil
}

// Attach starts tracing the process. Unlike the teacher's thread-aware
// Attach, this traces only the single pid handed to it.
func (pid Process) Attach() error {
	err := syscall.PtraceAttach(int(pid))
	if err != nil {
		return sherlock.KernelError(err)
	}

	if err := pid.simpleWait(time.Second); err != nil {
		return sherlock.KernelError(err)
	}

	return sherlock.KernelError(pid.setOptions(syscall.PTRACE_O_EXITKILL))
}

// SetTraceExecOption additionally arms PTRACE_O_TRACEEXEC, used by the
// fork/exec bootstrap (tracee.SetupFromExec) to catch the post-exec
// SIGTRAP sentinel.
func (pid Process) SetTraceExecOption() error {
	return sherlock.KernelError(pid.setOptions(syscall.PTRACE_O_EXITKILL | syscall.PTRACE_O_TRACEEXEC))
}

// SetTraceSyscallOption arms PTRACE_O_TRACESYSGOOD, which sets bit 7 on
// the stop signal of a syscall-entry/exit trap so it can be told apart
// from an ordinary SIGTRAP (used by cmd/synctrace).
func (pid Process) SetTraceSyscallOption() error {
	return sherlock.KernelError(pid.setOptions(syscall.PTRACE_O_EXITKILL | syscall.PTRACE_O_TRACESYSGOOD))
}

// Syscall resumes the process until the next syscall-entry or -exit stop
// (PTRACE_SYSCALL), delivering no signal.
func (pid Process) Syscall() error {
	return sherlock.KernelError(syscall.PtraceSyscall(int(pid), 0))
}

// Detach stops tracing the process.
func (pid Process) Detach() error {
	return sherlock.KernelError(syscall.PtraceDetach(int(pid)))
}

// Wait waits for a trace event (signal or breakpoint stop), returning
// the pid that stopped (== pid, since this is single-process) or 0 on
// timeout.
func (pid Process) Wait(status *syscall.WaitStatus, timeout time.Duration) (Process, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return 0, nil
		default:
		}

		wpid, err := syscall.Wait4(int(pid), status, syscall.WALL|syscall.WUNTRACED|syscall.WNOHANG, nil)
		if err != nil {
			return 0, sherlock.KernelError(err)
		}

		if wpid <= 0 {
			runtime.Gosched()
			continue
		}

		return Process(wpid), nil
	}
}

func (pid Process) simpleWait(timeout time.Duration) error {
	var status syscall.WaitStatus
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return sherlock.Errorf("timeout waiting for pid %d", pid)
		default:
		}

		wpid, err := syscall.Wait4(int(pid), &status, syscall.WALL|syscall.WUNTRACED|syscall.WNOHANG, nil)
		if err != nil {
			return sherlock.KernelError(err)
		}

		if wpid <= 0 {
			runtime.Gosched()
			continue
		}

		return nil
	}
}

// Cont resumes the traced process delivering no signal.
func (pid Process) Cont() error {
	return pid.ContWithSig(0)
}

// ContWithSig resumes the traced process, forwarding sig (0 for none).
func (pid Process) ContWithSig(sig syscall.Signal) error {
	return sherlock.KernelError(syscall.PtraceCont(int(pid), int(sig)))
}

// Interrupt sends SIGSTOP and waits for the process to stop.
func (pid Process) Interrupt() error {
	if err := syscall.Kill(int(pid), syscall.SIGSTOP); err != nil {
		return sherlock.KernelError(err)
	}
	return sherlock.KernelError(pid.simpleWait(time.Second))
}

// TrapTrace is si_code's value (linux/siginfo.h TRAP_TRACE) when a
// SIGTRAP was raised by single-step completion rather than a trap
// instruction or a debug-register match.
const TrapTrace = 2

// sizeofSiginfoT is sizeof(siginfo_t) on x86-64 Linux; si_code sits at
// byte offset 8 (si_signo, si_errno are each a 4-byte int ahead of it).
const sizeofSiginfoT = 128

// GetSigInfo reports the signal-info code for the pending stop signal,
// used to distinguish TRAP_TRACE (single-step completion) from a
// breakpoint/watchpoint trap on SIGTRAP (spec.md §4.A). x/sys/unix has
// no typed wrapper for PTRACE_GETSIGINFO, so this issues the raw
// syscall directly, as golang-debug's ptrace demo does for other
// untyped ptrace requests.
func (pid Process) GetSigInfo() (code int32, err error) {
	buf := make([]byte, sizeofSiginfoT)
	_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, uintptr(syscall.PTRACE_GETSIGINFO),
		uintptr(pid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if errno != 0 {
		return 0, sherlock.KernelError(errno)
	}
	return int32(sherlock.ByteOrder.Uint32(buf[8:12])), nil
}

// GetRegs returns the register values of the process as a slice
// indexed per arch.RegIndex. Fixes a bug present in the teacher's
// common.Process.GetRegs, which built the slice via reflection but
// then returned (nil, nil) instead of the populated slice.
func (pid Process) GetRegs() ([]uint64, error) {
	var pregs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(int(pid), &pregs); err != nil {
		return nil, sherlock.KernelError(err)
	}

	val := reflect.ValueOf(pregs)
	regs := make([]uint64, val.NumField())
	for i := range regs {
		regs[i] = val.Field(i).Uint()
	}

	return regs, nil
}

// SetRegs sets the registers of the process from a slice in the same
// order as GetRegs.
func (pid Process) SetRegs(regs []uint64) error {
	var pregs syscall.PtraceRegs

	val := reflect.ValueOf(&pregs).Elem()
	n := val.NumField()
	if len(regs) < n {
		return sherlock.Errorf("short register slice: got %d, want %d", len(regs), n)
	}

	for i := 0; i < n; i++ {
		val.Field(i).SetUint(regs[i])
	}

	return sherlock.KernelError(syscall.PtraceSetRegs(int(pid), &pregs))
}

// PC returns the current instruction pointer.
func (pid Process) PC() (uintptr, error) {
	regs, err := pid.GetRegs()
	if err != nil {
		return 0, err
	}
	return uintptr(regs[arch.PCRegNum]), nil
}

// SetPC sets the instruction pointer.
func (pid Process) SetPC(pc uintptr) error {
	regs, err := pid.GetRegs()
	if err != nil {
		return err
	}
	regs[arch.PCRegNum] = uint64(pc)
	return pid.SetRegs(regs)
}

// PeekText reads one word from the tracee's text at addr. Word-sized:
// callers that need a single byte patch must read the word, modify one
// byte, and write the word back (spec.md §9 "byte-patch over raw
// pointers").
func (pid Process) PeekText(addr uintptr) ([]byte, error) {
	out := make([]byte, sherlock.SizeofPtr)
	_, err := syscall.PtracePeekText(int(pid), addr, out)
	if err != nil {
		return nil, sherlock.KernelError(err)
	}
	return out, nil
}

// PokeText writes one word to the tracee's text at addr.
func (pid Process) PokeText(addr uintptr, data []byte) error {
	_, err := syscall.PtracePokeText(int(pid), addr, data)
	return sherlock.KernelError(err)
}

// PeekData reads arbitrary-length data from the process' memory.
func (pid Process) PeekData(addr uintptr, out []byte) error {
	_, err := syscall.PtracePeekData(int(pid), addr, out)
	return sherlock.KernelError(err)
}

// PokeData writes arbitrary-length data to the process' memory.
func (pid Process) PokeData(addr uintptr, data []byte) error {
	_, err := syscall.PtracePokeData(int(pid), addr, data)
	return sherlock.KernelError(err)
}

// ReadAddressAt reads a pointer-sized value from the pointed-to
// location.
func (pid Process) ReadAddressAt(addr uintptr) (uintptr, error) {
	data := make([]byte, sherlock.SizeofPtr)
	if err := pid.PeekData(addr, data); err != nil {
		return 0, err
	}
	return sherlock.ReadAddress(data), nil
}

// ReadCString reads a NUL-terminated string out of the tracee's memory
// starting at addr, one word at a time (ptrace has no bulk string read).
// Used by package dynlink to read a link_map's l_name when walking the
// dynamic linker's loaded-library list.
func (pid Process) ReadCString(addr uintptr) (string, error) {
	var out []byte
	buf := make([]byte, sherlock.SizeofPtr)

	for {
		if err := pid.PeekData(addr, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
		addr += uintptr(len(buf))

		if len(out) > 4096 {
			return "", sherlock.InvariantError("l_name at %#x has no terminating NUL within 4096 bytes", addr)
		}
	}
}

// PeekUser reads a machine word from the tracee's struct user at the
// given byte offset. Used exclusively for debug-register access
// (arch.DRSlotOffset / DR6Offset / DR7Offset); stdlib syscall has no
// wrapper for PTRACE_PEEKUSR, so this goes through golang.org/x/sys/unix.
func (pid Process) PeekUser(offset uintptr) (uint64, error) {
	buf := make([]byte, 8)
	_, err := unix.PtracePeekUser(int(pid), offset, buf)
	if err != nil {
		return 0, sherlock.KernelError(err)
	}
	return sherlock.ByteOrder.Uint64(buf), nil
}

// PokeUser writes a machine word into the tracee's struct user at the
// given byte offset.
func (pid Process) PokeUser(offset uintptr, value uint64) error {
	buf := make([]byte, 8)
	sherlock.ByteOrder.PutUint64(buf, value)
	_, err := unix.PtracePokeUser(int(pid), offset, buf)
	return sherlock.KernelError(err)
}

func (pid Process) setOptions(options int) error {
	return syscall.PtraceSetOptions(int(pid), options)
}

// SingleStep makes the process execute a single instruction and stop
// again.
func (pid Process) SingleStep() error {
	if err := syscall.PtraceSingleStep(int(pid)); err != nil {
		return sherlock.KernelError(err)
	}
	return sherlock.KernelError(pid.simpleWait(time.Second))
}
