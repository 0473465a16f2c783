// Command synctrace is the syscall tracer companion (spec.md component
// K). It attaches/execs like cmd/sherlock, then drives the tracee with
// alternating PTRACE_SYSCALL resumes instead of breakpoints, printing
// the syscall (by name where synctrace.Lookup knows it, otherwise as
// syscall_<number>) and its six argument registers on entry and the
// return value on exit.
package main

import (
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
	"github.com/kestrel-dbg/sherlock/proc"
	"github.com/kestrel-dbg/sherlock/synctrace"
	"github.com/kestrel-dbg/sherlock/tracee"
)

var argRegs = []string{"rdi", "rsi", "rdx", "r10", "r8", "r9"}

func main() {
	runtime.LockOSThread()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var pid int
	var execMode bool

	cmd := &cobra.Command{
		Use:           "synctrace (--pid PID | --exec PROGRAM [ARGS...])",
		Short:         "Report every syscall entry/exit made by a traced process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := setupTracee(pid, execMode, args)
			if err != nil {
				return err
			}
			defer t.Close()

			if err := t.PID.SetTraceSyscallOption(); err != nil {
				return err
			}

			return run(t.PID)
		},
	}

	cmd.Flags().SetInterspersed(false)
	cmd.Flags().IntVar(&pid, "pid", 0, "attach to an already-running process")
	cmd.Flags().BoolVar(&execMode, "exec", false, "launch PROGRAM [ARGS...] under the tracer")

	return cmd
}

func setupTracee(pid int, execMode bool, args []string) (*tracee.Tracee, error) {
	if pid != 0 {
		return tracee.SetupFromPID(pid)
	}
	if execMode {
		if len(args) == 0 {
			return nil, sherlock.UserError("--exec requires a program to run")
		}
		return tracee.SetupFromExec(args)
	}
	return nil, sherlock.UserError("invalid usage: one of --pid or --exec is required")
}

// run alternates entry/exit syscall-stops (spec.md's "using
// PTRACE_O_TRACESYSGOOD and alternating PTRACE_SYSCALL resumes
// (entry/exit pairs)") until the tracee exits.
func run(pid proc.Process) error {
	entry := true
	var fwd syscall.Signal

	for {
		if fwd != 0 {
			if err := syscall.PtraceSyscall(int(pid), int(fwd)); err != nil {
				return sherlock.KernelError(err)
			}
			fwd = 0
		} else if err := pid.Syscall(); err != nil {
			return err
		}

		var status syscall.WaitStatus
		wpid, err := pid.Wait(&status, 2*time.Second)
		if err != nil {
			return err
		}
		if wpid == 0 {
			continue
		}

		if status.Exited() {
			fmt.Printf("tracee exited with status %d\n", status.ExitStatus())
			return nil
		}
		if status.Signaled() {
			fmt.Printf("tracee killed by signal %s\n", status.Signal())
			return nil
		}
		if !status.Stopped() {
			continue
		}

		sig := status.StopSignal()
		if sig&0x80 == 0 {
			// Not a syscall-stop (PTRACE_O_TRACESYSGOOD sets the high
			// bit) — an ordinary signal landed instead; forward it.
			if sig != syscall.SIGTRAP {
				fwd = sig
			}
			continue
		}

		regs, err := pid.GetRegs()
		if err != nil {
			return err
		}

		if entry {
			reportEntry(regs)
		} else {
			reportExit(regs)
		}
		entry = !entry
	}
}

func reportEntry(regs []uint64) {
	nr, _ := arch.RegIndex("orig_rax")
	syscallNr := regs[nr]

	name := synctrace.Lookup(syscallNr)
	if name == "" {
		name = fmt.Sprintf("syscall_%d", syscallNr)
	}

	fmt.Printf("%s(", name)
	for i, reg := range argRegs {
		idx, _ := arch.RegIndex(reg)
		if i > 0 {
			fmt.Printf(", ")
		}
		fmt.Printf("%#x", regs[idx])
	}
	fmt.Printf(")")
}

func reportExit(regs []uint64) {
	idx, _ := arch.RegIndex("rax")
	fmt.Printf(" = %#x\n", regs[idx])
}
