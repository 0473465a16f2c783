// Command libtrace is the library-call tracer companion (spec.md
// component K: "library-call tracer that reports each PLT-mediated
// external call"). It attaches/execs exactly like cmd/sherlock, then
// installs a breakpoint at every dynamic symbol's current PLT/GOT target
// and prints the six integer argument registers on each hit before
// resuming — no DWARF, so argument values only, never types.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
	"github.com/kestrel-dbg/sherlock/tracee"
)

// argRegs are the first six integer argument registers in x86-64 System
// V calling-convention order.
var argRegs = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}

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
		Use:           "libtrace (--pid PID | --exec PROGRAM [ARGS...])",
		Short:         "Report every PLT-mediated external call made by a traced process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := setupTracee(pid, execMode, args)
			if err != nil {
				return err
			}
			defer t.Close()

			return run(t)
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

// run installs a breakpoint at every dynamic symbol's current address
// and resumes the tracee until it exits, printing each hit.
func run(t *tracee.Tracee) error {
	for _, sym := range t.Table.LookupByNamePrefix("") {
		if !sym.DynSym {
			continue
		}
		if sym.Addr == 0 {
			continue // unresolved GLOB_DAT: no address yet, and no breakpoint is added for it later
		}
		if _, err := t.Breakpoints.Set(sym.Addr, sym); err != nil {
			continue // e.g. two symbols sharing a PLT stub
		}
	}

	for {
		ev, err := t.Resume(0)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case tracee.EventExited:
			fmt.Printf("tracee exited with status %d\n", ev.ExitCode)
			return nil
		case tracee.EventBreakpointHit:
			if err := reportCall(t, ev); err != nil {
				return err
			}
		}
	}
}

func reportCall(t *tracee.Tracee, ev *tracee.Event) error {
	name := "?"
	if ev.BP.Symbol != nil {
		name = ev.BP.Symbol.Name
	}

	regs, err := t.PID.GetRegs()
	if err != nil {
		return err
	}

	args := make([]string, len(argRegs))
	for i, reg := range argRegs {
		idx, _ := arch.RegIndex(reg)
		args[i] = fmt.Sprintf("%#x", regs[idx])
	}

	fmt.Printf("%s(%s)\n", name, strings.Join(args, ", "))
	return nil
}
