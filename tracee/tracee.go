// Package tracee is the tracee controller (spec.md §4.A): it owns the
// attach/exec bootstrap, the single-threaded event pump that classifies
// every stop, and routes software traps to the breakpoint engine or the
// dynamic-linker bridge before ever reporting an event to the action
// layer. Grounded on the teacher's common/tracer.go (WaitForEvent's
// event-classification shape) and on the exec-bootstrap idiom found in
// other_examples/c4480aa0_pmorie-delve__proctl-proctl.go.go (os/exec
// with SysProcAttr{Ptrace: true} rather than a hand-rolled fork/pipe
// dance, since PTRACE_TRACEME already gives the same "child stopped
// right after its own execve" guarantee the original's pipe handshake
// was built to provide, and Go's runtime does not support a bare
// fork() safely outside of os/exec's own forkAndExecInChild).
//
// Unlike the teacher's common/tracemgr.go, there is no goroutine or
// request channel here: the line-based REPL that drives this package
// has no concurrent caller to decouple from, so the event pump simply
// runs on the calling goroutine (see SPEC_FULL.md §5).
package tracee

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/breakpoint"
	"github.com/kestrel-dbg/sherlock/dynlink"
	"github.com/kestrel-dbg/sherlock/elfinfo"
	"github.com/kestrel-dbg/sherlock/proc"
)

// State is the tracee state machine (spec.md §3 "Tracee state").
type State int

const (
	StateInit State = iota
	StateRunning
	StateStopped
	StateKilled
	StateErr
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateKilled:
		return "killed"
	case StateErr:
		return "err"
	default:
		return "unknown"
	}
}

// EventKind classifies what the event pump observed.
type EventKind int

const (
	// EventExited means the tracee ran to completion or died from a signal.
	EventExited EventKind = iota
	// EventStoppedSignal means the tracee stopped on a non-SIGTRAP signal,
	// which the action layer may choose to forward on the next resume.
	EventStoppedSignal
	// EventExecTrap means the exec-bootstrap's post-execve stop (spec.md
	// §4.A "waits for the exec-trap event").
	EventExecTrap
	// EventBreakpointHit means an ordinary user breakpoint fired.
	EventBreakpointHit
	// EventWatchpointHit means a user-installed hardware watchpoint fired.
	EventWatchpointHit
	// EventForeignTrap means a SIGTRAP landed nowhere the engine recognizes.
	EventForeignTrap
)

// Event is what Resume/Step report back to the action layer after
// internally absorbing every trap that needs no user-visible reaction
// (single-step completions, the dynamic-linker rendezvous, the DT_DEBUG
// watchpoint).
type Event struct {
	Kind     EventKind
	Signal   syscall.Signal
	ExitCode int
	BP       *breakpoint.Breakpoint
	Watch    *breakpoint.HardwareHit
}

// pollInterval bounds each Wait4 poll; the pump loops across polls until
// a real event or exit arrives, so this only affects how promptly a
// SIGINT-driven shutdown is noticed between polls.
const pollInterval = 2 * time.Second

// Tracee is one attached or launched session: the process id, its
// resolved identity, the parsed symbol table, and the three
// collaborating engines (breakpoints, watchpoints, dynamic-linker
// bridge) that the event pump dispatches into.
type Tracee struct {
	PID     proc.Process
	ExePath string
	Comm    string
	VABase  uintptr

	Table       *elfinfo.Table
	Breakpoints *breakpoint.List
	Watches     *breakpoint.WatchList
	Bridge      *dynlink.Bridge

	State State

	cmd *exec.Cmd // non-nil only for SetupFromExec; Close detaches only when it is nil
}

// SetupFromPID attaches to an already-running process (spec.md §4.A
// "setup_from_pid").
func SetupFromPID(pid int) (*Tracee, error) {
	p := proc.Process(pid)
	if err := p.Attach(); err != nil {
		return nil, err
	}

	t, err := newSession(p, nil)
	if err != nil {
		p.Detach()
		return nil, err
	}
	return t, nil
}

// SetupFromExec launches argv[0] with argv[1:] as arguments, stopped at
// its own post-execve trap, ready for breakpoints to be installed before
// the first `run` (spec.md §4.A "setup_from_exec").
func SetupFromExec(argv []string) (*Tracee, error) {
	if len(argv) == 0 {
		return nil, sherlock.UserError("no program given to exec")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Args = argv
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, sherlock.KernelError(err)
	}

	p := proc.Process(cmd.Process.Pid)

	var status syscall.WaitStatus
	wpid, err := p.Wait(&status, 5*time.Second)
	if err != nil || wpid == 0 {
		cmd.Process.Kill()
		if err == nil {
			err = sherlock.KernelError("timed out waiting for the exec trap")
		}
		return nil, err
	}

	if err := p.SetTraceExecOption(); err != nil {
		cmd.Process.Kill()
		return nil, err
	}

	t, err := newSession(p, cmd)
	if err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	return t, nil
}

func newSession(p proc.Process, cmd *exec.Cmd) (*Tracee, error) {
	exePath, err := p.ExePath()
	if err != nil {
		return nil, err
	}
	comm, _ := p.Comm()

	regions, err := p.MemRegions()
	if err != nil {
		return nil, err
	}
	vaBase, _ := proc.LoadBase(regions, exePath)

	gotReader := func(addr uintptr) (uint64, error) {
		data := make([]byte, sherlock.SizeofPtr)
		if err := p.PeekData(addr, data); err != nil {
			return 0, err
		}
		return uint64(sherlock.ReadAddress(data)), nil
	}

	table, err := elfinfo.Load(exePath, vaBase, gotReader)
	if err != nil {
		return nil, err
	}

	bps := breakpoint.NewList(p)
	watches := breakpoint.NewWatchList(p)
	bridge := dynlink.NewBridge(p, table, bps, watches)
	if err := bridge.Setup(); err != nil {
		table.Close()
		return nil, err
	}

	return &Tracee{
		PID:         p,
		ExePath:     exePath,
		Comm:        comm,
		VABase:      vaBase,
		Table:       table,
		Breakpoints: bps,
		Watches:     watches,
		Bridge:      bridge,
		State:       StateStopped,
		cmd:         cmd,
	}, nil
}

// Resume implements the `run` action: reinstall any pending breakpoint,
// continue, and pump events until one is worth reporting.
func (t *Tracee) Resume(sig syscall.Signal) (*Event, error) {
	if err := t.Breakpoints.ReinstallPending(); err != nil {
		return nil, err
	}
	if err := t.PID.ContWithSig(sig); err != nil {
		t.State = StateErr
		return nil, sherlock.KernelError(err)
	}
	t.State = StateRunning
	return t.pump()
}

// Step implements the `step` action: reinstall any pending breakpoint,
// then single-step exactly one instruction (spec.md §4.I "Same pending
// handling; SINGLESTEP"). Unlike Resume, a single step needs no event
// pump: proc.SingleStep already waits for its own completion.
func (t *Tracee) Step() (*Event, error) {
	if err := t.Breakpoints.ReinstallPending(); err != nil {
		return nil, err
	}
	if err := t.PID.SingleStep(); err != nil {
		t.State = StateErr
		return nil, sherlock.KernelError(err)
	}
	t.State = StateStopped
	return &Event{Kind: EventStoppedSignal, Signal: syscall.SIGTRAP}, nil
}

// Kill implements the `kill` action.
func (t *Tracee) Kill() error {
	if err := syscall.Kill(int(t.PID), syscall.SIGKILL); err != nil {
		return sherlock.KernelError(err)
	}
	t.State = StateKilled
	return nil
}

// Close releases the symbol table's ELF handle and, for an attached (not
// launched) tracee, detaches so the target process is left running.
func (t *Tracee) Close() error {
	var errs []error

	if t.cmd == nil {
		if err := t.PID.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.Table.Close(); err != nil {
		errs = append(errs, err)
	}

	return sherlock.MergeErrors(errs)
}

// pump blocks across Wait4 polls, absorbing every trap the engines can
// resolve on their own (single-step-driven PLT migration has already
// happened inside Breakpoints.Handle; here we additionally absorb the
// DT_DEBUG watchpoint and the rendezvous breakpoint), and returns the
// first event the action layer must react to.
func (t *Tracee) pump() (*Event, error) {
	for {
		var status syscall.WaitStatus
		wpid, err := t.PID.Wait(&status, pollInterval)
		if err != nil {
			t.State = StateErr
			return nil, err
		}
		if wpid == 0 {
			continue
		}

		if status.Exited() {
			t.State = StateKilled
			return &Event{Kind: EventExited, ExitCode: status.ExitStatus()}, nil
		}
		if status.Signaled() {
			t.State = StateKilled
			return &Event{Kind: EventExited, ExitCode: -1, Signal: status.Signal()}, nil
		}
		if !status.Stopped() {
			t.State = StateErr
			return nil, sherlock.InvariantError("wait returned neither stopped nor exited status: %v", status)
		}

		sig := status.StopSignal()
		if sig != syscall.SIGTRAP {
			t.State = StateStopped
			return &Event{Kind: EventStoppedSignal, Signal: sig}, nil
		}

		if status.TrapCause() == syscall.PTRACE_EVENT_EXEC {
			t.State = StateStopped
			return &Event{Kind: EventExecTrap}, nil
		}

		absorbed, event, err := t.dispatchTrap()
		if err != nil {
			t.State = StateErr
			return nil, err
		}
		if absorbed {
			continue
		}

		t.State = StateStopped
		return event, nil
	}
}

// dispatchTrap implements spec.md §9's resolved open question: on every
// SIGTRAP, read the debug-status register first; a set low bit routes to
// the watchpoint handler (first checking whether it is the internal
// DT_DEBUG slot, which the dynamic-linker bridge consumes silently),
// otherwise the trap routes to the breakpoint handler (which itself
// distinguishes the internal rendezvous breakpoint from an ordinary
// hit). absorbed is true when the pump should keep waiting without
// reporting anything to the caller.
func (t *Tracee) dispatchTrap() (absorbed bool, event *Event, err error) {
	if dr6, derr := breakpoint.ReadDR6(t.PID); derr == nil {
		if slot := breakpoint.FiringSlot(dr6); slot != -1 {
			wp := t.Watches.All()[slot]
			if wp != nil && t.Bridge.IsDebugSlot(wp.Addr) {
				if err := t.Bridge.HandleDebugSlotHit(slot); err != nil {
					return false, nil, err
				}
				if err := breakpoint.ClearDR6(t.PID); err != nil {
					return false, nil, err
				}
				if err := t.PID.Cont(); err != nil {
					return false, nil, sherlock.KernelError(err)
				}
				return true, nil, nil
			}

			hit, err := t.Watches.Check()
			if err != nil {
				return false, nil, err
			}
			return false, &Event{Kind: EventWatchpointHit, Watch: hit}, nil
		}
	}

	res, err := t.Breakpoints.Handle()
	if err != nil {
		return false, nil, err
	}

	switch res.Kind {
	case breakpoint.KindRendezvous:
		if err := t.Bridge.HandleRendezvousHit(res.Addr); err != nil {
			return false, nil, err
		}
		return true, nil, nil

	case breakpoint.KindForeign:
		return false, &Event{Kind: EventForeignTrap}, nil

	default: // breakpoint.KindHit
		return false, &Event{Kind: EventBreakpointHit, BP: res.BP}, nil
	}
}
