package action

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
	"github.com/kestrel-dbg/sherlock/tracee"
)

// Prompt is the line editor's prompt string (original_source's DBG_PREFIX,
// "dbg> " without the ANSI color codes readline already supplies).
const Prompt = "dbg> "

// Session is the process-wide state the dispatcher threads through every
// handler (spec.md §9 "Global mutables" — promoted to one explicit
// object instead of C's file-scoped globals).
type Session struct {
	Tracee *tracee.Tracee
	Out    io.Writer
	Log    *logrus.Logger
	RL     *readline.Instance

	// pendingFuncBreaks holds function names the user asked to break on
	// before the symbol was resolved (spec.md §4.I "break func": "if no
	// symbol, ask the user y/N whether to record a pending breakpoint").
	// The original C source stubs this path with a TODO and never
	// implements it; this port carries it through, resolving entries
	// against the symbol table after every dynamic-linker rescan.
	pendingFuncBreaks []string

	Quitting bool
}

// NewSession wraps an already-set-up Tracee for the dispatcher.
func NewSession(t *tracee.Tracee, out io.Writer, log *logrus.Logger, rl *readline.Instance) *Session {
	return &Session{Tracee: t, Out: out, Log: log, RL: rl}
}

// Printf writes a line of debugger output (distinct from the tracee's
// own stdout, which is connected directly in tracee.SetupFromExec).
func (s *Session) Printf(format string, args ...interface{}) {
	fmt.Fprintf(s.Out, format, args...)
}

// Confirm asks a y/N question on the same line editor used for the
// prompt, defaulting to "no" on anything but y/Y (spec.md §4.I `kill`
// and the pending-breakpoint path in `break func`).
func (s *Session) Confirm(prompt string) bool {
	if s.RL == nil {
		return false
	}
	s.RL.SetPrompt(prompt)
	defer s.RL.SetPrompt(Prompt)
	line, err := s.RL.Readline()
	if err != nil {
		return false
	}
	line = strings.TrimSpace(line)
	return line == "y" || line == "Y"
}

// AddPendingFuncBreak records a not-yet-resolved function name.
func (s *Session) AddPendingFuncBreak(name string) {
	s.pendingFuncBreaks = append(s.pendingFuncBreaks, name)
}

// ResolvePending installs a real breakpoint for every pending function
// name the symbol table can now resolve, removing it from the pending
// list (spec.md §8 end-to-end scenario 4 "Dynamic loading"). Called
// after every Resume that didn't exit, since a dynamic-linker rescan may
// have happened inside the event pump.
func (s *Session) ResolvePending() {
	if len(s.pendingFuncBreaks) == 0 {
		return
	}

	remaining := s.pendingFuncBreaks[:0]
	for _, name := range s.pendingFuncBreaks {
		sym, ok := s.Tracee.Table.LookupByName(name)
		if !ok {
			remaining = append(remaining, name)
			continue
		}

		if _, err := s.Tracee.Breakpoints.Set(sym.Addr, sym); err != nil {
			s.Printf("pending breakpoint on '%s' failed: %s\n", name, err)
			continue
		}
		s.Printf("pending breakpoint on '%s' is now active at %#x\n", name, sym.Addr)
	}
	s.pendingFuncBreaks = remaining
}

// regSlice fetches the tracee's current registers, reporting a kernel
// error through the usual channel on failure.
func (s *Session) regSlice() ([]uint64, error) {
	return s.Tracee.PID.GetRegs()
}

// pcAndFP reads the two registers the frame-pointer unwinder needs.
func (s *Session) pcAndFP() (pc, fp uintptr, err error) {
	regs, err := s.regSlice()
	if err != nil {
		return 0, 0, sherlock.KernelError(err)
	}
	return uintptr(regs[arch.PCRegNum]), uintptr(regs[arch.FPRegNum]), nil
}
