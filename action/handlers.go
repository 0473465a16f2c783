package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrel-dbg/sherlock"
	"github.com/kestrel-dbg/sherlock/arch"
	"github.com/kestrel-dbg/sherlock/tracee"
	"github.com/kestrel-dbg/sherlock/unwind"
)

// RegisterAll builds the full action table (spec.md §4.I), one Def per
// row of its contract table.
func RegisterAll() []*Def {
	return []*Def{
		registerRun(),
		registerStep(),
		registerBreak(),
		registerKill(),
		registerPrint(),
		registerInfo(),
		registerBacktrace(),
		registerWatch(),
		registerRwatch(),
		registerDelete(),
		registerHelp(),
	}
}

// parseArg accepts a decimal or 0x-prefixed hex integer, matching
// ARG_TO_ULL's grammar (spec.md §6 "<arg>").
func parseArg(s string) (uint64, error) {
	if s == "" {
		return 0, sherlock.UserError("missing argument")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, sherlock.UserError("invalid argument: %s", s)
	}
	return v, nil
}

func reportResume(s *Session, ev *tracee.Event, err error) error {
	if err != nil {
		if te, ok := err.(*sherlock.TracedError); ok && te.Kind == sherlock.KindKernel {
			return err // fatal: propagate to the caller, which exits
		}
		s.Printf("%s\n", err)
		return nil
	}

	if ev.Kind != tracee.EventExited {
		s.ResolvePending()
	}

	switch ev.Kind {
	case tracee.EventExited:
		s.Printf("tracee exited with status %d\n", ev.ExitCode)
	case tracee.EventStoppedSignal:
		s.Printf("tracee stopped on signal %s\n", ev.Signal)
	case tracee.EventExecTrap:
		s.Printf("tracee stopped at exec\n")
	case tracee.EventBreakpointHit:
		bp := ev.BP
		name := "?"
		if bp.Symbol != nil {
			name = bp.Symbol.Name
		}
		s.Printf("Breakpoint %d, %s () at %#x (hit #%d)\n", bp.ID, name, bp.Addr, bp.Counter)
	case tracee.EventWatchpointHit:
		w := ev.Watch
		pc, _ := s.Tracee.PID.PC()
		s.Printf("Watchpoint %d, old=%#x, new=%#x, rw_instr=%#x\n", w.Slot, w.OldValue, w.NewValue, pc)
	case tracee.EventForeignTrap:
		s.Printf("received unexpected SIGTRAP\n")
	}

	return nil
}

func registerRun() *Def {
	return &Def{
		Kind: Run,
		Name: "run",
		Help: "run\n",
		NoEntity: func(s *Session, _ []string) error {
			ev, err := s.Tracee.Resume(0)
			return reportResume(s, ev, err)
		},
	}
}

func registerStep() *Def {
	return &Def{
		Kind:    Step,
		Name:    "step",
		Aliases: []string{"s"},
		Help:    "step,s\n",
		NoEntity: func(s *Session, _ []string) error {
			ev, err := s.Tracee.Step()
			return reportResume(s, ev, err)
		},
	}
}

func registerBreak() *Def {
	return &Def{
		Kind:    Break,
		Name:    "break",
		Aliases: []string{"br"},
		Help:    "break,br func <function_name>\nbreak,br addr <0xaddress>\n",
		Handlers: map[Entity]Handler{
			EntityAddress:  breakAddr,
			EntityFunction: breakFunc,
		},
	}
}

func breakAddr(s *Session, args []string) error {
	if len(args) == 0 {
		s.Printf("invalid address passed\n")
		return nil
	}
	addr, err := parseArg(args[0])
	if err != nil || addr == 0 {
		s.Printf("invalid address passed\n")
		return nil
	}

	if _, err := s.Tracee.Breakpoints.Set(uintptr(addr), nil); err != nil {
		s.Printf("%s\n", err)
	}
	return nil
}

func breakFunc(s *Session, args []string) error {
	if len(args) == 0 || args[0] == "" {
		s.Printf("invalid name to breakpoint\n")
		return nil
	}
	name := args[0]

	sym, ok := s.Tracee.Table.LookupByName(name)
	if !ok {
		matches := s.Tracee.Table.LookupByNamePrefix(name)
		if len(matches) > 1 {
			s.Printf("multiple matches for '%s':\n", name)
			for i, m := range matches {
				s.Printf("  [%d] %s at %#x\n", i, m.Name, m.Addr)
			}
			return nil
		}
		if len(matches) == 1 {
			sym = matches[0]
		} else {
			if s.Confirm(fmt.Sprintf("function '%s' is not yet defined.\nMake breakpoint pending on future shared library load? (y or [n]) ", name)) {
				s.AddPendingFuncBreak(name)
				s.Printf("breakpoint on '%s' is pending\n", name)
			} else {
				s.Printf("not adding breakpoint\n")
			}
			return nil
		}
	}

	if _, err := s.Tracee.Breakpoints.Set(sym.Addr, sym); err != nil {
		s.Printf("%s\n", err)
	}
	return nil
}

func registerKill() *Def {
	return &Def{
		Kind: Kill,
		Name: "kill",
		Help: "kill\n",
		NoEntity: func(s *Session, _ []string) error {
			if !s.Confirm("kill the tracee? (y or [n]) ") {
				s.Printf("not killing\n")
				return nil
			}
			if err := s.Tracee.Kill(); err != nil {
				return err
			}
			s.Quitting = true
			return nil
		},
	}
}

func registerPrint() *Def {
	return &Def{
		Kind:    Print,
		Name:    "print",
		Aliases: []string{"p"},
		Help:    "print,p reg <name|all>\nprint,p addr <0xaddress>\n",
		Handlers: map[Entity]Handler{
			EntityRegister: printReg,
			EntityAddress:  printAddr,
		},
	}
}

func printReg(s *Session, args []string) error {
	if len(args) == 0 {
		s.Printf("invalid register name passed\n")
		return nil
	}

	regs, err := s.regSlice()
	if err != nil {
		return err
	}

	if args[0] == "all" {
		for _, name := range arch.RegNames {
			idx, _ := arch.RegIndex(name)
			printOneReg(s, name, regs[idx])
		}
		return nil
	}

	idx, ok := arch.RegIndex(args[0])
	if !ok {
		s.Printf("invalid register: %s\n", args[0])
		return nil
	}
	printOneReg(s, args[0], regs[idx])
	return nil
}

func printOneReg(s *Session, name string, val uint64) {
	if arch.IsAddrRegister(name) {
		s.Printf("%s=%#x\n", name, val)
	} else {
		s.Printf("%s=%d\n", name, int64(val))
	}
}

func printAddr(s *Session, args []string) error {
	if len(args) == 0 {
		s.Printf("invalid address passed\n")
		return nil
	}
	addr, err := parseArg(args[0])
	if err != nil || addr == 0 {
		s.Printf("invalid address passed, only decimal/hex supported\n")
		return nil
	}

	data := make([]byte, 8)
	if err := s.Tracee.PID.PeekData(uintptr(addr), data); err != nil {
		s.Printf("%s\n", sherlock.InaccessibleError("the requested memory address (%#x) is not accessible", addr))
		return nil
	}

	s.Printf("%#016x\n", sherlock.ReadAddress(data))
	return nil
}

func registerInfo() *Def {
	return &Def{
		Kind:    Info,
		Name:    "info",
		Aliases: []string{"inf"},
		Help:    "info,inf func <function_name>\ninfo,inf addr <0xaddress>\ninfo,inf break\ninfo,inf reg\ninfo,inf funcs\ninfo,inf watch\n",
		Handlers: map[Entity]Handler{
			EntityBreakpoint: infoBreak,
			EntityWatchpoint: infoWatch,
			EntityRegister:   infoReg,
			EntityFunction:   infoFunc,
			EntityFunctions:  infoFuncs,
			EntityAddress:    infoAddr,
		},
	}
}

func infoBreak(s *Session, _ []string) error {
	all := s.Tracee.Breakpoints.All()
	if len(all) == 0 {
		s.Printf("no breakpoints set\n")
		return nil
	}
	for _, bp := range all {
		name := "?"
		if bp.Symbol != nil {
			name = bp.Symbol.Name
		}
		s.Printf("%d: %s at %#x (hits=%d)\n", bp.ID, name, bp.Addr, bp.Counter)
	}
	return nil
}

func infoWatch(s *Session, _ []string) error {
	any := false
	for _, wp := range s.Tracee.Watches.All() {
		if wp == nil {
			continue
		}
		any = true
		mode := "rw"
		if wp.WriteOnly {
			mode = "w"
		}
		s.Printf("%d: %#x (%s)\n", wp.Slot, wp.Addr, mode)
	}
	if !any {
		s.Printf("no watchpoints set\n")
	}
	return nil
}

func infoReg(s *Session, _ []string) error {
	return printReg(s, []string{"all"})
}

func infoFunc(s *Session, args []string) error {
	if len(args) == 0 {
		s.Printf("invalid name passed\n")
		return nil
	}
	sym, ok := s.Tracee.Table.LookupByName(args[0])
	if !ok {
		s.Printf("The symbol '%s' is not present or loaded yet\n", args[0])
		return nil
	}
	s.Printf("Symbol '%s' is at '%#x' in %s\n", args[0], sym.Addr, sym.FileName)
	return nil
}

func infoFuncs(s *Session, _ []string) error {
	syms := s.Tracee.Table.LookupByNamePrefix("")
	if len(syms) == 0 {
		s.Printf("no functions known\n")
		return nil
	}
	for _, sym := range syms {
		s.Printf("%s at %#x (%s)\n", sym.Name, sym.Addr, sym.FileName)
	}
	return nil
}

func infoAddr(s *Session, args []string) error {
	if len(args) == 0 {
		s.Printf("invalid address passed, only decimal/hex supported\n")
		return nil
	}
	addr, err := parseArg(args[0])
	if err != nil || addr == 0 {
		s.Printf("invalid address passed, only decimal/hex supported\n")
		return nil
	}

	sym, ok := s.Tracee.Table.LookupByAddr(uintptr(addr))
	if !ok {
		s.Printf("No symbol matches %s\n", args[0])
		return nil
	}

	secName := "?"
	if sym.Section != nil {
		secName = sym.Section.Name
	}
	if uintptr(addr) == sym.Addr {
		s.Printf("%s in section %s of %s\n", sym.Name, secName, sym.FileName)
	} else {
		s.Printf("%s + %d in section %s of %s\n", sym.Name, uintptr(addr)-sym.Addr, secName, sym.FileName)
	}
	return nil
}

func registerBacktrace() *Def {
	return &Def{
		Kind:    Backtrace,
		Name:    "backtrace",
		Aliases: []string{"bt"},
		Help:    "backtrace,bt\n",
		NoEntity: func(s *Session, _ []string) error {
			pc, fp, err := s.pcAndFP()
			if err != nil {
				return err
			}

			u := unwind.NewFramePointerUnwinder(s.Tracee.PID, s.Tracee.Table, pc, fp)
			for _, f := range unwind.Backtrace(u) {
				if f.Symbol != nil {
					s.Printf("%#x: (%s+%#x)\n", f.PC, f.Symbol.Name, f.Offset)
				} else {
					s.Printf("%#x: -- no symbol name found\n", f.PC)
				}
			}
			return nil
		},
	}
}

func registerWatch() *Def {
	return &Def{
		Kind: Watch,
		Name: "watch",
		Aliases: []string{"w"},
		Help: "watch,w addr <0xaddress>\n",
		Handlers: map[Entity]Handler{
			EntityAddress: func(s *Session, args []string) error { return addWatch(s, args, true) },
		},
	}
}

func registerRwatch() *Def {
	return &Def{
		Kind:    Rwatch,
		Name:    "rwatch",
		Aliases: []string{"rw"},
		Help:    "rwatch,rw addr <0xaddress>\n",
		Handlers: map[Entity]Handler{
			EntityAddress: func(s *Session, args []string) error { return addWatch(s, args, false) },
		},
	}
}

func addWatch(s *Session, args []string, writeOnly bool) error {
	if len(args) == 0 {
		s.Printf("invalid address passed, non-zero decimal/hex supported\n")
		return nil
	}
	addr, err := parseArg(args[0])
	if err != nil || addr == 0 {
		s.Printf("invalid address passed, non-zero decimal/hex supported\n")
		return nil
	}

	if _, err := s.Tracee.Watches.Add(uintptr(addr), writeOnly); err != nil {
		s.Printf("error in adding watchpoint: %s\n", err)
	}
	return nil
}

func registerDelete() *Def {
	return &Def{
		Kind:    Delete,
		Name:    "delete",
		Aliases: []string{"del"},
		Help:    "delete,del break <id>\ndelete,del watch <id>\n",
		Handlers: map[Entity]Handler{
			EntityBreakpoint: deleteBreak,
			EntityWatchpoint: deleteWatch,
		},
	}
}

func deleteBreak(s *Session, args []string) error {
	id, err := parseDeleteID(args)
	if err != nil {
		s.Printf("invalid breakpoint number passed\n")
		return nil
	}
	if err := s.Tracee.Breakpoints.Delete(id); err != nil {
		s.Printf("%s\n", err)
	}
	return nil
}

func deleteWatch(s *Session, args []string) error {
	id, err := parseDeleteID(args)
	if err != nil {
		s.Printf("invalid watchpoint number passed\n")
		return nil
	}
	if err := s.Tracee.Watches.Delete(id); err != nil {
		s.Printf("%s\n", err)
	}
	return nil
}

func parseDeleteID(args []string) (int, error) {
	if len(args) == 0 {
		return 0, sherlock.UserError("missing id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, sherlock.UserError("invalid id: %s", args[0])
	}
	return id, nil
}

// registerHelp's Def carries no NoEntity handler: Dispatcher.dispatchHelp
// special-cases a bare `help`/`h` by calling PrintAllHelp directly, since
// that needs the Dispatcher itself, not just a Session.
func registerHelp() *Def {
	return &Def{
		Kind:    Help,
		Name:    "help",
		Aliases: []string{"h"},
		Help:    "help,h\nhelp,h <action>\n",
	}
}
