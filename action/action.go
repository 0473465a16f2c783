// Package action is the interactive command layer (spec.md §4.H, §4.I):
// a tokenizer, a registration table built explicitly at startup (spec.md
// §9 "Registration by static constructors" — no load-time constructors),
// and one handler per (action, entity) pair. Grounded throughout on
// original_source/sherlock/src/actions/*.c, translated from its
// ent_handler-table-plus-REG_ACTION pattern into an explicit Go slice
// built by RegisterAll.
package action

import "strings"

// Kind enumerates the user-facing actions (spec.md §3 "Action/Entity").
type Kind int

const (
	Run Kind = iota
	Step
	Break
	Kill
	Print
	Info
	Backtrace
	Watch
	Rwatch
	Delete
	Help
)

// Entity enumerates the argument kinds an action's handler table is
// indexed by.
type Entity int

const (
	EntityNone Entity = iota
	EntityFunction
	EntityFunctions
	EntityVariable
	EntityAddress
	EntityLine
	EntityFileLine
	EntityRegister
	EntityBreakpoint
	EntityWatchpoint
)

var entityNames = map[string]Entity{
	"func":  EntityFunction,
	"funcs": EntityFunctions,
	"var":   EntityVariable,
	"addr":  EntityAddress,
	"line":  EntityLine,
	"fline": EntityFileLine,
	"reg":   EntityRegister,
	"break": EntityBreakpoint,
	"watch": EntityWatchpoint,
}

// Handler runs one (action, entity) pair against a Session; args is
// whatever tokens followed the entity on the command line.
type Handler func(s *Session, args []string) error

// Def is one registered action: its matcher (name plus abbreviations),
// its per-entity handlers, and a one-line help string.
type Def struct {
	Kind     Kind
	Name     string
	Aliases  []string
	Handlers map[Entity]Handler
	// NoEntity handles a bare command with no entity token (e.g. `run`,
	// `step`, `kill`, `backtrace`, `help`).
	NoEntity Handler
	Help     string
}

func (d *Def) matches(tok string) bool {
	if tok == d.Name {
		return true
	}
	for _, a := range d.Aliases {
		if tok == a {
			return true
		}
	}
	return false
}

// Dispatcher holds the registration table built once at startup and
// routes each parsed command line to the matching handler (spec.md
// §4.H).
type Dispatcher struct {
	defs []*Def
}

// NewDispatcher builds a Dispatcher with every action registered
// (spec.md §9's explicit register_all, in place of the C source's
// load-time constructors).
func NewDispatcher() *Dispatcher {
	return &Dispatcher{defs: RegisterAll()}
}

// Quit matches the two tokens action.go's C counterpart special-cases
// ahead of the registration table (`q`, `quit`).
func Quit(tok string) bool {
	return tok == "q" || tok == "quit"
}

// byName finds a registered Def whose matcher accepts tok.
func (d *Dispatcher) byName(tok string) (*Def, bool) {
	for _, def := range d.defs {
		if def.matches(tok) {
			return def, true
		}
	}
	return nil, false
}

// Dispatch tokenizes one input line and routes it to a handler (spec.md
// §4.H): `<action> [<entity> [<arg>...]]`. An empty line is a silent
// no-op; an unrecognized action or entity prints the supported list and
// does not touch the tracee.
func (d *Dispatcher) Dispatch(s *Session, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	actionTok := fields[0]
	rest := fields[1:]

	def, ok := d.byName(actionTok)
	if !ok {
		s.Printf("invalid action: '%s'\n", actionTok)
		d.printSupportedActions(s)
		return nil
	}

	if def.Kind == Help {
		return d.dispatchHelp(s, def, rest)
	}

	if len(rest) == 0 {
		if def.NoEntity == nil {
			s.Printf("action '%s' requires an entity\n", def.Name)
			d.printHelp(s, def)
			return nil
		}
		return def.NoEntity(s, nil)
	}

	entTok := rest[0]
	ent, ok := entityNames[entTok]
	if !ok {
		s.Printf("invalid entity: '%s'\n", entTok)
		d.printHelp(s, def)
		return nil
	}

	handler, ok := def.Handlers[ent]
	if !ok {
		s.Printf("invalid entity(%s) for action(%s) requested\n", entTok, def.Name)
		d.printHelp(s, def)
		return nil
	}

	return handler(s, rest[1:])
}

func (d *Dispatcher) dispatchHelp(s *Session, helpDef *Def, rest []string) error {
	if len(rest) == 0 {
		d.PrintAllHelp(s)
		return nil
	}

	target, ok := d.byName(rest[0])
	if !ok {
		s.Printf("invalid arg to help: '%s'\n", rest[0])
		d.printHelp(s, helpDef)
		return nil
	}

	d.printHelp(s, target)
	return nil
}

func (d *Dispatcher) printHelp(s *Session, def *Def) {
	s.Printf("%s\n", def.Help)
}

func (d *Dispatcher) printSupportedActions(s *Session) {
	names := make([]string, 0, len(d.defs))
	for _, def := range d.defs {
		names = append(names, def.Name)
	}
	s.Printf("Supported actions are: %s\n", strings.Join(names, " "))
}

// PrintAllHelp implements the bare `help`/`h` command.
func (d *Dispatcher) PrintAllHelp(s *Session) {
	s.Printf("Supported commands are:\n")
	for _, def := range d.defs {
		s.Printf("%s\n", def.Help)
	}
}
