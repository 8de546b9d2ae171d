package monitor

import (
	"github.com/go-delve/kmon/pkg/trap"
)

// ExitStatus returned by a Handler ends the monitor session. Every other
// status, including errors reported by the handler, keeps it running.
const ExitStatus = -1

// Handler is the implementation of a monitor command. It receives the
// whole argument vector, args[0] being the command name, and the trap
// frame the monitor was entered with, nil for an interactive session.
type Handler interface {
	Execute(m *Monitor, args []string, tf *trap.Frame) int
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(m *Monitor, args []string, tf *trap.Frame) int

// Execute implements Handler.
func (f HandlerFunc) Execute(m *Monitor, args []string, tf *trap.Frame) int {
	return f(m, args, tf)
}

// Command is one entry of the command table.
type Command struct {
	Name    string
	Desc    string
	Handler Handler
}

// Commands is an ordered command table. It is not modified after
// construction.
type Commands struct {
	cmds []Command
}

// NewCommands returns a table holding cmds, in order. Names must be
// unique: lookups stop at the first match.
func NewCommands(cmds ...Command) *Commands {
	return &Commands{cmds: append([]Command(nil), cmds...)}
}

var builtinCommands = []Command{
	{"help", "Display this list of commands", HandlerFunc(help)},
	{"kerninfo", "Display information about the kernel", HandlerFunc(kerninfo)},
	{"backtrace", "Display a listing of function call frames", HandlerFunc(backtrace)},
	{"exit", "Leave the kernel monitor", HandlerFunc(exit)},
}

// DefaultCommands returns the built-in command table.
func DefaultCommands() *Commands {
	return NewCommands(builtinCommands...)
}

// Find returns the command called name. The match is exact and case
// sensitive.
func (c *Commands) Find(name string) (Command, bool) {
	for _, cmd := range c.cmds {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

// All returns the commands in registration order.
func (c *Commands) All() []Command {
	return append([]Command(nil), c.cmds...)
}

// Names returns the command names in registration order.
func (c *Commands) Names() []string {
	names := make([]string, len(c.cmds))
	for i, cmd := range c.cmds {
		names[i] = cmd.Name
	}
	return names
}

func help(m *Monitor, args []string, tf *trap.Frame) int {
	for _, cmd := range m.cmds.cmds {
		m.printf("%s - %s\n", cmd.Name, cmd.Desc)
	}
	return 0
}

func kerninfo(m *Monitor, args []string, tf *trap.Frame) int {
	l := m.target.Layout
	if l == nil {
		m.printf("No kernel image loaded\n")
		return 0
	}
	m.printf("Special kernel symbols:\n")
	m.printf("  _start                  %08x (phys)\n", l.Start)
	m.printf("  entry  %08x (virt)  %08x (phys)\n", l.Entry, l.Phys(l.Entry))
	m.printf("  etext  %08x (virt)  %08x (phys)\n", l.Etext, l.Phys(l.Etext))
	m.printf("  edata  %08x (virt)  %08x (phys)\n", l.Edata, l.Phys(l.Edata))
	m.printf("  end    %08x (virt)  %08x (phys)\n", l.End, l.Phys(l.End))
	m.printf("Kernel executable memory footprint: %dKB\n", l.FootprintKB())
	return 0
}

func exit(m *Monitor, args []string, tf *trap.Frame) int {
	return ExitStatus
}
