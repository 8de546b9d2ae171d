// Package monitor implements a small kernel monitor: a read-eval loop
// that reads command lines, splits them into arguments and dispatches
// them to a static table of diagnostic commands.
//
// The monitor is single threaded. A command runs to completion before the
// next line is read and the only way to leave the loop is a command
// returning ExitStatus.
package monitor

import (
	"fmt"
	"io"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/memory"
	"github.com/go-delve/kmon/pkg/symbols"
	"github.com/go-delve/kmon/pkg/trap"
)

// DefaultPrompt is printed before every command line.
const DefaultPrompt = "K> "

// LineReader reads a line of input after printing prompt. It returns
// false if no line could be read, the monitor then prompts again.
type LineReader interface {
	ReadLine(prompt string) (string, bool)
}

// Target is the stopped execution context inspected by the monitor.
type Target struct {
	// Mem is the address space of the target.
	Mem *memory.WordReader
	// FP is the frame pointer backtraces start from.
	FP uint64
	// Symbols resolves return addresses, nil resolves every address to
	// an unknown function.
	Symbols symbols.Resolver
	// Layout is the layout of the kernel image, if one is loaded.
	Layout *symbols.Layout
}

// Options configures a Monitor.
type Options struct {
	// In is the source of command lines. Without one the session reads
	// exit as its first command.
	In     LineReader
	Out    io.Writer
	Prompt string
	Target Target
	// Commands defaults to DefaultCommands.
	Commands *Commands
	// MaxDepth stops backtraces after that many frames, 0 means no limit.
	MaxDepth int
	// SubstitutePath rewrites source file names before they are printed.
	SubstitutePath func(string) string
	// PrintTrapFrame renders the trap frame the monitor is entered with,
	// defaults to (*trap.Frame).Print.
	PrintTrapFrame func(io.Writer, *trap.Frame)
}

// Monitor is a kernel monitor session.
type Monitor struct {
	in             LineReader
	out            io.Writer
	prompt         string
	target         Target
	cmds           *Commands
	maxDepth       int
	substitutePath func(string) string
	printTrapFrame func(io.Writer, *trap.Frame)
	log            logflags.Logger
}

// New returns a new Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		in:             opts.In,
		out:            opts.Out,
		prompt:         opts.Prompt,
		target:         opts.Target,
		cmds:           opts.Commands,
		maxDepth:       opts.MaxDepth,
		substitutePath: opts.SubstitutePath,
		printTrapFrame: opts.PrintTrapFrame,
		log:            logflags.MonitorLogger(),
	}
	if m.in == nil {
		m.in = noInput{}
	}
	if m.out == nil {
		m.out = io.Discard
	}
	if m.prompt == "" {
		m.prompt = DefaultPrompt
	}
	if m.cmds == nil {
		m.cmds = DefaultCommands()
	}
	if m.target.Symbols == nil {
		m.target.Symbols = symbols.ResolverFunc(symbols.Unknown)
	}
	if m.substitutePath == nil {
		m.substitutePath = func(path string) string { return path }
	}
	if m.printTrapFrame == nil {
		m.printTrapFrame = func(w io.Writer, tf *trap.Frame) { tf.Print(w) }
	}
	return m
}

// noInput is the LineReader of a monitor that has no input, its only line
// is the exit command.
type noInput struct{}

func (noInput) ReadLine(string) (string, bool) { return "exit", true }

// Run prints the trap frame, if there is one, and then reads and executes
// commands until one of them returns ExitStatus.
func (m *Monitor) Run(tf *trap.Frame) {
	if tf != nil {
		m.printTrapFrame(m.out, tf)
	}
	m.printf("Welcome to the JOS kernel monitor!\n")
	m.printf("Type 'help' for a list of commands.\n")

	for {
		line, ok := m.in.ReadLine(m.prompt)
		if !ok {
			continue
		}
		if m.Exec(line, tf) == ExitStatus {
			break
		}
	}
}

// Exec parses line and runs the command it names. Parse errors and
// unknown commands are reported and return 0.
func (m *Monitor) Exec(line string, tf *trap.Frame) int {
	args, err := parseArgs(line)
	if err != nil {
		m.printf("%v\n", err)
		return 0
	}
	return m.Dispatch(args, tf)
}

// Dispatch runs the command named by args[0].
func (m *Monitor) Dispatch(args []string, tf *trap.Frame) int {
	if len(args) == 0 {
		return 0
	}
	cmd, ok := m.cmds.Find(args[0])
	if !ok {
		m.printf("Unknown command '%s'\n", args[0])
		return 0
	}
	if logflags.Monitor() {
		m.log.Debugf("running %s with %d arguments", cmd.Name, len(args)-1)
	}
	status := cmd.Handler.Execute(m, args, tf)
	if logflags.Monitor() {
		m.log.Debugf("%s returned %d", cmd.Name, status)
	}
	return status
}

func (m *Monitor) printf(format string, args ...interface{}) {
	fmt.Fprintf(m.out, format, args...)
}
