package terminal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/kmon/pkg/config"
	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/monitor"
	"github.com/go-delve/kmon/pkg/trap"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

// Term hosts a monitor session on the process' terminal.
type Term struct {
	conf   *config.Config
	cmds   *monitor.Commands
	names  *trie.Trie
	target monitor.Target

	// line is used when stdin is a terminal, in otherwise.
	line *liner.State
	in   *bufio.Reader

	dumb   bool
	stdout io.Writer
}

// New returns a new Term reading from stdin and writing to stdout.
func New(target monitor.Target, conf *config.Config) *Term {
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"

	var w io.Writer
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	if !isTerminal(os.Stdin) {
		return newTerm(target, conf, os.Stdin, w, dumb)
	}
	t := newTerm(target, conf, nil, w, dumb)
	t.line = liner.NewLiner()
	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.complete)
	return t
}

// newTerm returns a Term reading command lines from in.
func newTerm(target monitor.Target, conf *config.Config, in io.Reader, out io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	t := &Term{
		conf:   conf,
		cmds:   monitor.DefaultCommands(),
		names:  trie.New(),
		target: target,
		dumb:   dumb,
		stdout: out,
	}
	if in != nil {
		t.in = bufio.NewReader(in)
	}
	for _, name := range t.cmds.Names() {
		t.names.Add(name, nil)
	}
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// Run runs a monitor session entered with tf until the user leaves it.
func (t *Term) Run(tf *trap.Frame) int {
	defer t.Close()

	m := monitor.New(monitor.Options{
		In:             t,
		Out:            t.stdout,
		Prompt:         t.conf.GetPrompt(),
		Target:         t.target,
		Commands:       t.cmds,
		MaxDepth:       t.conf.MaxDepth,
		SubstitutePath: t.substitutePath,
		PrintTrapFrame: t.printTrapFrame,
	})
	m.Run(tf)
	return 0
}

// ReadLine implements monitor.LineReader. Interrupting the prompt is an
// absent line. The end of the input is read as the exit command, so the
// session still ends through the command returning monitor.ExitStatus.
func (t *Term) ReadLine(prompt string) (string, bool) {
	if t.line == nil {
		return t.readScripted(prompt)
	}
	l, err := t.line.Prompt(prompt)
	switch {
	case err == liner.ErrPromptAborted:
		return "", false
	case err == io.EOF:
		fmt.Fprintln(t.stdout, "exit")
		return "exit", true
	case err != nil:
		logflags.MonitorLogger().Errorf("prompt for input failed: %v", err)
		return "exit", true
	}
	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	return l, true
}

// readScripted reads the next line of a non interactive input. The prompt
// and the line are echoed so that the output reads like a console
// session.
func (t *Term) readScripted(prompt string) (string, bool) {
	fmt.Fprint(t.stdout, prompt)
	l, err := t.in.ReadString('\n')
	if err != nil && l == "" {
		if err != io.EOF {
			logflags.MonitorLogger().Errorf("reading input failed: %v", err)
		}
		fmt.Fprintln(t.stdout, "exit")
		return "exit", true
	}
	l = strings.TrimSuffix(l, "\n")
	fmt.Fprintln(t.stdout, l)
	return l, true
}

// complete returns the command names starting with line. Only the first
// word of a line is completed.
func (t *Term) complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	c := t.names.PrefixSearch(line)
	sort.Strings(c)
	return c
}

// printTrapFrame prints tf with a highlighted header line.
func (t *Term) printTrapFrame(w io.Writer, tf *trap.Frame) {
	if t.dumb {
		tf.Print(w)
		return
	}
	var buf bytes.Buffer
	tf.Print(&buf)
	header, rest, _ := strings.Cut(buf.String(), "\n")
	color := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.GetTrapFrameColor())
	fmt.Fprintf(w, "%s%s%s\n%s", color, header, terminalResetEscapeCode, rest)
}

// Substitutes directory to source file.
//
// Ensures that only directory is substituted, for example:
// substitute from `/dir/subdir`, substitute to `/new`
// for file path `/dir/subdir/file` will return file path `/new/file`.
// for file path `/dir/subdir-2/file` substitution will not be applied.
//
// If more than one substitution rule is defined, the rules are applied
// in the order they are defined, first rule that matches is used for
// substitution.
func (t *Term) substitutePath(path string) string {
	path = crossPlatformPath(path)
	if t.conf == nil {
		return path
	}

	separator := "/"
	if strings.Contains(path, "\\") {
		separator = "\\"
	}
	for _, r := range t.conf.SubstitutePath {
		from := crossPlatformPath(r.From)
		to := r.To

		if !strings.HasSuffix(from, separator) {
			from = from + separator
		}
		if !strings.HasSuffix(to, separator) {
			to = to + separator
		}
		if strings.HasPrefix(path, from) {
			return strings.Replace(path, from, to, 1)
		}
	}
	return path
}

func crossPlatformPath(path string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(path)
	}
	return path
}
