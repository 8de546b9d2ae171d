package monitor

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-delve/kmon/pkg/memory"
	"github.com/go-delve/kmon/pkg/symbols"
	"github.com/go-delve/kmon/pkg/trap"
)

// absent is a fakeReader line that simulates a failed read.
const absent = "\x00absent"

type fakeReader struct {
	t       *testing.T
	lines   []string
	prompts []string
}

func (r *fakeReader) ReadLine(prompt string) (string, bool) {
	r.prompts = append(r.prompts, prompt)
	if len(r.prompts) > 100 {
		r.t.Fatal("monitor did not exit")
	}
	if len(r.lines) == 0 {
		return "exit", true
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	if line == absent {
		return "", false
	}
	return line, true
}

func joslayout() *symbols.Layout {
	return &symbols.Layout{
		Start:    0x10000c,
		Entry:    0xf010000c,
		Etext:    0xf0101a75,
		Edata:    0xf0112300,
		End:      0xf0112960,
		KernBase: symbols.DefaultKernBase,
	}
}

// josStack is a three frame chain starting at 0xf010ff00.
func josStack() Target {
	img := memory.NewWordImage(0xf010ff00, 4, binary.LittleEndian,
		0xf010ff20, 0xf0100069, 1, 2, 3, 4, 5, 0,
		0xf010ff40, 0xf01000b5, 6, 7, 8, 9, 10, 0,
		0, 0xf0100950, 11, 12, 13, 14, 15, 0,
	)
	syms := map[uint64]symbols.SymbolInfo{
		0xf0100069: {File: "kern/init.c", Line: 13, FnName: "test_backtrace:F(0,25)", FnNameLen: 14, FnAddr: 0xf0100040, FnNarg: 1},
		0xf01000b5: {File: "kern/init.c", Line: 24, FnName: "i386_init:F(0,25)", FnNameLen: 9, FnAddr: 0xf01000a6},
		0xf0100950: {File: "kern/monitor.c", Line: 150, FnName: "monitor:F(0,25)", FnNameLen: 7, FnAddr: 0xf0100900, FnNarg: 1},
	}
	return Target{
		Mem: memory.NewWordReader(img, 4, binary.LittleEndian),
		FP:  0xf010ff00,
		Symbols: symbols.ResolverFunc(func(addr uint64) symbols.SymbolInfo {
			if si, ok := syms[addr]; ok {
				return si
			}
			return symbols.Unknown(addr)
		}),
		Layout: joslayout(),
	}
}

func newTestMonitor(t *testing.T, target Target, lines ...string) (*Monitor, *fakeReader, *bytes.Buffer) {
	in := &fakeReader{t: t, lines: lines}
	out := new(bytes.Buffer)
	m := New(Options{In: in, Out: out, Target: target})
	return m, in, out
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{" \t\r\n ", nil},
		{"help", []string{"help"}},
		{"  backtrace  1\t2\r\n", []string{"backtrace", "1", "2"}},
		{"kerninfo\x00 ignored", []string{"kerninfo"}},
		{"a\vb", []string{"a\vb"}},
	}
	for _, tc := range tests {
		got, err := parseArgs(tc.line)
		if err != nil {
			t.Fatalf("parseArgs(%q): %v", tc.line, err)
		}
		if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
			t.Errorf("parseArgs(%q) = %q, want %q", tc.line, got, tc.want)
		}
		for _, arg := range got {
			if arg == "" || strings.ContainsAny(arg, whitespace) {
				t.Errorf("parseArgs(%q): bad argument %q", tc.line, arg)
			}
		}
	}
}

func TestParseArgsMax(t *testing.T) {
	args := make([]string, MaxArgs-1)
	for i := range args {
		args[i] = "x"
	}
	got, err := parseArgs(strings.Join(args, " "))
	if err != nil || len(got) != MaxArgs-1 {
		t.Fatalf("parseArgs(%d arguments) = %d, %v", MaxArgs-1, len(got), err)
	}
	_, err = parseArgs(strings.Join(append(args, "y"), " "))
	if _, ok := err.(*TooManyArgsError); !ok {
		t.Fatalf("expected TooManyArgsError, got %v", err)
	}
	// trailing whitespace does not count as an argument
	if _, err := parseArgs(strings.Join(args, " ") + "   "); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFind(t *testing.T) {
	cmds := DefaultCommands()
	for _, c := range cmds.All() {
		got, ok := cmds.Find(c.Name)
		if !ok || got.Name != c.Name || got.Desc != c.Desc {
			t.Errorf("Find(%q) = %v, %v", c.Name, got, ok)
		}
	}
	for _, name := range []string{"", "Help", "hel", "helpx", "bogus"} {
		if _, ok := cmds.Find(name); ok {
			t.Errorf("Find(%q) found a command", name)
		}
	}
	if names := strings.Join(cmds.Names(), ","); names != "help,kerninfo,backtrace,exit" {
		t.Errorf("Names() = %s", names)
	}
}

func TestHelp(t *testing.T) {
	m, _, out := newTestMonitor(t, Target{})
	m.Exec("help", nil)
	want := "help - Display this list of commands\n" +
		"kerninfo - Display information about the kernel\n" +
		"backtrace - Display a listing of function call frames\n" +
		"exit - Leave the kernel monitor\n"
	if out.String() != want {
		t.Fatalf("unexpected help output:\n%s", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	m, in, out := newTestMonitor(t, Target{}, "bogus arg1", absent, "")
	m.Run(nil)

	if n := strings.Count(out.String(), "Unknown command"); n != 1 {
		t.Fatalf("expected one unknown command message, got %d:\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "Unknown command 'bogus'\n") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	// bogus, absent, empty line, exit
	if len(in.prompts) != 4 {
		t.Fatalf("expected 4 reads, got %d", len(in.prompts))
	}
	for _, p := range in.prompts {
		if p != DefaultPrompt {
			t.Fatalf("unexpected prompt %q", p)
		}
	}
}

func TestRunBanner(t *testing.T) {
	m, _, out := newTestMonitor(t, Target{})
	tf := trap.From386(&trap.Regs386{Ebp: 0xf010ff58}, 0)
	tf.Trap = &trap.Trap{No: 3}
	m.Run(tf)

	s := out.String()
	trapAt := strings.Index(s, "TRAP frame at")
	bannerAt := strings.Index(s, "Welcome to the JOS kernel monitor!\nType 'help' for a list of commands.\n")
	if trapAt != 0 || bannerAt < 0 || !strings.Contains(s, "  trap 0x00000003 Breakpoint\n") {
		t.Fatalf("unexpected output:\n%s", s)
	}

	out.Reset()
	m.Run(nil)
	if !strings.HasPrefix(out.String(), "Welcome to the JOS kernel monitor!\n") {
		t.Fatalf("interactive session printed a trap frame:\n%s", out.String())
	}
}

func TestTooManyArgs(t *testing.T) {
	m, _, out := newTestMonitor(t, Target{})
	line := "help" + strings.Repeat(" x", MaxArgs)
	if status := m.Exec(line, nil); status != 0 {
		t.Fatalf("status %d", status)
	}
	if out.String() != "Too many arguments (max 16)\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExitStatus(t *testing.T) {
	ran := []string{}
	cmds := NewCommands(
		Command{"fail", "returns an error status", HandlerFunc(func(m *Monitor, args []string, tf *trap.Frame) int {
			ran = append(ran, args[0])
			return -2
		})},
		Command{"quit", "ends the session", HandlerFunc(func(m *Monitor, args []string, tf *trap.Frame) int {
			ran = append(ran, strings.Join(args, " "))
			return ExitStatus
		})},
	)
	in := &fakeReader{t: t, lines: []string{"fail", "fail", "quit now", "fail"}}
	m := New(Options{In: in, Out: new(bytes.Buffer), Commands: cmds})
	m.Run(nil)
	if got := strings.Join(ran, ","); got != "fail,fail,quit now" {
		t.Fatalf("ran %s", got)
	}
}

func TestKerninfo(t *testing.T) {
	m, _, out := newTestMonitor(t, Target{Layout: joslayout()})
	want := `Special kernel symbols:
  _start                  0010000c (phys)
  entry  f010000c (virt)  0010000c (phys)
  etext  f0101a75 (virt)  00101a75 (phys)
  edata  f0112300 (virt)  00112300 (phys)
  end    f0112960 (virt)  00112960 (phys)
Kernel executable memory footprint: 75KB
`
	m.Exec("kerninfo", nil)
	first := out.String()
	out.Reset()
	m.Exec("kerninfo extra args", nil)
	if first != want {
		t.Fatalf("unexpected kerninfo output:\n%s", first)
	}
	if out.String() != first {
		t.Fatalf("kerninfo output changed between runs:\n%s", out.String())
	}
}

func TestBacktrace(t *testing.T) {
	m, _, out := newTestMonitor(t, josStack())
	if status := m.Exec("backtrace", nil); status != 0 {
		t.Fatalf("status %d", status)
	}
	want := "Stack backtrace:\n" +
		"ebp f010ff00 eip f0100069 args 00000001 00000002 00000003 00000004 00000005\n" +
		"\t kern/init.c:13: test_backtrace+41\n" +
		"ebp f010ff20 eip f01000b5 args 00000006 00000007 00000008 00000009 0000000a\n" +
		"\t kern/init.c:24: i386_init+15\n" +
		"ebp f010ff40 eip f0100950 args 0000000b 0000000c 0000000d 0000000e 0000000f\n" +
		"\t kern/monitor.c:150: monitor+80\n"
	if out.String() != want {
		t.Fatalf("unexpected backtrace:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestBacktraceSubstitutePath(t *testing.T) {
	in := &fakeReader{t: t}
	out := new(bytes.Buffer)
	m := New(Options{In: in, Out: out, Target: josStack(), SubstitutePath: func(p string) string { return "/src/jos/" + p }})
	m.Exec("backtrace", nil)
	if !strings.Contains(out.String(), "\t /src/jos/kern/monitor.c:150: monitor+80\n") {
		t.Fatalf("path not substituted:\n%s", out.String())
	}
}

func TestBacktraceUnresolved(t *testing.T) {
	target := josStack()
	target.Symbols = nil
	m, _, out := newTestMonitor(t, target)
	m.Exec("backtrace", nil)
	if n := strings.Count(out.String(), "\t <unknown>:0: <unknown>+0\n"); n != 3 {
		t.Fatalf("expected 3 unresolved frames, got %d:\n%s", n, out.String())
	}
}

func TestBacktraceEmpty(t *testing.T) {
	target := josStack()
	target.FP = 0
	m, _, out := newTestMonitor(t, target)
	m.Exec("backtrace", nil)
	if out.String() != "Stack backtrace:\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestBacktraceFault(t *testing.T) {
	target := josStack()
	img := target.Mem.Mem.(*memory.Image)
	binary.LittleEndian.PutUint32(img.Data[8*4:], 0x1000)
	m, _, out := newTestMonitor(t, target)
	m.Exec("backtrace", nil)
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 2 frames and a stop line, got:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[5], "backtrace stopped: could not read 4 bytes at 0x1004") {
		t.Fatalf("unexpected stop line %q", lines[5])
	}
}

func TestBacktrace64(t *testing.T) {
	img := memory.NewWordImage(0x7ffe0000, 8, nil, 0, 0x401234, 1, 2, 3, 4, 5)
	target := Target{
		Mem: memory.NewWordReader(img, 8, nil),
		FP:  0x7ffe0000,
		Symbols: symbols.NewTable(symbols.Entry{
			Name: "main.main", Start: 0x401200, End: 0x401300, File: "/src/main.go", Line: 7,
		}),
	}
	m, _, out := newTestMonitor(t, target)
	m.Exec("backtrace", nil)
	want := "Stack backtrace:\n" +
		"rbp 000000007ffe0000 rip 0000000000401234 args 0000000000000001 0000000000000002 0000000000000003 0000000000000004 0000000000000005\n" +
		"\t /src/main.go:7: main.main+52\n"
	if out.String() != want {
		t.Fatalf("unexpected backtrace:\n%s", out.String())
	}
}

func TestBacktraceTopOfDump(t *testing.T) {
	target := josStack()
	target.Mem = memory.NewWordReader(memory.NewWordImage(0xf010ff00, 4, nil, 0, 0xf0100069, 1, 2), 4, nil)
	m, _, out := newTestMonitor(t, target)
	m.Exec("backtrace", nil)
	want := "Stack backtrace:\n" +
		"ebp f010ff00 eip f0100069 args 00000001 00000002 00000000 00000000 00000000\n" +
		"\t kern/init.c:13: test_backtrace+41\n"
	if out.String() != want {
		t.Fatalf("unexpected backtrace:\n%s", out.String())
	}
}

func TestRunWithoutInput(t *testing.T) {
	out := new(bytes.Buffer)
	New(Options{Out: out}).Run(nil)
	want := "Welcome to the JOS kernel monitor!\nType 'help' for a list of commands.\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
