// Package symbols maps instruction addresses to functions and source
// lines.
package symbols

import "sort"

// UnknownName is the placeholder used for files and functions that can
// not be resolved.
const UnknownName = "<unknown>"

// SymbolInfo is what a Resolver knows about an instruction address.
type SymbolInfo struct {
	File string // source file name, UnknownName if not known
	Line int    // source line number, 0 if not known

	// FnName holds the name of the enclosing function. Only the first
	// FnNameLen bytes belong to the name: resolvers backed by a string
	// table may hand out a slice of it.
	FnName    string
	FnNameLen int
	FnAddr    uint64 // start address of the enclosing function
	FnNarg    int    // number of declared arguments
}

// Name returns the function name, FnName sliced to FnNameLen.
func (si SymbolInfo) Name() string {
	n := si.FnNameLen
	if n < 0 {
		n = 0
	}
	if n > len(si.FnName) {
		n = len(si.FnName)
	}
	return si.FnName[:n]
}

// Unknown returns the SymbolInfo reported for an address that could not be
// resolved. The offset of addr into the unknown function is zero.
func Unknown(addr uint64) SymbolInfo {
	return SymbolInfo{
		File:      UnknownName,
		Line:      0,
		FnName:    UnknownName,
		FnNameLen: len(UnknownName),
		FnAddr:    addr,
	}
}

// Resolver resolves instruction addresses. Resolve never fails: addresses
// it knows nothing about are described by Unknown.
type Resolver interface {
	Resolve(addr uint64) SymbolInfo
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(addr uint64) SymbolInfo

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(addr uint64) SymbolInfo {
	return f(addr)
}

// Entry describes one function of a Table.
type Entry struct {
	Name  string
	Start uint64
	End   uint64 // exclusive
	File  string
	Line  int // line of the first instruction
	Narg  int
	// Lines maps addresses inside the function to source lines, the last
	// entry not greater than the address wins.
	Lines []LineEntry
}

// LineEntry is one row of a line table.
type LineEntry struct {
	Addr uint64
	Line int
}

// Table is a static Resolver over a list of functions.
type Table struct {
	entries []Entry
}

// NewTable returns a Table for entries.
func NewTable(entries ...Entry) *Table {
	t := &Table{entries: append([]Entry(nil), entries...)}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Start < t.entries[j].Start })
	for i := range t.entries {
		lines := t.entries[i].Lines
		sort.Slice(lines, func(a, b int) bool { return lines[a].Addr < lines[b].Addr })
	}
	return t
}

// Resolve implements Resolver.
func (t *Table) Resolve(addr uint64) SymbolInfo {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start > addr }) - 1
	if i < 0 || addr >= t.entries[i].End {
		return Unknown(addr)
	}
	e := &t.entries[i]
	line := e.Line
	for _, l := range e.Lines {
		if l.Addr > addr {
			break
		}
		line = l.Line
	}
	return SymbolInfo{
		File:      e.File,
		Line:      line,
		FnName:    e.Name,
		FnNameLen: len(e.Name),
		FnAddr:    e.Start,
		FnNarg:    e.Narg,
	}
}
