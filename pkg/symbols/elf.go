package symbols

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/go-delve/kmon/pkg/logflags"
)

type function struct {
	name  string
	start uint64
	size  uint64
}

type lineRow struct {
	addr uint64
	file string
	line int
	end  bool // end of a sequence, addresses from here on are not covered
}

// ELFResolver resolves addresses using the symbol table and, when
// present, the DWARF debug information of an ELF image.
type ELFResolver struct {
	// Bias is added to every address in the image, it is the load bias
	// of a position independent executable.
	Bias uint64

	funcs []function
	lines []lineRow
	nargs map[uint64]int
}

// NewELFResolver loads the symbols of ef.
func NewELFResolver(ef *elf.File) (*ELFResolver, error) {
	logger := logflags.SymbolsLogger()
	r := &ELFResolver{nargs: make(map[uint64]int)}
	if err := r.loadSymbols(ef); err != nil {
		return nil, err
	}
	d, err := ef.DWARF()
	if err != nil {
		logger.Warnf("no DWARF information, file and line numbers will not be available: %v", err)
	} else if err := r.loadDWARF(d); err != nil {
		logger.Warnf("could not read DWARF information: %v", err)
	}
	logger.Debugf("loaded %d functions, %d line table rows", len(r.funcs), len(r.lines))
	return r, nil
}

// OpenELF opens the executable at path and loads its symbols.
func OpenELF(path string) (*ELFResolver, *elf.File, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := NewELFResolver(ef)
	if err != nil {
		ef.Close()
		return nil, nil, fmt.Errorf("could not load symbols of %s: %w", path, err)
	}
	return r, ef, nil
}

func (r *ELFResolver) loadSymbols(ef *elf.File) error {
	syms, err := ef.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil
		}
		return err
	}
	for _, sym := range syms {
		if sym.Value == 0 || sym.Name == "" {
			continue
		}
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC:
		case elf.STT_NOTYPE:
			// assembly labels in executable sections
			if sym.Section < elf.SHN_LORESERVE && int(sym.Section) < len(ef.Sections) &&
				ef.Sections[sym.Section].Flags&elf.SHF_EXECINSTR != 0 {
				break
			}
			continue
		default:
			continue
		}
		r.funcs = append(r.funcs, function{name: symbolName(sym.Name), start: sym.Value, size: sym.Size})
	}
	sort.SliceStable(r.funcs, func(i, j int) bool { return r.funcs[i].start < r.funcs[j].start })
	return nil
}

// symbolName returns the source name of a linker symbol. C++ and Rust
// names are demangled without their parameter lists, other names are
// returned unchanged.
func symbolName(raw string) string {
	return demangle.Filter(raw, demangle.NoParams)
}

func (r *ELFResolver) loadDWARF(d *dwarf.Data) error {
	rdr := d.Reader()
	depth := 0
	inSub, subDepth := false, 0
	var subLow uint64
	for {
		e, err := rdr.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			if inSub && depth < subDepth {
				inSub = false
			}
			continue
		}
		switch e.Tag {
		case dwarf.TagCompileUnit:
			if err := r.loadLines(d, e); err != nil {
				return err
			}
		case dwarf.TagSubprogram:
			if low, ok := e.Val(dwarf.AttrLowpc).(uint64); ok {
				r.nargs[low] = 0
				if e.Children {
					inSub, subDepth, subLow = true, depth+1, low
				}
			}
		case dwarf.TagFormalParameter:
			if inSub && depth == subDepth {
				r.nargs[subLow]++
			}
		}
		if e.Children {
			depth++
		}
	}
	sort.SliceStable(r.lines, func(i, j int) bool {
		a, b := r.lines[i], r.lines[j]
		if a.addr != b.addr {
			return a.addr < b.addr
		}
		return a.end && !b.end
	})
	return nil
}

func (r *ELFResolver) loadLines(d *dwarf.Data, cu *dwarf.Entry) error {
	lr, err := d.LineReader(cu)
	if err != nil {
		return err
	}
	if lr == nil {
		return nil
	}
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			break
		}
		row := lineRow{addr: le.Address, line: le.Line, end: le.EndSequence}
		if le.File != nil {
			row.file = le.File.Name
		}
		r.lines = append(r.lines, row)
	}
	return nil
}

// Resolve implements Resolver.
func (r *ELFResolver) Resolve(addr uint64) SymbolInfo {
	a := addr - r.Bias
	i := sort.Search(len(r.funcs), func(i int) bool { return r.funcs[i].start > a }) - 1
	if i < 0 {
		return Unknown(addr)
	}
	fn := r.funcs[i]
	if fn.size != 0 && a >= fn.start+fn.size {
		return Unknown(addr)
	}
	si := SymbolInfo{
		File:      UnknownName,
		FnName:    fn.name,
		FnNameLen: len(fn.name),
		FnAddr:    fn.start + r.Bias,
		FnNarg:    r.nargs[fn.start],
	}
	j := sort.Search(len(r.lines), func(j int) bool { return r.lines[j].addr > a }) - 1
	if j >= 0 && !r.lines[j].end {
		si.File = r.lines[j].file
		si.Line = r.lines[j].line
	}
	return si
}
