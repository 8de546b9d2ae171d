package symbols

import (
	"debug/elf"
	"errors"

	"github.com/go-delve/kmon/pkg/logflags"
)

// DefaultKernBase is where the kernel maps physical memory.
const DefaultKernBase = 0xf0000000

// Layout holds the link-time boundaries of a kernel image.
type Layout struct {
	Start uint64 // _start, the physical entry point
	Entry uint64
	Etext uint64 // end of text
	Edata uint64 // end of initialized data
	End   uint64 // end of bss

	KernBase uint64
}

// Phys converts a kernel virtual address to a physical address.
func (l *Layout) Phys(va uint64) uint64 {
	return va - l.KernBase
}

// FootprintKB returns the size of the loaded image in kilobytes, rounded
// up.
func (l *Layout) FootprintKB() uint64 {
	if l.End < l.Entry {
		return 0
	}
	return ((l.End - l.Entry) + 1023) / 1024
}

var layoutNames = map[string][]string{
	"_start": {"_start"},
	"entry":  {"entry"},
	"etext":  {"etext", "_etext", "runtime.etext"},
	"edata":  {"edata", "_edata", "runtime.edata"},
	"end":    {"end", "_end", "runtime.end"},
}

// LoadLayout reads the image boundaries from the symbol table of ef.
// Symbols that can not be found are reported as zero, except for entry
// which falls back to the ELF entry point.
func LoadLayout(ef *elf.File, kernbase uint64) (*Layout, error) {
	syms, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	byName := make(map[string]uint64, len(syms))
	for _, sym := range syms {
		if _, dup := byName[sym.Name]; !dup {
			byName[sym.Name] = sym.Value
		}
	}
	lookup := func(key string) (uint64, bool) {
		for _, name := range layoutNames[key] {
			if v, ok := byName[name]; ok {
				return v, true
			}
		}
		return 0, false
	}

	logger := logflags.SymbolsLogger()
	l := &Layout{KernBase: kernbase}
	for key, dst := range map[string]*uint64{"_start": &l.Start, "entry": &l.Entry, "etext": &l.Etext, "edata": &l.Edata, "end": &l.End} {
		v, ok := lookup(key)
		if !ok {
			if key == "entry" {
				v = ef.Entry
			} else {
				logger.Warnf("image has no %s symbol", key)
			}
		}
		*dst = v
	}
	return l, nil
}
