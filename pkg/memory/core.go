package memory

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/trap"
)

// ErrNotCore is returned by OpenCore when the file is an ELF file but not
// a core dump.
var ErrNotCore = errors.New("not a core file")

// CoreOptions controls how the segments of a core file are mapped.
type CoreOptions struct {
	// Physical maps PT_LOAD segments at their physical address plus
	// KernBase. Guest dumps taken by QEMU record guest-physical memory, the
	// kernel sees the same pages at KernBase and above.
	Physical bool
	KernBase uint64
}

// Core is the address space and register state recorded in an ELF core
// file.
type Core struct {
	Mem      *SplicedMemory
	WordSize int
	Order    binary.ByteOrder
	Machine  elf.Machine
	// Trap is the context of the first thread found in the core notes,
	// nil if the core has no NT_PRSTATUS note for a supported machine.
	Trap *trap.Frame

	f *os.File
}

// Words returns a WordReader over the core's memory.
func (c *Core) Words() *WordReader {
	return NewWordReader(c.Mem, c.WordSize, c.Order)
}

// Close closes the underlying file.
func (c *Core) Close() error {
	return c.f.Close()
}

// OpenCore opens the ELF core file at path.
func OpenCore(path string, opts CoreOptions) (*Core, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := readCore(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not open core %s: %w", path, err)
	}
	c.f = f
	return c, nil
}

func readCore(r io.ReaderAt, opts CoreOptions) (*Core, error) {
	logger := logflags.MemoryLogger()
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	if ef.Type != elf.ET_CORE {
		return nil, ErrNotCore
	}
	c := &Core{Mem: &SplicedMemory{}, Order: ef.ByteOrder, Machine: ef.Machine}
	switch ef.Class {
	case elf.ELFCLASS32:
		c.WordSize = 4
	case elf.ELFCLASS64:
		c.WordSize = 8
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", ef.Class)
	}

	for _, prog := range ef.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if prog.Filesz == 0 {
				continue
			}
			addr := prog.Vaddr
			if opts.Physical {
				addr = prog.Paddr + opts.KernBase
			}
			c.Mem.Add(&OffsetReaderAt{Reader: prog, Offset: addr}, addr, prog.Filesz)
			logger.Debugf("mapped segment %#x-%#x (%d bytes)", addr, addr+prog.Filesz, prog.Filesz)
		case elf.PT_NOTE:
			if c.Trap != nil {
				continue
			}
			tf, err := readPrStatus(prog.Open(), ef)
			if err != nil {
				return nil, err
			}
			c.Trap = tf
		}
	}
	if c.Mem.Len() == 0 {
		return nil, errors.New("core has no loadable segments")
	}
	return c, nil
}

type noteHeader struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}

type siginfo struct {
	Signo int32
	Code  int32
	Errno int32
}

type timeval32 struct {
	Sec, Usec int32
}

type timeval64 struct {
	Sec, Usec int64
}

// prStatus386 is the 32-bit elf_prstatus kernel struct, without the
// trailing pr_fpvalid field.
type prStatus386 struct {
	Siginfo                      siginfo
	Cursig                       uint16
	_                            [2]uint8
	Sigpend                      uint32
	Sighold                      uint32
	Pid, Ppid, Pgrp, Sid         int32
	Utime, Stime, CUtime, CStime timeval32
	Reg                          trap.Regs386
}

// prStatusAMD64 is the 64-bit elf_prstatus kernel struct, without the
// trailing pr_fpvalid field.
type prStatusAMD64 struct {
	Siginfo                      siginfo
	Cursig                       uint16
	_                            [2]uint8
	Sigpend                      uint64
	Sighold                      uint64
	Pid, Ppid, Pgrp, Sid         int32
	Utime, Stime, CUtime, CStime timeval64
	Reg                          trap.RegsAMD64
}

// readPrStatus scans a PT_NOTE segment for the first NT_PRSTATUS note and
// decodes its registers. Notes are laid out as described in the SysV ABI,
// name and descriptor padded to 4 bytes.
func readPrStatus(r io.ReadSeeker, ef *elf.File) (*trap.Frame, error) {
	logger := logflags.MemoryLogger()
	for {
		var hdr noteHeader
		if err := binary.Read(r, ef.ByteOrder, &hdr); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("reading note header: %w", err)
		}
		if _, err := r.Seek(int64(align4(hdr.Namesz)), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("reading note name: %w", err)
		}
		desc := make([]byte, align4(hdr.Descsz))
		if _, err := io.ReadFull(r, desc); err != nil {
			return nil, fmt.Errorf("reading note descriptor: %w", err)
		}
		desc = desc[:hdr.Descsz]
		if elf.NType(hdr.Type) != elf.NT_PRSTATUS {
			continue
		}
		switch {
		case ef.Class == elf.ELFCLASS32 && ef.Machine == elf.EM_386:
			var st prStatus386
			if err := binary.Read(bytes.NewReader(desc), ef.ByteOrder, &st); err != nil {
				return nil, fmt.Errorf("reading NT_PRSTATUS: %w", err)
			}
			return trap.From386(&st.Reg, int(st.Cursig)), nil
		case ef.Class == elf.ELFCLASS64 && ef.Machine == elf.EM_X86_64:
			var st prStatusAMD64
			if err := binary.Read(bytes.NewReader(desc), ef.ByteOrder, &st); err != nil {
				return nil, fmt.Errorf("reading NT_PRSTATUS: %w", err)
			}
			return trap.FromAMD64(&st.Reg, int(st.Cursig)), nil
		}
		logger.Warnf("ignoring NT_PRSTATUS note for unsupported machine %v", ef.Machine)
		return nil, nil
	}
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// OpenRaw maps the flat memory dump at path starting at base.
func OpenRaw(path string, base uint64) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	logflags.MemoryLogger().Debugf("mapped raw dump %s at %#x-%#x", path, base, base+uint64(len(data)))
	return &Image{Base: base, Data: data}, nil
}
