package memory

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-delve/kmon/pkg/trap"
)

// buildCore386 lays out a minimal 32-bit x86 core: one PT_NOTE segment
// holding an NT_PRSTATUS note and one PT_LOAD segment with the given
// words, loaded at vaddr / paddr.
func buildCore386(t *testing.T, vaddr, paddr uint32, regs trap.Regs386, words ...uint32) []byte {
	t.Helper()
	const (
		ehsize    = 52
		phentsize = 32
		phnum     = 2
	)

	var note bytes.Buffer
	st := prStatus386{Cursig: 11, Reg: regs}
	var desc bytes.Buffer
	binary.Write(&desc, binary.LittleEndian, &st)
	desc.Write(make([]byte, 4)) // pr_fpvalid
	binary.Write(&note, binary.LittleEndian, noteHeader{Namesz: 5, Descsz: uint32(desc.Len()), Type: uint32(elf.NT_PRSTATUS)})
	note.Write([]byte("CORE\x00\x00\x00\x00"))
	note.Write(desc.Bytes())

	var load bytes.Buffer
	binary.Write(&load, binary.LittleEndian, words)

	noteOff := uint32(ehsize + phnum*phentsize)
	loadOff := noteOff + uint32(note.Len())

	var out bytes.Buffer
	hdr := elf.Header32{
		Type:      uint16(elf.ET_CORE),
		Machine:   uint16(elf.EM_386),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     phnum,
		Shentsize: 40,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&out, binary.LittleEndian, &hdr)
	binary.Write(&out, binary.LittleEndian, &elf.Prog32{
		Type:   uint32(elf.PT_NOTE),
		Off:    noteOff,
		Filesz: uint32(note.Len()),
		Align:  4,
	})
	binary.Write(&out, binary.LittleEndian, &elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Off:    loadOff,
		Vaddr:  vaddr,
		Paddr:  paddr,
		Filesz: uint32(load.Len()),
		Memsz:  uint32(load.Len()),
		Flags:  uint32(elf.PF_R | elf.PF_W),
		Align:  4096,
	})
	out.Write(note.Bytes())
	out.Write(load.Bytes())
	return out.Bytes()
}

func TestReadCore386(t *testing.T) {
	regs := trap.Regs386{Ebp: 0x110008, Eip: 0xf0100040, Esp: 0x110000}
	data := buildCore386(t, 0x110000, 0x110000, regs, 0, 0, 0, 0xf0100123, 1, 2, 3, 4, 5)

	c, err := readCore(bytes.NewReader(data), CoreOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if c.WordSize != 4 || c.Machine != elf.EM_386 {
		t.Fatalf("unexpected core geometry: word size %d, machine %v", c.WordSize, c.Machine)
	}
	if c.Trap == nil {
		t.Fatal("expected a trap frame from NT_PRSTATUS")
	}
	if fp, ok := c.Trap.FramePointer(); !ok || fp != 0x110008 {
		t.Fatalf("FramePointer() = %#x, %v", fp, ok)
	}
	if c.Trap.Signal != 11 {
		t.Fatalf("Signal = %d", c.Trap.Signal)
	}
	ret, err := c.Words().ReadWord(0x11000c)
	if err != nil || ret != 0xf0100123 {
		t.Fatalf("ReadWord = %#x, %v", ret, err)
	}
}

func TestReadCorePhysical(t *testing.T) {
	data := buildCore386(t, 0, 0x110000, trap.Regs386{}, 0xaabbccdd)
	c, err := readCore(bytes.NewReader(data), CoreOptions{Physical: true, KernBase: 0xf0000000})
	if err != nil {
		t.Fatal(err)
	}
	w, err := c.Words().ReadWord(0xf0110000)
	if err != nil || w != 0xaabbccdd {
		t.Fatalf("ReadWord = %#x, %v", w, err)
	}
	if _, err := c.Words().ReadWord(0x110000); err == nil {
		t.Fatal("physical address should not be mapped when remapping to KernBase")
	}
}

func TestOpenCoreRejectsExecutable(t *testing.T) {
	data := buildCore386(t, 0, 0, trap.Regs386{}, 0)
	binary.LittleEndian.PutUint16(data[16:], uint16(elf.ET_EXEC))
	path := filepath.Join(t.TempDir(), "kernel")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenCore(path, CoreOptions{}); err == nil {
		t.Fatal("expected an error opening a non-core ELF file")
	}
}

func TestOpenRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.bin")
	if err := os.WriteFile(path, []byte{0x78, 0x56, 0x34, 0x12}, 0600); err != nil {
		t.Fatal(err)
	}
	img, err := OpenRaw(path, 0xf0117000)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWordReader(img, 4, nil).ReadWord(0xf0117000)
	if err != nil || w != 0x12345678 {
		t.Fatalf("ReadWord = %#x, %v", w, err)
	}
}
