package trap

import "fmt"

// Regs386 is the i386 user_regs_struct, as stored in the pr_reg field of
// an NT_PRSTATUS core note.
type Regs386 struct {
	Ebx, Ecx, Edx, Esi, Edi, Ebp, Eax uint32
	Ds, Es, Fs, Gs                    uint32
	OrigEax                           uint32
	Eip, Cs, Eflags, Esp, Ss          uint32
}

// RegsAMD64 is the amd64 user_regs_struct.
type RegsAMD64 struct {
	R15, R14, R13, R12, Rbp, Rbx, R11, R10 uint64
	R9, R8, Rax, Rcx, Rdx, Rsi, Rdi        uint64
	OrigRax                                uint64
	Rip, Cs, Eflags, Rsp, Ss               uint64
	FsBase, GsBase                         uint64
	Ds, Es, Fs, Gs                         uint64
}

// From386 returns the frame described by r. The registers are listed in
// the order the kernel's trap entry pushes them.
func From386(r *Regs386, signal int) *Frame {
	d := func(name string, v uint32) Register { return Register{name, uint64(v), 4} }
	w := func(name string, v uint32) Register { return Register{name, uint64(v & 0xffff), 2} }
	return &Frame{
		Arch: "386",
		Regs: []Register{
			d("edi", r.Edi), d("esi", r.Esi), d("ebp", r.Ebp), d("ebx", r.Ebx),
			d("edx", r.Edx), d("ecx", r.Ecx), d("eax", r.Eax),
			w("es", r.Es), w("ds", r.Ds),
			d("eip", r.Eip), w("cs", r.Cs), d("flag", r.Eflags), d("esp", r.Esp), w("ss", r.Ss),
		},
		Signal: signal,
	}
}

// FromAMD64 returns the frame described by r.
func FromAMD64(r *RegsAMD64, signal int) *Frame {
	q := func(name string, v uint64) Register { return Register{name, v, 8} }
	w := func(name string, v uint64) Register { return Register{name, v & 0xffff, 2} }
	return &Frame{
		Arch: "amd64",
		Regs: []Register{
			q("r15", r.R15), q("r14", r.R14), q("r13", r.R13), q("r12", r.R12),
			q("rbp", r.Rbp), q("rbx", r.Rbx), q("r11", r.R11), q("r10", r.R10),
			q("r9", r.R9), q("r8", r.R8), q("rax", r.Rax), q("rcx", r.Rcx),
			q("rdx", r.Rdx), q("rsi", r.Rsi), q("rdi", r.Rdi),
			w("es", r.Es), w("ds", r.Ds),
			q("rip", r.Rip), w("cs", r.Cs), q("flag", r.Eflags), q("rsp", r.Rsp), w("ss", r.Ss),
		},
		Signal: signal,
	}
}

// WordReader reads 32-bit words of a target address space.
type WordReader interface {
	ReadWord(addr uint64) (uint64, error)
}

// trapframeWords is the size of a saved i386 trap frame: the pushal
// block, es, ds, trap number, error code and the hardware frame.
const trapframeWords = 17

// ReadTrapframe reads the i386 trap frame the kernel's trap entry saved
// at addr. mem must read 4 byte words.
func ReadTrapframe(mem WordReader, addr uint64) (*Frame, error) {
	var w [trapframeWords]uint32
	for i := range w {
		v, err := mem.ReadWord(addr + uint64(4*i))
		if err != nil {
			return nil, fmt.Errorf("could not read trap frame at %#x: %w", addr, err)
		}
		w[i] = uint32(v)
	}
	// w[3] is the esp pushed by pushal, it is not restored
	r := &Regs386{
		Edi: w[0], Esi: w[1], Ebp: w[2], Ebx: w[4], Edx: w[5], Ecx: w[6], Eax: w[7],
		Es: w[8], Ds: w[9],
		Eip: w[12], Cs: w[13], Eflags: w[14], Esp: w[15], Ss: w[16],
	}
	f := From386(r, 0)
	f.Addr = addr
	f.Trap = &Trap{No: uint64(w[10]), Err: uint64(w[11])}
	return f, nil
}
