// Package trap describes the exception context a monitor session may be
// entered with, and renders it the way the kernel prints a trap frame.
package trap

import (
	"fmt"
	"io"
	"syscall"
)

// Trap numbers with a dedicated name outside of the processor exception
// range.
const (
	IRQOffset = 32
	Syscall   = 48
)

var excnames = []string{
	"Divide error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"BOUND Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection",
	"Page Fault",
	"(unknown trap)",
	"x87 FPU Floating-Point Error",
	"Alignment Check",
	"Machine-Check",
	"SIMD Floating-Point Exception",
}

// TrapName returns a human readable name for trap number n.
func TrapName(n uint64) string {
	switch {
	case n < uint64(len(excnames)):
		return excnames[n]
	case n == Syscall:
		return "System call"
	case n >= IRQOffset && n < IRQOffset+16:
		return "Hardware Interrupt"
	}
	return "(unknown trap)"
}

// Register is one saved register of a trap frame.
type Register struct {
	Name  string
	Value uint64
	Size  int // in bytes
}

// Trap is the trap number and error code pushed by the processor.
type Trap struct {
	No  uint64
	Err uint64
}

// Frame is a captured exception context.
type Frame struct {
	Arch string
	// Addr is the address the frame was saved at in the target, 0 when
	// the registers were captured out of band (core notes, ptrace).
	Addr   uint64
	Regs   []Register
	Trap   *Trap
	Signal int
}

// Reg returns the value of the named register.
func (f *Frame) Reg(name string) (uint64, bool) {
	for _, r := range f.Regs {
		if r.Name == name {
			return r.Value, true
		}
	}
	return 0, false
}

// FramePointer returns the saved frame pointer register.
func (f *Frame) FramePointer() (uint64, bool) {
	if v, ok := f.Reg("ebp"); ok {
		return v, true
	}
	return f.Reg("rbp")
}

// WordSize returns the size of the general purpose registers.
func (f *Frame) WordSize() int {
	for _, r := range f.Regs {
		if r.Size > 2 {
			return r.Size
		}
	}
	return 4
}

// Print writes f to w.
func (f *Frame) Print(w io.Writer) {
	width := 2 * f.WordSize()
	fmt.Fprintf(w, "TRAP frame at 0x%0*x\n", width, f.Addr)
	words := f.Regs
	var tail []Register
	// registers after the instruction pointer are printed after the trap
	// number, as the processor pushes them in that order
	for i, r := range f.Regs {
		if r.Name == "eip" || r.Name == "rip" {
			words, tail = f.Regs[:i], f.Regs[i:]
			break
		}
	}
	for _, r := range words {
		printReg(w, r)
	}
	if f.Trap != nil {
		fmt.Fprintf(w, "  trap 0x%08x %s\n", f.Trap.No, TrapName(f.Trap.No))
		fmt.Fprintf(w, "  err  0x%08x\n", f.Trap.Err)
	} else if f.Signal != 0 {
		fmt.Fprintf(w, "  signal %d (%v)\n", f.Signal, syscall.Signal(f.Signal))
	}
	for _, r := range tail {
		printReg(w, r)
	}
}

func printReg(w io.Writer, r Register) {
	if r.Size == 2 {
		fmt.Fprintf(w, "  %-4s 0x----%04x\n", r.Name, r.Value)
		return
	}
	fmt.Fprintf(w, "  %-4s 0x%0*x\n", r.Name, 2*r.Size, r.Value)
}
