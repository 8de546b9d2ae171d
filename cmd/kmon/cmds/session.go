package cmds

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/memory"
	"github.com/go-delve/kmon/pkg/monitor"
	"github.com/go-delve/kmon/pkg/symbols"
	"github.com/go-delve/kmon/pkg/trap"
)

// session is a loaded target and the resources backing it.
type session struct {
	target  monitor.Target
	trap    *trap.Frame
	closers []func() error
}

// Close releases the resources of s, in reverse order of acquisition.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logflags.MonitorLogger().Errorf("closing session: %v", err)
		}
	}
	s.closers = nil
}

// loadKernel loads the symbols and layout of the image at path. The
// returned resolver adds bias to every address.
func (s *session) loadKernel(path string, kernbase, bias uint64) (*elf.File, error) {
	res, ef, err := symbols.OpenELF(path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, ef.Close)
	res.Bias = bias

	layout, err := symbols.LoadLayout(ef, kernbase)
	if err != nil {
		return nil, fmt.Errorf("could not read layout of %s: %w", path, err)
	}
	if bias != 0 {
		layout.Start += bias
		layout.Entry += bias
		layout.Etext += bias
		layout.Edata += bias
		layout.End += bias
	}

	cached, err := symbols.NewCachedResolver(res, conf.GetSymbolCacheSize())
	if err != nil {
		return nil, err
	}
	s.target.Symbols = cached
	s.target.Layout = layout
	return ef, nil
}

// openCore loads a kernel image and a dump of its memory.
func openCore(kernelPath, corePath string) (_ *session, err error) {
	kb, err := getKernBase()
	if err != nil {
		return nil, err
	}
	s := &session{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	ef, err := s.loadKernel(kernelPath, kb, 0)
	if err != nil {
		return nil, err
	}

	if raw {
		base, err := parseAddr("base", rawBase)
		if err != nil {
			return nil, err
		}
		img, err := memory.OpenRaw(corePath, base)
		if err != nil {
			return nil, err
		}
		size := wordSize
		if size == 0 {
			size = classWordSize(ef.Class)
		}
		if size != 4 && size != 8 {
			return nil, fmt.Errorf("invalid word size %d", size)
		}
		s.target.Mem = memory.NewWordReader(img, size, ef.ByteOrder)
	} else {
		c, err := memory.OpenCore(corePath, memory.CoreOptions{Physical: physical, KernBase: kb})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, c.Close)
		if c.Machine != ef.Machine {
			fmt.Fprintf(os.Stderr, "Warning: core machine %v does not match kernel machine %v\n", c.Machine, ef.Machine)
		}
		s.target.Mem = c.Words()
		s.trap = c.Trap
	}

	if trapFrame != "" {
		if err := s.readTrapFrame(); err != nil {
			return nil, err
		}
	}
	if err := s.setFramePointer(); err != nil {
		return nil, err
	}
	return s, nil
}

// readTrapFrame replaces the registers of the core with the trap frame
// saved in memory at the --trapframe address.
func (s *session) readTrapFrame() error {
	addr, err := parseAddr("trap frame address", trapFrame)
	if err != nil {
		return err
	}
	if s.target.Mem.Size != 4 {
		return fmt.Errorf("--trapframe needs a 32-bit target, word size is %d", s.target.Mem.Size)
	}
	tf, err := trap.ReadTrapframe(s.target.Mem, addr)
	if err != nil {
		return err
	}
	s.trap = tf
	return nil
}

// setFramePointer picks the frame backtraces start from: the --fp flag,
// or the frame pointer saved in the trap frame.
func (s *session) setFramePointer() error {
	if framePointer != "" {
		fp, err := parseAddr("frame pointer", framePointer)
		if err != nil {
			return err
		}
		s.target.FP = fp
		return nil
	}
	if s.trap != nil {
		if fp, ok := s.trap.FramePointer(); ok {
			s.target.FP = fp
			return nil
		}
	}
	fmt.Fprintln(os.Stderr, "Warning: no saved registers and no --fp, backtrace will be empty")
	return nil
}

func classWordSize(class elf.Class) int {
	if class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}
