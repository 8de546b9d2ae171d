package cmds

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/memory"
	"github.com/go-delve/kmon/pkg/trap"
)

// attach stops the process pid under ptrace and loads its executable. The
// process is detached when the session is closed.
func attach(pid int, exe string) (_ *session, err error) {
	// every ptrace request must come from the tracing thread
	runtime.LockOSThread()

	if err := unix.PtraceAttach(pid); err != nil {
		return nil, fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}
	s := &session{}
	s.closers = append(s.closers, func() error { return unix.PtraceDetach(pid) })
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("waiting for pid %d: %w", pid, err)
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return nil, fmt.Errorf("could not read registers of pid %d: %w", pid, err)
	}
	s.trap = trap.FromPtraceRegs(&regs, int(ws.StopSignal()))
	s.target.Mem = memory.NewWordReader(&memory.ProcessMemory{Pid: pid}, 8, binary.LittleEndian)

	procExe := fmt.Sprintf("/proc/%d/exe", pid)
	if exe == "" {
		exe = procExe
	}
	bias, err := loadBias(pid, exe, procExe)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadKernel(exe, 0, bias); err != nil {
		return nil, err
	}
	if err := s.setFramePointer(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadBias returns the address a position independent executable was
// loaded at. It is zero for other executables.
func loadBias(pid int, exe, procExe string) (uint64, error) {
	ef, err := elf.Open(exe)
	if err != nil {
		return 0, err
	}
	defer ef.Close()
	if ef.Type != elf.ET_DYN {
		return 0, nil
	}

	path, err := os.Readlink(procExe)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	start, ok, err := findMapping(f, path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is not mapped by pid %d", path, pid)
	}
	bias := start - firstLoadAddr(ef)
	logflags.SymbolsLogger().Debugf("%s loaded with bias %#x", path, bias)
	return bias, nil
}

// firstLoadAddr returns the page aligned address of the first loadable
// segment of ef.
func firstLoadAddr(ef *elf.File) uint64 {
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_LOAD {
			align := prog.Align
			if align == 0 {
				align = 1
			}
			return prog.Vaddr &^ (align - 1)
		}
	}
	return 0
}
