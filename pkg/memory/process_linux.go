package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessMemory reads the memory of a live process. The process should be
// stopped (for example under ptrace) while a monitor session inspects it,
// otherwise the stack may change under the walker.
type ProcessMemory struct {
	Pid int
}

// ReadMemory implements Reader.
func (p *ProcessMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(p.Pid, local, remote, 0)
	if err != nil {
		return n, fmt.Errorf("process_vm_readv %d at %#x: %w", p.Pid, addr, err)
	}
	return n, nil
}
