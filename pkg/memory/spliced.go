package memory

import (
	"fmt"
	"io"
)

// SplicedMemory is an address space formed from multiple regions, each of
// which may override previously added regions. A QEMU guest dump, for
// example, maps low physical memory once and then the kernel's high
// virtual alias of the same pages again on top of it.
type SplicedMemory struct {
	regions []region
}

type region struct {
	start  uint64
	length uint64
	reader Reader
}

func (e region) end() uint64 {
	return e.start + e.length - 1
}

// Add maps reader at [off, off+length), replacing whatever was mapped
// there before.
func (m *SplicedMemory) Add(reader Reader, off, length uint64) {
	if length == 0 {
		return
	}
	end := off + length - 1
	regions := make([]region, 0, len(m.regions)+2)
	keep := func(e region) {
		if e.length != 0 {
			regions = append(regions, e)
		}
	}
	inserted := false
	insert := func() {
		if !inserted {
			keep(region{off, length, reader})
			inserted = true
		}
	}
	for _, e := range m.regions {
		switch {
		case e.end() < off:
			keep(e)
		case end < e.start:
			insert()
			keep(e)
		case off <= e.start && e.end() <= end:
			// completely covered by the new region
		case e.start < off && e.end() <= end:
			e.length = off - e.start
			keep(e)
		case off <= e.start && end < e.end():
			insert()
			cut := end + 1 - e.start
			e.start += cut
			e.length -= cut
			keep(e)
		case e.start < off && end < e.end():
			keep(region{e.start, off - e.start, e.reader})
			insert()
			keep(region{end + 1, e.end() - end, e.reader})
		default:
			panic(fmt.Sprintf("unhandled overlap: existing %#x+%#x, new %#x+%#x", e.start, e.length, off, length))
		}
	}
	insert()
	m.regions = regions
}

// ReadMemory implements Reader. Reads that span adjacent regions are
// stitched together; a gap in the middle of a read ends it early.
func (m *SplicedMemory) ReadMemory(buf []byte, addr uint64) (n int, err error) {
	started := false
	for _, e := range m.regions {
		if e.start+e.length <= addr {
			continue
		}
		if e.start > addr {
			if !started {
				break
			}
			return n, fmt.Errorf("hit unmapped area at %#x after %d bytes", addr, n)
		}
		started = true

		pb := buf
		if addr+uint64(len(pb)) > e.start+e.length {
			pb = pb[:e.start+e.length-addr]
		}
		pn, err := e.reader.ReadMemory(pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("error while reading spliced memory at %#x: %w", addr, err)
		}
		if pn != len(pb) {
			return n, nil
		}
		buf = buf[pn:]
		addr += uint64(pn)
		if len(buf) == 0 {
			return n, nil
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("address %#x is not mapped", addr)
	}
	return n, nil
}

// Len returns the number of distinct regions currently mapped.
func (m *SplicedMemory) Len() int {
	return len(m.regions)
}

// OffsetReaderAt wraps an io.ReaderAt into a Reader, subtracting a fixed
// offset from the address. A PT_LOAD segment whose data is stored at file
// offset O and mapped at V is represented with Offset = V - O.
type OffsetReaderAt struct {
	Reader io.ReaderAt
	Offset uint64
}

// ReadMemory implements Reader.
func (r *OffsetReaderAt) ReadMemory(buf []byte, addr uint64) (int, error) {
	n, err := r.Reader.ReadAt(buf, int64(addr-r.Offset))
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}
