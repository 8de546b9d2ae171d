// Package memory implements read-only access to the address space of a
// monitored target: flat dumps, ELF cores and live processes.
package memory

import (
	"encoding/binary"
	"fmt"
)

// Reader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of a 64-bit target regardless of the host word size.
type Reader interface {
	// ReadMemory reads len(buf) bytes starting at addr. A read that
	// touches unmapped memory returns an error instead of faulting.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ReadError is returned when a word can not be read from the target.
type ReadError struct {
	Addr uint64
	Size int
	Err  error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not read %d bytes at %#x: %v", e.Size, e.Addr, e.Err)
	}
	return fmt.Sprintf("could not read %d bytes at %#x", e.Size, e.Addr)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WordReader reads target-sized words out of a Reader.
type WordReader struct {
	Mem   Reader
	Size  int // 4 or 8
	Order binary.ByteOrder
}

// NewWordReader returns a WordReader for mem. A nil order means little
// endian.
func NewWordReader(mem Reader, size int, order binary.ByteOrder) *WordReader {
	if order == nil {
		order = binary.LittleEndian
	}
	return &WordReader{Mem: mem, Size: size, Order: order}
}

// ReadWord reads the word stored at addr.
func (w *WordReader) ReadWord(addr uint64) (uint64, error) {
	var buf [8]byte
	b := buf[:w.Size]
	n, err := w.Mem.ReadMemory(b, addr)
	if err != nil {
		return 0, &ReadError{Addr: addr, Size: w.Size, Err: err}
	}
	if n != w.Size {
		return 0, &ReadError{Addr: addr, Size: w.Size}
	}
	switch w.Size {
	case 4:
		return uint64(w.Order.Uint32(b)), nil
	case 8:
		return w.Order.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported word size %d", w.Size)
}

// Image is a contiguous block of target memory mapped at Base.
type Image struct {
	Base uint64
	Data []byte
}

// ReadMemory implements Reader.
func (m *Image) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.Base || addr-m.Base >= uint64(len(m.Data)) {
		return 0, fmt.Errorf("address %#x outside of image [%#x, %#x)", addr, m.Base, m.Base+uint64(len(m.Data)))
	}
	return copy(buf, m.Data[addr-m.Base:]), nil
}

// NewWordImage builds an Image at base from a list of words, encoded with
// the given size and byte order. It is mostly useful to lay out synthetic
// stacks.
func NewWordImage(base uint64, size int, order binary.ByteOrder, words ...uint64) *Image {
	if order == nil {
		order = binary.LittleEndian
	}
	data := make([]byte, len(words)*size)
	for i, w := range words {
		switch size {
		case 4:
			order.PutUint32(data[i*size:], uint32(w))
		case 8:
			order.PutUint64(data[i*size:], w)
		}
	}
	return &Image{Base: base, Data: data}
}
