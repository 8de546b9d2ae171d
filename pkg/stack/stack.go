// Package stack walks saved frame-pointer chains.
//
// Every function compiled with frame pointers starts by pushing the
// caller's frame pointer and making the stack pointer the new frame
// pointer, so the stack of a stopped thread looks like this:
//
//	      ...
//	+------------+
//	|    arg5    |  fp[6]
//	|    ...     |
//	|    arg1    |  fp[2]
//	+------------+
//	|    ret     |  fp[1]  return address into the caller
//	+------------+
//	|  saved fp  |  fp[0]  <- fp
//	+------------+
//	      ...
//
// The walker follows fp[0] until it reads a null frame pointer. It trusts
// the chain: the only checks performed are for a null pointer and for
// words the address space can not provide.
package stack

import (
	"errors"

	"github.com/go-delve/kmon/pkg/logflags"
	"github.com/go-delve/kmon/pkg/memory"
)

// NumArgs is the number of argument words reported for every frame. The
// real number of arguments depends on the callee, the words past the
// callee's arguments belong to the caller's frame.
const NumArgs = 5

// ErrMaxDepth is returned by Iterator.Err when the walk was cut short
// by Iterator.MaxDepth.
var ErrMaxDepth = errors.New("maximum stack depth reached")

// Frame is one activation record on the call stack.
type Frame struct {
	// FP is the address of the frame's saved frame pointer slot.
	FP uint64
	// Ret is the address the frame will return to in its caller.
	Ret uint64
	// Args are the NumArgs words stored after the return address.
	Args [NumArgs]uint64
}

// Offset returns the distance of ret from the start of the function
// containing it.
func Offset(ret, fnStart uint64) uint64 {
	return ret - fnStart
}

// Iterator holds the state of a single walk. Frames are read on demand, a
// walk never materializes the whole chain.
type Iterator struct {
	// MaxDepth, if positive, stops the walk after that many frames.
	MaxDepth int

	mem   *memory.WordReader
	fp    uint64
	frame Frame
	depth int
	err   error
	log   logflags.Logger
}

// Walk returns an iterator over the frames of the chain starting at fp.
func Walk(mem *memory.WordReader, fp uint64) *Iterator {
	return &Iterator{mem: mem, fp: fp, log: logflags.StackLogger()}
}

// Next reads the next frame of the chain and reports whether there was
// one.
func (it *Iterator) Next() bool {
	if it.err != nil || it.fp == 0 {
		return false
	}
	if it.MaxDepth > 0 && it.depth >= it.MaxDepth {
		it.err = ErrMaxDepth
		return false
	}
	w := uint64(it.mem.Size)
	frame := Frame{FP: it.fp}
	var err error
	frame.Ret, err = it.mem.ReadWord(it.fp + w)
	if err != nil {
		it.err = err
		return false
	}
	next, err := it.mem.ReadWord(it.fp)
	if err != nil {
		it.err = err
		return false
	}
	// argument slots past the end of readable memory are left zero
	for i := range frame.Args {
		arg, err := it.mem.ReadWord(it.fp + uint64(2+i)*w)
		if err != nil {
			if logflags.Stack() {
				it.log.Debugf("frame %d: argument %d unreadable: %v", it.depth, i, err)
			}
			continue
		}
		frame.Args[i] = arg
	}
	if logflags.Stack() {
		it.log.Debugf("frame %d: fp=%#x ret=%#x next=%#x", it.depth, frame.FP, frame.Ret, next)
	}
	it.frame = frame
	it.fp = next
	it.depth++
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *Iterator) Frame() Frame {
	return it.frame
}

// Depth returns the number of frames read so far.
func (it *Iterator) Depth() int {
	return it.depth
}

// Err returns the error that stopped the walk, if any. A chain that ends
// with a null frame pointer is not an error.
func (it *Iterator) Err() error {
	return it.err
}

// Frames walks the whole chain starting at fp.
func Frames(mem *memory.WordReader, fp uint64) ([]Frame, error) {
	var frames []Frame
	it := Walk(mem, fp)
	for it.Next() {
		frames = append(frames, it.Frame())
	}
	return frames, it.Err()
}
