package memory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestWordReader(t *testing.T) {
	img := NewWordImage(0x1000, 4, nil, 0xdeadbeef, 0x0, 0xf0100000)
	w := NewWordReader(img, 4, nil)
	for i, want := range []uint64{0xdeadbeef, 0, 0xf0100000} {
		got, err := w.ReadWord(0x1000 + uint64(i)*4)
		if err != nil {
			t.Fatalf("ReadWord(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("ReadWord(%d) = %#x, want %#x", i, got, want)
		}
	}

	_, err := w.ReadWord(0x1000 + 12)
	var rerr *ReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReadError past the end of the image, got %v", err)
	}
	if rerr.Addr != 0x100c || rerr.Size != 4 {
		t.Errorf("unexpected read error %#v", rerr)
	}

	// a word straddling the end of the image is a short read
	_, err = w.ReadWord(0x1000 + 10)
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *ReadError for a short read, got %v", err)
	}
}

func TestWordReaderBigEndian64(t *testing.T) {
	img := NewWordImage(0x7ff000, 8, binary.BigEndian, 0x0102030405060708, 42)
	if !bytes.Equal(img.Data[:8], []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("unexpected encoding % x", img.Data[:8])
	}
	w := NewWordReader(img, 8, binary.BigEndian)
	got, err := w.ReadWord(0x7ff008)
	if err != nil || got != 42 {
		t.Fatalf("ReadWord = %d, %v", got, err)
	}
}

func TestImageReadMemory(t *testing.T) {
	img := &Image{Base: 0x100, Data: []byte{1, 2, 3, 4}}
	buf := make([]byte, 3)
	n, err := img.ReadMemory(buf, 0x102)
	if err != nil || n != 2 || !reflect.DeepEqual(buf[:n], []byte{3, 4}) {
		t.Fatalf("ReadMemory = %d, %v, %v", n, err, buf)
	}
	if _, err := img.ReadMemory(buf, 0xff); err == nil {
		t.Fatal("expected error reading below the image base")
	}
}
