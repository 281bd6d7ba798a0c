//----------------------------------------------------------------------
// This file is part of fundebazi.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// fundebazi is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// fundebazi is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package fundebazi

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// memFlash is a block device in memory. Like NOR flash, a block must be
// erased before it is written.
type memFlash struct {
	data   []byte
	wbs    int64
	ebs    int64
	erased []bool
}

func newMemFlash(size, wbs, ebs int64) *memFlash {
	return &memFlash{
		data:   make([]byte, size),
		wbs:    wbs,
		ebs:    ebs,
		erased: make([]bool, size/ebs),
	}
}

func (f *memFlash) Size() int64 { return int64(len(f.data)) }
func (f *memFlash) WriteBlockSize() int64 { return f.wbs }
func (f *memFlash) EraseBlockSize() int64 { return f.ebs }

func (f *memFlash) EraseBlocks(start, length int64) error {
	for i := start; i < start+length; i++ {
		for j := i * f.ebs; j < (i+1)*f.ebs; j++ {
			f.data[j] = 0xff
		}
		f.erased[i] = true
	}
	return nil
}

func (f *memFlash) WriteAt(p []byte, off int64) (int, error) {
	if off%f.wbs != 0 || int64(len(p))%f.wbs != 0 {
		return 0, fmt.Errorf("unaligned write at %d (%d bytes)", off, len(p))
	}
	for i := off / f.ebs; i <= (off+int64(len(p))-1)/f.ebs; i++ {
		if !f.erased[i] {
			return 0, fmt.Errorf("write to block %d before erase", i)
		}
	}
	return copy(f.data[off:], p), nil
}

func TestFlashUpdaterCommit(t *testing.T) {
	dev := newMemFlash(16384, 256, 4096)
	u := NewFlashUpdater(dev)
	img := randomImage(5000)
	if err := u.Begin(-1); err != nil {
		t.Fatal(err)
	}
	// uneven chunks
	for off, step := 0, 700; off < len(img); off += step {
		chunk := img[off:min(off+step, len(img))]
		if n, err := u.Write(chunk); err != nil || n != len(chunk) {
			t.Fatalf("write: n=%d err=%v", n, err)
		}
	}
	if err := u.End(true); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dev.data[:len(img)], img) {
		t.Fatal("image mismatch")
	}
	// padding up to the write block
	for i := len(img); i < 5120; i++ {
		if dev.data[i] != 0xff {
			t.Fatalf("padding byte %d = %x", i, dev.data[i])
		}
	}
	// only the blocks holding the image were erased
	if !dev.erased[0] || !dev.erased[1] || dev.erased[2] || dev.erased[3] {
		t.Fatalf("erased %v", dev.erased)
	}
}

func TestFlashUpdaterErrors(t *testing.T) {
	dev := newMemFlash(8192, 256, 4096)
	u := NewFlashUpdater(dev)
	if u.Capacity() != 8192 {
		t.Fatalf("capacity %d", u.Capacity())
	}
	if _, err := u.Write([]byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("got %v", err)
	}
	if err := u.Begin(8193); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("got %v", err)
	}
	if err := u.Begin(-1); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Write(make([]byte, 8193)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("got %v", err)
	}
	if err := u.End(true); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("got %v", err)
	}

	// aborted image leaves no buffered tail
	u.Begin(-1)
	u.Write([]byte("tail"))
	u.Abort()
	if err := u.End(true); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("got %v", err)
	}
}
