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
	"io"
)

// BlockDevice is an erasable flash region (e.g. machine.Flash in TinyGo).
type BlockDevice interface {
	io.WriterAt
	Size() int64
	WriteBlockSize() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// FlashUpdater writes an image into a block device. Erase blocks are
// erased just before they are first written; writes are aligned to the
// write block size and the last block is padded with 0xFF on commit.
// Nothing is marked for boot: the bootloader has to find the image in
// the region behind the program and switch to it.
type FlashUpdater struct {
	dev    BlockDevice
	active bool
	off    int64  // next write offset
	erased int64  // end of erased area
	buf    []byte // unaligned tail
}

// NewFlashUpdater for given block device.
func NewFlashUpdater(dev BlockDevice) *FlashUpdater {
	return &FlashUpdater{
		dev: dev,
		buf: make([]byte, 0, dev.WriteBlockSize()),
	}
}

// Begin a new image.
func (u *FlashUpdater) Begin(size int64) error {
	if size > u.dev.Size() {
		return ErrImageTooLarge
	}
	u.active = true
	u.off, u.erased = 0, 0
	u.buf = u.buf[:0]
	return nil
}

// Write next chunk of the image.
func (u *FlashUpdater) Write(p []byte) (int, error) {
	if !u.active {
		return 0, ErrNotStarted
	}
	if u.off+int64(len(u.buf))+int64(len(p)) > u.dev.Size() {
		return 0, ErrImageTooLarge
	}
	wbs := int(u.dev.WriteBlockSize())
	n := 0
	for n < len(p) {
		k := copy(u.buf[len(u.buf):wbs], p[n:])
		u.buf = u.buf[:len(u.buf)+k]
		n += k
		if len(u.buf) == wbs {
			if err := u.flush(); err != nil {
				return 0, err
			}
		}
	}
	return n, nil
}

// End the image. Without commit the written data is left as garbage in
// the inactive slot.
func (u *FlashUpdater) End(commit bool) error {
	if !u.active {
		return ErrNotStarted
	}
	u.active = false
	if !commit {
		return nil
	}
	if len(u.buf) > 0 {
		wbs := int(u.dev.WriteBlockSize())
		for len(u.buf) < wbs {
			u.buf = append(u.buf, 0xff)
		}
		if err := u.flush(); err != nil {
			return err
		}
	}
	if u.off == 0 {
		return ErrEmptyImage
	}
	return nil
}

// Abort the image in progress.
func (u *FlashUpdater) Abort() error {
	u.active = false
	u.buf = u.buf[:0]
	return nil
}

// Capacity of the slot
func (u *FlashUpdater) Capacity() int64 {
	return u.dev.Size()
}

// flush the (full) buffer to flash.
func (u *FlashUpdater) flush() error {
	end := u.off + int64(len(u.buf))
	ebs := u.dev.EraseBlockSize()
	for u.erased < end {
		if err := u.dev.EraseBlocks(u.erased/ebs, 1); err != nil {
			return err
		}
		u.erased += ebs
	}
	if _, err := u.dev.WriteAt(u.buf, u.off); err != nil {
		return err
	}
	u.off = end
	u.buf = u.buf[:0]
	return nil
}
