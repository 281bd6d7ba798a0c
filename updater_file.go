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
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// name of the staged image in the staging directory
const stagedImage = "firmware.bin"

// FileUpdater stages firmware images in a directory. A committed image
// is renamed into place, so the slot never holds a partial image. The
// host device execs the slot image on restart.
type FileUpdater struct {
	dir      string
	capacity int64
	f        *os.File
	n        int64
}

// NewFileUpdater for given directory and maximum image size (0 = no limit).
func NewFileUpdater(dir string, capacity int64) *FileUpdater {
	return &FileUpdater{
		dir:      dir,
		capacity: capacity,
	}
}

// Path of the committed image.
func (u *FileUpdater) Path() string {
	return filepath.Join(u.dir, stagedImage)
}

// Begin a new image. An image in progress is discarded.
func (u *FileUpdater) Begin(size int64) (err error) {
	if u.f != nil {
		u.discard()
	}
	if u.capacity > 0 && size > u.capacity {
		return ErrImageTooLarge
	}
	if err = os.MkdirAll(u.dir, 0o755); err != nil {
		return
	}
	if u.f, err = os.Create(u.Path() + ".part"); err != nil {
		return
	}
	u.n = 0
	return
}

// Write next chunk of the image.
func (u *FileUpdater) Write(p []byte) (int, error) {
	if u.f == nil {
		return 0, ErrNotStarted
	}
	if u.capacity > 0 && u.n+int64(len(p)) > u.capacity {
		return 0, ErrImageTooLarge
	}
	n, err := u.f.Write(p)
	u.n += int64(n)
	return n, err
}

// End the image; with commit the staged file replaces the slot content.
func (u *FileUpdater) End(commit bool) error {
	if u.f == nil {
		return ErrNotStarted
	}
	if !commit {
		return u.discard()
	}
	f := u.f
	u.f = nil
	part := f.Name()
	if u.n == 0 {
		f.Close()
		os.Remove(part)
		return ErrEmptyImage
	}
	err := errors.Join(f.Sync(), f.Close())
	if err == nil {
		err = os.Rename(part, u.Path())
	}
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("staging image: %w", err)
	}
	return nil
}

// Abort the image in progress.
func (u *FileUpdater) Abort() error {
	if u.f == nil {
		return nil
	}
	return u.discard()
}

// Capacity of the slot
func (u *FileUpdater) Capacity() int64 {
	return u.capacity
}

func (u *FileUpdater) discard() error {
	f := u.f
	u.f = nil
	err := f.Close()
	if rerr := os.Remove(f.Name()); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
