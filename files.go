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
	"fmt"
)

// File interface for file handler implementations:
// Read is called by the 9p protocol handler on demand and returns the
// complete file content.
type File interface {
	Read() ([]byte, error)
}

//----------------------------------------------------------------------

// TextFile with (small) static text content.
type TextFile struct {
	body string
}

// NewTextFile with given text content.
func NewTextFile(content string) *TextFile {
	return &TextFile{
		body: content,
	}
}

// Read implementation: return file content.
func (f *TextFile) Read() ([]byte, error) {
	return []byte(f.body), nil
}

//----------------------------------------------------------------------

// FuncFile content is returned by a function.
type FuncFile struct {
	fcn func() ([]byte, error)
}

// NewFuncFile with specified function.
func NewFuncFile(fcn func() ([]byte, error)) *FuncFile {
	return &FuncFile{
		fcn: fcn,
	}
}

// Read implementation: return file content.
func (f *FuncFile) Read() ([]byte, error) {
	return f.fcn()
}

//----------------------------------------------------------------------

// LoopFile evaluates its content on the event loop, so it sees the same
// state as the HTTP handlers.
type LoopFile struct {
	loop *Loop
	fcn  func() string
}

// NewLoopFile with specified function (executed on the loop).
func NewLoopFile(loop *Loop, fcn func() string) *LoopFile {
	return &LoopFile{
		loop: loop,
		fcn:  fcn,
	}
}

// Read implementation: return file content followed by a newline.
func (f *LoopFile) Read() ([]byte, error) {
	var s string
	if !f.loop.Call(func() { s = f.fcn() }) {
		return nil, errStopped
	}
	return fmt.Appendf(nil, "%s\n", s), nil
}
