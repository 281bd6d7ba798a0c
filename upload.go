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
	"net/http"
)

// size of the chunks handed to upload callbacks
const uploadChunkSize = 1436

// UploadStatus is the phase of a streamed file upload.
type UploadStatus int

// upload phases
const (
	UploadStart   UploadStatus = iota // file part begins
	UploadWrite                       // next chunk of the file
	UploadEnd                         // file part complete
	UploadAborted                     // request ended without a complete file
)

// String returns a human-readable phase name.
func (s UploadStatus) String() string {
	switch s {
	case UploadStart:
		return "start"
	case UploadWrite:
		return "write"
	case UploadEnd:
		return "end"
	case UploadAborted:
		return "aborted"
	}
	return "unknown"
}

// Upload is the event passed to an UploadFunc.
type Upload struct {
	Status   UploadStatus
	Field    string // form field name
	Filename string // client-side file name
	Data     []byte // chunk (UploadWrite only; valid during the call)
	Total    int64  // bytes received so far
	Err      error  // reason (UploadAborted only)
}

// UploadFunc consumes upload events. For every upload request it sees
// UploadStart, zero or more UploadWrite and then exactly one of
// UploadEnd or UploadAborted; a request without a file yields a single
// UploadAborted.
type UploadFunc func(up *Upload)

// stream the first file in the named multipart field to fn.
func (rt *Router) stream(r *http.Request, field string, fn UploadFunc) {
	mr, err := r.MultipartReader()
	if err != nil {
		fn(&Upload{Status: UploadAborted, Field: field, Err: err})
		return
	}
	done := false
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !done {
				fn(&Upload{Status: UploadAborted, Field: field, Err: err})
			}
			return
		}
		// skip other fields and any further file (drained by NextPart)
		if done || part.FormName() != field {
			continue
		}
		up := &Upload{
			Status:   UploadStart,
			Field:    field,
			Filename: part.FileName(),
		}
		fn(up)
		for {
			n, err := fill(part, rt.buf)
			if n > 0 {
				up.Status = UploadWrite
				up.Data = rt.buf[:n]
				up.Total += int64(n)
				fn(up)
				up.Data = nil
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				up.Status = UploadAborted
				up.Err = err
				fn(up)
				return
			}
		}
		up.Status = UploadEnd
		fn(up)
		done = true
	}
	if !done {
		fn(&Upload{Status: UploadAborted, Field: field, Err: ErrNoFirmware})
	}
}

// fill reads until buf is full or the reader fails. Unlike io.ReadFull,
// a clean io.EOF is passed through unchanged so that a truncated body
// (io.ErrUnexpectedEOF from the multipart reader) stays distinguishable.
func fill(r io.Reader, buf []byte) (n int, err error) {
	for n < len(buf) {
		var m int
		m, err = r.Read(buf[n:])
		n += m
		if err != nil {
			return
		}
	}
	return
}
