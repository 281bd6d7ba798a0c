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
	"encoding/json"
	"errors"
	"net/http"
)

// Error messages
var (
	ErrImageTooLarge = errors.New("image exceeds update partition")
	ErrEmptyImage    = errors.New("empty image")
	ErrNotStarted    = errors.New("no update in progress")
	ErrNoFirmware    = errors.New("no firmware in request")
)

// ErrorKind classifies errors reported to HTTP clients.
type ErrorKind int

// error kinds
const (
	KindBadRequest   ErrorKind = iota // client value invalid or precondition unmet
	KindUploadFailed                  // flash driver failed during begin/write/end
	KindNotFound                      // no such route (rendered as redirect)
)

// Error is a client-facing error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error returns the client message.
func (e *Error) Error() string {
	return e.Msg
}

// Unwrap returns the cause (if any).
func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusFound
	}
	if errors.Is(e.Err, ErrImageTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

//----------------------------------------------------------------------

// reply is the JSON envelope of all control endpoints.
type reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	LED     string `json:"led,omitempty"`
}

// respondJSON writes v as JSON with the given status code. A value that
// does not encode is answered with 500 instead.
func respondJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// a failed write means the client is gone
	_, _ = w.Write(body)
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, err *Error) {
	respondJSON(w, err.Status(), reply{
		Status:  "error",
		Message: err.Msg,
	})
}
