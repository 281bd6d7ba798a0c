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
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// default delay between the confirm reply and the reboot
const DefaultConfirmDelay = 300 * time.Millisecond

// state of an upload session
type sessionState int

const (
	stateIdle sessionState = iota
	stateWriting
	stateDone
	stateApplied
)

// session is the transient state of one firmware transfer.
type session struct {
	id          string
	state       sessionState
	begun       bool  // Begin succeeded; writer must be ended or aborted
	err         error // latched failure
	completedOK bool  // End(true) succeeded since the last Begin
	written     int64 // bytes accepted by the writer
}

// SessionInfo is a snapshot of the upload session.
type SessionInfo struct {
	ID      string
	State   string // idle, writing, ok, failed, applied
	Written int64
}

// OTA sequences a firmware update against the flash driver:
// begin → write* → end, then confirm → reboot.
type OTA struct {
	flash   Updater
	radio   Radio
	restart func()
	delay   time.Duration
	sess    session
	log     *slog.Logger
}

// NewOTA creates an orchestrator. restart is called (once) after a
// confirmed update once the confirm delay has elapsed.
func NewOTA(flash Updater, radio Radio, restart func(), delay time.Duration, log *slog.Logger) *OTA {
	return &OTA{
		flash:   flash,
		radio:   radio,
		restart: restart,
		delay:   delay,
		log:     log,
	}
}

// Pending returns true if an image was committed and awaits confirmation.
func (o *OTA) Pending() bool {
	return o.sess.completedOK
}

// Session returns a snapshot of the current upload session.
func (o *OTA) Session() SessionInfo {
	info := SessionInfo{
		ID:      o.sess.id,
		Written: o.sess.written,
	}
	switch o.sess.state {
	case stateIdle:
		info.State = "idle"
	case stateWriting:
		info.State = "writing"
	case stateApplied:
		info.State = "applied"
	default:
		if o.sess.completedOK {
			info.State = "ok"
		} else {
			info.State = "failed"
		}
	}
	return info
}

// HandleBody consumes the streamed upload events.
func (o *OTA) HandleBody(up *Upload) {
	switch up.Status {
	case UploadStart:
		o.start(up.Filename)
	case UploadWrite:
		o.write(up.Data)
	case UploadEnd:
		o.end()
	case UploadAborted:
		o.abort(up.Err)
	}
}

// start a new session, superseding any previous one.
func (o *OTA) start(filename string) {
	if o.sess.begun {
		// stale writer of a transfer that never ended
		if err := o.flash.Abort(); err != nil {
			o.log.Warn("abort of stale update failed", slog.String("err", err.Error()))
		}
	}
	o.sess = session{
		id:    uuid.NewString(),
		state: stateWriting,
	}
	o.log.Info("upload started",
		slog.String("session", o.sess.id),
		slog.String("file", filename),
	)
	if err := o.flash.Begin(-1); err != nil {
		o.fail(fmt.Errorf("begin: %w", err))
		return
	}
	o.sess.begun = true
}

// write the next chunk unless the session has failed already.
func (o *OTA) write(data []byte) {
	if o.sess.state != stateWriting || o.sess.err != nil {
		return
	}
	if limit := o.flash.Capacity(); limit > 0 && o.sess.written+int64(len(data)) > limit {
		o.fail(ErrImageTooLarge)
		return
	}
	n, err := o.flash.Write(data)
	o.sess.written += int64(n)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write (%d of %d bytes)", n, len(data))
	}
	if err != nil {
		o.fail(fmt.Errorf("write: %w", err))
	}
}

// end the transfer: commit the image or release the writer.
func (o *OTA) end() {
	if o.sess.state != stateWriting {
		return
	}
	o.sess.state = stateDone
	if o.sess.err != nil {
		o.release()
		return
	}
	o.sess.begun = false
	if err := o.flash.End(true); err != nil {
		o.fail(fmt.Errorf("end: %w", err))
		return
	}
	o.sess.completedOK = true
	o.log.Info("upload complete",
		slog.String("session", o.sess.id),
		slog.Int64("bytes", o.sess.written),
	)
}

// abort the transfer (no complete file received).
func (o *OTA) abort(reason error) {
	if reason == nil {
		reason = ErrNoFirmware
	}
	if o.sess.state != stateWriting {
		// request without a file part: only a fresh start resets the session
		o.log.Warn("upload without firmware", slog.String("err", reason.Error()))
		return
	}
	o.sess.state = stateDone
	o.fail(fmt.Errorf("aborted: %w", reason))
	o.release()
}

// fail latches the first error of the session.
func (o *OTA) fail(err error) {
	o.sess.completedOK = false
	if o.sess.err != nil {
		return
	}
	o.sess.err = err
	o.log.Error("upload failed",
		slog.String("session", o.sess.id),
		slog.Int64("bytes", o.sess.written),
		slog.String("err", err.Error()),
	)
}

// release an open writer without committing.
func (o *OTA) release() {
	if !o.sess.begun {
		return
	}
	o.sess.begun = false
	if err := o.flash.Abort(); err != nil {
		o.log.Warn("abort failed", slog.String("err", err.Error()))
	}
}

// HandleDone sends the upload result.
func (o *OTA) HandleDone(w http.ResponseWriter, r *http.Request) {
	if o.sess.completedOK {
		respondJSON(w, http.StatusOK, reply{Status: "ok"})
		return
	}
	err := &Error{Kind: KindUploadFailed, Msg: "upload failed", Err: o.sess.err}
	if errors.Is(o.sess.err, ErrImageTooLarge) {
		err.Msg = ErrImageTooLarge.Error()
	}
	respondError(w, err)
}

// HandleConfirm applies a committed image: wipe Wi-Fi state, reply,
// close the connection and reboot after the confirm delay.
func (o *OTA) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	if !o.sess.completedOK {
		respondError(w, &Error{Kind: KindBadRequest, Msg: "no pending update"})
		return
	}
	o.sess.completedOK = false
	o.sess.state = stateApplied
	o.log.Info("applying update", slog.String("session", o.sess.id))

	// credentials must be gone before the new image boots
	if err := o.radio.Disconnect(true, true); err != nil {
		o.log.Error("wifi erase failed", slog.String("err", err.Error()))
	}
	w.Header().Set("Connection", "close")
	respondJSON(w, http.StatusOK, reply{Status: "rebooting"})
	if err := http.NewResponseController(w).Flush(); err != nil {
		o.log.Debug("flush failed", slog.String("err", err.Error()))
	}
	time.AfterFunc(o.delay, func() {
		o.log.Info("rebooting")
		o.restart()
	})
}
