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
	"log/slog"
	"net/http"
)

// Info is the device description returned by /info.
type Info struct {
	Version string `json:"version"`
	LED     string `json:"led"`
}

// Control implements the LED and info endpoints.
type Control struct {
	version string
	led     *LED
	log     *slog.Logger
}

// NewControl for given firmware version and LED.
func NewControl(version string, led *LED, log *slog.Logger) *Control {
	if version == "" {
		version = UnknownVersion
	}
	return &Control{
		version: version,
		led:     led,
		log:     log,
	}
}

// Info returns the current device description.
func (c *Control) Info() Info {
	return Info{
		Version: c.version,
		LED:     c.led.String(),
	}
}

// HandleInfo reports version and LED state.
func (c *Control) HandleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, c.Info())
}

// HandleLED switches the LED as requested by the "state" parameter.
func (c *Control) HandleLED(w http.ResponseWriter, r *http.Request) {
	switch state := r.URL.Query().Get("state"); state {
	case "on", "off":
		c.led.Set(state == "on")
		c.log.Info("led switched", slog.String("state", state))
		respondJSON(w, http.StatusOK, reply{Status: "ok", LED: c.led.String()})
	default:
		respondError(w, &Error{Kind: KindBadRequest, Msg: "state must be on/off"})
	}
}
