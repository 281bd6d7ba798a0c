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

// LED is the identification LED on a GPIO with configurable polarity.
// Callers only deal with the logical state.
type LED struct {
	pin      Pin
	onLevel  bool // drive level for "on"
	offLevel bool // drive level for "off"
	on       bool // logical state
}

// NewLED for given pin. An active-low LED lights up when driven low.
func NewLED(pin Pin, activeLow bool) *LED {
	return &LED{
		pin:      pin,
		onLevel:  !activeLow,
		offLevel: activeLow,
	}
}

// Init configures the pin as output and switches the LED off.
func (l *LED) Init() {
	l.pin.Configure()
	l.Set(false)
}

// Set the LED on or off
func (l *LED) Set(on bool) {
	if on {
		l.pin.Set(l.onLevel)
	} else {
		l.pin.Set(l.offLevel)
	}
	l.on = on
}

// On returns the logical LED state.
func (l *LED) On() bool {
	return l.on
}

// String returns "on" or "off".
func (l *LED) String() string {
	return onOff(l.on)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
