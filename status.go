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
	"sync/atomic"
	"time"
)

// status codes
const (
	StatUNK    = iota // unknown status (init)
	StatOK            // processing active
	StatDEV           // device failure
	StatCFG           // invalid configuration
	StatAP            // can't start access point
	StatDNS           // can't start DNS responder
	StatLISTEN        // failed to create listener
	StatSRV           // can't serve requests
	StatEXCP          // exception (panic) occured
)

// blink timing
const (
	blinkLongOn   = 1000 * time.Millisecond
	blinkLongOff  = 300 * time.Millisecond
	blinkShortOn  = 150 * time.Millisecond
	blinkShortOff = 150 * time.Millisecond
	blinkPause    = 5 * time.Second
)

// Status handler.
// Shows a failure code on the LED: every long blink counts 5, every
// short blink counts 1. The LED is only taken over once the control
// plane has stopped (or never started).
type Status struct {
	led   *LED
	curr  atomic.Int32 // current state
	sleep func(time.Duration)
}

// NewStatus creates a new status display on the LED.
func NewStatus(led *LED) *Status {
	state := &Status{
		led:   led,
		sleep: time.Sleep,
	}
	state.curr.Store(StatUNK)
	return state
}

// Set status code.
func (state *Status) Set(code int) {
	if state != nil {
		state.curr.Store(int32(code))
	}
}

// Get current status code.
func (state *Status) Get() int {
	return int(state.curr.Load())
}

// Blink the code once.
func (state *Status) Blink(code int) {
	for code > 5 {
		state.pulse(blinkLongOn, blinkLongOff)
		code -= 5
	}
	for range code {
		state.pulse(blinkShortOn, blinkShortOff)
	}
}

// Halt records the code and blinks it forever. The pin is (re-)configured
// first: a halt during startup comes before anything else set it up.
func (state *Status) Halt(code int) {
	state.Set(code)
	state.led.Init()
	for {
		state.Blink(code)
		state.sleep(blinkPause)
	}
}

// Trap critical failures (panic). Must be deferred.
func (state *Status) Trap() {
	if r := recover(); r != nil {
		fmt.Printf("EXCP (status %d): %v\n", state.Get(), r)
		state.Halt(StatEXCP)
	}
}

func (state *Status) pulse(on, off time.Duration) {
	state.led.Set(true)
	state.sleep(on)
	state.led.Set(false)
	state.sleep(off)
}
