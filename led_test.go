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
	"testing"
)

func TestLEDPolarity(t *testing.T) {
	for _, activeLow := range []bool{true, false} {
		pin := new(fakePin)
		led := NewLED(pin, activeLow)
		led.Init()
		if !pin.configured {
			t.Fatal("pin not configured")
		}
		if led.On() || pin.level() != activeLow {
			t.Fatalf("activeLow=%v: LED not off after init", activeLow)
		}
		led.Set(true)
		if !led.On() || pin.level() == activeLow {
			t.Fatalf("activeLow=%v: LED not on", activeLow)
		}
		if led.String() != "on" {
			t.Fatalf("got %q", led.String())
		}
		led.Set(false)
		if led.On() || pin.level() != activeLow || led.String() != "off" {
			t.Fatalf("activeLow=%v: LED not off", activeLow)
		}
	}
}

func TestLEDSetIdempotent(t *testing.T) {
	pin := new(fakePin)
	led := NewLED(pin, true)
	led.Init()
	led.Set(true)
	led.Set(true)
	if !led.On() || pin.level() {
		t.Fatal("LED should stay on (driven low)")
	}
}
