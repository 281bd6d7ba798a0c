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
	"io"
	"net"
	"net/netip"
)

// Errors reported by device implementations
var (
	ErrNotSupported = errors.New("not supported on this device")
)

// Device is a hardware abstraction. All platform collaborators of the
// firmware (radio, flash, GPIO, network, reboot) are reached through it.
type Device interface {
	// Console returns the output for log messages.
	Console() io.Writer

	// LEDPin returns the GPIO with the given number.
	LEDPin(num int) Pin

	// Radio returns the Wi-Fi driver.
	Radio() Radio

	// Updater returns the flash-update driver for the inactive image slot.
	Updater() Updater

	// Listen returns a TCP listener on the given port.
	Listen(port uint16) (net.Listener, error)

	// ListenPacket returns a UDP endpoint on the given port.
	ListenPacket(port uint16) (net.PacketConn, error)

	// Advertise announces an HTTP service via mDNS.
	Advertise(host string, addr netip.Addr, port uint16) (io.Closer, error)

	// Restart reboots into the (new) firmware image. It does not return
	// on success.
	Restart()
}

// Pin is a digital output.
type Pin interface {
	// Configure the pin as output.
	Configure()
	// Set the drive level (true = high).
	Set(high bool)
}

// Radio drives the Wi-Fi chip in access point mode.
type Radio interface {
	// StartAP brings up a soft access point with the given credentials;
	// the device address (and netmask) is taken from prefix.
	StartAP(ssid, passwd string, prefix netip.Prefix) error

	// Disconnect tears down the Wi-Fi state. If eraseCredentials is set,
	// stored credentials are deleted; eraseConfig wipes the radio
	// configuration area.
	Disconnect(eraseCredentials, eraseConfig bool) error
}

// Updater is a streaming writer for a firmware image into the inactive
// flash slot.
type Updater interface {
	// Begin a new image. size < 0 means "unknown".
	Begin(size int64) error
	// Write the next chunk of the image and return the number of bytes
	// accepted.
	Write(p []byte) (int, error)
	// End the image. With commit set, the image is finalized in its slot;
	// otherwise it is discarded. Which image the next restart boots is up
	// to the platform (see FileUpdater and FlashUpdater).
	End(commit bool) error
	// Abort an image in progress.
	Abort() error
	// Capacity of the image slot in bytes (0 = unknown)
	Capacity() int64
}
