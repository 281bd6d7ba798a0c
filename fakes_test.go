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
	"bytes"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
)

// fakePin records drive levels.
type fakePin struct {
	sync.Mutex
	configured bool
	levels     []bool
}

func (p *fakePin) Configure() {
	p.Lock()
	defer p.Unlock()
	p.configured = true
}

func (p *fakePin) Set(high bool) {
	p.Lock()
	defer p.Unlock()
	p.levels = append(p.levels, high)
}

// level returns the last drive level.
func (p *fakePin) level() bool {
	p.Lock()
	defer p.Unlock()
	if len(p.levels) == 0 {
		return false
	}
	return p.levels[len(p.levels)-1]
}

//----------------------------------------------------------------------

// fakeRadio records calls.
type fakeRadio struct {
	sync.Mutex
	startErr    error
	ssid        string
	prefix      netip.Prefix
	disconnects [][2]bool
}

func (r *fakeRadio) StartAP(ssid, _ string, prefix netip.Prefix) error {
	r.Lock()
	defer r.Unlock()
	r.ssid, r.prefix = ssid, prefix
	return r.startErr
}

func (r *fakeRadio) Disconnect(eraseCredentials, eraseConfig bool) error {
	r.Lock()
	defer r.Unlock()
	r.disconnects = append(r.disconnects, [2]bool{eraseCredentials, eraseConfig})
	return nil
}

func (r *fakeRadio) disconnected() [][2]bool {
	r.Lock()
	defer r.Unlock()
	return append([][2]bool(nil), r.disconnects...)
}

//----------------------------------------------------------------------

var errFlash = errors.New("flash failure")

// fakeUpdater records the calls of the OTA orchestrator.
type fakeUpdater struct {
	sync.Mutex
	beginErr   error
	writeErr   error
	shortWrite bool
	endErr     error
	capacity   int64

	begins int
	writes int
	ends   []bool
	aborts int
	data   bytes.Buffer
}

func (u *fakeUpdater) Begin(size int64) error {
	u.Lock()
	defer u.Unlock()
	u.begins++
	if u.beginErr == nil {
		u.data.Reset()
	}
	return u.beginErr
}

func (u *fakeUpdater) Write(p []byte) (int, error) {
	u.Lock()
	defer u.Unlock()
	u.writes++
	if u.writeErr != nil {
		return 0, u.writeErr
	}
	if u.shortWrite && len(p) > 1 {
		p = p[:len(p)/2]
	}
	return u.data.Write(p)
}

func (u *fakeUpdater) End(commit bool) error {
	u.Lock()
	defer u.Unlock()
	u.ends = append(u.ends, commit)
	return u.endErr
}

func (u *fakeUpdater) Abort() error {
	u.Lock()
	defer u.Unlock()
	u.aborts++
	return nil
}

func (u *fakeUpdater) Capacity() int64 {
	return u.capacity
}

// snapshot returns call counts and the written image.
func (u *fakeUpdater) snapshot() (begins, writes, aborts int, ends []bool, data []byte) {
	u.Lock()
	defer u.Unlock()
	return u.begins, u.writes, u.aborts, append([]bool(nil), u.ends...), bytes.Clone(u.data.Bytes())
}

//----------------------------------------------------------------------

// fakeDevice listens on loopback with ephemeral ports.
type fakeDevice struct {
	pin       *fakePin
	radio     *fakeRadio
	flash     *fakeUpdater
	listenErr error
	packet    net.PacketConn
	restarts  chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		pin:      new(fakePin),
		radio:    new(fakeRadio),
		flash:    new(fakeUpdater),
		restarts: make(chan struct{}, 4),
	}
}

func (d *fakeDevice) Console() io.Writer { return io.Discard }
func (d *fakeDevice) LEDPin(int) Pin { return d.pin }
func (d *fakeDevice) Radio() Radio { return d.radio }
func (d *fakeDevice) Updater() Updater { return d.flash }
func (d *fakeDevice) Restart() { d.restarts <- struct{}{} }

func (d *fakeDevice) Listen(uint16) (net.Listener, error) {
	if d.listenErr != nil {
		return nil, d.listenErr
	}
	return net.Listen("tcp", "127.0.0.1:0")
}

func (d *fakeDevice) ListenPacket(uint16) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	d.packet = conn
	return conn, err
}

func (d *fakeDevice) Advertise(string, netip.Addr, uint16) (io.Closer, error) {
	return nil, ErrNotSupported
}
