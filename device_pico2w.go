//go:build rp2350

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
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/stacks"
)

// network stack limits
const (
	mtu          = cyw43439.MTU
	maxTCPPorts  = 2 // HTTP + 9p
	maxUDPPorts  = 1
	maxTCPConns  = 3
	tcpBufSize   = 512
	firstHostPin = 3 // GPIO numbers below are on the radio chip
)

// Pico2WDevice is a Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref    *cyw43439.Device  // reference to device
	stack  *stacks.PortStack // TCP/IP stack (after StartAP)
	leases *LeaseServer      // address leases for AP clients
	log    *slog.Logger
	flash  *FlashUpdater
}

// InitDevice initializes the device.
func InitDevice(cfg Config) Device {
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	dev.log = NewLogger(machine.Serial, cfg.Logging.Level).With("component", "device")
	dev.flash = NewFlashUpdater(machine.Flash)
	return dev
}

// Console for log output
func (dev *Pico2WDevice) Console() io.Writer {
	return machine.Serial
}

// LEDPin returns the GPIO with the given number. The on-board LED is
// GPIO 0 of the radio chip.
func (dev *Pico2WDevice) LEDPin(num int) Pin {
	if num < firstHostPin {
		return &cywPin{dev: dev.ref, num: uint8(num)}
	}
	return &mcuPin{pin: machine.Pin(num)}
}

// Radio returns the Wi-Fi chip.
func (dev *Pico2WDevice) Radio() Radio {
	return dev
}

// Updater writes into the flash area behind the program.
func (dev *Pico2WDevice) Updater() Updater {
	return dev.flash
}

// StartAP initializes the radio, starts the access point and brings up
// the TCP/IP stack on the given address.
func (dev *Pico2WDevice) StartAP(ssid, passwd string, prefix netip.Prefix) error {
	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = dev.log
	start := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return err
	}
	dev.log.Info("cyw43439:Init", slog.Duration("duration", time.Since(start)))

	if err := dev.ref.StartAP(ssid, passwd, 0); err != nil {
		return err
	}
	mac, _ := dev.ref.HardwareAddr6()
	dev.log.Info("access point started",
		slog.String("ssid", ssid),
		slog.String("mac", net.HardwareAddr(mac[:]).String()),
	)
	dev.stack = stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: maxUDPPorts,
		MaxOpenPortsTCP: maxTCPPorts,
		MTU:             mtu,
		Logger:          dev.log,
	})
	dev.stack.SetAddr(prefix.Addr())

	// DHCP requests are broadcast; the stack only takes frames for its
	// own address, so the lease server sees them first.
	dev.leases = NewLeaseServer(mac, prefix, dev.log.With("component", "dhcp"))
	dev.ref.RecvEthHandle(dev.recvEth)

	// Begin asynchronous packet handling.
	go nicLoop(dev.ref, dev.leases, dev.stack)
	return nil
}

// recvEth hands a received frame to the lease server or the stack.
func (dev *Pico2WDevice) recvEth(frame []byte) error {
	if ok, err := dev.leases.RecvEth(frame); ok {
		return err
	}
	return dev.stack.RecvEth(frame)
}

// Disconnect the radio. Credentials are compiled into the image, so
// there is nothing stored to erase.
func (dev *Pico2WDevice) Disconnect(eraseCredentials, eraseConfig bool) error {
	dev.log.Info("wifi disconnected",
		slog.Bool("credentials_erased", eraseCredentials),
		slog.Bool("config_erased", eraseConfig),
	)
	return nil
}

// Listen returns a TCP listener on the given port.
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	if dev.stack == nil {
		return nil, ErrNotSupported
	}
	listener, err := stacks.NewTCPListener(dev.stack, stacks.TCPListenerConfig{
		MaxConnections: maxTCPConns,
		ConnTxBufSize:  tcpBufSize,
		ConnRxBufSize:  tcpBufSize,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

// ListenPacket is not available.
// TODO: serve captive DNS on a seqs UDP port once the stack exposes a
// packet connection.
func (dev *Pico2WDevice) ListenPacket(port uint16) (net.PacketConn, error) {
	return nil, ErrNotSupported
}

// Advertise is not available (no multicast in the stack).
func (dev *Pico2WDevice) Advertise(host string, addr netip.Addr, port uint16) (io.Closer, error) {
	return nil, ErrNotSupported
}

// Restart reboots the chip.
func (dev *Pico2WDevice) Restart() {
	dev.log.Info("restarting")
	time.Sleep(100 * time.Millisecond)
	machine.CPUReset()
}

//----------------------------------------------------------------------

// cywPin is a GPIO of the radio chip.
type cywPin struct {
	dev *cyw43439.Device
	num uint8
}

func (p *cywPin) Configure() {}

func (p *cywPin) Set(high bool) {
	p.dev.GPIOSet(p.num, high)
}

// mcuPin is a GPIO of the RP2350.
type mcuPin struct {
	pin machine.Pin
}

func (p *mcuPin) Configure() {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
}

func (p *mcuPin) Set(high bool) {
	p.pin.Set(high)
}

//----------------------------------------------------------------------

// ethSource produces frames to send.
type ethSource interface {
	HandleEth(dst []byte) (int, error)
}

// nicLoop moves packets between radio and the frame sources (first
// source with pending data wins).
func nicLoop(dev *cyw43439.Device, sources ...ethSource) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		// Poll for incoming packets.
		gotPacket, err := dev.PollOne()
		if err != nil {
			println("poll error:", err.Error())
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			lenBuf[i] = 0
			for _, src := range sources {
				n, err := src.HandleEth(queue[i][:])
				if err != nil {
					println("stack error n(should be 0)=", n, "err=", err.Error())
					continue
				}
				if n > 0 {
					lenBuf[i] = n
					break
				}
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		if lenBuf == [queueSize]int{} {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := dev.SendEth(queue[i][:n]); err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
