//go:build !rp2350

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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"syscall"
)

// LinuxDevice runs the firmware on a host (development and testing).
// GPIO and radio are simulated, the update slot is a staging directory.
type LinuxDevice struct {
	log   *slog.Logger
	radio *hostRadio
	flash *FileUpdater
	bind  string // listen address ("" = all interfaces)
}

// InitDevice initializes the host device.
func InitDevice(cfg Config) Device {
	log := NewLogger(os.Stderr, cfg.Logging.Level).With("component", "device")
	return &LinuxDevice{
		log:   log,
		radio: &hostRadio{log: log},
		flash: NewFileUpdater(cfg.OTA.StagingDir, cfg.OTA.MaxImageSize),
		bind:  os.Getenv("FUNDEBAZI_BIND"),
	}
}

// Console for log output
func (dev *LinuxDevice) Console() io.Writer {
	return os.Stderr
}

// LEDPin returns a simulated GPIO.
func (dev *LinuxDevice) LEDPin(num int) Pin {
	return &hostPin{num: num, log: dev.log}
}

// Radio returns the simulated Wi-Fi chip.
func (dev *LinuxDevice) Radio() Radio {
	return dev.radio
}

// Updater stages images in a directory.
func (dev *LinuxDevice) Updater() Updater {
	return dev.flash
}

// Listen returns a TCP listener on the given port.
func (dev *LinuxDevice) Listen(port uint16) (net.Listener, error) {
	cfg := new(net.ListenConfig)
	return cfg.Listen(context.Background(), "tcp", dev.addr(port))
}

// ListenPacket returns a UDP endpoint on the given port.
func (dev *LinuxDevice) ListenPacket(port uint16) (net.PacketConn, error) {
	cfg := new(net.ListenConfig)
	return cfg.ListenPacket(context.Background(), "udp", dev.addr(port))
}

// Restart replaces the running process with the staged image (if one
// was committed) or with itself.
func (dev *LinuxDevice) Restart() {
	prog, err := os.Executable()
	if err != nil {
		dev.log.Error("restart failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if img := dev.flash.Path(); fileExists(img) {
		if err = os.Chmod(img, 0o755); err == nil {
			prog = img
		}
	}
	dev.log.Info("restarting", slog.String("image", prog))
	err = syscall.Exec(prog, append([]string{filepath.Base(prog)}, os.Args[1:]...), os.Environ())
	dev.log.Error("restart failed", slog.String("err", err.Error()))
	os.Exit(1)
}

func (dev *LinuxDevice) addr(port uint16) string {
	return net.JoinHostPort(dev.bind, fmt.Sprint(port))
}

func fileExists(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && fi.Mode().IsRegular()
}

//----------------------------------------------------------------------

// hostPin logs level changes.
type hostPin struct {
	num int
	log *slog.Logger
}

func (p *hostPin) Configure() {
	p.log.Debug("gpio configured", slog.Int("pin", p.num))
}

func (p *hostPin) Set(high bool) {
	p.log.Debug("gpio set", slog.Int("pin", p.num), slog.Bool("high", high))
}

//----------------------------------------------------------------------

// hostRadio uses the host network; the access point is only logged.
type hostRadio struct {
	log *slog.Logger
}

func (r *hostRadio) StartAP(ssid, _ string, prefix netip.Prefix) error {
	r.log.Info("soft ap simulated", slog.String("ssid", ssid), slog.String("addr", prefix.String()))
	return nil
}

func (r *hostRadio) Disconnect(eraseCredentials, eraseConfig bool) error {
	r.log.Info("wifi disconnected",
		slog.Bool("credentials_erased", eraseCredentials),
		slog.Bool("config_erased", eraseConfig),
	)
	return nil
}
