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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// shown in place of the AP passphrase
const redacted = "********"

// Firmware is the assembled control plane: LED, OTA orchestrator,
// captive DNS and HTTP router, all driven by one loop.
type Firmware struct {
	cfg     Config
	dev     Device
	log     *slog.Logger
	loop    *Loop
	led     *LED
	control *Control
	ota     *OTA
	router  *Router
	dns     *CaptiveDNS
	srv     *http.Server
	httpLst net.Listener
	mdns    io.Closer
	nsLst   net.Listener
}

// New assembles the firmware for a device. Nothing is started yet.
func New(cfg Config, dev Device, log *slog.Logger) *Firmware {
	if log == nil {
		log = discard()
	}
	f := &Firmware{
		cfg:  cfg,
		dev:  dev,
		log:  log,
		loop: NewLoop(),
		led:  NewLED(dev.LEDPin(cfg.LED.Pin), cfg.LED.ActiveLow),
	}
	var flash Updater = dev.Updater()
	if limit := cfg.OTA.MaxImageSize; limit > 0 {
		flash = &cappedUpdater{Updater: flash, limit: limit}
	}
	f.control = NewControl(cfg.Version, f.led, log.With("component", "control"))
	f.ota = NewOTA(flash, dev.Radio(), dev.Restart, cfg.ConfirmDelay(), log.With("component", "ota"))
	f.router = NewRouter(f.loop, log.With("component", "http"))
	f.dns = NewCaptiveDNS(cfg.APPrefix().Addr(), f.loop, log.With("component", "dns"))
	return f
}

// LED returns the identification LED.
func (f *Firmware) LED() *LED {
	return f.led
}

// OTA returns the update orchestrator.
func (f *Firmware) OTA() *OTA {
	return f.ota
}

// HTTPAddr returns the address of the HTTP listener (after Start).
func (f *Firmware) HTTPAddr() net.Addr {
	if f.httpLst == nil {
		return nil
	}
	return f.httpLst.Addr()
}

// Start brings up the access point and all network services. On failure
// the status code of the failed step is returned.
func (f *Firmware) Start() (int, error) {
	cfg := f.cfg
	f.led.Init()

	// access point
	prefix := cfg.APPrefix()
	if err := f.dev.Radio().StartAP(cfg.AP.SSID, cfg.AP.Passphrase, prefix); err != nil {
		return StatAP, fmt.Errorf("starting access point: %w", err)
	}
	f.log.Info("access point up",
		slog.String("ssid", cfg.AP.SSID),
		slog.String("addr", prefix.String()),
	)

	// captive DNS (the portal still works for clients that open the
	// address directly, so a failure is not fatal)
	if conn, err := f.dev.ListenPacket(cfg.DNSPort); err != nil {
		f.log.Warn("dns responder disabled",
			slog.Int("port", int(cfg.DNSPort)),
			slog.String("err", err.Error()),
		)
	} else {
		f.dns.Start(conn)
		f.loop.Add(f.dns)
	}

	// HTTP control plane
	f.routes()
	lst, err := f.dev.Listen(cfg.HTTPPort)
	if err != nil {
		return StatLISTEN, fmt.Errorf("http listener: %w", err)
	}
	f.httpLst = lst
	f.srv = &http.Server{
		Handler:           f.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(f.log.Handler(), slog.LevelDebug),
	}
	go func() {
		if err := f.srv.Serve(lst); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Error("http server failed", slog.String("err", err.Error()))
		}
	}()
	f.loop.Add(f.router)
	f.log.Info("http server listening", slog.String("addr", lst.Addr().String()))

	// mDNS (best effort)
	if f.mdns, err = f.dev.Advertise(cfg.Hostname, prefix.Addr(), cfg.HTTPPort); err != nil {
		f.mdns = nil
		f.log.Warn("mdns advertisement failed", slog.String("err", err.Error()))
	}

	// status namespace
	if cfg.NinePPort != 0 {
		if err = f.serveNamespace(cfg.NinePPort); err != nil {
			f.log.Warn("status namespace disabled", slog.String("err", err.Error()))
		}
	}
	return StatOK, nil
}

// routes registers the HTTP endpoints.
func (f *Firmware) routes() {
	f.router.Handle(http.MethodGet, "/", servePage)
	f.router.Handle(http.MethodGet, "/info", f.control.HandleInfo)
	f.router.Handle("", "/led", f.control.HandleLED)
	f.router.HandleUpload("/upload", "firmware", f.ota.HandleBody, f.ota.HandleDone)
	f.router.Handle(http.MethodPost, "/confirm", f.ota.HandleConfirm)
}

// Run the event loop until the context is cancelled.
func (f *Firmware) Run(ctx context.Context) {
	f.loop.Run(ctx)
}

// Close all network services.
func (f *Firmware) Close() error {
	var errs []error
	if f.srv != nil {
		errs = append(errs, f.srv.Close())
	}
	errs = append(errs, f.dns.Close())
	if f.mdns != nil {
		errs = append(errs, f.mdns.Close())
	}
	if f.nsLst != nil {
		errs = append(errs, f.nsLst.Close())
	}
	return errors.Join(errs...)
}

// Namespace builds the read-only status file system.
func (f *Firmware) Namespace() (*Namespace, error) {
	ns := NewNamespace("sys", "sys")
	if err := ns.NewDir("/ota", 0555); err != nil {
		return nil, err
	}
	files := []struct {
		path string
		impl File
	}{
		{"/version", NewTextFile(f.cfg.Version + "\n")},
		{"/config", NewFuncFile(f.configYAML)},
		{"/led", NewLoopFile(f.loop, f.led.String)},
		{"/ota/state", NewLoopFile(f.loop, func() string {
			return f.ota.Session().State
		})},
		{"/ota/session", NewLoopFile(f.loop, func() string {
			return f.ota.Session().ID
		})},
		{"/ota/bytes", NewLoopFile(f.loop, func() string {
			return strconv.FormatInt(f.ota.Session().Written, 10)
		})},
	}
	for _, file := range files {
		if err := ns.NewFile(file.path, 0444, file.impl); err != nil {
			return nil, fmt.Errorf("%s: %w", file.path, err)
		}
	}
	return ns, nil
}

// configYAML renders the effective configuration without the passphrase.
func (f *Firmware) configYAML() ([]byte, error) {
	cfg := f.cfg
	if cfg.AP.Passphrase != "" {
		cfg.AP.Passphrase = redacted
	}
	return yaml.Marshal(&cfg)
}

// serveNamespace exports the status file system via 9p.
func (f *Firmware) serveNamespace(port uint16) error {
	ns, err := f.Namespace()
	if err != nil {
		return err
	}
	if f.nsLst, err = f.dev.Listen(port); err != nil {
		return err
	}
	log := f.log.With("component", "9p")
	go func() {
		if err := ns.Serve(f.nsLst, log); err != nil {
			log.Error("9p server failed", slog.String("err", err.Error()))
		}
	}()
	log.Info("status namespace served", slog.String("addr", f.nsLst.Addr().String()))
	return nil
}

//----------------------------------------------------------------------

// cappedUpdater limits the image size below the slot capacity.
type cappedUpdater struct {
	Updater
	limit int64
}

// Capacity returns the smaller of limit and slot size.
func (u *cappedUpdater) Capacity() int64 {
	if c := u.Updater.Capacity(); c > 0 && c < u.limit {
		return c
	}
	return u.limit
}
