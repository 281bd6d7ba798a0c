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

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bfix/fundebazi"
)

// Build settings (set with -ldflags "-X main.<name>=<value>")
var (
	Version      string
	SSID         string
	Passwd       string
	Port         string
	LEDPin       string
	LEDActiveLow string
)

// run the provisioning firmware
func main() {
	cfg := fundebazi.DefaultConfig()
	cfgErr := configure(&cfg)

	// access device
	dev := fundebazi.InitDevice(cfg)
	log := fundebazi.NewLogger(dev.Console(), cfg.Logging.Level)
	state := fundebazi.NewStatus(fundebazi.NewLED(dev.LEDPin(cfg.LED.Pin), cfg.LED.ActiveLow))
	defer state.Trap()

	if cfgErr != nil {
		log.Error("invalid configuration", slog.String("err", cfgErr.Error()))
		state.Halt(fundebazi.StatCFG)
	}
	log.Info("starting firmware",
		slog.String("version", cfg.Version),
		slog.String("ssid", cfg.AP.SSID),
	)

	fw := fundebazi.New(cfg, dev, log)
	if code, err := fw.Start(); err != nil {
		log.Error("startup failed", slog.Int("status", code), slog.String("err", err.Error()))
		fw.Close()
		state.Halt(code)
	}
	state.Set(fundebazi.StatOK)
	fw.Run(context.Background())
}

// configure applies build settings, then (where a file system and an
// environment exist) the configuration file and FUNDEBAZI_* variables.
func configure(cfg *fundebazi.Config) error {
	if err := cfg.ApplyBuild(fundebazi.BuildVars{
		Version:      Version,
		HTTPPort:     Port,
		SSID:         SSID,
		Passphrase:   Passwd,
		LEDPin:       LEDPin,
		LEDActiveLow: LEDActiveLow,
	}); err != nil {
		return err
	}
	if path := os.Getenv("FUNDEBAZI_CONFIG"); path != "" {
		if err := cfg.Load(path); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	return cfg.Validate()
}
