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
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UnknownVersion is reported if no firmware version was set at build time.
const UnknownVersion = "unknown"

// Config of the firmware. Defaults are compiled in; build settings,
// a YAML file and environment variables (on hosts) override them.
type Config struct {
	Version   string        `yaml:"-"`
	Hostname  string        `yaml:"hostname"`
	HTTPPort  uint16        `yaml:"http_port"`
	DNSPort   uint16        `yaml:"dns_port"`
	NinePPort uint16        `yaml:"ninep_port"` // 0 = disabled
	AP        APConfig      `yaml:"ap"`
	LED       LEDConfig     `yaml:"led"`
	OTA       OTAConfig     `yaml:"ota"`
	Logging   LoggingConfig `yaml:"logging"`
}

// APConfig for the soft access point.
type APConfig struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	Address    string `yaml:"address"` // CIDR, e.g. "192.168.4.1/24"
}

// LEDConfig for the identification LED.
type LEDConfig struct {
	Pin       int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low"`
}

// OTAConfig for firmware updates.
type OTAConfig struct {
	ConfirmDelayMs int    `yaml:"confirm_delay_ms"`
	MaxImageSize   int64  `yaml:"max_image_size"` // 0 = slot size
	StagingDir     string `yaml:"staging_dir"`    // hosts only
}

// LoggingConfig sets the log level (debug, info, warn, error).
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		Version:  UnknownVersion,
		Hostname: "fundebazi",
		HTTPPort: 80,
		DNSPort:  53,
		AP: APConfig{
			SSID:       "FundebaziEsp32",
			Passphrase: "fundebazi",
			Address:    "192.168.4.1/24",
		},
		LED: LEDConfig{
			Pin:       2,
			ActiveLow: true,
		},
		OTA: OTAConfig{
			ConfirmDelayMs: int(DefaultConfirmDelay / time.Millisecond),
			StagingDir:     "/var/lib/fundebazi",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// BuildVars are the build-time settings (set via -ldflags "-X ...").
// Empty values keep the defaults.
type BuildVars struct {
	Version      string
	HTTPPort     string
	SSID         string
	Passphrase   string
	LEDPin       string
	LEDActiveLow string
}

// ApplyBuild overrides the configuration with build-time settings.
func (c *Config) ApplyBuild(v BuildVars) (err error) {
	if v.Version != "" {
		c.Version = v.Version
	}
	if v.SSID != "" {
		c.AP.SSID = v.SSID
	}
	if v.Passphrase != "" {
		c.AP.Passphrase = v.Passphrase
	}
	if v.HTTPPort != "" {
		if c.HTTPPort, err = parsePort(v.HTTPPort); err != nil {
			return
		}
	}
	if v.LEDPin != "" {
		if c.LED.Pin, err = strconv.Atoi(v.LEDPin); err != nil {
			return fmt.Errorf("invalid LED pin %q", v.LEDPin)
		}
	}
	if v.LEDActiveLow != "" {
		if c.LED.ActiveLow, err = strconv.ParseBool(v.LEDActiveLow); err != nil {
			return fmt.Errorf("invalid LED polarity %q", v.LEDActiveLow)
		}
	}
	return
}

// Load merges a YAML configuration file into the configuration.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides the configuration from FUNDEBAZI_* variables.
func (c *Config) ApplyEnv() (err error) {
	if v := os.Getenv("FUNDEBAZI_SSID"); v != "" {
		c.AP.SSID = v
	}
	if v := os.Getenv("FUNDEBAZI_PASSPHRASE"); v != "" {
		c.AP.Passphrase = v
	}
	if v := os.Getenv("FUNDEBAZI_AP_ADDRESS"); v != "" {
		c.AP.Address = v
	}
	if v := os.Getenv("FUNDEBAZI_HTTP_PORT"); v != "" {
		if c.HTTPPort, err = parsePort(v); err != nil {
			return
		}
	}
	if v := os.Getenv("FUNDEBAZI_STAGING_DIR"); v != "" {
		c.OTA.StagingDir = v
	}
	if v := os.Getenv("FUNDEBAZI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTPPort == 0 {
		return fmt.Errorf("invalid http_port: must be in range 1..65535")
	}
	if c.DNSPort == 0 {
		return fmt.Errorf("invalid dns_port: must be in range 1..65535")
	}
	if c.AP.SSID == "" || len(c.AP.SSID) > 32 {
		return fmt.Errorf("invalid ap.ssid: must be 1..32 characters")
	}
	// WPA2 passphrase; an empty passphrase makes an open network
	if n := len(c.AP.Passphrase); n != 0 && (n < 8 || n > 63) {
		return fmt.Errorf("invalid ap.passphrase: must be empty or 8..63 characters")
	}
	prefix, err := netip.ParsePrefix(c.AP.Address)
	if err != nil || !prefix.Addr().Is4() {
		return fmt.Errorf("invalid ap.address %q: must be an IPv4 CIDR", c.AP.Address)
	}
	if c.LED.Pin < 0 {
		return fmt.Errorf("invalid led.pin: must not be negative")
	}
	if c.OTA.ConfirmDelayMs < 0 || c.OTA.MaxImageSize < 0 {
		return fmt.Errorf("invalid ota settings: must not be negative")
	}
	return nil
}

// APPrefix returns the access point address with netmask.
func (c *Config) APPrefix() netip.Prefix {
	prefix, _ := netip.ParsePrefix(c.AP.Address)
	return prefix
}

// ConfirmDelay between the confirm reply and the reboot.
func (c *Config) ConfirmDelay() time.Duration {
	return time.Duration(c.OTA.ConfirmDelayMs) * time.Millisecond
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(port), nil
}
