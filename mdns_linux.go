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
	"io"
	"log/slog"
	"net/netip"

	"github.com/grandcat/zeroconf"
)

// mDNS service settings
const (
	mdnsService = "_http._tcp"
	mdnsDomain  = "local."
)

// Advertise announces the HTTP service as <host>.local via mDNS.
func (dev *LinuxDevice) Advertise(host string, addr netip.Addr, port uint16) (io.Closer, error) {
	srv, err := zeroconf.RegisterProxy(host, mdnsService, mdnsDomain, int(port), host,
		[]string{addr.String()}, []string{"path=/"}, nil)
	if err != nil {
		return nil, err
	}
	dev.log.Info("mdns service registered",
		slog.String("host", host+"."+mdnsDomain),
		slog.String("service", mdnsService),
		slog.Int("port", int(port)),
	)
	return &mdnsServer{srv}, nil
}

// mdnsServer stops the announcement on Close.
type mdnsServer struct {
	srv *zeroconf.Server
}

func (m *mdnsServer) Close() error {
	m.srv.Shutdown()
	return nil
}
