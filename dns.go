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
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// captive DNS settings
const (
	dnsTTL       = 60  // seconds
	dnsMaxPacket = 512 // plain UDP DNS message limit
	dnsQueueSize = 4

	dnsRetryMin    = 10 * time.Millisecond // first pause after a receive error
	dnsRetryMax    = time.Second
	dnsMaxFailures = 16 // consecutive receive errors before giving up
)

// query is a received DNS packet waiting for an answer.
type query struct {
	msg  []byte
	from net.Addr
}

// CaptiveDNS answers every name lookup with the access point address,
// pulling all client traffic to the device.
type CaptiveDNS struct {
	addr    netip.Addr
	conn    net.PacketConn
	queries chan query
	waker   Waker
	log     *slog.Logger
	sleep   func(time.Duration)
}

// NewCaptiveDNS creates a responder that resolves to addr.
func NewCaptiveDNS(addr netip.Addr, waker Waker, log *slog.Logger) *CaptiveDNS {
	return &CaptiveDNS{
		addr:    addr,
		queries: make(chan query, dnsQueueSize),
		waker:   waker,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Start receiving queries on conn. Answers are sent from ServeOne.
func (d *CaptiveDNS) Start(conn net.PacketConn) {
	d.conn = conn
	go d.receive()
}

// Close the responder.
func (d *CaptiveDNS) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// receive queues incoming packets; drops them when the loop lags behind.
// Receive errors are retried with growing pauses; a socket that keeps
// failing is given up.
func (d *CaptiveDNS) receive() {
	failures, pause := 0, dnsRetryMin
	for {
		buf := make([]byte, dnsMaxPacket)
		n, from, err := d.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if failures++; failures >= dnsMaxFailures {
				d.log.Error("dns receiver stopped",
					slog.Int("failures", failures),
					slog.String("err", err.Error()),
				)
				return
			}
			d.log.Warn("dns receive failed", slog.String("err", err.Error()))
			d.sleep(pause)
			pause = min(2*pause, dnsRetryMax)
			continue
		}
		failures, pause = 0, dnsRetryMin
		select {
		case d.queries <- query{msg: buf[:n], from: from}:
			if d.waker != nil {
				d.waker.Wake()
			}
		default:
			d.log.Debug("dns query dropped", slog.String("from", from.String()))
		}
	}
}

// ServeOne answers the next pending query (if any).
func (d *CaptiveDNS) ServeOne() bool {
	var q query
	select {
	case q = <-d.queries:
	default:
		return false
	}
	resp, err := d.Answer(q.msg)
	if err != nil {
		d.log.Debug("dns query ignored",
			slog.String("from", q.from.String()),
			slog.String("err", err.Error()),
		)
		return true
	}
	if _, err = d.conn.WriteTo(resp, q.from); err != nil {
		d.log.Warn("dns reply failed", slog.String("err", err.Error()))
	}
	return true
}

// Answer builds the reply to a packed DNS request.
func (d *CaptiveDNS) Answer(packet []byte) ([]byte, error) {
	req := new(dns.Msg)
	if err := req.Unpack(packet); err != nil {
		return nil, err
	}
	if req.Response {
		return nil, errors.New("not a query")
	}
	resp := new(dns.Msg)
	if req.Opcode != dns.OpcodeQuery {
		resp.SetRcode(req, dns.RcodeNotImplemented)
		return resp.Pack()
	}
	resp.SetReply(req)
	resp.Authoritative = true
	resp.RecursionAvailable = false
	for _, q := range resp.Question {
		if q.Qclass != dns.ClassINET && q.Qclass != dns.ClassANY {
			continue
		}
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeANY {
			continue
		}
		ip := d.addr.As4()
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    dnsTTL,
			},
			A: net.IP(ip[:]),
		})
	}
	return resp.Pack()
}
