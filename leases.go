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
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/soypat/seqs/eth"
	"github.com/soypat/seqs/eth/dhcp"
)

// address lease settings
const (
	leaseTime      = 2 * time.Hour
	leasePoolSize  = 8   // addresses handed out after the server address
	bootpMinSize   = 300 // smallest BOOTP message some clients accept
	dhcpOffset     = eth.SizeEthernetHeader + eth.SizeIPv4Header + eth.SizeUDPHeader
	leaseFrameSize = dhcpOffset + dhcp.OptionsOffset + 64
	ipProtoUDP     = 17
)

// Error messages
var (
	errLeaseFrame = errors.New("malformed dhcp request")
	errLeaseBusy  = errors.New("dhcp answer pending")
	errPoolEmpty  = errors.New("no free address")
)

// lease of an address to a client.
type lease struct {
	addr    netip.Addr
	expires time.Time
	bound   bool // acknowledged; offered only otherwise
}

// LeaseServer hands out addresses of the access point subnet to joining
// clients (server side of DHCP). Router and name server handed out are
// the access point itself, so all lookups end up at the captive DNS.
//
// It sits in front of the TCP/IP stack: RecvEth picks the DHCP requests
// out of the received frames, HandleEth emits the answers. One answer is
// pending at most. Not safe for concurrent use.
type LeaseServer struct {
	mac    [6]byte    // our hardware address
	addr   netip.Addr // server address
	mask   [4]byte
	pool   []netip.Addr
	leases map[[6]byte]*lease
	frame  [leaseFrameSize]byte
	n      int // length of pending answer
	now    func() time.Time
	log    *slog.Logger
}

// NewLeaseServer for the given hardware address and access point prefix.
// The pool holds the addresses following the server address.
func NewLeaseServer(mac [6]byte, prefix netip.Prefix, log *slog.Logger) *LeaseServer {
	s := &LeaseServer{
		mac:    mac,
		addr:   prefix.Addr(),
		leases: make(map[[6]byte]*lease),
		now:    time.Now,
		log:    log,
	}
	mask := ^uint32(0) << (32 - prefix.Bits())
	binary.BigEndian.PutUint32(s.mask[:], mask)

	net4 := prefix.Masked().Addr().As4()
	var bcast [4]byte
	binary.BigEndian.PutUint32(bcast[:], binary.BigEndian.Uint32(net4[:])|^mask)
	last := netip.AddrFrom4(bcast)
	for a := s.addr.Next(); a.IsValid() && a.Less(last) && len(s.pool) < leasePoolSize; a = a.Next() {
		s.pool = append(s.pool, a)
	}
	return s
}

// Lease returns the address bound to a client.
func (s *LeaseServer) Lease(mac [6]byte) (netip.Addr, bool) {
	l, ok := s.leases[mac]
	if !ok || !l.bound || s.now().After(l.expires) {
		return netip.Addr{}, false
	}
	return l.addr, true
}

// RecvEth takes a received frame. Frames that are not addressed to the
// DHCP server port are left to the stack (false).
func (s *LeaseServer) RecvEth(frame []byte) (bool, error) {
	if len(frame) < eth.SizeEthernetHeader+eth.SizeIPv4Header {
		return false, nil
	}
	if eth.DecodeEthernetHeader(frame).AssertType() != eth.EtherTypeIPv4 {
		return false, nil
	}
	ihdr, off := eth.DecodeIPv4Header(frame[eth.SizeEthernetHeader:])
	if ihdr.Protocol != ipProtoUDP || off < eth.SizeIPv4Header {
		return false, nil
	}
	start := eth.SizeEthernetHeader + int(off)
	end := eth.SizeEthernetHeader + int(ihdr.TotalLength)
	if end > len(frame) || start+eth.SizeUDPHeader > end {
		return false, nil
	}
	uhdr := eth.DecodeUDPHeader(frame[start:])
	if uhdr.DestinationPort != dhcp.DefaultServerPort {
		return false, nil
	}
	payload := frame[start+eth.SizeUDPHeader : end]
	if uhdr.Checksum != 0 && uhdr.CalculateChecksumIPv4(&ihdr, payload) != uhdr.Checksum {
		return true, errLeaseFrame
	}
	if len(payload) < dhcp.OptionsOffset ||
		binary.BigEndian.Uint32(payload[dhcp.MagicCookieOffset:]) != dhcp.MagicCookie {
		return true, errLeaseFrame
	}
	req := dhcp.DecodeHeaderV4(payload)
	if req.OP != dhcp.OpRequest || req.HType != 1 || req.HLen != 6 {
		return true, errLeaseFrame
	}
	var (
		msg       dhcp.MessageType
		requested netip.Addr
		server    netip.Addr
	)
	options(payload, func(opt dhcp.Option) {
		switch opt.Num {
		case dhcp.OptMessageType:
			if len(opt.Data) == 1 {
				msg = dhcp.MessageType(opt.Data[0])
			}
		case dhcp.OptRequestedIPaddress:
			if len(opt.Data) == 4 {
				requested = netip.AddrFrom4([4]byte(opt.Data))
			}
		case dhcp.OptServerIdentification:
			if len(opt.Data) == 4 {
				server = netip.AddrFrom4([4]byte(opt.Data))
			}
		}
	})
	if s.n != 0 {
		return true, errLeaseBusy
	}
	return true, s.handle(msg, &req, requested, server)
}

// HandleEth writes the pending answer (if any) into dst.
func (s *LeaseServer) HandleEth(dst []byte) (int, error) {
	if s.n == 0 {
		return 0, nil
	}
	if len(dst) < s.n {
		return 0, io.ErrShortBuffer
	}
	n := copy(dst, s.frame[:s.n])
	s.n = 0
	return n, nil
}

// handle a decoded request.
func (s *LeaseServer) handle(msg dhcp.MessageType, req *dhcp.HeaderV4, requested, server netip.Addr) error {
	var mac [6]byte
	copy(mac[:], req.CHAddr[:6])
	now := s.now()
	switch msg {
	case dhcp.MsgDiscover:
		addr, err := s.offer(mac, requested, now)
		if err != nil {
			return err
		}
		s.answer(req, dhcp.MsgOffer, addr)

	case dhcp.MsgRequest:
		if server.IsValid() && server != s.addr {
			// client took another offer
			delete(s.leases, mac)
			return nil
		}
		if !requested.IsValid() {
			// renewal
			requested = netip.AddrFrom4(req.CIAddr)
		}
		l, ok := s.leases[mac]
		if !ok || l.addr != requested {
			if !s.available(requested, mac, now) {
				s.answer(req, dhcp.MsgNak, netip.Addr{})
				return nil
			}
			l = &lease{addr: requested}
			s.leases[mac] = l
		}
		l.bound = true
		l.expires = now.Add(leaseTime)
		s.answer(req, dhcp.MsgAck, l.addr)
		s.log.Info("address leased",
			slog.String("mac", net.HardwareAddr(mac[:]).String()),
			slog.String("addr", l.addr.String()),
		)

	case dhcp.MsgRelease, dhcp.MsgDecline:
		delete(s.leases, mac)
	}
	return nil
}

// offer an address: the client's current one, the requested one if it
// is free, or the first free address of the pool.
func (s *LeaseServer) offer(mac [6]byte, requested netip.Addr, now time.Time) (netip.Addr, error) {
	if l, ok := s.leases[mac]; ok && now.Before(l.expires) {
		return l.addr, nil
	}
	addr := requested
	if !s.available(addr, mac, now) {
		i := slices.IndexFunc(s.pool, func(a netip.Addr) bool {
			return s.available(a, mac, now)
		})
		if i < 0 {
			return netip.Addr{}, errPoolEmpty
		}
		addr = s.pool[i]
	}
	s.leases[mac] = &lease{addr: addr, expires: now.Add(leaseTime)}
	return addr, nil
}

// available returns true if addr is a pool address not held by another
// client.
func (s *LeaseServer) available(addr netip.Addr, mac [6]byte, now time.Time) bool {
	if !slices.Contains(s.pool, addr) {
		return false
	}
	for owner, l := range s.leases {
		if owner != mac && l.addr == addr && now.Before(l.expires) {
			return false
		}
	}
	return true
}

// answer builds the reply frame to req. Answers are broadcast: the
// client has no address yet.
func (s *LeaseServer) answer(req *dhcp.HeaderV4, msg dhcp.MessageType, addr netip.Addr) {
	clear(s.frame[:])
	payload := s.frame[dhcpOffset:]
	srv := s.addr.As4()

	hdr := dhcp.HeaderV4{
		OP:     dhcp.OpReply,
		HType:  1,
		HLen:   6,
		Xid:    req.Xid,
		Flags:  req.Flags,
		GIAddr: req.GIAddr,
		CHAddr: req.CHAddr,
	}
	opts := []dhcp.Option{
		{Num: dhcp.OptMessageType, Data: []byte{byte(msg)}},
		{Num: dhcp.OptServerIdentification, Data: srv[:]},
	}
	if msg != dhcp.MsgNak {
		hdr.YIAddr = addr.As4()
		hdr.SIAddr = srv
		var secs [4]byte
		binary.BigEndian.PutUint32(secs[:], uint32(leaseTime/time.Second))
		opts = append(opts,
			dhcp.Option{Num: dhcp.OptIPAddressLeaseTime, Data: secs[:]},
			dhcp.Option{Num: dhcp.OptSubnetMask, Data: s.mask[:]},
			dhcp.Option{Num: dhcp.OptRouter, Data: srv[:]},
			dhcp.Option{Num: dhcp.OptDNSServers, Data: srv[:]},
		)
	}
	hdr.Put(payload)
	binary.BigEndian.PutUint32(payload[dhcp.MagicCookieOffset:], dhcp.MagicCookie)
	p := dhcp.OptionsOffset
	for _, opt := range opts {
		n, err := opt.Encode(payload[p:])
		if err != nil {
			s.log.Error("dhcp option dropped", slog.String("err", err.Error()))
			continue
		}
		p += n
	}
	payload[p] = 0xff
	p = max(p+1, bootpMinSize)

	ip := eth.IPv4Header{
		VersionAndIHL: 5,
		TotalLength:   uint16(eth.SizeIPv4Header + eth.SizeUDPHeader + p),
		TTL:           64,
		Protocol:      ipProtoUDP,
		Source:        srv,
		Destination:   [4]byte{255, 255, 255, 255},
	}
	ip.Checksum = ip.CalculateChecksum()
	udp := eth.UDPHeader{
		SourcePort:      dhcp.DefaultServerPort,
		DestinationPort: dhcp.DefaultClientPort,
		Length:          uint16(eth.SizeUDPHeader + p),
	}
	udp.Checksum = udp.CalculateChecksumIPv4(&ip, payload[:p])
	ehdr := eth.EthernetHeader{
		Destination:     eth.BroadcastHW6(),
		Source:          s.mac,
		SizeOrEtherType: uint16(eth.EtherTypeIPv4),
	}
	ehdr.Put(s.frame[:])
	ip.Put(s.frame[eth.SizeEthernetHeader:])
	udp.Put(s.frame[eth.SizeEthernetHeader+eth.SizeIPv4Header:])
	s.n = dhcpOffset + p
}

// options walks the DHCP options of a message; a truncated option ends
// the walk.
func options(payload []byte, fn func(dhcp.Option)) {
	for p := dhcp.OptionsOffset; p < len(payload); {
		num := dhcp.OptNum(payload[p])
		switch {
		case num == 0xff:
			return
		case num == dhcp.OptWordAligned:
			p++
			continue
		case p+2 > len(payload):
			return
		}
		end := p + 2 + int(payload[p+1])
		if end > len(payload) {
			return
		}
		fn(dhcp.Option{Num: num, Data: payload[p+2 : end]})
		p = end
	}
}
