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
	"net/netip"
	"testing"
	"time"

	"github.com/soypat/seqs/eth"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

var (
	apPrefix  = netip.MustParsePrefix("192.168.4.1/24")
	serverMAC = [6]byte{0x28, 0xcd, 0xc1, 0, 0, 1}
)

func clientMAC(n byte) [6]byte {
	return [6]byte{0x02, 0, 0, 0, 0, n}
}

// dhcpRequest builds a client frame as sent before it has an address.
func dhcpRequest(mac [6]byte, msg dhcp.MessageType, requested, server netip.Addr) []byte {
	frame := make([]byte, dhcpOffset+bootpMinSize)
	payload := frame[dhcpOffset:]
	hdr := dhcp.HeaderV4{OP: dhcp.OpRequest, HType: 1, HLen: 6, Xid: 0xcafe}
	copy(hdr.CHAddr[:], mac[:])
	hdr.Put(payload)
	binary.BigEndian.PutUint32(payload[dhcp.MagicCookieOffset:], dhcp.MagicCookie)
	opts := []dhcp.Option{{Num: dhcp.OptMessageType, Data: []byte{byte(msg)}}}
	if requested.IsValid() {
		a := requested.As4()
		opts = append(opts, dhcp.Option{Num: dhcp.OptRequestedIPaddress, Data: a[:]})
	}
	if server.IsValid() {
		a := server.As4()
		opts = append(opts, dhcp.Option{Num: dhcp.OptServerIdentification, Data: a[:]})
	}
	p := dhcp.OptionsOffset
	for _, opt := range opts {
		n, _ := opt.Encode(payload[p:])
		p += n
	}
	payload[p] = 0xff

	ip := eth.IPv4Header{
		VersionAndIHL: 5,
		TotalLength:   uint16(eth.SizeIPv4Header + eth.SizeUDPHeader + len(payload)),
		TTL:           64,
		Protocol:      ipProtoUDP,
		Destination:   [4]byte{255, 255, 255, 255},
	}
	ip.Checksum = ip.CalculateChecksum()
	udp := eth.UDPHeader{
		SourcePort:      dhcp.DefaultClientPort,
		DestinationPort: dhcp.DefaultServerPort,
		Length:          uint16(eth.SizeUDPHeader + len(payload)),
	}
	udp.Checksum = udp.CalculateChecksumIPv4(&ip, payload)
	ehdr := eth.EthernetHeader{
		Destination:     eth.BroadcastHW6(),
		Source:          mac,
		SizeOrEtherType: uint16(eth.EtherTypeIPv4),
	}
	ehdr.Put(frame)
	ip.Put(frame[eth.SizeEthernetHeader:])
	udp.Put(frame[eth.SizeEthernetHeader+eth.SizeIPv4Header:])
	return frame
}

// dhcpExchange sends a request and returns the decoded answer (if any).
func dhcpExchange(t *testing.T, s *LeaseServer, frame []byte) (*dhcp.HeaderV4, map[dhcp.OptNum][]byte) {
	t.Helper()
	ok, err := s.RecvEth(frame)
	if !ok || err != nil {
		t.Fatalf("request not taken: %v, %v", ok, err)
	}
	out := make([]byte, mtuTest)
	n, err := s.HandleEth(out)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		return nil, nil
	}
	out = out[:n]
	ihdr, _ := eth.DecodeIPv4Header(out[eth.SizeEthernetHeader:])
	uhdr := eth.DecodeUDPHeader(out[eth.SizeEthernetHeader+eth.SizeIPv4Header:])
	payload := out[dhcpOffset:]
	if uhdr.CalculateChecksumIPv4(&ihdr, payload) != uhdr.Checksum {
		t.Fatal("bad udp checksum")
	}
	if ihdr.Source != apPrefix.Addr().As4() || uhdr.DestinationPort != dhcp.DefaultClientPort {
		t.Fatalf("answer from %v to port %d", ihdr.Source, uhdr.DestinationPort)
	}
	hdr := dhcp.DecodeHeaderV4(payload)
	opts := make(map[dhcp.OptNum][]byte)
	options(payload, func(opt dhcp.Option) {
		opts[opt.Num] = opt.Data
	})
	return &hdr, opts
}

const mtuTest = 1500

func msgType(opts map[dhcp.OptNum][]byte) dhcp.MessageType {
	if len(opts[dhcp.OptMessageType]) != 1 {
		return 0
	}
	return dhcp.MessageType(opts[dhcp.OptMessageType][0])
}

func TestLeaseWithClient(t *testing.T) {
	s := NewLeaseServer(serverMAC, apPrefix, discard())
	mac := clientMAC(7)
	client := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 1,
		MTU:             mtuTest,
	})
	dc := stacks.NewDHCPClient(client, dhcp.DefaultClientPort)
	if err := dc.BeginRequest(stacks.DHCPRequestConfig{Xid: 0x1234abcd}); err != nil {
		t.Fatal(err)
	}
	tx := make([]byte, mtuTest)
	rx := make([]byte, mtuTest)
	// discover/offer, then request/ack
	for i := range 2 {
		n, err := client.HandleEth(tx)
		if err != nil || n == 0 {
			t.Fatalf("round %d: client sent %d, %v", i, n, err)
		}
		if ok, err := s.RecvEth(tx[:n]); !ok || err != nil {
			t.Fatalf("round %d: %v, %v", i, ok, err)
		}
		if n, err = s.HandleEth(rx); err != nil || n == 0 {
			t.Fatalf("round %d: server sent %d, %v", i, n, err)
		}
		if err = client.RecvEth(rx[:n]); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
	if dc.State() != dhcp.StateBound {
		t.Fatalf("client state %s", dc.State())
	}
	ap := apPrefix.Addr()
	want := netip.MustParseAddr("192.168.4.2")
	if dc.Offer() != want || dc.Router() != ap || dc.CIDRBits() != 24 {
		t.Fatalf("offer %s router %s bits %d", dc.Offer(), dc.Router(), dc.CIDRBits())
	}
	// servers are collected from offer and ack
	if dns := dc.DNSServers(); len(dns) == 0 || dns[0] != ap {
		t.Fatalf("dns %v", dns)
	}
	if dc.IPLeaseTime() != leaseTime {
		t.Fatalf("lease time %s", dc.IPLeaseTime())
	}
	if addr, ok := s.Lease(mac); !ok || addr != want {
		t.Fatalf("lease %s, %v", addr, ok)
	}
}

func TestLeasePool(t *testing.T) {
	s := NewLeaseServer(serverMAC, apPrefix, discard())
	none := netip.Addr{}
	seen := make(map[netip.Addr]bool)
	for i := range leasePoolSize {
		hdr, opts := dhcpExchange(t, s, dhcpRequest(clientMAC(byte(i)), dhcp.MsgDiscover, none, none))
		if msgType(opts) != dhcp.MsgOffer {
			t.Fatalf("client %d: %v", i, opts)
		}
		addr := netip.AddrFrom4(hdr.YIAddr)
		if !apPrefix.Contains(addr) || addr == apPrefix.Addr() || seen[addr] {
			t.Fatalf("client %d offered %s", i, addr)
		}
		seen[addr] = true
	}

	// pool exhausted: no answer
	if ok, err := s.RecvEth(dhcpRequest(clientMAC(99), dhcp.MsgDiscover, none, none)); !ok || !errors.Is(err, errPoolEmpty) {
		t.Fatalf("got %v, %v", ok, err)
	}

	// a released address goes to the next client
	first := netip.MustParseAddr("192.168.4.2")
	dhcpExchange(t, s, dhcpRequest(clientMAC(0), dhcp.MsgRelease, none, none))
	hdr, _ := dhcpExchange(t, s, dhcpRequest(clientMAC(99), dhcp.MsgDiscover, none, none))
	if netip.AddrFrom4(hdr.YIAddr) != first {
		t.Fatalf("offered %v", hdr.YIAddr)
	}
}

func TestLeaseRequest(t *testing.T) {
	s := NewLeaseServer(serverMAC, apPrefix, discard())
	ap := apPrefix.Addr()
	mac := clientMAC(1)
	none := netip.Addr{}

	// client asks for an address it held before (e.g. after our reboot)
	prev := netip.MustParseAddr("192.168.4.5")
	hdr, opts := dhcpExchange(t, s, dhcpRequest(mac, dhcp.MsgRequest, prev, ap))
	if msgType(opts) != dhcp.MsgAck || netip.AddrFrom4(hdr.YIAddr) != prev {
		t.Fatalf("got %v %v", hdr.YIAddr, opts)
	}
	if mask := opts[dhcp.OptSubnetMask]; len(mask) != 4 || [4]byte(mask) != [4]byte{255, 255, 255, 0} {
		t.Fatalf("mask %v", mask)
	}

	// the address is taken for everybody else
	_, opts = dhcpExchange(t, s, dhcpRequest(clientMAC(2), dhcp.MsgRequest, prev, ap))
	if msgType(opts) != dhcp.MsgNak {
		t.Fatalf("got %v", opts)
	}
	// outside of the pool
	_, opts = dhcpExchange(t, s, dhcpRequest(clientMAC(3), dhcp.MsgRequest, netip.MustParseAddr("10.0.0.7"), ap))
	if msgType(opts) != dhcp.MsgNak {
		t.Fatalf("got %v", opts)
	}

	// client went with another server
	hdr, _ = dhcpExchange(t, s, dhcpRequest(mac, dhcp.MsgRequest, prev, netip.MustParseAddr("192.168.4.254")))
	if hdr != nil {
		t.Fatal("answered request for another server")
	}
	if _, ok := s.Lease(mac); ok {
		t.Fatal("lease kept")
	}

	// offers for a known client are stable
	first, _ := dhcpExchange(t, s, dhcpRequest(mac, dhcp.MsgDiscover, none, none))
	second, _ := dhcpExchange(t, s, dhcpRequest(mac, dhcp.MsgDiscover, none, none))
	if first.YIAddr != second.YIAddr {
		t.Fatalf("offers %v, %v", first.YIAddr, second.YIAddr)
	}
}

func TestLeaseExpiry(t *testing.T) {
	s := NewLeaseServer(serverMAC, netip.MustParsePrefix("192.168.4.1/30"), discard())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	none := netip.Addr{}

	// a /30 leaves one address for clients
	dhcpExchange(t, s, dhcpRequest(clientMAC(1), dhcp.MsgRequest, netip.MustParseAddr("192.168.4.2"), none))
	if ok, err := s.RecvEth(dhcpRequest(clientMAC(2), dhcp.MsgDiscover, none, none)); !ok || !errors.Is(err, errPoolEmpty) {
		t.Fatalf("got %v, %v", ok, err)
	}
	now = now.Add(leaseTime + time.Minute)
	if _, ok := s.Lease(clientMAC(1)); ok {
		t.Fatal("expired lease still valid")
	}
	hdr, _ := dhcpExchange(t, s, dhcpRequest(clientMAC(2), dhcp.MsgDiscover, none, none))
	if netip.AddrFrom4(hdr.YIAddr) != netip.MustParseAddr("192.168.4.2") {
		t.Fatalf("offered %v", hdr.YIAddr)
	}
}

func TestLeaseOtherFrames(t *testing.T) {
	s := NewLeaseServer(serverMAC, apPrefix, discard())
	req := dhcpRequest(clientMAC(1), dhcp.MsgDiscover, netip.Addr{}, netip.Addr{})

	// UDP to another port
	other := append([]byte(nil), req...)
	binary.BigEndian.PutUint16(other[eth.SizeEthernetHeader+eth.SizeIPv4Header+2:], 53)
	// ARP
	arp := append([]byte(nil), req...)
	binary.BigEndian.PutUint16(arp[12:], uint16(eth.EtherTypeARP))
	for i, frame := range [][]byte{other, arp, req[:20]} {
		if ok, err := s.RecvEth(frame); ok || err != nil {
			t.Fatalf("frame %d: %v, %v", i, ok, err)
		}
	}

	// corrupted request is taken but not answered
	bad := append([]byte(nil), req...)
	bad[dhcpOffset+dhcp.OptionsOffset+2] ^= 0xff
	if ok, err := s.RecvEth(bad); !ok || !errors.Is(err, errLeaseFrame) {
		t.Fatalf("got %v, %v", ok, err)
	}
	if n, _ := s.HandleEth(make([]byte, mtuTest)); n != 0 {
		t.Fatal("answered corrupted request")
	}

	// one answer at a time
	if ok, err := s.RecvEth(req); !ok || err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecvEth(req); !errors.Is(err, errLeaseBusy) {
		t.Fatalf("got %v", err)
	}
}
