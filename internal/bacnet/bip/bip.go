// Package bip is the concrete BACnet/IP datalink.Driver, spec.md §4's
// "core-components" list entry for a UDP/IP transport. It encapsulates
// every outbound NPDU in a BVLC Original-Unicast-NPDU or
// Original-Broadcast-NPDU message and strips the same on receipt, handing
// BBMD-specific function codes (Forwarded-NPDU, Register-Foreign-Device,
// BVLC-Result, ...) off to an optional bvlc.BBMD instead of treating them
// as application traffic.
package bip

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/bvlc"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// Driver binds a UDP socket on port and speaks BACnet/IP over it.
type Driver struct {
	conn      *net.UDPConn
	myAddr    npdu.Address
	broadcast npdu.Address

	// bbmdInbound is bvlc.BBMD.HandleInbound: every BVLC message that isn't
	// a plain Original-Unicast/Broadcast-NPDU (BDT/FDT maintenance,
	// Forwarded-NPDU, foreign-device registration, ...) is routed here
	// with its BVLC header still attached, exactly as BBMD expects.
	bbmdInbound func(src bvlc.Addr, pdu []byte) error
}

// New binds a UDP/IPv4 socket on port (0 lets the OS choose one) and
// broadcasts to the subnet's directed-broadcast address.
func New(port int, broadcastIP [4]byte) (*Driver, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bip: listen on :%d: %w", port, err)
	}
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("bip: unexpected local address type %T", conn.LocalAddr())
	}

	d := &Driver{conn: conn}
	d.myAddr = npdu.Address{Mac: udpMAC(net.IPv4zero, uint16(local.Port))}
	d.broadcast = npdu.Address{Mac: udpMAC(broadcastIP[:], uint16(local.Port))}
	return d, nil
}

// SetBBMDHandler routes decapsulated BVLC traffic (everything but a plain
// Original-Unicast/Broadcast-NPDU) to handler instead of dropping it; a
// session with BBMDEnabled wires this to its bvlc.BBMD.
func (d *Driver) SetBBMDHandler(handler func(src bvlc.Addr, pdu []byte) error) {
	d.bbmdInbound = handler
}

// Send implements datalink.Driver.
func (d *Driver) Send(dest npdu.Address, npduBytes []byte) (int, error) {
	var msg []byte
	var udpAddr *net.UDPAddr
	if dest.IsLocalBroadcast() || dest.IsGlobalBroadcast() {
		msg = bvlc.EncodeOriginalBroadcastNPDU(npduBytes)
		udpAddr, _ = macToUDP(dest.Mac)
		if udpAddr == nil {
			udpAddr = macToBroadcastUDP(d.broadcast.Mac)
		}
	} else {
		addr, err := macToUDP(dest.Mac)
		if err != nil {
			return 0, fmt.Errorf("bip: send: %w", err)
		}
		udpAddr = addr
		msg = bvlc.EncodeOriginalUnicastNPDU(npduBytes)
	}
	n, err := d.conn.WriteToUDP(msg, udpAddr)
	if err != nil {
		return 0, fmt.Errorf("bip: write: %w", err)
	}
	return n - bvlc.HeaderLen, nil
}

// Receive implements datalink.Driver. It blocks for up to timeout, strips
// the BVLC header, and returns only application NPDUs (Original-Unicast
// and Original-Broadcast); any other BVLC function is handed to the BBMD
// handler, if one is registered, and Receive keeps waiting within the
// same deadline instead of surfacing it to the caller.
func (d *Driver) Receive(ctx context.Context, timeout time.Duration) (npdu.Address, []byte, error) {
	deadline := time.Now().Add(timeout)
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return npdu.Address{}, nil, fmt.Errorf("bip: set deadline: %w", err)
	}
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return npdu.Address{}, nil, ctx.Err()
		default:
		}
		n, peer, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return npdu.Address{}, nil, nil
			}
			return npdu.Address{}, nil, fmt.Errorf("bip: read: %w", err)
		}
		hdr, err := bvlc.DecodeHeader(buf[:n])
		if err != nil {
			continue
		}
		body := buf[bvlc.HeaderLen:n]
		switch hdr.Function {
		case bvlc.FuncOriginalUnicastNPDU, bvlc.FuncOriginalBroadcastNPDU:
			src := npdu.Address{Mac: udpMAC(peer.IP, uint16(peer.Port))}
			return src, append([]byte(nil), body...), nil
		default:
			if d.bbmdInbound != nil {
				srcAddr, _ := bvlc.AddrFromUDP(peer)
				_ = d.bbmdInbound(srcAddr, append([]byte(nil), buf[:n]...))
			}
		}
		if time.Now().After(deadline) {
			return npdu.Address{}, nil, nil
		}
	}
}

// BroadcastAddress implements datalink.Driver.
func (d *Driver) BroadcastAddress() npdu.Address { return d.broadcast }

// MyAddress implements datalink.Driver.
func (d *Driver) MyAddress() npdu.Address { return d.myAddr }

// Cleanup implements datalink.Driver.
func (d *Driver) Cleanup() error { return d.conn.Close() }

func udpMAC(ip net.IP, port uint16) []byte {
	ip4 := ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	return []byte{ip4[0], ip4[1], ip4[2], ip4[3], byte(port >> 8), byte(port)}
}

func macToUDP(mac []byte) (*net.UDPAddr, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("expected a 6-byte BACnet/IP MAC, got %d bytes", len(mac))
	}
	return &net.UDPAddr{
		IP:   net.IPv4(mac[0], mac[1], mac[2], mac[3]),
		Port: int(mac[4])<<8 | int(mac[5]),
	}, nil
}

func macToBroadcastUDP(mac []byte) *net.UDPAddr {
	addr, _ := macToUDP(mac)
	return addr
}
