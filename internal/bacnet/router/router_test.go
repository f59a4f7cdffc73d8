package router

import (
	"testing"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

func TestWhoIsRouterToNetworkDispatches(t *testing.T) {
	h := New(1, true, func(npdu.Address, []byte) error { return nil })
	var gotNetwork uint16
	var got bool
	h.OnWhoIsRouterToNetwork = func(src npdu.Address, network uint16) {
		got = true
		gotNetwork = network
	}

	hdr := npdu.Header{NetworkMessage: true, MessageType: npdu.MsgWhoIsRouterToNetwork}
	nLen := npdu.EncodeLen(hdr)
	buf := make([]byte, nLen+2)
	npdu.Encode(buf, hdr)
	buf[nLen] = 0x00
	buf[nLen+1] = 0x05

	if err := h.HandleInbound(npdu.Address{Net: 1, Mac: []byte{9}}, buf); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !got || gotNetwork != 5 {
		t.Fatalf("expected dispatch with network=5, got=%v network=%d", got, gotNetwork)
	}
}

func TestAPDUDroppedForForeignNetworkWhenNotRouter(t *testing.T) {
	h := New(1, false, func(npdu.Address, []byte) error { return nil })
	var delivered bool
	h.OnAPDU = func(src npdu.Address, hdr npdu.Header, apduBytes []byte) { delivered = true }

	hdr := npdu.Header{HasDestination: true, Destination: npdu.Address{Net: 99, Mac: []byte{1}}}
	nLen := npdu.EncodeLen(hdr)
	buf := make([]byte, nLen+1)
	npdu.Encode(buf, hdr)
	buf[nLen] = 0xAA

	if err := h.HandleInbound(npdu.Address{Net: 1, Mac: []byte{9}}, buf); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if delivered {
		t.Fatalf("expected APDU for foreign network to be dropped")
	}
}

func TestAPDUDeliveredForGlobalBroadcast(t *testing.T) {
	h := New(1, false, func(npdu.Address, []byte) error { return nil })
	var delivered bool
	h.OnAPDU = func(src npdu.Address, hdr npdu.Header, apduBytes []byte) { delivered = true }

	hdr := npdu.Header{HasDestination: true, Destination: npdu.Address{Net: npdu.NetGlobalBroadcast}}
	nLen := npdu.EncodeLen(hdr)
	buf := make([]byte, nLen+1)
	npdu.Encode(buf, hdr)
	buf[nLen] = 0xAA

	if err := h.HandleInbound(npdu.Address{Net: 1, Mac: []byte{9}}, buf); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !delivered {
		t.Fatalf("expected global broadcast APDU to be delivered")
	}
}

func TestSendWhoIsRouterToNetworkEncodesNetwork(t *testing.T) {
	var sentBody []byte
	h := New(1, true, func(dest npdu.Address, msg []byte) error {
		_, off, _ := npdu.Decode(msg)
		sentBody = msg[off:]
		return nil
	})
	if err := h.SendWhoIsRouterToNetwork(npdu.Address{Net: npdu.NetGlobalBroadcast}, 42); err != nil {
		t.Fatalf("SendWhoIsRouterToNetwork: %v", err)
	}
	if len(sentBody) != 2 || uint16(sentBody[0])<<8|uint16(sentBody[1]) != 42 {
		t.Fatalf("expected encoded network 42, got %x", sentBody)
	}
}

func TestInitRoutingTableRoundTrip(t *testing.T) {
	entries := []RoutingTableEntry{{Network: 7, PortID: 1, PortInfo: []byte{0xAA}}}
	var gotEntries []RoutingTableEntry
	h := New(1, true, func(dest npdu.Address, msg []byte) error {
		hdr2, off, _ := npdu.Decode(msg)
		h2 := New(1, true, nil)
		h2.OnInitRoutingTableAck = func(src npdu.Address, e []RoutingTableEntry) { gotEntries = e }
		h2.dispatchNetworkControl(npdu.Address{}, npdu.Header{NetworkMessage: true, MessageType: hdr2.MessageType}, msg[off:])
		return nil
	})
	if err := h.SendInitRoutingTableAck(npdu.Address{Net: 1, Mac: []byte{2}}, entries); err != nil {
		t.Fatalf("SendInitRoutingTableAck: %v", err)
	}
	if len(gotEntries) != 1 || gotEntries[0].Network != 7 || gotEntries[0].PortID != 1 {
		t.Fatalf("round-trip mismatch: %+v", gotEntries)
	}
}
