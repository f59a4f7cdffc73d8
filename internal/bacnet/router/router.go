// Package router implements NPDU classification and network-layer control
// message dispatch, spec.md component I.
package router

import (
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// NetworkSender places network-layer control PDUs (NPCI + message body) on
// the wire toward dest.
type NetworkSender func(dest npdu.Address, npduBytes []byte) error

// Handler classifies and dispatches inbound NPDUs, spec.md 4.I
// "npdu_handler(src, pdu, len)".
type Handler struct {
	LocalNetwork uint16
	IsRouter     bool

	send NetworkSender

	// OnAPDU receives the decoded NPDU header and the APDU slice that
	// follows it for every non-network-layer-message PDU addressed to this
	// node (local or global broadcast).
	OnAPDU func(src npdu.Address, hdr npdu.Header, apduBytes []byte)

	// Router-service callbacks, spec.md 4.I. Each is optional; a nil
	// callback means the corresponding message is silently ignored.
	OnWhoIsRouterToNetwork  func(src npdu.Address, network uint16)
	OnIAmRouterToNetwork    func(src npdu.Address, networks []uint16)
	OnICouldBeRouterTo      func(src npdu.Address, network uint16, performanceIndex byte)
	OnInitRoutingTable      func(src npdu.Address, entries []RoutingTableEntry)
	OnInitRoutingTableAck   func(src npdu.Address, entries []RoutingTableEntry)
	OnRejectMessageToNetwork func(src npdu.Address, network uint16, reason byte)
	OnWhatIsNetworkNumber   func(src npdu.Address)
	OnNetworkNumberIs       func(src npdu.Address, network uint16, configured bool)
}

// RoutingTableEntry is one row of an Init-Routing-Table message.
type RoutingTableEntry struct {
	Network uint16
	PortID  byte
	PortInfo []byte
}

// New builds a Handler bound to send for emitting router-service replies.
func New(localNetwork uint16, isRouter bool, send NetworkSender) *Handler {
	return &Handler{LocalNetwork: localNetwork, IsRouter: isRouter, send: send}
}

// HandleInbound decodes the NPCI at the start of pdu and dispatches,
// spec.md 4.I.
func (h *Handler) HandleInbound(src npdu.Address, pdu []byte) error {
	hdr, offset, err := npdu.Decode(pdu)
	if err != nil {
		return err
	}
	body := pdu[offset:]

	if hdr.NetworkMessage {
		h.dispatchNetworkControl(src, hdr, body)
		return nil
	}

	if hdr.HasDestination && !hdr.Destination.IsLocal() && !hdr.Destination.IsGlobalBroadcast() {
		// Not addressed to this network and this node is not forwarding it
		// elsewhere: spec.md 4.I "dropped because this node is not a router".
		return nil
	}
	if h.OnAPDU != nil {
		h.OnAPDU(src, hdr, body)
	}
	return nil
}

func (h *Handler) dispatchNetworkControl(src npdu.Address, hdr npdu.Header, body []byte) {
	switch hdr.MessageType {
	case npdu.MsgWhoIsRouterToNetwork:
		if h.OnWhoIsRouterToNetwork != nil {
			var network uint16
			if len(body) >= 2 {
				network = uint16(body[0])<<8 | uint16(body[1])
			}
			h.OnWhoIsRouterToNetwork(src, network)
		}
	case npdu.MsgIAmRouterToNetwork:
		if h.OnIAmRouterToNetwork != nil {
			h.OnIAmRouterToNetwork(src, decodeNetworkList(body))
		}
	case npdu.MsgICouldBeRouterTo:
		if h.OnICouldBeRouterTo != nil && len(body) >= 3 {
			network := uint16(body[0])<<8 | uint16(body[1])
			h.OnICouldBeRouterTo(src, network, body[2])
		}
	case npdu.MsgRejectMessageToNetwork:
		if h.OnRejectMessageToNetwork != nil && len(body) >= 3 {
			reason := body[0]
			network := uint16(body[1])<<8 | uint16(body[2])
			h.OnRejectMessageToNetwork(src, network, reason)
		}
	case npdu.MsgInitRoutingTable:
		if h.OnInitRoutingTable != nil {
			h.OnInitRoutingTable(src, decodeRoutingTable(body))
		}
	case npdu.MsgInitRoutingTableAck:
		if h.OnInitRoutingTableAck != nil {
			h.OnInitRoutingTableAck(src, decodeRoutingTable(body))
		}
	case npdu.MsgWhatIsNetworkNumber:
		if h.OnWhatIsNetworkNumber != nil {
			h.OnWhatIsNetworkNumber(src)
		}
	case npdu.MsgNetworkNumberIs:
		if h.OnNetworkNumberIs != nil && len(body) >= 3 {
			network := uint16(body[0])<<8 | uint16(body[1])
			h.OnNetworkNumberIs(src, network, body[2] != 0)
		}
	}
}

func decodeNetworkList(body []byte) []uint16 {
	n := len(body) / 2
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, uint16(body[i*2])<<8|uint16(body[i*2+1]))
	}
	return out
}

func decodeRoutingTable(body []byte) []RoutingTableEntry {
	var entries []RoutingTableEntry
	for len(body) >= 4 {
		network := uint16(body[0])<<8 | uint16(body[1])
		portID := body[2]
		infoLen := int(body[3])
		body = body[4:]
		if len(body) < infoLen {
			break
		}
		entries = append(entries, RoutingTableEntry{Network: network, PortID: portID, PortInfo: append([]byte(nil), body[:infoLen]...)})
		body = body[infoLen:]
	}
	return entries
}
