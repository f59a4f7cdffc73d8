package router

import "github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"

// Outbound senders for router network-control messages, grounded on the
// original source's s_router.c split of one function per message type.

func (h *Handler) networkMessageHeader(dest npdu.Address, messageType byte) npdu.Header {
	return npdu.Header{
		NetworkMessage: true,
		MessageType:    messageType,
		HasDestination: dest.Net != 0 || len(dest.Mac) != 0,
		Destination:    dest,
	}
}

func (h *Handler) transmit(dest npdu.Address, hdr npdu.Header, body []byte) error {
	nLen := npdu.EncodeLen(hdr)
	buf := make([]byte, nLen+len(body))
	npdu.Encode(buf, hdr)
	copy(buf[nLen:], body)
	return h.send(dest, buf)
}

// SendWhoIsRouterToNetwork queries for a router to network (0 = any network).
func (h *Handler) SendWhoIsRouterToNetwork(dest npdu.Address, network uint16) error {
	body := []byte{}
	if network != 0 {
		body = []byte{byte(network >> 8), byte(network)}
	}
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgWhoIsRouterToNetwork), body)
}

// SendIAmRouterToNetwork announces this node's routed networks.
func (h *Handler) SendIAmRouterToNetwork(dest npdu.Address, networks []uint16) error {
	body := make([]byte, len(networks)*2)
	for i, n := range networks {
		body[i*2] = byte(n >> 8)
		body[i*2+1] = byte(n)
	}
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgIAmRouterToNetwork), body)
}

// SendRejectMessageToNetwork rejects a routed message with reason for network.
func (h *Handler) SendRejectMessageToNetwork(dest npdu.Address, reason byte, network uint16) error {
	body := []byte{reason, byte(network >> 8), byte(network)}
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgRejectMessageToNetwork), body)
}

// SendInitRoutingTable sends the router's own routing table (entries may be
// empty to request the peer's table per clause 6.4.6).
func (h *Handler) SendInitRoutingTable(dest npdu.Address, entries []RoutingTableEntry) error {
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgInitRoutingTable), encodeRoutingTable(entries))
}

// SendInitRoutingTableAck acknowledges an Init-Routing-Table with this
// node's own table.
func (h *Handler) SendInitRoutingTableAck(dest npdu.Address, entries []RoutingTableEntry) error {
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgInitRoutingTableAck), encodeRoutingTable(entries))
}

// SendWhatIsNetworkNumber queries a directly-connected node for its network number.
func (h *Handler) SendWhatIsNetworkNumber(dest npdu.Address) error {
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgWhatIsNetworkNumber), nil)
}

// SendNetworkNumberIs announces this port's network number; configured
// reports whether the number was manually configured (vs. learned).
func (h *Handler) SendNetworkNumberIs(dest npdu.Address, network uint16, configured bool) error {
	flag := byte(0)
	if configured {
		flag = 1
	}
	body := []byte{byte(network >> 8), byte(network), flag}
	return h.transmit(dest, h.networkMessageHeader(dest, npdu.MsgNetworkNumberIs), body)
}

func encodeRoutingTable(entries []RoutingTableEntry) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, byte(e.Network>>8), byte(e.Network), e.PortID, byte(len(e.PortInfo)))
		body = append(body, e.PortInfo...)
	}
	return body
}
