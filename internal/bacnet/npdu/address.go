// Package npdu implements the BACnet network-layer header codec
// (ANSI/ASHRAE 135 clause 6): spec.md component B.
package npdu

import "bytes"

// Address is the uniform destination/source address record carried at the
// NPDU boundary: a network number plus a 1-7 byte MAC whose interpretation
// depends on the datalink (spec.md 3, "Address").
type Address struct {
	Net uint16
	Mac []byte
}

// NetLocal and NetGlobalBroadcast are the reserved network-number values.
const (
	NetLocal           uint16 = 0x0000
	NetGlobalBroadcast uint16 = 0xFFFF
)

// IsGlobalBroadcast reports whether a targets every network (DNET 0xFFFF).
func (a Address) IsGlobalBroadcast() bool { return a.Net == NetGlobalBroadcast }

// IsLocal reports whether a is on the local network (no DNET present, or DNET 0).
func (a Address) IsLocal() bool { return a.Net == NetLocal }

// IsLocalBroadcast reports whether a is a local-network broadcast: local
// network number with a zero-length MAC.
func (a Address) IsLocalBroadcast() bool { return a.IsLocal() && len(a.Mac) == 0 }

// Equal compares two addresses for exact network+MAC equality.
func (a Address) Equal(b Address) bool {
	return a.Net == b.Net && bytes.Equal(a.Mac, b.Mac)
}

// String renders a human-readable "net/mac" form, mainly for logging.
func (a Address) String() string {
	return netMacString(a.Net, a.Mac)
}

func netMacString(net uint16, mac []byte) string {
	if len(mac) == 0 {
		return "broadcast"
	}
	buf := make([]byte, 0, len(mac)*3)
	for i, b := range mac {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = appendHexByte(buf, b)
	}
	_ = net
	return string(buf)
}

func appendHexByte(buf []byte, b byte) []byte {
	const hex = "0123456789abcdef"
	return append(buf, hex[b>>4], hex[b&0xF])
}
