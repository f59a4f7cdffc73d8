// Package bvlc implements the BACnet Virtual Link Control layer and BBMD
// broadcast-distribution/foreign-device tables, spec.md component H.
package bvlc

import (
	"encoding/binary"
	"fmt"
	"net"
)

// BVLC header type octet, clause J.2.
const HeaderType byte = 0x81

// Function codes, clause J.2.
const (
	FuncResult                       byte = 0x00
	FuncWriteBDT                     byte = 0x01
	FuncReadBDT                      byte = 0x02
	FuncReadBDTAck                   byte = 0x03
	FuncForwardedNPDU                byte = 0x04
	FuncRegisterForeignDevice        byte = 0x05
	FuncReadFDT                      byte = 0x06
	FuncReadFDTAck                   byte = 0x07
	FuncDeleteFDTEntry               byte = 0x08
	FuncDistributeBroadcastToNetwork byte = 0x09
	FuncOriginalUnicastNPDU          byte = 0x0A
	FuncOriginalBroadcastNPDU        byte = 0x0B
)

// Result codes, clause J.2.2.
const (
	ResultSuccess              uint16 = 0x0000
	ResultWriteBDTNAK          uint16 = 0x0010
	ResultReadBDTNAK           uint16 = 0x0020
	ResultRegisterForeignNAK   uint16 = 0x0030
	ResultReadFDTNAK           uint16 = 0x0040
	ResultDeleteFDTNAK         uint16 = 0x0050
	ResultDistributeBroadcastNAK uint16 = 0x0060
)

// Addr is a BBMD peer address (IPv4 + UDP port), spec.md 3 "BBMD tables".
type Addr struct {
	IP   [4]byte
	Port uint16
}

func (a Addr) String() string { return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port) }

// Equal compares two Addrs by value.
func (a Addr) Equal(b Addr) bool { return a.IP == b.IP && a.Port == b.Port }

// AddrFromUDP converts a net.UDPAddr (must be IPv4) into an Addr.
func AddrFromUDP(u *net.UDPAddr) (Addr, error) {
	ip4 := u.IP.To4()
	if ip4 == nil {
		return Addr{}, fmt.Errorf("bvlc: not an IPv4 address: %s", u.IP)
	}
	var a Addr
	copy(a.IP[:], ip4)
	a.Port = uint16(u.Port)
	return a, nil
}

// Header is the decoded 4-byte BVLC header, spec.md 4.H "BVLC header".
type Header struct {
	Function byte
	Length   uint16
}

// HeaderLen is always 4: type + function + 2-byte length.
const HeaderLen = 4

// EncodeHeader writes the 4-byte BVLC header for a total message of length
// totalLen (header included).
func EncodeHeader(buf []byte, function byte, totalLen uint16) {
	buf[0] = HeaderType
	buf[1] = function
	binary.BigEndian.PutUint16(buf[2:4], totalLen)
}

// DecodeHeader parses the BVLC header at the start of pdu.
func DecodeHeader(pdu []byte) (Header, error) {
	if len(pdu) < HeaderLen {
		return Header{}, fmt.Errorf("bvlc: truncated header")
	}
	if pdu[0] != HeaderType {
		return Header{}, fmt.Errorf("bvlc: bad BVLC type 0x%02x", pdu[0])
	}
	return Header{Function: pdu[1], Length: binary.BigEndian.Uint16(pdu[2:4])}, nil
}

// EncodeResult builds a BVLC-Result message.
func EncodeResult(code uint16) []byte {
	buf := make([]byte, HeaderLen+2)
	EncodeHeader(buf, FuncResult, uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], code)
	return buf
}

// EncodeOriginalUnicastNPDU wraps npdu for point-to-point transmission.
func EncodeOriginalUnicastNPDU(npduBytes []byte) []byte {
	buf := make([]byte, HeaderLen+len(npduBytes))
	EncodeHeader(buf, FuncOriginalUnicastNPDU, uint16(len(buf)))
	copy(buf[HeaderLen:], npduBytes)
	return buf
}

// EncodeOriginalBroadcastNPDU wraps npdu for local broadcast.
func EncodeOriginalBroadcastNPDU(npduBytes []byte) []byte {
	buf := make([]byte, HeaderLen+len(npduBytes))
	EncodeHeader(buf, FuncOriginalBroadcastNPDU, uint16(len(buf)))
	copy(buf[HeaderLen:], npduBytes)
	return buf
}

// EncodeForwardedNPDU wraps npdu with the 6-byte original-source address,
// spec.md 4.H "Forwarded-NPDU: carries original-source 6-byte address".
func EncodeForwardedNPDU(origin Addr, npduBytes []byte) []byte {
	buf := make([]byte, HeaderLen+6+len(npduBytes))
	EncodeHeader(buf, FuncForwardedNPDU, uint16(len(buf)))
	copy(buf[HeaderLen:HeaderLen+4], origin.IP[:])
	binary.BigEndian.PutUint16(buf[HeaderLen+4:HeaderLen+6], origin.Port)
	copy(buf[HeaderLen+6:], npduBytes)
	return buf
}

// DecodeForwardedNPDU splits a Forwarded-NPDU body into its origin and NPDU payload.
func DecodeForwardedNPDU(body []byte) (Addr, []byte, error) {
	if len(body) < 6 {
		return Addr{}, nil, fmt.Errorf("bvlc: truncated forwarded-NPDU")
	}
	var origin Addr
	copy(origin.IP[:], body[0:4])
	origin.Port = binary.BigEndian.Uint16(body[4:6])
	return origin, body[6:], nil
}

// EncodeRegisterForeignDevice builds a Register-Foreign-Device request.
func EncodeRegisterForeignDevice(ttlSeconds uint16) []byte {
	buf := make([]byte, HeaderLen+2)
	EncodeHeader(buf, FuncRegisterForeignDevice, uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], ttlSeconds)
	return buf
}

// DecodeRegisterForeignDevice extracts the requested TTL.
func DecodeRegisterForeignDevice(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, fmt.Errorf("bvlc: truncated register-foreign-device")
	}
	return binary.BigEndian.Uint16(body[0:2]), nil
}

// EncodeDeleteFDTEntry builds a Delete-FDT-Entry request naming addr.
func EncodeDeleteFDTEntry(addr Addr) []byte {
	buf := make([]byte, HeaderLen+6)
	EncodeHeader(buf, FuncDeleteFDTEntry, uint16(len(buf)))
	copy(buf[HeaderLen:HeaderLen+4], addr.IP[:])
	binary.BigEndian.PutUint16(buf[HeaderLen+4:HeaderLen+6], addr.Port)
	return buf
}

// DecodeDeleteFDTEntry extracts the addressed entry.
func DecodeDeleteFDTEntry(body []byte) (Addr, error) {
	if len(body) < 6 {
		return Addr{}, fmt.Errorf("bvlc: truncated delete-fdt-entry")
	}
	var a Addr
	copy(a.IP[:], body[0:4])
	a.Port = binary.BigEndian.Uint16(body[4:6])
	return a, nil
}
