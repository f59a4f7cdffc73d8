// Package apdu implements the BACnet APDU fixed-header codec
// (ANSI/ASHRAE 135 clause 20.1): spec.md component D.
package apdu

import "fmt"

// Type is the PDU-type nibble carried in the top 4 bits of the first octet.
type Type byte

const (
	TypeConfirmedRequest   Type = 0
	TypeUnconfirmedRequest Type = 1
	TypeSimpleAck          Type = 2
	TypeComplexAck         Type = 3
	TypeSegmentAck         Type = 4
	TypeError              Type = 5
	TypeReject             Type = 6
	TypeAbort              Type = 7
)

// Reject reasons, clause 20.1.2.9.
const (
	RejectOther               byte = 0
	RejectBufferOverflow      byte = 1
	RejectInconsistentParams  byte = 2
	RejectInvalidParamDataType byte = 3
	RejectInvalidTag          byte = 4
	RejectMissingRequiredParam byte = 5
	RejectParamOutOfRange     byte = 6
	RejectTooManyArguments    byte = 7
	RejectUndefinedEnum       byte = 8
	RejectUnrecognizedService byte = 9
)

// Abort reasons, clause 20.1.2.11, plus the Non-goals-adjacent ones the TSM emits.
const (
	AbortOther                     byte = 0
	AbortBufferOverflow            byte = 1
	AbortInvalidAPDUInThisState    byte = 2
	AbortPreemptedByHigherPriority byte = 3
	AbortSegmentationNotSupported  byte = 4
	AbortSecurityError             byte = 5
	AbortInsufficientSecurity      byte = 6
	AbortWindowSizeOutOfRange      byte = 7
	AbortApplicationExceededReplyTime byte = 9
	AbortOutOfResources            byte = 10
	AbortTSMTimeout                byte = 11
	AbortAPDUTooLong               byte = 12
)

// Header is the decoded APDU fixed header, spec.md 4.D. Not every field is
// meaningful for every Type; see the per-type Encode/Decode helpers.
type Header struct {
	Type                      Type
	Segmented                 bool
	MoreFollows               bool
	SegmentedResponseAccepted bool
	Negative                  bool // segment-ack: NAK
	Server                    bool // segment-ack: SRV / abort: sent by server
	MaxSegsAccepted           byte // 3-bit code, confirmed-request only
	MaxApduAccepted           byte // 4-bit code, confirmed-request only
	InvokeID                  byte
	SequenceNumber            byte
	ProposedWindowSize        byte
	ServiceChoice             byte
	Reason                    byte // error class/reject/abort reason (reject/abort only)
}

// Error is a structured APDU decode failure.
type Error struct{ Detail string }

func (e *Error) Error() string { return fmt.Sprintf("apdu: %s", e.Detail) }

// MaxSegmentsAcceptedValue decodes the 3-bit max-segments-accepted code into an
// actual segment-count cap (0 = unspecified/unlimited).
func MaxSegmentsAcceptedValue(code byte) int {
	switch code {
	case 0:
		return 0
	case 1:
		return 2
	case 2:
		return 4
	case 3:
		return 8
	case 4:
		return 16
	case 5:
		return 32
	case 6:
		return 64
	default:
		return 65 // "greater than 64", reserved values treated as unbounded
	}
}

// EncodeMaxSegmentsAccepted picks the smallest code whose value is >= n.
func EncodeMaxSegmentsAccepted(n int) byte {
	switch {
	case n <= 0:
		return 0
	case n <= 2:
		return 1
	case n <= 4:
		return 2
	case n <= 8:
		return 3
	case n <= 16:
		return 4
	case n <= 32:
		return 5
	case n <= 64:
		return 6
	default:
		return 7
	}
}

// MaxAPDULengthAcceptedValue decodes the 4-bit max-apdu-length-accepted code.
func MaxAPDULengthAcceptedValue(code byte) int {
	switch code {
	case 0:
		return 50
	case 1:
		return 128
	case 2:
		return 206
	case 3:
		return 480
	case 4:
		return 1024
	case 5:
		return 1476
	default:
		return 1476
	}
}

// EncodeMaxAPDULengthAccepted picks the code for the nearest standard size <= n.
func EncodeMaxAPDULengthAccepted(n int) byte {
	switch {
	case n >= 1476:
		return 5
	case n >= 1024:
		return 4
	case n >= 480:
		return 3
	case n >= 206:
		return 2
	case n >= 128:
		return 1
	default:
		return 0
	}
}

// HeaderLen returns how many octets Encode would write for hdr.
func HeaderLen(hdr Header) int {
	return Encode(nil, hdr)
}

// Encode writes the fixed header for hdr into buf (nil buf reports length only).
func Encode(buf []byte, hdr Header) int {
	switch hdr.Type {
	case TypeConfirmedRequest:
		return encodeConfirmedRequest(buf, hdr)
	case TypeUnconfirmedRequest:
		if buf != nil {
			buf[0] = byte(TypeUnconfirmedRequest) << 4
			buf[1] = hdr.ServiceChoice
		}
		return 2
	case TypeSimpleAck:
		if buf != nil {
			buf[0] = byte(TypeSimpleAck) << 4
			buf[1] = hdr.InvokeID
			buf[2] = hdr.ServiceChoice
		}
		return 3
	case TypeComplexAck:
		return encodeComplexAck(buf, hdr)
	case TypeSegmentAck:
		if buf != nil {
			b0 := byte(TypeSegmentAck) << 4
			if hdr.Negative {
				b0 |= 0x02
			}
			if hdr.Server {
				b0 |= 0x01
			}
			buf[0] = b0
			buf[1] = hdr.InvokeID
			buf[2] = hdr.SequenceNumber
			buf[3] = hdr.ProposedWindowSize
		}
		return 4
	case TypeError:
		if buf != nil {
			buf[0] = byte(TypeError) << 4
			buf[1] = hdr.InvokeID
			buf[2] = hdr.ServiceChoice
		}
		return 3
	case TypeReject:
		if buf != nil {
			buf[0] = byte(TypeReject) << 4
			buf[1] = hdr.InvokeID
			buf[2] = hdr.Reason
		}
		return 3
	case TypeAbort:
		if buf != nil {
			b0 := byte(TypeAbort) << 4
			if hdr.Server {
				b0 |= 0x01
			}
			buf[0] = b0
			buf[1] = hdr.InvokeID
			buf[2] = hdr.Reason
		}
		return 3
	}
	return 0
}

func encodeConfirmedRequest(buf []byte, hdr Header) int {
	n := 4
	if buf != nil {
		b0 := byte(TypeConfirmedRequest) << 4
		if hdr.Segmented {
			b0 |= 0x08
		}
		if hdr.MoreFollows {
			b0 |= 0x04
		}
		if hdr.SegmentedResponseAccepted {
			b0 |= 0x02
		}
		buf[0] = b0
		buf[1] = hdr.MaxSegsAccepted<<4 | hdr.MaxApduAccepted
		buf[2] = hdr.InvokeID
	}
	if hdr.Segmented {
		if buf != nil {
			buf[3] = hdr.SequenceNumber
			buf[4] = hdr.ProposedWindowSize
			buf[5] = hdr.ServiceChoice
		}
		return 6
	}
	if buf != nil {
		buf[3] = hdr.ServiceChoice
	}
	return n
}

func encodeComplexAck(buf []byte, hdr Header) int {
	if buf != nil {
		b0 := byte(TypeComplexAck) << 4
		if hdr.Segmented {
			b0 |= 0x08
		}
		if hdr.MoreFollows {
			b0 |= 0x04
		}
		buf[0] = b0
		buf[1] = hdr.InvokeID
	}
	if hdr.Segmented {
		if buf != nil {
			buf[2] = hdr.SequenceNumber
			buf[3] = hdr.ProposedWindowSize
			buf[4] = hdr.ServiceChoice
		}
		return 5
	}
	if buf != nil {
		buf[2] = hdr.ServiceChoice
	}
	return 3
}

// Decode parses the fixed header at the start of pdu and returns it along
// with the byte offset of the service body that follows.
func Decode(pdu []byte) (Header, int, error) {
	if len(pdu) < 2 {
		return Header{}, 0, &Error{Detail: "truncated PDU"}
	}
	typ := Type(pdu[0] >> 4)
	switch typ {
	case TypeConfirmedRequest:
		return decodeConfirmedRequest(pdu)
	case TypeUnconfirmedRequest:
		return Header{Type: typ, ServiceChoice: pdu[1]}, 2, nil
	case TypeSimpleAck:
		if len(pdu) < 3 {
			return Header{}, 0, &Error{Detail: "truncated simple-ack"}
		}
		return Header{Type: typ, InvokeID: pdu[1], ServiceChoice: pdu[2]}, 3, nil
	case TypeComplexAck:
		return decodeComplexAck(pdu)
	case TypeSegmentAck:
		if len(pdu) < 4 {
			return Header{}, 0, &Error{Detail: "truncated segment-ack"}
		}
		return Header{
			Type:               typ,
			Negative:           pdu[0]&0x02 != 0,
			Server:             pdu[0]&0x01 != 0,
			InvokeID:           pdu[1],
			SequenceNumber:     pdu[2],
			ProposedWindowSize: pdu[3],
		}, 4, nil
	case TypeError:
		if len(pdu) < 3 {
			return Header{}, 0, &Error{Detail: "truncated error"}
		}
		return Header{Type: typ, InvokeID: pdu[1], ServiceChoice: pdu[2]}, 3, nil
	case TypeReject:
		if len(pdu) < 3 {
			return Header{}, 0, &Error{Detail: "truncated reject"}
		}
		return Header{Type: typ, InvokeID: pdu[1], Reason: pdu[2]}, 3, nil
	case TypeAbort:
		if len(pdu) < 3 {
			return Header{}, 0, &Error{Detail: "truncated abort"}
		}
		return Header{Type: typ, Server: pdu[0]&0x01 != 0, InvokeID: pdu[1], Reason: pdu[2]}, 3, nil
	default:
		return Header{}, 0, &Error{Detail: "unknown PDU type"}
	}
}

func decodeConfirmedRequest(pdu []byte) (Header, int, error) {
	if len(pdu) < 4 {
		return Header{}, 0, &Error{Detail: "truncated confirmed-request"}
	}
	hdr := Header{
		Type:                      TypeConfirmedRequest,
		Segmented:                 pdu[0]&0x08 != 0,
		MoreFollows:               pdu[0]&0x04 != 0,
		SegmentedResponseAccepted: pdu[0]&0x02 != 0,
		MaxSegsAccepted:           pdu[1] >> 4,
		MaxApduAccepted:           pdu[1] & 0x0F,
		InvokeID:                  pdu[2],
	}
	if hdr.Segmented {
		if len(pdu) < 6 {
			return Header{}, 0, &Error{Detail: "truncated segmented confirmed-request"}
		}
		hdr.SequenceNumber = pdu[3]
		hdr.ProposedWindowSize = pdu[4]
		hdr.ServiceChoice = pdu[5]
		return hdr, 6, nil
	}
	hdr.ServiceChoice = pdu[3]
	return hdr, 4, nil
}

func decodeComplexAck(pdu []byte) (Header, int, error) {
	if len(pdu) < 3 {
		return Header{}, 0, &Error{Detail: "truncated complex-ack"}
	}
	hdr := Header{
		Type:        TypeComplexAck,
		Segmented:   pdu[0]&0x08 != 0,
		MoreFollows: pdu[0]&0x04 != 0,
		InvokeID:    pdu[1],
	}
	if hdr.Segmented {
		if len(pdu) < 5 {
			return Header{}, 0, &Error{Detail: "truncated segmented complex-ack"}
		}
		hdr.SequenceNumber = pdu[2]
		hdr.ProposedWindowSize = pdu[3]
		hdr.ServiceChoice = pdu[4]
		return hdr, 5, nil
	}
	hdr.ServiceChoice = pdu[2]
	return hdr, 3, nil
}

// EncodeSegmentAck is a standalone helper mirroring the original source's
// segmentack.c split, spec.md 5 "supplemented features".
func EncodeSegmentAck(buf []byte, negative, server bool, invokeID, sequenceNumber, windowSize byte) int {
	return Encode(buf, Header{
		Type:               TypeSegmentAck,
		Negative:           negative,
		Server:             server,
		InvokeID:           invokeID,
		SequenceNumber:     sequenceNumber,
		ProposedWindowSize: windowSize,
	})
}

// DecodeSegmentAck parses a standalone segment-ack PDU.
func DecodeSegmentAck(pdu []byte) (Header, int, error) {
	hdr, n, err := Decode(pdu)
	if err != nil {
		return Header{}, 0, err
	}
	if hdr.Type != TypeSegmentAck {
		return Header{}, 0, &Error{Detail: "not a segment-ack PDU"}
	}
	return hdr, n, nil
}
