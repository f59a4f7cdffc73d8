// Package readproperty implements the ReadProperty and ReadPropertyMultiple
// confirmed-service codecs, illustrating how a request/ack pair plugs into
// service dispatch, spec.md 4.F. Grounded on the original implementation's
// Send_Read_Property_Request (demo/handler/s_rp.c), whose (object type,
// object instance, property, array index) request shape this mirrors.
package readproperty

import (
	"fmt"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"
)

// Context tag numbers for the ReadProperty request/ack APDUs, clause 15.5.
const (
	tagObjectIdentifier byte = 0
	tagPropertyID       byte = 1
	tagArrayIndex       byte = 2
	tagPropertyValue    byte = 3
)

// NoArrayIndex means "array index not present" (the whole property, not one
// element of it), clause 15.5.1.1.
const NoArrayIndex int32 = -1

// Request is the decoded body of a ReadProperty-Request, clause 15.5.1.
type Request struct {
	Object     encoding.ObjectID
	Property   uint32
	ArrayIndex int32 // NoArrayIndex when absent
}

// EncodeRequest builds a ReadProperty-Request service body. A nil buf
// reports the length that would be written.
func EncodeRequest(buf []byte, r Request) int {
	n := encodeCtxObjectID(buf, 0, tagObjectIdentifier, r.Object)
	n += encodeCtxUint(buf, n, tagPropertyID, uint64(r.Property))
	if r.ArrayIndex != NoArrayIndex {
		n += encodeCtxUint(buf, n, tagArrayIndex, uint64(uint32(r.ArrayIndex)))
	}
	return n
}

// DecodeRequest parses a ReadProperty-Request service body.
func DecodeRequest(body []byte) (Request, error) {
	r, _, err := decodeRequest(body)
	return r, err
}

// decodeRequest additionally reports the number of bytes consumed, so
// DecodeAck can locate the property-value that follows without re-deriving
// the request's wire length.
func decodeRequest(body []byte) (Request, int, error) {
	var r Request
	tag, hdrLen, err := encoding.DecodeTag(body)
	if err != nil {
		return Request{}, 0, err
	}
	if !tag.Context || tag.Number != tagObjectIdentifier {
		return Request{}, 0, fmt.Errorf("readproperty: expected object-identifier context tag")
	}
	obj, err := decodeContextObjectID(body[hdrLen:])
	if err != nil {
		return Request{}, 0, err
	}
	r.Object = obj
	n := hdrLen + 4

	tag, hdrLen, err = encoding.DecodeTag(body[n:])
	if err != nil {
		return Request{}, 0, err
	}
	if !tag.Context || tag.Number != tagPropertyID {
		return Request{}, 0, fmt.Errorf("readproperty: expected property-identifier context tag")
	}
	prop, err := encoding.DecodeUnsigned(body[n+hdrLen:n+hdrLen+int(tag.Value)], tag.Value)
	if err != nil {
		return Request{}, 0, err
	}
	r.Property = uint32(prop)
	n += hdrLen + int(tag.Value)

	r.ArrayIndex = NoArrayIndex
	if n < len(body) {
		peekTag, peekHdrLen, err := encoding.DecodeTag(body[n:])
		if err != nil {
			return Request{}, 0, err
		}
		if peekTag.Context && peekTag.Number == tagArrayIndex {
			idx, err := encoding.DecodeUnsigned(body[n+peekHdrLen:n+peekHdrLen+int(peekTag.Value)], peekTag.Value)
			if err != nil {
				return Request{}, 0, err
			}
			r.ArrayIndex = int32(idx)
			n += peekHdrLen + int(peekTag.Value)
		}
	}
	return r, n, nil
}

// Ack is the decoded body of a ReadProperty-Ack, clause 15.5.2. Value is
// the single application-tagged primitive carried inside the constructed
// property-value context tag; a full implementation supporting list-valued
// properties would decode a sequence here instead.
type Ack struct {
	Object     encoding.ObjectID
	Property   uint32
	ArrayIndex int32
	Value      encoding.Value
}

// EncodeAck builds a ReadProperty-Ack service body.
func EncodeAck(buf []byte, a Ack) int {
	n := encodeCtxObjectID(buf, 0, tagObjectIdentifier, a.Object)
	n += encodeCtxUint(buf, n, tagPropertyID, uint64(a.Property))
	if a.ArrayIndex != NoArrayIndex {
		n += encodeCtxUint(buf, n, tagArrayIndex, uint64(uint32(a.ArrayIndex)))
	}
	n += encodeAt(buf, n, func(b []byte) int { return encoding.EncodeOpeningTag(b, tagPropertyValue) })
	n += encodeAt(buf, n, func(b []byte) int { return encodeValue(b, a.Value) })
	n += encodeAt(buf, n, func(b []byte) int { return encoding.EncodeClosingTag(b, tagPropertyValue) })
	return n
}

// DecodeAck parses a ReadProperty-Ack service body.
func DecodeAck(body []byte) (Ack, error) {
	req, n, err := decodeRequest(body)
	if err != nil {
		return Ack{}, err
	}
	if n >= len(body) {
		return Ack{}, fmt.Errorf("readproperty: missing property-value")
	}
	openTag, hdrLen, err := encoding.DecodeTag(body[n:])
	if err != nil {
		return Ack{}, err
	}
	if !openTag.Opening || openTag.Number != tagPropertyValue {
		return Ack{}, fmt.Errorf("readproperty: expected opening property-value tag")
	}
	n += hdrLen
	val, _, err := encoding.DecodeApplicationData(body[n:])
	if err != nil {
		return Ack{}, err
	}
	return Ack{Object: req.Object, Property: req.Property, ArrayIndex: req.ArrayIndex, Value: val}, nil
}

func decodeContextObjectID(body []byte) (encoding.ObjectID, error) {
	return encoding.DecodeObjectID(body)
}

func encodeValue(buf []byte, v encoding.Value) int {
	switch v.Tag {
	case encoding.TagUnsignedInt:
		return encoding.EncodeApplicationUnsigned(buf, v.Uint)
	case encoding.TagSignedInt:
		return encoding.EncodeApplicationSigned(buf, v.Int)
	case encoding.TagReal:
		return encoding.EncodeApplicationReal(buf, v.Real)
	case encoding.TagDouble:
		return encoding.EncodeApplicationDouble(buf, v.Double)
	case encoding.TagOctetString:
		return encoding.EncodeApplicationOctetString(buf, v.Octets)
	case encoding.TagCharacterString:
		return encoding.EncodeApplicationCharacterString(buf, v.Str)
	case encoding.TagBitString:
		return encoding.EncodeApplicationBitString(buf, v.Bits)
	case encoding.TagEnumerated:
		return encoding.EncodeApplicationEnumerated(buf, v.Enum)
	case encoding.TagDate:
		return encoding.EncodeApplicationDate(buf, v.Date)
	case encoding.TagTime:
		return encoding.EncodeApplicationTime(buf, v.Time)
	case encoding.TagObjectID:
		return encoding.EncodeApplicationObjectID(buf, v.Object)
	default:
		return 0
	}
}

func encodeCtxUint(buf []byte, offset int, tagNumber byte, value uint64) int {
	return encodeAt(buf, offset, func(b []byte) int { return encoding.EncodeContextUnsigned(b, tagNumber, value) })
}

func encodeCtxObjectID(buf []byte, offset int, tagNumber byte, id encoding.ObjectID) int {
	return encodeAt(buf, offset, func(b []byte) int { return encoding.EncodeContextObjectID(b, tagNumber, id) })
}

// encodeAt calls enc against buf[offset:] when buf is non-nil, or against
// nil (length-only mode) when buf is nil, keeping two-pass callers terse.
func encodeAt(buf []byte, offset int, enc func([]byte) int) int {
	if buf == nil {
		return enc(nil)
	}
	return enc(buf[offset:])
}
