// Package whois implements the Who-Is/I-Am unconfirmed service pair,
// illustrating how an application-service codec plugs into service
// dispatch, spec.md 4.F.
package whois

import "github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"

// WhoIs is the optional device-instance range carried by a Who-Is request.
// A zero-value WhoIs (HasRange=false) requests every device to respond.
type WhoIs struct {
	HasRange bool
	Low      uint32
	High     uint32
}

// EncodeWhoIs builds the service body for Who-Is, clause 20.1.8.
func EncodeWhoIs(buf []byte, w WhoIs) int {
	if !w.HasRange {
		return 0
	}
	n := encoding.EncodeApplicationUnsigned(buf, uint64(w.Low))
	n += encodeAt(buf, n, func(b []byte) int { return encoding.EncodeApplicationUnsigned(b, uint64(w.High)) })
	return n
}

// encodeAt calls enc against buf[offset:] when buf is non-nil, or against
// nil (length-only mode) when buf is nil, keeping two-pass callers terse.
func encodeAt(buf []byte, offset int, enc func([]byte) int) int {
	if buf == nil {
		return enc(nil)
	}
	return enc(buf[offset:])
}

// DecodeWhoIs parses a Who-Is service body; an empty body means "all devices".
func DecodeWhoIs(body []byte) (WhoIs, error) {
	if len(body) == 0 {
		return WhoIs{}, nil
	}
	lowVal, n, err := encoding.DecodeApplicationData(body)
	if err != nil {
		return WhoIs{}, err
	}
	highVal, _, err := encoding.DecodeApplicationData(body[n:])
	if err != nil {
		return WhoIs{}, err
	}
	return WhoIs{HasRange: true, Low: uint32(lowVal.Uint), High: uint32(highVal.Uint)}, nil
}

// IAm is the announcement carried by an I-Am unconfirmed request,
// clause 20.1.9.
type IAm struct {
	DeviceID              encoding.ObjectID
	MaxAPDULength         uint32
	SegmentationSupported uint32
	VendorID              uint32
}

// EncodeIAm builds the I-Am service body.
func EncodeIAm(buf []byte, a IAm) int {
	n := encoding.EncodeApplicationObjectID(buf, a.DeviceID)
	if buf != nil {
		n += encoding.EncodeApplicationUnsigned(buf[n:], uint64(a.MaxAPDULength))
		n += encoding.EncodeApplicationEnumerated(buf[n:], a.SegmentationSupported)
		n += encoding.EncodeApplicationUnsigned(buf[n:], uint64(a.VendorID))
	} else {
		n += encoding.EncodeApplicationUnsigned(nil, uint64(a.MaxAPDULength))
		n += encoding.EncodeApplicationEnumerated(nil, a.SegmentationSupported)
		n += encoding.EncodeApplicationUnsigned(nil, uint64(a.VendorID))
	}
	return n
}

// DecodeIAm parses an I-Am service body.
func DecodeIAm(body []byte) (IAm, error) {
	deviceVal, n, err := encoding.DecodeApplicationData(body)
	if err != nil {
		return IAm{}, err
	}
	maxAPDUVal, n2, err := encoding.DecodeApplicationData(body[n:])
	if err != nil {
		return IAm{}, err
	}
	n += n2
	segVal, n3, err := encoding.DecodeApplicationData(body[n:])
	if err != nil {
		return IAm{}, err
	}
	n += n3
	vendorVal, _, err := encoding.DecodeApplicationData(body[n:])
	if err != nil {
		return IAm{}, err
	}
	return IAm{
		DeviceID:              deviceVal.Object,
		MaxAPDULength:         uint32(maxAPDUVal.Uint),
		SegmentationSupported: segVal.Enum,
		VendorID:              uint32(vendorVal.Uint),
	}, nil
}
