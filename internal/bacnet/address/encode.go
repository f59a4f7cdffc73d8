package address

import "github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"

// EncodeList produces a contiguous BACnet-encoded list of every bound entry
// (device-id, address, max-APDU), skipping sparse/bind-pending slots, per
// spec.md 4.C "the list encoder must handle a sparse array". A nil buf
// reports the length only.
func (b *Book) EncodeList(buf []byte) int {
	entries := b.Snapshot()
	n := 0
	for _, e := range entries {
		n += encoding.EncodeApplicationObjectID(deref(buf, n), encoding.ObjectID{Type: 8, Instance: e.DeviceID})
		n += encoding.EncodeApplicationUnsigned(deref(buf, n), uint64(e.MaxAPDU))
		n += encoding.EncodeApplicationOctetString(deref(buf, n), e.Address.Mac)
	}
	return n
}

func deref(buf []byte, offset int) []byte {
	if buf == nil {
		return nil
	}
	return buf[offset:]
}

// ResultFlags mirrors the BACnet ReadRange result-flags bit-string, clause 15.10.
type ResultFlags struct {
	FirstItem bool
	LastItem  bool
	MoreItems bool
}

// RangeRequest selects a ReadRange query style, spec.md 4.C.
type RangeRequest struct {
	ByPosition bool
	Position   int // 1-based, only when ByPosition
	Count      int // requested item count; negative counts backward from Position
}

// EncodeRange answers a ReadRange request over the address-cache entries,
// supporting "by-position" and "read-all" queries, returning the result-flags
// and the matched entries.
func (b *Book) EncodeRange(req RangeRequest) (ResultFlags, []Entry) {
	entries := b.Snapshot()
	total := len(entries)
	if total == 0 {
		return ResultFlags{FirstItem: true, LastItem: true}, nil
	}
	start, count := 0, total
	if req.ByPosition {
		start = req.Position - 1
		count = req.Count
		if count < 0 {
			start += count + 1
			count = -count
		}
		if start < 0 {
			count += start
			start = 0
		}
		if start >= total {
			return ResultFlags{LastItem: true}, nil
		}
		if start+count > total {
			count = total - start
		}
	}
	slice := entries[start : start+count]
	flags := ResultFlags{
		FirstItem: start == 0,
		LastItem:  start+count >= total,
	}
	flags.MoreItems = !flags.LastItem
	return flags, slice
}
