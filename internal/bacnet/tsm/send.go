package tsm

import (
	"fmt"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

const segmentedHeaderSize = 5 // apdu.Header segmented-confirmed-request size minus service-choice octet, clause 20.1.2.4

// ErrPeerNotBound is returned when a peer has no address-book entry and the
// caller requires one (segmented sends must know the peer's true capability).
var ErrPeerNotBound = fmt.Errorf("tsm: peer-not-bound")

// ErrPayloadExceedsPeerCapacity is returned when body would require more
// segments than the peer's max-segments-accepted permits.
var ErrPayloadExceedsPeerCapacity = fmt.Errorf("tsm: payload-exceeds-peer-capacity")

// SendConfirmedRequest implements spec.md 4.E "Sending a confirmed request
// (client side)". onAssigned, if non-nil, is invoked with the allocated
// invoke-id before the function returns -- spec.md §9's
// clientsubscribeinvoker pattern -- so a caller can register its own
// correlation context before any reply could possibly race it.
func (t *TSM) SendConfirmedRequest(peer npdu.Address, serviceChoice byte, body []byte, maxSegsAccepted int, segmentedResponseAccepted bool, onAssigned func(byte)) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	maxAPDU, maxTotal, segAccepted := t.peerCapacityLocked(peer)

	idx, invokeID, err := t.nextFreeSlotLocked()
	if err != nil {
		return 0, err
	}
	slot := &t.slots[idx]
	*slot = Slot{
		InvokeID:                  invokeID,
		Peer:                      peer,
		ServiceChoice:             serviceChoice,
		Outbound:                  append([]byte(nil), body...),
		SegmentedResponseAccepted: segmentedResponseAccepted,
		MaxAPDUForPeer:            maxAPDU,
		MaxTotalTransmittableForPeer: maxTotal,
	}
	if onAssigned != nil {
		slot.onAssigned = onAssigned
	}
	slot.LocalMaxSegsAccepted = maxSegsAccepted

	hdrLen := apdu.HeaderLen(apdu.Header{Type: apdu.TypeConfirmedRequest, ServiceChoice: serviceChoice})
	if hdrLen+len(body) <= maxAPDU {
		t.sendUnsegmentedRequestLocked(slot, maxSegsAccepted)
	} else {
		if err := t.beginSegmentedRequestLocked(slot, maxSegsAccepted, segAccepted); err != nil {
			slot.free()
			return 0, err
		}
	}
	if slot.onAssigned != nil {
		slot.onAssigned(invokeID)
	}
	return invokeID, nil
}

// peerCapacityLocked resolves the peer's max-APDU/max-transmittable/segments,
// falling back to local defaults if unbound, spec.md 4.E step 1.
func (t *TSM) peerCapacityLocked(peer npdu.Address) (maxAPDU, maxTotal, maxSegs int) {
	if t.addrBook != nil {
		if deviceID, ok := t.addrBook.GetDeviceIDForAddress(peer); ok {
			if entry, ok := t.addrBook.GetByDevice(deviceID); ok {
				maxAPDU = entry.MaxAPDU
				maxSegs = entry.MaxSegmentsAccepted
				if maxSegs <= 0 {
					maxSegs = t.cfg.MaxSegmentsAccepted
				}
				maxTotal = maxAPDU * maxSegs
				return
			}
		}
	}
	maxAPDU = apdu.MaxAPDULengthAcceptedValue(apdu.EncodeMaxAPDULengthAccepted(1476))
	maxSegs = t.cfg.MaxSegmentsAccepted
	maxTotal = maxAPDU * maxSegs
	return
}

func (t *TSM) sendUnsegmentedRequestLocked(slot *Slot, maxSegsAccepted int) {
	hdr := apdu.Header{
		Type:                      apdu.TypeConfirmedRequest,
		SegmentedResponseAccepted: true,
		MaxSegsAccepted:           apdu.EncodeMaxSegmentsAccepted(maxSegsAccepted),
		MaxApduAccepted:           apdu.EncodeMaxAPDULengthAccepted(1476),
		InvokeID:                  slot.InvokeID,
		ServiceChoice:             slot.ServiceChoice,
	}
	t.transmitLocked(slot.Peer, hdr, slot.Outbound)
	slot.State = StateAwaitConfirmation
	slot.RequestTimerMs = t.cfg.ApduTimeoutMs
	slot.RetryCount = t.cfg.ApduRetries
}

// beginSegmentedRequestLocked starts windowed segmented transmission,
// spec.md 4.E step 4.
func (t *TSM) beginSegmentedRequestLocked(slot *Slot, maxSegsAccepted, peerMaxSegs int) error {
	usable := slot.MaxAPDUForPeer - segmentedHeaderSize
	if usable <= 0 {
		return ErrPayloadExceedsPeerCapacity
	}
	segCount := 1
	if len(slot.Outbound) > 1 {
		segCount = (len(slot.Outbound)-1)/usable + 1
	}
	if peerMaxSegs > 0 && segCount > peerMaxSegs {
		return ErrPayloadExceedsPeerCapacity
	}
	slot.State = StateSegmentedRequestClient
	slot.ActualWindowSize = 1
	slot.ProposedWindowSize = t.cfg.DefaultWindowSize
	slot.InitialSequenceNumber = 0
	slot.SentAllSegments = false
	t.sendWindowLocked(slot, maxSegsAccepted)
	slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
	slot.SegmentRetryCount = t.cfg.ApduRetries
	return nil
}

// sendWindowLocked transmits up to slot.ActualWindowSize further segments
// starting at slot.InitialSequenceNumber, marking the final segment's
// more-follows bit false and SentAllSegments true once it goes out.
func (t *TSM) sendWindowLocked(slot *Slot, maxSegsAccepted int) {
	usable := slot.MaxAPDUForPeer - segmentedHeaderSize
	total := len(slot.Outbound)
	segCount := 1
	if total > 1 {
		segCount = (total-1)/usable + 1
	}
	for i := 0; i < int(slot.ActualWindowSize); i++ {
		seq := slot.InitialSequenceNumber + byte(i)
		segIdx := int(seq)
		if segIdx >= segCount {
			break
		}
		start := segIdx * usable
		end := start + usable
		if end > total {
			end = total
		}
		last := segIdx == segCount-1
		hdr := apdu.Header{
			Type:               apdu.TypeConfirmedRequest,
			Segmented:          true,
			MoreFollows:        !last,
			SegmentedResponseAccepted: true,
			MaxSegsAccepted:    apdu.EncodeMaxSegmentsAccepted(maxSegsAccepted),
			MaxApduAccepted:    apdu.EncodeMaxAPDULengthAccepted(1476),
			InvokeID:           slot.InvokeID,
			SequenceNumber:     seq,
			ProposedWindowSize: slot.ProposedWindowSize,
			ServiceChoice:      slot.ServiceChoice,
		}
		t.transmitLocked(slot.Peer, hdr, slot.Outbound[start:end])
		if last {
			slot.SentAllSegments = true
		}
	}
}

// transmitLocked builds the NPCI+APDU and hands it to the configured Sender.
func (t *TSM) transmitLocked(peer npdu.Address, hdr apdu.Header, body []byte) {
	if t.send == nil {
		return
	}
	nhdr := npdu.Header{HasDestination: peer.Net != 0 || len(peer.Mac) != 0, Destination: peer, ExpectingReply: true}
	nLen := npdu.EncodeLen(nhdr)
	aLen := apdu.HeaderLen(hdr)
	buf := make([]byte, nLen+aLen+len(body))
	npdu.Encode(buf, nhdr)
	apdu.Encode(buf[nLen:], hdr)
	copy(buf[nLen+aLen:], body)
	_, _ = t.send(peer, buf)
}
