package tsm

import (
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// HandleConfirmedRequest processes an inbound confirmed-request APDU,
// spec.md 4.E "Receiving segments (server side, inbound confirmed request)".
// Once the request is fully available (immediately, if unsegmented), it is
// delivered to OnServerRequest for service dispatch (spec.md component F).
func (t *TSM) HandleConfirmedRequest(peer npdu.Address, hdr apdu.Header, body []byte) {
	t.mu.Lock()

	if !hdr.Segmented {
		idx, internalID, err := t.nextFreeSlotLocked()
		if err != nil {
			t.mu.Unlock()
			return
		}
		t.slots[idx] = Slot{
			InvokeID:      internalID,
			Peer:          peer,
			ServiceChoice: hdr.ServiceChoice,
			State:         StateAwaitConfirmation,
			IsServer:      true,
			PeerInvokeID:  hdr.InvokeID,
		}
		t.mu.Unlock()
		if t.OnServerRequest != nil {
			t.OnServerRequest(peer, internalID, hdr.InvokeID, hdr, append([]byte(nil), body...))
		}
		return
	}

	key := peerKey{addr: peerStringKey(peer), invokeID: hdr.InvokeID}
	idx, existing := t.peerIdx[key]

	if hdr.SequenceNumber == 0 && !existing {
		newIdx, internalID, err := t.nextFreeSlotLocked()
		if err != nil {
			t.mu.Unlock()
			return
		}
		slot := &t.slots[newIdx]
		*slot = Slot{
			InvokeID:           internalID,
			Peer:               peer,
			ServiceChoice:      hdr.ServiceChoice,
			State:              StateSegmentedRequestServer,
			Inbound:            append([]byte(nil), body...),
			IsServer:           true,
			PeerInvokeID:       hdr.InvokeID,
			InitialSequenceNumber: 0,
			LastSequenceNumber: 0,
			ActualWindowSize:   hdr.ProposedWindowSize,
			ReceivedSegmentCount: 1,
			// Server-side segment timeout is 4x the standard, spec.md 4.E.
			SegmentTimerMs:     t.cfg.ApduSegmentTimeoutMs * 4,
			SegmentRetryCount:  t.cfg.ApduRetries,
		}
		if slot.ActualWindowSize == 0 {
			slot.ActualWindowSize = 1
		}
		t.peerIdx[key] = newIdx
		t.continueServerReassemblyLocked(slot, peer, hdr)
		return
	}

	if !existing {
		t.mu.Unlock()
		return
	}
	slot := &t.slots[idx]
	expected := slot.LastSequenceNumber + 1
	if duplicateInWindow(hdr.SequenceNumber, slot.InitialSequenceNumber, slot.LastSequenceNumber) {
		slot.DuplicateCount++
		if slot.DuplicateCount > int(slot.ActualWindowSize) {
			t.sendSegmentAckLocked(slot, true, hdr.InvokeID, slot.LastSequenceNumber)
			slot.DuplicateCount = 0
			t.mu.Unlock()
			return
		}
		slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs * 4
		t.mu.Unlock()
		return
	}
	if hdr.SequenceNumber != expected {
		t.sendSegmentAckLocked(slot, true, hdr.InvokeID, slot.LastSequenceNumber)
		t.mu.Unlock()
		return
	}
	slot.Inbound = append(slot.Inbound, body...)
	slot.LastSequenceNumber = hdr.SequenceNumber
	slot.ReceivedSegmentCount++
	slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs * 4
	t.continueServerReassemblyLocked(slot, peer, hdr)
}

func (t *TSM) continueServerReassemblyLocked(slot *Slot, peer npdu.Address, hdr apdu.Header) {
	atWindowEnd := hdr.SequenceNumber == slot.InitialSequenceNumber+slot.ActualWindowSize
	if atWindowEnd || !hdr.MoreFollows {
		t.sendSegmentAckLocked(slot, false, hdr.InvokeID, hdr.SequenceNumber)
		if atWindowEnd && hdr.MoreFollows {
			slot.InitialSequenceNumber = hdr.SequenceNumber + 1
		}
	}
	if !hdr.MoreFollows {
		internalID := slot.InvokeID
		peerInvokeID := slot.PeerInvokeID
		serviceChoice := slot.ServiceChoice
		body := slot.Inbound
		t.mu.Unlock()
		if t.OnServerRequest != nil {
			reqHdr := hdr
			reqHdr.ServiceChoice = serviceChoice
			t.OnServerRequest(peer, internalID, peerInvokeID, reqHdr, body)
		}
		return
	}
	t.mu.Unlock()
}

// SendComplexAckResponse builds and (if needed) segments the response body
// for the inbound request tracked under internalInvokeID, spec.md 4.E
// "Outbound segmented response (server side)".
func (t *TSM) SendComplexAckResponse(internalInvokeID byte, serviceChoice byte, body []byte) error {
	t.mu.Lock()
	idx := -1
	for i := range t.slots {
		if t.slots[i].InvokeID == internalInvokeID && t.slots[i].IsServer {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return ErrPeerNotBound
	}
	slot := &t.slots[idx]
	slot.Outbound = append([]byte(nil), body...)
	slot.ServiceChoice = serviceChoice

	maxAPDU, _, maxSegs := t.peerCapacityLocked(slot.Peer)
	slot.MaxAPDUForPeer = maxAPDU

	hdrLen := apdu.HeaderLen(apdu.Header{Type: apdu.TypeComplexAck})
	if hdrLen+len(body) <= maxAPDU {
		hdr := apdu.Header{Type: apdu.TypeComplexAck, InvokeID: slot.PeerInvokeID, ServiceChoice: serviceChoice}
		t.transmitRawAPDULocked(slot.Peer, hdr, body)
		t.freeInvokeIDLocked(internalInvokeID)
		t.mu.Unlock()
		return nil
	}

	usable := maxAPDU - segmentedHeaderSize
	segCount := (len(body)-1)/usable + 1
	if maxSegs > 0 && segCount > maxSegs {
		t.mu.Unlock()
		return ErrPayloadExceedsPeerCapacity
	}
	slot.State = StateSegmentedResponseServer
	slot.ActualWindowSize = 1
	slot.ProposedWindowSize = t.cfg.DefaultWindowSize
	slot.InitialSequenceNumber = 0
	slot.SentAllSegments = false
	t.sendServerWindowLocked(slot)
	slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
	slot.SegmentRetryCount = t.cfg.ApduRetries
	t.mu.Unlock()
	return nil
}

func (t *TSM) sendServerWindowLocked(slot *Slot) {
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
			Type:               apdu.TypeComplexAck,
			Segmented:          true,
			MoreFollows:        !last,
			InvokeID:           slot.PeerInvokeID,
			SequenceNumber:     seq,
			ProposedWindowSize: slot.ProposedWindowSize,
			ServiceChoice:      slot.ServiceChoice,
		}
		t.transmitRawAPDULocked(slot.Peer, hdr, slot.Outbound[start:end])
		if last {
			slot.SentAllSegments = true
		}
	}
}

func (t *TSM) transmitRawAPDULocked(peer npdu.Address, hdr apdu.Header, body []byte) {
	aLen := apdu.HeaderLen(hdr)
	buf := make([]byte, aLen+len(body))
	apdu.Encode(buf, hdr)
	copy(buf[aLen:], body)
	t.sendRawLocked(peer, buf)
}

// SendSimpleAck answers an inbound request with an unsegmented simple-ack.
func (t *TSM) SendSimpleAck(internalInvokeID, serviceChoice byte) {
	t.mu.Lock()
	for i := range t.slots {
		if t.slots[i].InvokeID == internalInvokeID && t.slots[i].IsServer {
			peer := t.slots[i].Peer
			peerInvokeID := t.slots[i].PeerInvokeID
			buf := make([]byte, apdu.HeaderLen(apdu.Header{Type: apdu.TypeSimpleAck}))
			apdu.Encode(buf, apdu.Header{Type: apdu.TypeSimpleAck, InvokeID: peerInvokeID, ServiceChoice: serviceChoice})
			t.sendRawLocked(peer, buf)
			t.freeInvokeIDLocked(internalInvokeID)
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()
}

// SendErrorResponse answers an inbound request with an Error PDU.
func (t *TSM) SendErrorResponse(internalInvokeID, serviceChoice byte, body []byte) {
	t.mu.Lock()
	for i := range t.slots {
		if t.slots[i].InvokeID == internalInvokeID && t.slots[i].IsServer {
			peer := t.slots[i].Peer
			peerInvokeID := t.slots[i].PeerInvokeID
			hdr := apdu.Header{Type: apdu.TypeError, InvokeID: peerInvokeID, ServiceChoice: serviceChoice}
			t.transmitRawAPDULocked(peer, hdr, body)
			t.freeInvokeIDLocked(internalInvokeID)
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()
}

// SendReject answers an inbound request with a Reject PDU and frees the slot,
// spec.md 4.F "Dispatch rule": the unrecognized-service fallback.
func (t *TSM) SendReject(internalInvokeID, reason byte) {
	t.mu.Lock()
	for i := range t.slots {
		if t.slots[i].InvokeID == internalInvokeID && t.slots[i].IsServer {
			peer := t.slots[i].Peer
			peerInvokeID := t.slots[i].PeerInvokeID
			hdr := apdu.Header{Type: apdu.TypeReject, InvokeID: peerInvokeID, Reason: reason}
			t.transmitRawAPDULocked(peer, hdr, nil)
			t.freeInvokeIDLocked(internalInvokeID)
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()
}

// SendAbort answers an inbound request (or aborts a client request) with an
// Abort PDU and frees the slot.
func (t *TSM) SendAbort(internalInvokeID, reason byte, fromServer bool) {
	t.mu.Lock()
	for i := range t.slots {
		if t.slots[i].InvokeID == internalInvokeID {
			peer := t.slots[i].Peer
			wireInvokeID := t.slots[i].InvokeID
			if t.slots[i].IsServer {
				wireInvokeID = t.slots[i].PeerInvokeID
			}
			hdr := apdu.Header{Type: apdu.TypeAbort, Server: fromServer, InvokeID: wireInvokeID, Reason: reason}
			buf := make([]byte, apdu.HeaderLen(hdr))
			apdu.Encode(buf, hdr)
			t.sendRawLocked(peer, buf)
			t.freeInvokeIDLocked(internalInvokeID)
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()
}
