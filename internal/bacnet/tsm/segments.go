package tsm

import (
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// inWindow reports whether seq falls within [initial, initial+windowSize) modulo 256.
func inWindow(seq, initial, windowSize byte) bool {
	return seq-initial < windowSize
}

// duplicateInWindow reports whether seq is at or before the last in-order
// sequence number already received, relative to initial.
func duplicateInWindow(seq, initial, lastSeq byte) bool {
	return seq-initial <= lastSeq-initial
}

func (t *TSM) findSlotByInvokeID(invokeID byte) int {
	for i := range t.slots {
		if t.slots[i].InvokeID == invokeID && !t.slots[i].IsServer {
			return i
		}
	}
	return -1
}

// HandleSegmentAck processes an inbound segment-ack for a client-initiated
// segmented request or a server-initiated segmented response, spec.md 4.E
// "Receiving a segment-ack (client side)" (symmetric on the server side per
// §4.E "Outbound segmented response").
func (t *TSM) HandleSegmentAck(peer npdu.Address, hdr apdu.Header) {
	t.mu.Lock()
	idx := t.slotForSegmentAckLocked(hdr.InvokeID)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	slot := &t.slots[idx]

	if !inWindow(hdr.SequenceNumber, slot.InitialSequenceNumber, slot.ActualWindowSize) &&
		hdr.SequenceNumber != slot.InitialSequenceNumber+slot.ActualWindowSize {
		// Duplicate/out-of-window ack: restart timer, no other action.
		slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
		t.mu.Unlock()
		return
	}

	usable := slot.MaxAPDUForPeer - segmentedHeaderSize
	total := len(slot.Outbound)
	segCount := 1
	if total > 1 {
		segCount = (total-1)/usable + 1
	}
	remaining := segCount - int(hdr.SequenceNumber+1)

	if remaining > 0 {
		slot.InitialSequenceNumber = hdr.SequenceNumber + 1
		if hdr.ProposedWindowSize > 0 {
			slot.ActualWindowSize = hdr.ProposedWindowSize
		}
		slot.SegmentRetryCount = t.cfg.ApduRetries
		slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
		t.sendWindowLocked(slot, t.cfg.MaxSegmentsAccepted)
		t.mu.Unlock()
		return
	}

	// Final ack: stop the segment timer.
	slot.SegmentTimerMs = 0
	if slot.IsServer {
		t.freeInvokeIDLocked(slot.InvokeID)
		t.mu.Unlock()
		return
	}
	slot.State = StateAwaitConfirmation
	slot.RequestTimerMs = t.cfg.ApduTimeoutMs
	slot.RetryCount = t.cfg.ApduRetries
	t.mu.Unlock()
}

func (t *TSM) slotForSegmentAckLocked(invokeID byte) int {
	for i := range t.slots {
		if t.slots[i].InvokeID == invokeID {
			s := t.slots[i].State
			if s == StateSegmentedRequestClient || s == StateSegmentedResponseServer {
				return i
			}
		}
	}
	return -1
}

// HandleComplexAck processes an inbound complex-ack, reassembling segments
// when present, spec.md 4.E "Receiving a complex-ack segment (client side)".
func (t *TSM) HandleComplexAck(peer npdu.Address, hdr apdu.Header, body []byte) {
	t.mu.Lock()
	idx := t.findSlotByInvokeID(hdr.InvokeID)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	slot := &t.slots[idx]

	if !hdr.Segmented {
		t.deliverComplexAckLocked(slot, hdr.ServiceChoice, body)
		return
	}

	switch slot.State {
	case StateAwaitConfirmation:
		if hdr.SequenceNumber != 0 {
			t.abortAndFreeLocked(slot, apdu.AbortInvalidAPDUInThisState)
			return
		}
		slot.State = StateSegmentedConfirmation
		slot.Inbound = append([]byte(nil), body...)
		slot.LastSequenceNumber = 0
		slot.InitialSequenceNumber = 0
		slot.ActualWindowSize = hdr.ProposedWindowSize
		if slot.ActualWindowSize == 0 {
			slot.ActualWindowSize = 1
		}
		slot.ReceivedSegmentCount = 1
		t.continueReassemblyLocked(slot, peer, hdr, true)
	case StateSegmentedConfirmation:
		expected := slot.LastSequenceNumber + 1
		if hdr.SequenceNumber != expected {
			// Out-of-order: negative segment-ack referencing last good sequence.
			t.sendSegmentAckLocked(slot, true, hdr.InvokeID, slot.LastSequenceNumber)
			t.mu.Unlock()
			return
		}
		slot.Inbound = append(slot.Inbound, body...)
		slot.LastSequenceNumber = hdr.SequenceNumber
		slot.ReceivedSegmentCount++
		if slot.ReceivedSegmentCount > t.cfg.MaxSegmentsAccepted {
			t.abortAndFreeLocked(slot, apdu.AbortBufferOverflow)
			return
		}
		t.continueReassemblyLocked(slot, peer, hdr, false)
	default:
		t.mu.Unlock()
	}
}

// continueReassemblyLocked sends the positive ack when appropriate and, on
// more-follows=false, delivers the reassembled body. Caller holds t.mu and
// this function always releases it.
func (t *TSM) continueReassemblyLocked(slot *Slot, peer npdu.Address, hdr apdu.Header, firstSegment bool) {
	atWindowEnd := hdr.SequenceNumber == slot.InitialSequenceNumber+slot.ActualWindowSize
	if atWindowEnd || !hdr.MoreFollows {
		t.sendSegmentAckLocked(slot, false, hdr.InvokeID, hdr.SequenceNumber)
		if atWindowEnd && hdr.MoreFollows {
			slot.InitialSequenceNumber = hdr.SequenceNumber + 1
		}
	}
	if !hdr.MoreFollows {
		sc := slot.ServiceChoice
		body := slot.Inbound
		invokeID := slot.InvokeID
		t.freeInvokeIDLocked(invokeID)
		t.mu.Unlock()
		if t.OnClientComplexAck != nil {
			t.OnClientComplexAck(peer, invokeID, sc, body)
		}
		return
	}
	t.mu.Unlock()
}

func (t *TSM) deliverComplexAckLocked(slot *Slot, serviceChoice byte, body []byte) {
	invokeID := slot.InvokeID
	peer := slot.Peer
	t.freeInvokeIDLocked(invokeID)
	t.mu.Unlock()
	if t.OnClientComplexAck != nil {
		t.OnClientComplexAck(peer, invokeID, serviceChoice, append([]byte(nil), body...))
	}
}

func (t *TSM) sendSegmentAckLocked(slot *Slot, negative bool, invokeID, sequenceNumber byte) {
	buf := make([]byte, apdu.EncodeSegmentAck(nil, negative, slot.IsServer, invokeID, sequenceNumber, byte(t.cfg.MaxSegmentsAccepted)))
	apdu.EncodeSegmentAck(buf, negative, slot.IsServer, invokeID, sequenceNumber, byte(t.cfg.MaxSegmentsAccepted))
	t.sendRawLocked(slot.Peer, buf)
}

func (t *TSM) sendRawLocked(peer npdu.Address, apduBytes []byte) {
	if t.send == nil {
		return
	}
	nhdr := npdu.Header{HasDestination: true, Destination: peer}
	nLen := npdu.EncodeLen(nhdr)
	buf := make([]byte, nLen+len(apduBytes))
	npdu.Encode(buf, nhdr)
	copy(buf[nLen:], apduBytes)
	_, _ = t.send(peer, buf)
}

// abortAndFreeLocked sends an Abort PDU to the peer and frees the slot.
// Caller holds t.mu; this releases it.
func (t *TSM) abortAndFreeLocked(slot *Slot, reason byte) {
	invokeID := slot.InvokeID
	peer := slot.Peer
	buf := make([]byte, apdu.HeaderLen(apdu.Header{Type: apdu.TypeAbort}))
	apdu.Encode(buf, apdu.Header{Type: apdu.TypeAbort, Server: slot.IsServer, InvokeID: invokeID, Reason: reason})
	t.sendRawLocked(peer, buf)
	t.freeInvokeIDLocked(invokeID)
	t.mu.Unlock()
	if t.OnClientAbort != nil {
		t.OnClientAbort(peer, invokeID, reason)
	}
}

// HandleSimpleAck delivers an unsegmented simple-ack and frees the slot.
func (t *TSM) HandleSimpleAck(peer npdu.Address, hdr apdu.Header) {
	t.mu.Lock()
	idx := t.findSlotByInvokeID(hdr.InvokeID)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	invokeID := hdr.InvokeID
	sc := hdr.ServiceChoice
	t.freeInvokeIDLocked(invokeID)
	t.mu.Unlock()
	if t.OnClientSimpleAck != nil {
		t.OnClientSimpleAck(peer, invokeID, sc)
	}
}

// HandleError delivers a service Error PDU and frees the slot.
func (t *TSM) HandleError(peer npdu.Address, hdr apdu.Header, body []byte) {
	t.mu.Lock()
	idx := t.findSlotByInvokeID(hdr.InvokeID)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	invokeID := hdr.InvokeID
	sc := hdr.ServiceChoice
	t.freeInvokeIDLocked(invokeID)
	t.mu.Unlock()
	if t.OnClientError != nil {
		t.OnClientError(peer, invokeID, sc, body)
	}
}

// HandleAbort processes an inbound Abort PDU, spec.md 4.E "Abort and Reject":
// when received during segmented-request-client with SentAllSegments=false,
// the spec requires an outbound Abort in response (the redesigned, observable
// behavior per spec.md §9's resolved Open Question) before freeing the slot.
func (t *TSM) HandleAbort(peer npdu.Address, hdr apdu.Header) {
	t.mu.Lock()
	idx := t.findSlotByInvokeID(hdr.InvokeID)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	slot := &t.slots[idx]
	if slot.State == StateSegmentedRequestClient && !slot.SentAllSegments {
		t.abortAndFreeLocked(slot, hdr.Reason)
		return
	}
	invokeID := slot.InvokeID
	t.freeInvokeIDLocked(invokeID)
	t.mu.Unlock()
	if t.OnClientAbort != nil {
		t.OnClientAbort(peer, invokeID, hdr.Reason)
	}
}

// HandleReject processes an inbound Reject PDU, symmetric to HandleAbort.
func (t *TSM) HandleReject(peer npdu.Address, hdr apdu.Header) {
	t.mu.Lock()
	idx := t.findSlotByInvokeID(hdr.InvokeID)
	if idx < 0 {
		t.mu.Unlock()
		return
	}
	slot := &t.slots[idx]
	if slot.State == StateSegmentedRequestClient && !slot.SentAllSegments {
		t.abortAndFreeLocked(slot, apdu.AbortOther)
		return
	}
	invokeID := slot.InvokeID
	t.freeInvokeIDLocked(invokeID)
	t.mu.Unlock()
	if t.OnClientReject != nil {
		t.OnClientReject(peer, invokeID, hdr.Reason)
	}
}
