package tsm

import (
	"testing"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

func testPeer() npdu.Address { return npdu.Address{Net: 1, Mac: []byte{10}} }

func newTestTSM(send Sender) *TSM {
	cfg := DefaultConfig()
	cfg.MaxTransactions = 8
	return New(cfg, nil, send)
}

func TestSendConfirmedRequestUnsegmentedAssignsInvokeIDBeforeReturn(t *testing.T) {
	var sent [][]byte
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		sent = append(sent, append([]byte(nil), b...))
		return len(b), nil
	})

	var assignedBeforeReturn byte
	id, err := tsm.SendConfirmedRequest(testPeer(), 12, []byte{1, 2, 3}, 4, true, func(invokeID byte) {
		assignedBeforeReturn = invokeID
	})
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}
	if assignedBeforeReturn != id {
		t.Fatalf("onAssigned saw %d, returned %d", assignedBeforeReturn, id)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one unsegmented frame, got %d", len(sent))
	}
	if tsm.InvokeIDFree(id) {
		t.Fatalf("invoke-id %d should be in use", id)
	}
}

func TestSegmentedRequestSplitsAcrossWindow(t *testing.T) {
	var frames []apdu.Header
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		_, nLen, _ := npdu.Decode(b)
		hdr, _, _ := apdu.Decode(b[nLen:])
		frames = append(frames, hdr)
		return len(b), nil
	})
	body := make([]byte, 3000)
	_, err := tsm.SendConfirmedRequest(testPeer(), 15, body, 16, true, nil)
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}
	if len(frames) == 0 {
		t.Fatalf("expected at least one segment")
	}
	if !frames[0].Segmented {
		t.Fatalf("expected first frame segmented")
	}
	if frames[0].SequenceNumber != 0 {
		t.Fatalf("first segment sequence must be 0, got %d", frames[0].SequenceNumber)
	}
}

func TestHandleSegmentAckAdvancesWindow(t *testing.T) {
	var frames []apdu.Header
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		_, nLen, _ := npdu.Decode(b)
		hdr, _, _ := apdu.Decode(b[nLen:])
		frames = append(frames, hdr)
		return len(b), nil
	})

	body := make([]byte, 5000)
	id, err := tsm.SendConfirmedRequest(testPeer(), 15, body, 16, true, nil)
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}
	firstBatch := len(frames)
	if firstBatch == 0 {
		t.Fatalf("expected segments sent")
	}
	lastSeq := frames[firstBatch-1].SequenceNumber

	tsm.HandleSegmentAck(testPeer(), apdu.Header{
		Type: apdu.TypeSegmentAck, Server: true, InvokeID: id,
		SequenceNumber: lastSeq, ProposedWindowSize: 4,
	})

	if len(frames) <= firstBatch {
		t.Fatalf("expected more segments after ack, total=%d", len(frames))
	}
}

func TestHandleSegmentAckOutOfWindowIsIgnored(t *testing.T) {
	var frames []apdu.Header
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		_, nLen, _ := npdu.Decode(b)
		hdr, _, _ := apdu.Decode(b[nLen:])
		frames = append(frames, hdr)
		return len(b), nil
	})

	body := make([]byte, 5000)
	id, err := tsm.SendConfirmedRequest(testPeer(), 15, body, 16, true, nil)
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}
	before := len(frames)

	tsm.HandleSegmentAck(testPeer(), apdu.Header{
		Type: apdu.TypeSegmentAck, Server: true, InvokeID: id,
		SequenceNumber: 200, ProposedWindowSize: 4,
	})

	if len(frames) != before {
		t.Fatalf("out-of-window ack should not trigger retransmission, before=%d after=%d", before, len(frames))
	}
}

func TestHandleSimpleAckFreesSlot(t *testing.T) {
	var delivered bool
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) { return len(b), nil })
	tsm.OnClientSimpleAck = func(peer npdu.Address, invokeID, serviceChoice byte) { delivered = true }

	id, err := tsm.SendConfirmedRequest(testPeer(), 8, []byte{1}, 4, true, nil)
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}
	tsm.HandleSimpleAck(testPeer(), apdu.Header{Type: apdu.TypeSimpleAck, InvokeID: id, ServiceChoice: 8})
	if !delivered {
		t.Fatalf("expected OnClientSimpleAck callback")
	}
	if !tsm.InvokeIDFree(id) {
		t.Fatalf("invoke-id %d should be freed", id)
	}
}

func TestAbortDuringSegmentedRequestClientSendsOutboundAbort(t *testing.T) {
	var abortSent bool
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		_, nLen, _ := npdu.Decode(b)
		hdr, _, _ := apdu.Decode(b[nLen:])
		if hdr.Type == apdu.TypeAbort {
			abortSent = true
		}
		return len(b), nil
	})

	body := make([]byte, 5000)
	id, err := tsm.SendConfirmedRequest(testPeer(), 15, body, 16, true, nil)
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}

	tsm.HandleAbort(testPeer(), apdu.Header{Type: apdu.TypeAbort, Server: true, InvokeID: id, Reason: apdu.AbortOther})

	if !abortSent {
		t.Fatalf("expected an outbound Abort PDU when aborted mid-segmented-send")
	}
	if !tsm.InvokeIDFree(id) {
		t.Fatalf("slot should be freed after abort")
	}
}

func TestTickExhaustsRetriesAndIdles(t *testing.T) {
	sendCount := 0
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		sendCount++
		return len(b), nil
	})
	cfg := tsm.cfg
	cfg.ApduTimeoutMs = 100
	cfg.ApduRetries = 1
	tsm.cfg = cfg

	id, err := tsm.SendConfirmedRequest(testPeer(), 8, []byte{1}, 4, true, nil)
	if err != nil {
		t.Fatalf("SendConfirmedRequest: %v", err)
	}
	firstSendCount := sendCount

	tsm.Tick(100) // first timeout: one retry remains, resend
	if sendCount <= firstSendCount {
		t.Fatalf("expected a resend on first timeout")
	}
	if tsm.InvokeIDFree(id) {
		t.Fatalf("invoke-id should still be allocated after one retry")
	}

	tsm.Tick(100) // retries exhausted: idle
	if !tsm.InvokeIDFailed(id) {
		t.Fatalf("expected invoke-id %d to be marked failed", id)
	}
}

func TestNextFreeInvokeIDSkipsZeroAndInUse(t *testing.T) {
	tsm := newTestTSM(nil)
	seen := map[byte]bool{}
	for i := 0; i < 5; i++ {
		id, err := tsm.NextFreeInvokeID()
		if err != nil {
			t.Fatalf("NextFreeInvokeID: %v", err)
		}
		if id == 0 {
			t.Fatalf("invoke-id 0 must never be allocated")
		}
		if seen[id] {
			t.Fatalf("invoke-id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestTableFullReturnsErrWhenNotBlocking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTransactions = 1
	tsm := New(cfg, nil, nil)
	if _, err := tsm.NextFreeInvokeID(); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := tsm.NextFreeInvokeID(); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}
}

func TestHandleConfirmedRequestReassemblesSegments(t *testing.T) {
	var delivered []byte
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) { return len(b), nil })
	tsm.OnServerRequest = func(peer npdu.Address, internalInvokeID, peerInvokeID byte, hdr apdu.Header, body []byte) {
		delivered = body
	}

	peer := testPeer()
	tsm.HandleConfirmedRequest(peer, apdu.Header{
		Type: apdu.TypeConfirmedRequest, Segmented: true, MoreFollows: true,
		InvokeID: 7, SequenceNumber: 0, ProposedWindowSize: 2, ServiceChoice: 15,
	}, []byte{0xAA})
	tsm.HandleConfirmedRequest(peer, apdu.Header{
		Type: apdu.TypeConfirmedRequest, Segmented: true, MoreFollows: false,
		InvokeID: 7, SequenceNumber: 1, ProposedWindowSize: 2, ServiceChoice: 15,
	}, []byte{0xBB})

	if string(delivered) != "\xaa\xbb" {
		t.Fatalf("expected reassembled body AABB, got %x", delivered)
	}
}

func TestUnsegmentedConfirmedRequestCanBeAnswered(t *testing.T) {
	var sent []byte
	tsm := newTestTSM(func(peer npdu.Address, b []byte) (int, error) {
		sent = append(sent, b...)
		return len(b), nil
	})

	var internalID byte
	tsm.OnServerRequest = func(peer npdu.Address, internal, peerInvokeID byte, hdr apdu.Header, body []byte) {
		internalID = internal
	}

	peer := testPeer()
	tsm.HandleConfirmedRequest(peer, apdu.Header{
		Type: apdu.TypeConfirmedRequest, InvokeID: 9, ServiceChoice: 12,
	}, []byte{0x01})

	if err := tsm.SendComplexAckResponse(internalID, 12, []byte{0x02, 0x03}); err != nil {
		t.Fatalf("SendComplexAckResponse: %v", err)
	}
	if len(sent) == 0 {
		t.Fatalf("expected a reply frame to be sent, got none")
	}
	if !tsm.InvokeIDFree(internalID) {
		t.Fatalf("expected the server slot to be freed after responding")
	}
}
