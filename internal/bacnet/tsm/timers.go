package tsm

import "github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"

// Tick advances every active slot's timers by elapsedMs, spec.md 4.E
// "Timer tick (one millisecond or coarser)".
func (t *TSM) Tick(elapsedMs int) {
	t.mu.Lock()
	var toFree []byte
	for i := range t.slots {
		slot := &t.slots[i]
		if slot.InvokeID == 0 {
			continue
		}
		switch slot.State {
		case StateAwaitConfirmation:
			if slot.RequestTimerMs <= 0 {
				continue
			}
			slot.RequestTimerMs -= elapsedMs
			if slot.RequestTimerMs > 0 {
				continue
			}
			if slot.RetryCount > 0 {
				slot.RetryCount--
				slot.RequestTimerMs = t.cfg.ApduTimeoutMs
				t.resendLocked(slot)
			} else {
				slot.State = StateIdle
			}
		case StateSegmentedRequestClient, StateSegmentedResponseServer, StateSegmentedRequestServer, StateSegmentedConfirmation:
			if slot.SegmentTimerMs <= 0 {
				continue
			}
			slot.SegmentTimerMs -= elapsedMs
			if slot.SegmentTimerMs > 0 {
				continue
			}
			if slot.SegmentRetryCount > 0 {
				slot.SegmentRetryCount--
				switch slot.State {
				case StateSegmentedRequestClient:
					slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
					t.sendWindowLocked(slot, slot.LocalMaxSegsAccepted)
				case StateSegmentedResponseServer:
					slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
					t.sendServerWindowLocked(slot)
				case StateSegmentedRequestServer:
					slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs * 4
					// Re-request the window by re-emitting the last positive ack.
					t.sendSegmentAckLocked(slot, false, slot.PeerInvokeID, slot.LastSequenceNumber)
				case StateSegmentedConfirmation:
					slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
					t.sendSegmentAckLocked(slot, true, slot.InvokeID, slot.LastSequenceNumber)
				}
			} else {
				switch slot.State {
				case StateSegmentedRequestClient:
					slot.State = StateIdle
				default:
					toFree = append(toFree, slot.InvokeID)
				}
			}
		}
	}
	for _, id := range toFree {
		t.freeInvokeIDLocked(id)
	}
	t.mu.Unlock()
}

// resendLocked retransmits the stored PDU on an await-confirmation timeout.
// A previously segmented transmission restarts from segment 0, re-entering
// segmented-request-client, spec.md 4.E.
func (t *TSM) resendLocked(slot *Slot) {
	hdrLen := apdu.HeaderLen(apdu.Header{Type: apdu.TypeConfirmedRequest, ServiceChoice: slot.ServiceChoice})
	if hdrLen+len(slot.Outbound) <= slot.MaxAPDUForPeer {
		retries := slot.RetryCount
		t.sendUnsegmentedRequestLocked(slot, slot.LocalMaxSegsAccepted)
		slot.RetryCount = retries
		return
	}
	slot.State = StateSegmentedRequestClient
	slot.ActualWindowSize = 1
	slot.InitialSequenceNumber = 0
	slot.SentAllSegments = false
	t.sendWindowLocked(slot, slot.LocalMaxSegsAccepted)
	slot.SegmentTimerMs = t.cfg.ApduSegmentTimeoutMs
	slot.SegmentRetryCount = t.cfg.ApduRetries
}
