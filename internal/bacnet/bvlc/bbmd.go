package bvlc

import "encoding/binary"

// BDTEntry is one Broadcast Distribution Table row, spec.md 3 "BBMD tables".
type BDTEntry struct {
	Peer Addr
	Mask [4]byte // broadcast distribution mask
}

// FDTEntry is one Foreign Device Table row. SecondsRemaining is the
// countdown decremented by TimerTick; the entry is invalidated at 0.
type FDTEntry struct {
	Peer             Addr
	TTLSeconds       uint16
	SecondsRemaining uint16
}

// foreignDeviceGraceSeconds is the standard's extra allowance beyond the
// registrant's requested TTL, clause J.5.2.3: "TTL + 30".
const foreignDeviceGraceSeconds = 30

// Sender places a raw BVLC message on the wire to dest.
type Sender func(dest Addr, msg []byte) error

// BBMD is the BVLC dispatcher for one BACnet/IP port, spec.md 4.H.
type BBMD struct {
	Self Addr

	// LocalBroadcast is this BBMD's own subnet's B/IP broadcast address,
	// used to re-announce a Forwarded-NPDU to local devices that haven't
	// already seen it, spec.md 4.H "Forwarded-NPDU".
	LocalBroadcast Addr

	BDT []BDTEntry
	FDT []FDTEntry

	send         Sender
	deliverLocal func(src Addr, npduBytes []byte)

	// OnResult is invoked for an inbound BVLC-Result, spec.md 4.H
	// "BVLC-Result: dispatch to the installed result callback".
	OnResult func(src Addr, code uint16)
}

// New builds a BBMD bound to self, delivering decapsulated NPDUs to
// deliverLocal and placing outbound BVLC messages (including the local
// re-broadcast of a Forwarded-NPDU, addressed to localBroadcast) via send.
func New(self, localBroadcast Addr, send Sender, deliverLocal func(src Addr, npduBytes []byte)) *BBMD {
	return &BBMD{Self: self, LocalBroadcast: localBroadcast, send: send, deliverLocal: deliverLocal}
}

// HandleInbound processes one received BVLC message from src, spec.md 4.H
// "Inbound processing".
func (b *BBMD) HandleInbound(src Addr, pdu []byte) error {
	hdr, err := DecodeHeader(pdu)
	if err != nil {
		return err
	}
	body := pdu[HeaderLen:]

	switch hdr.Function {
	case FuncOriginalUnicastNPDU:
		b.deliverLocal(src, body)
	case FuncOriginalBroadcastNPDU:
		b.deliverLocal(src, body)
		b.forwardToBDT(b.Self, body)
		b.forwardToFDT(Addr{}, body)
	case FuncForwardedNPDU:
		origin, npduBytes, derr := DecodeForwardedNPDU(body)
		if derr != nil {
			return derr
		}
		// Invariant: never forward a message whose original-source is this
		// BBMD itself, spec.md 3 "Invariant inventory".
		if origin.Equal(b.Self) {
			return nil
		}
		b.deliverLocal(origin, npduBytes)
		if entry, ok := b.bdtEntryFor(src); ok && isAllOnesMask(entry.Mask) {
			// This BDT member's broadcast mask is all-ones, meaning it
			// forwards to us over unicast rather than a directed
			// broadcast: our own subnet hasn't seen the message yet, so
			// re-announce it there as a genuine local broadcast instead
			// of delivering it to our own application layer twice.
			_ = b.send(b.LocalBroadcast, EncodeOriginalBroadcastNPDU(npduBytes))
		}
		b.forwardToFDTExcept(origin, npduBytes)
	case FuncDistributeBroadcastToNetwork:
		b.deliverLocal(src, body)
		b.forwardToBDT(b.Self, body)
		b.forwardToFDTExcept(src, body)
	case FuncRegisterForeignDevice:
		ttl, derr := DecodeRegisterForeignDevice(body)
		if derr != nil {
			return derr
		}
		b.registerForeignDevice(src, ttl)
		return b.send(src, EncodeResult(ResultSuccess))
	case FuncDeleteFDTEntry:
		target, derr := DecodeDeleteFDTEntry(body)
		if derr != nil {
			return derr
		}
		if b.deleteFDTEntry(target) {
			return b.send(src, EncodeResult(ResultSuccess))
		}
		return b.send(src, EncodeResult(ResultDeleteFDTNAK))
	case FuncWriteBDT:
		b.writeBDT(body)
		return b.send(src, EncodeResult(ResultSuccess))
	case FuncReadBDT:
		return b.send(src, b.encodeReadBDTAck())
	case FuncReadFDT:
		return b.send(src, b.encodeReadFDTAck())
	case FuncResult:
		if len(body) >= 2 && b.OnResult != nil {
			b.OnResult(src, binary.BigEndian.Uint16(body[0:2]))
		}
	}
	return nil
}

func (b *BBMD) bdtEntryFor(peer Addr) (BDTEntry, bool) {
	for _, e := range b.BDT {
		if e.Peer.Equal(peer) {
			return e, true
		}
	}
	return BDTEntry{}, false
}

func isAllOnesMask(mask [4]byte) bool {
	return mask == [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
}

// forwardToBDT implements spec.md 4.H "BDT forwarding rule": target address
// = (~broadcast-mask) | BBMD-address, skipping the entry matching self.
func (b *BBMD) forwardToBDT(origin Addr, npduBytes []byte) {
	msg := EncodeForwardedNPDU(origin, npduBytes)
	for _, e := range b.BDT {
		if e.Peer.Equal(b.Self) {
			continue
		}
		target := broadcastTarget(e)
		_ = b.send(target, msg)
	}
}

func broadcastTarget(e BDTEntry) Addr {
	var t Addr
	for i := 0; i < 4; i++ {
		t.IP[i] = (^e.Mask[i]) | e.Peer.IP[i]
	}
	t.Port = e.Peer.Port
	return t
}

func (b *BBMD) forwardToFDT(exclude Addr, npduBytes []byte) {
	b.forwardToFDTExcept(exclude, npduBytes)
}

// forwardToFDTExcept forwards to every FDT entry except the one matching
// exclude (the forwarded-NPDU's or distribute-broadcast's original source),
// spec.md 4.H.
func (b *BBMD) forwardToFDTExcept(exclude Addr, npduBytes []byte) {
	msg := EncodeForwardedNPDU(b.Self, npduBytes)
	for _, e := range b.FDT {
		if e.Peer.Equal(exclude) {
			continue
		}
		_ = b.send(e.Peer, msg)
	}
}

func (b *BBMD) registerForeignDevice(peer Addr, ttl uint16) {
	for i := range b.FDT {
		if b.FDT[i].Peer.Equal(peer) {
			b.FDT[i].TTLSeconds = ttl
			b.FDT[i].SecondsRemaining = ttl + foreignDeviceGraceSeconds
			return
		}
	}
	b.FDT = append(b.FDT, FDTEntry{Peer: peer, TTLSeconds: ttl, SecondsRemaining: ttl + foreignDeviceGraceSeconds})
}

func (b *BBMD) deleteFDTEntry(target Addr) bool {
	for i := range b.FDT {
		if b.FDT[i].Peer.Equal(target) {
			b.FDT = append(b.FDT[:i], b.FDT[i+1:]...)
			return true
		}
	}
	return false
}

func (b *BBMD) writeBDT(body []byte) {
	const entrySize = 10 // 4 IP + 2 port + 4 mask
	n := len(body) / entrySize
	bdt := make([]BDTEntry, 0, n)
	for i := 0; i < n; i++ {
		off := i * entrySize
		var e BDTEntry
		copy(e.Peer.IP[:], body[off:off+4])
		e.Peer.Port = binary.BigEndian.Uint16(body[off+4 : off+6])
		copy(e.Mask[:], body[off+6:off+10])
		bdt = append(bdt, e)
	}
	b.BDT = bdt
}

func (b *BBMD) encodeReadBDTAck() []byte {
	const entrySize = 10
	buf := make([]byte, HeaderLen+entrySize*len(b.BDT))
	EncodeHeader(buf, FuncReadBDTAck, uint16(len(buf)))
	for i, e := range b.BDT {
		off := HeaderLen + i*entrySize
		copy(buf[off:off+4], e.Peer.IP[:])
		binary.BigEndian.PutUint16(buf[off+4:off+6], e.Peer.Port)
		copy(buf[off+6:off+10], e.Mask[:])
	}
	return buf
}

func (b *BBMD) encodeReadFDTAck() []byte {
	const entrySize = 10 // 4 IP + 2 port + 2 TTL + 2 seconds-remaining
	buf := make([]byte, HeaderLen+entrySize*len(b.FDT))
	EncodeHeader(buf, FuncReadFDTAck, uint16(len(buf)))
	for i, e := range b.FDT {
		off := HeaderLen + i*entrySize
		copy(buf[off:off+4], e.Peer.IP[:])
		binary.BigEndian.PutUint16(buf[off+4:off+6], e.Peer.Port)
		binary.BigEndian.PutUint16(buf[off+6:off+8], e.TTLSeconds)
		binary.BigEndian.PutUint16(buf[off+8:off+10], e.SecondsRemaining)
	}
	return buf
}

// TimerTick decrements every FDT entry's seconds-remaining by elapsedSeconds
// and removes entries that reach zero, spec.md 4.H "Timer tick (one second)".
func (b *BBMD) TimerTick(elapsedSeconds int) {
	kept := b.FDT[:0]
	for _, e := range b.FDT {
		if int(e.SecondsRemaining) > elapsedSeconds {
			e.SecondsRemaining -= uint16(elapsedSeconds)
			kept = append(kept, e)
		}
	}
	b.FDT = kept
}
