package session

import (
	"context"
	"testing"
	"time"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/service"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/services/readproperty"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/services/whois"
)

// fakeDriver records every frame Session hands it, standing in for a
// concrete BACnet/IP or MS/TP driver in these unit tests.
type fakeDriver struct {
	sent []sentFrame
}

type sentFrame struct {
	dest npdu.Address
	pdu  []byte
}

func (f *fakeDriver) Send(dest npdu.Address, pdu []byte) (int, error) {
	f.sent = append(f.sent, sentFrame{dest: dest, pdu: append([]byte(nil), pdu...)})
	return len(pdu), nil
}
func (f *fakeDriver) Receive(ctx context.Context, timeout time.Duration) (npdu.Address, []byte, error) {
	<-ctx.Done()
	return npdu.Address{}, nil, ctx.Err()
}
func (f *fakeDriver) BroadcastAddress() npdu.Address { return npdu.Address{Net: npdu.NetGlobalBroadcast} }
func (f *fakeDriver) MyAddress() npdu.Address         { return npdu.Address{Mac: []byte{10, 0, 0, 1}} }
func (f *fakeDriver) Cleanup() error                  { return nil }

func wrapUnconfirmed(serviceChoice byte, body []byte) []byte {
	hdr := apdu.Header{Type: apdu.TypeUnconfirmedRequest, ServiceChoice: serviceChoice}
	n := apdu.HeaderLen(hdr)
	buf := make([]byte, n+len(body))
	apdu.Encode(buf, hdr)
	copy(buf[n:], body)
	return buf
}

func wrapInNPDU(apduBytes []byte) []byte {
	hdr := npdu.Header{}
	n := npdu.EncodeLen(hdr)
	buf := make([]byte, n+len(apduBytes))
	npdu.Encode(buf, hdr)
	copy(buf[n:], apduBytes)
	return buf
}

func newTestSession(drv *fakeDriver) *Session {
	return New(DefaultConfig(), drv)
}

func TestSessionDispatchesWhoIsToRegisteredHandler(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv)

	var gotLow, gotHigh uint32
	var called bool
	s.Service.RegisterUnconfirmed(service.UnconfirmedWhoIs, func(peer npdu.Address, body []byte) {
		w, err := whois.DecodeWhoIs(body)
		if err != nil {
			t.Fatalf("DecodeWhoIs: %v", err)
		}
		called = true
		gotLow, gotHigh = w.Low, w.High
	})

	w := whois.WhoIs{HasRange: true, Low: 100, High: 200}
	body := make([]byte, whois.EncodeWhoIs(nil, w))
	whois.EncodeWhoIs(body, w)

	pdu := wrapInNPDU(wrapUnconfirmed(service.UnconfirmedWhoIs, body))
	s.HandleInbound(npdu.Address{Mac: []byte{192, 168, 1, 50}}, pdu)

	if !called {
		t.Fatalf("expected the registered Who-Is handler to run")
	}
	if gotLow != 100 || gotHigh != 200 {
		t.Fatalf("unexpected range: low=%d high=%d", gotLow, gotHigh)
	}
}

func TestSessionConfirmedRequestProducesComplexAck(t *testing.T) {
	drv := &fakeDriver{}
	s := newTestSession(drv)

	s.Service.RegisterConfirmed(service.ConfirmedReadProperty, func(peer npdu.Address, invokeID byte, body []byte, r service.Responder) {
		req, err := readproperty.DecodeRequest(body)
		if err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}
		ack := readproperty.Ack{
			Object:     req.Object,
			Property:   req.Property,
			ArrayIndex: readproperty.NoArrayIndex,
			Value:      encoding.Value{Tag: encoding.TagUnsignedInt, Uint: 7},
		}
		ackBody := make([]byte, readproperty.EncodeAck(nil, ack))
		readproperty.EncodeAck(ackBody, ack)
		r.Ack(ackBody)
	})

	req := readproperty.Request{
		Object:     encoding.ObjectID{Type: 0, Instance: 1},
		Property:   85,
		ArrayIndex: readproperty.NoArrayIndex,
	}
	body := make([]byte, readproperty.EncodeRequest(nil, req))
	readproperty.EncodeRequest(body, req)

	hdr := apdu.Header{Type: apdu.TypeConfirmedRequest, InvokeID: 1, ServiceChoice: service.ConfirmedReadProperty, MaxApduAccepted: 5}
	n := apdu.HeaderLen(hdr)
	apduBytes := make([]byte, n+len(body))
	apdu.Encode(apduBytes, hdr)
	copy(apduBytes[n:], body)

	peer := npdu.Address{Mac: []byte{192, 168, 1, 51}}
	s.HandleInbound(peer, wrapInNPDU(apduBytes))

	if len(drv.sent) != 1 {
		t.Fatalf("expected exactly one frame sent back, got %d", len(drv.sent))
	}
	if drv.sent[0].dest.String() != peer.String() {
		t.Fatalf("reply sent to wrong peer: %v", drv.sent[0].dest)
	}
}

func TestSessionTickDoesNotPanicWithNoPendingWork(t *testing.T) {
	s := newTestSession(&fakeDriver{})
	s.Tick(1000)
	s.Tick(5000)
}

func sendWhoIs(s *Session, peer npdu.Address, w whois.WhoIs) {
	body := make([]byte, whois.EncodeWhoIs(nil, w))
	whois.EncodeWhoIs(body, w)
	s.HandleInbound(peer, wrapInNPDU(wrapUnconfirmed(service.UnconfirmedWhoIs, body)))
}

func TestSessionAnswersMatchingWhoIsWithIAm(t *testing.T) {
	drv := &fakeDriver{}
	cfg := DefaultConfig()
	cfg.DeviceInstance = 150
	cfg.VendorID = 42
	s := New(cfg, drv)

	sendWhoIs(s, npdu.Address{Mac: []byte{192, 168, 1, 60}}, whois.WhoIs{HasRange: true, Low: 100, High: 200})

	if len(drv.sent) != 1 {
		t.Fatalf("expected one I-Am broadcast, got %d", len(drv.sent))
	}
	if drv.sent[0].dest.Net != npdu.NetGlobalBroadcast {
		t.Fatalf("expected I-Am to be broadcast, got dest %v", drv.sent[0].dest)
	}

	_, nOff, err := npdu.Decode(drv.sent[0].pdu)
	if err != nil {
		t.Fatalf("npdu.Decode: %v", err)
	}
	hdr, n, err := apdu.Decode(drv.sent[0].pdu[nOff:])
	if err != nil {
		t.Fatalf("apdu.Decode: %v", err)
	}
	if hdr.ServiceChoice != service.UnconfirmedIAm {
		t.Fatalf("expected an I-Am, got service choice %d", hdr.ServiceChoice)
	}
	iAm, err := whois.DecodeIAm(drv.sent[0].pdu[nOff+n:])
	if err != nil {
		t.Fatalf("DecodeIAm: %v", err)
	}
	if iAm.DeviceID.Instance != cfg.DeviceInstance {
		t.Fatalf("I-Am announced instance %d, want %d", iAm.DeviceID.Instance, cfg.DeviceInstance)
	}
	if iAm.VendorID != cfg.VendorID {
		t.Fatalf("I-Am announced vendor %d, want %d", iAm.VendorID, cfg.VendorID)
	}
}

func TestSessionIgnoresWhoIsOutsideItsRange(t *testing.T) {
	drv := &fakeDriver{}
	cfg := DefaultConfig()
	cfg.DeviceInstance = 300
	s := New(cfg, drv)

	sendWhoIs(s, npdu.Address{Mac: []byte{192, 168, 1, 61}}, whois.WhoIs{HasRange: true, Low: 100, High: 200})

	if len(drv.sent) != 0 {
		t.Fatalf("expected no reply to a Who-Is range that excludes this device, got %d frames", len(drv.sent))
	}
}

func TestSessionRateLimitsWhoIsReplies(t *testing.T) {
	drv := &fakeDriver{}
	cfg := DefaultConfig()
	cfg.DeviceInstance = 150
	cfg.WhoIsReplyRate = 1
	cfg.WhoIsReplyBurst = 1
	s := New(cfg, drv)

	peer := npdu.Address{Mac: []byte{192, 168, 1, 62}}
	sendWhoIs(s, peer, whois.WhoIs{})
	sendWhoIs(s, peer, whois.WhoIs{})

	if len(drv.sent) != 1 {
		t.Fatalf("expected the burst-exceeding second Who-Is to be dropped, got %d replies", len(drv.sent))
	}
}
