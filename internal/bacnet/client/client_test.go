package client

import (
	"context"
	"testing"
	"time"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/service"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/services/readproperty"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/session"
)

// loopbackDriver hands every Send straight to a peer Session's
// HandleInbound, standing in for two nodes talking over a real datalink.
// peer is set after both sessions exist (New needs a driver up front).
type loopbackDriver struct {
	self npdu.Address
	peer *session.Session
}

// Send hands off to the peer on a separate goroutine, matching a real
// datalink: the transmitting side's call returns as soon as the frame is
// on the wire, well before any reply could come back, so a caller's
// onAssigned callback always runs before a reply can possibly arrive.
func (d *loopbackDriver) Send(dest npdu.Address, pdu []byte) (int, error) {
	frame := append([]byte(nil), pdu...)
	go d.peer.HandleInbound(d.self, frame)
	return len(pdu), nil
}
func (d *loopbackDriver) Receive(ctx context.Context, timeout time.Duration) (npdu.Address, []byte, error) {
	<-ctx.Done()
	return npdu.Address{}, nil, ctx.Err()
}
func (d *loopbackDriver) BroadcastAddress() npdu.Address { return npdu.Address{Net: npdu.NetGlobalBroadcast} }
func (d *loopbackDriver) MyAddress() npdu.Address         { return d.self }
func (d *loopbackDriver) Cleanup() error                  { return nil }

func newLoopbackPair() (clientSess, serverSess *session.Session) {
	clientAddr := npdu.Address{Mac: []byte{1}}
	serverAddr := npdu.Address{Mac: []byte{2}}

	clientDrv := &loopbackDriver{self: clientAddr}
	serverDrv := &loopbackDriver{self: serverAddr}

	clientSess = session.New(session.DefaultConfig(), clientDrv)
	serverSess = session.New(session.DefaultConfig(), serverDrv)

	clientDrv.peer = serverSess
	serverDrv.peer = clientSess
	return clientSess, serverSess
}

func TestClientReadPropertyRoundTrip(t *testing.T) {
	clientSess, serverSess := newLoopbackPair()

	serverSess.Service.RegisterConfirmed(service.ConfirmedReadProperty, func(peer npdu.Address, invokeID byte, body []byte, r service.Responder) {
		req, err := readproperty.DecodeRequest(body)
		if err != nil {
			t.Fatalf("server DecodeRequest: %v", err)
		}
		ack := readproperty.Ack{
			Object:     req.Object,
			Property:   req.Property,
			ArrayIndex: readproperty.NoArrayIndex,
			Value:      encoding.Value{Tag: encoding.TagUnsignedInt, Uint: 99},
		}
		ackBody := make([]byte, readproperty.EncodeAck(nil, ack))
		readproperty.EncodeAck(ackBody, ack)
		r.Ack(ackBody)
	})

	c := New(clientSess)
	req := readproperty.Request{
		Object:     encoding.ObjectID{Type: 0, Instance: 1},
		Property:   85,
		ArrayIndex: readproperty.NoArrayIndex,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ack, err := c.ReadProperty(ctx, npdu.Address{Mac: []byte{2}}, req)
	if err != nil {
		t.Fatalf("ReadProperty: %v", err)
	}
	if ack.Value.Tag != encoding.TagUnsignedInt || ack.Value.Uint != 99 {
		t.Fatalf("unexpected ack value: %+v", ack.Value)
	}
}

func TestClientCallReturnsErrorForUnregisteredService(t *testing.T) {
	clientSess, _ := newLoopbackPair()
	c := New(clientSess)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The peer has no ConfirmedReadProperty handler registered, so its
	// dispatcher answers with Reject(unrecognized-service); that arrives
	// back as an error through the same OnReply path a genuine ack would.
	_, err := c.Call(ctx, npdu.Address{Mac: []byte{2}}, service.ConfirmedReadProperty, []byte{0x09, 0x00}, 16, true)
	if err == nil {
		t.Fatalf("expected an error for a request the peer cannot service")
	}
}
