package bip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	a, err := New(0, [4]byte{127, 0, 0, 1})
	if err != nil {
		t.Fatalf("New(a): %v", err)
	}
	defer a.Cleanup()
	b, err := New(0, [4]byte{127, 0, 0, 1})
	if err != nil {
		t.Fatalf("New(b): %v", err)
	}
	defer b.Cleanup()

	bAddr := npdu.Address{Mac: localMAC(t, b)}
	payload := []byte{0x01, 0x02, 0x03}

	if _, err := a.Send(bAddr, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	src, got, err := b.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(got) != len(payload) || string(got) != string(payload) {
		t.Fatalf("unexpected payload: %x", got)
	}
	if len(src.Mac) != 6 {
		t.Fatalf("expected a 6-byte source MAC, got %x", src.Mac)
	}
}

func TestReceiveTimesOutWithNoTraffic(t *testing.T) {
	d, err := New(0, [4]byte{127, 0, 0, 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Cleanup()

	ctx := context.Background()
	src, pdu, err := d.Receive(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if pdu != nil || len(src.Mac) != 0 {
		t.Fatalf("expected an empty result on timeout, got src=%v pdu=%x", src, pdu)
	}
}

func localMAC(t *testing.T, d *Driver) []byte {
	t.Helper()
	addr, ok := d.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("unexpected local addr type %T", d.conn.LocalAddr())
	}
	return udpMAC(net.IPv4(127, 0, 0, 1), uint16(addr.Port))
}
