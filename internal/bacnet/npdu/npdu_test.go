package npdu

import "testing"

func TestRoundTripNoAddressing(t *testing.T) {
	hdr := Header{ExpectingReply: true, Priority: PriorityUrgent}
	n := EncodeLen(hdr)
	buf := make([]byte, n)
	if got := Encode(buf, hdr); got != n {
		t.Fatalf("length mismatch: measured %d wrote %d", n, got)
	}
	got, consumed, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != n || got.ExpectingReply != true || got.Priority != PriorityUrgent {
		t.Fatalf("got %+v consumed %d", got, consumed)
	}
}

func TestRoundTripWithAddressing(t *testing.T) {
	hdr := Header{
		HasDestination: true,
		Destination:    Address{Net: 2001, Mac: []byte{10, 0, 0, 5}},
		HasSource:      true,
		Source:         Address{Net: 1001, Mac: []byte{192, 168, 1, 1}},
		HopCount:       255,
	}
	n := EncodeLen(hdr)
	buf := make([]byte, n)
	Encode(buf, hdr)
	got, consumed, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != n {
		t.Fatalf("consumed %d want %d", consumed, n)
	}
	if !got.Destination.Equal(hdr.Destination) || !got.Source.Equal(hdr.Source) || got.HopCount != 255 {
		t.Fatalf("got %+v", got)
	}
}

func TestNetworkLayerMessage(t *testing.T) {
	hdr := Header{NetworkMessage: true, MessageType: MsgWhoIsRouterToNetwork}
	buf := make([]byte, EncodeLen(hdr))
	Encode(buf, hdr)
	got, _, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NetworkMessage || got.MessageType != MsgWhoIsRouterToNetwork {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	if _, _, err := Decode([]byte{2, 0}); err == nil {
		t.Fatal("expected unsupported-version error")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, _, err := Decode([]byte{1}); err == nil {
		t.Fatal("expected malformed error")
	}
}
