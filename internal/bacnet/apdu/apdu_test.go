package apdu

import "testing"

func TestConfirmedRequestUnsegmentedRoundTrip(t *testing.T) {
	hdr := Header{
		Type:                      TypeConfirmedRequest,
		SegmentedResponseAccepted: true,
		MaxSegsAccepted:           EncodeMaxSegmentsAccepted(0),
		MaxApduAccepted:           EncodeMaxAPDULengthAccepted(1476),
		InvokeID:                  7,
		ServiceChoice:             0x0C, // ReadProperty
	}
	n := HeaderLen(hdr)
	buf := make([]byte, n)
	if got := Encode(buf, hdr); got != n {
		t.Fatalf("length mismatch: %d vs %d", got, n)
	}
	got, consumed, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != n || got.InvokeID != 7 || got.ServiceChoice != 0x0C || !got.SegmentedResponseAccepted {
		t.Fatalf("got %+v", got)
	}
}

func TestConfirmedRequestSegmentedRoundTrip(t *testing.T) {
	hdr := Header{
		Type:               TypeConfirmedRequest,
		Segmented:          true,
		MoreFollows:        true,
		InvokeID:           3,
		SequenceNumber:     5,
		ProposedWindowSize: 16,
		ServiceChoice:      0x10,
	}
	buf := make([]byte, HeaderLen(hdr))
	Encode(buf, hdr)
	got, _, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Segmented || !got.MoreFollows || got.SequenceNumber != 5 || got.ProposedWindowSize != 16 {
		t.Fatalf("got %+v", got)
	}
}

func TestSegmentAckRoundTrip(t *testing.T) {
	buf := make([]byte, EncodeSegmentAck(nil, true, false, 9, 2, 1))
	EncodeSegmentAck(buf, true, false, 9, 2, 1)
	got, _, err := DecodeSegmentAck(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Negative || got.InvokeID != 9 || got.SequenceNumber != 2 || got.ProposedWindowSize != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestAbortRoundTrip(t *testing.T) {
	hdr := Header{Type: TypeAbort, Server: true, InvokeID: 4, Reason: AbortBufferOverflow}
	buf := make([]byte, HeaderLen(hdr))
	Encode(buf, hdr)
	got, _, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Server || got.Reason != AbortBufferOverflow {
		t.Fatalf("got %+v", got)
	}
}

func TestMaxAPDULengthTable(t *testing.T) {
	cases := []struct {
		size int
		code byte
	}{{50, 0}, {480, 3}, {1476, 5}, {2000, 5}}
	for _, c := range cases {
		if got := EncodeMaxAPDULengthAccepted(c.size); got != c.code {
			t.Fatalf("EncodeMaxAPDULengthAccepted(%d) = %d want %d", c.size, got, c.code)
		}
	}
}
