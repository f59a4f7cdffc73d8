package address

import (
	"testing"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

func TestBindRequestThenBind(t *testing.T) {
	b := New(8, 1476)
	_, bound, needWhoIs := b.BindRequest(123)
	if bound || !needWhoIs {
		t.Fatalf("expected unbound + needWhoIs on first request")
	}

	b.AddBinding(123, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{10, 0, 0, 1}}, 60)

	entry, bound, needWhoIs := b.BindRequest(123)
	if !bound || needWhoIs {
		t.Fatalf("expected bound after AddBinding, got bound=%v needWhoIs=%v", bound, needWhoIs)
	}
	if entry.MaxAPDU != 480 {
		t.Fatalf("got max-apdu %d", entry.MaxAPDU)
	}
}

func TestOpportunisticEntryPromotedOnBindRequestHit(t *testing.T) {
	b := New(8, 1476)
	// Opportunistic bind: no prior bind-request, so AddBinding marks it short-TTL.
	b.AddBinding(7, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{1}}, 30)
	entry, _ := b.GetByDevice(7)
	if !entry.has(FlagShortTTLOpportunistic) {
		t.Fatal("expected opportunistic entry to be short-TTL")
	}
	entry2, bound, _ := b.BindRequest(7)
	if !bound {
		t.Fatal("expected bound")
	}
	if entry2.has(FlagShortTTLOpportunistic) {
		t.Fatal("expected promotion to long-TTL on explicit bind-request hit")
	}
}

func TestTTLExpiryOnlyNonStatic(t *testing.T) {
	b := New(8, 1476)
	b.Add(1, 480, npdu.Address{Mac: []byte{1}}) // static, no TTL
	b.AddBinding(2, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{2}}, 10)

	b.TimerTick(100)

	if _, ok := b.GetByDevice(1); !ok {
		t.Fatal("static entry must never expire")
	}
	if _, ok := b.GetByDevice(2); ok {
		t.Fatal("non-static entry must expire once TTL reaches zero")
	}
}

func TestMaxAPDUClampedToLocal(t *testing.T) {
	b := New(8, 480)
	b.Add(1, 1476, npdu.Address{Mac: []byte{1}})
	entry, _ := b.GetByDevice(1)
	if entry.MaxAPDU > 480 {
		t.Fatalf("expected clamp to local max-APDU, got %d", entry.MaxAPDU)
	}
}

func TestReclaimWhenFull(t *testing.T) {
	b := New(2, 1476)
	b.AddBinding(1, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{1}}, 10)
	b.AddBinding(2, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{2}}, 10)
	// Table full of non-static bound entries: the oldest is reclaimed for device 3.
	b.AddBinding(3, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{3}}, 10)
	if _, ok := b.GetByDevice(3); !ok {
		t.Fatal("expected device 3 to obtain a reclaimed slot")
	}
}

func TestEncodeRangeByPosition(t *testing.T) {
	b := New(8, 1476)
	for i := uint32(1); i <= 5; i++ {
		b.AddBinding(i, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{byte(i)}}, 100)
	}
	flags, items := b.EncodeRange(RangeRequest{ByPosition: true, Position: 1, Count: 2})
	if !flags.FirstItem || flags.LastItem != false || !flags.MoreItems {
		t.Fatalf("got flags %+v", flags)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items got %d", len(items))
	}
}

func TestEncodeRangeSkipsPendingEntries(t *testing.T) {
	b := New(8, 1476)
	b.BindRequest(99) // leaves a bind-pending slot
	b.AddBinding(1, 480, SegmentationNone, 0, npdu.Address{Mac: []byte{1}}, 100)
	_, items := b.EncodeRange(RangeRequest{})
	if len(items) != 1 {
		t.Fatalf("expected bind-pending entry to be skipped, got %d items", len(items))
	}
}
