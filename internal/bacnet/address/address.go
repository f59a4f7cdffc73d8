// Package address implements the BACnet address book: spec.md component C.
// It maps a device-id to its datalink address, max-APDU size, and
// segmentation capability, and tracks bind-request reservations so a
// pending Who-Is/I-Am exchange can be completed.
package address

import (
	"sync"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// Segmentation describes a peer's segmented-transfer capability, clause 12.11.21.
type Segmentation byte

const (
	SegmentationBoth Segmentation = iota
	SegmentationTransmit
	SegmentationReceive
	SegmentationNone
)

// Flag bits for one Entry, spec.md 3 "Address-cache entry".
type Flag uint8

const (
	FlagInUse Flag = 1 << iota
	FlagBindRequestPending
	FlagStatic
	FlagShortTTLOpportunistic
)

// Entry is one address-cache row.
type Entry struct {
	DeviceID              uint32
	Address               npdu.Address
	MaxAPDU               int
	Segmentation          Segmentation
	MaxSegmentsAccepted   int
	Flags                 Flag
	TTLSeconds            int
}

func (e *Entry) has(f Flag) bool { return e.Flags&f != 0 }
func (e *Entry) set(f Flag)      { e.Flags |= f }
func (e *Entry) clear(f Flag)    { e.Flags &^= f }

// Book is the fixed-capacity address cache for one session.
type Book struct {
	mu          sync.Mutex
	entries     []Entry
	localMaxAPDU int
}

// New creates a Book with room for capacity entries. localMaxAPDU bounds
// every accepted peer max-APDU, per the invariant "max-APDU ≤ local MAX_APDU".
func New(capacity, localMaxAPDU int) *Book {
	return &Book{entries: make([]Entry, 0, capacity), localMaxAPDU: localMaxAPDU}
}

func clampMaxAPDU(v, local int) int {
	if v > local || v <= 0 {
		return local
	}
	return v
}

// Add installs (or replaces) a static binding, as used to preload a
// configuration-file address book entry.
func (b *Book) Add(deviceID uint32, maxAPDU int, addr npdu.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.findLocked(deviceID)
	if e == nil {
		e = b.reserveSlotLocked(deviceID)
	}
	e.Address = addr
	e.MaxAPDU = clampMaxAPDU(maxAPDU, b.localMaxAPDU)
	e.Segmentation = SegmentationNone
	e.MaxSegmentsAccepted = 0
	e.Flags = FlagInUse | FlagStatic
}

// AddBinding installs (or refreshes) a full binding learned from an I-Am,
// as opposed to Add's static-config variant.
func (b *Book) AddBinding(deviceID uint32, maxAPDU int, seg Segmentation, maxSegs int, addr npdu.Address, ttlSeconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.findLocked(deviceID)
	wasPending := e != nil && e.has(FlagBindRequestPending)
	if e == nil {
		e = b.reserveSlotLocked(deviceID)
	}
	e.Address = addr
	e.MaxAPDU = clampMaxAPDU(maxAPDU, b.localMaxAPDU)
	e.Segmentation = seg
	e.MaxSegmentsAccepted = maxSegs
	e.TTLSeconds = ttlSeconds
	e.clear(FlagBindRequestPending)
	e.set(FlagInUse)
	if !wasPending && !e.has(FlagStatic) {
		// Opportunistic bind (overheard I-Am, not a solicited request): short TTL.
		e.set(FlagShortTTLOpportunistic)
	}
}

// GetByDevice returns the bound entry for deviceID, if any.
func (b *Book) GetByDevice(deviceID uint32) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.findLocked(deviceID)
	if e == nil || e.has(FlagBindRequestPending) {
		return Entry{}, false
	}
	return *e, true
}

// GetDeviceIDForAddress reverse-looks-up a device-id by datalink address.
func (b *Book) GetDeviceIDForAddress(addr npdu.Address) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		e := &b.entries[i]
		if e.has(FlagInUse) && !e.has(FlagBindRequestPending) && e.Address.Equal(addr) {
			return e.DeviceID, true
		}
	}
	return 0, false
}

// Remove frees the entry for deviceID, if present.
func (b *Book) Remove(deviceID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.findLocked(deviceID); e != nil {
		*e = Entry{}
	}
}

// BindRequest is both a query and a side-effecting reservation, spec.md 4.C:
// if deviceID is already bound, returns its address/max-APDU immediately. If
// not, it ensures a bind-pending slot exists and reports needWhoIs=true so the
// caller emits a Who-Is.
func (b *Book) BindRequest(deviceID uint32) (entry Entry, bound bool, needWhoIs bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.findLocked(deviceID)
	if e != nil && e.has(FlagInUse) && !e.has(FlagBindRequestPending) {
		if e.has(FlagShortTTLOpportunistic) {
			// First explicit bind-request hit promotes an opportunistic entry.
			e.clear(FlagShortTTLOpportunistic)
		}
		return *e, true, false
	}
	if e == nil {
		e = b.reserveSlotLocked(deviceID)
		e.set(FlagInUse | FlagBindRequestPending)
	}
	return Entry{}, false, true
}

// findLocked returns the entry for deviceID or nil. Caller holds b.mu.
func (b *Book) findLocked(deviceID uint32) *Entry {
	for i := range b.entries {
		if b.entries[i].has(FlagInUse) && b.entries[i].DeviceID == deviceID {
			return &b.entries[i]
		}
	}
	return nil
}

// reserveSlotLocked returns a fresh slot for deviceID, reclaiming the oldest
// non-static bound entry, or failing that the oldest bind-pending entry, per
// spec.md 4.C. Caller holds b.mu.
func (b *Book) reserveSlotLocked(deviceID uint32) *Entry {
	if len(b.entries) < cap(b.entries) {
		b.entries = append(b.entries, Entry{DeviceID: deviceID})
		return &b.entries[len(b.entries)-1]
	}
	for i := range b.entries {
		e := &b.entries[i]
		if e.has(FlagInUse) && !e.has(FlagStatic) && !e.has(FlagBindRequestPending) {
			*e = Entry{DeviceID: deviceID}
			return e
		}
	}
	for i := range b.entries {
		e := &b.entries[i]
		if e.has(FlagBindRequestPending) {
			*e = Entry{DeviceID: deviceID}
			return e
		}
	}
	// Backing store is saturated with static/in-flight entries: overwrite slot 0.
	b.entries[0] = Entry{DeviceID: deviceID}
	return &b.entries[0]
}

// TimerTick decrements TTL on every non-static entry by elapsedSeconds and
// reclaims any entry whose TTL reaches zero, per spec.md 4.C and the Open
// Question in spec.md §9 (decrement non-static, never static).
func (b *Book) TimerTick(elapsedSeconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		e := &b.entries[i]
		if !e.has(FlagInUse) || e.has(FlagStatic) {
			continue
		}
		if e.TTLSeconds <= 0 {
			continue
		}
		e.TTLSeconds -= elapsedSeconds
		if e.TTLSeconds <= 0 {
			e.TTLSeconds = 0
			*e = Entry{}
		}
	}
}

// Snapshot returns a copy of every in-use entry, for persistence/introspection.
func (b *Book) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.has(FlagInUse) && !e.has(FlagBindRequestPending) {
			out = append(out, e)
		}
	}
	return out
}
