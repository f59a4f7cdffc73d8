// Package tsm implements the APDU Transaction State Machine: spec.md
// component E, "the heart" of the core (§4.E). It allocates invoke-ids,
// tracks confirmed request/response state per slot, and drives windowed
// segmentation with its own retry and timeout regime.
package tsm

import (
	"fmt"
	"sync"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/address"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// State is one TSM slot's lifecycle state, spec.md 4.E.
type State int

const (
	StateIdle State = iota
	StateAwaitConfirmation
	StateSegmentedRequestClient
	StateSegmentedRequestServer
	StateSegmentedResponseServer
	StateSegmentedConfirmation
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitConfirmation:
		return "await-confirmation"
	case StateSegmentedRequestClient:
		return "segmented-request-client"
	case StateSegmentedRequestServer:
		return "segmented-request-server"
	case StateSegmentedResponseServer:
		return "segmented-response-server"
	case StateSegmentedConfirmation:
		return "segmented-confirmation"
	default:
		return "unknown"
	}
}

// Config holds the per-session tunables enumerated in spec.md §6.
type Config struct {
	MaxTransactions      int
	MaxSegmentsAccepted  int
	ApduTimeoutMs        int
	ApduSegmentTimeoutMs int
	ApduRetries          int
	DefaultWindowSize    byte // proposed-window-size for outbound segmentation
}

// DefaultConfig matches the values bacnet-stack itself ships.
func DefaultConfig() Config {
	return Config{
		MaxTransactions:      255,
		MaxSegmentsAccepted:  16,
		ApduTimeoutMs:        3000,
		ApduSegmentTimeoutMs: 2000,
		ApduRetries:          3,
		DefaultWindowSize:    32,
	}
}

// Slot is one transaction-table row, spec.md 3 "Transaction slot".
type Slot struct {
	InvokeID                     byte
	Peer                         npdu.Address
	ServiceChoice                byte
	Outbound                     []byte
	Inbound                      []byte
	State                        State
	RetryCount                   int
	SegmentRetryCount            int
	RequestTimerMs               int
	SegmentTimerMs               int
	InitialSequenceNumber        byte
	LastSequenceNumber           byte
	ActualWindowSize             byte
	ProposedWindowSize           byte
	SentAllSegments              bool
	ReceivedSegmentCount         int
	DuplicateCount               int
	MaxAPDUForPeer               int
	MaxTotalTransmittableForPeer int
	SegmentedResponseAccepted    bool
	IsServer                     bool // true: slot tracks an inbound request we are answering
	PeerInvokeID                 byte // server slots: the peer's own invoke-id value
	LocalMaxSegsAccepted         int  // remembered for resend on timeout
	onAssigned                   func(invokeID byte)
}

func (s *Slot) free() { *s = Slot{} }

type peerKey struct {
	addr     string
	invokeID byte
}

// Sender places a fully built NPDU (NPCI+APDU) on the wire.
type Sender func(peer npdu.Address, npduBytes []byte) (int, error)

// TSM is one session's transaction state machine.
type TSM struct {
	mu      sync.Mutex
	cfg     Config
	slots   []Slot
	peerIdx map[peerKey]int
	lastID  byte
	cond    *sync.Cond
	blocking bool

	addrBook *address.Book
	send     Sender

	// OnClientComplexAck etc. are invoked (without the TSM lock held) to
	// deliver client-side replies to the registered invoke-id.
	OnClientComplexAck func(peer npdu.Address, invokeID byte, serviceChoice byte, body []byte)
	OnClientSimpleAck  func(peer npdu.Address, invokeID byte, serviceChoice byte)
	OnClientError      func(peer npdu.Address, invokeID byte, serviceChoice byte, body []byte)
	OnClientAbort      func(peer npdu.Address, invokeID byte, reason byte)
	OnClientReject     func(peer npdu.Address, invokeID byte, reason byte)

	// OnServerRequest delivers a fully reassembled inbound confirmed request
	// to service dispatch (spec.md component F).
	OnServerRequest func(peer npdu.Address, internalInvokeID byte, peerInvokeID byte, hdr apdu.Header, body []byte)
}

// New builds a TSM with cfg.MaxTransactions slots, using addrBook to learn
// peer max-APDU/segmentation capability and send to place outbound PDUs.
func New(cfg Config, addrBook *address.Book, send Sender) *TSM {
	t := &TSM{
		cfg:      cfg,
		slots:    make([]Slot, cfg.MaxTransactions),
		peerIdx:  make(map[peerKey]int),
		addrBook: addrBook,
		send:     send,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// SetBlocking enables the optional embedding from spec.md §5: NextFreeInvokeID
// blocks on a condition variable instead of failing when the table is full.
func (t *TSM) SetBlocking(enabled bool) { t.blocking = enabled }

// ErrTableFull is returned when no slot is available and blocking is disabled.
var ErrTableFull = fmt.Errorf("tsm: transaction table full")

// nextFreeSlotLocked implements invoke-id allocation, spec.md 4.E: "the next
// candidate is the previous candidate plus 1, modulo 256 with 0 skipped; for
// each candidate a linear scan ... finds the first free slot."
func (t *TSM) nextFreeSlotLocked() (int, byte, error) {
	for {
		for i := range t.slots {
			if t.slots[i].InvokeID == 0 {
				candidate := t.lastID
				for {
					candidate++
					if candidate == 0 {
						candidate = 1
					}
					if !t.invokeIDInUseLocked(candidate) {
						t.lastID = candidate
						return i, candidate, nil
					}
				}
			}
		}
		if !t.blocking {
			return 0, 0, ErrTableFull
		}
		t.cond.Wait()
	}
}

func (t *TSM) invokeIDInUseLocked(id byte) bool {
	for i := range t.slots {
		if t.slots[i].InvokeID == id {
			return true
		}
	}
	return false
}

// NextFreeInvokeID allocates a fresh slot without sending anything, mirroring
// tsm_next_free_invokeID. Mainly useful for tests and for callers that build
// their own PDU before calling SendRaw.
func (t *TSM) NextFreeInvokeID() (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, id, err := t.nextFreeSlotLocked()
	if err != nil {
		return 0, err
	}
	t.slots[idx] = Slot{InvokeID: id, State: StateIdle}
	return id, nil
}

// FreeInvokeID releases invokeID unconditionally, clearing any peer-invoke
// indirection pointing at it.
func (t *TSM) FreeInvokeID(invokeID byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.freeInvokeIDLocked(invokeID)
}

func (t *TSM) freeInvokeIDLocked(invokeID byte) {
	for i := range t.slots {
		if t.slots[i].InvokeID == invokeID {
			peer := t.slots[i].Peer
			peerInvoke := t.slots[i].PeerInvokeID
			isServer := t.slots[i].IsServer
			t.slots[i].free()
			if isServer {
				delete(t.peerIdx, peerKey{addr: peerStringKey(peer), invokeID: peerInvoke})
			}
			t.cond.Broadcast()
			return
		}
	}
}

// InvokeIDFree reports whether invokeID currently names no slot at all.
func (t *TSM) InvokeIDFree(invokeID byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.invokeIDInUseLocked(invokeID)
}

// InvokeIDFailed reports the spec.md 4.E "idle+non-zero-invoke-id" failure
// signal: a slot exists, holds invokeID, but has returned to StateIdle after
// exhausting its retries.
func (t *TSM) InvokeIDFailed(invokeID byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].InvokeID == invokeID {
			return t.slots[i].State == StateIdle
		}
	}
	return false
}

func peerStringKey(p npdu.Address) string {
	return fmt.Sprintf("%d:%s", p.Net, p.String())
}
