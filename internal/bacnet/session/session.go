// Package session implements the single owning value for one running
// BACnet node: spec.md §9 "session object". It wires the transaction
// state machine, address cache, service dispatch, BBMD, router, and
// scheduler together around one datalink driver, matching the teacher's
// single-struct-per-run ownership style (its daemon.Simulation /
// device.Simulator).
package session

import (
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/address"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/bvlc"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/datalink"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/router"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/sched"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/service"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/services/whois"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/tsm"

	"golang.org/x/time/rate"
)

// Config holds the enumerated session tunables, spec.md §6.
type Config struct {
	TSM                  tsm.Config
	AddressCacheCapacity int
	LocalMaxAPDU         int
	ThisNetwork          uint16
	IsRouter             bool
	BBMDEnabled          bool

	// Locking makes NextFreeInvokeID block for a free transaction slot
	// instead of failing immediately when the table is full, spec.md §5.
	Locking bool

	// DeviceInstance, VendorID, and SegmentationSupported populate the I-Am
	// this node broadcasts in reply to a matching Who-Is.
	DeviceInstance        uint32
	VendorID              uint32
	SegmentationSupported uint32

	// WhoIsReplyRate and WhoIsReplyBurst bound how often this node answers
	// Who-Is with I-Am, so a flood of Who-Is requests (malicious or from a
	// misbehaving discovery tool) cannot be turned into a broadcast-storm
	// amplifier. A zero rate disables the limit.
	WhoIsReplyRate  rate.Limit
	WhoIsReplyBurst int
}

// DefaultConfig mirrors tsm.DefaultConfig with a 128-entry address cache.
func DefaultConfig() Config {
	return Config{
		TSM:                  tsm.DefaultConfig(),
		AddressCacheCapacity: 128,
		LocalMaxAPDU:         1476,
		VendorID:             0,
		WhoIsReplyRate:       10,
		WhoIsReplyBurst:      5,
	}
}

// Session owns every per-run subsystem and is the sole entry point a
// transport adapter or CLI command drives: HandleInbound on receipt,
// Tick on the clock, and the TSM/Service/Addr fields for everything else.
type Session struct {
	cfg Config

	driver datalink.Driver

	Addr    *address.Book
	TSM     *tsm.TSM
	Service *service.Dispatcher
	Router  *router.Handler
	BBMD    *bvlc.BBMD
	Sched   *sched.Scheduler

	whoIsLimiter *rate.Limiter
}

// New builds a Session bound to driver. BBMD is constructed only when
// cfg.BBMDEnabled (it only makes sense atop a BACnet/IP driver); callers
// running over MS/TP leave it nil and drive TSM/Router directly from
// their own mstp.Port instead of through Session's datalink path.
func New(cfg Config, driver datalink.Driver) *Session {
	s := &Session{cfg: cfg, driver: driver}
	s.Addr = address.New(cfg.AddressCacheCapacity, cfg.LocalMaxAPDU)
	s.TSM = tsm.New(cfg.TSM, s.Addr, s.sendToPeer)
	s.TSM.SetBlocking(cfg.Locking)
	s.Service = service.New(s.TSM)
	s.Router = router.New(cfg.ThisNetwork, cfg.IsRouter, s.sendNetworkMessage)
	s.Router.OnAPDU = s.handleAPDU

	s.Sched = sched.New()
	s.Sched.AddMillisecondTicker(s.TSM)
	s.Sched.AddSecondTicker(s.Addr)

	if cfg.WhoIsReplyRate > 0 {
		s.whoIsLimiter = rate.NewLimiter(cfg.WhoIsReplyRate, cfg.WhoIsReplyBurst)
	}
	s.Service.RegisterUnconfirmed(service.UnconfirmedWhoIs, s.handleWhoIs)

	if cfg.BBMDEnabled {
		self := bvlcAddrFromNPDU(driver.MyAddress())
		localBroadcast := bvlcAddrFromNPDU(driver.BroadcastAddress())
		s.BBMD = bvlc.New(self, localBroadcast, s.sendBVLC, s.deliverLocalNPDU)
		s.Sched.AddSecondTicker(s.BBMD)
	}
	return s
}

// Tick advances every owned subsystem by elapsedMs, spec.md 4.J.
func (s *Session) Tick(elapsedMs int) { s.Sched.Tick(elapsedMs) }

// SendUnconfirmed places one unconfirmed-request APDU on the wire toward
// dest (which may be a broadcast address), the client-side counterpart of
// Service.RegisterUnconfirmed.
func (s *Session) SendUnconfirmed(dest npdu.Address, serviceChoice byte, body []byte) error {
	hdr := apdu.Header{Type: apdu.TypeUnconfirmedRequest, ServiceChoice: serviceChoice}
	n := apdu.HeaderLen(hdr)
	apduBytes := make([]byte, n+len(body))
	apdu.Encode(apduBytes, hdr)
	copy(apduBytes[n:], body)

	nHdr := npdu.Header{}
	nLen := npdu.EncodeLen(nHdr)
	pdu := make([]byte, nLen+len(apduBytes))
	npdu.Encode(pdu, nHdr)
	copy(pdu[nLen:], apduBytes)

	_, err := s.driver.Send(dest, pdu)
	return err
}

// sendToPeer is the tsm.Sender: it already carries a fully built NPDU, so
// it goes straight to the driver.
func (s *Session) sendToPeer(peer npdu.Address, npduBytes []byte) (int, error) {
	return s.driver.Send(peer, npduBytes)
}

// sendNetworkMessage is the router.NetworkSender used for outbound
// network-layer control messages (Who-Is-Router-To-Network and friends).
func (s *Session) sendNetworkMessage(peer npdu.Address, npduBytes []byte) error {
	_, err := s.driver.Send(peer, npduBytes)
	return err
}

// sendBVLC places a raw BVLC message on the wire via the driver, addressed
// by its BACnet/IP address rather than an NPDU address.
func (s *Session) sendBVLC(dest bvlc.Addr, msg []byte) error {
	_, err := s.driver.Send(npdu.Address{Mac: []byte{dest.IP[0], dest.IP[1], dest.IP[2], dest.IP[3], byte(dest.Port >> 8), byte(dest.Port)}}, msg)
	return err
}

// deliverLocalNPDU is the bvlc.BBMD's decapsulation callback: a BVLC
// message addressed to this node carries a bare NPDU, which re-enters the
// same inbound path as a directly-received one.
func (s *Session) deliverLocalNPDU(src bvlc.Addr, npduBytes []byte) {
	s.HandleInbound(addrFromBVLC(src), npduBytes)
}

func addrFromBVLC(a bvlc.Addr) npdu.Address {
	return npdu.Address{Mac: []byte{a.IP[0], a.IP[1], a.IP[2], a.IP[3], byte(a.Port >> 8), byte(a.Port)}}
}

// bvlcAddrFromNPDU converts a 6-byte BACnet/IP MAC (4-byte IP + 2-byte port)
// as handed out by datalink.Driver into the bvlc.Addr form the BBMD speaks.
func bvlcAddrFromNPDU(a npdu.Address) bvlc.Addr {
	if len(a.Mac) != 6 {
		return bvlc.Addr{}
	}
	var out bvlc.Addr
	copy(out.IP[:], a.Mac[0:4])
	out.Port = uint16(a.Mac[4])<<8 | uint16(a.Mac[5])
	return out
}

// HandleInbound processes one received NPDU (already decapsulated from
// whatever framing the datalink uses). It classifies network-layer control
// traffic versus an APDU via Router, which in turn calls handleAPDU for
// anything addressed to this node.
func (s *Session) HandleInbound(src npdu.Address, pdu []byte) {
	_ = s.Router.HandleInbound(src, pdu)
}

// handleWhoIs answers a Who-Is addressed to (or covering) this node's
// instance with a broadcast I-Am, clause 16.10. Replies are rate-limited so
// a flood of Who-Is requests cannot be amplified into a broadcast storm.
func (s *Session) handleWhoIs(_ npdu.Address, body []byte) {
	req, err := whois.DecodeWhoIs(body)
	if err != nil {
		return
	}
	if req.HasRange && (s.cfg.DeviceInstance < req.Low || s.cfg.DeviceInstance > req.High) {
		return
	}
	if s.whoIsLimiter != nil && !s.whoIsLimiter.Allow() {
		return
	}

	iAm := whois.IAm{
		DeviceID:              encoding.ObjectID{Type: 8, Instance: s.cfg.DeviceInstance},
		MaxAPDULength:         uint32(s.cfg.LocalMaxAPDU),
		SegmentationSupported: s.cfg.SegmentationSupported,
		VendorID:              s.cfg.VendorID,
	}
	n := whois.EncodeIAm(nil, iAm)
	body2 := make([]byte, n)
	whois.EncodeIAm(body2, iAm)

	_ = s.SendUnconfirmed(s.driver.BroadcastAddress(), service.UnconfirmedIAm, body2)
}

// handleAPDU decodes the APDU fixed header and routes it to the TSM method
// matching its PDU type, spec.md 4.D/4.E. It is wired as router.Handler's
// OnAPDU callback, which has already stripped and decoded the NPDU header.
func (s *Session) handleAPDU(peer npdu.Address, _ npdu.Header, apduBytes []byte) {
	hdr, n, err := apdu.Decode(apduBytes)
	if err != nil {
		return
	}
	payload := apduBytes[n:]
	switch hdr.Type {
	case apdu.TypeConfirmedRequest:
		s.TSM.HandleConfirmedRequest(peer, hdr, payload)
	case apdu.TypeUnconfirmedRequest:
		s.Service.HandleUnconfirmedRequest(peer, hdr.ServiceChoice, payload)
	case apdu.TypeSimpleAck:
		s.TSM.HandleSimpleAck(peer, hdr)
	case apdu.TypeComplexAck:
		s.TSM.HandleComplexAck(peer, hdr, payload)
	case apdu.TypeSegmentAck:
		s.TSM.HandleSegmentAck(peer, hdr)
	case apdu.TypeError:
		s.TSM.HandleError(peer, hdr, payload)
	case apdu.TypeReject:
		s.TSM.HandleReject(peer, hdr)
	case apdu.TypeAbort:
		s.TSM.HandleAbort(peer, hdr)
	}
}
