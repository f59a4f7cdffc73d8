// Package service implements the service dispatch table: spec.md component
// F. It sits between the TSM (component E) and the handlers that actually
// interpret a service's payload, routing incoming confirmed/unconfirmed
// requests to a registered handler and incoming replies back to the
// transaction that is waiting on them.
package service

import (
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/apdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/tsm"
)

// Confirmed service choice codes actually dispatched by this module, clause 20.1.
const (
	ConfirmedReadProperty          byte = 12
	ConfirmedWriteProperty         byte = 15
	ConfirmedReadPropertyMultiple  byte = 14
	ConfirmedWritePropertyMultiple byte = 16
	ConfirmedSubscribeCOV          byte = 5
	ConfirmedReinitializeDevice    byte = 20
	ConfirmedTimeSynchronization   byte = 0
)

// Unconfirmed service choice codes, clause 20.1.
const (
	UnconfirmedWhoIs              byte = 8
	UnconfirmedIAm                byte = 0
	UnconfirmedWhoHas             byte = 7
	UnconfirmedIHave              byte = 1
	UnconfirmedUnconfirmedCOVNotify byte = 2
	UnconfirmedTimeSynchronization byte = 6
	UnconfirmedUTCTimeSynchronization byte = 9
)

// ConfirmedHandler processes an inbound confirmed request body and answers
// it by calling exactly one of Ack/Error/Reject/Abort on responder.
type ConfirmedHandler func(peer npdu.Address, invokeID byte, body []byte, responder Responder)

// UnconfirmedHandler processes an inbound unconfirmed request body.
type UnconfirmedHandler func(peer npdu.Address, body []byte)

// Responder lets a confirmed handler answer the request it was given
// without knowing about TSM internals.
type Responder interface {
	Ack(body []byte)
	SimpleAck()
	Error(errorClass, errorCode byte)
	Reject(reason byte)
	Abort(reason byte)
}

// ClientReplyHandler receives a reply to a request this process originated.
type ClientReplyHandler func(peer npdu.Address, invokeID byte, serviceChoice byte, body []byte, err error)

// Dispatcher is the per-session service dispatch table, spec.md 4.F.
type Dispatcher struct {
	t *tsm.TSM

	confirmed   map[byte]ConfirmedHandler
	unconfirmed map[byte]UnconfirmedHandler

	// OnReply fires for every client-originated ack/error/abort/reject once
	// the TSM resolves it to the request that triggered it.
	OnReply ClientReplyHandler
}

// New wires a Dispatcher on top of t, registering the TSM-level callbacks
// needed to route replies back out through OnReply and inbound requests
// into the confirmed/unconfirmed tables.
func New(t *tsm.TSM) *Dispatcher {
	d := &Dispatcher{
		t:           t,
		confirmed:   make(map[byte]ConfirmedHandler),
		unconfirmed: make(map[byte]UnconfirmedHandler),
	}
	t.OnServerRequest = d.handleServerRequest
	t.OnClientComplexAck = func(peer npdu.Address, invokeID, serviceChoice byte, body []byte) {
		d.deliverReply(peer, invokeID, serviceChoice, body, nil)
	}
	t.OnClientSimpleAck = func(peer npdu.Address, invokeID, serviceChoice byte) {
		d.deliverReply(peer, invokeID, serviceChoice, nil, nil)
	}
	t.OnClientError = func(peer npdu.Address, invokeID, serviceChoice byte, body []byte) {
		d.deliverReply(peer, invokeID, serviceChoice, body, &ServiceError{Body: body})
	}
	t.OnClientAbort = func(peer npdu.Address, invokeID, reason byte) {
		d.deliverReply(peer, invokeID, 0, nil, &AbortedError{Reason: reason})
	}
	t.OnClientReject = func(peer npdu.Address, invokeID, reason byte) {
		d.deliverReply(peer, invokeID, 0, nil, &RejectedError{Reason: reason})
	}
	return d
}

// ServiceError wraps an inbound Error PDU's raw body.
type ServiceError struct{ Body []byte }

func (e *ServiceError) Error() string { return "service: error response" }

// AbortedError wraps an inbound Abort PDU's reason.
type AbortedError struct{ Reason byte }

func (e *AbortedError) Error() string { return "service: aborted" }

// RejectedError wraps an inbound Reject PDU's reason.
type RejectedError struct{ Reason byte }

func (e *RejectedError) Error() string { return "service: rejected" }

func (d *Dispatcher) deliverReply(peer npdu.Address, invokeID, serviceChoice byte, body []byte, err error) {
	if d.OnReply != nil {
		d.OnReply(peer, invokeID, serviceChoice, body, err)
	}
}

// RegisterConfirmed installs the handler for a confirmed service choice.
func (d *Dispatcher) RegisterConfirmed(serviceChoice byte, h ConfirmedHandler) {
	d.confirmed[serviceChoice] = h
}

// RegisterUnconfirmed installs the handler for an unconfirmed service choice.
func (d *Dispatcher) RegisterUnconfirmed(serviceChoice byte, h UnconfirmedHandler) {
	d.unconfirmed[serviceChoice] = h
}

// HandleUnconfirmedRequest routes an already-decoded unconfirmed APDU.
func (d *Dispatcher) HandleUnconfirmedRequest(peer npdu.Address, serviceChoice byte, body []byte) {
	if h, ok := d.unconfirmed[serviceChoice]; ok {
		h(peer, body)
	}
	// No response to an unrecognized unconfirmed service, clause 20.1: silently dropped.
}

// handleServerRequest is the TSM.OnServerRequest callback: it dispatches a
// fully reassembled confirmed request, emitting Reject(unrecognized-service)
// when no handler is registered, spec.md 4.F "Dispatch rule".
func (d *Dispatcher) handleServerRequest(peer npdu.Address, internalInvokeID, peerInvokeID byte, hdr apdu.Header, body []byte) {
	h, ok := d.confirmed[hdr.ServiceChoice]
	if !ok {
		d.t.SendReject(internalInvokeID, apdu.RejectUnrecognizedService)
		return
	}
	resp := &responder{t: d.t, internalInvokeID: internalInvokeID, serviceChoice: hdr.ServiceChoice}
	h(peer, internalInvokeID, body, resp)
}

type responder struct {
	t                *tsm.TSM
	internalInvokeID byte
	serviceChoice    byte
}

func (r *responder) Ack(body []byte) {
	_ = r.t.SendComplexAckResponse(r.internalInvokeID, r.serviceChoice, body)
}

func (r *responder) SimpleAck() {
	r.t.SendSimpleAck(r.internalInvokeID, r.serviceChoice)
}

func (r *responder) Error(errorClass, errorCode byte) {
	r.t.SendErrorResponse(r.internalInvokeID, r.serviceChoice, []byte{errorClass, errorCode})
}

func (r *responder) Reject(reason byte) {
	r.t.SendReject(r.internalInvokeID, reason)
}

func (r *responder) Abort(reason byte) {
	r.t.SendAbort(r.internalInvokeID, reason, true)
}
