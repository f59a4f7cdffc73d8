// Package datalink defines the driver contract the core consumes from a
// concrete transport (BACnet/IP, Ethernet, ARCNET, MS/TP UART), per spec.md
// §6 "Datalink driver contract (consumed)". Concrete drivers are external
// collaborators; this package only pins the interface.
package datalink

import (
	"context"
	"time"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// Driver is the capability set every datalink must provide.
type Driver interface {
	// Send transmits npduBytes (NPCI+APDU) to destination and returns the
	// number of bytes placed on the wire.
	Send(destination npdu.Address, npduBytes []byte) (int, error)

	// Receive blocks up to timeout for one inbound frame, returning its
	// source address and NPDU payload. A zero-length result with a nil
	// error indicates the timeout elapsed with nothing received.
	Receive(ctx context.Context, timeout time.Duration) (source npdu.Address, pdu []byte, err error)

	// BroadcastAddress returns the address used to reach every local peer.
	BroadcastAddress() npdu.Address

	// MyAddress returns this node's own datalink address.
	MyAddress() npdu.Address

	// Cleanup releases any OS resources (sockets, file descriptors, serial
	// ports) the driver holds.
	Cleanup() error
}

// ByteDriver is the additional capability set an MS/TP port requires of its
// UART, per spec.md §6: "For MS/TP specifically: baud-rate, read,
// transmitting, silence-milliseconds, silence-reset".
type ByteDriver interface {
	// ReadByte reports one received byte, or ok=false if none is pending.
	ReadByte() (b byte, ok bool)
	// SendFrame writes raw MS/TP frame bytes to the wire.
	SendFrame(frame []byte) error
	// Transmitting reports whether the UART is still shifting out a frame.
	Transmitting() bool
	// BaudRate gets/sets the configured bit rate.
	BaudRate() int
	SetBaudRate(bps int)
	// SilenceMilliseconds reports elapsed time since the last received or
	// transmitted byte.
	SilenceMilliseconds() uint32
	// ResetSilence zeroes the silence timer (a byte was just seen or sent).
	ResetSilence()
}
