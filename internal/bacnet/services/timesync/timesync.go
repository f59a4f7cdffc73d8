// Package timesync implements the TimeSynchronization and
// UTCTimeSynchronization unconfirmed services, clause 13.11-13.12.
// Grounded on the original implementation's handler_timesync /
// handler_timesync_utc pair (basic/service/h_ts.c): decode a date/time,
// reject anything with a wildcard field, and hand the rest to an
// installed callback tagged with whether it came in as UTC.
package timesync

import "github.com/krisarmstrong/bacnet-go/internal/bacnet/encoding"

// Request is the decoded body of a TimeSynchronization or
// UTCTimeSynchronization request: a BACnetDateTime with no wildcard fields.
type Request struct {
	Date encoding.Date
	Time encoding.Time
}

// EncodeRequest builds a TimeSynchronization service body.
func EncodeRequest(buf []byte, r Request) int {
	n := encoding.EncodeApplicationDate(buf, r.Date)
	if buf != nil {
		n += encoding.EncodeApplicationTime(buf[n:], r.Time)
	} else {
		n += encoding.EncodeApplicationTime(nil, r.Time)
	}
	return n
}

// DecodeRequest parses a TimeSynchronization service body.
func DecodeRequest(body []byte) (Request, error) {
	dateVal, n, err := encoding.DecodeApplicationData(body)
	if err != nil {
		return Request{}, err
	}
	timeVal, _, err := encoding.DecodeApplicationData(body[n:])
	if err != nil {
		return Request{}, err
	}
	return Request{Date: dateVal.Date, Time: timeVal.Time}, nil
}

// IsSpecific reports whether a date/time carries no wildcard field, the
// original's datetime_is_valid check: a wildcard date/time describes a
// recurring moment, not a synchronization instant.
func IsSpecific(r Request) bool {
	d, t := r.Date, r.Time
	return d.Year >= 0 && d.Month <= 12 && d.Day <= 31 && d.DayOfWeek <= 7 &&
		t.Hour <= 23 && t.Minute <= 59 && t.Second <= 59 && t.Hundredths <= 99
}

// SetFunc is invoked with a validated synchronization request; utc
// distinguishes UTCTimeSynchronization (service choice 9) from local
// TimeSynchronization (service choice 6).
type SetFunc func(r Request, utc bool)

// Handler dispatches inbound TimeSynchronization/UTCTimeSynchronization
// requests to a single callback, mirroring handler_timesync_set_callback.
type Handler struct {
	OnSet SetFunc
}

// HandleLocal processes a TimeSynchronization-Request body.
func (h *Handler) HandleLocal(body []byte) error {
	return h.handle(body, false)
}

// HandleUTC processes a UTCTimeSynchronization-Request body.
func (h *Handler) HandleUTC(body []byte) error {
	return h.handle(body, true)
}

func (h *Handler) handle(body []byte, utc bool) error {
	r, err := DecodeRequest(body)
	if err != nil {
		return err
	}
	if !IsSpecific(r) {
		return nil
	}
	if h.OnSet != nil {
		h.OnSet(r, utc)
	}
	return nil
}
