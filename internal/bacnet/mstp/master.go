package mstp

// MasterState is the token-passing master-node FSM state, spec.md 4.G
// "Master FSM".
type MasterState int

const (
	MasterInitialize MasterState = iota
	MasterIdle
	MasterUseToken
	MasterWaitForReply
	MasterDoneWithToken
	MasterPassToken
	MasterNoToken
	MasterPollForMaster
	MasterAnswerDataRequest
)

// Timers, spec.md 4.G "Timers", expressed in milliseconds.
const (
	FrameAbortTimeoutMs = 100 // Tframe-abort, clamped from ~60 bit times
	UsageTimeoutMinMs   = 20  // Tusage-timeout lower bound
	UsageTimeoutMaxMs   = 100 // Tusage-timeout upper bound
	NoTokenTimeoutMs    = 500 // Tno-token, conservative default per 9.5.3
	ReplyDelayMs        = 250 // Treply-delay
)

// OutgoingFrame is one queued info frame awaiting transmission when this
// station next holds the token.
type OutgoingFrame struct {
	Frame          Frame
	ExpectingReply bool
}

// Driver is the pluggable hardware/transport contract a Port uses to place
// bytes on the wire and learn the bus's idle state, spec.md 3 "MS/TP port
// ... pluggable driver callbacks".
type Driver interface {
	SendFrame(buf []byte) error
	Transmitting() bool
}

// Port holds one MS/TP station's complete state, spec.md 3 "MS/TP port".
type Port struct {
	ThisStation     byte // 0..127 master, 128..254 slave
	NmaxMaster      byte
	NmaxInfoFrames  int
	NextStation     byte
	PollStation     byte
	SoleMaster      bool
	TokenCount      int
	EventCount      int
	FrameCount      int

	driver Driver
	rx     *Receiver

	MasterState MasterState

	silenceMs       int
	replyPostponedTimer int

	sendQueue []OutgoingFrame
	replyQueue []OutgoingFrame // pending replies matched by ReplyMatches

	// lastReceivedDER records the most recent data-expecting-reply frame for
	// reply-matching, spec.md 4.G "Reply matching".
	lastReceivedDER *Frame
}

// NewPort builds a Port for thisStation driving frames through driver and
// fed received bytes through rx.
func NewPort(thisStation byte, driver Driver, rx *Receiver) *Port {
	p := &Port{
		ThisStation:    thisStation,
		NmaxMaster:     127,
		NmaxInfoFrames: 1,
		NextStation:    thisStation,
		PollStation:    thisStation,
		driver:         driver,
		rx:             rx,
		MasterState:    MasterInitialize,
	}
	rx.SilenceReset = func() { p.silenceMs = 0 }
	return p
}

// Enqueue schedules an outbound info frame to be sent the next time this
// station holds the token.
func (p *Port) Enqueue(f Frame, expectingReply bool) {
	p.sendQueue = append(p.sendQueue, OutgoingFrame{Frame: f, ExpectingReply: expectingReply})
}

// EnqueueReply schedules an outbound reply for later matching against an
// inbound data-expecting-reply frame.
func (p *Port) EnqueueReply(f Frame) {
	p.replyQueue = append(p.replyQueue, OutgoingFrame{Frame: f})
}

// Tick advances silence bookkeeping and the master FSM by elapsedMs,
// consuming the receive FSM's edge-triggered flags.
func (p *Port) Tick(elapsedMs int) {
	p.silenceMs += elapsedMs

	// Tframe-abort: a frame that stalled mid-reception (no further bytes)
	// is abandoned rather than blocking the receiver forever, spec.md 4.G
	// "Frame-abort timeout".
	if p.rx.State != ReceiveIdle && p.silenceMs > FrameAbortTimeoutMs {
		p.rx.Reset()
	}

	if valid, ok := p.rx.ConsumeValid(); ok {
		p.handleFrame(valid)
	}
	if p.rx.ConsumeInvalid() && p.MasterState == MasterPassToken {
		// A framing error right after a token pass is still evidence the
		// bus is in use, i.e. that the successor took over.
		p.MasterState = MasterIdle
		p.silenceMs = 0
	}

	switch p.MasterState {
	case MasterInitialize:
		p.MasterState = MasterIdle
	case MasterIdle:
		if p.silenceMs > NoTokenTimeoutMs {
			p.MasterState = MasterNoToken
		}
	case MasterUseToken, MasterDoneWithToken:
		// Resolved synchronously by useToken/doneWithToken the tick they're
		// entered; a later tick finding the FSM still here means the prior
		// call never advanced it (e.g. the driver failed silently), so
		// retry rather than wedge the port.
		p.doneWithToken()
	case MasterWaitForReply:
		if p.silenceMs > ReplyDelayMs {
			// Treply-timeout: give up waiting and move on as if a reply
			// (or its absence) had been handled, spec.md 4.G.
			p.doneWithToken()
		}
	case MasterPassToken:
		if p.silenceMs > p.usageTimeoutMs() {
			// Tusage-timeout: the successor never acknowledged the token by
			// transmitting anything, so retry with the next candidate
			// address, spec.md 4.G / spec.md §8 seed scenario 4.
			p.retryPassToken()
		}
	case MasterNoToken:
		if p.silenceMs > NoTokenTimeoutMs*2 {
			p.MasterState = MasterPollForMaster
			p.pollForMaster()
		}
	case MasterPollForMaster:
		if p.silenceMs > NoTokenTimeoutMs {
			p.SoleMaster = true
			p.NextStation = p.ThisStation
			p.MasterState = MasterIdle
		}
	case MasterAnswerDataRequest:
		if p.silenceMs > ReplyDelayMs {
			p.answerDataRequest()
		}
	}
}

func (p *Port) handleFrame(f Frame) {
	p.FrameCount++

	if p.MasterState == MasterPassToken {
		// Any bus activity after passing the token is evidence the
		// successor took over; no need to wait out the full
		// Tusage-timeout.
		p.MasterState = MasterIdle
		p.silenceMs = 0
	} else if p.MasterState == MasterWaitForReply {
		// This layer doesn't correlate reply content to the outstanding
		// request; any frame observed while waiting counts as the reply.
		p.doneWithToken()
	}

	switch f.Type {
	case FrameTypeToken:
		if f.Destination == p.ThisStation {
			p.TokenCount++
			p.MasterState = MasterUseToken
			p.useToken()
		}
	case FrameTypePollForMaster:
		if f.Destination == p.ThisStation {
			reply := Frame{Type: FrameTypeReplyToPollForMaster, Destination: f.Source, Source: p.ThisStation}
			_ = p.driver.SendFrame(encodeTo(reply))
		}
	case FrameTypeReplyToPollForMaster:
		if p.MasterState == MasterPollForMaster {
			p.NextStation = f.Source
			p.MasterState = MasterIdle
			p.silenceMs = 0
		}
	case FrameTypeBACnetDataExpectingReply:
		if f.Destination == p.ThisStation {
			cp := f
			p.lastReceivedDER = &cp
			p.MasterState = MasterAnswerDataRequest
			p.silenceMs = 0
		}
	case FrameTypeBACnetDataNotExpectingReply:
		// Delivered to upper layers by the embedder reading rx's decoded data.
	case FrameTypeReplyPostponed:
	}
}

func (p *Port) pollForMaster() {
	next := nextCandidate(p.ThisStation, p.NmaxMaster)
	f := Frame{Type: FrameTypePollForMaster, Destination: next, Source: p.ThisStation}
	_ = p.driver.SendFrame(encodeTo(f))
}

func nextCandidate(station, nmaxMaster byte) byte {
	n := station + 1
	if n > nmaxMaster {
		n = 0
	}
	return n
}

// useToken implements spec.md 4.G "On token reception with matching
// destination": send a queued info frame, or pass the token onward.
func (p *Port) useToken() {
	p.MasterState = MasterUseToken
	if len(p.sendQueue) > 0 && p.FrameCount <= p.NmaxInfoFrames {
		out := p.sendQueue[0]
		p.sendQueue = p.sendQueue[1:]
		_ = p.driver.SendFrame(encodeTo(out.Frame))
		if out.ExpectingReply {
			p.MasterState = MasterWaitForReply
			p.silenceMs = 0
			return
		}
	}
	p.passToken()
}

// doneWithToken implements spec.md 4.G "DoneWithToken": having sent or
// received a reply for the outstanding info frame (or given up waiting for
// one), either use the token again for the next queued frame or pass it on.
func (p *Port) doneWithToken() {
	p.MasterState = MasterDoneWithToken
	p.useToken()
}

// passToken sends the token to NextStation and parks in MasterPassToken to
// wait up to Tusage-timeout for evidence the successor took over, spec.md
// 4.G "Pass Token".
func (p *Port) passToken() {
	p.MasterState = MasterPassToken
	f := Frame{Type: FrameTypeToken, Destination: p.NextStation, Source: p.ThisStation}
	_ = p.driver.SendFrame(encodeTo(f))
	p.silenceMs = 0
}

// retryPassToken implements spec.md 4.G / spec.md §8 seed scenario 4:
// Tusage-timeout elapsed with no evidence NextStation is alive, so retry
// with the next candidate address, wrapping at NmaxMaster. Once the
// candidate sequence wraps all the way back to ThisStation, every other
// address has been tried without success and this station becomes sole
// master of its own token.
func (p *Port) retryPassToken() {
	next := nextCandidate(p.NextStation, p.NmaxMaster)
	if next == p.ThisStation {
		p.SoleMaster = true
		p.NextStation = p.ThisStation
		p.MasterState = MasterIdle
		p.silenceMs = 0
		return
	}
	p.NextStation = next
	f := Frame{Type: FrameTypeToken, Destination: p.NextStation, Source: p.ThisStation}
	_ = p.driver.SendFrame(encodeTo(f))
	p.silenceMs = 0
}

// usageTimeoutMs picks a value between UsageTimeoutMinMs and
// UsageTimeoutMaxMs, clause 9.5.1's Tusage_timeout range. Deriving it from
// the candidate address rather than a random source keeps a Port's timing
// deterministic for tests while still spreading distinct candidates'
// timeouts across the allowed range.
func (p *Port) usageTimeoutMs() int {
	span := UsageTimeoutMaxMs - UsageTimeoutMinMs
	return UsageTimeoutMinMs + int(p.NextStation)%(span+1)
}

// answerDataRequest implements spec.md 4.G "answer-data-request": reply from
// the matched queue entry, or a reply-postponed frame if none matches.
func (p *Port) answerDataRequest() {
	if p.lastReceivedDER == nil {
		p.MasterState = MasterIdle
		return
	}
	if idx, ok := p.matchReply(*p.lastReceivedDER); ok {
		out := p.replyQueue[idx]
		p.replyQueue = append(p.replyQueue[:idx], p.replyQueue[idx+1:]...)
		_ = p.driver.SendFrame(encodeTo(out.Frame))
	} else {
		reply := Frame{Type: FrameTypeReplyPostponed, Destination: p.lastReceivedDER.Source, Source: p.ThisStation}
		_ = p.driver.SendFrame(encodeTo(reply))
	}
	p.lastReceivedDER = nil
	p.MasterState = MasterIdle
	p.silenceMs = 0
}

// matchReply implements spec.md 4.G "Reply matching": same peer (by MS/TP
// station address, which stands in for the NPDU source/destination
// semantics at this layer) as the most recently received DER.
func (p *Port) matchReply(der Frame) (int, bool) {
	for i, candidate := range p.replyQueue {
		if candidate.Frame.Destination == der.Source {
			return i, true
		}
	}
	return 0, false
}

func encodeTo(f Frame) []byte {
	buf := make([]byte, EncodeLen(f))
	Encode(buf, f)
	return buf
}
