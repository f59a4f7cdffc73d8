// Package sched implements the single tick() entry point that fans out to
// every periodic subsystem, spec.md component J.
package sched

// Ticker is anything that advances by a number of elapsed milliseconds.
type Ticker interface {
	Tick(elapsedMs int)
}

// SecondTicker is anything that advances by a number of elapsed seconds
// (address-cache and FDT aging only need second precision, spec.md 4.J).
type SecondTicker interface {
	TimerTick(elapsedSeconds int)
}

// Scheduler fans a single millisecond-granularity tick out to the TSM,
// the MS/TP port (when polled rather than interrupt-driven), and the
// second-granularity maintenance of the address cache and BBMD, spec.md
// 4.J "Scheduling & timers".
type Scheduler struct {
	msTickers  []Ticker
	secTickers []SecondTicker

	accumulatedMs int
}

// New builds an empty Scheduler; wire subsystems with AddMillisecondTicker
// and AddSecondTicker.
func New() *Scheduler { return &Scheduler{} }

// AddMillisecondTicker registers a subsystem driven at full tick resolution
// (TSM timers, MS/TP silence/token timers).
func (s *Scheduler) AddMillisecondTicker(t Ticker) {
	s.msTickers = append(s.msTickers, t)
}

// AddSecondTicker registers a subsystem that only needs second-granularity
// aging (address-cache TTL, BBMD FDT grace period).
func (s *Scheduler) AddSecondTicker(t SecondTicker) {
	s.secTickers = append(s.secTickers, t)
}

// Tick advances every registered subsystem by elapsedMs, spec.md 4.J: "No
// component reads a global clock directly."
func (s *Scheduler) Tick(elapsedMs int) {
	for _, t := range s.msTickers {
		t.Tick(elapsedMs)
	}
	s.accumulatedMs += elapsedMs
	for s.accumulatedMs >= 1000 {
		s.accumulatedMs -= 1000
		for _, t := range s.secTickers {
			t.TimerTick(1)
		}
	}
}
