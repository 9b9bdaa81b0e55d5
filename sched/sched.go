// Package sched implements the event scheduler driving all time-based
// activity in the emulated machine. Every periodic or one-shot hardware
// event lives in a fixed slot and fires in deadline order. The scheduler
// also owns the cycle budget: the (usually negative) number of CPU cycles
// remaining before the next scheduled event must run. Execution consumes
// the budget through Consume; the budget must be re-derived with
// UpdateNextEvent whenever events were processed, because a fired event may
// itself schedule something sooner.
package sched

import (
	"bytes"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Clock identifies one clock domain.
type Clock int32

const (
	ClockCPU Clock = iota
	ClockAHB
	Clock27M
	Clock32K
	numClocks
)

// Slot identifies one scheduler item. Slots are fixed so that re-arming an
// item on reset can never create a duplicate. SlotThrottle is reserved for
// the pacing unit.
type Slot int32

const (
	SlotThrottle Slot = iota
	SlotTimers
	SlotWatchdog
	SlotDisplay
	SlotUSB
	NumSlots
)

// Proc is an event callback. It runs on the emulation thread and may
// reschedule its own slot or any other.
type Proc func(slot Slot)

// default clock rates in Hz
const (
	rateCPU = 90000000
	rateAHB = rateCPU / 2
	rate27M = 27000000
	rate32K = 32768
)

type item struct {
	proc     Proc
	clock    Clock
	active   bool
	deadline uint64 // absolute, in CPU cycles
	period   uint32 // ticks of the item clock; 0 = one-shot
}

// Scheduler is a priority-ordered set of periodic timers. Not safe for
// concurrent use: it belongs to the emulation thread.
type Scheduler struct {
	rates [numClocks]uint32
	items [NumSlots]item

	// base is the absolute cycle count at which delta crosses zero, i.e.
	// the earliest pending deadline. delta is the cycle budget relative to
	// base; execution proceeds only while it is negative.
	base  uint64
	delta int32
}

// New returns a scheduler with every item disabled and default clock rates.
func New() *Scheduler {
	s := &Scheduler{}
	s.Reset()
	return s
}

// Reset disables all pending items and rewinds the timeline. The throttle
// item (and any other standing item) must be re-armed by its owner
// afterwards.
func (s *Scheduler) Reset() {
	s.rates = [numClocks]uint32{rateCPU, rateAHB, rate27M, rate32K}
	for i := range s.items {
		s.items[i].active = false
		s.items[i].deadline = 0
		s.items[i].period = 0
	}
	s.base = 0
	s.delta = 0
}

// Register installs the callback and clock domain for a slot without
// scheduling it. Owners call this at initialization, after Reset, and after
// Resume (procs are never serialized).
func (s *Scheduler) Register(slot Slot, clock Clock, proc Proc) {
	s.items[slot].clock = clock
	s.items[slot].proc = proc
}

// now returns the absolute cycle position of execution.
func (s *Scheduler) now() uint64 {
	return uint64(int64(s.base) + int64(s.delta))
}

// cycles converts ticks of a clock domain into CPU cycles, rounding up so a
// deadline is never early.
func (s *Scheduler) cycles(clock Clock, ticks uint32) uint64 {
	cpu := uint64(s.rates[ClockCPU])
	r := uint64(s.rates[clock])
	return (uint64(ticks)*cpu + r - 1) / r
}

// Repeat schedules the slot to fire after interval ticks of its clock
// domain, relative to now, and again every interval after that until
// Cancel or Reset.
func (s *Scheduler) Repeat(slot Slot, interval uint32) {
	it := &s.items[slot]
	it.period = interval
	it.deadline = s.now() + s.cycles(it.clock, interval)
	it.active = true
}

// Once schedules a single firing after interval ticks of the slot's clock.
func (s *Scheduler) Once(slot Slot, interval uint32) {
	it := &s.items[slot]
	it.period = 0
	it.deadline = s.now() + s.cycles(it.clock, interval)
	it.active = true
}

// Cancel deactivates a slot without clearing its registration.
func (s *Scheduler) Cancel(slot Slot) {
	s.items[slot].active = false
}

// Budget returns the cycle budget. Execution may run instructions only
// while it is negative.
func (s *Scheduler) Budget() int32 {
	return s.delta
}

// Consume charges n executed cycles against the budget.
func (s *Scheduler) Consume(n int32) {
	s.delta += n
}

// UpdateNextEvent re-derives the cycle budget from the earliest pending
// deadline. With nothing pending the horizon is pushed far enough out that
// the budget still forces periodic returns to the loop.
func (s *Scheduler) UpdateNextEvent() {
	const idleHorizon = 1 << 24 // cycles; keeps delta well inside int32
	now := s.now()
	next := now + idleHorizon
	for i := range s.items {
		it := &s.items[i]
		if it.active && it.deadline < next {
			next = it.deadline
		}
	}
	s.base = next
	s.delta = int32(int64(now) - int64(next))
}

// ProcessPending fires every item whose deadline has elapsed, in deadline
// order, then re-derives the budget. Fired procs may reschedule, so the
// due-item scan restarts after every firing.
func (s *Scheduler) ProcessPending() {
	for {
		now := s.now()
		best := Slot(-1)
		var bestDeadline uint64
		for i := range s.items {
			it := &s.items[i]
			if it.active && it.deadline <= now {
				if best < 0 || it.deadline < bestDeadline {
					best = Slot(i)
					bestDeadline = it.deadline
				}
			}
		}
		if best < 0 {
			break
		}
		it := &s.items[best]
		if it.period != 0 {
			it.deadline += s.cycles(it.clock, it.period)
		} else {
			it.active = false
		}
		if it.proc != nil {
			it.proc(best)
		}
	}
	s.UpdateNextEvent()
}

// Pending reports whether the budget has been exhausted and events are due.
func (s *Scheduler) Pending() bool {
	return s.delta >= 0
}

// state is the serialized form of the scheduler. Callbacks are not part of
// it; owners re-register them after Resume.
type state struct {
	RateCPU uint32
	RateAHB uint32
	Rate27M uint32
	Rate32K uint32
	Base    uint64
	Delta   int32
	Count   uint32
}

type itemState struct {
	Clock    int32
	Active   uint8
	Deadline uint64
	Period   uint32
}

// Suspend writes the pending-event schedule to w.
func (s *Scheduler) Suspend(w io.Writer) error {
	st := state{
		RateCPU: s.rates[ClockCPU],
		RateAHB: s.rates[ClockAHB],
		Rate27M: s.rates[Clock27M],
		Rate32K: s.rates[Clock32K],
		Base:    s.base,
		Delta:   s.delta,
		Count:   uint32(NumSlots),
	}
	if err := struc.Pack(w, &st); err != nil {
		return errors.Wrap(err, "failed to pack scheduler state")
	}
	for i := range s.items {
		it := &s.items[i]
		is := itemState{Clock: int32(it.clock), Deadline: it.deadline, Period: it.period}
		if it.active {
			is.Active = 1
		}
		if err := struc.Pack(w, &is); err != nil {
			return errors.Wrapf(err, "failed to pack scheduler item %d", i)
		}
	}
	return nil
}

// Resume restores the pending-event schedule from r. Callbacks must be
// re-registered by their owners afterwards.
func (s *Scheduler) Resume(r io.Reader) error {
	var st state
	if err := struc.Unpack(r, &st); err != nil {
		return errors.Wrap(err, "failed to unpack scheduler state")
	}
	if st.Count != uint32(NumSlots) {
		return errors.Errorf("scheduler state has %d slots, want %d", st.Count, NumSlots)
	}
	s.rates = [numClocks]uint32{st.RateCPU, st.RateAHB, st.Rate27M, st.Rate32K}
	s.base = st.Base
	s.delta = st.Delta
	for i := range s.items {
		var is itemState
		if err := struc.Unpack(r, &is); err != nil {
			return errors.Wrapf(err, "failed to unpack scheduler item %d", i)
		}
		it := &s.items[i]
		it.clock = Clock(is.Clock)
		it.active = is.Active != 0
		it.deadline = is.Deadline
		it.period = is.Period
	}
	return nil
}

// Equal compares the observable schedule of two schedulers. Used by
// suspend/resume tests.
func (s *Scheduler) Equal(o *Scheduler) bool {
	var a, b bytes.Buffer
	if s.Suspend(&a) != nil || o.Suspend(&b) != nil {
		return false
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}
