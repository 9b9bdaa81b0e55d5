package emu

import (
	"time"

	"github.com/emberemu/ember/sched"
)

// The pacing event fires 100 times per emulated second, counted on the
// 27 MHz master clock.
const (
	throttleHz    = 100
	masterClock   = 27000000
	throttleTicks = masterClock / throttleHz
)

var timeNow = time.Now

// throttle is the wall-clock pacing state. intervals counts emulated pacing
// periods; speed compares their rate against wall time.
type throttle struct {
	intervals     uint32
	prevIntervals uint32
	prev          time.Time
	speed         float64
	waits         uint32

	now  func() time.Time // swapped out by tests
	tick *time.Ticker
}

// armThrottle (re-)schedules the pacing event. Called at cold boot and after
// every reset. After a snapshot resume only registerThrottle is needed: the
// schedule itself was restored with the scheduler state.
func (m *Machine) armThrottle() {
	m.registerThrottle()
	m.Sched.Repeat(sched.SlotThrottle, throttleTicks)
}

func (m *Machine) registerThrottle() {
	m.Sched.Register(sched.SlotThrottle, sched.Clock27M, m.throttleTick)
}

// throttleTick is the pacing event. Besides pacing it is the loop's only
// recurring hook, so all the once-per-tick housekeeping lives here: frontend
// pumping, input draining, remote debug polling, and the USB link clock.
func (m *Machine) throttleTick(sched.Slot) {
	t := &m.throttle
	t.intervals++

	for {
		c := m.front.Getchar()
		if c < 0 {
			break
		}
		m.serialIn(byte(c))
	}
	if m.gdb != nil {
		m.gdb.Recv()
	}
	if m.rdbg != nil {
		m.rdbg.Recv()
	}
	m.Usb.Timer()
	m.Usb.QueueDo()

	// re-measure speed over at least half a second of wall time so the
	// figure is stable
	end := t.now()
	if dur := end.Sub(t.prev); dur >= 500*time.Millisecond {
		t.speed = float64(t.intervals-t.prevIntervals) * float64(time.Second/throttleHz) / float64(dur)
		m.front.ShowSpeed(t.speed)
		t.prevIntervals = t.intervals
		t.prev = end
	}

	m.front.Pump(false)

	// don't throttle when already running well below real time
	if !m.Turbo() && t.speed > 0.7 {
		m.throttleWait()
	}
}

// throttleTimerOn starts the wall-clock side of pacing. Speed measurement
// restarts from here so time spent suspended or paused is not counted.
func (m *Machine) throttleTimerOn() {
	t := &m.throttle
	t.prev = t.now()
	t.prevIntervals = t.intervals
	if t.tick == nil {
		t.tick = time.NewTicker(time.Second / throttleHz)
	}
}

func (m *Machine) throttleTimerOff() {
	t := &m.throttle
	if t.tick != nil {
		t.tick.Stop()
		t.tick = nil
	}
}

// throttleWait blocks until the next wall-clock pacing edge.
func (m *Machine) throttleWait() {
	m.throttle.waits++
	if m.throttle.tick == nil {
		return
	}
	<-m.throttle.tick.C
}
