package emu

import (
	"testing"
	"time"

	"github.com/emberemu/ember/gui"
	"github.com/emberemu/ember/sched"
)

// ticks drives the pacing event n times with the synthetic clock advancing
// step of wall time per tick.
func ticks(m *Machine, now *time.Time, n int, step time.Duration) {
	for i := 0; i < n; i++ {
		*now = now.Add(step)
		m.throttleTick(sched.SlotThrottle)
	}
}

func TestSpeedMeasurement(t *testing.T) {
	m := testMachine(t, nil)
	m.throttleTimerOff() // no wall-clock pacing under the synthetic clock

	now := time.Unix(100, 0)
	m.throttle.now = func() time.Time { return now }
	m.throttle.prev = now
	m.throttle.prevIntervals = m.throttle.intervals

	// 100 pacing periods per wall second is real time
	ticks(m, &now, 100, 10*time.Millisecond)
	if s := m.Speed(); s < 0.99 || s > 1.01 {
		t.Errorf("speed = %v, want 1.0", s)
	}

	// half rate: each period takes twice its wall budget
	ticks(m, &now, 50, 20*time.Millisecond)
	if s := m.Speed(); s < 0.49 || s > 0.51 {
		t.Errorf("speed = %v, want 0.5", s)
	}

	// measurement windows are independent: back to full speed promptly
	ticks(m, &now, 100, 10*time.Millisecond)
	if s := m.Speed(); s < 0.99 || s > 1.01 {
		t.Errorf("speed = %v after recovery, want 1.0", s)
	}
}

func TestSpeedNeedsHalfSecondWindow(t *testing.T) {
	front := &recordFront{}
	m := testMachine(t, func(cfg *Config) { cfg.Frontend = front })
	m.throttleTimerOff()

	now := time.Unix(100, 0)
	m.throttle.now = func() time.Time { return now }
	m.throttle.prev = now
	m.throttle.prevIntervals = m.throttle.intervals
	front.speeds = nil

	ticks(m, &now, 49, 10*time.Millisecond) // 490ms: below the window
	if len(front.speeds) != 0 {
		t.Errorf("speed reported too early: %v", front.speeds)
	}
	ticks(m, &now, 1, 10*time.Millisecond)
	if len(front.speeds) != 1 {
		t.Errorf("speed not reported at the window edge: %v", front.speeds)
	}
}

func TestThrottleScheduledOnMasterClock(t *testing.T) {
	m := testMachine(t, nil)
	before := m.throttle.intervals
	// run the schedule forward one pacing period without dispatching
	m.Sched.Consume(-m.Sched.Budget())
	m.Sched.ProcessPending()
	if m.throttle.intervals != before+1 {
		t.Errorf("intervals = %d, want %d", m.throttle.intervals, before+1)
	}
}

// orderFront records the order of frontend calls within a tick.
type orderFront struct {
	gui.Null
	calls []string
}

func (f *orderFront) Pump(bool)         { f.calls = append(f.calls, "pump") }
func (f *orderFront) ShowSpeed(float64) { f.calls = append(f.calls, "speed") }

func TestSpeedReportedBeforePump(t *testing.T) {
	front := &orderFront{}
	m := testMachine(t, func(cfg *Config) { cfg.Frontend = front })
	m.throttleTimerOff()

	now := time.Unix(100, 0)
	m.throttle.now = func() time.Time { return now }
	m.throttle.prev = now
	m.throttle.prevIntervals = m.throttle.intervals
	front.calls = nil

	ticks(m, &now, 1, 500*time.Millisecond)
	if len(front.calls) != 2 || front.calls[0] != "speed" || front.calls[1] != "pump" {
		t.Errorf("frontend call order = %v, want [speed pump]", front.calls)
	}
}

func TestThrottleGate(t *testing.T) {
	m := testMachine(t, nil)
	m.throttleTimerOff() // waits become countable no-ops

	now := time.Unix(100, 0)
	m.throttle.now = func() time.Time { return now }
	m.throttle.prev = now

	// running ahead of the target: pacing engages
	m.throttle.speed = 2.0
	ticks(m, &now, 1, time.Millisecond)
	if m.throttle.waits != 1 {
		t.Errorf("waits = %d, want 1", m.throttle.waits)
	}

	// well below the target: no point slowing down further
	m.throttle.speed = 0.5
	ticks(m, &now, 1, time.Millisecond)
	if m.throttle.waits != 1 {
		t.Errorf("waits = %d after slow tick, want 1", m.throttle.waits)
	}

	// turbo bypasses pacing no matter the speed
	m.SetTurbo(true)
	m.throttle.speed = 2.0
	ticks(m, &now, 1, time.Millisecond)
	if m.throttle.waits != 1 {
		t.Errorf("waits = %d under turbo, want 1", m.throttle.waits)
	}
}
